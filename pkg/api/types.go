package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

// Request/response types for REST endpoints and WebSocket messages. Amounts
// travel as decimal strings (uint256 does not fit a JSON number), addresses
// and hashes as 0x-prefixed hex.

// OrderPayload is the JSON form of an order.
type OrderPayload struct {
	SenderAddress         string `json:"senderAddress"`
	MakerAddress          string `json:"makerAddress"`
	TakerAddress          string `json:"takerAddress"`
	MakerAssetAddress     string `json:"makerAssetAddress"`
	TakerAssetAddress     string `json:"takerAssetAddress"`
	FeeRecipientAddress   string `json:"feeRecipientAddress"`
	MakerAssetAmount      string `json:"makerAssetAmount"`
	TakerAssetAmount      string `json:"takerAssetAmount"`
	MakerFeeAmount        string `json:"makerFeeAmount"`
	TakerFeeAmount        string `json:"takerFeeAmount"`
	ExpirationTimeSeconds string `json:"expirationTimeSeconds"`
	Salt                  string `json:"salt"`
}

// SignaturePayload is the JSON form of a (v, r, s) signature.
type SignaturePayload struct {
	V uint8  `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// FillRequest is the payload for POST /api/v1/fills.
type FillRequest struct {
	Order                OrderPayload     `json:"order"`
	TakerAssetFillAmount string           `json:"takerAssetFillAmount"`
	TakerAddress         string           `json:"takerAddress"`
	SenderAddress        string           `json:"senderAddress"`
	Signature            SignaturePayload `json:"signature"`
}

// CancelRequest is the payload for POST /api/v1/cancels.
type CancelRequest struct {
	Order                  OrderPayload `json:"order"`
	TakerAssetCancelAmount string       `json:"takerAssetCancelAmount"`
	MakerAddress           string       `json:"makerAddress"`
	SenderAddress          string       `json:"senderAddress"`
}

// CancelUpToRequest is the payload for POST /api/v1/cancel-up-to.
type CancelUpToRequest struct {
	MakerAddress string `json:"makerAddress"`
	Salt         string `json:"salt"`
}

// ExecuteRequest is the payload for POST /api/v1/transactions: a pre-signed
// instruction relayed on behalf of signerAddress.
type ExecuteRequest struct {
	Nonce         string           `json:"nonce"`
	SignerAddress string           `json:"signerAddress"`
	Payload       string           `json:"payload"` // hex-encoded calldata
	Signature     SignaturePayload `json:"signature"`
}

// FillResponse reports the outcome of a fill or relayed execution.
type FillResponse struct {
	OrderHash    string `json:"orderHash,omitempty"`
	TxHash       string `json:"txHash,omitempty"`
	FilledAmount string `json:"filledAmount"`
}

// CancelResponse reports the outcome of a cancel.
type CancelResponse struct {
	OrderHash       string `json:"orderHash"`
	CancelledAmount string `json:"cancelledAmount"`
}

// CancelUpToResponse reports the new cancellation epoch.
type CancelUpToResponse struct {
	MakerAddress string `json:"makerAddress"`
	Epoch        string `json:"epoch"`
}

// OrderStateResponse is the ledger view of one order hash.
type OrderStateResponse struct {
	OrderHash         string `json:"orderHash"`
	FilledAmount      string `json:"filledAmount"`
	CancelledAmount   string `json:"cancelledAmount"`
	UnavailableAmount string `json:"unavailableAmount"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by clients to subscribe to channels, e.g.
// ["events", "events:fill"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// EventUpdate wraps an emitted record for the WebSocket stream.
type EventUpdate struct {
	Type string         `json:"type"` // "event"
	Data exchange.Event `json:"data"`
}

// ==============================
// Decoding helpers
// ==============================

func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func (p *OrderPayload) toOrder() (*exchange.Order, error) {
	order := &exchange.Order{}
	for _, f := range []struct {
		name string
		dst  *common.Address
		src  string
	}{
		{"senderAddress", &order.SenderAddress, p.SenderAddress},
		{"makerAddress", &order.MakerAddress, p.MakerAddress},
		{"takerAddress", &order.TakerAddress, p.TakerAddress},
		{"makerAssetAddress", &order.MakerAssetAddress, p.MakerAssetAddress},
		{"takerAssetAddress", &order.TakerAssetAddress, p.TakerAssetAddress},
		{"feeRecipientAddress", &order.FeeRecipientAddress, p.FeeRecipientAddress},
	} {
		addr, err := parseAddress(f.name, f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = addr
	}
	for _, f := range []struct {
		name string
		dst  **big.Int
		src  string
	}{
		{"makerAssetAmount", &order.MakerAssetAmount, p.MakerAssetAmount},
		{"takerAssetAmount", &order.TakerAssetAmount, p.TakerAssetAmount},
		{"makerFeeAmount", &order.MakerFeeAmount, p.MakerFeeAmount},
		{"takerFeeAmount", &order.TakerFeeAmount, p.TakerFeeAmount},
		{"expirationTimeSeconds", &order.ExpirationTimeSeconds, p.ExpirationTimeSeconds},
		{"salt", &order.Salt, p.Salt},
	} {
		v, err := parseAmount(f.name, f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return order, nil
}

func (p *SignaturePayload) toSignature() (exchange.Signature, error) {
	var sig exchange.Signature
	sig.V = p.V
	r, err := parseWord("r", p.R)
	if err != nil {
		return sig, err
	}
	s, err := parseWord("s", p.S)
	if err != nil {
		return sig, err
	}
	sig.R = r
	sig.S = s
	return sig, nil
}

func parseWord(field, s string) ([32]byte, error) {
	var word [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		return word, fmt.Errorf("invalid signature %s: %q", field, s)
	}
	copy(word[:], b)
	return word, nil
}
