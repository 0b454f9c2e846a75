package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedPayload is returned for relayed-call payloads shorter than the
// structure they declare.
var ErrMalformedPayload = errors.New("malformed call payload")

// FillOrderSelector identifies a fill-order payload: the first four bytes of
// the keccak256 of the canonical call signature, the same derivation every
// signed payload in the wild uses.
var FillOrderSelector = [4]byte(ethcrypto.Keccak256([]byte("fillOrder(address[6],uint256[6],uint256,bytes)"))[:4])

// Fixed payload layout, offsets in bytes:
//
//	selector        4
//	6 addresses     6 * 20  (sender, maker, taker, makerAsset, takerAsset, feeRecipient)
//	6 uint256       6 * 32  (makerAmount, takerAmount, makerFee, takerFee, expiration, salt)
//	fill amount     32
//	signature len   4 (big-endian)
//	signature       sigLen  (V || R || S)
//
// Field order and widths must be preserved exactly for interoperability with
// already-signed payloads.
const (
	selectorLen       = 4
	orderAddressCount = 6
	orderAmountCount  = 6
	fillOrderFixedLen = selectorLen +
		orderAddressCount*common.AddressLength +
		orderAmountCount*common.HashLength +
		common.HashLength + // fill amount
		4 // signature length prefix
)

// FillOrderArgs is the typed form of a decoded fill-order payload.
type FillOrderArgs struct {
	Order                *Order
	TakerAssetFillAmount *big.Int
	Signature            Signature
}

// PayloadSelector returns the 4-byte selector of a payload, false if the
// payload is too short to carry one.
func PayloadSelector(payload []byte) ([4]byte, bool) {
	var sel [4]byte
	if len(payload) < selectorLen {
		return sel, false
	}
	copy(sel[:], payload[:selectorLen])
	return sel, true
}

// DecodeFillOrderArgs unpacks a fill-order payload into its typed invocation.
func DecodeFillOrderArgs(payload []byte) (*FillOrderArgs, error) {
	if len(payload) < fillOrderFixedLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(payload), fillOrderFixedLen)
	}
	sel, _ := PayloadSelector(payload)
	if sel != FillOrderSelector {
		return nil, fmt.Errorf("%w: selector %x is not fillOrder", ErrMalformedPayload, sel)
	}

	off := selectorLen
	readAddr := func() common.Address {
		a := common.BytesToAddress(payload[off : off+common.AddressLength])
		off += common.AddressLength
		return a
	}
	readAmount := func() *big.Int {
		v := new(big.Int).SetBytes(payload[off : off+common.HashLength])
		off += common.HashLength
		return v
	}

	order := &Order{
		SenderAddress:       readAddr(),
		MakerAddress:        readAddr(),
		TakerAddress:        readAddr(),
		MakerAssetAddress:   readAddr(),
		TakerAssetAddress:   readAddr(),
		FeeRecipientAddress: readAddr(),
	}
	order.MakerAssetAmount = readAmount()
	order.TakerAssetAmount = readAmount()
	order.MakerFeeAmount = readAmount()
	order.TakerFeeAmount = readAmount()
	order.ExpirationTimeSeconds = readAmount()
	order.Salt = readAmount()

	fillAmount := readAmount()

	sigLen := binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	if uint32(len(payload)-off) < sigLen {
		return nil, fmt.Errorf("%w: signature blob truncated (%d of %d bytes)", ErrMalformedPayload, len(payload)-off, sigLen)
	}
	sig, err := SignatureFromVRS(payload[off : off+int(sigLen)])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	return &FillOrderArgs{
		Order:                order,
		TakerAssetFillAmount: fillAmount,
		Signature:            sig,
	}, nil
}

// EncodeFillOrderArgs packs a fill-order invocation into the wire layout.
// Counterpart of DecodeFillOrderArgs, used by the signing CLI and relays.
func EncodeFillOrderArgs(order *Order, takerAssetFillAmount *big.Int, sig Signature) ([]byte, error) {
	buf := make([]byte, 0, fillOrderFixedLen+65)
	buf = append(buf, FillOrderSelector[:]...)

	for _, a := range []common.Address{
		order.SenderAddress,
		order.MakerAddress,
		order.TakerAddress,
		order.MakerAssetAddress,
		order.TakerAssetAddress,
		order.FeeRecipientAddress,
	} {
		buf = append(buf, a.Bytes()...)
	}
	for _, v := range []*big.Int{
		order.MakerAssetAmount,
		order.TakerAssetAmount,
		order.MakerFeeAmount,
		order.TakerFeeAmount,
		order.ExpirationTimeSeconds,
		order.Salt,
		takerAssetFillAmount,
	} {
		word, err := uint256Word(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, word[:]...)
	}

	sigBytes := sig.VRSBytes()
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(sigBytes)))
	buf = append(buf, lenPrefix[:]...)
	buf = append(buf, sigBytes...)
	return buf, nil
}
