package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// MetaTransactionGate lets a third party submit a pre-signed instruction on
// behalf of a signer. The signer authorizes one specific (nonce, payload)
// pair; the executed-transaction set makes each pair single-use.
type MetaTransactionGate struct {
	mu sync.Mutex

	core     *Core
	verifier SignatureVerifier

	// Logger is optional.
	Logger *zap.SugaredLogger
}

// NewMetaTransactionGate wraps core with replay-protected relayed execution.
func NewMetaTransactionGate(core *Core) *MetaTransactionGate {
	return &MetaTransactionGate{core: core}
}

// TransactionHash derives the replay-protection identity of a relayed call:
// keccak256(venue || nonce || payload). The venue address is bound in for the
// same reason it leads the order hash — a signed instruction must not replay
// across deployments.
func TransactionHash(venue common.Address, nonce *big.Int, payload []byte) (common.Hash, error) {
	nonceWord, err := uint256Word(nonce)
	if err != nil {
		return common.Hash{}, err
	}
	buf := make([]byte, 0, common.AddressLength+common.HashLength+len(payload))
	buf = append(buf, venue.Bytes()...)
	buf = append(buf, nonceWord[:]...)
	buf = append(buf, payload...)
	return ethcrypto.Keccak256Hash(buf), nil
}

// Execute runs a relayed, pre-signed payload on behalf of signer.
//
// Replays and bad signatures are hard failures with no state change. A payload
// with an unsupported selector is still marked executed but performs nothing —
// the signer burned that nonce on an instruction this venue does not handle.
// Fill-order payloads run with the signer as taker; a hard failure inside the
// fill unwinds the executed mark so the whole invocation leaves no state.
//
// Returns the transaction hash and, for fill-order payloads, the taker-side
// amount filled (nil for other payload kinds).
func (g *MetaTransactionGate) Execute(nonce *big.Int, signer common.Address, payload []byte, sig Signature) (common.Hash, *big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	txHash, err := TransactionHash(g.core.Venue(), nonce, payload)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("hash transaction: %w", err)
	}

	if g.core.Ledger().IsExecuted(txHash) {
		return txHash, nil, fmt.Errorf("%w: %s", ErrTransactionReplayed, txHash)
	}
	if !g.verifier.IsValidSignature(txHash, sig, signer) {
		return txHash, nil, fmt.Errorf("%w: transaction %s signer %s", ErrInvalidSignature, txHash, signer)
	}

	sel, ok := PayloadSelector(payload)
	if !ok {
		return txHash, nil, fmt.Errorf("%w: payload too short for a selector", ErrMalformedPayload)
	}

	if sel != FillOrderSelector {
		// Unsupported payload kinds are accepted and burned, not rejected.
		if err := g.core.Ledger().MarkExecuted(txHash); err != nil {
			return txHash, nil, err
		}
		if g.Logger != nil {
			g.Logger.Infow("metatx_unsupported_selector", "tx_hash", txHash.Hex(), "selector", fmt.Sprintf("%x", sel))
		}
		return txHash, nil, nil
	}

	args, err := DecodeFillOrderArgs(payload)
	if err != nil {
		return txHash, nil, err
	}

	if err := g.core.Ledger().MarkExecuted(txHash); err != nil {
		return txHash, nil, err
	}

	filled, err := g.core.FillOrder(args.Order, args.TakerAssetFillAmount, args.Signature, signer, signer)
	if err != nil {
		// Hard failure inside the fill: the executed mark must not survive an
		// invocation that changed nothing else.
		if uerr := g.core.Ledger().unmarkExecuted(txHash); uerr != nil {
			return txHash, nil, fmt.Errorf("unwind executed mark: %w (fill: %s)", uerr, err)
		}
		return txHash, nil, err
	}

	if g.Logger != nil {
		g.Logger.Infow("metatx_executed",
			"tx_hash", txHash.Hex(),
			"signer", signer.Hex(),
			"filled", filled.String())
	}
	return txHash, filled, nil
}
