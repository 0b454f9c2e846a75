package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/halcyondex/halcyon/pkg/util"
)

// Hard failures. Each aborts the whole invocation with no state change; soft
// outcomes (expired, exhausted, rounding, bulk-cancelled) instead return a
// zero amount with a nil error and an informational record.
var (
	ErrInvalidSignature = errors.New("invalid maker signature")
	ErrZeroOrderAmount  = errors.New("order amounts must be positive")
	ErrZeroFillAmount   = errors.New("fill amount must be positive")
	ErrZeroCancelAmount = errors.New("cancel amount must be positive")
	ErrInvalidSender    = errors.New("sender not authorized for this order")
	ErrInvalidTaker     = errors.New("taker not authorized for this order")
	ErrInvalidMaker     = errors.New("caller is not the order maker")
	ErrSettlementFailed = errors.New("settlement collaborator failed")
)

// SettlementResult reports what the settlement collaborator actually moved.
type SettlementResult struct {
	MakerAssetFilled *big.Int
	MakerFeePaid     *big.Int
	TakerFeePaid     *big.Int
}

// Settler performs the asset transfers for a fill: maker asset maker→taker,
// taker asset taker→maker, fees from both to the order's fee recipient. It
// must fail atomically — either every leg completes or none does — because a
// settler failure aborts the whole fill including the ledger update.
type Settler interface {
	Settle(order *Order, taker common.Address, takerAssetFilled *big.Int) (SettlementResult, error)
}

// Core is the order fill/cancel state machine. Per-order state is derived from
// ledger values, never stored: an order is terminal once filled+cancelled
// reaches its taker asset amount.
//
// All invocations are serialized: validation, ledger update and the settlement
// callback run as one uninterruptible unit per call, rolled back together if
// the settler fails.
type Core struct {
	mu sync.Mutex

	venue    common.Address
	ledger   *FillLedger
	settler  Settler
	verifier SignatureVerifier
	clock    util.Clock

	// Sink receives emitted records; Logger gets one structured line per
	// outcome. Both optional.
	Sink   EventSink
	Logger *zap.SugaredLogger
}

// NewCore wires a settlement core for one venue. The venue address is bound
// into every order hash, so two cores with different venues never accept each
// other's signed orders.
func NewCore(venue common.Address, ledger *FillLedger, settler Settler, clock util.Clock) *Core {
	return &Core{
		venue:   venue,
		ledger:  ledger,
		settler: settler,
		clock:   clock,
	}
}

// Venue returns the venue address orders are bound to.
func (c *Core) Venue() common.Address { return c.venue }

// Ledger exposes the fill ledger for read-only queries (API, tests).
func (c *Core) Ledger() *FillLedger { return c.ledger }

// OrderHash computes an order's identity under this core's venue.
func (c *Core) OrderHash(order *Order) (common.Hash, error) {
	return order.Hash(c.venue)
}

// FillOrder attempts to fill up to takerAssetFillAmount of order on behalf of
// taker, with sender being the party submitting the invocation. Returns the
// taker-side amount actually filled; zero with a nil error is a soft no-op
// outcome (expired, exhausted, rounding, bulk-cancelled) announced via an
// emitted record.
//
// The maker signature is verified only on the order's first-ever reference:
// an existing ledger entry already proves a prior successful verification.
// A maker therefore cannot invalidate a signature on a partially filled order.
func (c *Core) FillOrder(order *Order, takerAssetFillAmount *big.Int, sig Signature, taker, sender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	orderHash, err := order.Hash(c.venue)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}

	// First reference: amounts and maker signature checked once, here.
	if c.ledger.Filled(orderHash).Sign() == 0 && c.ledger.Cancelled(orderHash).Sign() == 0 {
		if order.MakerAssetAmount.Sign() <= 0 || order.TakerAssetAmount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: maker=%s taker=%s", ErrZeroOrderAmount, order.MakerAssetAmount, order.TakerAssetAmount)
		}
		if !c.verifier.IsValidSignature(orderHash, sig, order.MakerAddress) {
			return nil, fmt.Errorf("%w: order %s maker %s", ErrInvalidSignature, orderHash, order.MakerAddress)
		}
	}

	if order.SenderAddress != (common.Address{}) && sender != order.SenderAddress {
		return nil, fmt.Errorf("%w: got %s, order requires %s", ErrInvalidSender, sender, order.SenderAddress)
	}
	if order.TakerAddress != (common.Address{}) && taker != order.TakerAddress {
		return nil, fmt.Errorf("%w: got %s, order requires %s", ErrInvalidTaker, taker, order.TakerAddress)
	}
	if takerAssetFillAmount == nil || takerAssetFillAmount.Sign() <= 0 {
		return nil, ErrZeroFillAmount
	}

	if c.expired(order) {
		c.emit(Event{Kind: EventOrderExpired, OrderHash: orderHash, Maker: order.MakerAddress})
		return new(big.Int), nil
	}

	unavailable, err := c.ledger.UnavailableAmount(orderHash)
	if err != nil {
		return nil, err
	}
	remaining, err := SafeSub(order.TakerAssetAmount, unavailable)
	if err != nil {
		return nil, err
	}
	filledAmount := minAmount(takerAssetFillAmount, remaining)
	if filledAmount.Sign() == 0 {
		c.emit(Event{Kind: EventOrderUnfillable, OrderHash: orderHash, Maker: order.MakerAddress})
		return new(big.Int), nil
	}

	rounding, err := HasRoundingError(filledAmount, order.TakerAssetAmount, order.MakerAssetAmount)
	if err != nil {
		return nil, err
	}
	if rounding {
		c.emit(Event{Kind: EventRoundingErrorTooLarge, OrderHash: orderHash, Maker: order.MakerAddress, TakerAmountFilled: filledAmount})
		return new(big.Int), nil
	}

	if order.Salt.Cmp(c.ledger.MakerEpoch(order.MakerAddress)) < 0 {
		c.emit(Event{Kind: EventOrderUnfillable, OrderHash: orderHash, Maker: order.MakerAddress})
		return new(big.Int), nil
	}

	if err := c.ledger.RecordFill(orderHash, filledAmount); err != nil {
		return nil, err
	}

	result, err := c.settler.Settle(order, taker, filledAmount)
	if err != nil {
		// The ledger update and the transfer commit or roll back as one unit.
		if rerr := c.ledger.revertFill(orderHash, filledAmount); rerr != nil {
			return nil, fmt.Errorf("revert fill after settlement failure: %w (settle: %s)", rerr, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrSettlementFailed, err)
	}

	c.emit(Event{
		Kind:              EventFill,
		OrderHash:         orderHash,
		Maker:             order.MakerAddress,
		Taker:             taker,
		FeeRecipient:      order.FeeRecipientAddress,
		MakerAsset:        order.MakerAssetAddress,
		TakerAsset:        order.TakerAssetAddress,
		TakerAmountFilled: filledAmount,
		MakerAmountFilled: result.MakerAssetFilled,
		MakerFeePaid:      result.MakerFeePaid,
		TakerFeePaid:      result.TakerFeePaid,
	})
	if c.Logger != nil {
		c.Logger.Infow("order_filled",
			"order_hash", orderHash.Hex(),
			"taker", taker.Hex(),
			"taker_amount", filledAmount.String(),
			"maker_amount", result.MakerAssetFilled.String())
	}
	return filledAmount, nil
}

// CancelOrder cancels up to takerAssetCancelAmount of order's remaining
// amount. Only the maker may cancel; a configured sender restriction applies
// to cancels as it does to fills. Expired or exhausted orders are soft no-ops.
func (c *Core) CancelOrder(order *Order, takerAssetCancelAmount *big.Int, maker, sender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	orderHash, err := order.Hash(c.venue)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}

	if maker != order.MakerAddress {
		return nil, fmt.Errorf("%w: got %s, order maker is %s", ErrInvalidMaker, maker, order.MakerAddress)
	}
	if order.SenderAddress != (common.Address{}) && sender != order.SenderAddress {
		return nil, fmt.Errorf("%w: got %s, order requires %s", ErrInvalidSender, sender, order.SenderAddress)
	}
	if takerAssetCancelAmount == nil || takerAssetCancelAmount.Sign() <= 0 {
		return nil, ErrZeroCancelAmount
	}

	if c.expired(order) {
		c.emit(Event{Kind: EventOrderExpired, OrderHash: orderHash, Maker: order.MakerAddress})
		return new(big.Int), nil
	}

	unavailable, err := c.ledger.UnavailableAmount(orderHash)
	if err != nil {
		return nil, err
	}
	remaining, err := SafeSub(order.TakerAssetAmount, unavailable)
	if err != nil {
		return nil, err
	}
	cancelledAmount := minAmount(takerAssetCancelAmount, remaining)
	if cancelledAmount.Sign() == 0 {
		c.emit(Event{Kind: EventOrderUnfillable, OrderHash: orderHash, Maker: order.MakerAddress})
		return new(big.Int), nil
	}

	if err := c.ledger.RecordCancel(orderHash, cancelledAmount); err != nil {
		return nil, err
	}

	c.emit(Event{
		Kind:            EventCancel,
		OrderHash:       orderHash,
		Maker:           order.MakerAddress,
		FeeRecipient:    order.FeeRecipientAddress,
		MakerAsset:      order.MakerAssetAddress,
		TakerAsset:      order.TakerAssetAddress,
		CancelledAmount: cancelledAmount,
	})
	if c.Logger != nil {
		c.Logger.Infow("order_cancelled",
			"order_hash", orderHash.Hex(),
			"maker", maker.Hex(),
			"cancelled_amount", cancelledAmount.String())
	}
	return cancelledAmount, nil
}

// CancelOrdersUpTo bulk-cancels every order of maker whose salt is at most
// salt, by bumping the maker epoch to salt+1. Fails hard if the epoch would
// not strictly increase, so a no-op can never be mistaken for success.
func (c *Core) CancelOrdersUpTo(maker common.Address, salt *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !validAmount(salt) {
		return ErrAmountOverflow
	}
	newEpoch, err := SafeAdd(salt, big.NewInt(1))
	if err != nil {
		return err
	}
	if err := c.ledger.BumpMakerEpoch(maker, newEpoch); err != nil {
		return err
	}

	c.emit(Event{Kind: EventCancelUpTo, Maker: maker, Epoch: newEpoch})
	if c.Logger != nil {
		c.Logger.Infow("orders_cancelled_up_to", "maker", maker.Hex(), "epoch", newEpoch.String())
	}
	return nil
}

// expired checks the order's expiry against the single authoritative clock,
// once per invocation.
func (c *Core) expired(order *Order) bool {
	now := big.NewInt(c.clock.Now().Unix())
	return now.Cmp(order.ExpirationTimeSeconds) >= 0
}

func (c *Core) emit(e Event) {
	e.Timestamp = c.clock.Now().Unix()
	if c.Sink != nil {
		c.Sink.Publish(e)
	}
	if c.Logger != nil && e.Kind != EventFill && e.Kind != EventCancel && e.Kind != EventCancelUpTo {
		c.Logger.Infow("soft_outcome", "kind", string(e.Kind), "order_hash", e.OrderHash.Hex())
	}
}
