package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/pkg/crypto"
)

// fixedClock pins the core's notion of now so expiry tests are deterministic.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// recordingSettler accepts every fill and echoes proportional amounts back.
type recordingSettler struct {
	calls int
	fail  error
}

func (s *recordingSettler) Settle(order *Order, taker common.Address, takerAssetFilled *big.Int) (SettlementResult, error) {
	s.calls++
	if s.fail != nil {
		return SettlementResult{}, s.fail
	}
	makerFilled, err := PartialAmount(takerAssetFilled, order.TakerAssetAmount, order.MakerAssetAmount)
	if err != nil {
		return SettlementResult{}, err
	}
	return SettlementResult{
		MakerAssetFilled: makerFilled,
		MakerFeePaid:     new(big.Int),
		TakerFeePaid:     new(big.Int),
	}, nil
}

type eventRecorder struct{ events []Event }

func (r *eventRecorder) Publish(e Event) { r.events = append(r.events, e) }

func (r *eventRecorder) last() (Event, bool) {
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// testCore wires a core with a fixed clock well before sampleOrder's expiry.
func testCore(t *testing.T) (*Core, *recordingSettler, *eventRecorder) {
	t.Helper()
	settler := &recordingSettler{}
	rec := &eventRecorder{}
	core := NewCore(testVenue, NewFillLedger(nil), settler, fixedClock{now: time.Unix(1_700_000_000, 0)})
	core.Sink = rec
	return core, settler, rec
}

// makerSigned returns an order whose maker is the given signer, with its
// signature under the test venue.
func makerSigned(t *testing.T, core *Core, signer *crypto.Signer, mutate func(*Order)) (*Order, Signature) {
	t.Helper()
	order := sampleOrder()
	order.MakerAddress = signer.Address()
	order.SenderAddress = common.Address{}
	order.TakerAddress = common.Address{}
	if mutate != nil {
		mutate(order)
	}
	hash, err := core.OrderHash(order)
	if err != nil {
		t.Fatalf("order hash: %v", err)
	}
	return order, signHash(t, signer, hash)
}

var (
	testTaker  = common.HexToAddress("0x7a7a000000000000000000000000000000000001")
	testSender = common.HexToAddress("0x7a7a000000000000000000000000000000000002")
)

func TestFillOrderPartial(t *testing.T) {
	core, settler, rec := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil) // maker 200 / taker 100

	filled, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Int64() != 50 {
		t.Errorf("filled = %s, want 50", filled)
	}
	if settler.calls != 1 {
		t.Errorf("settler calls = %d, want 1", settler.calls)
	}

	hash, _ := core.OrderHash(order)
	if got := core.Ledger().Filled(hash); got.Int64() != 50 {
		t.Errorf("ledger filled = %s, want 50", got)
	}

	e, ok := rec.last()
	if !ok || e.Kind != EventFill {
		t.Fatalf("last event = %+v, want fill", e)
	}
	if e.TakerAmountFilled.Int64() != 50 || e.MakerAmountFilled.Int64() != 100 {
		t.Errorf("event amounts taker=%s maker=%s, want 50/100", e.TakerAmountFilled, e.MakerAmountFilled)
	}
}

func TestFillOrderCapsAtRemaining(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)

	// asking for double the order only fills what exists
	filled, err := core.FillOrder(order, big.NewInt(200), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Int64() != 100 {
		t.Errorf("filled = %s, want 100 (capped)", filled)
	}
}

func TestFillOrderExhaustedIsSoftNoop(t *testing.T) {
	core, settler, rec := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)

	if _, err := core.FillOrder(order, big.NewInt(100), sig, testTaker, testSender); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	hash, _ := core.OrderHash(order)
	before := core.Ledger().Filled(hash)

	filled, err := core.FillOrder(order, big.NewInt(1), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("second fill must not hard-fail: %v", err)
	}
	if filled.Sign() != 0 {
		t.Errorf("filled = %s, want 0", filled)
	}
	if got := core.Ledger().Filled(hash); got.Cmp(before) != 0 {
		t.Errorf("ledger changed on exhausted fill: %s -> %s", before, got)
	}
	if settler.calls != 1 {
		t.Errorf("settler calls = %d, want 1 (no settlement on no-op)", settler.calls)
	}
	e, _ := rec.last()
	if e.Kind != EventOrderUnfillable {
		t.Errorf("last event = %s, want order_unfillable", e.Kind)
	}
}

func TestFillOrderExpired(t *testing.T) {
	core, settler, rec := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, func(o *Order) {
		o.ExpirationTimeSeconds = big.NewInt(1_600_000_000) // before the fixed clock
	})

	filled, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("expired fill must not hard-fail: %v", err)
	}
	if filled.Sign() != 0 {
		t.Errorf("filled = %s, want 0", filled)
	}
	hash, _ := core.OrderHash(order)
	if got := core.Ledger().Filled(hash); got.Sign() != 0 {
		t.Errorf("ledger filled = %s, want 0", got)
	}
	if settler.calls != 0 {
		t.Errorf("settler calls = %d, want 0", settler.calls)
	}
	e, _ := rec.last()
	if e.Kind != EventOrderExpired {
		t.Errorf("last event = %s, want order_expired", e.Kind)
	}
}

func TestFillOrderExpiryBoundary(t *testing.T) {
	core, _, rec := testCore(t)
	maker, _ := crypto.GenerateKey()
	// now == expiration: already expired (strict "now < expiration" to be live)
	order, sig := makerSigned(t, core, maker, func(o *Order) {
		o.ExpirationTimeSeconds = big.NewInt(1_700_000_000)
	})

	filled, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Sign() != 0 {
		t.Errorf("filled = %s, want 0 at now == expiration", filled)
	}
	e, _ := rec.last()
	if e.Kind != EventOrderExpired {
		t.Errorf("last event = %s, want order_expired", e.Kind)
	}
}

func TestFillOrderBadSignature(t *testing.T) {
	core, settler, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	stranger, _ := crypto.GenerateKey()

	order, _ := makerSigned(t, core, maker, nil)
	hash, _ := core.OrderHash(order)
	wrongSig := signHash(t, stranger, hash)

	if _, err := core.FillOrder(order, big.NewInt(50), wrongSig, testTaker, testSender); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
	if got := core.Ledger().Filled(hash); got.Sign() != 0 {
		t.Errorf("ledger filled = %s, want 0", got)
	}
	if settler.calls != 0 {
		t.Errorf("settler calls = %d, want 0", settler.calls)
	}
}

func TestFillOrderSignatureCheckedOnceOnly(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)

	if _, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender); err != nil {
		t.Fatalf("first fill failed: %v", err)
	}

	// a bogus signature on a later fill of a known order is ignored: the
	// ledger entry already proves a prior successful verification
	filled, err := core.FillOrder(order, big.NewInt(25), Signature{V: 27}, testTaker, testSender)
	if err != nil {
		t.Fatalf("later fill failed: %v", err)
	}
	if filled.Int64() != 25 {
		t.Errorf("filled = %s, want 25", filled)
	}
}

func TestFillOrderSenderTakerRestrictions(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()

	order, sig := makerSigned(t, core, maker, func(o *Order) {
		o.SenderAddress = testSender
		o.TakerAddress = testTaker
	})

	if _, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, common.HexToAddress("0xbad")); !errors.Is(err, ErrInvalidSender) {
		t.Errorf("err = %v, want ErrInvalidSender", err)
	}
	if _, err := core.FillOrder(order, big.NewInt(50), sig, common.HexToAddress("0xbad"), testSender); !errors.Is(err, ErrInvalidTaker) {
		t.Errorf("err = %v, want ErrInvalidTaker", err)
	}
	if _, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender); err != nil {
		t.Errorf("authorized fill failed: %v", err)
	}
}

func TestFillOrderZeroAmounts(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()

	order, sig := makerSigned(t, core, maker, func(o *Order) {
		o.TakerAssetAmount = big.NewInt(0)
	})
	if _, err := core.FillOrder(order, big.NewInt(1), sig, testTaker, testSender); !errors.Is(err, ErrZeroOrderAmount) {
		t.Errorf("err = %v, want ErrZeroOrderAmount", err)
	}

	order, sig = makerSigned(t, core, maker, nil)
	if _, err := core.FillOrder(order, big.NewInt(0), sig, testTaker, testSender); !errors.Is(err, ErrZeroFillAmount) {
		t.Errorf("err = %v, want ErrZeroFillAmount", err)
	}
}

func TestFillOrderRoundingGuard(t *testing.T) {
	core, settler, rec := testCore(t)
	maker, _ := crypto.GenerateKey()

	// maker 3 / taker 7, fill 2: floor(2*3/7) = 0, the maker side truncates away
	order, sig := makerSigned(t, core, maker, func(o *Order) {
		o.MakerAssetAmount = big.NewInt(3)
		o.TakerAssetAmount = big.NewInt(7)
		o.MakerFeeAmount = big.NewInt(0)
		o.TakerFeeAmount = big.NewInt(0)
	})

	filled, err := core.FillOrder(order, big.NewInt(2), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("rounding guard must be soft: %v", err)
	}
	if filled.Sign() != 0 {
		t.Errorf("filled = %s, want 0", filled)
	}
	if settler.calls != 0 {
		t.Errorf("settler calls = %d, want 0", settler.calls)
	}
	e, _ := rec.last()
	if e.Kind != EventRoundingErrorTooLarge {
		t.Errorf("last event = %s, want rounding_error_too_large", e.Kind)
	}

	// a clean proportion of the same order goes through
	filled, err = core.FillOrder(order, big.NewInt(7), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Int64() != 7 {
		t.Errorf("filled = %s, want 7", filled)
	}
}

func TestFillOrderSettlerFailureRollsBack(t *testing.T) {
	core, settler, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)
	hash, _ := core.OrderHash(order)

	settler.fail = errors.New("vault says no")
	if _, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender); !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}
	if got := core.Ledger().Filled(hash); got.Sign() != 0 {
		t.Errorf("ledger filled = %s, want 0 after rollback", got)
	}

	// and the order stays fillable afterwards
	settler.fail = nil
	filled, err := core.FillOrder(order, big.NewInt(50), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill after rollback failed: %v", err)
	}
	if filled.Int64() != 50 {
		t.Errorf("filled = %s, want 50", filled)
	}
}

func TestCancelOrder(t *testing.T) {
	core, _, rec := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)
	hash, _ := core.OrderHash(order)

	cancelled, err := core.CancelOrder(order, big.NewInt(30), maker.Address(), testSender)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Int64() != 30 {
		t.Errorf("cancelled = %s, want 30", cancelled)
	}
	e, _ := rec.last()
	if e.Kind != EventCancel || e.CancelledAmount.Int64() != 30 {
		t.Errorf("event = %+v, want cancel of 30", e)
	}

	// only 70 remains for filling
	filled, err := core.FillOrder(order, big.NewInt(100), sig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Int64() != 70 {
		t.Errorf("filled = %s, want 70", filled)
	}

	unavailable, _ := core.Ledger().UnavailableAmount(hash)
	if unavailable.Cmp(order.TakerAssetAmount) != 0 {
		t.Errorf("unavailable = %s, want %s", unavailable, order.TakerAssetAmount)
	}
}

func TestCancelOrderOnlyMaker(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, _ := makerSigned(t, core, maker, nil)

	if _, err := core.CancelOrder(order, big.NewInt(10), testTaker, testSender); !errors.Is(err, ErrInvalidMaker) {
		t.Errorf("err = %v, want ErrInvalidMaker", err)
	}
}

func TestCancelOrdersUpTo(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()

	lowSalt, lowSig := makerSigned(t, core, maker, func(o *Order) { o.Salt = big.NewInt(10) })
	highSalt, highSig := makerSigned(t, core, maker, func(o *Order) { o.Salt = big.NewInt(11) })

	if err := core.CancelOrdersUpTo(maker.Address(), big.NewInt(10)); err != nil {
		t.Fatalf("cancel up to: %v", err)
	}

	// salt 10 < epoch 11: dead, soft no-op
	filled, err := core.FillOrder(lowSalt, big.NewInt(50), lowSig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Sign() != 0 {
		t.Errorf("bulk-cancelled order filled %s, want 0", filled)
	}

	// salt 11 == epoch 11: still live
	filled, err = core.FillOrder(highSalt, big.NewInt(50), highSig, testTaker, testSender)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if filled.Int64() != 50 {
		t.Errorf("filled = %s, want 50", filled)
	}

	// repeating the same salt must fail hard, not silently no-op
	if err := core.CancelOrdersUpTo(maker.Address(), big.NewInt(10)); !errors.Is(err, ErrEpochNotIncreasing) {
		t.Errorf("err = %v, want ErrEpochNotIncreasing", err)
	}
	// and so must a lower one
	if err := core.CancelOrdersUpTo(maker.Address(), big.NewInt(4)); !errors.Is(err, ErrEpochNotIncreasing) {
		t.Errorf("err = %v, want ErrEpochNotIncreasing", err)
	}
}

func TestFilledPlusCancelledNeverExceedsOrderAmount(t *testing.T) {
	core, _, _ := testCore(t)
	maker, _ := crypto.GenerateKey()
	order, sig := makerSigned(t, core, maker, nil)
	hash, _ := core.OrderHash(order)

	// interleave fills and cancels asking for more than remains each time
	amounts := []int64{40, 90, 100, 5}
	for i, a := range amounts {
		if i%2 == 0 {
			if _, err := core.FillOrder(order, big.NewInt(a), sig, testTaker, testSender); err != nil {
				t.Fatalf("fill %d: %v", i, err)
			}
		} else {
			if _, err := core.CancelOrder(order, big.NewInt(a), maker.Address(), testSender); err != nil {
				t.Fatalf("cancel %d: %v", i, err)
			}
		}
		unavailable, err := core.Ledger().UnavailableAmount(hash)
		if err != nil {
			t.Fatalf("unavailable: %v", err)
		}
		if unavailable.Cmp(order.TakerAssetAmount) > 0 {
			t.Fatalf("step %d: filled+cancelled = %s exceeds order amount %s", i, unavailable, order.TakerAssetAmount)
		}
	}
}
