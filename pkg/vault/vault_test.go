package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

var (
	feeAsset   = common.HexToAddress("0xE41d2489571d322189246DaFA5ebDe1F4699F498")
	makerAsset = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	takerAsset = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	maker        = common.HexToAddress("0x1000000000000000000000000000000000000001")
	taker        = common.HexToAddress("0x1000000000000000000000000000000000000002")
	feeRecipient = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func testOrder() *exchange.Order {
	return &exchange.Order{
		MakerAddress:          maker,
		MakerAssetAddress:     makerAsset,
		TakerAssetAddress:     takerAsset,
		FeeRecipientAddress:   feeRecipient,
		MakerAssetAmount:      big.NewInt(200),
		TakerAssetAmount:      big.NewInt(100),
		MakerFeeAmount:        big.NewInt(10),
		TakerFeeAmount:        big.NewInt(6),
		ExpirationTimeSeconds: big.NewInt(1_900_000_000),
		Salt:                  big.NewInt(1),
	}
}

// fundedVault covers the full order on both sides plus fees.
func fundedVault(t *testing.T) *Vault {
	t.Helper()
	v := New(feeAsset)
	for _, c := range []struct {
		asset, holder common.Address
		amount        int64
	}{
		{makerAsset, maker, 200},
		{takerAsset, taker, 100},
		{feeAsset, maker, 10},
		{feeAsset, taker, 6},
	} {
		if err := v.Credit(c.asset, c.holder, big.NewInt(c.amount)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	return v
}

func TestCreditAndBalance(t *testing.T) {
	v := New(feeAsset)
	if err := v.Credit(makerAsset, maker, big.NewInt(70)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Credit(makerAsset, maker, big.NewInt(30)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := v.Balance(makerAsset, maker); got.Int64() != 100 {
		t.Errorf("balance = %s, want 100", got)
	}
	if got := v.Balance(takerAsset, maker); got.Sign() != 0 {
		t.Errorf("balance of unheld asset = %s, want 0", got)
	}
	if err := v.Credit(makerAsset, maker, big.NewInt(-1)); err == nil {
		t.Error("negative credit accepted")
	}
}

func TestSettleMovesEveryLeg(t *testing.T) {
	v := fundedVault(t)

	// fill half: maker pays 100, fees halve to 5 and 3
	res, err := v.Settle(testOrder(), taker, big.NewInt(50))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.MakerAssetFilled.Int64() != 100 {
		t.Errorf("maker filled = %s, want 100", res.MakerAssetFilled)
	}
	if res.MakerFeePaid.Int64() != 5 || res.TakerFeePaid.Int64() != 3 {
		t.Errorf("fees = %s/%s, want 5/3", res.MakerFeePaid, res.TakerFeePaid)
	}

	checks := []struct {
		asset, holder common.Address
		want          int64
	}{
		{makerAsset, maker, 100},
		{makerAsset, taker, 100},
		{takerAsset, taker, 50},
		{takerAsset, maker, 50},
		{feeAsset, maker, 5},
		{feeAsset, taker, 3},
		{feeAsset, feeRecipient, 8},
	}
	for _, c := range checks {
		if got := v.Balance(c.asset, c.holder); got.Int64() != c.want {
			t.Errorf("balance(%s, %s) = %s, want %d", c.asset.Hex(), c.holder.Hex(), got, c.want)
		}
	}
}

func TestSettleZeroFeesSkipFeeLegs(t *testing.T) {
	v := New(feeAsset)
	if err := v.Credit(makerAsset, maker, big.NewInt(200)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Credit(takerAsset, taker, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	order := testOrder()
	order.MakerFeeAmount = big.NewInt(0)
	order.TakerFeeAmount = big.NewInt(0)

	// neither side holds any fee asset; zero fees must not require it
	if _, err := v.Settle(order, taker, big.NewInt(100)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := v.Balance(feeAsset, feeRecipient); got.Sign() != 0 {
		t.Errorf("fee recipient balance = %s, want 0", got)
	}
}

func TestSettleInsufficientBalanceIsAtomic(t *testing.T) {
	v := fundedVault(t)

	// drain the taker's fee balance so the last leg fails
	order := testOrder()
	order.TakerFeeAmount = big.NewInt(1000)

	if _, err := v.Settle(order, taker, big.NewInt(50)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// nothing moved, including the legs staged before the failing one
	checks := []struct {
		asset, holder common.Address
		want          int64
	}{
		{makerAsset, maker, 200},
		{makerAsset, taker, 0},
		{takerAsset, taker, 100},
		{takerAsset, maker, 0},
		{feeAsset, feeRecipient, 0},
	}
	for _, c := range checks {
		if got := v.Balance(c.asset, c.holder); got.Int64() != c.want {
			t.Errorf("balance(%s, %s) = %s, want %d", c.asset.Hex(), c.holder.Hex(), got, c.want)
		}
	}
}

func TestSettleSelfTrade(t *testing.T) {
	v := New(feeAsset)
	if err := v.Credit(makerAsset, maker, big.NewInt(200)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Credit(takerAsset, maker, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Credit(feeAsset, maker, big.NewInt(16)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// maker fills their own order: asset legs net out, fees still leave
	if _, err := v.Settle(testOrder(), maker, big.NewInt(100)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := v.Balance(makerAsset, maker); got.Int64() != 200 {
		t.Errorf("maker asset balance = %s, want 200", got)
	}
	if got := v.Balance(takerAsset, maker); got.Int64() != 100 {
		t.Errorf("taker asset balance = %s, want 100", got)
	}
	if got := v.Balance(feeAsset, feeRecipient); got.Int64() != 16 {
		t.Errorf("fee recipient = %s, want 16", got)
	}
}
