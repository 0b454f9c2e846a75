// Package vault is an in-process asset vault implementing the settlement
// collaborator side of the exchange: it holds per (asset, holder) balances and
// moves them when the settlement core commits a fill.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// transfer is one leg of a settlement.
type transfer struct {
	asset  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

// Vault holds balances and settles fills atomically: a fill's four legs
// (maker asset to taker, taker asset to maker, both fees to the fee recipient)
// either all apply or none do.
//
// Fees are denominated in a single venue-wide fee asset, configured at
// construction, independent of the assets being traded.
type Vault struct {
	mu       sync.Mutex
	feeAsset common.Address
	balances map[common.Address]map[common.Address]*big.Int // asset -> holder -> balance
}

// New creates an empty vault charging fees in feeAsset.
func New(feeAsset common.Address) *Vault {
	return &Vault{
		feeAsset: feeAsset,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Credit adds amount of asset to holder's balance.
func (v *Vault) Credit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return exchange.ErrAmountOverflow
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	next, err := exchange.SafeAdd(v.balance(asset, holder), amount)
	if err != nil {
		return err
	}
	v.setBalance(asset, holder, next)
	return nil
}

// Balance returns holder's balance of asset.
func (v *Vault) Balance(asset, holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance(asset, holder))
}

// Settle moves the assets for a fill. The maker-side amount and both fees are
// apportioned with the same proportional function the rounding guard checks,
// so no leg can round differently from the amount the core validated.
func (v *Vault) Settle(order *exchange.Order, taker common.Address, takerAssetFilled *big.Int) (exchange.SettlementResult, error) {
	var res exchange.SettlementResult

	makerFilled, err := exchange.PartialAmount(takerAssetFilled, order.TakerAssetAmount, order.MakerAssetAmount)
	if err != nil {
		return res, err
	}
	makerFee, err := exchange.PartialAmount(takerAssetFilled, order.TakerAssetAmount, order.MakerFeeAmount)
	if err != nil {
		return res, err
	}
	takerFee, err := exchange.PartialAmount(takerAssetFilled, order.TakerAssetAmount, order.TakerFeeAmount)
	if err != nil {
		return res, err
	}

	legs := []transfer{
		{asset: order.MakerAssetAddress, from: order.MakerAddress, to: taker, amount: makerFilled},
		{asset: order.TakerAssetAddress, from: taker, to: order.MakerAddress, amount: takerAssetFilled},
	}
	if makerFee.Sign() > 0 {
		legs = append(legs, transfer{asset: v.feeAsset, from: order.MakerAddress, to: order.FeeRecipientAddress, amount: makerFee})
	}
	if takerFee.Sign() > 0 {
		legs = append(legs, transfer{asset: v.feeAsset, from: taker, to: order.FeeRecipientAddress, amount: takerFee})
	}

	if err := v.apply(legs); err != nil {
		return res, err
	}

	res.MakerAssetFilled = makerFilled
	res.MakerFeePaid = makerFee
	res.TakerFeePaid = takerFee
	return res, nil
}

// apply stages all legs against copies of the touched balances, failing before
// any live balance changes; only a fully valid set is written back.
func (v *Vault) apply(legs []transfer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	type key struct {
		asset  common.Address
		holder common.Address
	}
	staged := make(map[key]*big.Int)
	get := func(k key) *big.Int {
		if b, ok := staged[k]; ok {
			return b
		}
		b := new(big.Int).Set(v.balance(k.asset, k.holder))
		staged[k] = b
		return b
	}

	for _, t := range legs {
		from := get(key{t.asset, t.from})
		if from.Cmp(t.amount) < 0 {
			return fmt.Errorf("%w: %s has %s of asset %s, needs %s",
				ErrInsufficientBalance, t.from, from, t.asset, t.amount)
		}
		from.Sub(from, t.amount)
		to := get(key{t.asset, t.to})
		to.Add(to, t.amount)
	}

	for k, b := range staged {
		v.setBalance(k.asset, k.holder, b)
	}
	return nil
}

func (v *Vault) balance(asset, holder common.Address) *big.Int {
	if holders, ok := v.balances[asset]; ok {
		if b, ok := holders[holder]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (v *Vault) setBalance(asset, holder common.Address, b *big.Int) {
	holders, ok := v.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		v.balances[asset] = holders
	}
	holders[holder] = b
}

var _ exchange.Settler = (*Vault)(nil)
