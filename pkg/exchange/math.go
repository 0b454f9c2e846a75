package exchange

import (
	"errors"
	"math/big"
)

// Amount arithmetic is checked, never wrapping: every result must stay inside
// the uint256 range that signed orders encode their amounts in. Violations are
// hard failures that abort the whole invocation.
var (
	ErrAmountOverflow  = errors.New("amount arithmetic overflow")
	ErrAmountUnderflow = errors.New("amount arithmetic underflow")
	ErrDivisionByZero  = errors.New("division by zero denominator")
)

// maxUint256 = 2^256 - 1, the largest value a 32-byte big-endian amount can hold.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// roundingErrorScale and maxRoundingErrorPPM implement the 0.1% dust guard:
// a proportional fill is rejected when truncation loses more than
// maxRoundingErrorPPM parts per roundingErrorScale of value.
const (
	roundingErrorScale  = 1_000_000
	maxRoundingErrorPPM = 1000
)

// validAmount reports whether a is a usable uint256 amount.
func validAmount(a *big.Int) bool {
	return a != nil && a.Sign() >= 0 && a.Cmp(maxUint256) <= 0
}

// SafeAdd returns a+b, failing if either operand or the result leaves uint256 range.
func SafeAdd(a, b *big.Int) (*big.Int, error) {
	if !validAmount(a) || !validAmount(b) {
		return nil, ErrAmountOverflow
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(maxUint256) > 0 {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// SafeSub returns a-b, failing on underflow (b > a) rather than going negative.
func SafeSub(a, b *big.Int) (*big.Int, error) {
	if !validAmount(a) || !validAmount(b) {
		return nil, ErrAmountOverflow
	}
	if b.Cmp(a) > 0 {
		return nil, ErrAmountUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

// PartialAmount computes floor(numerator * target / denominator), the
// maker-side amount owed for a partial taker-side fill. The same formula is
// used for fee apportionment so every leg of a settlement rounds identically.
func PartialAmount(numerator, denominator, target *big.Int) (*big.Int, error) {
	if !validAmount(numerator) || !validAmount(denominator) || !validAmount(target) {
		return nil, ErrAmountOverflow
	}
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(numerator, target)
	return out.Div(out, denominator), nil
}

// HasRoundingError reports whether computing PartialAmount(numerator,
// denominator, target) would truncate away more than 0.1% of the target value.
//
// remainder = (target * numerator) mod denominator; zero remainder means the
// division is exact. Otherwise the error ratio in parts-per-million is
// remainder * 1_000_000 / (numerator * target), flagged above 1000 ppm.
// big.Int intermediates make the target*numerator product overflow-free.
func HasRoundingError(numerator, denominator, target *big.Int) (bool, error) {
	if !validAmount(numerator) || !validAmount(denominator) || !validAmount(target) {
		return false, ErrAmountOverflow
	}
	if denominator.Sign() == 0 {
		return false, ErrDivisionByZero
	}
	remainder := new(big.Int).Mul(target, numerator)
	remainder.Mod(remainder, denominator)
	if remainder.Sign() == 0 {
		return false, nil
	}
	// remainder != 0 implies numerator > 0 and target > 0, so the divisor below
	// is never zero.
	errPPM := new(big.Int).Mul(remainder, big.NewInt(roundingErrorScale))
	errPPM.Div(errPPM, new(big.Int).Mul(numerator, target))
	return errPPM.Cmp(big.NewInt(maxRoundingErrorPPM)) > 0, nil
}

// minAmount returns the smaller of a and b as a fresh value.
func minAmount(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
