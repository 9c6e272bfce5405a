package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// maxUint256 is the largest balance a token ledger can represent.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MaxAmount returns 2^256-1 as a decimal.
func MaxAmount() decimal.Decimal {
	return decimal.NewFromBigInt(maxUint256, 0)
}

// ValidateAmount checks that amt is a whole number in [0, 2^256-1].
// what names the amount in the returned error.
func ValidateAmount(what string, amt decimal.Decimal) error {
	if amt.IsNegative() || !amt.IsInteger() {
		return fmt.Errorf("%w: %s must be a non-negative whole number, got %s", ErrInvalidAmount, what, amt)
	}
	if amt.BigInt().Cmp(maxUint256) > 0 {
		return overflowf("%s %s exceeds 2^256-1", what, amt)
	}
	return nil
}

// ShareCount converts a validated share amount to the uint64 count used by the
// price model.
func ShareCount(amt decimal.Decimal) (uint64, error) {
	if err := ValidateAmount("shares", amt); err != nil {
		return 0, err
	}
	b := amt.BigInt()
	if !b.IsUint64() {
		return 0, overflowf("share count %s exceeds uint64", amt)
	}
	return b.Uint64(), nil
}

// Shares converts a share count to a token amount.
func Shares(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}

// toBig returns the integer value of a whole decimal.
func toBig(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

// fromBig wraps an integer as a decimal after checking the 256-bit range.
func fromBig(what string, b *big.Int) (decimal.Decimal, error) {
	if b.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: %s is %s", ErrNegativeQuote, what, b)
	}
	if b.Cmp(maxUint256) > 0 {
		return decimal.Zero, overflowf("%s exceeds 2^256-1", what)
	}
	return decimal.NewFromBigInt(b, 0), nil
}
