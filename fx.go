package lockbox

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// fitsInt128 reports whether d is an integer in the signed 128-bit range.
func fitsInt128(d decimal.Decimal) bool {
	if !d.IsInteger() {
		return false
	}

	v := d.BigInt()
	return v.Cmp(minInt128) >= 0 && v.Cmp(maxInt128) <= 0
}

// mulDiv computes floor(amount * price / scale) over integers, truncating
// toward zero. The widened product and the result are both range checked;
// a zero scale or an out-of-range value fails closed.
func mulDiv(amount, price, scale decimal.Decimal) (decimal.Decimal, error) {
	if scale.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero scale", ErrArithmeticFault)
	}

	prod := amount.Mul(price)
	if !fitsInt128(prod) {
		return decimal.Zero, fmt.Errorf("%w: product %s out of range", ErrArithmeticFault, prod)
	}

	q, _ := prod.QuoRem(scale, 0)
	if !fitsInt128(q) {
		return decimal.Zero, fmt.Errorf("%w: quotient %s out of range", ErrArithmeticFault, q)
	}

	return q, nil
}
