// Package safe provides overflow-checked arithmetic on 256-bit unsigned amounts.
// Every helper panics instead of wrapping, so an accounting impossibility halts
// the engine rather than silently corrupting balances.
package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
)

// IsUint256 reports whether v fits in an unsigned 256-bit word.
func IsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(math.MaxBig256) <= 0
}

// CheckedAdd returns a + b and whether the sum fits in uint256.
func CheckedAdd(a, b *big.Int) (*big.Int, bool) {
	sum := new(big.Int).Add(a, b)
	return sum, IsUint256(sum)
}

// SafeAdd returns a + b. Panics if the result exceeds 2^256-1.
func SafeAdd(a, b *big.Int) *big.Int {
	sum, ok := CheckedAdd(a, b)
	if !ok {
		panic(fmt.Sprintf("UINT256_OVERFLOW: %s + %s", a, b))
	}
	return sum
}

// SafeSub returns a - b. Panics if the result is negative.
func SafeSub(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		panic(fmt.Sprintf("UINT256_UNDERFLOW: %s - %s", a, b))
	}
	return diff
}

// Copy returns an independent copy of v, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
