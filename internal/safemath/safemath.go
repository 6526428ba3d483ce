// Package safemath wraps every budget and counter mutation in checked
// uint64 arithmetic.
package safemath

import (
	"math/bits"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
)

// Add returns a+b or ErrOverflow if the sum wraps.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, appErrors.ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow if b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, appErrors.ErrOverflow
	}
	return diff, nil
}

// Mul returns a*b or ErrOverflow if the product does not fit.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, appErrors.ErrOverflow
	}
	return lo, nil
}
