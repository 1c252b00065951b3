package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two. It does not
// check for overflow; use CheckedAlignUp when value is caller-controlled.
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// CheckedAdd returns a+b and false if the addition wrapped
func CheckedAdd(a, b uintptr) (uintptr, bool) {
	sum, carry := bits.Add(uint(a), uint(b), 0)
	return uintptr(sum), carry == 0
}

// CheckedMul returns a*b and false if the multiplication wrapped
func CheckedMul(a, b uintptr) (uintptr, bool) {
	hi, lo := bits.Mul(uint(a), uint(b))
	return uintptr(lo), hi == 0
}

// CheckedAlignUp rounds value up to alignment and returns false instead of wrapping around
func CheckedAlignUp(value, alignment uintptr) (uintptr, bool) {
	sum, ok := CheckedAdd(value, alignment-1)
	if !ok {
		return 0, false
	}
	return sum &^ (alignment - 1), true
}
