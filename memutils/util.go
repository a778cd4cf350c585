package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns a wrapped PowerOfTwoError if number is not a power of two. Zero is accepted,
// callers that need a nonzero value must check it separately.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckRange verifies that [start, end) is a usable window. A zero on either side means
// that side is unbounded, so only a window with both sides set can fail.
func CheckRange[T Number](start, end T) error {
	if start != 0 && end != 0 && end <= start {
		return cerrors.Wrapf(RangeError, "window is [%d, %d)", start, end)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// Pow2Divide approximates num/denom, rounded up to the next power of two. It does not need to be
// accurate: too large a result only makes the search give up on a size class sooner.
func Pow2Divide[T Number](num, denom T) T {
	var shift uint
	for ; num > denom; shift++ {
		denom <<= 1
	}
	return T(1) << shift
}

// Intersects reports whether [low, high) has any page in common with [start, end), where a zero
// start or end means that side is unbounded.
func Intersects[T Number](low, high, start, end T) bool {
	return (start == 0 || start < high) && (end == 0 || low < end)
}

// IsSubrange reports whether [low, high) lies inside [start, end), where a zero start or end means
// that side is unbounded.
func IsSubrange[T Number](low, high, start, end T) bool {
	return (start == 0 || low >= start) && (end == 0 || high <= end)
}
