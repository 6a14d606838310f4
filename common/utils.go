package common

import "golang.org/x/exp/constraints"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// AlignUp rounds value up to the next multiple of alignment.
// An alignment of zero returns value unchanged.
//
// Parameters:
//   - value: the value to round
//   - alignment: the required alignment, typically a power of two
//
// Returns:
//   - T: the smallest multiple of alignment that is >= value
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) / alignment * alignment
}
