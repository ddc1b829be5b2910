package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of alignment. An alignment of
// zero leaves v unchanged.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

// DivCeil returns ceil(n / d).
func DivCeil[T constraints.Unsigned](n, d T) T {
	return (n + d - 1) / d
}

// PreviousPow2 returns the largest power of two that is <= v (v must be > 0).
func PreviousPow2(v uint32) uint32 {
	r := uint32(1)
	for r*2 <= v && r*2 != 0 {
		r *= 2
	}
	return r
}

// MipCount returns the number of mips of a full chain for the given extent.
func MipCount(width, height uint32) uint32 {
	n := uint32(1)
	for width > 1 || height > 1 {
		width = max(width/2, 1)
		height = max(height/2, 1)
		n++
	}
	return n
}
