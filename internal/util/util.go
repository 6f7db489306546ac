package util

import "golang.org/x/exp/constraints"

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs returns the absolute value of v.
func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// NearlyEqual reports whether a and b differ by at most tol.
func NearlyEqual[T constraints.Float](a, b, tol T) bool {
	return Abs(a-b) <= tol
}
