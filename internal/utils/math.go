package utils

import "golang.org/x/exp/constraints"

// Clamp constrains v to the range [minVal, maxVal].
func Clamp[T constraints.Ordered](v, minVal, maxVal T) T {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// WrapUnit reduces v into [0, 1), preserving fractional position.
func WrapUnit(v float64) float64 {
	v -= float64(int(v))
	if v < 0 {
		v++
	}
	return v
}
