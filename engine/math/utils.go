package math

import (
	"math"

	"golang.org/x/exp/constraints"
)

const Pi = float32(math.Pi)

// Clamp returns f clamped to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func DegToRad(degrees float32) float32 {
	return degrees * (Pi / 180)
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
