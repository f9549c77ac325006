// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment.
// A small epsilon absorbs float representation noise right at tick boundaries.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	const eps = 1e-9
	return math.Floor(x/tick+eps) * tick
}

// MidPrice returns the midpoint of bid and ask, or 0 if either side is missing.
func MidPrice(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}
