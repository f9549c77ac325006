package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{name: "basic rounding down", x: 1.2345, tick: 0.01, expected: 1.23},
		{name: "tie rounds away from zero", x: 1.235, tick: 0.01, expected: 1.24},
		{name: "negative basic rounding", x: -1.2345, tick: 0.01, expected: -1.23},
		{name: "larger tick size", x: 1.27, tick: 0.05, expected: 1.25},
		{name: "exact multiple", x: 1.25, tick: 0.05, expected: 1.25},
		{name: "zero tick returns input", x: 1.234, tick: 0, expected: 1.234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{name: "exact multiple", x: 1.30, tick: 0.05, expected: 1.30},
		{name: "float precision boundary - just below", x: 1.2999999999999, tick: 0.05, expected: 1.30},
		{name: "basic floor", x: 1.237, tick: 0.01, expected: 1.23},
		{name: "negative values", x: -1.237, tick: 0.01, expected: -1.24},
		{name: "zero tick returns input", x: 1.237, tick: 0, expected: 1.237},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FloorToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("FloorToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestMidPrice(t *testing.T) {
	if got := MidPrice(1.20, 1.40); math.Abs(got-1.30) > 1e-10 {
		t.Errorf("MidPrice(1.20, 1.40) = %v, expected 1.30", got)
	}
	if got := MidPrice(0, 1.40); got != 0 {
		t.Errorf("MidPrice with missing bid = %v, expected 0", got)
	}
	if got := MidPrice(1.20, 0); got != 0 {
		t.Errorf("MidPrice with missing ask = %v, expected 0", got)
	}
}
