package models

import "time"

// TimerState is the per-user, per-trading-day countdown that gates whether
// new order batches may be submitted. It loses one tick per scheduler pass
// and is terminal at zero.
type TimerState struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	RemainingTicks int       `json:"remaining_ticks"`
	PlaceOrder     string    `json:"place_order,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the countdown has reached its terminal state.
func (t *TimerState) Expired() bool {
	return t.RemainingTicks <= 0
}

// Decrement consumes one tick. It is a no-op once the timer has expired and
// returns true only when this call caused the transition to zero.
func (t *TimerState) Decrement() bool {
	if t.RemainingTicks <= 0 {
		return false
	}
	t.RemainingTicks--
	return t.RemainingTicks == 0
}
