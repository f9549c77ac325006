// Package models provides data structures and state management for order legs,
// strike chains, and session timers.
package models

import (
	"fmt"
	"time"
)

// OptionRight is the side of an option contract.
type OptionRight string

const (
	// RightCall represents a call option contract
	RightCall OptionRight = "call"
	// RightPut represents a put option contract
	RightPut OptionRight = "put"
)

// Valid returns true if the OptionRight is one of the defined constants
func (r OptionRight) Valid() bool {
	return r == RightCall || r == RightPut
}

// VenueCode returns the single-letter right code the venue API expects.
func (r OptionRight) VenueCode() string {
	if r == RightCall {
		return "C"
	}
	return "P"
}

// OrderSide is the direction of an order leg.
type OrderSide string

const (
	// SideBuy buys to open or close
	SideBuy OrderSide = "BUY"
	// SideSell sells to open or close
	SideSell OrderSide = "SELL"
)

// OrderType is the venue order type of a leg.
type OrderType string

const (
	// TypeLimit is a limit order
	TypeLimit OrderType = "LMT"
	// TypeMarket is a market order
	TypeMarket OrderType = "MKT"
	// TypeStop is a stop order
	TypeStop OrderType = "STP"
)

// LegStatus is the normalized lifecycle status of an order leg.
type LegStatus string

const (
	// StatusNew - leg created locally, placement not yet acknowledged
	StatusNew LegStatus = "New"
	// StatusConfirming - venue returned a pending confirmation handle
	StatusConfirming LegStatus = "Confirming"
	// StatusConfirmed - venue assigned an order id, leg is working
	StatusConfirmed LegStatus = "Confirmed"
	// StatusFilled - leg completely executed
	StatusFilled LegStatus = "Filled"
	// StatusCancelled - leg cancelled at the venue
	StatusCancelled LegStatus = "Cancelled"
	// StatusRejected - placement or confirmation failed
	StatusRejected LegStatus = "Rejected"
)

// IsTerminal reports whether no further status transitions are possible.
func (s LegStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// StatusTransition defines a valid leg status transition.
type StatusTransition struct {
	From        LegStatus
	To          LegStatus
	Description string
}

// ValidLegTransitions enumerates every permitted status transition.
var ValidLegTransitions = []StatusTransition{
	{StatusNew, StatusConfirming, "Venue asked for confirmation before accepting"},
	{StatusNew, StatusConfirmed, "Venue accepted the order directly"},
	{StatusNew, StatusRejected, "Placement failed before an order id was assigned"},

	{StatusConfirming, StatusConfirming, "Confirmation produced another pending handle"},
	{StatusConfirming, StatusConfirmed, "Confirmation chain ended in an order id"},
	{StatusConfirming, StatusRejected, "Confirmation call failed or response was malformed"},

	{StatusConfirmed, StatusFilled, "Venue reported the leg completely executed"},
	{StatusConfirmed, StatusCancelled, "Cancel request acknowledged"},
	{StatusConfirmed, StatusRejected, "Venue rejected the working order"},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to LegStatus) bool {
	for _, t := range ValidLegTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// OrderLeg is one broker order within a multi-order batch. Legs are never
// deleted; cancellation and rejection are status transitions.
type OrderLeg struct {
	ID            string      `json:"id"`
	BatchID       string      `json:"batch_id"`
	UserID        string      `json:"user_id"`
	Account       string      `json:"account"`
	ContractID    string      `json:"conid"`
	Right         OptionRight `json:"right"`
	Side          OrderSide   `json:"side"`
	OrderType     OrderType   `json:"order_type"`
	TimeInForce   string      `json:"tif"`
	Quantity      int         `json:"quantity"`
	Price         float64     `json:"price"`
	ClientOrderID string      `json:"client_order_id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	RawResponse   string      `json:"raw_response,omitempty"`
	Status        LegStatus   `json:"status"`
	FilledPrice   float64     `json:"filled_price,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Transition moves the leg to a new status, enforcing the transition table.
func (l *OrderLeg) Transition(to LegStatus) error {
	if l.Status == to {
		return nil
	}
	if !CanTransition(l.Status, to) {
		return fmt.Errorf("invalid leg status transition %s -> %s for %s", l.Status, to, l.ClientOrderID)
	}
	l.Status = to
	return nil
}

// BatchLegKind identifies a leg's role within its batch.
type BatchLegKind string

const (
	// LegEntry is the opening SELL leg
	LegEntry BatchLegKind = "entry"
	// LegStopLoss is the protective BUY leg
	LegStopLoss BatchLegKind = "stop_loss"
	// LegTakeProfit is the profit-taking BUY leg
	LegTakeProfit BatchLegKind = "take_profit"
)

// OrderBatch groups the three legs placed for one underlying position:
// entry SELL, stop-loss BUY, and take-profit BUY on the same contract and
// quantity. Sequencing across legs is owned by the order coordinator.
type OrderBatch struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Account     string      `json:"account"`
	ContractID  string      `json:"conid"`
	Right       OptionRight `json:"right"`
	Quantity    int         `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	StopPrice   float64     `json:"stop_price"`
	TargetPrice float64     `json:"target_price"`
	Legs        []OrderLeg  `json:"legs"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NormalizeBrokerStatus maps a raw venue status string onto a LegStatus.
// Unknown working states stay Confirmed; the bool reports whether the raw
// value was recognized at all.
func NormalizeBrokerStatus(raw string) (LegStatus, bool) {
	switch raw {
	case "Filled":
		return StatusFilled, true
	case "Cancelled", "Canceled":
		return StatusCancelled, true
	case "Rejected", "Inactive":
		return StatusRejected, true
	case "Submitted", "PreSubmitted", "PendingSubmit", "PendingCancel":
		return StatusConfirmed, true
	default:
		return StatusConfirmed, false
	}
}
