package models

import (
	"sort"
	"time"
)

// MaturityLayout is the venue wire format for option maturity dates.
const MaturityLayout = "20060102"

// StrikeCandidate is a validated same-day-expiry strike, persisted keyed by
// (contract id, strike price, right, month). At most one live record exists
// per key per trading day.
type StrikeCandidate struct {
	ContractID   string      `json:"contract_id"`
	StrikePrice  float64     `json:"strike_price"`
	Right        OptionRight `json:"right"`
	Month        string      `json:"month"`
	OptionConID  string      `json:"option_conid"`
	Description  string      `json:"description"`
	MaturityDate string      `json:"maturity_date"`
	LastQuote    string      `json:"last_quote,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ChainLeg is the client-facing call or put side of a chain entry.
type ChainLeg struct {
	ConID       string         `json:"conid"`
	Description string         `json:"description"`
	Quote       *QuoteSnapshot `json:"quote"`
}

// QuoteSnapshot holds the live market data fields pushed for one contract.
type QuoteSnapshot struct {
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume    int64   `json:"volume"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
}

// ChainEntry is one strike row of the outgoing option chain: the strike
// price plus an optional call leg and an optional put leg.
type ChainEntry struct {
	LastDayPrice float64   `json:"last_day_price"`
	Strike       float64   `json:"strike"`
	Call         *ChainLeg `json:"call,omitempty"`
	Put          *ChainLeg `json:"put,omitempty"`
}

// Chain is the full client-facing strike chain. Pushes always carry a
// complete snapshot sorted ascending by strike with no duplicate strikes.
type Chain []ChainEntry

// Sorted returns a copy of the chain ordered ascending by strike price.
func (c Chain) Sorted() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// Strikes returns the strike prices present in the chain, in chain order.
func (c Chain) Strikes() []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i].Strike
	}
	return out
}

// HasDuplicateStrikes reports whether any strike price appears twice.
func (c Chain) HasDuplicateStrikes() bool {
	seen := make(map[float64]struct{}, len(c))
	for i := range c {
		if _, ok := seen[c[i].Strike]; ok {
			return true
		}
		seen[c[i].Strike] = struct{}{}
	}
	return false
}

// StrikeWindow is the near-the-money strike selection around the spot price.
type StrikeWindow struct {
	Calls []float64
	Puts  []float64
}

// Contains reports whether the window includes the given strike on either side.
func (w StrikeWindow) Contains(strike float64) bool {
	for _, s := range w.Calls {
		if s == strike {
			return true
		}
	}
	for _, s := range w.Puts {
		if s == strike {
			return true
		}
	}
	return false
}

// SelectStrikes filters the venue's full strike lists down to the tradeable
// window: calls at or above spot (nearest first), puts at or below spot
// (nearest last), each truncated to n per side. Input slices are assumed
// ascending, as the venue returns them.
func SelectStrikes(calls, puts []float64, spot float64, n int) StrikeWindow {
	var w StrikeWindow
	if spot <= 0 || n <= 0 {
		return w
	}
	for _, s := range calls {
		if s >= spot {
			w.Calls = append(w.Calls, s)
			if len(w.Calls) == n {
				break
			}
		}
	}
	below := make([]float64, 0, len(puts))
	for _, s := range puts {
		if s <= spot {
			below = append(below, s)
		}
	}
	if len(below) > n {
		below = below[len(below)-n:]
	}
	w.Puts = below
	return w
}
