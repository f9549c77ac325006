package session

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/calloway-trading/strikestream/internal/models"
)

// chainState is the session's current strike chain. The strike refresh loop
// adds and prunes entries; the quote fan-out loop updates quotes and reads
// full snapshots. All access goes through the mutex so every outgoing push
// is a complete, consistent copy.
type chainState struct {
	mu      sync.RWMutex
	entries map[float64]*models.ChainEntry
}

func newChainState() *chainState {
	return &chainState{entries: make(map[float64]*models.ChainEntry)}
}

func (c *chainState) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[float64]*models.ChainEntry)
}

// HasLeg reports whether the given strike already carries the given side.
func (c *chainState) HasLeg(strike float64, right models.OptionRight) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[strike]
	if !ok {
		return false
	}
	if right == models.RightCall {
		return entry.Call != nil
	}
	return entry.Put != nil
}

// SetLeg attaches a call or put leg to the strike's entry, creating the
// entry if needed.
func (c *chainState) SetLeg(strike float64, right models.OptionRight, leg *models.ChainLeg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[strike]
	if !ok {
		entry = &models.ChainEntry{Strike: strike}
		c.entries[strike] = entry
	}
	if right == models.RightCall {
		entry.Call = leg
	} else {
		entry.Put = leg
	}
}

// SetQuote updates the quote on whichever leg carries the contract id.
func (c *chainState) SetQuote(conID string, quote *models.QuoteSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Call != nil && entry.Call.ConID == conID {
			entry.Call.Quote = quote
		}
		if entry.Put != nil && entry.Put.ConID == conID {
			entry.Put.Quote = quote
		}
	}
}

// SetLastDay stamps the underlying's last price onto every entry.
func (c *chainState) SetLastDay(price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.LastDayPrice = price
	}
}

// Prune drops entries whose strike left the current selection window and
// detaches sides no longer selected. Entries still in the window are left
// untouched so their contract metadata is not re-fetched.
func (c *chainState) Prune(window models.StrikeWindow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make(map[float64]struct{}, len(window.Calls))
	for _, s := range window.Calls {
		calls[s] = struct{}{}
	}
	puts := make(map[float64]struct{}, len(window.Puts))
	for _, s := range window.Puts {
		puts[s] = struct{}{}
	}
	for strike, entry := range c.entries {
		if _, ok := calls[strike]; !ok {
			entry.Call = nil
		}
		if _, ok := puts[strike]; !ok {
			entry.Put = nil
		}
		if entry.Call == nil && entry.Put == nil {
			delete(c.entries, strike)
		}
	}
}

// legRef identifies one tracked side of one strike for the quote loop.
type legRef struct {
	Strike float64
	Right  models.OptionRight
	ConID  string
}

// LegRefs returns every tracked contract side in the chain.
func (c *chainState) LegRefs() []legRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make([]legRef, 0, len(c.entries)*2)
	for strike, entry := range c.entries {
		if entry.Call != nil && entry.Call.ConID != "" {
			refs = append(refs, legRef{strike, models.RightCall, entry.Call.ConID})
		}
		if entry.Put != nil && entry.Put.ConID != "" {
			refs = append(refs, legRef{strike, models.RightPut, entry.Put.ConID})
		}
	}
	return refs
}

// Snapshot returns a deep copy of the chain sorted ascending by strike.
func (c *chainState) Snapshot() models.Chain {
	c.mu.RLock()
	chain := make(models.Chain, 0, len(c.entries))
	for _, entry := range c.entries {
		copied := models.ChainEntry{
			LastDayPrice: entry.LastDayPrice,
			Strike:       entry.Strike,
		}
		if entry.Call != nil {
			leg := *entry.Call
			if entry.Call.Quote != nil {
				q := *entry.Call.Quote
				leg.Quote = &q
			}
			copied.Call = &leg
		}
		if entry.Put != nil {
			leg := *entry.Put
			if entry.Put.Quote != nil {
				q := *entry.Put.Quote
				leg.Quote = &q
			}
			copied.Put = &leg
		}
		chain = append(chain, copied)
	}
	c.mu.RUnlock()
	return chain.Sorted()
}

// Len returns the number of strikes currently in the chain.
func (c *chainState) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// spotSlot is the session's shared "current spot price": single writer (the
// spot poller), many readers, atomic swap.
type spotSlot struct {
	bits atomic.Uint64
}

func (s *spotSlot) Store(v float64) { s.bits.Store(math.Float64bits(v)) }
func (s *spotSlot) Load() float64   { return math.Float64frombits(s.bits.Load()) }
