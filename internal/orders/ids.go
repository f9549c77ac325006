package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/calloway-trading/strikestream/internal/storage"
)

// ClientOrderPrefix prefixes every client-generated idempotent order id.
const ClientOrderPrefix = "order-id-"

// IDGenerator hands out strictly increasing client order ids. The first call
// seeds the counter from the highest persisted id, so ids keep increasing
// across restarts. No two legs ever share an id.
type IDGenerator struct {
	store storage.Interface

	mu     sync.Mutex
	seq    int
	seeded bool
}

// NewIDGenerator creates a generator backed by the given store.
func NewIDGenerator(store storage.Interface) *IDGenerator {
	return &IDGenerator{store: store}
}

// Next returns the next client order id, e.g. "order-id-7".
func (g *IDGenerator) Next(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.seeded {
		highest, err := g.store.HighestClientOrderSeq(ctx, ClientOrderPrefix)
		if err != nil {
			return "", fmt.Errorf("seeding order id counter: %w", err)
		}
		g.seq = highest
		g.seeded = true
	}
	g.seq++
	return fmt.Sprintf("%s%d", ClientOrderPrefix, g.seq), nil
}
