// Package storage provides persistence for order legs, validated strikes,
// tracked contracts, and session timers.
package storage

import (
	"context"
	"time"

	"github.com/calloway-trading/strikestream/internal/models"
)

// Interface defines the contract for record persistence.
//
// Implementations must be safe for concurrent use - the session loops and the
// order coordinator call these methods from multiple goroutines. Each method
// is atomic per record; no cross-record transactions are offered.
type Interface interface {
	// Order legs. Legs are never deleted - cancellation and rejection are
	// status updates through UpdateOrderLeg.
	CreateOrderLeg(ctx context.Context, leg *models.OrderLeg) error
	UpdateOrderLeg(ctx context.Context, leg *models.OrderLeg) error
	GetOrderLeg(ctx context.Context, id string) (*models.OrderLeg, error)
	ListOpenOrderLegs(ctx context.Context, userID string) ([]models.OrderLeg, error)
	ListOrderLegsByDate(ctx context.Context, userID string, day time.Time) ([]models.OrderLeg, error)
	HighestClientOrderSeq(ctx context.Context, prefix string) (int, error)

	// Validated strikes, upserted on (contract, strike, right, month) per
	// trading day.
	UpsertStrike(ctx context.Context, candidate *models.StrikeCandidate) error
	ListStrikesByDate(ctx context.Context, contractID string, day time.Time) ([]models.StrikeCandidate, error)

	// Tracked contract month resolution, per user per trading day.
	SaveTrackedContract(ctx context.Context, userID, contractID, month string) error
	GetTrackedContractMonth(ctx context.Context, userID, contractID string, day time.Time) (string, error)

	// Session timers gating order submission.
	CreateTimer(ctx context.Context, timer *models.TimerState) error
	GetTimer(ctx context.Context, userID string, day time.Time) (*models.TimerState, error)
	DecrementTimers(ctx context.Context, day time.Time) error

	Close() error
}

// NewStorage creates a new storage implementation (currently SQLite-based)
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStore(path)
}

// Ensure SQLiteStore implements Interface
var _ Interface = (*SQLiteStore)(nil)
