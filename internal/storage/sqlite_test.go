package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway-trading/strikestream/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLeg(id, clientID string) *models.OrderLeg {
	return &models.OrderLeg{
		ID:            id,
		BatchID:       "batch-1",
		UserID:        "user-1",
		Account:       "U100",
		ContractID:    "265598",
		Right:         models.RightCall,
		Side:          models.SideSell,
		OrderType:     models.TypeLimit,
		TimeInForce:   "DAY",
		Quantity:      3,
		Price:         2.50,
		ClientOrderID: clientID,
		Status:        models.StatusNew,
	}
}

func TestOrderLegRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	leg := testLeg("leg-1", "order-id-1")
	require.NoError(t, store.CreateOrderLeg(ctx, leg))

	got, err := store.GetOrderLeg(ctx, "leg-1")
	require.NoError(t, err)
	assert.Equal(t, "order-id-1", got.ClientOrderID)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, models.SideSell, got.Side)
	assert.Equal(t, 2.50, got.Price)

	got.Status = models.StatusFilled
	got.BrokerOrderID = "987654"
	got.FilledPrice = 2.55
	require.NoError(t, store.UpdateOrderLeg(ctx, got))

	got, err = store.GetOrderLeg(ctx, "leg-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Equal(t, "987654", got.BrokerOrderID)
	assert.Equal(t, 2.55, got.FilledPrice)
}

func TestGetOrderLegNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOrderLeg(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOrderLegNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateOrderLeg(context.Background(), testLeg("ghost", "order-id-9"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateClientOrderIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrderLeg(ctx, testLeg("leg-1", "order-id-1")))
	err := store.CreateOrderLeg(ctx, testLeg("leg-2", "order-id-1"))
	assert.Error(t, err)
}

func TestListOpenOrderLegs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open := testLeg("leg-1", "order-id-1")
	open.Status = models.StatusConfirmed
	require.NoError(t, store.CreateOrderLeg(ctx, open))

	filled := testLeg("leg-2", "order-id-2")
	filled.Status = models.StatusFilled
	require.NoError(t, store.CreateOrderLeg(ctx, filled))

	cancelled := testLeg("leg-3", "order-id-3")
	cancelled.Status = models.StatusCancelled
	require.NoError(t, store.CreateOrderLeg(ctx, cancelled))

	other := testLeg("leg-4", "order-id-4")
	other.UserID = "user-2"
	require.NoError(t, store.CreateOrderLeg(ctx, other))

	legs, err := store.ListOpenOrderLegs(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "leg-1", legs[0].ID)
}

func TestHighestClientOrderSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrderLeg(ctx, testLeg("leg-1", "order-id-3")))
	require.NoError(t, store.CreateOrderLeg(ctx, testLeg("leg-2", "order-id-12")))
	require.NoError(t, store.CreateOrderLeg(ctx, testLeg("leg-3", "order-id-7")))

	seq, err := store.HighestClientOrderSeq(ctx, "order-id-")
	require.NoError(t, err)
	assert.Equal(t, 12, seq)
}

func TestHighestClientOrderSeqEmpty(t *testing.T) {
	store := newTestStore(t)

	seq, err := store.HighestClientOrderSeq(context.Background(), "order-id-")
	require.NoError(t, err)
	assert.Equal(t, 0, seq)
}

func TestUpsertStrikeReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	candidate := &models.StrikeCandidate{
		ContractID:   "265598",
		StrikePrice:  101,
		Right:        models.RightCall,
		Month:        "AUG29",
		OptionConID:  "111",
		MaturityDate: now.Format(models.MaturityLayout),
		CreatedAt:    now,
	}
	require.NoError(t, store.UpsertStrike(ctx, candidate))

	candidate.OptionConID = "222"
	require.NoError(t, store.UpsertStrike(ctx, candidate))

	strikes, err := store.ListStrikesByDate(ctx, "265598", now)
	require.NoError(t, err)
	require.Len(t, strikes, 1)
	assert.Equal(t, "222", strikes[0].OptionConID)
}

func TestListStrikesByDateOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, strike := range []float64{105, 95, 100} {
		right := models.RightCall
		if strike < 100 {
			right = models.RightPut
		}
		require.NoError(t, store.UpsertStrike(ctx, &models.StrikeCandidate{
			ContractID:  "265598",
			StrikePrice: strike,
			Right:       right,
			Month:       "AUG29",
			CreatedAt:   now,
		}))
	}

	strikes, err := store.ListStrikesByDate(ctx, "265598", now)
	require.NoError(t, err)
	require.Len(t, strikes, 3)
	assert.Equal(t, []float64{95, 100, 105},
		[]float64{strikes[0].StrikePrice, strikes[1].StrikePrice, strikes[2].StrikePrice})
}

func TestTrackedContractMonth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.GetTrackedContractMonth(ctx, "user-1", "265598", now)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveTrackedContract(ctx, "user-1", "265598", "AUG29"))

	month, err := store.GetTrackedContractMonth(ctx, "user-1", "265598", now)
	require.NoError(t, err)
	assert.Equal(t, "AUG29", month)

	// Re-resolving the same day overwrites.
	require.NoError(t, store.SaveTrackedContract(ctx, "user-1", "265598", "SEP29"))
	month, err = store.GetTrackedContractMonth(ctx, "user-1", "265598", now)
	require.NoError(t, err)
	assert.Equal(t, "SEP29", month)
}

func TestTimerLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	timer := &models.TimerState{
		ID:             "timer-1",
		UserID:         "user-1",
		RemainingTicks: 3,
		PlaceOrder:     "true",
		CreatedAt:      now,
	}
	require.NoError(t, store.CreateTimer(ctx, timer))

	// Second create for the same user and day is a no-op.
	require.NoError(t, store.CreateTimer(ctx, &models.TimerState{
		ID:             "timer-2",
		UserID:         "user-1",
		RemainingTicks: 99,
		CreatedAt:      now,
	}))

	got, err := store.GetTimer(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, "timer-1", got.ID)
	assert.Equal(t, 3, got.RemainingTicks)

	require.NoError(t, store.DecrementTimers(ctx, now))
	require.NoError(t, store.DecrementTimers(ctx, now))
	require.NoError(t, store.DecrementTimers(ctx, now))
	// Already at zero, stays at zero.
	require.NoError(t, store.DecrementTimers(ctx, now))

	got, err = store.GetTimer(ctx, "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingTicks)
	assert.True(t, got.Expired())
}

func TestGetTimerNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTimer(context.Background(), "user-1", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
