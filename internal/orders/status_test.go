package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/models"
	"github.com/calloway-trading/strikestream/internal/storage"
)

func confirmedLeg(id, brokerID string) *models.OrderLeg {
	return &models.OrderLeg{
		ID:            id,
		UserID:        "user-1",
		Account:       "U100",
		ContractID:    "711280073",
		Side:          models.SideSell,
		Quantity:      3,
		ClientOrderID: "order-id-" + id,
		BrokerOrderID: brokerID,
		Status:        models.StatusConfirmed,
	}
}

func TestPollStatusesFillTransition(t *testing.T) {
	client := broker.NewMockClient()
	client.OrderStatusFunc = func(_ context.Context, orderID string) (*broker.OrderStatusResponse, error) {
		if orderID == "100" {
			return &broker.OrderStatusResponse{Status: "Filled", AveragePrice: "2.55"}, nil
		}
		return &broker.OrderStatusResponse{Status: "Submitted"}, nil
	}

	store := storage.NewMockStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateOrderLeg(ctx, confirmedLeg("a", "100")))
	require.NoError(t, store.CreateOrderLeg(ctx, confirmedLeg("b", "200")))

	coord := NewCoordinator(client, store, nil)
	filled, err := coord.PollStatuses(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, "a", filled[0].ID)
	assert.Equal(t, 2.55, filled[0].FilledPrice)

	got, err := store.GetOrderLeg(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)

	// Still working, untouched.
	got, err = store.GetOrderLeg(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	// A second pass sees no open Filled legs and reports nothing new.
	filled, err = coord.PollStatuses(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, filled)
}

func TestPollStatusesSkipsLegsWithoutBrokerID(t *testing.T) {
	client := broker.NewMockClient()
	store := storage.NewMockStorage()
	ctx := context.Background()

	leg := confirmedLeg("a", "")
	leg.Status = models.StatusNew
	require.NoError(t, store.CreateOrderLeg(ctx, leg))

	coord := NewCoordinator(client, store, nil)
	filled, err := coord.PollStatuses(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, filled)
	assert.Zero(t, client.Calls("OrderStatus"))
}

func TestPollStatusesFetchFailureIsSkipped(t *testing.T) {
	client := broker.NewMockClient()
	client.OrderStatusFunc = func(_ context.Context, _ string) (*broker.OrderStatusResponse, error) {
		return nil, fmt.Errorf("gateway unavailable")
	}

	store := storage.NewMockStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateOrderLeg(ctx, confirmedLeg("a", "100")))

	coord := NewCoordinator(client, store, nil)
	filled, err := coord.PollStatuses(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, filled)

	got, err := store.GetOrderLeg(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestComputePnl(t *testing.T) {
	client := broker.NewMockClient()
	client.QuoteSnapshotFunc = func(_ context.Context, conID string) (*broker.SnapshotFields, error) {
		return &broker.SnapshotFields{ConID: conID, Last: 1.80}, nil
	}

	coord := NewCoordinator(client, storage.NewMockStorage(), nil)
	leg := confirmedLeg("a", "100")
	leg.FilledPrice = 2.50

	update, ok := coord.ComputePnl(context.Background(), leg)
	require.True(t, ok)
	assert.InDelta(t, 2.10, update.Pnl, 1e-9)
	assert.Equal(t, "711280073", update.Contract)
	assert.Equal(t, "order-id-a", update.OrderID)
	assert.Equal(t, 2.50, update.SoldPrice)
	assert.Equal(t, 1.80, update.MarkPrice)
	assert.Equal(t, 3, update.Quantity)
}

func TestComputePnlSkipsWhenPriceUnavailable(t *testing.T) {
	client := broker.NewMockClient()
	client.QuoteSnapshotFunc = func(_ context.Context, conID string) (*broker.SnapshotFields, error) {
		return &broker.SnapshotFields{ConID: conID}, nil
	}
	coord := NewCoordinator(client, storage.NewMockStorage(), nil)

	leg := confirmedLeg("a", "100")
	leg.FilledPrice = 2.50
	_, ok := coord.ComputePnl(context.Background(), leg)
	assert.False(t, ok)

	// No filled price yet, no venue call either.
	leg.FilledPrice = 0
	_, ok = coord.ComputePnl(context.Background(), leg)
	assert.False(t, ok)
	assert.Equal(t, 1, client.Calls("QuoteSnapshot"))
}

func TestIDGeneratorSequence(t *testing.T) {
	store := storage.NewMockStorage()
	gen := NewIDGenerator(store)
	ctx := context.Background()

	first, err := gen.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-id-1", first)

	second, err := gen.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-id-2", second)
}
