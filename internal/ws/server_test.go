package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/models"
	"github.com/calloway-trading/strikestream/internal/orders"
	"github.com/calloway-trading/strikestream/internal/session"
	"github.com/calloway-trading/strikestream/internal/storage"
)

func testIntervals() session.Intervals {
	return session.Intervals{
		Spot:          5 * time.Millisecond,
		StrikeRefresh: 10 * time.Millisecond,
		Quote:         5 * time.Millisecond,
		OrderGate:     5 * time.Millisecond,
		StatusPoll:    5 * time.Millisecond,
		Pnl:           5 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, client *broker.MockClient) (*httptest.Server, storage.Interface) {
	t.Helper()
	store := storage.NewMockStorage()
	coord := orders.NewCoordinator(client, store, nil)
	sup := session.NewSupervisor(client, store, coord, testIntervals(), nil)
	srv := NewServer(Config{Port: 0}, sup, coord, store, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func chainMock(t *testing.T) *broker.MockClient {
	t.Helper()
	today := time.Now().UTC().Format(models.MaturityLayout)

	client := broker.NewMockClient()
	client.LastDayPriceFunc = func(_ context.Context, _ string) (float64, error) {
		return 100.5, nil
	}
	client.FetchStrikesFunc = func(_ context.Context, _, _ string) (*broker.Strikes, error) {
		return &broker.Strikes{Call: []float64{101, 102}, Put: []float64{99, 100}}, nil
	}
	client.ContractInfoFunc = func(_ context.Context, _ string, strike float64, right, _ string) ([]broker.ContractDetail, error) {
		return []broker.ContractDetail{
			{ConID: json.Number(fmt.Sprintf("7%.0f", strike)), MaturityDate: today},
		}, nil
	}
	client.SearchContractsFunc = func(_ context.Context, symbol string) ([]broker.ContractSearchResult, error) {
		return []broker.ContractSearchResult{{
			ConID:    "265598",
			Symbol:   symbol,
			Sections: []broker.ContractSection{{SecType: "OPT", Months: "AUG29"}},
		}}, nil
	}
	return client
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestStrikeStreamOverWebsocket(t *testing.T) {
	ts, _ := newTestServer(t, chainMock(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/strikes?user_id=user-1"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"ticker":"SPY"}`)))

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var payload session.ChainPayload
		require.NoError(t, json.Unmarshal(data, &payload))
		if len(payload.OptionChainData) == 0 {
			continue
		}

		assert.True(t, payload.Authentication)
		assert.False(t, payload.OptionChainData.HasDuplicateStrikes())
		strikes := payload.OptionChainData.Strikes()
		for i := 1; i < len(strikes); i++ {
			assert.Less(t, strikes[i-1], strikes[i])
		}
		return
	}
}

func TestWebsocketRejectsUnauthenticated(t *testing.T) {
	client := chainMock(t)
	client.AuthStatusFunc = func(_ context.Context) (*broker.AuthStatusResponse, error) {
		return &broker.AuthStatusResponse{Authenticated: false}, nil
	}
	ts, _ := newTestServer(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/strikes?user_id=user-1"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The auth failure payload arrives before the close frame.
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var payload session.ChainPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.False(t, payload.Authentication)
	require.NotNil(t, payload.Error)
}

func TestSubmitBatchEndpoint(t *testing.T) {
	ts, store := newTestServer(t, chainMock(t))

	body := `{"user_id":"user-1","contract_id":"711280073","right":"call",
		"quantity":3,"entry_price":2.5,"stop_loss_percent":200,"take_profit_percent":40}`
	resp, err := http.Post(ts.URL+"/api/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var batch models.OrderBatch
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batch))
	require.Len(t, batch.Legs, 3)
	assert.InDelta(t, 7.5, batch.StopPrice, 1e-9)
	assert.InDelta(t, 1.0, batch.TargetPrice, 1e-9)

	persisted, err := store.ListOrderLegsByDate(context.Background(), "user-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestSubmitBatchEndpointValidation(t *testing.T) {
	client := chainMock(t)
	ts, _ := newTestServer(t, client)

	body := `{"user_id":"user-1","contract_id":"711280073","right":"call",
		"quantity":3,"entry_price":2.5,"stop_loss_percent":50,"take_profit_percent":40}`
	resp, err := http.Post(ts.URL+"/api/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Contains(t, errBody["error"], "stop loss percent")
	assert.Zero(t, client.Calls("PlaceOrder"))
}

func TestCancelLegEndpoint(t *testing.T) {
	client := chainMock(t)
	ts, store := newTestServer(t, client)

	require.NoError(t, store.CreateOrderLeg(context.Background(), &models.OrderLeg{
		ID:            "leg-1",
		UserID:        "user-1",
		Account:       "U100",
		ClientOrderID: "order-id-1",
		BrokerOrderID: "987",
		Status:        models.StatusConfirmed,
	}))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/orders/leg-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, client.Calls("CancelOrder"))

	// Unknown leg.
	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/orders/ghost", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelLegWithoutBrokerIDConflicts(t *testing.T) {
	ts, store := newTestServer(t, chainMock(t))
	require.NoError(t, store.CreateOrderLeg(context.Background(), &models.OrderLeg{
		ID:            "leg-1",
		UserID:        "user-1",
		ClientOrderID: "order-id-1",
		Status:        models.StatusNew,
	}))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/orders/leg-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateTimerEndpoint(t *testing.T) {
	ts, store := newTestServer(t, chainMock(t))

	body := `{"user_id":"user-1","ticks":300,"place_order":"true"}`
	resp, err := http.Post(ts.URL+"/api/timers", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	timer, err := store.GetTimer(context.Background(), "user-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 300, timer.RemainingTicks)
	assert.Equal(t, "true", timer.PlaceOrder)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, chainMock(t))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
