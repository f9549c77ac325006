package broker

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements Client for tests. Each operation delegates to an
// optional function field; unset fields return benign defaults. Call counts
// are tracked per operation under a mutex so tests can assert on them from
// concurrent loops.
type MockClient struct {
	mu    sync.Mutex
	calls map[string]int

	AuthStatusFunc      func(ctx context.Context) (*AuthStatusResponse, error)
	TickleFunc          func(ctx context.Context) error
	ReauthenticateFunc  func(ctx context.Context) error
	AccountsFunc        func(ctx context.Context) ([]string, error)
	SearchContractsFunc func(ctx context.Context, symbol string) ([]ContractSearchResult, error)
	FetchStrikesFunc    func(ctx context.Context, contractID, month string) (*Strikes, error)
	ContractInfoFunc    func(ctx context.Context, contractID string, strike float64, right, month string) ([]ContractDetail, error)
	QuoteSnapshotFunc   func(ctx context.Context, conID string) (*SnapshotFields, error)
	LastDayPriceFunc    func(ctx context.Context, conID string) (float64, error)
	PlaceOrderFunc      func(ctx context.Context, account string, order OrderPayload) (*PlaceOrderResult, error)
	ConfirmOrderFunc    func(ctx context.Context, replyID string, confirmed bool) (*PlaceOrderResult, error)
	OrderStatusFunc     func(ctx context.Context, orderID string) (*OrderStatusResponse, error)
	CancelOrderFunc     func(ctx context.Context, orderID, account string) error
}

// Ensure MockClient implements Client at compile time.
var _ Client = (*MockClient)(nil)

// NewMockClient creates a MockClient with empty call counts.
func NewMockClient() *MockClient {
	return &MockClient{calls: make(map[string]int)}
}

// Calls returns how many times the named operation was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockClient) record(op string) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
	m.mu.Unlock()
}

func (m *MockClient) AuthStatus(ctx context.Context) (*AuthStatusResponse, error) {
	m.record("AuthStatus")
	if m.AuthStatusFunc != nil {
		return m.AuthStatusFunc(ctx)
	}
	return &AuthStatusResponse{Authenticated: true, Connected: true}, nil
}

func (m *MockClient) Reauthenticate(ctx context.Context) error {
	m.record("Reauthenticate")
	if m.ReauthenticateFunc != nil {
		return m.ReauthenticateFunc(ctx)
	}
	return nil
}

func (m *MockClient) Tickle(ctx context.Context) error {
	m.record("Tickle")
	if m.TickleFunc != nil {
		return m.TickleFunc(ctx)
	}
	return nil
}

func (m *MockClient) BrokerageAccounts(ctx context.Context) ([]string, error) {
	m.record("BrokerageAccounts")
	if m.AccountsFunc != nil {
		return m.AccountsFunc(ctx)
	}
	return []string{"U100"}, nil
}

func (m *MockClient) SearchContracts(ctx context.Context, symbol string) ([]ContractSearchResult, error) {
	m.record("SearchContracts")
	if m.SearchContractsFunc != nil {
		return m.SearchContractsFunc(ctx, symbol)
	}
	return nil, fmt.Errorf("no contract found for symbol %s", symbol)
}

func (m *MockClient) FetchStrikes(ctx context.Context, contractID, month string) (*Strikes, error) {
	m.record("FetchStrikes")
	if m.FetchStrikesFunc != nil {
		return m.FetchStrikesFunc(ctx, contractID, month)
	}
	return &Strikes{}, nil
}

func (m *MockClient) ContractInfo(ctx context.Context, contractID string, strike float64, right, month string) ([]ContractDetail, error) {
	m.record("ContractInfo")
	if m.ContractInfoFunc != nil {
		return m.ContractInfoFunc(ctx, contractID, strike, right, month)
	}
	return nil, nil
}

func (m *MockClient) QuoteSnapshot(ctx context.Context, conID string) (*SnapshotFields, error) {
	m.record("QuoteSnapshot")
	if m.QuoteSnapshotFunc != nil {
		return m.QuoteSnapshotFunc(ctx, conID)
	}
	return &SnapshotFields{ConID: conID}, nil
}

func (m *MockClient) LastDayPrice(ctx context.Context, conID string) (float64, error) {
	m.record("LastDayPrice")
	if m.LastDayPriceFunc != nil {
		return m.LastDayPriceFunc(ctx, conID)
	}
	return 0, fmt.Errorf("no price for conid %s", conID)
}

func (m *MockClient) PlaceOrder(ctx context.Context, account string, order OrderPayload) (*PlaceOrderResult, error) {
	m.record("PlaceOrder")
	if m.PlaceOrderFunc != nil {
		return m.PlaceOrderFunc(ctx, account, order)
	}
	return &PlaceOrderResult{OrderID: "1"}, nil
}

func (m *MockClient) ConfirmOrder(ctx context.Context, replyID string, confirmed bool) (*PlaceOrderResult, error) {
	m.record("ConfirmOrder")
	if m.ConfirmOrderFunc != nil {
		return m.ConfirmOrderFunc(ctx, replyID, confirmed)
	}
	return &PlaceOrderResult{OrderID: "1"}, nil
}

func (m *MockClient) OrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	m.record("OrderStatus")
	if m.OrderStatusFunc != nil {
		return m.OrderStatusFunc(ctx, orderID)
	}
	return &OrderStatusResponse{Status: "Submitted"}, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID, account string) error {
	m.record("CancelOrder")
	if m.CancelOrderFunc != nil {
		return m.CancelOrderFunc(ctx, orderID, account)
	}
	return nil
}
