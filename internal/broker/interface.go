package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Client defines the venue capability the core consumes. The session loops
// and order coordinator depend on this interface, never on API directly.
type Client interface {
	// Session
	AuthStatus(ctx context.Context) (*AuthStatusResponse, error)
	Reauthenticate(ctx context.Context) error
	Tickle(ctx context.Context) error
	BrokerageAccounts(ctx context.Context) ([]string, error)

	// Market data
	SearchContracts(ctx context.Context, symbol string) ([]ContractSearchResult, error)
	FetchStrikes(ctx context.Context, contractID, month string) (*Strikes, error)
	ContractInfo(ctx context.Context, contractID string, strike float64, right, month string) ([]ContractDetail, error)
	QuoteSnapshot(ctx context.Context, conID string) (*SnapshotFields, error)
	LastDayPrice(ctx context.Context, conID string) (float64, error)

	// Orders
	PlaceOrder(ctx context.Context, account string, order OrderPayload) (*PlaceOrderResult, error)
	ConfirmOrder(ctx context.Context, replyID string, confirmed bool) (*PlaceOrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error)
	CancelOrder(ctx context.Context, orderID, account string) error
}

// Ensure API implements Client at compile time.
var _ Client = (*API)(nil)

// IsPermanentAPIError reports whether an error is a permanent client error
// (4xx other than 429) that retrying will not fix.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerClient wraps a Client with circuit breaker functionality.
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerClient creates a CircuitBreakerClient with sensible defaults.
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	return NewCircuitBreakerClientWithSettings(client, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerClientWithSettings creates a CircuitBreakerClient with custom settings.
func NewCircuitBreakerClientWithSettings(client Client, settings CircuitBreakerSettings) *CircuitBreakerClient {
	gbSettings := gobreaker.Settings{
		Name:        "VenueCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerClient implements Client at compile time.
var _ Client = (*CircuitBreakerClient)(nil)

// AuthStatus wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) AuthStatus(ctx context.Context) (*AuthStatusResponse, error) {
	return execBreaker(c.breaker, func() (*AuthStatusResponse, error) { return c.client.AuthStatus(ctx) })
}

// Reauthenticate wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) Reauthenticate(ctx context.Context) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) { return struct{}{}, c.client.Reauthenticate(ctx) })
	return err
}

// Tickle wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) Tickle(ctx context.Context) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) { return struct{}{}, c.client.Tickle(ctx) })
	return err
}

// BrokerageAccounts wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) BrokerageAccounts(ctx context.Context) ([]string, error) {
	return execBreaker(c.breaker, func() ([]string, error) { return c.client.BrokerageAccounts(ctx) })
}

// SearchContracts wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) SearchContracts(ctx context.Context, symbol string) ([]ContractSearchResult, error) {
	return execBreaker(c.breaker, func() ([]ContractSearchResult, error) { return c.client.SearchContracts(ctx, symbol) })
}

// FetchStrikes wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) FetchStrikes(ctx context.Context, contractID, month string) (*Strikes, error) {
	return execBreaker(c.breaker, func() (*Strikes, error) { return c.client.FetchStrikes(ctx, contractID, month) })
}

// ContractInfo wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) ContractInfo(ctx context.Context, contractID string, strike float64, right, month string) ([]ContractDetail, error) {
	return execBreaker(c.breaker, func() ([]ContractDetail, error) {
		return c.client.ContractInfo(ctx, contractID, strike, right, month)
	})
}

// QuoteSnapshot wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) QuoteSnapshot(ctx context.Context, conID string) (*SnapshotFields, error) {
	return execBreaker(c.breaker, func() (*SnapshotFields, error) { return c.client.QuoteSnapshot(ctx, conID) })
}

// LastDayPrice wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) LastDayPrice(ctx context.Context, conID string) (float64, error) {
	return execBreaker(c.breaker, func() (float64, error) { return c.client.LastDayPrice(ctx, conID) })
}

// PlaceOrder wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) PlaceOrder(ctx context.Context, account string, order OrderPayload) (*PlaceOrderResult, error) {
	return execBreaker(c.breaker, func() (*PlaceOrderResult, error) { return c.client.PlaceOrder(ctx, account, order) })
}

// ConfirmOrder wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) ConfirmOrder(ctx context.Context, replyID string, confirmed bool) (*PlaceOrderResult, error) {
	return execBreaker(c.breaker, func() (*PlaceOrderResult, error) { return c.client.ConfirmOrder(ctx, replyID, confirmed) })
}

// OrderStatus wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) OrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	return execBreaker(c.breaker, func() (*OrderStatusResponse, error) { return c.client.OrderStatus(ctx, orderID) })
}

// CancelOrder wraps the underlying client call with the circuit breaker.
func (c *CircuitBreakerClient) CancelOrder(ctx context.Context, orderID, account string) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) { return struct{}{}, c.client.CancelOrder(ctx, orderID, account) })
	return err
}
