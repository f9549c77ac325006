// Package broker provides the trading-venue API client used to stream market
// data and execute option orders. It targets a Client-Portal-style gateway:
// JSON over HTTP, reply-based order confirmation, field-coded market data
// snapshots.
package broker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Snapshot field codes used by the venue's market data endpoint.
const (
	fieldLast      = "31"
	fieldChange    = "82"
	fieldChangePct = "83"
	fieldVolume    = "87"
	fieldBid       = "84"
	fieldAsk       = "86"
	fieldPreMarket = "7295"
)

// liveDataFields is the field set requested for option quote snapshots.
const liveDataFields = "31,82,83,87,84,86,7086,7638,7282"

// spotFields is the field set requested for the underlying's last price.
const spotFields = "31,7295,70"

var priceRe = regexp.MustCompile(`\d+(\.\d+)?`)

// APIError represents a venue API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// ============ Response Structures ============

// AuthStatusResponse reports the gateway's brokerage session state.
type AuthStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
}

// ContractSection describes one security type available on a contract.
type ContractSection struct {
	SecType string `json:"secType"`
	Months  string `json:"months"`
}

// ContractSearchResult is one match from the symbol search endpoint.
type ContractSearchResult struct {
	ConID       string            `json:"conid"`
	Symbol      string            `json:"symbol"`
	Description string            `json:"description"`
	Sections    []ContractSection `json:"sections"`
}

// OptionMonth returns the first expiry month the contract lists options for,
// or "" when the contract has no OPT section.
func (r *ContractSearchResult) OptionMonth() string {
	for _, s := range r.Sections {
		if s.SecType != "OPT" {
			continue
		}
		months := strings.Split(s.Months, ";")
		if len(months) > 0 && months[0] != "" {
			return months[0]
		}
	}
	return ""
}

// Strikes is the venue's full strike list for a contract and month.
type Strikes struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

// ContractDetail is one option contract record from the secdef info endpoint.
type ContractDetail struct {
	ConID        json.Number `json:"conid"`
	Symbol       string      `json:"symbol"`
	Description  string      `json:"desc2"`
	MaturityDate string      `json:"maturityDate"`
	Right        string      `json:"right"`
	Strike       float64     `json:"strike"`
	TradingClass string      `json:"tradingClass"`
}

// SnapshotFields is the typed form of a field-coded market data record.
type SnapshotFields struct {
	ConID     string
	Last      float64
	Bid       float64
	Ask       float64
	Volume    int64
	Change    float64
	ChangePct float64
}

// OrderPayload is one order of a venue order submission.
type OrderPayload struct {
	AcctID        string  `json:"acctId"`
	ConID         int64   `json:"conid"`
	SecType       string  `json:"secType"`
	ClientOrderID string  `json:"cOID"`
	OrderType     string  `json:"orderType"`
	Side          string  `json:"side"`
	TIF           string  `json:"tif"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
}

type orderSubmission struct {
	Orders []OrderPayload `json:"orders"`
}

// PlaceOrderResult is the outcome of a placement or confirmation call.
// Exactly one of OrderID and ReplyID is set on a well-formed response; a
// result carrying neither is malformed and must be treated as terminal.
type PlaceOrderResult struct {
	OrderID  string   `json:"order_id"`
	Status   string   `json:"order_status"`
	ReplyID  string   `json:"id"`
	Messages []string `json:"message"`
	Raw      string   `json:"-"`
}

// Final reports whether the venue assigned a definitive order id.
func (r *PlaceOrderResult) Final() bool { return r != nil && r.OrderID != "" }

// Pending reports whether the venue requires another confirmation round-trip.
func (r *PlaceOrderResult) Pending() bool { return r != nil && r.OrderID == "" && r.ReplyID != "" }

// OrderStatusResponse is the venue's view of a working or finished order.
type OrderStatusResponse struct {
	OrderID      json.Number `json:"order_id"`
	Status       string      `json:"order_status"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`
	Size         float64     `json:"size"`
	CumFill      float64     `json:"cum_fill"`
	AveragePrice string      `json:"average_price"`
}

// FillPrice returns the average execution price, or 0 when unavailable.
func (o *OrderStatusResponse) FillPrice() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(o.AveragePrice), 64)
	if err != nil {
		return 0
	}
	return v
}

// ============ Client ============

// RateLimits defines requests-per-second budgets per endpoint category.
type RateLimits struct {
	MarketData float64
	Trading    float64
}

// DefaultRateLimits matches the gateway's documented per-session budgets.
var DefaultRateLimits = RateLimits{MarketData: 10, Trading: 5}

// API is the HTTP client for the venue gateway.
type API struct {
	client     *http.Client
	baseURL    string
	logger     *log.Logger
	mktLimiter *rate.Limiter
	trdLimiter *rate.Limiter
}

// Option configures an API client.
type Option func(*API)

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) {
		if c != nil {
			a.client = c
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(l *log.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimits overrides the per-category request budgets.
func WithRateLimits(limits RateLimits) Option {
	return func(a *API) {
		if limits.MarketData > 0 {
			a.mktLimiter = rate.NewLimiter(rate.Limit(limits.MarketData), 1)
		}
		if limits.Trading > 0 {
			a.trdLimiter = rate.NewLimiter(rate.Limit(limits.Trading), 1)
		}
	}
}

// NewAPI creates a venue API client. The local gateway terminates TLS with a
// self-signed certificate, so verification is skipped when insecure is set.
func NewAPI(baseURL string, insecure bool, opts ...Option) *API {
	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- local gateway uses a self-signed cert
		}
	}

	a := &API{
		client:     &http.Client{Timeout: 10 * time.Second, Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     log.New(os.Stderr, "broker: ", log.LstdFlags),
		mktLimiter: rate.NewLimiter(rate.Limit(DefaultRateLimits.MarketData), 1),
		trdLimiter: rate.NewLimiter(rate.Limit(DefaultRateLimits.Trading), 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthStatus checks whether the gateway holds an authenticated brokerage session.
func (a *API) AuthStatus(ctx context.Context) (*AuthStatusResponse, error) {
	var resp AuthStatusResponse
	if err := a.makeRequestCtx(ctx, http.MethodPost, "/iserver/auth/status", a.trdLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reauthenticate asks the gateway to re-establish the brokerage session.
func (a *API) Reauthenticate(ctx context.Context) error {
	return a.makeRequestCtx(ctx, http.MethodPost, "/iserver/reauthenticate", a.trdLimiter, nil, nil)
}

// Tickle keeps the gateway session alive. Callers schedule it periodically.
func (a *API) Tickle(ctx context.Context) error {
	return a.makeRequestCtx(ctx, http.MethodPost, "/tickle", a.trdLimiter, nil, nil)
}

// SearchContracts resolves a ticker symbol to matching contracts.
func (a *API) SearchContracts(ctx context.Context, symbol string) ([]ContractSearchResult, error) {
	endpoint := "/iserver/secdef/search?symbol=" + url.QueryEscape(symbol)
	var resp []ContractSearchResult
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, a.mktLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// BrokerageAccounts lists the account ids available to the session.
func (a *API) BrokerageAccounts(ctx context.Context) ([]string, error) {
	var resp struct {
		Accounts []string `json:"accounts"`
	}
	if err := a.makeRequestCtx(ctx, http.MethodGet, "/iserver/accounts", a.trdLimiter, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, fmt.Errorf("no brokerage accounts available")
	}
	return resp.Accounts, nil
}

// FetchStrikes retrieves the full strike lists for a contract and month.
func (a *API) FetchStrikes(ctx context.Context, contractID, month string) (*Strikes, error) {
	params := url.Values{}
	params.Set("conid", contractID)
	params.Set("sectype", "OPT")
	params.Set("month", month)
	endpoint := "/iserver/secdef/strikes?" + params.Encode()

	var resp Strikes
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, a.mktLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ContractInfo retrieves option contract records for one strike and right.
func (a *API) ContractInfo(ctx context.Context, contractID string, strike float64, right, month string) ([]ContractDetail, error) {
	params := url.Values{}
	params.Set("conid", contractID)
	params.Set("secType", "OPT")
	params.Set("month", month)
	params.Set("strike", strconv.FormatFloat(strike, 'f', -1, 64))
	params.Set("right", right)
	endpoint := "/iserver/secdef/info?" + params.Encode()

	var resp []ContractDetail
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, a.mktLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// snapshot fetches raw field-coded records for the given conids.
func (a *API) snapshot(ctx context.Context, conID, fields string) ([]map[string]json.RawMessage, error) {
	params := url.Values{}
	params.Set("conids", conID)
	params.Set("fields", fields)
	endpoint := "/iserver/marketdata/snapshot?" + params.Encode()

	var resp []map[string]json.RawMessage
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, a.mktLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QuoteSnapshot fetches the live quote fields for one option contract.
func (a *API) QuoteSnapshot(ctx context.Context, conID string) (*SnapshotFields, error) {
	records, err := a.snapshot(ctx, conID, liveDataFields)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no snapshot returned for conid %s", conID)
	}
	out := decodeSnapshot(records[0])
	out.ConID = conID
	return out, nil
}

// LastDayPrice fetches the underlying's last price. The gateway only primes
// its snapshot cache on the first request, so the call is made twice with a
// short pause, mirroring the venue quirk.
func (a *API) LastDayPrice(ctx context.Context, conID string) (float64, error) {
	if _, err := a.snapshot(ctx, conID, spotFields); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(time.Second):
	}

	records, err := a.snapshot(ctx, conID, spotFields)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no snapshot returned for conid %s", conID)
	}
	raw := rawField(records[0], fieldLast)
	price, ok := parsePrice(raw)
	if !ok {
		return 0, fmt.Errorf("no last price in snapshot for conid %s", conID)
	}
	return price, nil
}

// PlaceOrder submits one order to the venue for the given account.
func (a *API) PlaceOrder(ctx context.Context, account string, order OrderPayload) (*PlaceOrderResult, error) {
	endpoint := fmt.Sprintf("/iserver/account/%s/orders", url.PathEscape(account))
	body := orderSubmission{Orders: []OrderPayload{order}}

	var resp []PlaceOrderResult
	if err := a.makeRequestCtx(ctx, http.MethodPost, endpoint, a.trdLimiter, body, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty placement response for %s", order.ClientOrderID)
	}
	return annotateRaw(&resp[0]), nil
}

// ConfirmOrder answers one pending confirmation prompt. The venue either
// finalizes the order, raises another prompt, or errors.
func (a *API) ConfirmOrder(ctx context.Context, replyID string, confirmed bool) (*PlaceOrderResult, error) {
	endpoint := fmt.Sprintf("/iserver/reply/%s", url.PathEscape(replyID))
	body := map[string]bool{"confirmed": confirmed}

	var resp []PlaceOrderResult
	if err := a.makeRequestCtx(ctx, http.MethodPost, endpoint, a.trdLimiter, body, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty confirmation response for reply %s", replyID)
	}
	return annotateRaw(&resp[0]), nil
}

// OrderStatus retrieves the venue status of an order by its broker order id.
func (a *API) OrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	endpoint := fmt.Sprintf("/iserver/account/order/status/%s", url.PathEscape(orderID))
	var resp OrderStatusResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, a.trdLimiter, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the venue to cancel a working order.
func (a *API) CancelOrder(ctx context.Context, orderID, account string) error {
	endpoint := fmt.Sprintf("/iserver/account/%s/order/%s", url.PathEscape(account), url.PathEscape(orderID))
	return a.makeRequestCtx(ctx, http.MethodDelete, endpoint, a.trdLimiter, nil, nil)
}

// ============ Internals ============

func annotateRaw(r *PlaceOrderResult) *PlaceOrderResult {
	if raw, err := json.Marshal(r); err == nil {
		r.Raw = string(raw)
	}
	return r
}

func rawField(record map[string]json.RawMessage, field string) string {
	raw, ok := record[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// parsePrice extracts a numeric price from a venue field value. Snapshot
// prices arrive as strings that may carry a leading marker character
// (e.g. "C105.50" for a close price).
func parsePrice(s string) (float64, bool) {
	match := priceRe.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseIntField(s string) int64 {
	match := priceRe.FindString(s)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return int64(v)
}

func decodeSnapshot(record map[string]json.RawMessage) *SnapshotFields {
	out := &SnapshotFields{}
	if v, ok := parsePrice(rawField(record, fieldLast)); ok {
		out.Last = v
	}
	if v, ok := parsePrice(rawField(record, fieldBid)); ok {
		out.Bid = v
	}
	if v, ok := parsePrice(rawField(record, fieldAsk)); ok {
		out.Ask = v
	}
	out.Volume = parseIntField(rawField(record, fieldVolume))
	// Change fields are signed; parse directly rather than via the price regexp.
	if v, err := strconv.ParseFloat(strings.TrimSuffix(rawField(record, fieldChange), "%"), 64); err == nil {
		out.Change = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSuffix(rawField(record, fieldChangePct), "%"), 64); err == nil {
		out.ChangePct = v
	}
	return out
}

func (a *API) makeRequestCtx(ctx context.Context, method, endpoint string,
	limiter *rate.Limiter, body, response any) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "strikestream/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			a.logger.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		errBody, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(errBody))}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
