// Package session owns the per-connection lifecycle: a supervisor opens a
// session for an authenticated principal, spawns the polling loops that feed
// it, routes inbound commands, and unwinds everything on disconnect.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/metrics"
	"github.com/calloway-trading/strikestream/internal/orders"
	"github.com/calloway-trading/strikestream/internal/storage"
)

// Sink delivers outbound events to the client. The websocket layer provides
// the production implementation; tests inject recorders.
type Sink interface {
	Send(ctx context.Context, payload any) error
}

// Intervals configures the cadence of every session loop.
type Intervals struct {
	Spot          time.Duration
	StrikeRefresh time.Duration
	Quote         time.Duration
	OrderGate     time.Duration
	StatusPoll    time.Duration
	Pnl           time.Duration
}

// DefaultIntervals returns the production loop cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		Spot:          500 * time.Millisecond,
		StrikeRefresh: 15 * time.Second,
		Quote:         200 * time.Millisecond,
		OrderGate:     time.Second,
		StatusPoll:    2 * time.Second,
		Pnl:           1500 * time.Millisecond,
	}
}

// DefaultWindowSize is how many strikes are selected per side around spot.
const DefaultWindowSize = 20

// Supervisor opens and owns client sessions.
type Supervisor struct {
	broker     broker.Client
	store      storage.Interface
	coord      *orders.Coordinator
	intervals  Intervals
	windowSize int
	logger     *logrus.Logger
}

// NewSupervisor wires a supervisor to the venue client and store.
func NewSupervisor(client broker.Client, store storage.Interface, coord *orders.Coordinator,
	intervals Intervals, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{
		broker:     client,
		store:      store,
		coord:      coord,
		intervals:  intervals,
		windowSize: DefaultWindowSize,
		logger:     logger,
	}
}

// Session is one connected client: its identity, run flag, child loops, and
// the contract it is currently tracking.
type Session struct {
	sup    *Supervisor
	userID string
	sink   Sink

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	closed  sync.Once
	wg      conc.WaitGroup

	chain *chainState
	spot  spotSlot

	trackMu      sync.Mutex
	contractID   string
	month        string
	strikeCancel context.CancelFunc

	pnlMu      sync.Mutex
	pnlStarted map[string]struct{}
}

// Open authenticates the principal and starts the session's standing loops:
// spot poller, quote fan-out, order-gate timer, and order status poll. The
// strike refresh loop starts later, when the client tracks a contract.
func (s *Supervisor) Open(ctx context.Context, userID string, sink Sink) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session principal could not be resolved")
	}

	status, err := s.broker.AuthStatus(ctx)
	if err != nil || !status.Authenticated {
		_ = sink.Send(ctx, errPayload("brokerage session is not authenticated", false))
		if err != nil {
			return nil, fmt.Errorf("auth status: %w", err)
		}
		return nil, fmt.Errorf("brokerage session is not authenticated")
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		sup:        s,
		userID:     userID,
		sink:       sink,
		ctx:        sessCtx,
		cancel:     cancel,
		chain:      newChainState(),
		pnlStarted: make(map[string]struct{}),
	}
	session.running.Store(true)
	metrics.SessionOpened()

	session.wg.Go(func() { session.spotLoop() })
	session.wg.Go(func() { session.quoteLoop() })
	session.wg.Go(func() { session.orderGateLoop() })
	session.wg.Go(func() { session.statusPollLoop() })

	s.logger.WithField("user_id", userID).Info("session opened")
	return session, nil
}

// Dispatch routes one inbound message. A ticker is resolved to a contract
// first; a contract id (re)starts strike tracking, replacing any previous
// strike refresh loop.
func (s *Session) Dispatch(ctx context.Context, raw []byte) error {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.send(errPayload("could not decode command", true))
		return fmt.Errorf("decoding command: %w", err)
	}

	switch {
	case cmd.Ticker != "":
		return s.trackTicker(ctx, cmd.Ticker)
	case cmd.ContractID != "":
		return s.trackContract(ctx, cmd.ContractID)
	default:
		s.send(errPayload("contract_id is a required parameter.", true))
		return fmt.Errorf("command carries neither ticker nor contract_id")
	}
}

func (s *Session) trackTicker(ctx context.Context, ticker string) error {
	results, err := s.sup.broker.SearchContracts(ctx, ticker)
	if err != nil {
		s.send(errPayload(fmt.Sprintf("could not resolve ticker %s", ticker), true))
		return fmt.Errorf("searching ticker %s: %w", ticker, err)
	}
	if len(results) == 0 {
		s.send(errPayload(fmt.Sprintf("no contract found for ticker %s", ticker), true))
		return fmt.Errorf("no contract found for ticker %s", ticker)
	}

	// Search results mix security types; take the first contract that
	// actually lists option months.
	var contract broker.ContractSearchResult
	var month string
	for _, res := range results {
		if m := res.OptionMonth(); m != "" {
			contract, month = res, m
			break
		}
	}
	if month == "" {
		s.send(errPayload(fmt.Sprintf("ticker %s has no option chain", ticker), true))
		return fmt.Errorf("ticker %s has no option months", ticker)
	}
	if err := s.sup.store.SaveTrackedContract(ctx, s.userID, contract.ConID, month); err != nil {
		s.sup.logger.WithError(err).Warn("saving tracked contract")
	}
	s.startTracking(contract.ConID, month)
	return nil
}

func (s *Session) trackContract(ctx context.Context, contractID string) error {
	month, err := s.sup.store.GetTrackedContractMonth(ctx, s.userID, contractID, time.Now().UTC())
	if err != nil {
		s.send(errPayload(fmt.Sprintf("contract %s has not been resolved today, send its ticker first", contractID), true))
		return fmt.Errorf("no resolved month for contract %s: %w", contractID, err)
	}
	s.startTracking(contractID, month)
	return nil
}

// startTracking replaces the session's strike refresh loop. At most one is
// active per session; the previous loop is cancelled before the chain is
// reset for the new contract.
func (s *Session) startTracking(contractID, month string) {
	s.trackMu.Lock()
	if s.strikeCancel != nil {
		s.strikeCancel()
	}
	s.contractID = contractID
	s.month = month
	s.chain.Reset()

	strikeCtx, cancel := context.WithCancel(s.ctx)
	s.strikeCancel = cancel
	s.trackMu.Unlock()

	s.wg.Go(func() { s.strikeRefreshLoop(strikeCtx, contractID, month) })
	s.sup.logger.WithFields(logrus.Fields{
		"user_id": s.userID,
		"conid":   contractID,
		"month":   month,
	}).Info("tracking contract")
}

// tracked returns the current contract id and month, empty before the first
// track command.
func (s *Session) tracked() (string, string) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.contractID, s.month
}

// Close sets the run flag false, cancels every child loop, and waits for
// them to drain. Safe to call more than once.
func (s *Session) Close() {
	s.closed.Do(func() {
		s.running.Store(false)
		s.cancel()
		s.wg.Wait()
		metrics.SessionClosed()
		s.sup.logger.WithField("user_id", s.userID).Info("session closed")
	})
}

// alive reports whether loops should run another iteration. Every loop
// checks this at the top of each pass in addition to its context.
func (s *Session) alive() bool {
	return s.running.Load() && s.ctx.Err() == nil
}

// send delivers a payload unless the session has closed; results of
// in-flight work are discarded after close.
func (s *Session) send(payload any) {
	if !s.alive() {
		return
	}
	if err := s.sink.Send(s.ctx, payload); err != nil {
		s.sup.logger.WithError(err).Debug("outbound send failed")
	}
}
