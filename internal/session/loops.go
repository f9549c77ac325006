package session

import (
	"context"
	"errors"
	"time"

	"github.com/calloway-trading/strikestream/internal/metrics"
	"github.com/calloway-trading/strikestream/internal/models"
	"github.com/calloway-trading/strikestream/internal/storage"
)

// spotLoop polls the underlying's last price and publishes it to the
// session's spot slot. Fetch failures are retried on the next tick and
// never end the session.
func (s *Session) spotLoop() {
	ticker := time.NewTicker(s.sup.intervals.Spot)
	defer ticker.Stop()

	for s.alive() {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		contractID, _ := s.tracked()
		if contractID == "" {
			continue
		}
		price, err := s.sup.broker.LastDayPrice(s.ctx, contractID)
		if err != nil {
			metrics.IncBrokerError("last_day_price")
			s.sup.logger.WithError(err).WithField("conid", contractID).
				Debug("spot price fetch failed")
			continue
		}
		s.spot.Store(price)
		s.chain.SetLastDay(price)
		metrics.SetSpot(contractID, price)
	}
}

// strikeRefreshLoop recomputes the strike window for one tracked contract.
// The first pass runs immediately; later passes every refresh interval. A
// replaced or closed session cancels ctx and ends the loop.
func (s *Session) strikeRefreshLoop(ctx context.Context, contractID, month string) {
	ticker := time.NewTicker(s.sup.intervals.StrikeRefresh)
	defer ticker.Stop()

	for s.alive() && ctx.Err() == nil {
		s.refreshStrikes(ctx, contractID, month)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshStrikes performs one selection pass: fetch the full strike lists,
// window them around spot, prune entries that left the window, and validate
// only the strikes not already in the chain. A missing spot price is a
// readiness gate; a failed strike-list call aborts silently until the next
// tick.
func (s *Session) refreshStrikes(ctx context.Context, contractID, month string) {
	spot := s.spot.Load()
	if spot <= 0 {
		return
	}

	strikes, err := s.sup.broker.FetchStrikes(ctx, contractID, month)
	if err != nil {
		metrics.IncBrokerError("fetch_strikes")
		s.sup.logger.WithError(err).WithField("conid", contractID).
			Debug("strike list fetch failed")
		return
	}

	window := models.SelectStrikes(strikes.Call, strikes.Put, spot, s.sup.windowSize)
	s.chain.Prune(window)

	today := time.Now().UTC().Format(models.MaturityLayout)
	added := false
	for _, strike := range window.Calls {
		if s.validateStrike(ctx, contractID, month, strike, models.RightCall, today) {
			added = true
		}
	}
	for _, strike := range window.Puts {
		if s.validateStrike(ctx, contractID, month, strike, models.RightPut, today) {
			added = true
		}
	}
	s.chain.SetLastDay(s.spot.Load())

	// New entries are pushed right away instead of waiting for the next
	// quote pass.
	if added {
		s.send(ChainPayload{
			OptionChainData: s.chain.Snapshot(),
			Authentication:  true,
		})
		metrics.IncChainPush()
	}
}

// validateStrike fetches contract metadata for one strike side and accepts
// only a same-day-expiry record. Strikes already in the chain are skipped so
// unaffected entries cost no network calls.
func (s *Session) validateStrike(ctx context.Context, contractID, month string,
	strike float64, right models.OptionRight, today string) bool {
	if s.chain.HasLeg(strike, right) {
		return false
	}

	details, err := s.sup.broker.ContractInfo(ctx, contractID, strike, right.VenueCode(), month)
	if err != nil {
		metrics.IncBrokerError("contract_info")
		s.sup.logger.WithError(err).WithField("strike", strike).
			Debug("contract info fetch failed")
		return false
	}

	for _, detail := range details {
		if detail.MaturityDate != today {
			continue
		}
		candidate := &models.StrikeCandidate{
			ContractID:   contractID,
			StrikePrice:  strike,
			Right:        right,
			Month:        month,
			OptionConID:  detail.ConID.String(),
			Description:  detail.Description,
			MaturityDate: detail.MaturityDate,
		}
		if err := s.sup.store.UpsertStrike(ctx, candidate); err != nil {
			s.sup.logger.WithError(err).Warn("persisting strike")
		}
		s.chain.SetLeg(strike, right, &models.ChainLeg{
			ConID:       detail.ConID.String(),
			Description: detail.Description,
		})
		return true
	}
	return false
}

// quoteLoop refreshes quotes for every tracked leg and pushes the complete
// chain after each full pass. A failed fetch for one contract never blocks
// the others.
func (s *Session) quoteLoop() {
	ticker := time.NewTicker(s.sup.intervals.Quote)
	defer ticker.Stop()

	for s.alive() {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		refs := s.chain.LegRefs()
		if len(refs) == 0 {
			continue
		}
		for _, ref := range refs {
			fields, err := s.sup.broker.QuoteSnapshot(s.ctx, ref.ConID)
			if err != nil {
				metrics.IncBrokerError("quote_snapshot")
				s.sup.logger.WithError(err).WithField("conid", ref.ConID).
					Debug("quote fetch failed")
				continue
			}
			s.chain.SetQuote(ref.ConID, &models.QuoteSnapshot{
				Last:      fields.Last,
				Bid:       fields.Bid,
				Ask:       fields.Ask,
				Volume:    fields.Volume,
				Change:    fields.Change,
				ChangePct: fields.ChangePct,
			})
		}

		s.send(ChainPayload{
			OptionChainData: s.chain.Snapshot(),
			Authentication:  true,
		})
		metrics.IncChainPush()
	}
}

// orderGateLoop pushes the timer-gated order-eligibility flag every tick.
// PlaceOrder is nil once the countdown expired or no timer exists today.
func (s *Session) orderGateLoop() {
	ticker := time.NewTicker(s.sup.intervals.OrderGate)
	defer ticker.Stop()

	for s.alive() {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		payload := OrderGatePayload{Authentication: true}
		timer, err := s.sup.store.GetTimer(s.ctx, s.userID, time.Now().UTC())
		switch {
		case err == nil:
			if !timer.Expired() {
				placeOrder := timer.PlaceOrder
				payload.PlaceOrder = &placeOrder
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.sup.logger.WithError(err).Debug("timer lookup failed")
			continue
		}
		s.send(payload)
	}
}

// statusPollLoop reconciles working order legs against the venue and starts
// a P&L task for each newly filled leg. At most one P&L task ever starts
// per leg, tracked in a per-session set.
func (s *Session) statusPollLoop() {
	if s.sup.coord == nil {
		return
	}
	ticker := time.NewTicker(s.sup.intervals.StatusPoll)
	defer ticker.Stop()

	for s.alive() {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		filled, err := s.sup.coord.PollStatuses(s.ctx, s.userID)
		if err != nil {
			s.sup.logger.WithError(err).Debug("status poll failed")
			continue
		}
		for _, leg := range filled {
			s.startPnlTask(leg)
		}
	}
}

// startPnlTask spawns the per-leg P&L stream unless one already ran for
// this leg.
func (s *Session) startPnlTask(leg models.OrderLeg) {
	s.pnlMu.Lock()
	if _, started := s.pnlStarted[leg.ID]; started {
		s.pnlMu.Unlock()
		return
	}
	s.pnlStarted[leg.ID] = struct{}{}
	s.pnlMu.Unlock()

	s.wg.Go(func() { s.pnlLoop(leg) })
}

// pnlLoop streams P&L updates for one filled leg while the session is
// alive. Ticks with an unavailable price are skipped silently.
func (s *Session) pnlLoop(leg models.OrderLeg) {
	ticker := time.NewTicker(s.sup.intervals.Pnl)
	defer ticker.Stop()

	for s.alive() {
		update, ok := s.sup.coord.ComputePnl(s.ctx, &leg)
		if ok {
			s.send(update)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
