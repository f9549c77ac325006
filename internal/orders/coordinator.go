// Package orders drives multi-leg order batches through the venue's
// placement and confirmation protocol and reconciles their status over time.
package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/calloway-trading/strikestream/internal/broker"
	"github.com/calloway-trading/strikestream/internal/metrics"
	"github.com/calloway-trading/strikestream/internal/models"
	"github.com/calloway-trading/strikestream/internal/storage"
	"github.com/calloway-trading/strikestream/internal/util"
)

const (
	// Confirmation chains observed in practice are one or two replies deep.
	// The hard cap guards against a venue bug producing an endless chain.
	maxConfirmRounds = 10

	defaultTIF = "DAY"
	optionTick = 0.01
	secTypeOpt = "OPT"
)

// BatchRequest is a validated-on-entry request to open one three-leg batch:
// an entry SELL plus protective stop-loss and take-profit BUY legs on the
// same contract and quantity.
type BatchRequest struct {
	UserID            string
	Account           string // resolved from the venue when empty
	ContractID        string // option contract conid
	Right             models.OptionRight
	Quantity          int
	EntryPrice        float64
	StopLossPercent   float64 // of entry price, 100-600
	TakeProfitPercent float64 // of entry price, 1-50
	TimeInForce       string
}

// Validate rejects malformed requests before any network call is made.
func (r *BatchRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if r.ContractID == "" {
		return fmt.Errorf("contract id is required")
	}
	if !r.Right.Valid() {
		return fmt.Errorf("option right must be %q or %q, got %q",
			models.RightCall, models.RightPut, r.Right)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", r.Quantity)
	}
	if r.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive, got %.4f", r.EntryPrice)
	}
	if r.StopLossPercent < 100 || r.StopLossPercent > 600 {
		return fmt.Errorf("stop loss percent must be within [100,600], got %.1f", r.StopLossPercent)
	}
	if r.TakeProfitPercent < 1 || r.TakeProfitPercent > 50 {
		return fmt.Errorf("take profit percent must be within [1,50], got %.1f", r.TakeProfitPercent)
	}
	return nil
}

// StopPrice computes the stop-loss BUY limit: entry * (1 + percent/100).
func (r *BatchRequest) StopPrice() float64 {
	entry := decimal.NewFromFloat(r.EntryPrice)
	pct := decimal.NewFromFloat(r.StopLossPercent)
	raw, _ := entry.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100)))).Float64()
	return util.RoundToTick(raw, optionTick)
}

// TargetPrice computes the take-profit BUY limit as a percent of the entry
// price, entry * percent/100. Buying back at a fraction of the sold price is
// what realizes the profit on a short leg.
func (r *BatchRequest) TargetPrice() float64 {
	entry := decimal.NewFromFloat(r.EntryPrice)
	pct := decimal.NewFromFloat(r.TakeProfitPercent)
	raw, _ := entry.Mul(pct.Div(decimal.NewFromInt(100))).Float64()
	return util.RoundToTick(raw, optionTick)
}

// Coordinator owns order batch sequencing, the confirmation loop, status
// reconciliation, and cancellation.
type Coordinator struct {
	broker broker.Client
	store  storage.Interface
	ids    *IDGenerator
	logger *logrus.Logger
}

// NewCoordinator wires a coordinator to the venue client and the store.
func NewCoordinator(client broker.Client, store storage.Interface, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		broker: client,
		store:  store,
		ids:    NewIDGenerator(store),
		logger: logger,
	}
}

// resolveAccount returns the explicit account or the first brokerage account
// the venue reports for this session.
func (c *Coordinator) resolveAccount(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	accounts, err := c.broker.BrokerageAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving brokerage account: %w", err)
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("no brokerage accounts available")
	}
	return accounts[0], nil
}

// SubmitBatch validates the request, then places the three legs strictly in
// order: entry SELL first, then stop-loss BUY, then take-profit BUY. A
// failed leg is recorded as Rejected and does not stop the later legs; the
// batch outcome is the union of its legs' outcomes.
func (c *Coordinator) SubmitBatch(ctx context.Context, req *BatchRequest) (*models.OrderBatch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	account, err := c.resolveAccount(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = defaultTIF
	}

	batch := &models.OrderBatch{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Account:     account,
		ContractID:  req.ContractID,
		Right:       req.Right,
		Quantity:    req.Quantity,
		EntryPrice:  util.RoundToTick(req.EntryPrice, optionTick),
		StopPrice:   req.StopPrice(),
		TargetPrice: req.TargetPrice(),
		CreatedAt:   time.Now().UTC(),
	}

	plan := []struct {
		kind  models.BatchLegKind
		side  models.OrderSide
		typ   models.OrderType
		price float64
	}{
		{models.LegEntry, models.SideSell, models.TypeLimit, batch.EntryPrice},
		{models.LegStopLoss, models.SideBuy, models.TypeStop, batch.StopPrice},
		{models.LegTakeProfit, models.SideBuy, models.TypeLimit, batch.TargetPrice},
	}

	for _, p := range plan {
		leg, err := c.placeLeg(ctx, batch, p.kind, p.side, p.typ, p.price, tif)
		if err != nil {
			return nil, err
		}
		batch.Legs = append(batch.Legs, *leg)
	}
	return batch, nil
}

// placeLeg creates, persists, submits, and confirms one leg. Venue-side
// failures reject the leg but return a nil error so the caller continues
// with the remaining legs; only local failures (id generation, persistence)
// abort the batch.
func (c *Coordinator) placeLeg(ctx context.Context, batch *models.OrderBatch,
	kind models.BatchLegKind, side models.OrderSide, typ models.OrderType,
	price float64, tif string) (*models.OrderLeg, error) {

	clientOrderID, err := c.ids.Next(ctx)
	if err != nil {
		return nil, err
	}

	leg := &models.OrderLeg{
		ID:            uuid.NewString(),
		BatchID:       batch.ID,
		UserID:        batch.UserID,
		Account:       batch.Account,
		ContractID:    batch.ContractID,
		Right:         batch.Right,
		Side:          side,
		OrderType:     typ,
		TimeInForce:   tif,
		Quantity:      batch.Quantity,
		Price:         price,
		ClientOrderID: clientOrderID,
		Status:        models.StatusNew,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateOrderLeg(ctx, leg); err != nil {
		return nil, fmt.Errorf("persisting %s leg: %w", kind, err)
	}

	conid, err := strconv.ParseInt(batch.ContractID, 10, 64)
	if err != nil {
		c.rejectLeg(ctx, leg, fmt.Sprintf("invalid contract id %q", batch.ContractID))
		return leg, nil
	}

	payload := broker.OrderPayload{
		AcctID:        batch.Account,
		ConID:         conid,
		SecType:       fmt.Sprintf("%d:%s", conid, secTypeOpt),
		ClientOrderID: clientOrderID,
		OrderType:     string(typ),
		Side:          string(side),
		TIF:           tif,
		Quantity:      batch.Quantity,
		Price:         price,
	}

	result, err := c.broker.PlaceOrder(ctx, batch.Account, payload)
	if err != nil {
		metrics.IncBrokerError("place_order")
		c.rejectLeg(ctx, leg, err.Error())
		return leg, nil
	}
	c.confirmLeg(ctx, leg, result)
	return leg, nil
}

// confirmLeg drives the reply-confirmation chain until a final order id or a
// terminal error. Each round consumes the current pending handle; a response
// carrying neither a final id nor a new handle is malformed and terminal.
func (c *Coordinator) confirmLeg(ctx context.Context, leg *models.OrderLeg, result *broker.PlaceOrderResult) {
	rounds := 0
	for {
		if result.Final() {
			leg.BrokerOrderID = result.OrderID
			leg.RawResponse = result.Raw
			if err := leg.Transition(models.StatusConfirmed); err != nil {
				c.logger.WithError(err).Warn("leg status transition")
			}
			if status, ok := models.NormalizeBrokerStatus(result.Status); ok && status != models.StatusConfirmed {
				_ = leg.Transition(status)
			}
			c.persistLeg(ctx, leg)
			metrics.ObserveConfirmRounds(rounds)
			metrics.IncOrder(string(leg.Side), string(leg.Status))
			return
		}
		if !result.Pending() {
			c.rejectLeg(ctx, leg, fmt.Sprintf("malformed placement response: %s", result.Raw))
			return
		}
		if rounds >= maxConfirmRounds {
			c.rejectLeg(ctx, leg, "confirmation chain exceeded round limit")
			return
		}

		if err := leg.Transition(models.StatusConfirming); err != nil {
			c.logger.WithError(err).Warn("leg status transition")
		}
		c.persistLeg(ctx, leg)

		rounds++
		next, err := c.broker.ConfirmOrder(ctx, result.ReplyID, true)
		if err != nil {
			metrics.IncBrokerError("confirm_order")
			c.rejectLeg(ctx, leg, err.Error())
			return
		}
		result = next
	}
}

// rejectLeg marks a leg Rejected with the raw failure payload. Error legs
// are always persisted so partial-batch failures stay auditable.
func (c *Coordinator) rejectLeg(ctx context.Context, leg *models.OrderLeg, reason string) {
	leg.RawResponse = reason
	if err := leg.Transition(models.StatusRejected); err != nil {
		c.logger.WithError(err).Warn("leg status transition")
		leg.Status = models.StatusRejected
	}
	c.persistLeg(ctx, leg)
	metrics.IncOrder(string(leg.Side), string(models.StatusRejected))
	c.logger.WithFields(logrus.Fields{
		"client_order_id": leg.ClientOrderID,
		"reason":          reason,
	}).Warn("order leg rejected")
}

func (c *Coordinator) persistLeg(ctx context.Context, leg *models.OrderLeg) {
	if err := c.store.UpdateOrderLeg(ctx, leg); err != nil {
		c.logger.WithError(err).WithField("leg_id", leg.ID).Error("persisting order leg")
	}
}

// CancelLeg cancels a working leg at the venue. A leg that never received a
// broker order id cannot be cancelled and returns a client error immediately.
func (c *Coordinator) CancelLeg(ctx context.Context, legID string) error {
	leg, err := c.store.GetOrderLeg(ctx, legID)
	if err != nil {
		return err
	}
	if leg.BrokerOrderID == "" {
		return fmt.Errorf("leg %s has no broker order id yet and cannot be cancelled", leg.ClientOrderID)
	}

	account, err := c.resolveAccount(ctx, leg.Account)
	if err != nil {
		return err
	}
	if err := c.broker.CancelOrder(ctx, leg.BrokerOrderID, account); err != nil {
		metrics.IncBrokerError("cancel_order")
		return fmt.Errorf("cancelling order %s: %w", leg.BrokerOrderID, err)
	}
	if err := leg.Transition(models.StatusCancelled); err != nil {
		return err
	}
	c.persistLeg(ctx, leg)
	metrics.IncOrder(string(leg.Side), string(models.StatusCancelled))
	return nil
}
