package orders

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/calloway-trading/strikestream/internal/metrics"
	"github.com/calloway-trading/strikestream/internal/models"
)

// PollStatuses re-fetches venue status for every non-terminal persisted leg
// of the user and applies the resulting transitions. It returns the legs
// that transitioned to Filled during this pass so the caller can start their
// P&L tasks. Per-leg fetch failures are logged and skipped; the next pass
// retries them.
func (c *Coordinator) PollStatuses(ctx context.Context, userID string) ([]models.OrderLeg, error) {
	legs, err := c.store.ListOpenOrderLegs(ctx, userID)
	if err != nil {
		return nil, err
	}

	var filled []models.OrderLeg
	for i := range legs {
		leg := &legs[i]
		if leg.BrokerOrderID == "" {
			continue
		}

		status, err := c.broker.OrderStatus(ctx, leg.BrokerOrderID)
		if err != nil {
			metrics.IncBrokerError("order_status")
			c.logger.WithError(err).WithField("order_id", leg.BrokerOrderID).
				Debug("order status fetch failed")
			continue
		}

		next, recognized := models.NormalizeBrokerStatus(status.Status)
		if !recognized {
			c.logger.WithFields(logrus.Fields{
				"order_id": leg.BrokerOrderID,
				"status":   status.Status,
			}).Debug("unrecognized order status")
		}
		if next == leg.Status {
			continue
		}
		if err := leg.Transition(next); err != nil {
			c.logger.WithError(err).Warn("leg status transition")
			continue
		}
		if next == models.StatusFilled {
			if price := status.FillPrice(); price > 0 {
				leg.FilledPrice = price
			}
			filled = append(filled, *leg)
		}
		c.persistLeg(ctx, leg)
		metrics.IncOrder(string(leg.Side), string(leg.Status))
	}
	return filled, nil
}
