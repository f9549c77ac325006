package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/calloway-trading/strikestream/internal/metrics"
	"github.com/calloway-trading/strikestream/internal/models"
)

// PnlUpdate is one profit-and-loss observation for a filled leg, streamed to
// the client while the session is alive.
type PnlUpdate struct {
	Pnl       float64 `json:"pnl"`
	Contract  string  `json:"contract"`
	OrderID   string  `json:"order_id"`
	MarkPrice float64 `json:"current_price"`
	SoldPrice float64 `json:"sold_price"`
	Quantity  int     `json:"quantity"`
}

// ComputePnl computes P&L for a filled short leg against the current mark:
// (filled_price - mark_price) * quantity. The second return is false when
// either price is unavailable this tick; the caller skips the update
// silently and retries on the next interval.
func (c *Coordinator) ComputePnl(ctx context.Context, leg *models.OrderLeg) (*PnlUpdate, bool) {
	if leg.FilledPrice <= 0 {
		return nil, false
	}
	snapshot, err := c.broker.QuoteSnapshot(ctx, leg.ContractID)
	if err != nil {
		metrics.IncBrokerError("quote_snapshot")
		c.logger.WithError(err).WithField("conid", leg.ContractID).
			Debug("mark price fetch failed")
		return nil, false
	}
	mark := snapshot.Last
	if mark <= 0 {
		return nil, false
	}

	filled := decimal.NewFromFloat(leg.FilledPrice)
	qty := decimal.NewFromInt(int64(leg.Quantity))
	pnl, _ := filled.Sub(decimal.NewFromFloat(mark)).Mul(qty).Float64()

	return &PnlUpdate{
		Pnl:       pnl,
		Contract:  leg.ContractID,
		OrderID:   leg.ClientOrderID,
		MarkPrice: mark,
		SoldPrice: leg.FilledPrice,
		Quantity:  leg.Quantity,
	}, true
}
