package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"rebalancer-core/internal/events"
	"rebalancer-core/internal/journal"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// PlaceManual forwards a user-entered order to ex and records it as pending.
// Unlike Execute it performs no sizing: the request quantity is used as is.
func (e *Executor) PlaceManual(ctx context.Context, ex exchange.Exchange, ownerID string, req exchange.OrderRequest) (TradeResult, error) {
	if req.Type == "" {
		req.Type = exchange.OrderTypeMarket
	}
	res := TradeResult{
		Symbol:   req.Symbol,
		Side:     strings.ToLower(string(req.Side)),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	meta := journal.Metadata{"request": req, "source": "manual"}

	ack, err := ex.PlaceOrder(ctx, req)
	if err != nil {
		ue := upstream("place order", err)
		res.Error = ue.Error()
		meta["error"] = ue.Error()
		if ue.Body != "" {
			meta["response"] = ue.Body
		}
		_, _ = e.audit.Error(ctx, ownerID, "Manual order failed for "+req.Symbol, meta)
		return res, ue
	}

	res.Success = true
	res.ExternalOrderID = ack.ExternalOrderID
	res.Status = string(ack.Status)
	res.Response = ack.Raw

	row := db.Order{
		ID:              uuid.NewString(),
		UserID:          ownerID,
		Exchange:        ex.Name(),
		Symbol:          req.Symbol,
		Side:            res.Side,
		OrderType:       strings.ToLower(string(req.Type)),
		Quantity:        req.Quantity,
		Status:          db.OrderStatusPending,
		ExternalOrderID: ack.ExternalOrderID,
		CreatedAt:       e.now(),
	}
	if req.Price > 0 {
		row.Price = &req.Price
	}
	if err := e.store.CreateOrder(ctx, row); err != nil {
		meta["record_error"] = err.Error()
		_, _ = e.audit.Info(ctx, ownerID, "Manual order placed for "+req.Symbol, meta)
		return res, fmt.Errorf("record order: %w", err)
	}
	res.OrderID = row.ID
	meta["result"] = rawOrNull(ack.Raw)
	e.bus.Publish(events.Message{Topic: events.EventOrderCreated, UserID: ownerID, Payload: row})
	_, _ = e.audit.Info(ctx, ownerID, "Manual order placed for "+req.Symbol, meta)
	return res, nil
}
