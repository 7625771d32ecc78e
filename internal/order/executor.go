package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rebalancer-core/internal/events"
	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/risk"
	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

var (
	// ErrUpstream marks a failed exchange call.
	ErrUpstream = errors.New("upstream failure")
	// ErrZeroQuantity is returned when sizing yields nothing to trade.
	ErrZeroQuantity = errors.New("sized quantity is zero")
	// ErrNotTradable is returned for hold signals.
	ErrNotTradable = errors.New("signal is not tradable")
)

// Store persists orders created by the executor.
type Store interface {
	CreateOrder(ctx context.Context, o db.Order) error
}

// AuditLog receives the single audit entry written per execution.
type AuditLog interface {
	Info(ctx context.Context, userID, message string, meta journal.Metadata) (journal.Entry, error)
	Error(ctx context.Context, userID, message string, meta journal.Metadata) (journal.Entry, error)
}

// TradeContext carries the owning strategy and its risk parameters.
type TradeContext struct {
	StrategyID string
	Sizing     risk.SizingParams
}

// TradeResult is returned to the caller for every attempted execution.
// Response holds the venue body verbatim (the ack on success, the error body
// on rejection when the venue supplied one).
type TradeResult struct {
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Quantity        float64         `json:"quantity"`
	Price           float64         `json:"price"`
	Signal          strategy.Signal `json:"signal"`
	Success         bool            `json:"success"`
	OrderID         string          `json:"order_id,omitempty"`
	ExternalOrderID string          `json:"external_order_id,omitempty"`
	Status          string          `json:"status,omitempty"`
	Response        json.RawMessage `json:"response,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// UpstreamError wraps a failed exchange call. It matches both ErrUpstream and
// the underlying venue error under errors.Is / errors.As.
type UpstreamError struct {
	Op   string
	Err  error
	Body string
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

func upstream(op string, err error) *UpstreamError {
	ue := &UpstreamError{Op: op, Err: err}
	var re exchange.ResponseError
	if errors.As(err, &re) {
		ue.Body = re.ResponseBody()
	}
	return ue
}

// Executor sizes signals, submits market orders and records the outcome.
type Executor struct {
	store  Store
	audit  AuditLog
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor wires an executor. bus may be nil.
func NewExecutor(store Store, audit AuditLog, bus *events.Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, audit: audit, bus: bus, logger: logger.Named("executor"), now: time.Now}
}

// Execute submits one MARKET order for sig against ex on behalf of ownerID.
// A zero signal price is resolved from the venue first. Exactly one audit
// entry is written. Failed submissions are not retried.
func (e *Executor) Execute(ctx context.Context, ex exchange.Exchange, ownerID string, sig strategy.Signal, tc TradeContext) (TradeResult, error) {
	res := TradeResult{Symbol: sig.Symbol, Signal: sig, Price: sig.Price}

	side, err := sideFor(sig.Action)
	if err != nil {
		return e.fail(ctx, ownerID, tc, res, err)
	}
	res.Side = strings.ToLower(string(side))

	if res.Price <= 0 {
		price, err := ex.GetPrice(ctx, sig.Symbol)
		if err != nil {
			return e.fail(ctx, ownerID, tc, res, upstream("get price", err))
		}
		res.Price = price
	}

	res.Quantity = risk.PositionSize(res.Price, tc.Sizing)
	if res.Quantity <= 0 {
		return e.fail(ctx, ownerID, tc, res, ErrZeroQuantity)
	}

	ack, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Quantity: res.Quantity,
	})
	if err != nil {
		return e.fail(ctx, ownerID, tc, res, upstream("place order", err))
	}

	res.Success = true
	res.ExternalOrderID = ack.ExternalOrderID
	res.Status = string(ack.Status)
	res.Response = ack.Raw

	row := db.Order{
		ID:              uuid.NewString(),
		UserID:          ownerID,
		StrategyID:      tc.StrategyID,
		Exchange:        ex.Name(),
		Symbol:          sig.Symbol,
		Side:            res.Side,
		OrderType:       "market",
		Quantity:        res.Quantity,
		Price:           &res.Price,
		Status:          db.OrderStatusPending,
		ExternalOrderID: ack.ExternalOrderID,
		CreatedAt:       e.now(),
	}
	meta := journal.Metadata{"signal": sig, "result": rawOrNull(ack.Raw), "strategy_id": tc.StrategyID}

	var storeErr error
	if err := e.store.CreateOrder(ctx, row); err != nil {
		storeErr = fmt.Errorf("record order: %w", err)
		meta["record_error"] = storeErr.Error()
	} else {
		res.OrderID = row.ID
		e.bus.Publish(events.Message{Topic: events.EventOrderCreated, UserID: ownerID, Payload: row})
	}

	if _, err := e.audit.Info(ctx, ownerID, "Trade executed for "+sig.Symbol, meta); err != nil {
		e.logger.Warn("audit write failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
	return res, storeErr
}

func (e *Executor) fail(ctx context.Context, ownerID string, tc TradeContext, res TradeResult, cause error) (TradeResult, error) {
	res.Error = cause.Error()

	result := map[string]any{"error": cause.Error()}
	var ue *UpstreamError
	if errors.As(cause, &ue) && ue.Body != "" {
		if json.Valid([]byte(ue.Body)) {
			res.Response = json.RawMessage(ue.Body)
			result["response"] = res.Response
		} else {
			result["response"] = ue.Body
		}
	}

	meta := journal.Metadata{"signal": res.Signal, "result": result, "strategy_id": tc.StrategyID}
	if _, err := e.audit.Error(ctx, ownerID, "Trade failed for "+res.Symbol, meta); err != nil {
		e.logger.Warn("audit write failed", zap.String("symbol", res.Symbol), zap.Error(err))
	}
	return res, cause
}

func sideFor(a strategy.Action) (exchange.Side, error) {
	switch a {
	case strategy.ActionBuy:
		return exchange.SideBuy, nil
	case strategy.ActionSell:
		return exchange.SideSell, nil
	default:
		return "", fmt.Errorf("%w: action %q", ErrNotTradable, a)
	}
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
