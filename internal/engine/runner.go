package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rebalancer-core/internal/events"
	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/strategy"
)

// RunStrategy analyses every configured symbol of the strategy and executes
// the signals that clear its confidence threshold. A missing or inactive
// strategy aborts before any work. Per-symbol failures are logged and the
// run continues; the returned slice holds every attempted trade.
func (e *Engine) RunStrategy(ctx context.Context, ownerID, strategyID string) ([]order.TradeResult, error) {
	s, err := e.loadStrategy(ctx, ownerID, strategyID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactive, strategyID)
	}
	cfg, err := parseConfig(s)
	if err != nil {
		return nil, err
	}

	ex := &lazyExchange{resolver: e.exchanges, ownerID: ownerID}
	tc := order.TradeContext{StrategyID: s.ID, Sizing: cfg.Sizing()}
	results := []order.TradeResult{}

	for _, symbol := range cfg.RunSymbols() {
		res, attempted, err := e.runSymbol(ctx, ex, ownerID, symbol, cfg.Threshold(), tc)
		if attempted {
			results = append(results, res)
		}
		if err != nil {
			e.logger.Debug("symbol failed", zap.String("strategy_id", s.ID), zap.String("symbol", symbol), zap.Error(err))
			e.record(ctx, func() error {
				_, werr := e.audit.Error(ctx, ownerID, fmt.Sprintf("Error processing %s: %v", symbol, err), journal.Metadata{
					"strategy_id": s.ID,
					"symbol":      symbol,
				})
				return werr
			})
		}
	}
	return results, nil
}

func (e *Engine) runSymbol(ctx context.Context, ex *lazyExchange, ownerID, symbol string, threshold float64, tc order.TradeContext) (order.TradeResult, bool, error) {
	history, err := e.prices(ctx, symbol)
	if err != nil {
		return order.TradeResult{}, false, fmt.Errorf("load price history: %w", err)
	}

	sig := strategy.Analyze(symbol, history)
	e.record(ctx, func() error {
		_, err := e.audit.Info(ctx, ownerID, "Trading signal generated for "+symbol, journal.Metadata{
			"signal":      sig,
			"strategy_id": tc.StrategyID,
		})
		return err
	})
	e.bus.Publish(events.Message{Topic: events.EventSignal, UserID: ownerID, Payload: sig})

	if !sig.Actionable(threshold) {
		return order.TradeResult{}, false, nil
	}

	venue, err := ex.get(ctx)
	if err != nil {
		return order.TradeResult{}, false, fmt.Errorf("resolve exchange: %w", err)
	}
	res, err := e.trader.Execute(ctx, venue, ownerID, sig, tc)
	return res, true, err
}
