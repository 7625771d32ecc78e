package engine

import (
	"context"
	"fmt"
	"strings"

	"rebalancer-core/internal/indicators"
	"rebalancer-core/internal/strategy"
)

// AnalyzeMarket runs the signal generator on the stored history of symbol
// without trading.
func (e *Engine) AnalyzeMarket(ctx context.Context, symbol string) (*MarketAnalysis, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalid)
	}
	history, err := e.prices(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	return &MarketAnalysis{
		Symbol:     symbol,
		Signal:     strategy.Analyze(symbol, history),
		Indicators: indicators.Compute(history),
		DataPoints: len(history),
	}, nil
}
