// Package engine is the trading decision and execution core: strategy runs,
// portfolio rebalancing, the bot lifecycle and on-demand market analysis.
// Every operation is request scoped and re-reads its inputs from the store.
package engine

import (
	"context"
	"time"

	"rebalancer-core/internal/order"
	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// Service is the surface the API layer calls.
type Service interface {
	RunStrategy(ctx context.Context, ownerID, strategyID string) ([]order.TradeResult, error)
	Rebalance(ctx context.Context, ownerID string) (*RebalanceResult, error)
	StartBot(ctx context.Context, ownerID, strategyID string, intervalMs int64) (*BotCommandResult, error)
	StopBot(ctx context.Context, ownerID, strategyID string) (*BotCommandResult, error)
	BotStatus(ctx context.Context, ownerID string) (*BotStatusReport, error)
	AnalyzeMarket(ctx context.Context, symbol string) (*MarketAnalysis, error)
}

// Store is the persistence the engine reads and writes. *db.UserQueries
// satisfies it.
type Store interface {
	GetStrategy(ctx context.Context, userID, strategyID string) (*db.Strategy, error)
	ListStrategies(ctx context.Context, userID string, limit, offset int) ([]db.Strategy, error)
	ListActiveStrategies(ctx context.Context, userID string) ([]db.Strategy, error)
	MarkBotStarted(ctx context.Context, userID, strategyID string, intervalMs int64, at time.Time) error
	MarkBotStopped(ctx context.Context, userID, strategyID string, at time.Time) error
	GetPortfolio(ctx context.Context, userID string) ([]db.PortfolioPosition, error)
	RecentPrices(ctx context.Context, symbol string, limit int) ([]db.PricePoint, error)
}

// ExchangeResolver builds the owner's exchange from stored credentials.
type ExchangeResolver interface {
	Resolve(ctx context.Context, ownerID string) (exchange.Exchange, error)
}

// Trader submits one signal. *order.Executor satisfies it.
type Trader interface {
	Execute(ctx context.Context, ex exchange.Exchange, ownerID string, sig strategy.Signal, tc order.TradeContext) (order.TradeResult, error)
}

var (
	_ Store  = (*db.UserQueries)(nil)
	_ Trader = (*order.Executor)(nil)
)
