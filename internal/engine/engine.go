package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rebalancer-core/internal/events"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// HistoryWindow is the number of recent price points fed to the signal generator.
const HistoryWindow = 50

// DefaultQuoteAsset is the cash asset of synced portfolios.
const DefaultQuoteAsset = "USDT"

// Config wires an Engine.
type Config struct {
	Store     Store
	Exchanges ExchangeResolver
	Trader    Trader
	Audit     order.AuditLog
	Weighter  TargetWeighter // defaults to EqualWeight
	Bus       *events.Bus
	Logger    *zap.Logger

	// QuoteAsset rows count toward portfolio value but are never traded.
	QuoteAsset string
}

// Engine implements Service.
type Engine struct {
	store     Store
	exchanges ExchangeResolver
	trader    Trader
	audit     order.AuditLog
	weighter  TargetWeighter
	quote     string
	bus       *events.Bus
	logger    *zap.Logger
	now       func() time.Time
}

var _ Service = (*Engine)(nil)

// New builds an engine from cfg.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	weighter := cfg.Weighter
	if weighter == nil {
		weighter = EqualWeight{}
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = DefaultQuoteAsset
	}
	return &Engine{
		store:     cfg.Store,
		exchanges: cfg.Exchanges,
		trader:    cfg.Trader,
		audit:     cfg.Audit,
		weighter:  weighter,
		quote:     quote,
		bus:       cfg.Bus,
		logger:    logger.Named("engine"),
		now:       time.Now,
	}
}

// loadStrategy maps store misses to ErrNotFound.
func (e *Engine) loadStrategy(ctx context.Context, ownerID, strategyID string) (*db.Strategy, error) {
	s, err := e.store.GetStrategy(ctx, ownerID, strategyID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strategyID)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// lazyExchange resolves the owner's exchange on first use and remembers the
// outcome, error included, for the rest of the invocation.
type lazyExchange struct {
	resolver ExchangeResolver
	ownerID  string
	done     bool
	ex       exchange.Exchange
	err      error
}

func (l *lazyExchange) get(ctx context.Context) (exchange.Exchange, error) {
	if !l.done {
		l.done = true
		if l.resolver == nil {
			l.err = errors.New("no exchange resolver configured")
		} else {
			l.ex, l.err = l.resolver.Resolve(ctx, l.ownerID)
		}
	}
	return l.ex, l.err
}

func (e *Engine) prices(ctx context.Context, symbol string) ([]float64, error) {
	points, err := e.store.RecentPrices(ctx, symbol, HistoryWindow)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, write func() error) {
	if err := write(); err != nil {
		e.logger.Warn("audit write failed", zap.Error(err))
	}
}

func parseConfig(s *db.Strategy) (strategy.Config, error) {
	cfg, err := strategy.ParseConfig(s.Parameters)
	if err != nil {
		return strategy.Config{}, fmt.Errorf("strategy %s: %w", s.ID, err)
	}
	return cfg, nil
}
