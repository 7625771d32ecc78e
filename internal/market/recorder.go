// Package market records public ticker data into price history.
package market

import (
	"context"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"rebalancer-core/internal/events"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// Sink receives recorded price points.
type Sink interface {
	Add(points ...db.PricePoint)
}

// RecorderConfig wires a Recorder.
type RecorderConfig struct {
	Source      exchange.MarketData
	Sink        Sink
	Symbols     []string
	Interval    time.Duration
	Concurrency int
	Bus         *events.Bus
	Logger      *zap.Logger
}

// Recorder polls rolling 24h tickers for the tracked symbols on a fixed
// interval and appends one price point per symbol per round.
type Recorder struct {
	source      exchange.MarketData
	sink        Sink
	symbols     []string
	interval    time.Duration
	concurrency int
	bus         *events.Bus
	logger      *zap.Logger
	now         func() time.Time
}

// NewRecorder builds a recorder. Symbols are upper-cased.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return &Recorder{
		source:      cfg.Source,
		sink:        cfg.Sink,
		symbols:     symbols,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		bus:         cfg.Bus,
		logger:      logger.Named("recorder"),
		now:         time.Now,
	}
}

// Run polls until ctx is cancelled. The first round runs immediately.
func (r *Recorder) Run(ctx context.Context) {
	if r.source == nil || r.sink == nil || len(r.symbols) == 0 {
		r.logger.Warn("price recorder not fully configured; skipping start")
		return
	}
	r.logger.Info("price recorder started", zap.Strings("symbols", r.symbols), zap.Duration("interval", r.interval))

	r.Poll(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll fetches every tracked symbol once and returns the points recorded.
// A failing symbol is logged and skipped.
func (r *Recorder) Poll(ctx context.Context) []db.PricePoint {
	at := r.now().UTC()
	p := pool.NewWithResults[*db.PricePoint]().WithMaxGoroutines(r.concurrency)
	for _, symbol := range r.symbols {
		p.Go(func() *db.PricePoint {
			stats, err := r.source.Get24hStats(ctx, symbol)
			if err != nil || len(stats) == 0 {
				r.logger.Warn("ticker fetch failed", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			vol := stats[0].Volume
			return &db.PricePoint{Symbol: symbol, Price: stats[0].LastPrice, Volume: &vol, Timestamp: at}
		})
	}

	var points []db.PricePoint
	for _, pt := range p.Wait() {
		if pt != nil && pt.Price > 0 {
			points = append(points, *pt)
		}
	}
	if len(points) == 0 {
		return nil
	}
	r.sink.Add(points...)
	r.bus.Publish(events.Message{Topic: events.EventPriceRecorded, Payload: points})
	return points
}
