// Package portfolio mirrors exchange balances into the portfolio table.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"rebalancer-core/internal/journal"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// DefaultQuoteAsset prices every holding.
const DefaultQuoteAsset = "USDT"

// Store reads and writes portfolio rows.
type Store interface {
	GetPortfolio(ctx context.Context, userID string) ([]db.PortfolioPosition, error)
	UpsertPosition(ctx context.Context, p db.PortfolioPosition) error
	DeletePosition(ctx context.Context, userID, symbol string) error
}

// AuditLog receives the sync summary.
type AuditLog interface {
	Success(ctx context.Context, userID, message string, meta journal.Metadata) (journal.Entry, error)
}

// SyncResult summarises one sync.
type SyncResult struct {
	Positions  []db.PortfolioPosition `json:"-"`
	TotalValue float64                `json:"total_value"`
	Updated    int                    `json:"updated"`
	Removed    int                    `json:"removed"`
	Skipped    []string               `json:"skipped"`
}

// Syncer converts balances into positions keyed by trading symbol
// (asset + quote, e.g. BTCUSDT). The quote asset itself is stored under its
// own name at price 1.
type Syncer struct {
	store       Store
	audit       AuditLog
	quote       string
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncer wires a syncer. audit may be nil.
func NewSyncer(store Store, audit AuditLog, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:       store,
		audit:       audit,
		quote:       DefaultQuoteAsset,
		concurrency: 4,
		logger:      logger.Named("portfolio"),
		now:         time.Now,
	}
}

type priced struct {
	symbol  string
	balance exchange.Balance
	price   float64
	err     error
}

// Sync refreshes ownerID's portfolio from ex. Assets whose price cannot be
// resolved are skipped; rows for assets no longer held are removed.
func (s *Syncer) Sync(ctx context.Context, ex exchange.Exchange, ownerID string) (*SyncResult, error) {
	balances, err := ex.GetAccountBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	existing, err := s.store.GetPortfolio(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	avgPrice := make(map[string]float64, len(existing))
	for _, p := range existing {
		avgPrice[p.Symbol] = p.AvgPrice
	}

	p := pool.NewWithResults[priced]().WithMaxGoroutines(s.concurrency)
	for _, b := range balances {
		if b.Total() <= 0 {
			continue
		}
		asset := strings.ToUpper(b.Asset)
		if asset == s.quote {
			p.Go(func() priced { return priced{symbol: asset, balance: b, price: 1} })
			continue
		}
		symbol := asset + s.quote
		p.Go(func() priced {
			price, err := ex.GetPrice(ctx, symbol)
			return priced{symbol: symbol, balance: b, price: price, err: err}
		})
	}
	quotes := p.Wait()
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].symbol < quotes[j].symbol })

	res := &SyncResult{Skipped: []string{}}
	held := make(map[string]struct{}, len(quotes))
	now := s.now()
	for _, q := range quotes {
		if q.err != nil || q.price <= 0 {
			s.logger.Warn("skipping unpriced asset", zap.String("user_id", ownerID), zap.String("symbol", q.symbol), zap.Error(q.err))
			res.Skipped = append(res.Skipped, q.symbol)
			if _, ok := avgPrice[q.symbol]; ok {
				held[q.symbol] = struct{}{}
			}
			continue
		}
		qty := q.balance.Total()
		avg := avgPrice[q.symbol]
		if avg <= 0 {
			avg = q.price
		}
		pos := db.PortfolioPosition{
			UserID:        ownerID,
			Symbol:        q.symbol,
			Quantity:      qty,
			AvgPrice:      avg,
			CurrentPrice:  q.price,
			TotalValue:    qty * q.price,
			PnLPercentage: pnl(avg, q.price),
			LastUpdated:   now,
		}
		if err := s.store.UpsertPosition(ctx, pos); err != nil {
			return nil, err
		}
		held[q.symbol] = struct{}{}
		res.Positions = append(res.Positions, pos)
		res.TotalValue += pos.TotalValue
		res.Updated++
	}

	for _, p := range existing {
		if _, ok := held[p.Symbol]; ok {
			continue
		}
		if err := s.store.DeletePosition(ctx, ownerID, p.Symbol); err != nil {
			return nil, err
		}
		res.Removed++
	}

	if s.audit != nil {
		_, _ = s.audit.Success(ctx, ownerID, "Portfolio synced from exchange", journal.Metadata{
			"updated":     res.Updated,
			"removed":     res.Removed,
			"skipped":     res.Skipped,
			"total_value": res.TotalValue,
		})
	}
	return res, nil
}

func pnl(avg, current float64) float64 {
	if avg <= 0 {
		return 0
	}
	v := (current - avg) / avg * 100
	return math.Round(v*100) / 100
}
