package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

const owner = "user-1"

type fakeExchange struct {
	price       float64
	failSymbols map[string]error
	placed      []exchange.OrderRequest
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) { return f.price, nil }

func (f *fakeExchange) Get24hStats(context.Context, string) ([]exchange.TickerStats, error) {
	return nil, nil
}

func (f *fakeExchange) GetAccountBalances(context.Context) ([]exchange.Balance, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.placed = append(f.placed, req)
	if err := f.failSymbols[req.Symbol]; err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{ExternalOrderID: "1", Status: exchange.StatusNew, Raw: json.RawMessage(`{"orderId":1}`)}, nil
}

type fakeResolver struct {
	ex    exchange.Exchange
	err   error
	calls int
}

func (r *fakeResolver) Resolve(context.Context, string) (exchange.Exchange, error) {
	r.calls++
	return r.ex, r.err
}

type testEnv struct {
	db       *db.Database
	q        *db.UserQueries
	engine   *Engine
	ex       *fakeExchange
	resolver *fakeResolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{owner, "user-2"} {
		if err := database.CreateUser(ctx, db.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	q := database.Queries()
	audit := journal.New(q, nil, nil)
	ex := &fakeExchange{price: 100, failSymbols: map[string]error{}}
	resolver := &fakeResolver{ex: ex}
	eng := New(Config{
		Store:     q,
		Exchanges: resolver,
		Trader:    order.NewExecutor(q, audit, nil, nil),
		Audit:     audit,
	})
	return &testEnv{db: database, q: q, engine: eng, ex: ex, resolver: resolver}
}

func (env *testEnv) addStrategy(t *testing.T, userID, id string, active bool, cfg strategy.Config) {
	t.Helper()
	params, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	err = env.q.CreateStrategy(context.Background(), db.Strategy{
		ID: id, UserID: userID, Name: "strategy " + id, StrategyType: strategy.TagCrossover, RiskLevel: "medium",
		IsActive: active, Parameters: params,
	})
	if err != nil {
		t.Fatalf("CreateStrategy: %v", err)
	}
}

// addPrices stores a most-recent-first series.
func (env *testEnv) addPrices(t *testing.T, symbol string, prices []float64) {
	t.Helper()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range prices {
		if _, err := env.db.InsertPricePoint(context.Background(), db.PricePoint{
			Symbol: symbol, Price: p, Timestamp: base.Add(-time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("InsertPricePoint: %v", err)
		}
	}
}

func (env *testEnv) logs(t *testing.T, level string) []db.LogEntry {
	t.Helper()
	rows, err := env.q.ListLogs(context.Background(), owner, level, 500)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	return rows
}

func hasLog(rows []db.LogEntry, prefix string) bool {
	for _, r := range rows {
		if strings.HasPrefix(r.Message, prefix) {
			return true
		}
	}
	return false
}

// buyHistory yields SMA20 > SMA50 and RSI 25: a buy at confidence 40.
func buyHistory() []float64 {
	deltas := []float64{-1, 1, -1, -1, 0, -1, 1, -1, -1, 0, -1, 1, -1, -1}
	prices := make([]float64, 50)
	prices[0] = 100
	for i := 1; i <= len(deltas); i++ {
		prices[i] = prices[i-1] - deltas[i-1]
	}
	for i := len(deltas) + 1; i < len(prices); i++ {
		prices[i] = 50
	}
	return prices
}
