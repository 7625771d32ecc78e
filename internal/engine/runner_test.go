package engine

import (
	"context"
	"errors"
	"testing"

	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
)

func TestRunStrategyAbortsEarly(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "inactive", false, strategy.Config{Symbols: []string{"BTCUSDT"}})
	env.addStrategy(t, "user-2", "foreign", true, strategy.Config{Symbols: []string{"BTCUSDT"}})

	tests := []struct {
		id   string
		want error
	}{
		{"missing", ErrNotFound},
		{"foreign", ErrNotFound},
		{"inactive", ErrInactive},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			results, err := env.engine.RunStrategy(context.Background(), owner, tt.id)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if results != nil {
				t.Fatalf("results = %v", results)
			}
		})
	}
	if rows := env.logs(t, ""); len(rows) != 0 {
		t.Fatalf("aborted runs must not write logs, got %d", len(rows))
	}
	if env.resolver.calls != 0 {
		t.Fatal("exchange resolved for an aborted run")
	}
}

func TestRunStrategyBelowThresholdOnlyLogs(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "s1", true, strategy.Config{Symbols: []string{"BTCUSDT"}, MinConfidence: 70})
	env.addPrices(t, "BTCUSDT", buyHistory())

	results, err := env.engine.RunStrategy(context.Background(), owner, "s1")
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if len(results) != 0 || len(env.ex.placed) != 0 {
		t.Fatalf("no trade expected, got %v / %v", results, env.ex.placed)
	}
	if !hasLog(env.logs(t, db.LevelInfo), "Trading signal generated for BTCUSDT") {
		t.Fatal("signal log missing")
	}
	if env.resolver.calls != 0 {
		t.Fatal("exchange should be resolved lazily")
	}
}

func TestRunStrategyExecutesActionableSignals(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "s1", true, strategy.Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, MinConfidence: 40})
	env.addPrices(t, "BTCUSDT", buyHistory())
	env.addPrices(t, "ETHUSDT", buyHistory())

	results, err := env.engine.RunStrategy(context.Background(), owner, "s1")
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if !r.Success || r.Signal.Action != strategy.ActionBuy || r.Quantity != 0.2 {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if env.resolver.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", env.resolver.calls)
	}

	orders, err := env.q.ListOrders(context.Background(), owner, 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].Status != db.OrderStatusPending || orders[0].StrategyID != "s1" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestRunStrategyIsolatesSymbolFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "s1", true, strategy.Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, MinConfidence: 40})
	env.addPrices(t, "BTCUSDT", buyHistory())
	env.addPrices(t, "ETHUSDT", buyHistory())
	env.ex.failSymbols["BTCUSDT"] = errors.New("insufficient balance")

	results, err := env.engine.RunStrategy(context.Background(), owner, "s1")
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if len(results) != 2 || results[0].Success || !results[1].Success {
		t.Fatalf("results = %+v", results)
	}

	errs := env.logs(t, db.LevelError)
	if !hasLog(errs, "Error processing BTCUSDT: ") || !hasLog(errs, "Trade failed for BTCUSDT") {
		t.Fatalf("error logs = %+v", errs)
	}
	if !hasLog(env.logs(t, db.LevelInfo), "Trade executed for ETHUSDT") {
		t.Fatal("second symbol should still trade")
	}
}

func TestRunStrategyResolverFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "s1", true, strategy.Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, MinConfidence: 40})
	env.addPrices(t, "BTCUSDT", buyHistory())
	env.addPrices(t, "ETHUSDT", buyHistory())
	env.resolver.err = errors.New("no credentials")

	results, err := env.engine.RunStrategy(context.Background(), owner, "s1")
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v", results)
	}
	if env.resolver.calls != 1 {
		t.Fatalf("resolver calls = %d, want 1", env.resolver.calls)
	}
	if !hasLog(env.logs(t, db.LevelError), "Error processing ETHUSDT: resolve exchange") {
		t.Fatal("resolver failure should be logged per symbol")
	}
}

func TestRunStrategyDefaultSymbols(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, owner, "s1", true, strategy.Config{})

	results, err := env.engine.RunStrategy(context.Background(), owner, "s1")
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("no history means no trades, got %+v", results)
	}
	infos := env.logs(t, db.LevelInfo)
	for _, sym := range strategy.DefaultSymbols {
		if !hasLog(infos, "Trading signal generated for "+sym) {
			t.Fatalf("missing signal log for %s", sym)
		}
	}
}

func TestAnalyzeMarket(t *testing.T) {
	env := newTestEnv(t)
	env.addPrices(t, "BTCUSDT", buyHistory())

	got, err := env.engine.AnalyzeMarket(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("AnalyzeMarket: %v", err)
	}
	if got.Symbol != "BTCUSDT" || got.DataPoints != 50 || got.Signal.Action != strategy.ActionBuy {
		t.Fatalf("analysis = %+v", got)
	}
	if got.Indicators.ShortMA <= got.Indicators.LongMA {
		t.Fatalf("indicators = %+v", got.Indicators)
	}
	if _, err := env.engine.AnalyzeMarket(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}
