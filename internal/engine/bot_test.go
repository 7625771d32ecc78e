package engine

import (
	"context"
	"errors"
	"testing"

	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
)

func TestStartStopPreservesActiveFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addStrategy(t, owner, "s1", true, strategy.Config{})

	started, err := env.engine.StartBot(ctx, owner, "s1", 60000)
	if err != nil {
		t.Fatalf("StartBot: %v", err)
	}
	if !started.Success || started.IntervalMs != 60000 || started.StrategyID != "s1" {
		t.Fatalf("start = %+v", started)
	}
	if _, err := env.engine.StopBot(ctx, owner, "s1"); err != nil {
		t.Fatalf("StopBot: %v", err)
	}

	s, err := env.q.GetStrategy(ctx, owner, "s1")
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	if !s.IsActive || s.BotActive || s.BotStartedAt == nil || s.BotStoppedAt == nil || s.BotIntervalMs != 60000 {
		t.Fatalf("strategy = %+v", s)
	}
}

func TestStartBotActivatesAndDefaultsInterval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addStrategy(t, owner, "s1", false, strategy.Config{})

	res, err := env.engine.StartBot(ctx, owner, "s1", 0)
	if err != nil {
		t.Fatalf("StartBot: %v", err)
	}
	if res.IntervalMs != DefaultBotIntervalMs {
		t.Fatalf("interval = %d", res.IntervalMs)
	}
	// Idempotent restart refreshes the interval.
	if _, err := env.engine.StartBot(ctx, owner, "s1", 1000); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s, _ := env.q.GetStrategy(ctx, owner, "s1")
	if !s.IsActive || !s.BotActive || s.BotIntervalMs != 1000 {
		t.Fatalf("strategy = %+v", s)
	}

	infos := env.logs(t, db.LevelInfo)
	if !hasLog(infos, "Bot started for strategy: strategy s1") {
		t.Fatalf("start log missing: %+v", infos)
	}
}

func TestStopBotLeavesInactiveStrategyInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addStrategy(t, owner, "s1", false, strategy.Config{})

	if _, err := env.engine.StopBot(ctx, owner, "s1"); err != nil {
		t.Fatalf("StopBot: %v", err)
	}
	s, _ := env.q.GetStrategy(ctx, owner, "s1")
	if s.IsActive || s.BotActive {
		t.Fatalf("strategy = %+v", s)
	}
}

func TestBotCommandsRequireOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.addStrategy(t, "user-2", "theirs", true, strategy.Config{})

	if _, err := env.engine.StartBot(context.Background(), owner, "theirs", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StartBot err = %v", err)
	}
	if _, err := env.engine.StopBot(context.Background(), owner, "theirs"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StopBot err = %v", err)
	}
}

func TestBotStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addStrategy(t, owner, "a", true, strategy.Config{})
	env.addStrategy(t, owner, "b", false, strategy.Config{})
	env.addStrategy(t, "user-2", "c", true, strategy.Config{})
	if _, err := env.engine.StartBot(ctx, owner, "a", 0); err != nil {
		t.Fatalf("StartBot: %v", err)
	}

	report, err := env.engine.BotStatus(ctx, owner)
	if err != nil {
		t.Fatalf("BotStatus: %v", err)
	}
	if report.TotalStrategies != 2 || report.ActiveBots != 1 || len(report.Bots) != 2 {
		t.Fatalf("report = %+v", report)
	}
	for _, b := range report.Bots {
		if b.StrategyID == "a" && (!b.BotActive || b.BotStartedAt == nil || b.IntervalMs != DefaultBotIntervalMs) {
			t.Fatalf("bot a = %+v", b)
		}
		if b.StrategyID == "b" && (b.BotActive || b.BotStartedAt != nil) {
			t.Fatalf("bot b = %+v", b)
		}
	}
}
