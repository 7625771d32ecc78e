// Package scheduler periodically runs strategies whose trading bot is
// active. It is optional; the API registers bot state either way.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"rebalancer-core/internal/order"
	"rebalancer-core/pkg/db"
)

// BotSource lists running bots across owners. *db.Database satisfies it.
type BotSource interface {
	ListRunningBots(ctx context.Context) ([]db.Strategy, error)
}

// Runner executes one strategy for its owner.
type Runner interface {
	RunStrategy(ctx context.Context, ownerID, strategyID string) ([]order.TradeResult, error)
}

// Config controls the scheduler loop.
type Config struct {
	Tick        time.Duration
	Concurrency int
	// DefaultInterval applies to bots stored without an interval.
	DefaultInterval time.Duration
}

// Scheduler dispatches due bots on every tick. A strategy never has two runs
// in flight.
type Scheduler struct {
	source BotSource
	runner Runner
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastRun  map[string]time.Time
	inflight map[string]struct{}
}

// New builds a scheduler; zero config fields use defaults.
func New(source BotSource, runner Runner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		source:   source,
		runner:   runner,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("bot scheduler started", zap.Duration("tick", s.cfg.Tick))
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("bot scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due bot once and waits for them. It returns the number
// of strategies dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	bots, err := s.source.ListRunningBots(ctx)
	if err != nil {
		s.logger.Error("list running bots", zap.Error(err))
		return 0
	}

	due := s.claimDue(bots)
	if len(due) == 0 {
		return 0
	}

	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, bot := range due {
		p.Go(func() {
			defer s.release(bot.ID)
			results, err := s.runner.RunStrategy(ctx, bot.UserID, bot.ID)
			if err != nil {
				s.logger.Warn("scheduled run failed",
					zap.String("user_id", bot.UserID), zap.String("strategy_id", bot.ID), zap.Error(err))
				return
			}
			s.logger.Debug("scheduled run finished",
				zap.String("user_id", bot.UserID), zap.String("strategy_id", bot.ID), zap.Int("trades", len(results)))
		})
	}
	p.Wait()
	return len(due)
}

func (s *Scheduler) claimDue(bots []db.Strategy) []db.Strategy {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make(map[string]struct{}, len(bots))
	var due []db.Strategy
	for _, b := range bots {
		running[b.ID] = struct{}{}
		if _, busy := s.inflight[b.ID]; busy {
			continue
		}
		last, ok := s.lastRun[b.ID]
		if !ok && b.BotStartedAt != nil {
			last = *b.BotStartedAt
		}
		if !last.IsZero() && now.Sub(last) < s.interval(b) {
			continue
		}
		s.lastRun[b.ID] = now
		s.inflight[b.ID] = struct{}{}
		due = append(due, b)
	}
	// Forget bots that were stopped so a restart starts a fresh interval.
	for id := range s.lastRun {
		if _, ok := running[id]; !ok {
			delete(s.lastRun, id)
		}
	}
	return due
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) interval(b db.Strategy) time.Duration {
	if b.BotIntervalMs > 0 {
		return time.Duration(b.BotIntervalMs) * time.Millisecond
	}
	return s.cfg.DefaultInterval
}
