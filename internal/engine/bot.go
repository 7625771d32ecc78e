package engine

import (
	"context"

	"rebalancer-core/internal/events"
	"rebalancer-core/internal/journal"
)

// DefaultBotIntervalMs applies when StartBot is called without an interval.
const DefaultBotIntervalMs int64 = 300000

// StartBot marks the strategy and its bot active. Starting a running bot
// refreshes its start time and interval.
func (e *Engine) StartBot(ctx context.Context, ownerID, strategyID string, intervalMs int64) (*BotCommandResult, error) {
	s, err := e.loadStrategy(ctx, ownerID, strategyID)
	if err != nil {
		return nil, err
	}
	if intervalMs <= 0 {
		intervalMs = DefaultBotIntervalMs
	}
	now := e.now()
	if err := e.store.MarkBotStarted(ctx, ownerID, s.ID, intervalMs, now); err != nil {
		return nil, err
	}

	e.record(ctx, func() error {
		_, err := e.audit.Info(ctx, ownerID, "Bot started for strategy: "+s.Name, journal.Metadata{
			"strategy_id": s.ID,
			"interval":    intervalMs,
			"action":      "bot_start",
		})
		return err
	})
	e.bus.Publish(events.Message{Topic: events.EventBotState, UserID: ownerID, Payload: BotState{
		StrategyID: s.ID, Name: s.Name, IsActive: true, BotActive: true,
		BotStartedAt: &now, BotStoppedAt: s.BotStoppedAt, IntervalMs: intervalMs,
	}})

	return &BotCommandResult{
		Success:    true,
		Message:    "Trading bot started successfully",
		StrategyID: s.ID,
		IntervalMs: intervalMs,
	}, nil
}

// StopBot clears the bot flag. The strategy's is_active flag is left as is.
func (e *Engine) StopBot(ctx context.Context, ownerID, strategyID string) (*BotCommandResult, error) {
	s, err := e.loadStrategy(ctx, ownerID, strategyID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.store.MarkBotStopped(ctx, ownerID, s.ID, now); err != nil {
		return nil, err
	}

	e.record(ctx, func() error {
		_, err := e.audit.Info(ctx, ownerID, "Bot stopped for strategy: "+s.Name, journal.Metadata{
			"strategy_id": s.ID,
			"action":      "bot_stop",
		})
		return err
	})
	e.bus.Publish(events.Message{Topic: events.EventBotState, UserID: ownerID, Payload: BotState{
		StrategyID: s.ID, Name: s.Name, IsActive: s.IsActive, BotActive: false,
		BotStartedAt: s.BotStartedAt, BotStoppedAt: &now, IntervalMs: s.BotIntervalMs,
	}})

	return &BotCommandResult{Success: true, Message: "Trading bot stopped successfully", StrategyID: s.ID}, nil
}

// BotStatus reports the lifecycle state of every strategy owned by ownerID.
func (e *Engine) BotStatus(ctx context.Context, ownerID string) (*BotStatusReport, error) {
	rows, err := e.store.ListStrategies(ctx, ownerID, 0, 0)
	if err != nil {
		return nil, err
	}
	report := &BotStatusReport{Bots: make([]BotState, 0, len(rows)), TotalStrategies: len(rows)}
	for _, s := range rows {
		interval := s.BotIntervalMs
		if interval <= 0 {
			interval = DefaultBotIntervalMs
		}
		report.Bots = append(report.Bots, BotState{
			StrategyID:   s.ID,
			Name:         s.Name,
			IsActive:     s.IsActive,
			BotActive:    s.BotActive,
			BotStartedAt: s.BotStartedAt,
			BotStoppedAt: s.BotStoppedAt,
			IntervalMs:   interval,
		})
		if s.BotActive {
			report.ActiveBots++
		}
	}
	return report, nil
}
