package engine

import (
	"time"

	"rebalancer-core/internal/indicators"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/strategy"
)

// RebalanceAction is one queued adjustment toward the target weights.
type RebalanceAction struct {
	Symbol        string             `json:"symbol"`
	Action        strategy.Action    `json:"action"`
	CurrentWeight float64            `json:"current_weight"`
	TargetWeight  float64            `json:"target_weight"`
	Amount        float64            `json:"amount"`
	Executed      bool               `json:"executed"`
	Error         string             `json:"error,omitempty"`
	Trade         *order.TradeResult `json:"trade,omitempty"`
}

// RebalanceResult summarises one rebalance invocation.
type RebalanceResult struct {
	Actions    []RebalanceAction `json:"actions"`
	TotalValue float64           `json:"total_value"`
	Message    string            `json:"message,omitempty"`
}

// BotCommandResult is returned by StartBot and StopBot.
type BotCommandResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StrategyID string `json:"strategy_id"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
}

// BotState is the lifecycle view of one strategy.
type BotState struct {
	StrategyID   string     `json:"strategy_id"`
	Name         string     `json:"name"`
	IsActive     bool       `json:"is_active"`
	BotActive    bool       `json:"bot_active"`
	BotStartedAt *time.Time `json:"bot_started_at"`
	BotStoppedAt *time.Time `json:"bot_stopped_at"`
	IntervalMs   int64      `json:"interval_ms"`
}

// BotStatusReport lists every strategy owned by the caller.
type BotStatusReport struct {
	Bots            []BotState `json:"bots"`
	ActiveBots      int        `json:"active_bots"`
	TotalStrategies int        `json:"total_strategies"`
}

// MarketAnalysis is the signal for one symbol plus the indicators behind it.
type MarketAnalysis struct {
	Symbol     string              `json:"symbol"`
	Signal     strategy.Signal     `json:"signal"`
	Indicators indicators.Snapshot `json:"indicators"`
	DataPoints int                 `json:"data_points"`
}
