package api

import (
	"time"

	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
)

type strategyView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	StrategyType  string          `json:"strategy_type"`
	RiskLevel     string          `json:"risk_level"`
	IsActive      bool            `json:"is_active"`
	Parameters    strategy.Config `json:"parameters"`
	BotActive     bool            `json:"bot_active"`
	BotIntervalMs int64           `json:"bot_interval_ms"`
	BotStartedAt  *time.Time      `json:"bot_started_at"`
	BotStoppedAt  *time.Time      `json:"bot_stopped_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// newStrategyView renders a row. Unparsable parameters render as the
// zero config rather than failing the listing.
func newStrategyView(s db.Strategy) strategyView {
	cfg, _ := strategy.ParseConfig(s.Parameters)
	if cfg.Symbols == nil {
		cfg.Symbols = []string{}
	}
	return strategyView{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		StrategyType:  s.StrategyType,
		RiskLevel:     s.RiskLevel,
		IsActive:      s.IsActive,
		Parameters:    cfg,
		BotActive:     s.BotActive,
		BotIntervalMs: s.BotIntervalMs,
		BotStartedAt:  s.BotStartedAt,
		BotStoppedAt:  s.BotStoppedAt,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type apiKeyView struct {
	ID        string    `json:"id"`
	Exchange  string    `json:"exchange"`
	Label     string    `json:"label"`
	Testnet   bool      `json:"testnet"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newAPIKeyView(k db.APIKey) apiKeyView {
	return apiKeyView{
		ID:        k.ID,
		Exchange:  k.Exchange,
		Label:     k.Label,
		Testnet:   k.Testnet,
		IsActive:  k.IsActive,
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
	}
}

type orderView struct {
	ID              string     `json:"id"`
	StrategyID      string     `json:"strategy_id,omitempty"`
	Exchange        string     `json:"exchange"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	OrderType       string     `json:"order_type"`
	Quantity        float64    `json:"quantity"`
	Price           *float64   `json:"price"`
	Status          string     `json:"status"`
	ExternalOrderID string     `json:"external_order_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FilledAt        *time.Time `json:"filled_at"`
	CancelledAt     *time.Time `json:"cancelled_at"`
}

func newOrderView(o db.Order) orderView {
	return orderView{
		ID:              o.ID,
		StrategyID:      o.StrategyID,
		Exchange:        o.Exchange,
		Symbol:          o.Symbol,
		Side:            o.Side,
		OrderType:       o.OrderType,
		Quantity:        o.Quantity,
		Price:           o.Price,
		Status:          o.Status,
		ExternalOrderID: o.ExternalOrderID,
		CreatedAt:       o.CreatedAt,
		FilledAt:        o.FilledAt,
		CancelledAt:     o.CancelledAt,
	}
}

type positionView struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	TotalValue    float64   `json:"total_value"`
	PnLPercentage float64   `json:"pnl_percentage"`
	LastUpdated   time.Time `json:"last_updated"`
}

func newPositionView(p db.PortfolioPosition) positionView {
	return positionView{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		AvgPrice:      p.AvgPrice,
		CurrentPrice:  p.CurrentPrice,
		TotalValue:    p.TotalValue,
		PnLPercentage: p.PnLPercentage,
		LastUpdated:   p.LastUpdated,
	}
}

type pricePointView struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    *float64  `json:"volume"`
	MarketCap *float64  `json:"market_cap"`
	Timestamp time.Time `json:"timestamp"`
}

func newPricePointView(p db.PricePoint) pricePointView {
	return pricePointView{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Price:     p.Price,
		Volume:    p.Volume,
		MarketCap: p.MarketCap,
		Timestamp: p.Timestamp,
	}
}

func mapSlice[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
