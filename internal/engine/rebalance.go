package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/risk"
	"rebalancer-core/internal/strategy"
)

// Rebalance thresholds and the synthetic signal used to execute actions.
const (
	WeightTolerance     = 0.05
	MinAdjustment       = 50.0
	RebalanceConfidence = 80.0
	MaxRebalanceRisk    = 0.01
)

// TargetWeighter maps the configurations of the active strategies to target
// portfolio weights. Symbols absent from the map have weight 0.
type TargetWeighter interface {
	Weights(configs []strategy.Config) map[string]float64
}

// EqualWeight spreads the portfolio evenly over the union of configured
// symbols. Strategies without symbols contribute nothing.
type EqualWeight struct{}

func (EqualWeight) Weights(configs []strategy.Config) map[string]float64 {
	union := make(map[string]struct{})
	for _, c := range configs {
		for _, s := range c.Symbols {
			union[s] = struct{}{}
		}
	}
	out := make(map[string]float64, len(union))
	if len(union) == 0 {
		return out
	}
	w := 1 / float64(len(union))
	for s := range union {
		out[s] = w
	}
	return out
}

// Rebalance moves held positions toward the target weights of the owner's
// active strategies. Failed actions are logged and the loop continues.
func (e *Engine) Rebalance(ctx context.Context, ownerID string) (*RebalanceResult, error) {
	positions, err := e.store.GetPortfolio(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if len(positions) == 0 {
		return &RebalanceResult{Actions: []RebalanceAction{}, Message: "No portfolio to rebalance"}, nil
	}

	active, err := e.store.ListActiveStrategies(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load active strategies: %w", err)
	}
	if len(active) == 0 {
		return &RebalanceResult{Actions: []RebalanceAction{}, Message: "No active strategies for rebalancing"}, nil
	}

	configs := make([]strategy.Config, 0, len(active))
	for i := range active {
		cfg, err := parseConfig(&active[i])
		if err != nil {
			e.logger.Warn("skipping strategy with unreadable parameters", zap.String("strategy_id", active[i].ID), zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		return &RebalanceResult{Actions: []RebalanceAction{}, Message: "No active strategies for rebalancing"}, nil
	}

	var total float64
	for _, p := range positions {
		total += p.TotalValue
	}
	result := &RebalanceResult{Actions: []RebalanceAction{}, TotalValue: total}
	if total <= 0 {
		result.Message = "Portfolio has no value to rebalance"
		return result, nil
	}

	targets := e.weighter.Weights(configs)
	for _, p := range positions {
		// Cash funds buys and receives sells; it has no market of its own.
		if strings.EqualFold(p.Symbol, e.quote) {
			continue
		}
		current := p.TotalValue / total
		target := targets[p.Symbol]
		diff := target*total - current*total
		if math.Abs(current-target) <= WeightTolerance || math.Abs(diff) <= MinAdjustment {
			continue
		}
		action := strategy.ActionSell
		if target > current {
			action = strategy.ActionBuy
		}
		result.Actions = append(result.Actions, RebalanceAction{
			Symbol:        p.Symbol,
			Action:        action,
			CurrentWeight: current,
			TargetWeight:  target,
			Amount:        math.Abs(diff),
		})
	}

	ex := &lazyExchange{resolver: e.exchanges, ownerID: ownerID}
	for i := range result.Actions {
		e.executeAction(ctx, ex, ownerID, total, &result.Actions[i])
	}
	return result, nil
}

func (e *Engine) executeAction(ctx context.Context, ex *lazyExchange, ownerID string, total float64, a *RebalanceAction) {
	err := func() error {
		venue, err := ex.get(ctx)
		if err != nil {
			return fmt.Errorf("resolve exchange: %w", err)
		}
		sig := strategy.Signal{
			Symbol:     a.Symbol,
			Action:     a.Action,
			Confidence: RebalanceConfidence,
			Strategy:   strategy.TagRebalance,
		}
		tc := order.TradeContext{Sizing: risk.SizingParams{
			AccountValue:    total,
			MaxRiskPerTrade: math.Min(MaxRebalanceRisk, a.Amount/total),
		}}
		res, err := e.trader.Execute(ctx, venue, ownerID, sig, tc)
		a.Trade = &res
		return err
	}()
	if err == nil {
		a.Executed = true
		return
	}

	a.Error = err.Error()
	e.record(ctx, func() error {
		_, werr := e.audit.Error(ctx, ownerID, fmt.Sprintf("Rebalancing failed for %s: %v", a.Symbol, err), journal.Metadata{
			"action": *a,
		})
		return werr
	})
}
