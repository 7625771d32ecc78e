package strategy

import (
	"math"

	"rebalancer-core/internal/indicators"
)

// MinHistory is the number of price points required before any rule fires.
const MinHistory = 10

const (
	oversold        = 30.0
	overbought      = 70.0
	sidewaysBand    = 0.02
	baseConfidence  = 30.0
	maxConfidence   = 90.0
	holdConfidence  = 20.0
	confidenceScale = 2.0
)

// Analyze turns a most-recent-first price history into a signal using the
// SMA(20)/SMA(50) crossover gated by RSI(14). Short histories degrade to a
// zero-confidence hold.
func Analyze(symbol string, history []float64) Signal {
	if len(history) < MinHistory {
		sig := Signal{Symbol: symbol, Action: ActionHold, Strategy: TagInsufficientData}
		if len(history) > 0 {
			sig.Price = history[0]
		}
		return sig
	}

	snap := indicators.Compute(history)
	sig := Signal{Symbol: symbol, Action: ActionHold, Price: snap.Price, Strategy: TagCrossover}

	switch {
	case snap.ShortMA > snap.LongMA && snap.RSI < oversold:
		sig.Action = ActionBuy
		sig.Confidence = math.Min(maxConfidence, baseConfidence+(oversold-snap.RSI)*confidenceScale)
	case snap.ShortMA < snap.LongMA && snap.RSI > overbought:
		sig.Action = ActionSell
		sig.Confidence = math.Min(maxConfidence, baseConfidence+(snap.RSI-overbought)*confidenceScale)
	case snap.Price != 0 && math.Abs(snap.ShortMA-snap.Price)/snap.Price < sidewaysBand:
		sig.Confidence = holdConfidence
	}

	sig.Confidence = clampConfidence(sig.Confidence)
	return sig
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
