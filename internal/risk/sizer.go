package risk

import "math"

// Sizing defaults applied when a strategy leaves a field unset.
const (
	DefaultAccountValue    = 1000.0
	DefaultMaxRiskPerTrade = 0.02
)

const quantityScale = 1e5 // 5 decimal places

// SizingParams is the risk context used to size one order.
type SizingParams struct {
	AccountValue    float64 `json:"account_value"`
	MaxRiskPerTrade float64 `json:"max_risk_per_trade"`
}

// WithDefaults fills non-positive fields with the package defaults.
func (p SizingParams) WithDefaults() SizingParams {
	if p.AccountValue <= 0 || math.IsNaN(p.AccountValue) {
		p.AccountValue = DefaultAccountValue
	}
	if p.MaxRiskPerTrade <= 0 || math.IsNaN(p.MaxRiskPerTrade) {
		p.MaxRiskPerTrade = DefaultMaxRiskPerTrade
	}
	return p
}

// RiskAmount is the quote-currency amount put at risk by one trade.
func (p SizingParams) RiskAmount() float64 {
	p = p.WithDefaults()
	return p.AccountValue * p.MaxRiskPerTrade
}

// PositionSize converts the risk amount into a base-asset quantity at price,
// floored to 5 decimals. A non-positive price is not executable and sizes to 0.
func PositionSize(price float64, p SizingParams) float64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	qty := math.Floor(p.RiskAmount()/price*quantityScale) / quantityScale
	if qty < 0 || math.IsNaN(qty) {
		return 0
	}
	return qty
}
