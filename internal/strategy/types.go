package strategy

// Action is the direction of a trading signal.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Rule-set tags recorded on every signal for audit.
const (
	TagCrossover        = "sma_rsi_crossover"
	TagInsufficientData = "insufficient_data"
	TagRebalance        = "portfolio_rebalance"
)

// Signal is a decision for one instrument. It lives for a single engine
// invocation and is persisted only inside log metadata.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price"`
	Strategy   string  `json:"strategy"`
}

// Actionable reports whether the signal clears minConfidence and is not a hold.
func (s Signal) Actionable(minConfidence float64) bool {
	return s.Action != ActionHold && s.Confidence >= minConfidence
}
