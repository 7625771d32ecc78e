package indicators

// Windows used by the SMA/RSI crossover rule set.
const (
	ShortMAPeriod = 20
	LongMAPeriod  = 50
	RSIPeriod     = 14
)

// Snapshot is the indicator state of one instrument at its latest price.
type Snapshot struct {
	Price   float64 `json:"price"`
	ShortMA float64 `json:"sma20"`
	LongMA  float64 `json:"sma50"`
	RSI     float64 `json:"rsi"`
}

// Compute derives a Snapshot from a most-recent-first price series.
func Compute(prices []float64) Snapshot {
	s := Snapshot{
		ShortMA: SMA(prices, ShortMAPeriod),
		LongMA:  SMA(prices, LongMAPeriod),
		RSI:     RSI(prices, RSIPeriod),
	}
	if len(prices) > 0 {
		s.Price = prices[0]
	}
	return s
}
