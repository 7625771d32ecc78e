package indicators

// NeutralRSI is returned when the series is too short to measure momentum.
const NeutralRSI = 50.0

// RSI computes the Relative Strength Index over the newest period deltas of a
// most-recent-first series. Gains and losses are summed separately and each
// divided by period; no smoothing is carried between windows.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return NeutralRSI
	}

	gain := 0.0
	loss := 0.0
	for i := 1; i <= period; i++ {
		change := values[i-1] - values[i]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
