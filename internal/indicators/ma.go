package indicators

// SMA averages the first min(period, len(values)) entries of a
// most-recent-first series. A non-positive period yields the latest value;
// an empty series yields 0.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	n := period
	if n > len(values) {
		n = len(values)
	}
	if n <= 0 {
		return values[0]
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
	}
	return sum / float64(n)
}
