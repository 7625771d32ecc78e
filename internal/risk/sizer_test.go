package risk

import (
	"math"
	"testing"
)

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name   string
		price  float64
		params SizingParams
		want   float64
	}{
		{"defaults", 40, SizingParams{}, 0.5},
		{"explicit", 100, SizingParams{AccountValue: 5000, MaxRiskPerTrade: 0.05}, 2.5},
		{"floors not rounds", 3, SizingParams{AccountValue: 1000, MaxRiskPerTrade: 0.02}, 6.66666},
		{"zero price", 0, SizingParams{}, 0},
		{"negative price", -10, SizingParams{}, 0},
		{"negative risk falls back", 100, SizingParams{AccountValue: -1, MaxRiskPerTrade: -1}, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PositionSize(tt.price, tt.params)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("PositionSize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionSizePrecisionAndSign(t *testing.T) {
	prices := []float64{0.0001, 0.37, 1, 17.3, 999.99, 27123.45, 1e9}
	accounts := []float64{0, 1, 333.33, 1000, 12345.678}
	for _, price := range prices {
		for _, acct := range accounts {
			q := PositionSize(price, SizingParams{AccountValue: acct, MaxRiskPerTrade: 0.013})
			if q < 0 {
				t.Fatalf("negative quantity %v for price=%v acct=%v", q, price, acct)
			}
			scaled := q * quantityScale
			if math.Abs(scaled-math.Round(scaled)) > 1e-6*math.Max(1, scaled) {
				t.Fatalf("quantity %v has more than 5 decimals (price=%v acct=%v)", q, price, acct)
			}
		}
	}
}
