package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"rebalancer-core/internal/risk"
)

// DefaultMinConfidence gates execution when a strategy leaves it unset.
const DefaultMinConfidence = 70.0

// DefaultSymbols are analysed when a strategy configures none.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT"}

// Config is the typed business configuration stored in strategies.parameters.
// Bot lifecycle state lives in dedicated columns, not here.
type Config struct {
	Symbols         []string `json:"symbols" yaml:"symbols"`
	MinConfidence   float64  `json:"min_confidence,omitempty" yaml:"min_confidence"`
	MaxRiskPerTrade float64  `json:"max_risk_per_trade,omitempty" yaml:"max_risk_per_trade"`
	AccountValue    float64  `json:"account_value,omitempty" yaml:"account_value"`
}

// ParseConfig decodes a parameters column. Unknown keys are ignored so rows
// written by older versions still load.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode strategy parameters: %w", err)
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)
	return cfg, nil
}

// Encode returns the JSON stored in strategies.parameters.
func (c Config) Encode() (string, error) {
	c.Symbols = normalizeSymbols(c.Symbols)
	if c.Symbols == nil {
		c.Symbols = []string{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Validate checks value ranges. Zero values are allowed and mean "default".
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 100 || math.IsNaN(c.MinConfidence) {
		return fmt.Errorf("min_confidence must be within [0, 100]")
	}
	if c.MaxRiskPerTrade < 0 || c.MaxRiskPerTrade > 1 || math.IsNaN(c.MaxRiskPerTrade) {
		return fmt.Errorf("max_risk_per_trade must be within [0, 1]")
	}
	if c.AccountValue < 0 || math.IsNaN(c.AccountValue) {
		return fmt.Errorf("account_value must be >= 0")
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("symbols must not contain empty entries")
		}
	}
	return nil
}

// RunSymbols returns the instruments the runner analyses.
func (c Config) RunSymbols() []string {
	if len(c.Symbols) == 0 {
		return append([]string(nil), DefaultSymbols...)
	}
	return c.Symbols
}

// Threshold returns the effective minimum confidence.
func (c Config) Threshold() float64 {
	if c.MinConfidence <= 0 {
		return DefaultMinConfidence
	}
	return c.MinConfidence
}

// Sizing returns the risk context used for this strategy's orders.
func (c Config) Sizing() risk.SizingParams {
	return risk.SizingParams{
		AccountValue:    c.AccountValue,
		MaxRiskPerTrade: c.MaxRiskPerTrade,
	}.WithDefaults()
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
