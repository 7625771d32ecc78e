package strategy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"rebalancer-core/internal/risk"
	"rebalancer-core/pkg/db"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(`{"min_confidence": 0, "bot_active": true, "symbols": [" btcusdt", "BTCUSDT", "ethusdt"]}`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg.Symbols, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("symbols = %v", cfg.Symbols)
	}
	if cfg.Threshold() != DefaultMinConfidence {
		t.Fatalf("threshold = %v", cfg.Threshold())
	}
	want := risk.SizingParams{AccountValue: 1000, MaxRiskPerTrade: 0.02}
	if cfg.Sizing() != want {
		t.Fatalf("sizing = %+v, want %+v", cfg.Sizing(), want)
	}

	empty, err := ParseConfig("")
	if err != nil {
		t.Fatalf("ParseConfig empty: %v", err)
	}
	if !reflect.DeepEqual(empty.RunSymbols(), DefaultSymbols) {
		t.Fatalf("run symbols = %v", empty.RunSymbols())
	}
	if _, err := ParseConfig("{not json"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero is default", Config{}, false},
		{"valid", Config{Symbols: []string{"BTCUSDT"}, MinConfidence: 60, MaxRiskPerTrade: 0.05, AccountValue: 2500}, false},
		{"confidence too high", Config{MinConfidence: 101}, true},
		{"risk above one", Config{MaxRiskPerTrade: 1.5}, true},
		{"negative account", Config{AccountValue: -5}, true},
		{"blank symbol", Config{Symbols: []string{"BTCUSDT", " "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigEncodeRoundTrip(t *testing.T) {
	raw, err := Config{Symbols: []string{"solusdt"}, MinConfidence: 55}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Threshold() != 55 || !reflect.DeepEqual(cfg.Symbols, []string{"SOLUSDT"}) {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSeedFileSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	content := `
strategies:
  - id: core-majors
    name: Core majors
    risk_level: low
    is_active: true
    parameters:
      symbols: [BTCUSDT, ETHUSDT]
      min_confidence: 65
      max_risk_per_trade: 0.01
      account_value: 5000
  - id: alts
    name: Alts
    parameters:
      symbols: [SOLUSDT]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seeds, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if len(seeds) != 2 || seeds[0].Parameters.MinConfidence != 65 {
		t.Fatalf("unexpected seeds %+v", seeds)
	}

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	ctx := context.Background()
	if err := SyncSeedsToDB(ctx, database.DB, "owner-1", seeds); err != nil {
		t.Fatalf("SyncSeedsToDB: %v", err)
	}
	// Re-sync must be idempotent.
	if err := SyncSeedsToDB(ctx, database.DB, "owner-1", seeds); err != nil {
		t.Fatalf("SyncSeedsToDB again: %v", err)
	}
	// Another owner cannot take over existing ids.
	if err := SyncSeedsToDB(ctx, database.DB, "owner-2", seeds); err != nil {
		t.Fatalf("SyncSeedsToDB other owner: %v", err)
	}

	q := database.Queries()
	list, err := q.ListStrategies(ctx, "owner-1", 10, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListStrategies = %d, %v", len(list), err)
	}
	if other, _ := q.ListStrategies(ctx, "owner-2", 10, 0); len(other) != 0 {
		t.Fatalf("owner-2 should own nothing, got %d", len(other))
	}

	s, err := q.GetStrategy(ctx, "owner-1", "core-majors")
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	cfg, err := ParseConfig(s.Parameters)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.AccountValue != 5000 || !s.IsActive || s.RiskLevel != "low" {
		t.Fatalf("unexpected stored strategy %+v / %+v", s, cfg)
	}

	alts, err := q.GetStrategy(ctx, "owner-1", "alts")
	if err != nil {
		t.Fatalf("GetStrategy alts: %v", err)
	}
	if alts.StrategyType != TagCrossover || alts.RiskLevel != "medium" {
		t.Fatalf("seed defaults = %q/%q", alts.StrategyType, alts.RiskLevel)
	}
}

func TestLoadSeedFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("strategies:\n  - id: x\n    name: X\n    parameters:\n      min_confidence: 150\n"), 0o600)
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatal("expected validation error")
	}
}
