package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the rebalancer service.
type Config struct {
	Port string

	// Logging
	LogLevel  string
	LogFormat string // "json" (default) or "console"

	// Database
	DBPath string

	// Auth
	JWTSecret      string
	RequestTimeout time.Duration

	// Binance
	BinanceTestnet bool
	TrackedSymbols []string

	// Price recorder (polls public 24h tickers into price_history)
	PriceRecorderEnabled  bool
	PriceRecorderInterval time.Duration

	// Bot scheduler (runs bot-active strategies on their interval)
	BotSchedulerEnabled bool
	BotSchedulerTick    time.Duration

	// Strategy seeding from YAML
	StrategySeedFile  string
	StrategySeedOwner string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/rebalancer.db")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DBPath:                dbPath,
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		BinanceTestnet:        getEnv("BINANCE_TESTNET", "true") == "true",
		TrackedSymbols:        splitAndTrim(strings.ToUpper(getEnv("TRACKED_SYMBOLS", "BTCUSDT,ETHUSDT"))),
		PriceRecorderEnabled:  getEnv("PRICE_RECORDER_ENABLED", "false") == "true",
		PriceRecorderInterval: getEnvDuration("PRICE_RECORDER_INTERVAL", time.Minute),
		BotSchedulerEnabled:   getEnv("BOT_SCHEDULER_ENABLED", "false") == "true",
		BotSchedulerTick:      getEnvDuration("BOT_SCHEDULER_TICK", 30*time.Second),
		StrategySeedFile:      os.Getenv("STRATEGY_SEED_FILE"),
		StrategySeedOwner:     os.Getenv("STRATEGY_SEED_OWNER"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		// Bare integers are milliseconds.
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
