package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rebalancer-core/internal/api"
	"rebalancer-core/internal/engine"
	"rebalancer-core/internal/events"
	"rebalancer-core/internal/gateway"
	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/market"
	"rebalancer-core/internal/monitor"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/persistence"
	"rebalancer-core/internal/portfolio"
	"rebalancer-core/internal/scheduler"
	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/config"
	"rebalancer-core/pkg/crypto"
	"rebalancer-core/pkg/db"
	"rebalancer-core/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting rebalancer-core", zap.String("version", buildVersion), zap.String("port", cfg.Port), zap.String("db_path", cfg.DBPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if cfg.StrategySeedFile != "" {
		if err := seedStrategies(ctx, database, cfg, log); err != nil {
			return err
		}
	}

	vault, err := crypto.VaultFromEnv(os.LookupEnv)
	if err != nil {
		log.Warn("MASTER_ENCRYPTION_KEY not usable, deriving credential key from JWT_SECRET; do not use in production", zap.Error(err))
		if vault, err = crypto.DerivedVault(cfg.JWTSecret); err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
	}

	queries := database.Queries()
	bus := events.NewBus()
	audit := journal.New(queries, bus, log)
	executor := order.NewExecutor(queries, audit, bus, log)
	resolver := gateway.NewResolver(queries, vault, gateway.BinanceFactory(cfg.BinanceTestnet, log), gateway.Config{}, log)
	eng := engine.New(engine.Config{
		Store:     queries,
		Exchanges: resolver,
		Trader:    executor,
		Audit:     audit,
		Bus:       bus,
		Logger:    log,
	})
	publicMarket := gateway.PublicMarketData(cfg.BinanceTestnet, log)

	metrics := monitor.New()
	metrics.RegisterGauge("bus_subscribers", func() float64 { return float64(bus.Subscribers()) })
	metrics.RegisterGauge("bus_dropped", func() float64 { return float64(bus.Dropped()) })
	metrics.RegisterGauge("exchange_clients_cached", func() float64 { return float64(resolver.Cached()) })

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug("background task stopped", zap.String("task", name))
		}()
	}

	background("resolver-prune", func(ctx context.Context) {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := resolver.Prune(); n > 0 {
					log.Debug("pruned idle exchange clients", zap.Int("count", n))
				}
			}
		}
	})

	var writer *persistence.PriceWriter
	if cfg.PriceRecorderEnabled {
		writer = persistence.NewPriceWriter(database, 100, 5*time.Second, log)
		metrics.RegisterGauge("price_writer_pending", func() float64 { return float64(writer.Pending()) })
		recorder := market.NewRecorder(market.RecorderConfig{
			Source:   publicMarket,
			Sink:     writer,
			Symbols:  cfg.TrackedSymbols,
			Interval: cfg.PriceRecorderInterval,
			Bus:      bus,
			Logger:   log,
		})
		background("price-recorder", recorder.Run)
	}

	if cfg.BotSchedulerEnabled {
		sched := scheduler.New(database, eng, scheduler.Config{Tick: cfg.BotSchedulerTick}, log)
		background("bot-scheduler", sched.Run)
	}

	server := api.NewServer(api.Config{
		DB:             database,
		Engine:         eng,
		Exchanges:      resolver,
		Trader:         executor,
		Syncer:         portfolio.NewSyncer(queries, audit, log),
		Vault:          vault,
		Market:         publicMarket,
		Journal:        audit,
		Bus:            bus,
		Metrics:        metrics,
		Logger:         log,
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
		Version:        buildVersion,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	stop()
	wg.Wait()
	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Warn("flush price writer", zap.Error(err))
		}
	}
	return nil
}

func seedStrategies(ctx context.Context, database *db.Database, cfg *config.Config, log *zap.Logger) error {
	if cfg.StrategySeedOwner == "" {
		log.Warn("STRATEGY_SEED_FILE set without STRATEGY_SEED_OWNER, skipping seed")
		return nil
	}
	seeds, err := strategy.LoadSeedFile(cfg.StrategySeedFile)
	if err != nil {
		return fmt.Errorf("load strategy seeds: %w", err)
	}
	if err := strategy.SyncSeedsToDB(ctx, database.DB, cfg.StrategySeedOwner, seeds); err != nil {
		return fmt.Errorf("sync strategy seeds: %w", err)
	}
	log.Info("strategy seeds synced", zap.Int("count", len(seeds)), zap.String("owner", cfg.StrategySeedOwner))
	return nil
}
