// Package main provides the performance engine entry point.
// The engine computes daily performance records after each day's snapshots
// land, then rolls the affected months and years up. It runs once with the
// "run" argument, or as a scheduled worker firing at 00:00 UTC.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-performance/internal/api"
	"github.com/portfolio-performance/internal/config"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/rates"
	"github.com/portfolio-performance/internal/service"
	"github.com/portfolio-performance/internal/storage"
	"github.com/portfolio-performance/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	logger.Info("Database connections established")

	dailyRepo := storage.NewDailyRecordRepository(postgres.Pool())
	periodRepo := storage.NewPeriodRecordRepository(postgres.Pool())
	rateRepo := storage.NewRateRepository(postgres.Pool())
	runRepo := storage.NewRunRepository(postgres.Pool())
	ledgerRepo := storage.NewLedgerRepository(clickhouse)
	cacheService := storage.NewCacheService(redisCache, cfg.Cache.TTL)

	rateSource := rates.NewProvider(rateRepo, cfg.Rates.LookupsPerSecond)
	converter := service.NewCurrencyConverter(rateSource, service.CurrencyConverterConfig{
		MaxFallbackDays: cfg.Rates.MaxFallbackDays,
		FallbackDelay:   cfg.Rates.FallbackDelay,
		SanityBand:      cfg.Rates.SanityBand,
	})

	pipeline := service.NewDailyPipeline(ledgerRepo, ledgerRepo, dailyRepo, converter, service.DailyPipelineConfig{
		Currencies:        cfg.Engine.Currencies,
		MaxParallelScopes: cfg.Engine.MaxParallelScopes,
	})

	consolidation := service.NewConsolidationService(
		dailyRepo, periodRepo, ledgerRepo, cacheService, cfg.Engine.MaxParallelScopes)

	engine := &Engine{
		pipeline:      pipeline,
		consolidation: consolidation,
		runs:          runRepo,
	}

	// One-shot mode for backfills and manual runs.
	if len(os.Args) > 1 && os.Args[1] == "run" {
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		fromArg := runFlags.String("from", "", "First date to compute (YYYY-MM-DD, default yesterday)")
		toArg := runFlags.String("to", "", "Last date to compute (YYYY-MM-DD, default yesterday)")
		if err := runFlags.Parse(os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("Failed to parse flags")
		}

		yesterday := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
		from := parseDateOr(*fromArg, yesterday, logger)
		to := parseDateOr(*toArg, yesterday, logger)

		if err := engine.RunOnce(context.Background(), from, to); err != nil {
			logger.WithError(err).Fatal("Engine run failed")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(
		api.DefaultServerConfig(cfg.Server.Host, cfg.Server.Port),
		runRepo,
		consolidation,
		map[string]api.Pinger{
			"postgres":   postgres,
			"clickhouse": clickhouse,
			"redis":      redisCache,
		},
	)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server stopped")
		}
	}()

	go engine.runScheduler(ctx, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Ops server shutdown failed")
	}

	logger.Info("Engine stopped")
}

// Engine glues the daily pipeline, consolidation, and run bookkeeping.
type Engine struct {
	pipeline      *service.DailyPipeline
	consolidation *service.ConsolidationService
	runs          *storage.RunRepository
}

// RunOnce computes daily records for [from, to], consolidates the touched
// periods, and records the run.
func (e *Engine) RunOnce(ctx context.Context, from, to time.Time) error {
	logger := logging.GetGlobalLogger()

	run := &models.EngineRun{
		ID:        uuid.New().String(),
		Kind:      "daily",
		Mode:      types.ModeFix,
		Status:    types.RunStatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := e.runs.Create(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run start")
	}

	summary, runErr := e.pipeline.Run(ctx, from, to)

	if runErr == nil {
		if _, err := e.consolidation.ConsolidateRange(ctx, from, to); err != nil {
			runErr = err
		}
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ScopesTotal = summary.ScopesTotal
	run.RecordsWritten = summary.RecordsWritten
	run.Skipped = summary.Skipped
	run.Status = types.RunStatusCompleted
	if runErr != nil {
		run.Status = types.RunStatusFailed
		run.Error = runErr.Error()
	}
	if err := e.runs.Finish(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run finish")
	}

	return runErr
}

// runScheduler fires the daily run at 00:00 UTC, computing the day that just
// closed.
func (e *Engine) runScheduler(ctx context.Context, logger *logging.Logger) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		wait := next.Sub(now)

		logger.WithFields(map[string]interface{}{
			"next_run": next.Format(time.RFC3339),
			"wait":     wait.String(),
		}).Info("Waiting for next engine run")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
			if err := e.RunOnce(ctx, day, day); err != nil {
				logger.WithError(err).WithField("date", types.DayKey(day)).
					Error("Scheduled engine run failed")
			}
		}
	}
}

// parseDateOr parses a YYYY-MM-DD argument, falling back to def.
func parseDateOr(raw string, def time.Time, logger *logging.Logger) time.Time {
	if raw == "" {
		return def
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		logger.Fatalf("Invalid date %q: %v", raw, err)
	}
	return parsed
}
