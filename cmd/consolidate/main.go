// Package main provides a CLI for period consolidation: rebuild the monthly
// and yearly rollups for a date range, or regenerate one scope's year from
// scratch. Consolidated records are derived caches, so every invocation is
// safe to repeat.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-performance/internal/config"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/service"
	"github.com/portfolio-performance/internal/storage"
	"github.com/portfolio-performance/internal/types"
)

func main() {
	var (
		fromArg  = flag.String("from", "", "First date to consolidate (YYYY-MM-DD, default first of current month)")
		toArg    = flag.String("to", "", "Last date to consolidate (YYYY-MM-DD, default today)")
		scopeArg = flag.String("scope", "", "Regenerate one scope only, as kind:id (requires -year)")
		yearArg  = flag.String("year", "", "Year to regenerate for -scope (YYYY)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

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

	dailyRepo := storage.NewDailyRecordRepository(postgres.Pool())
	periodRepo := storage.NewPeriodRecordRepository(postgres.Pool())
	runRepo := storage.NewRunRepository(postgres.Pool())
	ledgerRepo := storage.NewLedgerRepository(clickhouse)
	cacheService := storage.NewCacheService(redisCache, cfg.Cache.TTL)

	consolidation := service.NewConsolidationService(
		dailyRepo, periodRepo, ledgerRepo, cacheService, cfg.Engine.MaxParallelScopes)

	ctx := context.Background()

	if *scopeArg != "" {
		scope, err := parseScope(*scopeArg)
		if err != nil {
			logger.Fatalf("Invalid scope %q: %v", *scopeArg, err)
		}
		if *yearArg == "" {
			logger.Fatal("-scope requires -year")
		}

		if err := consolidation.RegenerateYear(ctx, scope, *yearArg); err != nil {
			logger.WithError(err).Fatal("Regeneration failed")
		}
		logger.WithField("scope", scope.Key()).WithField("year", *yearArg).Info("Regeneration complete")
		return
	}

	now := time.Now().UTC()
	from := parseDateOr(*fromArg, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), logger)
	to := parseDateOr(*toArg, now.Truncate(24*time.Hour), logger)

	run := &models.EngineRun{
		ID:        uuid.New().String(),
		Kind:      "consolidate",
		Mode:      types.ModeFix,
		Status:    types.RunStatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := runRepo.Create(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run start")
	}

	summary, runErr := consolidation.ConsolidateRange(ctx, from, to)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ScopesTotal = summary.ScopesTotal
	run.RecordsWritten = summary.RecordsWritten
	run.Status = types.RunStatusCompleted
	if runErr != nil {
		run.Status = types.RunStatusFailed
		run.Error = runErr.Error()
	}
	if err := runRepo.Finish(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run finish")
	}

	if runErr != nil {
		logger.WithError(runErr).Fatal("Consolidation failed")
	}
}

// parseScope parses a kind:id scope argument.
func parseScope(raw string) (types.EntityScope, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return types.EntityScope{}, errInvalidScope
	}

	kind := types.ScopeKind(parts[0])
	switch kind {
	case types.ScopeAsset, types.ScopeAccount, types.ScopeOverall:
	default:
		return types.EntityScope{}, errInvalidScope
	}

	return types.EntityScope{Kind: kind, ID: parts[1]}, nil
}

var errInvalidScope = errors.New("scope must be kind:id with kind one of asset, account, overall")

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
