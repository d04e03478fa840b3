// Package main provides the consistency verifier CLI. In dry-run mode it
// reports proposed corrections without writing; in fix mode it persists them
// in transactional batches and invalidates downstream caches.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-performance/internal/config"
	"github.com/portfolio-performance/internal/errors"
	"github.com/portfolio-performance/internal/logging"
	"github.com/portfolio-performance/internal/models"
	"github.com/portfolio-performance/internal/service"
	"github.com/portfolio-performance/internal/storage"
	"github.com/portfolio-performance/internal/types"
)

func main() {
	var (
		modeArg  = flag.String("mode", "dry-run", "Run mode: dry-run or fix")
		fromArg  = flag.String("from", "", "First date to verify (YYYY-MM-DD, default 30 days ago)")
		toArg    = flag.String("to", "", "Last date to verify (YYYY-MM-DD, default yesterday)")
		scopeArg = flag.String("scope", "", "Verify one scope only, as kind:id")
	)
	flag.Parse()

	var mode types.RunMode
	switch *modeArg {
	case string(types.ModeDryRun):
		mode = types.ModeDryRun
	case string(types.ModeFix):
		mode = types.ModeFix
	default:
		log.Fatalf("Unknown mode %q: must be dry-run or fix", *modeArg)
	}

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
	runRepo := storage.NewRunRepository(postgres.Pool())
	ledgerRepo := storage.NewLedgerRepository(clickhouse)
	cacheService := storage.NewCacheService(redisCache, cfg.Cache.TTL)

	verifier := service.NewConsistencyVerifier(dailyRepo, cacheService, service.VerifierConfig{
		FieldThreshold:      cfg.Correction.FieldThreshold,
		CrossLevelThreshold: cfg.Correction.CrossLevelThreshold,
		BatchSize:           cfg.Correction.BatchSize,
		Mode:                mode,
	})

	ctx := context.Background()

	yesterday := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	from := parseDateOr(*fromArg, yesterday.AddDate(0, 0, -29), logger)
	to := parseDateOr(*toArg, yesterday, logger)

	scopes, err := resolveScopes(ctx, ledgerRepo, *scopeArg, from, to)
	if err != nil {
		logger.WithError(err).Fatal("Failed to resolve scopes")
	}

	run := &models.EngineRun{
		ID:        uuid.New().String(),
		Kind:      "verify",
		Mode:      mode,
		Status:    types.RunStatusInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := runRepo.Create(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run start")
	}

	var reports []*service.VerifyReport
	var runErr error
	for _, scope := range scopes {
		report, err := verifier.VerifyScope(ctx, scope, from, to)
		if report != nil {
			reports = append(reports, report)
			run.Corrected += report.Corrected
			run.Unchanged += report.Unchanged
			run.RecordsWritten += report.Corrected
		}
		if err != nil {
			logger.WithError(err).WithField("scope", scope.Key()).Error("Verification failed")
			if errors.IsFatal(err) {
				runErr = err
				break
			}
		}
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ScopesTotal = len(scopes)
	run.Status = types.RunStatusCompleted
	if runErr != nil {
		run.Status = types.RunStatusFailed
		run.Error = runErr.Error()
	}
	if err := runRepo.Finish(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run finish")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(reports); err != nil {
		logger.WithError(err).Error("Failed to write reports")
	}

	if runErr != nil {
		os.Exit(1)
	}
}

// resolveScopes returns the single requested scope, or every scope with data
// in range.
func resolveScopes(ctx context.Context, ledgerRepo *storage.LedgerRepository, scopeArg string, from, to time.Time) ([]types.EntityScope, error) {
	if scopeArg == "" {
		return ledgerRepo.Scopes(ctx, from, to)
	}

	parts := strings.SplitN(scopeArg, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.NewValidationError("scope", "must be kind:id")
	}

	kind := types.ScopeKind(parts[0])
	switch kind {
	case types.ScopeAsset, types.ScopeAccount, types.ScopeOverall:
	default:
		return nil, errors.NewValidationError("scope", "kind must be one of asset, account, overall")
	}

	return []types.EntityScope{{Kind: kind, ID: parts[1]}}, nil
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
