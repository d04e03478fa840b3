// Package config provides configuration management for the performance engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/portfolio-performance/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Engine     EngineConfig
	Rates      RatesConfig
	Correction CorrectionConfig
	Cache      CacheConfig
	Logging    LoggingConfig
}

// ServerConfig holds ops server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// EngineConfig holds daily pipeline configuration
type EngineConfig struct {
	// Currencies to produce records for; the reference currency is always included
	Currencies []types.Currency
	// MaxParallelScopes bounds how many independent scopes compute concurrently
	MaxParallelScopes int
}

// RatesConfig holds exchange-rate lookup configuration
type RatesConfig struct {
	// MaxFallbackDays bounds how many prior days a lookup probes when the
	// requested date has no rate (non-trading days)
	MaxFallbackDays int
	// FallbackDelay is the pause between fallback probes
	FallbackDelay time.Duration
	// SanityBand rejects rates implying a value ratio outside
	// [1/SanityBand, SanityBand] versus the reference currency
	SanityBand float64
	// LookupsPerSecond bounds provider calls
	LookupsPerSecond float64
}

// CorrectionConfig holds verifier/corrector configuration
type CorrectionConfig struct {
	// FieldThreshold is the divergence, in percentage points, that flags a
	// field-level discrepancy
	FieldThreshold float64
	// CrossLevelThreshold applies to account/overall versus asset-sum checks
	CrossLevelThreshold float64
	// BatchSize bounds how many record rewrites share one transaction
	BatchSize int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_performance"),
				User:           getEnv("POSTGRES_USER", "perf"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_performance"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Engine: EngineConfig{
			Currencies:        loadCurrencies(),
			MaxParallelScopes: getEnvAsInt("ENGINE_MAX_PARALLEL_SCOPES", 8),
		},
		Rates: RatesConfig{
			MaxFallbackDays:  getEnvAsInt("RATES_MAX_FALLBACK_DAYS", 7),
			FallbackDelay:    getEnvAsDuration("RATES_FALLBACK_DELAY", 200*time.Millisecond),
			SanityBand:       getEnvAsFloat("RATES_SANITY_BAND", 20.0),
			LookupsPerSecond: getEnvAsFloat("RATES_LOOKUPS_PER_SECOND", 10.0),
		},
		Correction: CorrectionConfig{
			FieldThreshold:      getEnvAsFloat("CORRECTION_FIELD_THRESHOLD", 0.01),
			CrossLevelThreshold: getEnvAsFloat("CORRECTION_CROSS_LEVEL_THRESHOLD", 0.5),
			BatchSize:           getEnvAsInt("CORRECTION_BATCH_SIZE", 100),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// loadCurrencies parses the tracked currency list, keeping the reference
// currency first and dropping unknown codes.
func loadCurrencies() []types.Currency {
	raw := strings.Split(getEnv("ENGINE_CURRENCIES", "USD,EUR,GBP,ILS"), ",")

	known := make(map[types.Currency]bool)
	for _, c := range types.AllCurrencies() {
		known[c] = true
	}

	currencies := []types.Currency{types.ReferenceCurrency}
	for _, item := range raw {
		c := types.Currency(strings.ToUpper(strings.TrimSpace(item)))
		if c == types.ReferenceCurrency || !known[c] {
			continue
		}
		currencies = append(currencies, c)
	}
	return currencies
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
