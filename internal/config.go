package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Database Configuration
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseUrl    string

	// AppTimezone is the IANA zone that defines billing-month boundaries.
	AppTimezone string

	// Worker Configuration
	WorkerEnabled    bool
	WorkerJobTimeout time.Duration

	// Referral period-key normalization
	NormalizeInterval     time.Duration
	NormalizeLookbackDays int

	// Pending-referral reconciliation
	ReconcileInterval  time.Duration
	ReconcileBatchSize int

	// NearLimitPercent flags decisions whose usage reached this share of the limit
	NearLimitPercent int

	// Referral award retries on transient storage errors
	ReferralMaxRetries     int
	ReferralRetryBaseDelay time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// InternalJobToken guards POST /internal/jobs/*. Empty disables the routes.
	InternalJobToken string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),

		AppTimezone: getEnv("APP_TIMEZONE", "America/Chicago"),

		// Worker defaults
		WorkerEnabled:    getEnvBool("WORKER_ENABLED", true),
		WorkerJobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		NormalizeInterval:     getEnvDuration("NORMALIZE_INTERVAL", 6*time.Hour),
		NormalizeLookbackDays: getEnvInt("NORMALIZE_LOOKBACK_DAYS", 90),

		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 30*time.Minute),
		ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 100),

		NearLimitPercent: getEnvInt("QUOTA_NEAR_LIMIT_PERCENT", 80),

		ReferralMaxRetries:     getEnvInt("REFERRAL_MAX_RETRIES", 3),
		ReferralRetryBaseDelay: getEnvDuration("REFERRAL_RETRY_BASE_DELAY", 100*time.Millisecond),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		InternalJobToken: getEnv("INTERNAL_JOB_TOKEN", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be either 'postgres' or 'sqlite', got: %s", cfg.DatabaseDriver)
	}

	// No silent UTC fallback: billing boundaries depend on this zone
	if _, err := time.LoadLocation(cfg.AppTimezone); err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q could not be loaded: %w", cfg.AppTimezone, err)
	}

	if cfg.NormalizeLookbackDays < 1 {
		return nil, fmt.Errorf("NORMALIZE_LOOKBACK_DAYS must be at least 1, got %d", cfg.NormalizeLookbackDays)
	}
	if cfg.ReconcileBatchSize < 1 {
		return nil, fmt.Errorf("RECONCILE_BATCH_SIZE must be at least 1, got %d", cfg.ReconcileBatchSize)
	}

	if cfg.NearLimitPercent < 1 || cfg.NearLimitPercent > 100 {
		return nil, fmt.Errorf("QUOTA_NEAR_LIMIT_PERCENT must be between 1 and 100, got %d", cfg.NearLimitPercent)
	}

	return cfg, nil
}

// NormalizeLookback returns the normalization scan window.
func (c *Config) NormalizeLookback() time.Duration {
	return time.Duration(c.NormalizeLookbackDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
