package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBPath            string
	HTTPAddr          string
	JWTSecret         string
	BlobBackend       string // "fs" or "gcs"
	BlobDir           string
	GCSBucket         string
	BlobTimeout       time.Duration
	UnratedMultiplier *decimal.Decimal // nil means unrated members may not borrow
	AmountTolerance   decimal.Decimal
	AuditBackend      string // "log" or "db"
	ReconcileSchedule string
	LogLevel          string
}

// Load reads configuration from the environment, after loading .env when present.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		DBPath:            stringFromEnv("VSLA_DB_PATH", "vsla.db"),
		HTTPAddr:          stringFromEnv("VSLA_HTTP_ADDR", ":8080"),
		JWTSecret:         os.Getenv("VSLA_JWT_SECRET"),
		BlobBackend:       stringFromEnv("VSLA_BLOB_BACKEND", "fs"),
		BlobDir:           stringFromEnv("VSLA_BLOB_DIR", "uploads"),
		GCSBucket:         os.Getenv("VSLA_GCS_BUCKET"),
		BlobTimeout:       time.Duration(intFromEnv("VSLA_BLOB_TIMEOUT_SECONDS", 30)) * time.Second,
		AuditBackend:      stringFromEnv("VSLA_AUDIT_BACKEND", "log"),
		ReconcileSchedule: stringFromEnv("VSLA_RECONCILE_SCHEDULE", "@every 1h"),
		LogLevel:          stringFromEnv("LOG_LEVEL", "info"),
	}

	tol, err := decimalFromEnv("VSLA_AMOUNT_TOLERANCE", "0.01")
	if err != nil {
		return nil, err
	}
	if tol.IsNegative() {
		return nil, fmt.Errorf("VSLA_AMOUNT_TOLERANCE must not be negative, got %s", tol)
	}
	cfg.AmountTolerance = tol

	if v := strings.TrimSpace(os.Getenv("VSLA_UNRATED_MULTIPLIER")); v != "" {
		m, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VSLA_UNRATED_MULTIPLIER %q: %w", v, err)
		}
		cfg.UnratedMultiplier = &m
	}

	switch cfg.BlobBackend {
	case "fs":
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("VSLA_GCS_BUCKET is required when VSLA_BLOB_BACKEND=gcs")
		}
	default:
		return nil, fmt.Errorf("unknown VSLA_BLOB_BACKEND %q", cfg.BlobBackend)
	}
	return cfg, nil
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func decimalFromEnv(key, def string) (decimal.Decimal, error) {
	v := stringFromEnv(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
