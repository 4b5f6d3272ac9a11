package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VSLA_DB_PATH", "")
	t.Setenv("VSLA_UNRATED_MULTIPLIER", "")
	t.Setenv("VSLA_BLOB_BACKEND", "")
	t.Setenv("VSLA_AMOUNT_TOLERANCE", "")
	t.Setenv("VSLA_BLOB_TIMEOUT_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DBPath != "vsla.db" {
		t.Errorf("Expected default db path, got %s", cfg.DBPath)
	}
	if cfg.UnratedMultiplier != nil {
		t.Errorf("Expected unrated members to be barred from borrowing by default")
	}
	if cfg.AmountTolerance.String() != "0.01" {
		t.Errorf("Expected tolerance 0.01, got %s", cfg.AmountTolerance)
	}
	if cfg.BlobTimeout != 30*time.Second {
		t.Errorf("Expected 30s blob timeout, got %s", cfg.BlobTimeout)
	}
}

func TestLoadUnratedMultiplier(t *testing.T) {
	t.Setenv("VSLA_UNRATED_MULTIPLIER", "1.5")
	t.Setenv("VSLA_BLOB_BACKEND", "fs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.UnratedMultiplier == nil || cfg.UnratedMultiplier.String() != "1.5" {
		t.Errorf("Expected unrated multiplier 1.5, got %v", cfg.UnratedMultiplier)
	}
}

func TestLoadRejectsGCSWithoutBucket(t *testing.T) {
	t.Setenv("VSLA_BLOB_BACKEND", "gcs")
	t.Setenv("VSLA_GCS_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error when gcs backend has no bucket")
	}
}

func TestLoadAmountTolerance(t *testing.T) {
	t.Setenv("VSLA_BLOB_BACKEND", "fs")
	t.Setenv("VSLA_AMOUNT_TOLERANCE", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.AmountTolerance.IsZero() {
		t.Errorf("Expected an exact-match tolerance, got %s", cfg.AmountTolerance)
	}

	t.Setenv("VSLA_AMOUNT_TOLERANCE", "-0.01")
	if _, err := Load(); err == nil {
		t.Errorf("Expected a negative tolerance to be rejected")
	}
}
