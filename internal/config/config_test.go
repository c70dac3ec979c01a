package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestLoadOptionalDB_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SCAN_INTERVAL", "")
	t.Setenv("SCAN_WORKERS", "")
	t.Setenv("ANOMALY_SENSITIVITY", "")

	cfg, err := LoadOptionalDB()
	if err != nil {
		t.Fatalf("LoadOptionalDB error: %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.ScanInterval != defaultScanInterval {
		t.Fatalf("expected default scan interval, got %v", cfg.ScanInterval)
	}
	if cfg.ScanWorkers != defaultScanWorkers {
		t.Fatalf("expected default scan workers, got %d", cfg.ScanWorkers)
	}
	if cfg.AnomalySensitivity != defaultAnomalySensitivity {
		t.Fatalf("expected default sensitivity, got %v", cfg.AnomalySensitivity)
	}
}

func TestLoadWithOptions_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dq")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("SCAN_WORKERS", "16")
	t.Setenv("QUERY_TIMEOUT", "10s")
	t.Setenv("COST_DAILY_BUDGET", "42.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ScanInterval != 5*time.Minute {
		t.Fatalf("expected 5m interval, got %v", cfg.ScanInterval)
	}
	if cfg.ScanWorkers != 16 {
		t.Fatalf("expected 16 workers, got %d", cfg.ScanWorkers)
	}
	if cfg.QueryTimeout != 10*time.Second {
		t.Fatalf("expected 10s query timeout, got %v", cfg.QueryTimeout)
	}
	if cfg.CostDailyBudget != 42.5 {
		t.Fatalf("expected daily budget 42.5, got %v", cfg.CostDailyBudget)
	}
}

func TestLoadWithOptions_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dq")
	t.Setenv("SCAN_WORKERS", "zero")
	t.Setenv("SCAN_INTERVAL", "-3m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ScanWorkers != defaultScanWorkers {
		t.Fatalf("malformed SCAN_WORKERS should fall back, got %d", cfg.ScanWorkers)
	}
	if cfg.ScanInterval != defaultScanInterval {
		t.Fatalf("negative SCAN_INTERVAL should fall back, got %v", cfg.ScanInterval)
	}
}
