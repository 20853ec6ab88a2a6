package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"PASSGATE_HTTP_ADDR", "PASSGATE_PG_DSN", "PASSGATE_ONLINE_THRESHOLD_MIN",
		"PASSGATE_REFRESH_WINDOW_HOURS", "PASSGATE_STORE_TIMEOUT_MS",
		"PASSGATE_RETENTION_DAYS", "PASSGATE_PRUNE_INTERVAL_HOURS",
		"PASSGATE_RATE_BURST", "PASSGATE_RATE_PER_SEC",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.OnlineThreshold != 5*time.Minute {
		t.Fatalf("unexpected threshold %v", cfg.OnlineThreshold)
	}
	if cfg.RefreshWindow != 24*time.Hour {
		t.Fatalf("unexpected refresh window %v", cfg.RefreshWindow)
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Fatalf("unexpected store timeout %v", cfg.StoreTimeout)
	}
	if cfg.RetentionDays != 90 || cfg.PruneIntervalHours != 6 {
		t.Fatalf("unexpected retention: %+v", cfg)
	}
	if cfg.RateBurst != 50 || cfg.RatePerSec != 25 {
		t.Fatalf("unexpected rate limits: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PASSGATE_HTTP_ADDR", ":9090")
	t.Setenv("PASSGATE_ONLINE_THRESHOLD_MIN", "10")
	t.Setenv("PASSGATE_RETENTION_DAYS", "0")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.OnlineThreshold != 10*time.Minute {
		t.Fatalf("unexpected threshold %v", cfg.OnlineThreshold)
	}
	if cfg.RetentionDays != 0 {
		t.Fatalf("retention override ignored: %d", cfg.RetentionDays)
	}
}

func TestGetenvIntRejectsGarbage(t *testing.T) {
	t.Setenv("PASSGATE_RATE_BURST", "not-a-number")
	t.Setenv("PASSGATE_RATE_PER_SEC", "-5")

	cfg := FromEnv()
	if cfg.RateBurst != 50 || cfg.RatePerSec != 25 {
		t.Fatalf("invalid values must fall back to defaults: %+v", cfg)
	}
}
