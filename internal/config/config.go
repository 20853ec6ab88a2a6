package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once at startup and passed into component constructors;
// no component reaches for the environment on its own.
type Config struct {
	HTTPAddr string
	PGDSN    string

	OnlineThreshold time.Duration
	RefreshWindow   time.Duration
	StoreTimeout    time.Duration

	RetentionDays      int // 0 = keep forever
	PruneIntervalHours int

	RateBurst  int
	RatePerSec int
}

func FromEnv() Config {
	return Config{
		HTTPAddr: getenvDefault("PASSGATE_HTTP_ADDR", ":8080"),
		PGDSN:    os.Getenv("PASSGATE_PG_DSN"),

		OnlineThreshold: time.Duration(getenvInt("PASSGATE_ONLINE_THRESHOLD_MIN", 5)) * time.Minute,
		RefreshWindow:   time.Duration(getenvInt("PASSGATE_REFRESH_WINDOW_HOURS", 24)) * time.Hour,
		StoreTimeout:    time.Duration(getenvInt("PASSGATE_STORE_TIMEOUT_MS", 3000)) * time.Millisecond,

		RetentionDays:      getenvInt("PASSGATE_RETENTION_DAYS", 90),
		PruneIntervalHours: getenvInt("PASSGATE_PRUNE_INTERVAL_HOURS", 6),

		RateBurst:  getenvInt("PASSGATE_RATE_BURST", 50),
		RatePerSec: getenvInt("PASSGATE_RATE_PER_SEC", 25),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
