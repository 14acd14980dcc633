// Package config loads server settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr             string
	SnapshotDir      string
	HistoryDBPath    string
	RateLimitPerIP   float64
	SnapshotTTL      time.Duration
	SweepInterval    time.Duration
	KeepAutoVersions int
}

func Load() *Config {
	return &Config{
		Addr:             envStr("COLLAB_ADDR", ":3000"),
		SnapshotDir:      envStr("SNAPSHOT_DIR", "."),
		HistoryDBPath:    envStr("COLLAB_HISTORY_DB", "./data/history.db"),
		RateLimitPerIP:   float64(envInt("COLLAB_RATE_LIMIT_PER_IP", 100)),
		SnapshotTTL:      time.Duration(envInt("COLLAB_SNAPSHOT_TTL", 0)) * time.Second,
		SweepInterval:    time.Duration(envInt("COLLAB_SWEEP_INTERVAL", 3600)) * time.Second,
		KeepAutoVersions: envInt("COLLAB_KEEP_AUTO_VERSIONS", 20),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
