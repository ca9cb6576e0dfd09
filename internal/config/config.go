// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends accepted by BRANCHPANEL_CACHE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Configuration sources reported by ConfigSource.
const (
	SourceEnvironment = "environment"
	SourceNone        = "none"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Workspace        string
	AccessToken      string
	APIBaseURL       string
	ListenAddr       string
	CacheBackend     string
	DBPath           string
	CacheTTL         time.Duration
	PollInterval     time.Duration
	StaleDays        int
	StaleRemote      bool
	FetchConcurrency int
	HTTPCache        bool
}

// HasBitbucketCredentials returns true when both the workspace and the access
// token are non-empty. Without them the client reports itself unconfigured
// and every load fails with a configuration error.
func (c *Config) HasBitbucketCredentials() bool {
	return c.Workspace != "" && c.AccessToken != ""
}

// ConfigSource names where the Bitbucket credentials came from.
func (c *Config) ConfigSource() string {
	if c.HasBitbucketCredentials() {
		return SourceEnvironment
	}
	return SourceNone
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is applied first; variables already set
// in the process environment take precedence over it.
//
// Bitbucket credentials (BITBUCKET_WORKSPACE, BITBUCKET_ACCESS_TOKEN, or their
// BRANCHPANEL_ prefixed forms) are optional; if absent, the server starts and
// reports itself unconfigured. Optional variables with defaults:
// BRANCHPANEL_LISTEN_ADDR (127.0.0.1:8080), BRANCHPANEL_CACHE_BACKEND (sqlite),
// BRANCHPANEL_DB_PATH (branchpanel.db), BRANCHPANEL_CACHE_TTL (5m),
// BRANCHPANEL_POLL_INTERVAL (5m, 0 disables background fetches),
// BRANCHPANEL_STALE_DAYS (30), BRANCHPANEL_STALE_REMOTE (false),
// BRANCHPANEL_FETCH_CONCURRENCY (8), BRANCHPANEL_HTTP_CACHE (true),
// BRANCHPANEL_API_BASE_URL (https://api.bitbucket.org/2.0).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg := &Config{
		Workspace:        firstEnv("BRANCHPANEL_WORKSPACE", "BITBUCKET_WORKSPACE"),
		AccessToken:      firstEnv("BRANCHPANEL_ACCESS_TOKEN", "BITBUCKET_ACCESS_TOKEN"),
		APIBaseURL:       "https://api.bitbucket.org/2.0",
		ListenAddr:       "127.0.0.1:8080",
		CacheBackend:     BackendSQLite,
		DBPath:           "branchpanel.db",
		CacheTTL:         5 * time.Minute,
		PollInterval:     5 * time.Minute,
		StaleDays:        30,
		FetchConcurrency: 8,
		HTTPCache:        true,
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_API_BASE_URL"); ok && v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_CACHE_BACKEND"); ok && v != "" {
		backend := strings.ToLower(strings.TrimSpace(v))
		switch backend {
		case BackendSQLite, BackendBolt, BackendMemory:
			cfg.CacheBackend = backend
		default:
			return nil, fmt.Errorf("BRANCHPANEL_CACHE_BACKEND must be one of sqlite, bolt, memory; got %q", v)
		}
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_DB_PATH"); ok {
		cfg.DBPath = v
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_CACHE_TTL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("BRANCHPANEL_CACHE_TTL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("BRANCHPANEL_CACHE_TTL must be positive, got %s", parsed)
		}
		cfg.CacheTTL = parsed
	}

	if v, ok := os.LookupEnv("BRANCHPANEL_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("BRANCHPANEL_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("BRANCHPANEL_POLL_INTERVAL must not be negative, got %s", parsed)
		}
		cfg.PollInterval = parsed
	}

	var err error
	if cfg.StaleDays, err = positiveInt("BRANCHPANEL_STALE_DAYS", cfg.StaleDays); err != nil {
		return nil, err
	}
	if cfg.FetchConcurrency, err = positiveInt("BRANCHPANEL_FETCH_CONCURRENCY", cfg.FetchConcurrency); err != nil {
		return nil, err
	}
	if cfg.StaleRemote, err = boolEnv("BRANCHPANEL_STALE_REMOTE", cfg.StaleRemote); err != nil {
		return nil, err
	}
	if cfg.HTTPCache, err = boolEnv("BRANCHPANEL_HTTP_CACHE", cfg.HTTPCache); err != nil {
		return nil, err
	}

	return cfg, nil
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func positiveInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
