package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every env var that Load() reads.
var allConfigKeys = []string{
	"BITBUCKET_WORKSPACE",
	"BITBUCKET_ACCESS_TOKEN",
	"BRANCHPANEL_WORKSPACE",
	"BRANCHPANEL_ACCESS_TOKEN",
	"BRANCHPANEL_API_BASE_URL",
	"BRANCHPANEL_LISTEN_ADDR",
	"BRANCHPANEL_CACHE_BACKEND",
	"BRANCHPANEL_DB_PATH",
	"BRANCHPANEL_CACHE_TTL",
	"BRANCHPANEL_POLL_INTERVAL",
	"BRANCHPANEL_STALE_DAYS",
	"BRANCHPANEL_STALE_REMOTE",
	"BRANCHPANEL_FETCH_CONCURRENCY",
	"BRANCHPANEL_HTTP_CACHE",
}

// isolateConfigEnv saves and unsets all config env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BITBUCKET_WORKSPACE", "acme")
	t.Setenv("BITBUCKET_ACCESS_TOKEN", "tok_123")
	t.Setenv("BRANCHPANEL_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("BRANCHPANEL_CACHE_BACKEND", "Bolt")
	t.Setenv("BRANCHPANEL_DB_PATH", "/tmp/test.db")
	t.Setenv("BRANCHPANEL_CACHE_TTL", "10m")
	t.Setenv("BRANCHPANEL_POLL_INTERVAL", "0")
	t.Setenv("BRANCHPANEL_STALE_DAYS", "14")
	t.Setenv("BRANCHPANEL_STALE_REMOTE", "true")
	t.Setenv("BRANCHPANEL_FETCH_CONCURRENCY", "3")
	t.Setenv("BRANCHPANEL_HTTP_CACHE", "false")
	t.Setenv("BRANCHPANEL_API_BASE_URL", "https://bitbucket.example.com/2.0/")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Workspace)
	assert.Equal(t, "tok_123", cfg.AccessToken)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, BackendBolt, cfg.CacheBackend)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Zero(t, cfg.PollInterval)
	assert.Equal(t, 14, cfg.StaleDays)
	assert.True(t, cfg.StaleRemote)
	assert.Equal(t, 3, cfg.FetchConcurrency)
	assert.False(t, cfg.HTTPCache)
	assert.Equal(t, "https://bitbucket.example.com/2.0", cfg.APIBaseURL)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Empty(t, cfg.Workspace)
	assert.Empty(t, cfg.AccessToken)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, BackendSQLite, cfg.CacheBackend)
	assert.Equal(t, "branchpanel.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 30, cfg.StaleDays)
	assert.False(t, cfg.StaleRemote)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.True(t, cfg.HTTPCache)
	assert.Equal(t, "https://api.bitbucket.org/2.0", cfg.APIBaseURL)
	assert.False(t, cfg.HasBitbucketCredentials())
	assert.Equal(t, SourceNone, cfg.ConfigSource())
}

func TestLoad_PrefixedCredentialsWin(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BITBUCKET_WORKSPACE", "plain")
	t.Setenv("BRANCHPANEL_WORKSPACE", "prefixed")
	t.Setenv("BITBUCKET_ACCESS_TOKEN", "tok")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Workspace)
	assert.True(t, cfg.HasBitbucketCredentials())
	assert.Equal(t, SourceEnvironment, cfg.ConfigSource())
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("BRANCHPANEL_STALE_DAYS", "7")

	dotenv := "BITBUCKET_WORKSPACE=fromfile\nBITBUCKET_ACCESS_TOKEN=filetok\nBRANCHPANEL_STALE_DAYS=99\n"
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte(dotenv), 0o600))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Workspace)
	assert.Equal(t, "filetok", cfg.AccessToken)
	assert.Equal(t, 7, cfg.StaleDays, "process environment overrides .env")
}

func TestHasBitbucketCredentials(t *testing.T) {
	tests := []struct {
		name      string
		workspace string
		token     string
		want      bool
	}{
		{"both set", "acme", "tok", true},
		{"no token", "acme", "", false},
		{"no workspace", "", "tok", false},
		{"neither", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Workspace: tt.workspace, AccessToken: tt.token}
			assert.Equal(t, tt.want, cfg.HasBitbucketCredentials())
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BRANCHPANEL_CACHE_TTL", "soon"},
		{"BRANCHPANEL_CACHE_TTL", "-1m"},
		{"BRANCHPANEL_CACHE_BACKEND", "redis"},
		{"BRANCHPANEL_POLL_INTERVAL", "-5m"},
		{"BRANCHPANEL_STALE_DAYS", "abc"},
		{"BRANCHPANEL_STALE_DAYS", "0"},
		{"BRANCHPANEL_FETCH_CONCURRENCY", "-2"},
		{"BRANCHPANEL_STALE_REMOTE", "maybe"},
		{"BRANCHPANEL_HTTP_CACHE", "nah"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
