package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	writeFile(t, path, `
workers: 2
log_level: debug
call_timeout: 1500ms
storage:
  backend: redis
  redis_addr: cache:6379
  session_ttl: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 64, cfg.QueueDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1500*time.Millisecond, cfg.CallTimeout)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "cache:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, time.Hour, cfg.Storage.SessionTTL)
	assert.Equal(t, "mcp:sessions:", cfg.Storage.KeyPrefix)
}

func TestLoadEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	writeFile(t, path, "workers: 2\npage_size: 10\n")
	t.Setenv("MCP_WORKERS", "8")
	t.Setenv("MCP_LOG_LEVEL", "warning")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"workers":     "workers: 0\n",
		"log level":   "log_level: verbose\n",
		"backend":     "storage:\n  backend: etcd\n",
		"key sources": "auth:\n  jwt_secret: s\n  jwks_url: http://x\n",
		"discovery":   "auth:\n  discover: true\n",
		"yaml":        "workers: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mcp.yaml")
			writeFile(t, path, body)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWatchAppliesValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	writeFile(t, path, "log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 8)
	done := make(chan error, 1)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- Watch(ctx, path, log, func(c Config) { got <- c }) }()

	// The watcher registers asynchronously; keep rewriting until it reports.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			assert.Equal(t, "error", c.LogLevel)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			writeFile(t, path, "log_level: error\n")
		case <-deadline:
			t.Fatal("watcher never applied the edit")
		}
	}
}
