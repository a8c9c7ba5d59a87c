package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evreplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
service_id: minter-test
db: /tmp/minter.db
replay:
  slice_budget: 10
  total_budget: 100
snapshot:
  every: 5
allow_downgrade: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "minter-test", cfg.ServiceID)
	assert.Equal(t, uint64(10), cfg.Replay.SliceBudget)
	assert.Equal(t, uint64(100), cfg.Replay.TotalBudget)
	assert.Equal(t, Default().Replay.ChunkSize, cfg.Replay.ChunkSize, "unset keys keep defaults")
	assert.Equal(t, uint64(5), cfg.Snapshot.Every)
	assert.True(t, cfg.AllowDowngrade)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "db: from-file.db\n")
	t.Setenv("EVREPLAY_DB", "from-env.db")
	t.Setenv("EVREPLAY_SNAPSHOT_EVERY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DB)
	assert.Equal(t, uint64(7), cfg.Snapshot.Every)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeFile(t, "sevice_id: typo\n"))
		assert.ErrorContains(t, err, "sevice_id")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "read config")
	})
	t.Run("bad env", func(t *testing.T) {
		t.Setenv("EVREPLAY_SLICE_BUDGET", "lots")
		_, err := Load("")
		assert.ErrorContains(t, err, "parse env:")
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := Load(writeFile(t, "replay:\n  slice_budget: 10\n  total_budget: 5\n"))
		assert.ErrorContains(t, err, "total_budget")
	})
	t.Run("log level", func(t *testing.T) {
		_, err := Load(writeFile(t, "log_level: loud\n"))
		assert.ErrorContains(t, err, "log_level")
	})
}

func TestUpgradeConfig(t *testing.T) {
	cfg := Default()
	cfg.AllowDowngrade = true
	uc := cfg.Upgrade(slog.Default())
	assert.Equal(t, cfg.ServiceID, uc.ServiceID)
	assert.Equal(t, cfg.Replay.SliceBudget, uc.SliceBudget.Limit)
	assert.Equal(t, cfg.Replay.TotalBudget, uc.TotalBudget.Limit)
	assert.Equal(t, cfg.Snapshot.Every, uc.Snapshot.Every)
	assert.True(t, uc.AllowDowngrade)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
