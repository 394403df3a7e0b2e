package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "tradedesk.db", cfg.DBPath)
	assert.Equal(t, "breeze", cfg.Jobs.Source)
	assert.Equal(t, 10, cfg.Jobs.MaxParallelChunks)
	assert.Equal(t, 100*time.Millisecond, cfg.Jobs.BatchPause())
	assert.Equal(t, 24*time.Hour, cfg.Jobs.MaxAge())
	assert.Equal(t, 30*time.Minute, cfg.Jobs.CleanupInterval())
	assert.Equal(t, 5, cfg.Breeze.RequestsPerSec)
	assert.Equal(t, 30*time.Second, cfg.Breeze.MaxRetry())
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("HISTORY_SOURCE", "yahoo")
	t.Setenv("MAX_PARALLEL_CHUNKS", "4")
	t.Setenv("BATCH_PAUSE_MS", "not-a-number")
	t.Setenv("BREEZE_REQUESTS_PER_SEC", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "yahoo", cfg.Jobs.Source)
	assert.Equal(t, 4, cfg.Jobs.MaxParallelChunks)
	assert.Equal(t, 100, cfg.Jobs.BatchPauseMS, "invalid values fall back")
	assert.Equal(t, 2, cfg.Breeze.RequestsPerSec)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "tradedesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
db_path: /var/lib/tradedesk.db
log:
  level: debug
  format: json
jobs:
  max_parallel_chunks: 3
breeze:
  api_key: from-file
  base_url: https://breeze.example
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BREEZE_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "/var/lib/tradedesk.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.Jobs.MaxParallelChunks)
	assert.Equal(t, "breeze", cfg.Jobs.Source, "unset keys keep defaults")
	assert.Equal(t, "from-env", cfg.Breeze.APIKey)
	assert.Equal(t, "https://breeze.example", cfg.Breeze.BaseURL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	t.Setenv("CONFIG_FILE", "")
	// .env never overrides variables that are already set, even to "".
	t.Setenv("DB_PATH", "")
	require.NoError(t, os.Unsetenv("DB_PATH"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_PATH=from-dotenv.db\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.DBPath)
}

func TestLoad_Errors(t *testing.T) {
	dir := chdir(t)

	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("jobs: [unterminated"), 0o600))
	t.Setenv("CONFIG_FILE", bad)
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_PARALLEL_CHUNKS", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLogging_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Logging{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "job", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "abc", line["job"])

	assert.True(t, Logging{Level: "bogus"}.NewLogger(&buf).Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, Logging{Level: "bogus"}.NewLogger(&buf).Enabled(context.Background(), slog.LevelDebug))
}
