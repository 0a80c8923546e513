package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/renderinc/torrent-sync/internal/document"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.SourceDriver)
	assert.Equal(t, "data/torrents.sqlite", cfg.SourceDSN)
	assert.Equal(t, "meili", cfg.IndexBackend)
	assert.Equal(t, "https://meili.local.jeykey.net", cfg.IndexURL)
	assert.Equal(t, "torrents", cfg.IndexName)
	assert.Equal(t, 30*time.Second, cfg.IndexTimeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, document.DefaultPoster, cfg.Poster)
	assert.False(t, cfg.EscapeName)
	assert.Zero(t, cfg.Interval)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 6893, cfg.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.SourceDriver)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrent-sync.ini")
	require.NoError(t, os.WriteFile(path, []byte(`
[source]
driver = mysql
dsn = user:pass@tcp(db:3306)/torrents

[index]
backend = meili
url = http://localhost:7700
name = movies
api_key = key
timeout = 5s

[sync]
concurrency = 8
batch_size = 50
max_attempts = 3
escape_name = true
interval = 1h

[log]
level = debug
format = console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.SourceDriver)
	assert.Equal(t, "user:pass@tcp(db:3306)/torrents", cfg.SourceDSN)
	assert.Equal(t, "http://localhost:7700", cfg.IndexURL)
	assert.Equal(t, "movies", cfg.IndexName)
	assert.Equal(t, "key", cfg.IndexAPIKey)
	assert.Equal(t, 5*time.Second, cfg.IndexTimeout)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.EscapeName)
	assert.Equal(t, time.Hour, cfg.Interval)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrent-sync.ini")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\nconcurrency = 8\n"), 0o644))

	t.Setenv("TS_CONCURRENCY", "12")
	t.Setenv("TS_INDEX_BACKEND", "bleve")
	t.Setenv("TS_BLEVE_PATH", "/tmp/idx")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Concurrency)
	assert.Equal(t, "bleve", cfg.IndexBackend)
	assert.Equal(t, "/tmp/idx", cfg.BlevePath)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "driver", key: "TS_SOURCE_DRIVER", val: "oracle"},
		{name: "backend", key: "TS_INDEX_BACKEND", val: "solr"},
		{name: "url", key: "TS_INDEX_URL", val: "not a url"},
		{name: "concurrency not a number", key: "TS_CONCURRENCY", val: "many"},
		{name: "concurrency out of range", key: "TS_CONCURRENCY", val: "0"},
		{name: "batch size", key: "TS_BATCH_SIZE", val: "0"},
		{name: "max attempts", key: "TS_MAX_ATTEMPTS", val: "0"},
		{name: "timeout", key: "TS_INDEX_TIMEOUT", val: "soon"},
		{name: "escape", key: "TS_ESCAPE_NAME", val: "maybe"},
		{name: "log level", key: "TS_LOG_LEVEL", val: "loud"},
		{name: "log format", key: "TS_LOG_FORMAT", val: "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestSetLogLevelOverridesLoaded(t *testing.T) {
	t.Setenv("TS_LOG_LEVEL", "error")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, zapcore.ErrorLevel, cfg.LogLevel)

	require.NoError(t, cfg.SetLogLevel("DEBUG"))
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)

	err = cfg.SetLogLevel("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := &Config{LogFormat: format, LogLevel: zapcore.WarnLevel}
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
	}
}
