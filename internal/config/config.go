// Package config loads torrent-sync settings from an optional ini file and
// TS_* environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/ini.v1"

	"github.com/renderinc/torrent-sync/internal/document"
)

// Version is set at build time with -ldflags
var Version = "dev"

// Config holds every setting of a run
type Config struct {
	// source
	SourceDriver string
	SourceDSN    string

	// index
	IndexBackend string // meili or bleve
	IndexURL     string
	IndexName    string
	IndexAPIKey  string
	IndexTimeout time.Duration
	BlevePath    string

	// sync
	Concurrency  int
	BatchSize    int
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	Poster       string
	EscapeName   bool
	Interval     time.Duration

	// log
	LogLevel  zapcore.Level
	LogFormat string // json or console

	// serve
	Host      string
	Port      int
	CacheSize int
	CacheTTL  time.Duration
}

// Load reads path (a missing file is fine, an unreadable one is not) and
// applies environment overrides. path may be empty.
func Load(path string) (*Config, error) {
	file := ini.Empty()
	if path != "" {
		loaded, err := ini.LooseLoad(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		file = loaded
	}

	src := file.Section("source")
	idx := file.Section("index")
	syn := file.Section("sync")
	lg := file.Section("log")
	srv := file.Section("serve")

	cfg := &Config{}
	var err error

	// --- source ---

	cfg.SourceDriver = getEnvDefault("TS_SOURCE_DRIVER", src.Key("driver").MustString("sqlite3"))
	switch cfg.SourceDriver {
	case "sqlite3", "mysql", "pgx":
	default:
		return nil, fmt.Errorf("TS_SOURCE_DRIVER: unsupported driver %q, supported: sqlite3, mysql, pgx", cfg.SourceDriver)
	}
	cfg.SourceDSN = getEnvDefault("TS_SOURCE_DSN", src.Key("dsn").MustString("data/torrents.sqlite"))

	// --- index ---

	cfg.IndexBackend = getEnvDefault("TS_INDEX_BACKEND", idx.Key("backend").MustString("meili"))
	if cfg.IndexBackend != "meili" && cfg.IndexBackend != "bleve" {
		return nil, fmt.Errorf("TS_INDEX_BACKEND: unsupported backend %q, supported: meili, bleve", cfg.IndexBackend)
	}
	cfg.IndexURL = getEnvDefault("TS_INDEX_URL", idx.Key("url").MustString("https://meili.local.jeykey.net"))
	if cfg.IndexBackend == "meili" {
		if u, err := url.Parse(cfg.IndexURL); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("TS_INDEX_URL: invalid url %q", cfg.IndexURL)
		}
	}
	cfg.IndexName = getEnvDefault("TS_INDEX_NAME", idx.Key("name").MustString("torrents"))
	cfg.IndexAPIKey = getEnvDefault("TS_INDEX_API_KEY", idx.Key("api_key").String())
	if cfg.IndexTimeout, err = getEnvDuration("TS_INDEX_TIMEOUT", idx.Key("timeout").MustDuration(30*time.Second)); err != nil {
		return nil, fmt.Errorf("TS_INDEX_TIMEOUT: %w", err)
	}
	cfg.BlevePath = getEnvDefault("TS_BLEVE_PATH", idx.Key("bleve_path").MustString("data/bleve"))

	// --- sync ---

	if cfg.Concurrency, err = getEnvInt("TS_CONCURRENCY", syn.Key("concurrency").MustInt(4)); err != nil {
		return nil, fmt.Errorf("TS_CONCURRENCY: %w", err)
	}
	if cfg.Concurrency < 1 || cfg.Concurrency > 64 {
		return nil, fmt.Errorf("TS_CONCURRENCY: %d out of range 1-64", cfg.Concurrency)
	}
	if cfg.BatchSize, err = getEnvInt("TS_BATCH_SIZE", syn.Key("batch_size").MustInt(1)); err != nil {
		return nil, fmt.Errorf("TS_BATCH_SIZE: %w", err)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("TS_BATCH_SIZE: must be >= 1")
	}
	if cfg.MaxAttempts, err = getEnvInt("TS_MAX_ATTEMPTS", syn.Key("max_attempts").MustInt(1)); err != nil {
		return nil, fmt.Errorf("TS_MAX_ATTEMPTS: %w", err)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("TS_MAX_ATTEMPTS: must be >= 1")
	}
	if cfg.RetryInitial, err = getEnvDuration("TS_RETRY_INITIAL", syn.Key("retry_initial").MustDuration(500*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("TS_RETRY_INITIAL: %w", err)
	}
	if cfg.RetryMax, err = getEnvDuration("TS_RETRY_MAX", syn.Key("retry_max").MustDuration(30*time.Second)); err != nil {
		return nil, fmt.Errorf("TS_RETRY_MAX: %w", err)
	}
	cfg.Poster = getEnvDefault("TS_POSTER", syn.Key("poster").MustString(document.DefaultPoster))
	if cfg.EscapeName, err = getEnvBool("TS_ESCAPE_NAME", syn.Key("escape_name").MustBool(false)); err != nil {
		return nil, fmt.Errorf("TS_ESCAPE_NAME: %w", err)
	}
	if cfg.Interval, err = getEnvDuration("TS_INTERVAL", syn.Key("interval").MustDuration(0)); err != nil {
		return nil, fmt.Errorf("TS_INTERVAL: %w", err)
	}

	// --- log ---

	if err := cfg.SetLogLevel(getEnvDefault("TS_LOG_LEVEL", lg.Key("level").MustString("info"))); err != nil {
		return nil, fmt.Errorf("TS_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("TS_LOG_FORMAT", lg.Key("format").MustString("json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return nil, fmt.Errorf("TS_LOG_FORMAT: invalid format %q, supported: json, console", cfg.LogFormat)
	}

	// --- serve ---

	cfg.Host = getEnvDefault("TS_HOST", srv.Key("host").MustString("localhost"))
	if cfg.Port, err = getEnvInt("TS_PORT", srv.Key("port").MustInt(6893)); err != nil {
		return nil, fmt.Errorf("TS_PORT: %w", err)
	}
	if cfg.CacheSize, err = getEnvInt("TS_CACHE_SIZE", srv.Key("cache_size").MustInt(256)); err != nil {
		return nil, fmt.Errorf("TS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = getEnvDuration("TS_CACHE_TTL", srv.Key("cache_ttl").MustDuration(time.Minute)); err != nil {
		return nil, fmt.Errorf("TS_CACHE_TTL: %w", err)
	}

	return cfg, nil
}

// SetLogLevel parses level (debug, info, warn, error) into LogLevel
func (c *Config) SetLogLevel(level string) error {
	if err := c.LogLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid level %q, supported: debug, info, warn, error", level)
	}
	return nil
}

// NewLogger builds the process logger from the log settings
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("version", Version)), nil
}

// getEnvDefault returns the environment value or defaultVal
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %q", val)
	}
	return b, nil
}
