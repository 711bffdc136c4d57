package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// TradingMode selects which threshold tables apply.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// Config is the top-level bot configuration.
type Config struct {
	Mode     TradingMode    `yaml:"mode"`      // "paper" or "live"
	LogLevel string         `yaml:"log_level"` // zerolog level name
	DataDir  string         `yaml:"data_dir"`  // root for persisted control files
	Signals  SignalsConfig  `yaml:"signals"`
	Prices   PricesConfig   `yaml:"prices"`
	Cycles   CyclesConfig   `yaml:"cycles"`
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SignalsConfig bounds the reading store and provider fan-out.
type SignalsConfig struct {
	HistoryDepth     int           `yaml:"history_depth"`      // per-symbol ring capacity
	FreshnessWindow  time.Duration `yaml:"freshness_window"`   // older readings excluded from momentum
	FetchRatePerSec  float64       `yaml:"fetch_rate_per_sec"` // provider fetch rate limit
	FetchBurst       int           `yaml:"fetch_burst"`
	BreakerThreshold uint32        `yaml:"breaker_threshold"` // consecutive failures before open
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// PricesConfig controls the tick history used for counterfactuals.
type PricesConfig struct {
	RedisAddr     string        `yaml:"redis_addr"` // empty = in-memory only
	FeedURL       string        `yaml:"feed_url"`   // websocket trade stream, empty = disabled
	Retention     time.Duration `yaml:"retention"`
	LookupTol     time.Duration `yaml:"lookup_tolerance"`
	FeedSymbols   []string      `yaml:"feed_symbols"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// CyclesConfig sets cadence for the audit and daily loops.
type CyclesConfig struct {
	AuditInterval time.Duration `yaml:"audit_interval"`
	DailyHourUTC  int           `yaml:"daily_hour_utc"`
}

// ServerConfig is the local status/metrics listener.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// PostgresConfig enables the optional relational packet store.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the production fallback configuration used whenever
// the config file is missing or malformed.
func Default() *Config {
	return &Config{
		Mode:     ModePaper,
		LogLevel: "info",
		DataDir:  "data/state",
		Signals: SignalsConfig{
			HistoryDepth:     10,
			FreshnessWindow:  30 * time.Second,
			FetchRatePerSec:  8.0,
			FetchBurst:       16,
			BreakerThreshold: 5,
			BreakerTimeout:   60 * time.Second,
		},
		Prices: PricesConfig{
			Retention:     8 * 24 * time.Hour, // covers the 1-week horizon
			LookupTol:     30 * time.Second,
			ReconnectWait: 5 * time.Second,
		},
		Cycles: CyclesConfig{
			AuditInterval: 10 * time.Minute,
			DailyHourUTC:  0,
		},
		Server: ServerConfig{
			Addr:    "127.0.0.1:9180",
			Enabled: true,
		},
	}
}

// Load reads the YAML config at path, falling back to Default on any
// read or parse failure. The fallback is logged, never raised.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config unreadable, using defaults")
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config unparseable, using defaults")
		return Default()
	}

	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields after a partial YAML document.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Mode != ModePaper && c.Mode != ModeLive {
		c.Mode = d.Mode
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Signals.HistoryDepth <= 0 {
		c.Signals.HistoryDepth = d.Signals.HistoryDepth
	}
	if c.Signals.FreshnessWindow <= 0 {
		c.Signals.FreshnessWindow = d.Signals.FreshnessWindow
	}
	if c.Signals.FetchRatePerSec <= 0 {
		c.Signals.FetchRatePerSec = d.Signals.FetchRatePerSec
	}
	if c.Signals.FetchBurst <= 0 {
		c.Signals.FetchBurst = d.Signals.FetchBurst
	}
	if c.Signals.BreakerThreshold == 0 {
		c.Signals.BreakerThreshold = d.Signals.BreakerThreshold
	}
	if c.Signals.BreakerTimeout <= 0 {
		c.Signals.BreakerTimeout = d.Signals.BreakerTimeout
	}
	if c.Prices.Retention <= 0 {
		c.Prices.Retention = d.Prices.Retention
	}
	if c.Prices.LookupTol <= 0 {
		c.Prices.LookupTol = d.Prices.LookupTol
	}
	if c.Prices.ReconnectWait <= 0 {
		c.Prices.ReconnectWait = d.Prices.ReconnectWait
	}
	if c.Cycles.AuditInterval <= 0 {
		c.Cycles.AuditInterval = d.Cycles.AuditInterval
	}
	if c.Cycles.DailyHourUTC < 0 || c.Cycles.DailyHourUTC > 23 {
		c.Cycles.DailyHourUTC = d.Cycles.DailyHourUTC
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
}

// Validate reports configuration that cannot be clamped into service.
func (c *Config) Validate() error {
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres enabled but dsn empty")
	}
	return nil
}
