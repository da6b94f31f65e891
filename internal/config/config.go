// Package config loads the engine configuration from YAML, applies environment
// overrides and validates every section before startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/engine"
	"multipair-engine/internal/fusion"
	"multipair-engine/internal/market"
	"multipair-engine/internal/pacing"
	"multipair-engine/internal/risk"
	"multipair-engine/internal/sizing"
	"multipair-engine/internal/target"
)

// ErrInvalidConfig is returned by Validate. Configuration errors are fatal at
// startup and never corrected.
var ErrInvalidConfig = errors.New("invalid config")

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Pairs          []domain.PairProfile     `yaml:"pairs"`
	Minimums       []domain.ExchangeMinimum `yaml:"minimums"`
	InitialBalance float64                  `yaml:"initial_balance"`

	Engine engine.Config `yaml:"engine"`
	Fusion fusion.Config `yaml:"fusion"`
	Target target.Config `yaml:"target"`
	Sizing sizing.Config `yaml:"sizing"`
	Risk   risk.Config   `yaml:"risk"`
	Pacing pacing.Config `yaml:"pacing"`

	Feed     FeedConfig     `yaml:"feed"`
	Market   MarketConfig   `yaml:"market"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Storage  StorageConfig  `yaml:"storage"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// FeedConfig points at the market-data websocket. An empty URL disables the feed.
type FeedConfig struct {
	URL               string `yaml:"url"`
	market.FeedConfig `yaml:",inline"`
}

// MarketConfig bounds snapshot age.
type MarketConfig struct {
	Staleness time.Duration `yaml:"staleness"`
}

// ExchangeConfig controls the exchange minimum cache.
type ExchangeConfig struct {
	Staleness       time.Duration `yaml:"staleness"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// StorageConfig selects where positions and decisions are persisted.
// With a ClickHouse DSN, decisions go to ClickHouse and positions stay in Postgres.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory | postgres
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	MaxConns      int32  `yaml:"max_conns"`
}

// AuditConfig sizes the asynchronous audit recorder.
type AuditConfig struct {
	BufferSize   int           `yaml:"buffer_size"` // decision events; position events are never dropped
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"` // between failed position writes
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// DefaultConfig returns defaults for every section. Pairs and minimums have no
// defaults and must come from the file.
func DefaultConfig() Config {
	return Config{
		Engine: engine.DefaultConfig(),
		Fusion: fusion.DefaultConfig(),
		Target: target.DefaultConfig(),
		Sizing: sizing.DefaultConfig(),
		Risk:   risk.DefaultConfig(),
		Pacing: pacing.DefaultConfig(),
		Feed: FeedConfig{
			FeedConfig: market.DefaultFeedConfig(),
		},
		Market: MarketConfig{
			Staleness: 2 * time.Minute,
		},
		Exchange: ExchangeConfig{
			Staleness:       2 * time.Hour,
			RefreshInterval: time.Hour,
		},
		Storage: StorageConfig{
			Backend:  BackendMemory,
			MaxConns: 10,
		},
		Audit: AuditConfig{
			BufferSize:   1024,
			FlushTimeout: 5 * time.Second,
			RetryDelay:   time.Second,
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "engine",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over DefaultConfig. It does not validate.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section. All problems are reported together.
func (c Config) Validate() error {
	var problems []string
	add := func(section string, err error) {
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", section, err))
		}
	}

	if len(c.Pairs) == 0 {
		problems = append(problems, "pairs: at least one pair profile is required")
	}
	pairs := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		add("pairs", p.Validate())
		if pairs[p.Pair] {
			problems = append(problems, fmt.Sprintf("pairs: duplicate profile %s", p.Pair))
		}
		pairs[p.Pair] = true
	}

	minimums := make(map[string]bool, len(c.Minimums))
	for _, m := range c.Minimums {
		switch {
		case !pairs[m.Pair]:
			problems = append(problems, fmt.Sprintf("minimums: %s has no pair profile", m.Pair))
		case m.MinVolume < 0 || m.MinCost < 0:
			problems = append(problems, fmt.Sprintf("minimums: %s has negative minimums", m.Pair))
		case m.PricePrecision < 0 || m.VolumePrecision < 0:
			problems = append(problems, fmt.Sprintf("minimums: %s has negative precision", m.Pair))
		}
		minimums[m.Pair] = true
	}
	for pair := range pairs {
		if !minimums[pair] {
			problems = append(problems, fmt.Sprintf("minimums: missing exchange minimum for %s", pair))
		}
	}

	if c.InitialBalance < 0 {
		problems = append(problems, "initial_balance: must be >= 0")
	}

	add("engine", c.Engine.Validate())
	add("fusion", c.Fusion.Validate())
	add("target", c.Target.Validate())
	add("sizing", c.Sizing.Validate())
	add("risk", c.Risk.Validate())
	add("pacing", c.Pacing.Validate())

	if c.Market.Staleness < 0 {
		problems = append(problems, "market: staleness must be >= 0")
	}
	if c.Exchange.Staleness < 0 || c.Exchange.RefreshInterval <= 0 {
		problems = append(problems, "exchange: staleness must be >= 0 and refresh interval > 0")
	}
	if c.Exchange.Staleness > 0 && c.Exchange.RefreshInterval >= c.Exchange.Staleness {
		problems = append(problems, "exchange: refresh interval must be shorter than staleness")
	}
	if c.Feed.URL != "" && (c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay) {
		problems = append(problems, "feed: reconnect delays must be > 0 and max >= initial")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage: postgres_dsn is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.ClickhouseDSN != "" && c.Storage.Backend != BackendPostgres {
		problems = append(problems, "storage: clickhouse_dsn requires the postgres backend")
	}

	if c.Audit.BufferSize <= 0 {
		problems = append(problems, "audit: buffer size must be > 0")
	}
	if c.Audit.RetryDelay <= 0 {
		problems = append(problems, "audit: retry delay must be > 0")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems = append(problems, fmt.Sprintf("log: unknown format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// MergeEnv applies ENGINE_* environment overrides. Unparseable values are ignored.
func (c Config) MergeEnv() Config {
	if v := strings.TrimSpace(os.Getenv("ENGINE_STORAGE_BACKEND")); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_POSTGRES_DSN")); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_CLICKHOUSE_DSN")); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_FEED_URL")); v != "" {
		c.Feed.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_METRICS_ADDR")); v != "" {
		c.Metrics.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_LOG_LEVEL")); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_INITIAL_BALANCE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.InitialBalance = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SESSION_BUDGET_PERCENT")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Engine.SessionBudgetPercent = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SIZING_MODE")); v != "" {
		c.Sizing.Mode = domain.SizingMode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_PACING_STRATEGY")); v != "" {
		c.Pacing.Strategy = pacing.Strategy(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_MAX_TRADES_PER_INTERVAL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Pacing.MaxTradesPerInterval = n
		}
	}
	return c
}

// PairNames returns the configured pairs in file order.
func (c Config) PairNames() []string {
	names := make([]string, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		names = append(names, p.Pair)
	}
	return names
}

// NewLogger builds a logrus logger from the log section.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if l.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return logger, nil
}
