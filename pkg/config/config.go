// Package config defines the flow-radar configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// Heuristics backends
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel   string           `toml:"log_level"`
	DataDir    string           `toml:"data_dir"`
	Node       NodeConfig       `toml:"node"`
	Heuristics HeuristicsConfig `toml:"heuristics"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Etherscan  EtherscanConfig  `toml:"etherscan"`
	Reports    ReportsConfig    `toml:"reports"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// NodeConfig holds the Ethereum node endpoints.
type NodeConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	WSURL        string   `toml:"ws_url"` // optional newHeads feed
	PollInterval duration `toml:"poll_interval"`
}

// HeuristicsConfig selects where the address registry lives.
type HeuristicsConfig struct {
	Backend         string   `toml:"backend"` // file, redis, postgres
	Path            string   `toml:"path"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// MonitorConfig holds the sliding window parameters. Thresholds are decimal
// wei amounts keyed by category label.
type MonitorConfig struct {
	Window     int               `toml:"window"`
	Thresholds map[string]string `toml:"thresholds"`
}

// StorageConfig holds the local summary log settings.
type StorageConfig struct {
	SummaryPath string `toml:"summary_path"`
}

// DatabaseConfig holds PostgreSQL settings. Empty URL disables it.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis settings. Empty URL disables it.
type RedisConfig struct {
	URL              string `toml:"url"`
	AlertChannel     string `toml:"alert_channel"`
	HeuristicsPrefix string `toml:"heuristics_prefix"`
}

// AlertsConfig holds extra alert destinations.
type AlertsConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

// EtherscanConfig holds the token transfer API settings.
type EtherscanConfig struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	PageSize int    `toml:"page_size"`
}

// ReportsConfig holds the wallet analysis output settings. Batch, crawl and
// train write under Dir/YYYY-MM.
type ReportsConfig struct {
	Dir          string  `toml:"dir"`
	FlatPriceUSD float64 `toml:"flat_price_usd"` // per token unit, training features
}

// MetricsConfig holds the Prometheus listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// duration wraps time.Duration so TOML can decode strings like "12s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		DataDir:  "data",
		Node: NodeConfig{
			RPCURL:       "http://localhost:8545",
			PollInterval: duration{12 * time.Second},
		},
		Heuristics: HeuristicsConfig{
			Backend:         BackendFile,
			Path:            "data/heuristics.json",
			RefreshInterval: duration{15 * time.Minute},
		},
		Monitor: MonitorConfig{
			Window: 10,
			Thresholds: map[string]string{
				string(models.CategoryForeign): "100000000000000000000",
			},
		},
		Storage: StorageConfig{
			SummaryPath: "data/summaries.jsonl",
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			AlertChannel:     "flow:alerts",
			HeuristicsPrefix: "flow:heuristics",
		},
		Etherscan: EtherscanConfig{
			BaseURL:  "https://api.etherscan.io/api",
			PageSize: 1000,
		},
		Reports: ReportsConfig{
			Dir:          "data/reports",
			FlatPriceUSD: 100,
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	BackendFile:     true,
	BackendRedis:    true,
	BackendPostgres: true,
}

// Validate checks the fields command needs and returns every problem found.
// Pass an empty command to check only the common fields.
func (c *Config) Validate(command string) error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validBackends[c.Heuristics.Backend] {
		errs = append(errs, fmt.Sprintf("heuristics: unknown backend %q (valid: file, redis, postgres)", c.Heuristics.Backend))
	}
	switch c.Heuristics.Backend {
	case BackendFile:
		if c.Heuristics.Path == "" {
			errs = append(errs, "heuristics: path must be set for the file backend")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, "heuristics: redis.url must be set for the redis backend")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "heuristics: database.url must be set for the postgres backend")
		}
	}
	if _, err := c.ThresholdsWei(); err != nil {
		errs = append(errs, "monitor: "+err.Error())
	}

	switch command {
	case "watch":
		if c.Node.RPCURL == "" {
			errs = append(errs, "node: rpc_url must not be empty")
		}
		if c.Node.PollInterval.Duration <= 0 {
			errs = append(errs, "node: poll_interval must be positive")
		}
		if c.Monitor.Window <= 0 {
			errs = append(errs, "monitor: window must be positive")
		}
		if c.Storage.SummaryPath == "" {
			errs = append(errs, "storage: summary_path must not be empty")
		}
	case "learn", "classify":
		if c.Node.RPCURL == "" {
			errs = append(errs, "node: rpc_url must not be empty")
		}
	case "wallet", "fetch", "crawl", "train":
		if c.Etherscan.APIKey == "" {
			errs = append(errs, "etherscan: api_key must be set")
		}
		if command != "fetch" && c.Reports.Dir == "" {
			errs = append(errs, "reports: dir must not be empty")
		}
		if command == "train" && c.Reports.FlatPriceUSD <= 0 {
			errs = append(errs, "reports: flat_price_usd must be positive")
		}
	case "migrate":
		if c.Database.URL == "" {
			errs = append(errs, "database: url must be set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ThresholdsWei parses the configured alert thresholds.
func (c *Config) ThresholdsWei() (map[models.Category]models.Wei, error) {
	out := make(map[models.Category]models.Wei, len(c.Monitor.Thresholds))

	labels := make([]string, 0, len(c.Monitor.Thresholds))
	for label := range c.Monitor.Thresholds {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		category, err := models.ParseCategory(label)
		if err != nil {
			return nil, fmt.Errorf("threshold: %w", err)
		}
		w, err := models.ParseDecimalWei(c.Monitor.Thresholds[label])
		if err != nil {
			return nil, fmt.Errorf("threshold %s: %w", label, err)
		}
		out[category] = w
	}
	return out, nil
}
