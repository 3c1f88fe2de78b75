package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if path is non-empty) over the
// defaults, loads .env when present, and applies FLOW_RADAR_* environment
// overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject endpoints and secrets without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "FLOW_RADAR_LOG_LEVEL")
	setStr(&cfg.DataDir, "FLOW_RADAR_DATA_DIR")

	// Node
	setStr(&cfg.Node.RPCURL, "FLOW_RADAR_RPC_URL")
	setStr(&cfg.Node.WSURL, "FLOW_RADAR_WS_URL")
	setDuration(&cfg.Node.PollInterval, "FLOW_RADAR_POLL_INTERVAL")

	// Heuristics
	setStr(&cfg.Heuristics.Backend, "FLOW_RADAR_HEURISTICS_BACKEND")
	setStr(&cfg.Heuristics.Path, "FLOW_RADAR_HEURISTICS_PATH")
	setDuration(&cfg.Heuristics.RefreshInterval, "FLOW_RADAR_HEURISTICS_REFRESH_INTERVAL")

	// Monitor
	setInt(&cfg.Monitor.Window, "FLOW_RADAR_WINDOW")
	setThresholds(&cfg.Monitor.Thresholds, "FLOW_RADAR_THRESHOLDS")

	// Storage
	setStr(&cfg.Storage.SummaryPath, "FLOW_RADAR_SUMMARY_PATH")

	// Database
	setStr(&cfg.Database.URL, "FLOW_RADAR_DATABASE")
	setBool(&cfg.Database.RunMigrations, "FLOW_RADAR_DATABASE_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.URL, "FLOW_RADAR_REDIS")
	setStr(&cfg.Redis.AlertChannel, "FLOW_RADAR_REDIS_ALERT_CHANNEL")
	setStr(&cfg.Redis.HeuristicsPrefix, "FLOW_RADAR_REDIS_HEURISTICS_PREFIX")

	// Alerts
	setStr(&cfg.Alerts.WebhookURL, "FLOW_RADAR_ALERT_WEBHOOK_URL")

	// Etherscan
	setStr(&cfg.Etherscan.APIKey, "FLOW_RADAR_ETHERSCAN_API_KEY")
	setStr(&cfg.Etherscan.APIKey, "ETHERSCAN_API_KEY") // conventional name
	setStr(&cfg.Etherscan.BaseURL, "FLOW_RADAR_ETHERSCAN_URL")
	setInt(&cfg.Etherscan.PageSize, "FLOW_RADAR_ETHERSCAN_PAGE_SIZE")

	// Reports
	setStr(&cfg.Reports.Dir, "FLOW_RADAR_REPORTS_DIR")

	// Metrics
	setStr(&cfg.Metrics.Addr, "FLOW_RADAR_METRICS_ADDR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setThresholds merges "Category=wei,Category=wei" pairs into dst.
func setThresholds(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string)
	}
	for _, pair := range strings.Split(v, ",") {
		label, amount, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		(*dst)[strings.TrimSpace(label)] = strings.TrimSpace(amount)
	}
}
