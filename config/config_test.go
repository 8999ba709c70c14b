package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
tickflow:
  name: tickflow
  version: "1.0.0"
channels:
  raw_buffer: 512
  norm_buffer: 256
cache:
  ttl: 5m
  sweep_interval: 1m
feeds:
  binance:
    enabled: true
    url: wss://stream.binance.com:9443/ws
    symbols: [BTCUSDT, ETHUSDT]
    auto_connect: true
    heartbeat_interval: 150s
  kraken:
    enabled: true
    url: wss://ws.kraken.com
    symbols: [XBT/USD]
    auto_connect: true
trading:
  enabled: true
  interval: 15s
  positions:
    - symbol: BTC
      purchase_price: 45000
      buy_threshold_percent: 5
      sell_threshold_percent: 5
      next_action: sell
persistence:
  flush_interval: 10s
  max_pending: 20
storage:
  s3:
    enabled: false
logging:
  level: info
  format: json
  output: stdout
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Tickflow.Name != "tickflow" {
		t.Errorf("unexpected name %q", cfg.Tickflow.Name)
	}
	if !cfg.Feeds.Binance.Enabled || len(cfg.Feeds.Binance.Symbols) != 2 {
		t.Errorf("binance feed not parsed: %+v", cfg.Feeds.Binance)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl = %v, want 5m", cfg.Cache.TTL)
	}
	if len(cfg.Trading.Positions) != 1 || cfg.Trading.Positions[0].Symbol != "BTC" {
		t.Errorf("positions not parsed: %+v", cfg.Trading.Positions)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")

	minimal := "tickflow:\n  name: tickflow\n  version: \"1.0.0\"\n"
	cfg, err := LoadConfig(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("default cache ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Persistence.FlushInterval != 10*time.Second {
		t.Errorf("default flush interval = %v", cfg.Persistence.FlushInterval)
	}
	if cfg.Persistence.MaxPending != 20 {
		t.Errorf("default max pending = %d", cfg.Persistence.MaxPending)
	}
	if cfg.Persistence.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("default failure threshold = %d", cfg.Persistence.CircuitBreaker.FailureThreshold)
	}
	if cfg.Feeds.Binance.ReconnectMax != 30*time.Second {
		t.Errorf("default reconnect max = %v", cfg.Feeds.Binance.ReconnectMax)
	}
	if cfg.Feeds.Binance.MaxReconnects != 5 {
		t.Errorf("default max reconnects = %d", cfg.Feeds.Binance.MaxReconnects)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	t.Setenv("APP_ENV", "")

	if _, err := LoadConfig(writeConfig(t, "tickflow:\n  version: \"1.0.0\"\n")); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("TICKFLOW_BINANCE_URL", "wss://testnet.binance.vision/ws")

	content := `
tickflow:
  name: tickflow
  version: "1.0.0"
feeds:
  binance:
    enabled: true
    url: ${TICKFLOW_BINANCE_URL}
    symbols: [BTCUSDT]
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Feeds.Binance.URL != "wss://testnet.binance.vision/ws" {
		t.Errorf("env expansion failed: %q", cfg.Feeds.Binance.URL)
	}
}

func TestLoadConfigInvalidBucket(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("S3_BUCKET", "")

	content := `
tickflow:
  name: tickflow
  version: "1.0.0"
storage:
  s3:
    enabled: true
    bucket: "Bad..Bucket"
    region: us-east-1
`
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatal("expected validation error for invalid bucket name")
	}
}

func TestIsProductionLike(t *testing.T) {
	cases := map[string]bool{
		EnvironmentProduction:  true,
		EnvironmentStaging:     true,
		EnvironmentDevelopment: false,
		"anything":             false,
	}
	for env, want := range cases {
		if got := IsProductionLike(env); got != want {
			t.Errorf("IsProductionLike(%q) = %v, want %v", env, got, want)
		}
	}
}
