package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tickflow    TickflowConfig    `yaml:"tickflow"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Cache       CacheConfig       `yaml:"cache"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Warmup      WarmupConfig      `yaml:"warmup"`
	Trading     TradingConfig     `yaml:"trading"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type TickflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Region      string `yaml:"region"`
	Namespace   string `yaml:"namespace"`
	Dashboard   string `yaml:"dashboard"`
	ChannelSize bool   `yaml:"channel_size"`
}

type ChannelsConfig struct {
	RawBuffer  int `yaml:"raw_buffer"`
	NormBuffer int `yaml:"norm_buffer"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type FeedsConfig struct {
	Binance FeedConfig       `yaml:"binance"`
	Kraken  FeedConfig       `yaml:"kraken"`
	Kucoin  KucoinFeedConfig `yaml:"kucoin"`
	Bybit   BybitFeedConfig  `yaml:"bybit"`
}

// FeedConfig holds the connection settings shared by websocket feeds.
type FeedConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Symbols           []string      `yaml:"symbols"`
	AutoConnect       bool          `yaml:"auto_connect"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	LocalIP           string        `yaml:"local_ip"`
}

type KucoinFeedConfig struct {
	FeedConfig     `yaml:",inline"`
	RESTURL        string               `yaml:"rest_url"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

type BybitFeedConfig struct {
	Enabled  bool     `yaml:"enabled"`
	URL      string   `yaml:"url"`
	Category string   `yaml:"category"`
	Symbols  []string `yaml:"symbols"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	Timeout         time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type WarmupConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type TradingConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Interval  time.Duration    `yaml:"interval"`
	Positions []PositionConfig `yaml:"positions"`
}

// PositionConfig describes one monitored holding and its trade thresholds.
type PositionConfig struct {
	Symbol               string  `yaml:"symbol"`
	PurchasePrice        float64 `yaml:"purchase_price"`
	BuyThresholdPercent  float64 `yaml:"buy_threshold_percent"`
	SellThresholdPercent float64 `yaml:"sell_threshold_percent"`
	NextAction           string  `yaml:"next_action"`
}

type PersistenceConfig struct {
	FlushInterval    time.Duration        `yaml:"flush_interval"`
	MaxPending       int                  `yaml:"max_pending"`
	Retry            RetryConfig          `yaml:"retry"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	ResponseCacheTTL time.Duration        `yaml:"response_cache_ttl"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Redis RedisConfig `yaml:"redis"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} placeholders in the raw config with the value of
// the corresponding environment variable. Unset variables expand to an empty
// string so validation can catch missing required values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Channels.RawBuffer <= 0 {
		cfg.Channels.RawBuffer = 1024
	}
	if cfg.Channels.NormBuffer <= 0 {
		cfg.Channels.NormBuffer = 1024
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.SweepInterval <= 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.Persistence.FlushInterval <= 0 {
		cfg.Persistence.FlushInterval = 10 * time.Second
	}
	if cfg.Persistence.MaxPending <= 0 {
		cfg.Persistence.MaxPending = 20
	}
	if cfg.Persistence.Retry.MaxAttempts <= 0 {
		cfg.Persistence.Retry.MaxAttempts = 3
	}
	if cfg.Persistence.Retry.BaseDelay <= 0 {
		cfg.Persistence.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Persistence.Retry.MaxDelay <= 0 {
		cfg.Persistence.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Persistence.Retry.BackoffMultiplier <= 0 {
		cfg.Persistence.Retry.BackoffMultiplier = 2
	}
	if cfg.Persistence.CircuitBreaker.FailureThreshold <= 0 {
		cfg.Persistence.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.Persistence.CircuitBreaker.RecoveryTimeout <= 0 {
		cfg.Persistence.CircuitBreaker.RecoveryTimeout = 30 * time.Second
	}
	if cfg.Persistence.ResponseCacheTTL <= 0 {
		cfg.Persistence.ResponseCacheTTL = 5 * time.Minute
	}
	if cfg.Trading.Interval <= 0 {
		cfg.Trading.Interval = 15 * time.Second
	}

	for _, feed := range []*FeedConfig{&cfg.Feeds.Binance, &cfg.Feeds.Kraken, &cfg.Feeds.Kucoin.FeedConfig} {
		if feed.HeartbeatInterval <= 0 {
			feed.HeartbeatInterval = 150 * time.Second
		}
		if feed.ReconnectBase <= 0 {
			feed.ReconnectBase = time.Second
		}
		if feed.ReconnectMax <= 0 {
			feed.ReconnectMax = 30 * time.Second
		}
		if feed.MaxReconnects <= 0 {
			feed.MaxReconnects = 5
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tickflow.Name == "" {
		return fmt.Errorf("tickflow.name is required")
	}

	if cfg.Tickflow.Version == "" {
		return fmt.Errorf("tickflow.version is required")
	}

	if cfg.Feeds.Binance.Enabled && cfg.Feeds.Binance.URL == "" {
		return fmt.Errorf("feeds.binance.url is required when the binance feed is enabled")
	}
	if cfg.Feeds.Kraken.Enabled && cfg.Feeds.Kraken.URL == "" {
		return fmt.Errorf("feeds.kraken.url is required when the kraken feed is enabled")
	}
	if cfg.Feeds.Kucoin.Enabled && cfg.Feeds.Kucoin.RESTURL == "" {
		return fmt.Errorf("feeds.kucoin.rest_url is required when the kucoin feed is enabled")
	}

	for i, pos := range cfg.Trading.Positions {
		if pos.Symbol == "" {
			return fmt.Errorf("trading.positions[%d].symbol is required", i)
		}
		if pos.BuyThresholdPercent < 0 || pos.SellThresholdPercent < 0 {
			return fmt.Errorf("trading.positions[%d] thresholds must not be negative", i)
		}
		switch pos.NextAction {
		case "", "buy", "sell":
		default:
			return fmt.Errorf("trading.positions[%d].next_action must be buy or sell", i)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is not a valid bucket name", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when redis is enabled")
	}

	return nil
}

var s3BucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return s3BucketPattern.MatchString(name)
}
