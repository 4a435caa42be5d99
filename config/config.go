package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ODLLive     ODLLiveConfig     `yaml:"odllive"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	XRPLedger   XRPLedgerConfig   `yaml:"xrpledger"`
	Bithomp     BithompConfig     `yaml:"bithomp"`
	Price       PriceConfig       `yaml:"price"`
	Queue       QueueConfig       `yaml:"queue"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Source      SourceConfig      `yaml:"source"`
	StatsBackup StatsBackupConfig `yaml:"statsbackup"`
	Storage     StorageConfig     `yaml:"storage"`

	ExchangeNames   []string `yaml:"exchange_names"`
	ExchangeODLTags []ODLTag `yaml:"exchange_odl_tags"`
}

type ODLLiveConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type XRPLedgerConfig struct {
	Server     string `yaml:"server"`
	SilenceSec int    `yaml:"silence_sec"`
}

type BithompConfig struct {
	UserInfo string `yaml:"userinfo"`
}

type PriceConfig struct {
	Ticker      string `yaml:"ticker"`
	IntervalSec int    `yaml:"interval_sec"`
}

type QueueConfig struct {
	TTLSec int `yaml:"ttl_sec"`
}

type ReconnectConfig struct {
	DelaySec int `yaml:"delay_sec"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type CorrelationConfig struct {
	SettlementDelaySec int            `yaml:"settlement_delay_sec"`
	DefaultDriftSec    int64          `yaml:"default_drift_sec"`
	DriftSec           map[string]int64 `yaml:"drift_sec"`
	MatchRatio         float64        `yaml:"match_ratio"`
}

// ODLTag is one (destination tag, exchange) pair recognized as an ODL
// corridor endpoint.
type ODLTag struct {
	Tag      int64  `yaml:"tag"`
	Exchange string `yaml:"exchange"`
}

type SourceConfig struct {
	Bitso      BitsoConfig      `yaml:"bitso"`
	Bitstamp   BitstampConfig   `yaml:"bitstamp"`
	Coinsph    CoinsphConfig    `yaml:"coinsph"`
	BTCMarkets BTCMarketsConfig `yaml:"btcmarkets"`
	Mercado    MercadoConfig    `yaml:"mercado"`
	Bittrex    BittrexConfig    `yaml:"bittrex"`
}

type BitsoConfig struct {
	Server     string `yaml:"server"`
	Book       string `yaml:"book"`
	SilenceSec int    `yaml:"silence_sec"`
	EvictEvery int    `yaml:"evict_every"`
}

type BitstampConfig struct {
	Server        string `yaml:"server"`
	TradesChannel string `yaml:"trades_channel"`
	OrdersChannel string `yaml:"orders_channel"`
	SilenceSec    int    `yaml:"silence_sec"`
	EvictEvery    int    `yaml:"evict_every"`
}

type CoinsphInstrument struct {
	ID               int `yaml:"id"`
	IncludeLastCount int `yaml:"include_last_count"`
}

type CoinsphConfig struct {
	Server      string              `yaml:"server"`
	Instruments []CoinsphInstrument `yaml:"instruments"`
	SilenceSec  int                 `yaml:"silence_sec"`
	EvictEvery  int                 `yaml:"evict_every"`
}

type BTCMarketsConfig struct {
	Server     string `yaml:"server"`
	MarketID   string `yaml:"market_id"`
	SilenceSec int    `yaml:"silence_sec"`
	EvictEvery int    `yaml:"evict_every"`
}

type MercadoConfig struct {
	TradesURL            string `yaml:"trades_url"`
	OrderbookURL         string `yaml:"orderbook_url"`
	TradesIntervalSec    int    `yaml:"trades_interval_sec"`
	OrderbookIntervalSec int    `yaml:"orderbook_interval_sec"`
	TTLIntervalSec       int    `yaml:"ttl_interval_sec"`
	TradesLookbackSec    int64  `yaml:"trades_lookback_sec"`
}

type BittrexConfig struct {
	TradesURL            string `yaml:"trades_url"`
	OrderbookURL         string `yaml:"orderbook_url"`
	TradesIntervalSec    int    `yaml:"trades_interval_sec"`
	OrderbookIntervalSec int    `yaml:"orderbook_interval_sec"`
	TTLIntervalSec       int    `yaml:"ttl_interval_sec"`
}

type StatsBackupConfig struct {
	FilePath    string `yaml:"file_path"`
	IntervalSec int    `yaml:"interval_sec"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled          bool   `yaml:"enabled"`
	Bucket           string `yaml:"bucket"`
	Region           string `yaml:"region"`
	Prefix           string `yaml:"prefix"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
	Compression      string `yaml:"compression"`
	BackupSnapshots  bool   `yaml:"backup_snapshots"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Duration helpers; intervals are stored as integer seconds in YAML.

func (c QueueConfig) TTL() time.Duration           { return time.Duration(c.TTLSec) * time.Second }
func (c ReconnectConfig) Delay() time.Duration     { return time.Duration(c.DelaySec) * time.Second }
func (c PriceConfig) Interval() time.Duration      { return time.Duration(c.IntervalSec) * time.Second }
func (c StatsBackupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}
func (c CorrelationConfig) SettlementDelay() time.Duration {
	return time.Duration(c.SettlementDelaySec) * time.Second
}
func (c S3Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

// Drift returns the drift tolerance for a venue in seconds, falling back to
// the default when the venue has no specific entry.
func (c CorrelationConfig) Drift(venue string) int64 {
	if d, ok := c.DriftSec[venue]; ok {
		return d
	}
	return c.DefaultDriftSec
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
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

	// Lowercase everything the wallet directory is matched against.
	for i, name := range config.ExchangeNames {
		config.ExchangeNames[i] = strings.ToLower(strings.TrimSpace(name))
	}
	for i := range config.ExchangeODLTags {
		config.ExchangeODLTags[i].Exchange = strings.ToLower(strings.TrimSpace(config.ExchangeODLTags[i].Exchange))
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		XRPLedger: XRPLedgerConfig{SilenceSec: 300},
		Price:     PriceConfig{IntervalSec: 120},
		Queue:     QueueConfig{TTLSec: 120},
		Reconnect: ReconnectConfig{DelaySec: 30},
		RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 4},
		Correlation: CorrelationConfig{
			SettlementDelaySec: 90,
			DefaultDriftSec:    2,
			MatchRatio:         0.90,
		},
		Source: SourceConfig{
			Bitso:      BitsoConfig{Book: "xrp_mxn", SilenceSec: 90, EvictEvery: 25},
			Bitstamp:   BitstampConfig{TradesChannel: "live_trades_xrpusd", OrdersChannel: "live_orders_xrpusd", SilenceSec: 90, EvictEvery: 100},
			Coinsph:    CoinsphConfig{SilenceSec: 300, EvictEvery: 10},
			BTCMarkets: BTCMarketsConfig{MarketID: "XRP-AUD", SilenceSec: 90, EvictEvery: 20},
			Mercado:    MercadoConfig{TradesIntervalSec: 30, OrderbookIntervalSec: 35, TTLIntervalSec: 60, TradesLookbackSec: 35},
			Bittrex:    BittrexConfig{TradesIntervalSec: 30, OrderbookIntervalSec: 35, TTLIntervalSec: 30},
		},
		StatsBackup: StatsBackupConfig{FilePath: "odl-stats.json", IntervalSec: 300},
		Storage: StorageConfig{
			S3: S3Config{FlushIntervalSec: 300, Compression: "snappy"},
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.ODLLive.Name == "" {
		return fmt.Errorf("odllive.name is required")
	}
	if cfg.ODLLive.Version == "" {
		return fmt.Errorf("odllive.version is required")
	}
	if cfg.XRPLedger.Server == "" {
		return fmt.Errorf("xrpledger.server is required")
	}
	if cfg.Bithomp.UserInfo == "" {
		return fmt.Errorf("bithomp.userinfo is required")
	}
	if cfg.Price.Ticker == "" {
		return fmt.Errorf("price.ticker is required")
	}
	if len(cfg.ExchangeNames) == 0 {
		return fmt.Errorf("exchange_names must not be empty")
	}
	if cfg.Queue.TTLSec <= 0 {
		return fmt.Errorf("queue.ttl_sec must be greater than 0")
	}
	if cfg.Reconnect.DelaySec <= 0 {
		return fmt.Errorf("reconnect.delay_sec must be greater than 0")
	}
	if cfg.Correlation.SettlementDelaySec < 0 {
		return fmt.Errorf("correlation.settlement_delay_sec must not be negative")
	}
	if cfg.Correlation.MatchRatio <= 0 || cfg.Correlation.MatchRatio > 1 {
		return fmt.Errorf("correlation.match_ratio must be within (0, 1]")
	}
	if cfg.StatsBackup.FilePath == "" {
		return fmt.Errorf("statsbackup.file_path is required")
	}
	if cfg.StatsBackup.IntervalSec <= 0 {
		return fmt.Errorf("statsbackup.interval_sec must be greater than 0")
	}

	known := make(map[string]struct{}, len(cfg.ExchangeNames))
	for _, name := range cfg.ExchangeNames {
		known[name] = struct{}{}
	}
	for _, tag := range cfg.ExchangeODLTags {
		if _, ok := known[tag.Exchange]; !ok {
			return fmt.Errorf("exchange_odl_tags references unknown exchange %q", tag.Exchange)
		}
	}

	streaming := map[string]string{
		"source.bitso.server":      cfg.Source.Bitso.Server,
		"source.bitstamp.server":   cfg.Source.Bitstamp.Server,
		"source.coinsph.server":    cfg.Source.Coinsph.Server,
		"source.btcmarkets.server": cfg.Source.BTCMarkets.Server,
	}
	for key, val := range streaming {
		if val == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	polled := map[string]string{
		"source.mercado.trades_url":    cfg.Source.Mercado.TradesURL,
		"source.mercado.orderbook_url": cfg.Source.Mercado.OrderbookURL,
		"source.bittrex.trades_url":    cfg.Source.Bittrex.TradesURL,
		"source.bittrex.orderbook_url": cfg.Source.Bittrex.OrderbookURL,
	}
	for key, val := range polled {
		if val == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}
	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}
