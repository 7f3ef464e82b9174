package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full client configuration tree.
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Outgoing   OutgoingConfig   `mapstructure:"outgoing"`
	Inbound    InboundConfig    `mapstructure:"inbound"`
	Health     HealthConfig     `mapstructure:"health"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Probe      ProbeConfig      `mapstructure:"probe"`
}

// ConnectionConfig controls the socket lifecycle and reconnect policy.
type ConnectionConfig struct {
	PrimaryURL           string        `mapstructure:"primary_url"`
	FallbackURLs         []string      `mapstructure:"fallback_urls"`
	AttemptTimeout       time.Duration `mapstructure:"attempt_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
}

// OutgoingConfig controls the dispatcher and priority queue.
type OutgoingConfig struct {
	MessagesPerSecond int `mapstructure:"messages_per_second"`
	MaxRetries        int `mapstructure:"max_retries"`
	QueueWarnDepth    int `mapstructure:"queue_warn_depth"`
}

// InboundConfig controls batching and the frame history.
type InboundConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	BatchInterval   time.Duration `mapstructure:"batch_interval"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
}

// HealthConfig controls the heartbeat loop and quality thresholds.
type HealthConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MissedPingThreshold int           `mapstructure:"missed_ping_threshold"`
	LatencyHistory      int           `mapstructure:"latency_history"`
	ExcellentBelow      time.Duration `mapstructure:"excellent_below"`
	GoodBelow           time.Duration `mapstructure:"good_below"`
	PoorBelow           time.Duration `mapstructure:"poor_below"`
}

// MetricsConfig controls counters export and diagnostic thresholds.
type MetricsConfig struct {
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	Prefix            string        `mapstructure:"prefix"`
	MemoryCeiling     uint64        `mapstructure:"memory_ceiling"`
	LatencyWarn       time.Duration `mapstructure:"latency_warn"`
}

// LoggingConfig mirrors the logger setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProbeConfig is used only by the relay-probe binary.
type ProbeConfig struct {
	Port           int    `mapstructure:"port"`
	Host           string `mapstructure:"host"`
	ReportSchedule string `mapstructure:"report_schedule"`
}

// Load reads configuration from ./configs/relay.yaml (when present) plus
// RELAY_-prefixed environment overrides, with defaults for every key.
func Load() (*Config, error) {
	viper.SetConfigName("relay")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Defaults and environment only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching files or env.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			PrimaryURL:           "ws://localhost:8095",
			AttemptTimeout:       10 * time.Second,
			MaxReconnectAttempts: 10,
			BackoffBase:          time.Second,
			BackoffCap:           30 * time.Second,
			WriteTimeout:         10 * time.Second,
			MaxMessageSize:       1024 * 1024,
		},
		Outgoing: OutgoingConfig{
			MessagesPerSecond: 50,
			MaxRetries:        3,
			QueueWarnDepth:    100,
		},
		Inbound: InboundConfig{
			BatchSize:       25,
			BatchInterval:   50 * time.Millisecond,
			HistoryCapacity: 500,
		},
		Health: HealthConfig{
			Interval:            15 * time.Second,
			MissedPingThreshold: 3,
			LatencyHistory:      20,
			ExcellentBelow:      50 * time.Millisecond,
			GoodBelow:           150 * time.Millisecond,
			PoorBelow:           500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			PrometheusEnabled: false,
			Prefix:            "relay",
			MemoryCeiling:     256 * 1024 * 1024,
			LatencyWarn:       500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Probe: ProbeConfig{
			Port:           8095,
			Host:           "127.0.0.1",
			ReportSchedule: "@every 1m",
		},
	}
}

// Validate rejects values the scheduling loops cannot work with.
func (c *Config) Validate() error {
	if c.Connection.PrimaryURL == "" {
		return fmt.Errorf("connection.primary_url is required")
	}
	if c.Outgoing.MessagesPerSecond <= 0 {
		return fmt.Errorf("outgoing.messages_per_second must be positive")
	}
	if c.Inbound.BatchSize <= 0 {
		return fmt.Errorf("inbound.batch_size must be positive")
	}
	if c.Inbound.HistoryCapacity <= 0 {
		return fmt.Errorf("inbound.history_capacity must be positive")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.MissedPingThreshold <= 0 {
		return fmt.Errorf("health.missed_ping_threshold must be positive")
	}
	if c.Connection.BackoffBase <= 0 || c.Connection.BackoffCap < c.Connection.BackoffBase {
		return fmt.Errorf("connection backoff window is invalid")
	}
	return nil
}

func setDefaults() {
	// Connection defaults
	viper.SetDefault("connection.primary_url", "ws://localhost:8095")
	viper.SetDefault("connection.fallback_urls", []string{})
	viper.SetDefault("connection.attempt_timeout", "10s")
	viper.SetDefault("connection.max_reconnect_attempts", 10)
	viper.SetDefault("connection.backoff_base", "1s")
	viper.SetDefault("connection.backoff_cap", "30s")
	viper.SetDefault("connection.write_timeout", "10s")
	viper.SetDefault("connection.max_message_size", 1048576) // 1MB

	// Outgoing defaults
	viper.SetDefault("outgoing.messages_per_second", 50)
	viper.SetDefault("outgoing.max_retries", 3)
	viper.SetDefault("outgoing.queue_warn_depth", 100)

	// Inbound defaults
	viper.SetDefault("inbound.batch_size", 25)
	viper.SetDefault("inbound.batch_interval", "50ms")
	viper.SetDefault("inbound.history_capacity", 500)

	// Health defaults
	viper.SetDefault("health.interval", "15s")
	viper.SetDefault("health.missed_ping_threshold", 3)
	viper.SetDefault("health.latency_history", 20)
	viper.SetDefault("health.excellent_below", "50ms")
	viper.SetDefault("health.good_below", "150ms")
	viper.SetDefault("health.poor_below", "500ms")

	// Metrics defaults
	viper.SetDefault("metrics.prometheus_enabled", false)
	viper.SetDefault("metrics.prefix", "relay")
	viper.SetDefault("metrics.memory_ceiling", 268435456) // 256MB
	viper.SetDefault("metrics.latency_warn", "500ms")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Probe defaults
	viper.SetDefault("probe.port", 8095)
	viper.SetDefault("probe.host", "127.0.0.1")
	viper.SetDefault("probe.report_schedule", "@every 1m")
}
