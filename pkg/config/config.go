// Package config loads deployment configuration for Daedalus processes.
//
// Values are resolved with priority: environment variables > YAML file >
// defaults. Environment variables use the DAEDALUS_ prefix, for example
// DAEDALUS_ZEROTIME_PERIOD=500us or DAEDALUS_NATS_URL=nats://host:4222.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "DAEDALUS_"

// Config is the root configuration document.
type Config struct {
	ZeroTime ZeroTimeConfig `yaml:"zerotime"`
	MQueue   MQueueConfig   `yaml:"mqueue"`
	NATS     NATSConfig     `yaml:"nats"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Sentry   SentryConfig   `yaml:"sentry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ZeroTimeConfig holds the scheduling parameters of the zero-time thread.
// Out-of-range priorities are clamped by the rtos package when applied.
type ZeroTimeConfig struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Period   time.Duration `yaml:"period"`
}

type MQueueConfig struct {
	// MsgSize is the maximum encoded sample size in bytes. It must not
	// exceed /proc/sys/fs/mqueue/msgsize_max.
	MsgSize int `yaml:"msg_size"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	Token         string        `yaml:"token"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`

	// Storage is "memory" or "file".
	Storage string `yaml:"storage"`

	// AckWait bounds how long a read sample may stay unacknowledged.
	AckWait time.Duration `yaml:"ack_wait"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ZeroTime.Name == "" {
		c.ZeroTime.Name = "ZeroTimeThread"
	}
	if c.ZeroTime.Priority == 0 {
		c.ZeroTime.Priority = 99
	}
	if c.ZeroTime.Period == 0 {
		c.ZeroTime.Period = time.Millisecond
	}
	if c.MQueue.MsgSize == 0 {
		c.MQueue.MsgSize = 8192
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "daedalus"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 5 * time.Second
	}
	if c.NATS.Storage == "" {
		c.NATS.Storage = "memory"
	}
	if c.NATS.AckWait == 0 {
		c.NATS.AckWait = time.Hour
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "daedalus"
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = "1.0.0"
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = "127.0.0.1:4318"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1.0
	}
	if c.Sentry.SampleRate == 0 {
		c.Sentry.SampleRate = 1.0
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv() error {
	var err error

	c.ZeroTime.Name = getEnv("ZEROTIME_NAME", c.ZeroTime.Name)
	c.ZeroTime.Priority = getEnvInt("ZEROTIME_PRIORITY", c.ZeroTime.Priority)
	if c.ZeroTime.Period, err = getEnvDuration("ZEROTIME_PERIOD", c.ZeroTime.Period); err != nil {
		return err
	}

	c.MQueue.MsgSize = getEnvInt("MQUEUE_MSG_SIZE", c.MQueue.MsgSize)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Name = getEnv("NATS_NAME", c.NATS.Name)
	c.NATS.Token = getEnv("NATS_TOKEN", c.NATS.Token)
	c.NATS.Username = getEnv("NATS_USERNAME", c.NATS.Username)
	c.NATS.Password = getEnv("NATS_PASSWORD", c.NATS.Password)
	c.NATS.Storage = strings.ToLower(getEnv("NATS_STORAGE", c.NATS.Storage))
	c.NATS.MaxReconnects = getEnvInt("NATS_MAX_RECONNECTS", c.NATS.MaxReconnects)
	if c.NATS.AckWait, err = getEnvDuration("NATS_ACK_WAIT", c.NATS.AckWait); err != nil {
		return err
	}

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.OTLPEndpoint = getEnv("TRACING_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)
	c.Tracing.Environment = getEnv("TRACING_ENVIRONMENT", c.Tracing.Environment)

	c.Sentry.DSN = getEnv("SENTRY_DSN", c.Sentry.DSN)
	c.Sentry.Environment = getEnv("SENTRY_ENVIRONMENT", c.Sentry.Environment)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("LOG_DEVELOPMENT", c.Log.Development)

	return nil
}

func (c *Config) validate() error {
	if c.ZeroTime.Period <= 0 {
		return fmt.Errorf("zerotime.period must be positive, got %s", c.ZeroTime.Period)
	}
	if c.MQueue.MsgSize <= 0 {
		return fmt.Errorf("mqueue.msg_size must be positive, got %d", c.MQueue.MsgSize)
	}
	if c.NATS.Storage != "memory" && c.NATS.Storage != "file" {
		return fmt.Errorf("nats.storage must be memory or file, got %q", c.NATS.Storage)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1], got %f", c.Tracing.SampleRatio)
	}
	return nil
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns an error for malformed values instead of the default.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}
