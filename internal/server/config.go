// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the geoshare hub.
package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = ":3000"
	defaultOrigin          = "http://localhost:3000"
	defaultMaxMessageSize  = 512
	defaultRateLimitBurst  = 10
	defaultRefillInterval  = time.Second
	defaultSendQueueSize   = 64
	defaultPingInterval    = 54 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "info"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// LogConfig selects the log level and destination.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// Config holds the hub settings. Values are layered defaults, then the YAML
// file, then the environment.
type Config struct {
	Port           string          `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`

	// SendQueueSize bounds each session's outbound queue. When it is full the
	// oldest queued frame is evicted.
	SendQueueSize int `yaml:"send_queue_size" env:"SEND_QUEUE_SIZE"`

	// EchoToSender controls whether a receive-location is also delivered to
	// the session that reported it. Clients rely on the echo to draw their
	// own marker.
	EchoToSender bool `yaml:"echo_to_sender" env:"ECHO_TO_SENDER"`

	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongWait        time.Duration `yaml:"pong_wait" env:"PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" env:"WRITE_WAIT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Log LogConfig `yaml:"log"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           defaultPort,
		AllowedOrigins: []string{defaultOrigin},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendQueueSize:   defaultSendQueueSize,
		EchoToSender:    true,
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		ShutdownTimeout: defaultShutdownTimeout,
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}

// NewConfigFromEnv creates a Config from defaults overridden by environment variables.
func NewConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// Sanitize replaces unusable values with defaults and normalizes origins.
func (c *Config) Sanitize() {
	if c.Port == "" {
		c.Port = defaultPort
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultRateLimitBurst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}

	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}

	// Pings must go out before the peer's read deadline expires.
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}

	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}

	c.AllowedOrigins, _ = normalizeOrigins(c.AllowedOrigins)
}

// Validate reports settings that Sanitize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxMessageSize < 64 {
		errs = append(errs, fmt.Errorf("max_message_size %d is too small for a location frame", c.MaxMessageSize))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("allowed_origins must name at least one origin or \"*\""))
	}
	return errors.Join(errs...)
}
