// Package config provides configuration management for the streaming server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/calloway-trading/strikestream/internal/session"
)

// Duration is a time.Duration that decodes from YAML strings like "500ms"
// or plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\" or an integer")
	}
	*d = Duration(time.Duration(n))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Server      ServerConfig      `yaml:"server"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines venue gateway settings.
type BrokerConfig struct {
	BaseURL string `yaml:"base_url"`
	// Insecure skips TLS verification; the gateway serves a self-signed
	// certificate on localhost.
	Insecure       bool     `yaml:"insecure"`
	TickleInterval Duration `yaml:"tickle_interval"`
	MarketDataRPS  float64  `yaml:"market_data_rps"`
	TradingRPS     float64  `yaml:"trading_rps"`
}

// ServerConfig defines the HTTP/websocket listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StreamingConfig defines session loop cadences and strike window size.
type StreamingConfig struct {
	SpotInterval          Duration `yaml:"spot_interval"`
	StrikeRefreshInterval Duration `yaml:"strike_refresh_interval"`
	QuoteInterval         Duration `yaml:"quote_interval"`
	OrderGateInterval     Duration `yaml:"order_gate_interval"`
	StatusPollInterval    Duration `yaml:"status_poll_interval"`
	PnlInterval           Duration `yaml:"pnl_interval"`
}

// StorageConfig defines persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads, env-expands, parses, and validates a config file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "strikestream.db"
	}
	if c.Broker.TickleInterval == 0 {
		c.Broker.TickleInterval = Duration(2 * time.Minute)
	}
	if c.Broker.MarketDataRPS == 0 {
		c.Broker.MarketDataRPS = 10
	}
	if c.Broker.TradingRPS == 0 {
		c.Broker.TradingRPS = 5
	}

	defaults := session.DefaultIntervals()
	if c.Streaming.SpotInterval == 0 {
		c.Streaming.SpotInterval = Duration(defaults.Spot)
	}
	if c.Streaming.StrikeRefreshInterval == 0 {
		c.Streaming.StrikeRefreshInterval = Duration(defaults.StrikeRefresh)
	}
	if c.Streaming.QuoteInterval == 0 {
		c.Streaming.QuoteInterval = Duration(defaults.Quote)
	}
	if c.Streaming.OrderGateInterval == 0 {
		c.Streaming.OrderGateInterval = Duration(defaults.OrderGate)
	}
	if c.Streaming.StatusPollInterval == 0 {
		c.Streaming.StatusPollInterval = Duration(defaults.StatusPoll)
	}
	if c.Streaming.PnlInterval == 0 {
		c.Streaming.PnlInterval = Duration(defaults.Pnl)
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level %q is not one of debug, info, warn, error", c.Environment.LogLevel)
	}
	return nil
}

// Intervals maps the streaming settings onto session loop cadences.
func (c *Config) Intervals() session.Intervals {
	return session.Intervals{
		Spot:          c.Streaming.SpotInterval.Std(),
		StrikeRefresh: c.Streaming.StrikeRefreshInterval.Std(),
		Quote:         c.Streaming.QuoteInterval.Std(),
		OrderGate:     c.Streaming.OrderGateInterval.Std(),
		StatusPoll:    c.Streaming.StatusPollInterval.Std(),
		Pnl:           c.Streaming.PnlInterval.Std(),
	}
}
