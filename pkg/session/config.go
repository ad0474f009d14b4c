package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsegate/pulsegate-go/pkg/connection"
)

// Session defaults.
const (
	// DefaultHeartbeatInterval is the interval between liveness pings.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMaxReconnectAttempts bounds the reconnect loop.
	DefaultMaxReconnectAttempts = 5

	// DefaultMaxChannels is the maximum subscription count per
	// session.
	DefaultMaxChannels = 200

	// DefaultMaxPayloadBytes is the publish payload ceiling (1 MiB).
	DefaultMaxPayloadBytes = 1 << 20

	// DefaultClientType is the client type label sent to the gateway.
	DefaultClientType = "go-client"
)

// Config configures a Session.
//
// Construct configs with DefaultConfig or LoadConfig so boolean
// defaults (AutoReconnect) are applied; withDefaults only fills
// zero-valued numeric fields.
type Config struct {
	// URL is the gateway websocket URL.
	URL string `yaml:"url"`

	// Token is the bearer auth token. The tenant identifier is
	// extracted from it at session construction.
	Token string `yaml:"token"`

	// ClientType labels this client to the gateway
	// (default: "go-client").
	ClientType string `yaml:"client_type"`

	// AutoReconnect enables automatic reconnection on connection
	// loss (default: true).
	AutoReconnect bool `yaml:"auto_reconnect"`

	// HeartbeatInterval is the liveness ping interval (default: 30s).
	// The connection is declared dead when no pong arrives within
	// 2.5x this interval. A negative value disables the liveness
	// monitor.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxReconnectAttempts bounds the reconnect loop (default: 5).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// MaxChannels is the maximum subscription count (default: 200).
	MaxChannels int `yaml:"max_channels"`

	// MaxPayloadBytes is the publish payload ceiling (default: 1 MiB).
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// Debug enables protocol tracing.
	Debug bool `yaml:"debug"`

	// TracePath is an optional capture file for protocol traces.
	// Only used when Debug is set.
	TracePath string `yaml:"trace_path"`

	// Breaker tunes the connection circuit breaker.
	Breaker connection.BreakerConfig `yaml:"breaker"`

	// Backoff tunes the reconnection backoff policy.
	Backoff connection.BackoffConfig `yaml:"backoff"`
}

// DefaultConfig returns a config with all defaults applied. URL and
// Token must still be set.
func DefaultConfig() Config {
	cfg := Config{AutoReconnect: true}
	cfg.withDefaults()
	return cfg
}

// LoadConfig reads a YAML config file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.withDefaults()

	return cfg, nil
}

// withDefaults fills zero-valued fields.
func (c *Config) withDefaults() {
	if c.ClientType == "" {
		c.ClientType = DefaultClientType
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = DefaultMaxChannels
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
}

// validate checks required fields.
func (c *Config) validate() error {
	if c.URL == "" {
		return &ValidationError{Reason: "gateway URL is required"}
	}
	if c.Token == "" {
		return &ValidationError{Reason: "auth token is required"}
	}
	return nil
}
