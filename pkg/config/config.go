// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Handler failure policies. The conservative default drops the
// connection because a failed handler may have left the session in an
// ambiguous state.
const (
	PolicyDisconnect = "disconnect"
	PolicyContinue   = "continue"
)

// Config holds everything the server binary needs. Durations are
// expressed in milliseconds in the file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	APIAddr    string `yaml:"api_addr"`

	// MaxFrame bounds the declared length accepted from the wire.
	MaxFrame int `yaml:"max_frame"`

	// SendQueue is the per-session outbound queue bound. A session
	// whose queue overflows is forcibly closed.
	SendQueue int `yaml:"send_queue"`

	// RateLimit and RateBurst bound inbound frames per second per
	// session. Zero RateLimit disables the limiter.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	BroadcastIntervalMS int `yaml:"broadcast_interval_ms"`
	FlushTimeoutMS      int `yaml:"flush_timeout_ms"`

	HandlerPolicy string `yaml:"handler_policy"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":44405",
		APIAddr:             ":8080",
		MaxFrame:            4096,
		SendQueue:           256,
		RateLimit:           200,
		RateBurst:           400,
		BroadcastIntervalMS: 5000,
		FlushTimeoutMS:      2000,
		HandlerPolicy:       PolicyDisconnect,
	}
}

// Load reads and validates a YAML config file. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MaxFrame < 4 {
		return fmt.Errorf("max_frame %d is below the minimum frame size", c.MaxFrame)
	}
	if c.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", c.SendQueue)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}
	if c.BroadcastIntervalMS < 1 {
		return fmt.Errorf("broadcast_interval_ms must be positive")
	}
	if c.FlushTimeoutMS < 1 {
		return fmt.Errorf("flush_timeout_ms must be positive, it bounds every socket write")
	}
	switch c.HandlerPolicy {
	case PolicyDisconnect, PolicyContinue:
	default:
		return fmt.Errorf("handler_policy must be %q or %q, got %q",
			PolicyDisconnect, PolicyContinue, c.HandlerPolicy)
	}
	return nil
}

// BroadcastInterval returns the stats broadcast period.
func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalMS) * time.Millisecond
}

// FlushTimeout returns how long a closing session may spend draining
// its outbound queue.
func (c *Config) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMS) * time.Millisecond
}
