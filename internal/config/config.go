// Package config loads and validates the streamer configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	// Platform selects the wire variant: "pocket" or "expert".
	Platform string `yaml:"platform"`

	// Session is the raw auth payload, usually via ${ENV} substitution.
	Session string `yaml:"session"`

	// Endpoints are candidate WebSocket URLs raced on connect. Empty means
	// use the platform's built-in region table.
	Endpoints []string `yaml:"endpoints"`

	// PinnedURL disables the race and dials a single endpoint.
	PinnedURL string `yaml:"pinned_url"`

	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Rules        RulesConfig        `yaml:"rules"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Subscription SubscriptionConfig `yaml:"subscription"`
}

// ReconnectConfig tunes the retry delay between connection cycles.
type ReconnectConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Factor   float64       `yaml:"factor"`
}

// RulesConfig tunes frame routing.
type RulesConfig struct {
	// ArmTimeout bounds the gap between a two-phase event frame and its
	// payload frame. Zero disables the bound.
	ArmTimeout time.Duration `yaml:"arm_timeout"`
}

// RuntimeConfig tunes the supervisor's channel capacities.
type RuntimeConfig struct {
	InboxSize  int `yaml:"inbox_size"`
	OutboxSize int `yaml:"outbox_size"`
}

// SubscriptionConfig tunes the subscription manager.
type SubscriptionConfig struct {
	// StreamBuffer is the candle channel capacity per subscription handle.
	StreamBuffer int `yaml:"stream_buffer"`
}

// Load reads the configuration file, expanding ${ENV} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the configuration, applies defaults, and validates.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
