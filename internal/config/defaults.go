package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPlatform          = "pocket"
	DefaultReconnectMinDelay = 5 * time.Second
	DefaultReconnectMaxDelay = 60 * time.Second
	DefaultReconnectFactor   = 1.0
	DefaultArmTimeout        = 0 * time.Second
	DefaultInboxSize         = 64
	DefaultOutboxSize        = 64
	DefaultStreamBuffer      = 16
)

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}

	// Reconnect defaults
	if c.Reconnect.MinDelay == 0 {
		c.Reconnect.MinDelay = DefaultReconnectMinDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.Factor == 0 {
		c.Reconnect.Factor = DefaultReconnectFactor
	}

	// Runtime defaults
	if c.Runtime.InboxSize == 0 {
		c.Runtime.InboxSize = DefaultInboxSize
	}
	if c.Runtime.OutboxSize == 0 {
		c.Runtime.OutboxSize = DefaultOutboxSize
	}

	// Subscription defaults
	if c.Subscription.StreamBuffer == 0 {
		c.Subscription.StreamBuffer = DefaultStreamBuffer
	}
}
