package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Platform != "pocket" && c.Platform != "expert" {
		return fmt.Errorf("platform must be \"pocket\" or \"expert\", got %q", c.Platform)
	}
	if c.Session == "" {
		return errors.New("session is required")
	}

	if c.Reconnect.MinDelay < 0 {
		return errors.New("reconnect.min_delay must be >= 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.MinDelay {
		return fmt.Errorf("reconnect.max_delay (%v) cannot be less than min_delay (%v)",
			c.Reconnect.MaxDelay, c.Reconnect.MinDelay)
	}
	if c.Reconnect.Factor < 1.0 {
		return errors.New("reconnect.factor must be >= 1.0")
	}

	if c.Rules.ArmTimeout < 0 {
		return errors.New("rules.arm_timeout must be >= 0")
	}

	if c.Runtime.InboxSize < 1 {
		return errors.New("runtime.inbox_size must be >= 1")
	}
	if c.Runtime.OutboxSize < 1 {
		return errors.New("runtime.outbox_size must be >= 1")
	}

	if c.Subscription.StreamBuffer < 1 {
		return errors.New("subscription.stream_buffer must be >= 1")
	}

	return nil
}
