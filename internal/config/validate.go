package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}

	if c.Connections.Mode != ModeGrouped && c.Connections.Mode != ModeSingle {
		return fmt.Errorf("connections.mode must be %q or %q, got %q", ModeGrouped, ModeSingle, c.Connections.Mode)
	}
	if c.Connections.AssetsPerGroup < 1 {
		return errors.New("connections.assets_per_group must be >= 1")
	}
	if c.Connections.DialRatePerSecond <= 0 {
		return errors.New("connections.dial_rate_per_second must be > 0")
	}
	if c.Connections.DialBurst < 1 {
		return errors.New("connections.dial_burst must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}
