package config

import "time"

// Connection manager modes.
const (
	ModeGrouped = "grouped"
	ModeSingle  = "single"
)

// Default values for optional configuration fields.
const (
	DefaultWSURL             = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultMode              = ModeGrouped
	DefaultAssetsPerGroup    = 100
	DefaultSweepInterval     = 10 * time.Second
	DefaultFlushInterval     = 100 * time.Millisecond
	DefaultRetryInterval     = 1 * time.Second
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultPingInterval      = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultDialRatePerSecond = 5.0
	DefaultDialBurst         = 10
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
)

func (c *StreamerConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}

	// Connections defaults
	if c.Connections.Mode == "" {
		c.Connections.Mode = DefaultMode
	}
	if c.Connections.AssetsPerGroup == 0 {
		c.Connections.AssetsPerGroup = DefaultAssetsPerGroup
	}
	if c.Connections.SweepInterval == 0 {
		c.Connections.SweepInterval = DefaultSweepInterval
	}
	if c.Connections.FlushInterval == 0 {
		c.Connections.FlushInterval = DefaultFlushInterval
	}
	if c.Connections.RetryInterval == 0 {
		c.Connections.RetryInterval = DefaultRetryInterval
	}
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.DialRatePerSecond == 0 {
		c.Connections.DialRatePerSecond = DefaultDialRatePerSecond
	}
	if c.Connections.DialBurst == 0 {
		c.Connections.DialBurst = DefaultDialBurst
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
