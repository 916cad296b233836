package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Feed        FeedConfig        `yaml:"feed"`
	Connections ConnectionsConfig `yaml:"connections"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds market-data feed settings.
type FeedConfig struct {
	WSURL       string `yaml:"ws_url"`
	InitialDump bool   `yaml:"initial_dump"`
}

// ConnectionsConfig holds WebSocket connection manager settings.
type ConnectionsConfig struct {
	Mode              string        `yaml:"mode"` // "grouped" or "single"
	AssetsPerGroup    int           `yaml:"assets_per_group"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	FlushInterval     time.Duration `yaml:"flush_interval"` // single mode only
	RetryInterval     time.Duration `yaml:"retry_interval"` // single mode only
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	DialRatePerSecond float64       `yaml:"dial_rate_per_second"`
	DialBurst         int           `yaml:"dial_burst"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
