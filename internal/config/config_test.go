package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
feed:
  ws_url: wss://example.test/ws/market
  initial_dump: true
connections:
  mode: grouped
  assets_per_group: 50
  sweep_interval: 5s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-streamer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-streamer")
	}
	if cfg.Feed.WSURL != "wss://example.test/ws/market" {
		t.Errorf("Feed.WSURL = %q, want %q", cfg.Feed.WSURL, "wss://example.test/ws/market")
	}
	if !cfg.Feed.InitialDump {
		t.Error("Feed.InitialDump = false, want true")
	}
	if cfg.Connections.AssetsPerGroup != 50 {
		t.Errorf("Connections.AssetsPerGroup = %d, want 50", cfg.Connections.AssetsPerGroup)
	}
	if cfg.Connections.SweepInterval != 5*time.Second {
		t.Errorf("Connections.SweepInterval = %v, want 5s", cfg.Connections.SweepInterval)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_URL", "wss://env.test/ws/market")

	yaml := `
instance:
  id: test-streamer
feed:
  ws_url: ${TEST_FEED_URL}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.WSURL != "wss://env.test/ws/market" {
		t.Errorf("Feed.WSURL = %q, want %q", cfg.Feed.WSURL, "wss://env.test/ws/market")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Feed.WSURL != DefaultWSURL {
		t.Errorf("Feed.WSURL = %q, want default %q", cfg.Feed.WSURL, DefaultWSURL)
	}
	if cfg.Connections.Mode != DefaultMode {
		t.Errorf("Connections.Mode = %q, want default %q", cfg.Connections.Mode, DefaultMode)
	}
	if cfg.Connections.AssetsPerGroup != DefaultAssetsPerGroup {
		t.Errorf("Connections.AssetsPerGroup = %d, want default %d", cfg.Connections.AssetsPerGroup, DefaultAssetsPerGroup)
	}
	if cfg.Connections.SweepInterval != DefaultSweepInterval {
		t.Errorf("Connections.SweepInterval = %v, want default %v", cfg.Connections.SweepInterval, DefaultSweepInterval)
	}
	if cfg.Connections.FlushInterval != DefaultFlushInterval {
		t.Errorf("Connections.FlushInterval = %v, want default %v", cfg.Connections.FlushInterval, DefaultFlushInterval)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, DefaultLogLevel)
	}
}

func TestValidate(t *testing.T) {
	valid := StreamerConfig{
		Instance: InstanceConfig{ID: "test"},
		Feed:     FeedConfig{WSURL: "wss://example.test/ws/market"},
		Connections: ConnectionsConfig{
			Mode:              ModeGrouped,
			AssetsPerGroup:    100,
			DialRatePerSecond: 5,
			DialBurst:         10,
		},
		Metrics: MetricsConfig{Port: 9090},
		Logging: LoggingConfig{Level: "info"},
	}

	tests := []struct {
		name    string
		mutate  func(*StreamerConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *StreamerConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *StreamerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing feed url",
			mutate:  func(c *StreamerConfig) { c.Feed.WSURL = "" },
			wantErr: "feed.ws_url is required",
		},
		{
			name:    "bad mode",
			mutate:  func(c *StreamerConfig) { c.Connections.Mode = "sharded" },
			wantErr: `connections.mode must be "grouped" or "single", got "sharded"`,
		},
		{
			name:    "zero assets per group",
			mutate:  func(c *StreamerConfig) { c.Connections.AssetsPerGroup = 0 },
			wantErr: "connections.assets_per_group must be >= 1",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *StreamerConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *StreamerConfig) { c.Logging.Level = "verbose" },
			wantErr: `logging.level must be debug, info, warn or error, got "verbose"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
