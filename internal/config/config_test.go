package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel1090.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalYAML = `
receivers:
  - id: rx-1
    address: 127.0.0.1:30005
    lat: 52.1
    lon: 4.2
    antenna_m: 12
output:
  log_dir: /tmp/sentinel-logs
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Receivers, 1)
	assert.Equal(t, "rx-1", cfg.Receivers[0].ID)
	assert.Equal(t, "127.0.0.1:30005", cfg.Receivers[0].Address)
	assert.Equal(t, 52.1, cfg.Receivers[0].Lat)

	// unset sections keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Resolver.PairingWindow)
	assert.Equal(t, 1.5, cfg.Resolver.SafetyFactor)
	assert.Equal(t, 30*time.Second, cfg.Engine.CorrelationWindow)
	assert.Equal(t, 16, cfg.Engine.MaxPositions)
	assert.Equal(t, 32, cfg.Engine.MaxSignals)
	assert.Equal(t, 5.0, cfg.Engine.DecayMaxRatio)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9190", cfg.Metrics.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/tmp/sentinel-logs", cfg.Output.LogDir)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
receivers:
  - id: rx-1
    file: capture.bin
    lat: 50.0
    lon: 4.0
resolver:
  pairing_window: 20s
  max_speed_kts: 500
engine:
  silence_timeout: 2m
  max_positions: 8
  decay_max_ratio: 8.0
output:
  log_dir: /var/log/sentinel
  nats_url: nats://localhost:4222
metrics:
  enabled: false
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "capture.bin", cfg.Receivers[0].File)
	assert.Equal(t, 20*time.Second, cfg.Resolver.PairingWindow)
	assert.Equal(t, 500.0, cfg.Resolver.MaxSpeedKts)
	assert.Equal(t, 2*time.Minute, cfg.Engine.SilenceTimeout)
	assert.Equal(t, 8, cfg.Engine.MaxPositions)
	assert.Equal(t, 32, cfg.Engine.MaxSignals)
	assert.Equal(t, 8.0, cfg.Engine.DecayMaxRatio)
	assert.Equal(t, "nats://localhost:4222", cfg.Output.NATSURL)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.LogLevel)

	// untouched defaults survive a partial section
	assert.Equal(t, 3*time.Minute, cfg.Resolver.MaxRefAge)
	assert.Equal(t, 30*time.Second, cfg.Engine.CorrelationWindow)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SENTINEL1090_NATS_URL", "nats://broker:4222")
	t.Setenv("SENTINEL1090_LOG_DIR", "/data/logs")
	t.Setenv("SENTINEL1090_METRICS_LISTEN", ":9999")
	t.Setenv("SENTINEL1090_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.Output.NATSURL)
	assert.Equal(t, "/data/logs", cfg.Output.LogDir)
	assert.Equal(t, ":9999", cfg.Metrics.Listen)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "receivers: [}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaults()
		cfg.Receivers = []ReceiverConfig{
			{ID: "rx-1", Address: "127.0.0.1:30005", Lat: 52.1, Lon: 4.2},
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "no receivers",
			mutate:  func(c *Config) { c.Receivers = nil },
			wantErr: "at least one receiver",
		},
		{
			name:    "missing id",
			mutate:  func(c *Config) { c.Receivers[0].ID = "" },
			wantErr: "id is required",
		},
		{
			name: "duplicate id",
			mutate: func(c *Config) {
				c.Receivers = append(c.Receivers, ReceiverConfig{
					ID: "rx-1", Address: "127.0.0.1:30006", Lat: 50, Lon: 4,
				})
			},
			wantErr: "duplicate id",
		},
		{
			name:    "neither address nor file",
			mutate:  func(c *Config) { c.Receivers[0].Address = "" },
			wantErr: "exactly one of address or file",
		},
		{
			name: "both address and file",
			mutate: func(c *Config) {
				c.Receivers[0].File = "capture.bin"
			},
			wantErr: "exactly one of address or file",
		},
		{
			name:    "latitude out of range",
			mutate:  func(c *Config) { c.Receivers[0].Lat = 91 },
			wantErr: "latitude",
		},
		{
			name:    "longitude out of range",
			mutate:  func(c *Config) { c.Receivers[0].Lon = -181 },
			wantErr: "longitude",
		},
		{
			name:    "negative antenna",
			mutate:  func(c *Config) { c.Receivers[0].AntennaM = -1 },
			wantErr: "antenna height",
		},
		{
			name:    "safety factor below one",
			mutate:  func(c *Config) { c.Resolver.SafetyFactor = 0.5 },
			wantErr: "safety_factor",
		},
		{
			name:    "horizon margin out of range",
			mutate:  func(c *Config) { c.Engine.HorizonMarginFactor = 1.5 },
			wantErr: "horizon_margin_factor",
		},
		{
			name:    "empty log dir",
			mutate:  func(c *Config) { c.Output.LogDir = "" },
			wantErr: "log_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
