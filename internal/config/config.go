// Package config loads the grid configuration from a YAML file with
// environment-variable overrides for deployment-specific endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ReceiverConfig describes one grid node and where its byte stream comes
// from. Exactly one of Address or File must be set.
type ReceiverConfig struct {
	ID       string  `yaml:"id"`
	Address  string  `yaml:"address,omitempty"` // host:port of a Beast TCP feed
	File     string  `yaml:"file,omitempty"`    // capture file for replay
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	AntennaM float64 `yaml:"antenna_m"`
}

// ResolverConfig carries the position resolver tunables.
type ResolverConfig struct {
	PairingWindow time.Duration `yaml:"pairing_window"`
	MaxRefAge     time.Duration `yaml:"max_ref_age"`
	MaxSpeedKts   float64       `yaml:"max_speed_kts"`
	SafetyFactor  float64       `yaml:"safety_factor"`
}

// EngineConfig carries the consistency engine tunables.
type EngineConfig struct {
	CorrelationWindow    time.Duration `yaml:"correlation_window"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	SilenceTimeout       time.Duration `yaml:"silence_timeout"`
	MaxTracks            int           `yaml:"max_tracks"`
	MaxPositions         int           `yaml:"max_positions"`
	MaxSignals           int           `yaml:"max_signals"`
	MaxGroundSpeedKts    float64       `yaml:"max_ground_speed_kts"`
	MaxTurnRateDegS      float64       `yaml:"max_turn_rate_deg_s"`
	DecayMaxRatio        float64       `yaml:"decay_max_ratio"`
	DecayMinSamples      int           `yaml:"decay_min_samples"`
	AgreementToleranceKM float64       `yaml:"agreement_tolerance_km"`
	HorizonMarginFactor  float64       `yaml:"horizon_margin_factor"`
}

// OutputConfig carries the record sinks.
type OutputConfig struct {
	LogDir       string `yaml:"log_dir"`
	LogRotateUTC bool   `yaml:"log_rotate_utc"`
	NATSURL      string `yaml:"nats_url,omitempty"`
}

// MetricsConfig carries the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the full application configuration.
type Config struct {
	Receivers []ReceiverConfig `yaml:"receivers"`
	Resolver  ResolverConfig   `yaml:"resolver"`
	Engine    EngineConfig     `yaml:"engine"`
	Output    OutputConfig     `yaml:"output"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	LogLevel  string           `yaml:"log_level"`
}

// Load reads the YAML configuration file, applies environment overrides
// and validates the result. A .env file in the working directory is
// honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Resolver: ResolverConfig{
			PairingWindow: 10 * time.Second,
			MaxRefAge:     3 * time.Minute,
			MaxSpeedKts:   600,
			SafetyFactor:  1.5,
		},
		Engine: EngineConfig{
			CorrelationWindow:    30 * time.Second,
			SweepInterval:        5 * time.Second,
			SilenceTimeout:       60 * time.Second,
			MaxTracks:            10000,
			MaxPositions:         16,
			MaxSignals:           32,
			MaxGroundSpeedKts:    650,
			MaxTurnRateDegS:      20,
			DecayMaxRatio:        5.0,
			DecayMinSamples:      20,
			AgreementToleranceKM: 5.0,
			HorizonMarginFactor:  0.8,
		},
		Output: OutputConfig{
			LogDir: "./logs",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9190",
		},
		LogLevel: "info",
	}
}

// applyEnv overrides deployment endpoints from the environment so the same
// config file can run in multiple environments.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SENTINEL1090_NATS_URL"); v != "" {
		cfg.Output.NATSURL = v
	}
	if v := os.Getenv("SENTINEL1090_LOG_DIR"); v != "" {
		cfg.Output.LogDir = v
	}
	if v := os.Getenv("SENTINEL1090_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("SENTINEL1090_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration for mistakes that would otherwise
// surface as confusing runtime behavior.
func (c *Config) Validate() error {
	if len(c.Receivers) == 0 {
		return fmt.Errorf("at least one receiver is required")
	}

	seen := make(map[string]bool, len(c.Receivers))
	for i, r := range c.Receivers {
		if r.ID == "" {
			return fmt.Errorf("receiver %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("receiver %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		if (r.Address == "") == (r.File == "") {
			return fmt.Errorf("receiver %q: exactly one of address or file must be set", r.ID)
		}
		if r.Lat < -90 || r.Lat > 90 {
			return fmt.Errorf("receiver %q: latitude %f out of range", r.ID, r.Lat)
		}
		if r.Lon < -180 || r.Lon > 180 {
			return fmt.Errorf("receiver %q: longitude %f out of range", r.ID, r.Lon)
		}
		if r.AntennaM < 0 {
			return fmt.Errorf("receiver %q: antenna height must not be negative", r.ID)
		}
	}

	if c.Resolver.SafetyFactor < 1 {
		return fmt.Errorf("resolver safety_factor must be at least 1")
	}
	if c.Engine.HorizonMarginFactor <= 0 || c.Engine.HorizonMarginFactor > 1 {
		return fmt.Errorf("engine horizon_margin_factor must be in (0, 1]")
	}
	if c.Output.LogDir == "" {
		return fmt.Errorf("output log_dir is required")
	}

	return nil
}
