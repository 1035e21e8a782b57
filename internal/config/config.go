// Package config provides configuration management for go-passage
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Detection DetectionConfig `mapstructure:"detection"`
	Sensors   SensorsConfig   `mapstructure:"sensors"`
	Uplink    UplinkConfig    `mapstructure:"uplink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// SamplingConfig configures the producer and the hand-off queue
type SamplingConfig struct {
	RateHz          int `mapstructure:"rate_hz"`
	QueueSize       int `mapstructure:"queue_size"`
	DrainIntervalMs int `mapstructure:"drain_interval_ms"`
	HistorySize     int `mapstructure:"history_size"`
}

// DetectionConfig configures the detection engine
type DetectionConfig struct {
	Detector           string  `mapstructure:"detector"` // heuristic
	SmoothingWindow    int     `mapstructure:"smoothing_window"`
	MinRise            float64 `mapstructure:"min_rise"`
	PeakMultiplier     float64 `mapstructure:"peak_multiplier"`
	MaxPeakGapMs       int     `mapstructure:"max_peak_gap_ms"`
	MaxWaveDurationMs  int     `mapstructure:"max_wave_duration_ms"`
	BaselineWindowSize int     `mapstructure:"baseline_window_size"`
	CooldownMs         int     `mapstructure:"cooldown_ms"`
}

// SensorsConfig configures the sensor ring
type SensorsConfig struct {
	Modules int `mapstructure:"modules"` // Number of sensor pairs
}

// UplinkConfig configures the optional results publisher
type UplinkConfig struct {
	URL              string        `mapstructure:"url"` // Empty disables the uplink
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Sampling: SamplingConfig{
			RateHz:          1000,
			QueueSize:       512,
			DrainIntervalMs: 5,
			HistorySize:     2000,
		},
		Detection: DetectionConfig{
			Detector:           "heuristic",
			SmoothingWindow:    3,
			MinRise:            15,
			PeakMultiplier:     1.5,
			MaxPeakGapMs:       50,
			MaxWaveDurationMs:  800,
			BaselineWindowSize: 200,
			CooldownMs:         3000,
		},
		Sensors: SensorsConfig{
			Modules: 2,
		},
		Uplink: UplinkConfig{
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Config file not found is okay, use defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOPASSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 9100)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Sampling defaults
	v.SetDefault("sampling.rate_hz", 1000)
	v.SetDefault("sampling.queue_size", 512)
	v.SetDefault("sampling.drain_interval_ms", 5)
	v.SetDefault("sampling.history_size", 2000)

	// Detection defaults
	v.SetDefault("detection.detector", "heuristic")
	v.SetDefault("detection.smoothing_window", 3)
	v.SetDefault("detection.min_rise", 15)
	v.SetDefault("detection.peak_multiplier", 1.5)
	v.SetDefault("detection.max_peak_gap_ms", 50)
	v.SetDefault("detection.max_wave_duration_ms", 800)
	v.SetDefault("detection.baseline_window_size", 200)
	v.SetDefault("detection.cooldown_ms", 3000)

	// Sensors defaults
	v.SetDefault("sensors.modules", 2)

	// Uplink defaults
	v.SetDefault("uplink.url", "")
	v.SetDefault("uplink.reconnect_backoff", "1s")
	v.SetDefault("uplink.max_backoff", "30s")
	v.SetDefault("uplink.ping_interval", "10s")
	v.SetDefault("uplink.write_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Sampling.RateHz < 1 || c.Sampling.RateHz > 10000 {
		return fmt.Errorf("sampling.rate_hz must be between 1 and 10000, got %d", c.Sampling.RateHz)
	}

	if c.Sampling.QueueSize < 1 {
		return fmt.Errorf("sampling.queue_size must be positive, got %d", c.Sampling.QueueSize)
	}

	if c.Sensors.Modules < 1 {
		return fmt.Errorf("sensors.modules must be at least 1, got %d", c.Sensors.Modules)
	}

	if c.Detection.PeakMultiplier < 1 {
		return fmt.Errorf("detection.peak_multiplier must be >= 1, got %f", c.Detection.PeakMultiplier)
	}

	if c.Detection.MinRise < 0 {
		return fmt.Errorf("detection.min_rise must be non-negative, got %f", c.Detection.MinRise)
	}

	if c.Detection.BaselineWindowSize < 1 {
		return fmt.Errorf("detection.baseline_window_size must be positive, got %d", c.Detection.BaselineWindowSize)
	}

	if c.Detection.MaxPeakGapMs < 0 {
		return fmt.Errorf("detection.max_peak_gap_ms must be non-negative, got %d", c.Detection.MaxPeakGapMs)
	}

	if c.Detection.MaxWaveDurationMs < 0 {
		return fmt.Errorf("detection.max_wave_duration_ms must be non-negative, got %d", c.Detection.MaxWaveDurationMs)
	}

	if c.Detection.CooldownMs < 0 {
		return fmt.Errorf("detection.cooldown_ms must be non-negative, got %d", c.Detection.CooldownMs)
	}

	return nil
}
