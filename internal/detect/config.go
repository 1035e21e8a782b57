// Package detect implements the transit direction detection engine: per-sensor
// adaptive baselines and wave tracking, per-module wave pairing, and the
// consensus step that turns module verdicts into one directional result.
package detect

import "time"

// Config configures the detection engine
type Config struct {
	Modules            int           // Number of sensor pairs in the ring
	SmoothingWindow    int           // Samples averaged before threshold comparison
	MinRise            float64       // Absolute floor on required rise above baseline
	PeakMultiplier     float64       // Multiplicative threshold factor over baseline
	MaxPeakGap         time.Duration // Max timing gap to pair two sides into one event
	MaxWaveDuration    time.Duration // Force-close timeout for an open wave
	BaselineWindowSize int           // Capacity of the per-sensor baseline ring
	Cooldown           time.Duration // Suppression period after a detection
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Modules:            2,
		SmoothingWindow:    3,
		MinRise:            15,
		PeakMultiplier:     1.5,
		MaxPeakGap:         50 * time.Millisecond,
		MaxWaveDuration:    800 * time.Millisecond,
		BaselineWindowSize: 200,
		Cooldown:           3 * time.Second,
	}
}

// SensorCount returns the number of sensors the ring carries
func (c Config) SensorCount() int {
	return c.Modules * 2
}
