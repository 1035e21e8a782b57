// Package sensor provides access to the proximity sensor ring
package sensor

import (
	"context"
	"time"
)

// Side identifies which face of a module a sensor sits on.
type Side uint8

const (
	SideA Side = iota
	SideB
)

// String returns the side name
func (s Side) String() string {
	if s == SideA {
		return "a"
	}
	return "b"
}

// MarshalText implements encoding.TextMarshaler for JSON output
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Side) UnmarshalText(text []byte) error {
	if string(text) == "b" {
		*s = SideB
	} else {
		*s = SideA
	}
	return nil
}

// Reading represents a single proximity sample from one sensor.
// Readings are copied by value across the producer/consumer boundary.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`    // Shared cycle timestamp
	SensorIndex int       `json:"sensor_index"` // 0..N-1
	ModuleIndex int       `json:"module_index"` // Physical pair index
	Side        Side      `json:"side"`         // A or B within the module
	Value       uint16    `json:"value"`        // Raw proximity count
}

// Source provides raw proximity readings from the sensor ring hardware
type Source interface {
	// ReadProximity returns the current proximity count for one sensor
	ReadProximity(ctx context.Context, sensorIndex int) (uint16, error)

	// SensorCount returns the number of addressable sensors
	SensorCount() int

	// Close releases hardware resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}

// ModuleOf returns the module a sensor belongs to.
// Sensors are laid out pairwise: 2m is side A, 2m+1 is side B.
func ModuleOf(sensorIndex int) int {
	return sensorIndex / 2
}

// SideOf returns which face of its module a sensor sits on.
func SideOf(sensorIndex int) Side {
	if sensorIndex%2 == 0 {
		return SideA
	}
	return SideB
}
