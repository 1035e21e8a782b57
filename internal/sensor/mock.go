package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockSource is a mock sensor ring for testing and bench development
type MockSource struct {
	mu              sync.Mutex
	values          []uint16
	healthy         bool
	failing         map[int]bool
	simulateTransit bool
	startTime       time.Time
}

// Simulated transit shape
const (
	mockQuiet       = 12               // resting proximity count
	mockPeak        = 90               // bump amplitude above quiet
	mockBumpWidth   = 0.04             // Gaussian sigma, seconds
	mockSideBDelay  = 0.015            // side B lags side A by 15ms
	mockTransitWait = 4 * time.Second  // gap between simulated transits
)

// NewMockSource creates a mock source with the given sensor count,
// all sensors resting at a quiet level
func NewMockSource(sensors int) *MockSource {
	values := make([]uint16, sensors)
	for i := range values {
		values[i] = mockQuiet
	}
	return &MockSource{
		values:    values,
		healthy:   true,
		failing:   make(map[int]bool),
		startTime: time.Now(),
	}
}

// NewMockSourceWithTransit creates a mock that periodically simulates an
// object passing through the ring from side A to side B
func NewMockSourceWithTransit(sensors int) *MockSource {
	m := NewMockSource(sensors)
	m.simulateTransit = true
	return m
}

// ReadProximity returns the current proximity count for one sensor
func (m *MockSource) ReadProximity(ctx context.Context, sensorIndex int) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sensorIndex < 0 || sensorIndex >= len(m.values) {
		return 0, fmt.Errorf("sensor index %d out of range", sensorIndex)
	}

	if m.failing[sensorIndex] {
		return 0, fmt.Errorf("sensor %d read failed", sensorIndex)
	}

	if !m.simulateTransit {
		return m.values[sensorIndex], nil
	}

	// Gaussian bump sweeping side A first, side B 15ms later
	elapsed := time.Since(m.startTime)
	phase := (elapsed % mockTransitWait).Seconds()
	center := 1.0
	if SideOf(sensorIndex) == SideB {
		center += mockSideBDelay
	}

	d := (phase - center) / mockBumpWidth
	bump := float64(mockPeak) * math.Exp(-d*d)

	return uint16(mockQuiet + bump), nil
}

// SensorCount returns the number of sensors
func (m *MockSource) SensorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Close releases resources
func (m *MockSource) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	return "mock"
}

// SetValue sets the proximity count one sensor will report
func (m *MockSource) SetValue(sensorIndex int, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sensorIndex >= 0 && sensorIndex < len(m.values) {
		m.values[sensorIndex] = value
	}
}

// SetFailing makes reads of one sensor fail
func (m *MockSource) SetFailing(sensorIndex int, failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[sensorIndex] = failing
}

// SetHealthy sets the mock health state
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}
