package detect

import (
	"fmt"
	"time"

	"github.com/ringlab/go-passage/internal/sensor"
)

// Result is a fully resolved transit detection
type Result struct {
	ID                 string            `json:"id"`
	Direction          Direction         `json:"direction"`
	Confidence         float64           `json:"confidence"`
	ContributingModule int               `json:"contributing_module"`
	Modules            []ModuleDetection `json:"modules"`
	PeakA              float64           `json:"peak_a"`
	PeakB              float64           `json:"peak_b"`
	WaveDurationAMs    float64           `json:"wave_duration_a_ms"`
	WaveDurationBMs    float64           `json:"wave_duration_b_ms"`
	COMGapMs           float64           `json:"com_gap_ms"`
	DetectedAt         time.Time         `json:"detected_at"`
}

// Detector is the contract every detection implementation honors. The
// heuristic engine implements it; alternative implementations (e.g. a
// learned model trained off-device) plug into the same consumer loop.
type Detector interface {
	// ProcessReading consumes one sensor reading
	ProcessReading(r sensor.Reading)

	// HasDetection reports whether a result is ready to consume
	HasDetection() bool

	// ConsumeResult hands over the pending result exactly once
	ConsumeResult() (Result, bool)

	// Reset returns all transient state to idle; baselines persist
	Reset()
}

// SensorState is a telemetry snapshot of one tracker
type SensorState struct {
	SensorIndex  int         `json:"sensor_index"`
	ModuleIndex  int         `json:"module_index"`
	Side         sensor.Side `json:"side"`
	State        WaveState   `json:"state"`
	Threshold    float64     `json:"threshold"`
	BaselineStat float64     `json:"baseline_stat"`
	BaselineLen  int         `json:"baseline_len"`
}

// StateReporter is implemented by detectors that expose per-sensor telemetry
type StateReporter interface {
	SensorStates() []SensorState
}

// NewDetector builds the configured detector implementation
func NewDetector(kind string, cfg Config) (Detector, error) {
	switch kind {
	case "", "heuristic":
		return NewEngine(cfg), nil
	default:
		return nil, fmt.Errorf("unknown detector %q", kind)
	}
}
