package detect

import (
	"time"

	"github.com/ringlab/go-passage/internal/sensor"
)

// WaveState is the per-sensor excursion state
type WaveState uint8

const (
	// WaveIdle means the signal is at or below threshold; samples feed the baseline.
	WaveIdle WaveState = iota
	// WaveRising means an excursion above threshold is open and accumulating.
	WaveRising
)

// String returns the state name
func (s WaveState) String() string {
	if s == WaveRising {
		return "rising"
	}
	return "idle"
}

// MarshalText implements encoding.TextMarshaler for JSON output
func (s WaveState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *WaveState) UnmarshalText(text []byte) error {
	if string(text) == "rising" {
		*s = WaveRising
	} else {
		*s = WaveIdle
	}
	return nil
}

// WaveCompletion describes one finished excursion above threshold
type WaveCompletion struct {
	SensorIndex  int
	Start        time.Time
	End          time.Time
	PeakValue    float64
	PeakTime     time.Time
	CenterOfMass time.Time
}

// Duration returns the wave length
func (w WaveCompletion) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// waveAccum holds the running sums of an open wave. The baseline statistic is
// captured once at wave open so weights stay stable for the whole excursion.
type waveAccum struct {
	start    time.Time
	baseline float64
	peak     float64
	peakTime time.Time
	sumW     float64 // Sigma(v - baseline)
	sumWT    float64 // Sigma(dt_us * (v - baseline))
}

// smoother is a small moving-average filter applied before threshold comparison
type smoother struct {
	data []float64
	pos  int
	full bool
	sum  float64
}

func newSmoother(window int) *smoother {
	if window < 2 {
		return &smoother{}
	}
	return &smoother{data: make([]float64, window)}
}

func (s *smoother) push(v float64) float64 {
	if s.data == nil {
		return v
	}
	if s.full {
		s.sum -= s.data[s.pos]
	}
	s.data[s.pos] = v
	s.sum += v
	s.pos++
	n := s.pos
	if s.pos >= len(s.data) {
		s.pos = 0
		s.full = true
	}
	if s.full {
		n = len(s.data)
	}
	return s.sum / float64(n)
}

func (s *smoother) reset() {
	if s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.pos = 0
	s.full = false
	s.sum = 0
}

// SensorTracker owns one sensor's baseline, adaptive threshold, and wave
// state machine. It is mutated only by the consumer context.
type SensorTracker struct {
	index    int
	cfg      Config
	baseline *baselineWindow
	smooth   *smoother
	state    WaveState
	wave     waveAccum
	override float64 // externally calibrated threshold, 0 = adaptive
}

// NewSensorTracker creates a tracker for one sensor index
func NewSensorTracker(index int, cfg Config) *SensorTracker {
	return &SensorTracker{
		index:    index,
		cfg:      cfg,
		baseline: newBaselineWindow(cfg.BaselineWindowSize),
		smooth:   newSmoother(cfg.SmoothingWindow),
	}
}

// Ingest consumes one reading and returns a completion when a wave finishes.
// It is the sole entry point for sensor data.
func (t *SensorTracker) Ingest(r sensor.Reading) (WaveCompletion, bool) {
	v := t.smooth.push(float64(r.Value))
	thr := t.Threshold()

	switch t.state {
	case WaveIdle:
		if v <= thr {
			t.baseline.push(v)
			return WaveCompletion{}, false
		}

		// Threshold crossed: open a wave
		t.state = WaveRising
		t.wave = waveAccum{
			start:    r.Timestamp,
			baseline: t.baseline.statistic(),
		}
		t.accumulate(v, r.Timestamp)
		return WaveCompletion{}, false

	case WaveRising:
		if v > thr {
			t.accumulate(v, r.Timestamp)

			// A stuck wave is force-closed and treated as a valid,
			// unusually long excursion, never left open.
			if r.Timestamp.Sub(t.wave.start) > t.cfg.MaxWaveDuration {
				return t.finalize(r.Timestamp)
			}
			return WaveCompletion{}, false
		}

		// Signal dropped back to/below threshold: the wave is done.
		// This sample never touches the baseline - it arrived mid-wave.
		return t.finalize(r.Timestamp)
	}

	return WaveCompletion{}, false
}

func (t *SensorTracker) accumulate(v float64, ts time.Time) {
	w := v - t.wave.baseline
	dt := float64(ts.Sub(t.wave.start).Microseconds())

	t.wave.sumW += w
	t.wave.sumWT += dt * w

	if v > t.wave.peak {
		t.wave.peak = v
		t.wave.peakTime = ts
	}
}

// finalize closes the open wave. A zero-weight wave (floating point edge
// case) is suppressed rather than producing a NaN center of mass.
func (t *SensorTracker) finalize(end time.Time) (WaveCompletion, bool) {
	wave := t.wave
	t.state = WaveIdle
	t.wave = waveAccum{}

	if wave.sumW <= 0 {
		return WaveCompletion{}, false
	}

	comOffsetUs := wave.sumWT / wave.sumW

	return WaveCompletion{
		SensorIndex:  t.index,
		Start:        wave.start,
		End:          end,
		PeakValue:    wave.peak,
		PeakTime:     wave.peakTime,
		CenterOfMass: wave.start.Add(time.Duration(comOffsetUs * 1000)),
	}, true
}

// Reset forces the wave state back to idle and discards any in-progress
// accumulator. The baseline window is deliberately untouched.
func (t *SensorTracker) Reset() {
	t.state = WaveIdle
	t.wave = waveAccum{}
}

// Threshold returns the current detection threshold
func (t *SensorTracker) Threshold() float64 {
	if t.override > 0 {
		return t.override
	}

	st := t.baseline.statistic()
	rise := st * (t.cfg.PeakMultiplier - 1)
	if rise < t.cfg.MinRise {
		rise = t.cfg.MinRise
	}
	return st + rise
}

// BaselineStatistic returns the current baseline statistic (mean + sigma)
func (t *SensorTracker) BaselineStatistic() float64 {
	return t.baseline.statistic()
}

// BaselineLen returns how many quiet samples the window holds
func (t *SensorTracker) BaselineLen() int {
	return t.baseline.len()
}

// State returns the current wave state
func (t *SensorTracker) State() WaveState {
	return t.state
}

// Index returns the sensor index this tracker owns
func (t *SensorTracker) Index() int {
	return t.index
}

// SetThresholdOverride installs an externally calibrated static threshold.
// Zero restores the adaptive threshold.
func (t *SensorTracker) SetThresholdOverride(threshold float64) {
	t.override = threshold
}
