package detect

import (
	"time"

	"github.com/ringlab/go-passage/internal/sensor"
)

// Engine is the heuristic detection implementation: per-sensor trackers
// feed per-module pairing, whose verdicts the consensus step resolves.
// The engine is single-owner state; only the consumer context touches it.
type Engine struct {
	cfg       Config
	trackers  []*SensorTracker
	pairings  []*ModulePairing
	consensus *Consensus

	result    *Result
	lastCycle time.Time
}

// NewEngine creates the heuristic engine
func NewEngine(cfg Config) *Engine {
	trackers := make([]*SensorTracker, cfg.SensorCount())
	for i := range trackers {
		trackers[i] = NewSensorTracker(i, cfg)
	}

	pairings := make([]*ModulePairing, cfg.Modules)
	for i := range pairings {
		pairings[i] = NewModulePairing(i, cfg.MaxPeakGap)
	}

	return &Engine{
		cfg:       cfg,
		trackers:  trackers,
		pairings:  pairings,
		consensus: NewConsensus(cfg),
	}
}

// ProcessReading consumes one sensor reading
func (e *Engine) ProcessReading(r sensor.Reading) {
	if r.SensorIndex < 0 || r.SensorIndex >= len(e.trackers) {
		return
	}
	e.lastCycle = r.Timestamp

	wc, ok := e.trackers[r.SensorIndex].Ingest(r)
	if !ok {
		return
	}

	if r.ModuleIndex < 0 || r.ModuleIndex >= len(e.pairings) {
		return
	}

	det, ok := e.pairings[r.ModuleIndex].Offer(r.Side, wc)
	if !ok {
		return
	}

	e.consensus.Collect(det)
}

// HasDetection reports whether a result is ready. Pending module verdicts
// resolve here, once the drain cycle that produced them is over.
func (e *Engine) HasDetection() bool {
	if e.result != nil {
		return true
	}

	res, ok := e.consensus.Finalize(e.lastCycle)
	if !ok {
		return false
	}

	// A detection resets transient wave state; baselines persist through it
	e.resetTransients()
	e.result = &res
	return true
}

// ConsumeResult hands over the pending result exactly once
func (e *Engine) ConsumeResult() (Result, bool) {
	if e.result == nil {
		return Result{}, false
	}
	res := *e.result
	e.result = nil
	return res, true
}

// Reset returns the whole engine to idle: wave states, pending pairings,
// pending verdicts, and the cooldown gate. Baseline windows persist.
func (e *Engine) Reset() {
	e.resetTransients()
	e.consensus.Reset()
	e.result = nil
}

func (e *Engine) resetTransients() {
	for _, t := range e.trackers {
		t.Reset()
	}
	for _, p := range e.pairings {
		p.Reset()
	}
}

// InCooldown reports whether the post-detection gate is active
func (e *Engine) InCooldown() bool {
	return e.consensus.InCooldown(e.lastCycle)
}

// SensorStates returns telemetry snapshots for all trackers
func (e *Engine) SensorStates() []SensorState {
	states := make([]SensorState, len(e.trackers))
	for i, t := range e.trackers {
		states[i] = SensorState{
			SensorIndex:  i,
			ModuleIndex:  sensor.ModuleOf(i),
			Side:         sensor.SideOf(i),
			State:        t.State(),
			Threshold:    t.Threshold(),
			BaselineStat: t.BaselineStatistic(),
			BaselineLen:  t.BaselineLen(),
		}
	}
	return states
}

// SetThresholdOverride installs a calibrated static threshold for one sensor.
// Zero restores the adaptive threshold.
func (e *Engine) SetThresholdOverride(sensorIndex int, threshold float64) {
	if sensorIndex >= 0 && sensorIndex < len(e.trackers) {
		e.trackers[sensorIndex].SetThresholdOverride(threshold)
	}
}

// Tracker exposes one sensor's tracker for telemetry reads
func (e *Engine) Tracker(sensorIndex int) *SensorTracker {
	if sensorIndex < 0 || sensorIndex >= len(e.trackers) {
		return nil
	}
	return e.trackers[sensorIndex]
}
