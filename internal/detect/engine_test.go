package detect

import (
	"math"
	"testing"
	"time"

	"github.com/ringlab/go-passage/internal/sensor"
)

// feedQuiet pushes quiet samples to every sensor so baselines settle
func feedQuiet(e *Engine, start time.Time, cycles int, value uint16) time.Time {
	at := start
	for c := 0; c < cycles; c++ {
		for i := 0; i < e.cfg.SensorCount(); i++ {
			e.ProcessReading(reading(i, at, value))
		}
		at = at.Add(time.Millisecond)
	}
	return at
}

// feedTransit replays an A-to-B passage through one module: a bump on side A
// followed 15ms later by the same bump on side B. Returns the time after the
// last reading.
func feedTransit(e *Engine, moduleIndex int, start time.Time) time.Time {
	a := moduleIndex * 2
	b := a + 1

	type sample struct {
		index  int
		offset time.Duration
		value  uint16
	}

	samples := []sample{
		{a, 0, 40},
		{a, 10 * time.Millisecond, 60},
		{b, 15 * time.Millisecond, 40},
		{a, 20 * time.Millisecond, 40},
		{b, 25 * time.Millisecond, 60},
		{a, 30 * time.Millisecond, 10}, // closes A's wave
		{b, 35 * time.Millisecond, 40},
		{b, 45 * time.Millisecond, 10}, // closes B's wave
	}

	for _, s := range samples {
		e.ProcessReading(reading(s.index, start.Add(s.offset), s.value))
	}
	return start.Add(46 * time.Millisecond)
}

func singleModuleConfig() Config {
	cfg := testConfig()
	cfg.Modules = 1
	return cfg
}

func TestEngine_DetectsTransit(t *testing.T) {
	e := NewEngine(singleModuleConfig())

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)
	if e.HasDetection() {
		t.Fatal("quiet stream should not produce a detection")
	}

	feedTransit(e, 0, at)

	if !e.HasDetection() {
		t.Fatal("expected a detection after the transit")
	}

	res, ok := e.ConsumeResult()
	if !ok {
		t.Fatal("expected to consume the result")
	}

	if res.Direction != DirectionAToB {
		t.Errorf("expected a_to_b, got %v", res.Direction)
	}
	if math.Abs(res.COMGapMs-15) > 0.01 {
		t.Errorf("expected 15ms center-of-mass gap, got %v", res.COMGapMs)
	}
	if math.Abs(res.Confidence-0.75) > 1e-9 {
		t.Errorf("expected confidence 0.75, got %v", res.Confidence)
	}
	if res.PeakA != 60 || res.PeakB != 60 {
		t.Errorf("expected peaks 60/60, got %v/%v", res.PeakA, res.PeakB)
	}

	// Exactly-once delivery
	if _, ok := e.ConsumeResult(); ok {
		t.Error("result should only be consumable once")
	}
	if e.HasDetection() {
		t.Error("no further detection should be pending")
	}
}

func TestEngine_OneSidedWaveIsNotATransit(t *testing.T) {
	e := NewEngine(singleModuleConfig())

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)

	// Only side A sees the bump
	for i, v := range []uint16{40, 60, 40, 10} {
		e.ProcessReading(reading(0, at.Add(time.Duration(i*10)*time.Millisecond), v))
	}

	if e.HasDetection() {
		t.Fatal("a single-sided wave must not produce a detection")
	}
}

func TestEngine_CooldownSuppressesSecondTransit(t *testing.T) {
	cfg := singleModuleConfig()
	cfg.Cooldown = 3 * time.Second
	e := NewEngine(cfg)

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)
	at = feedTransit(e, 0, at)

	if !e.HasDetection() {
		t.Fatal("expected first detection")
	}
	e.ConsumeResult()

	if !e.InCooldown() {
		t.Error("expected cooldown after detection")
	}

	// Second passage 500ms later, well inside the cooldown
	at = feedTransit(e, 0, at.Add(500*time.Millisecond))
	if e.HasDetection() {
		t.Fatal("cooldown should suppress the second transit")
	}

	// Third passage after the cooldown expired
	feedTransit(e, 0, at.Add(4*time.Second))
	if !e.HasDetection() {
		t.Fatal("expected detection after cooldown expired")
	}
}

func TestEngine_MultiModuleAgreement(t *testing.T) {
	cfg := testConfig()
	cfg.Modules = 2
	e := NewEngine(cfg)

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)

	// Both modules see the same passage in the same drain cycle
	feedTransit(e, 0, at)
	feedTransit(e, 1, at)

	if !e.HasDetection() {
		t.Fatal("expected a detection")
	}
	res, _ := e.ConsumeResult()

	if res.Direction != DirectionAToB {
		t.Errorf("expected a_to_b, got %v", res.Direction)
	}
	if len(res.Modules) != 2 {
		t.Fatalf("expected 2 contributing verdicts, got %d", len(res.Modules))
	}
	// Both modules scored 0.75 and agree: 0.75 + 0.25*0.5
	if math.Abs(res.Confidence-0.875) > 1e-9 {
		t.Errorf("expected boosted confidence 0.875, got %v", res.Confidence)
	}
}

func TestEngine_BaselineSurvivesDetection(t *testing.T) {
	e := NewEngine(singleModuleConfig())

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)
	lenBefore := e.Tracker(0).BaselineLen()

	feedTransit(e, 0, at)
	e.HasDetection()
	e.ConsumeResult()

	if got := e.Tracker(0).BaselineLen(); got != lenBefore {
		t.Errorf("detection should not discard baseline samples: %d -> %d", lenBefore, got)
	}
	if e.Tracker(0).State() != WaveIdle {
		t.Error("detection should reset wave state to idle")
	}
}

func TestEngine_ResetClearsCooldown(t *testing.T) {
	cfg := singleModuleConfig()
	cfg.Cooldown = time.Hour
	e := NewEngine(cfg)

	at := feedQuiet(e, time.Unix(1000, 0), 20, 10)
	at = feedTransit(e, 0, at)
	e.HasDetection()
	e.ConsumeResult()

	e.Reset()

	feedTransit(e, 0, at.Add(time.Second))
	if !e.HasDetection() {
		t.Fatal("expected detection after reset cleared the cooldown")
	}
}

func TestEngine_IgnoresOutOfRangeReadings(t *testing.T) {
	e := NewEngine(singleModuleConfig())
	at := time.Unix(1000, 0)

	e.ProcessReading(reading(99, at, 10))
	e.ProcessReading(sensor.Reading{Timestamp: at, SensorIndex: -1, Value: 10})

	if e.HasDetection() {
		t.Error("out-of-range readings should be dropped")
	}
}

func TestEngine_SensorStates(t *testing.T) {
	cfg := testConfig()
	cfg.Modules = 2
	e := NewEngine(cfg)

	feedQuiet(e, time.Unix(1000, 0), 10, 10)

	states := e.SensorStates()
	if len(states) != 4 {
		t.Fatalf("expected 4 sensor states, got %d", len(states))
	}

	for i, st := range states {
		if st.SensorIndex != i {
			t.Errorf("state %d: wrong index %d", i, st.SensorIndex)
		}
		if st.ModuleIndex != i/2 {
			t.Errorf("state %d: wrong module %d", i, st.ModuleIndex)
		}
		if st.State != WaveIdle {
			t.Errorf("state %d: expected idle, got %v", i, st.State)
		}
		if st.Threshold <= st.BaselineStat {
			t.Errorf("state %d: threshold %v not above baseline %v", i, st.Threshold, st.BaselineStat)
		}
		if st.BaselineLen != 10 {
			t.Errorf("state %d: expected 10 baseline samples, got %d", i, st.BaselineLen)
		}
	}
}

func TestNewDetector(t *testing.T) {
	cfg := DefaultConfig()

	for _, kind := range []string{"", "heuristic"} {
		if _, err := NewDetector(kind, cfg); err != nil {
			t.Errorf("kind %q: unexpected error %v", kind, err)
		}
	}

	if _, err := NewDetector("neural", cfg); err == nil {
		t.Error("expected error for unknown detector kind")
	}
}
