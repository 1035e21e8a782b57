package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/sensor"
)

func testDetectConfig() detect.Config {
	cfg := detect.DefaultConfig()
	cfg.Modules = 1
	cfg.SmoothingWindow = 1
	cfg.MinRise = 10
	cfg.PeakMultiplier = 1.5
	return cfg
}

func startPipeline(t *testing.T, queue *detect.Queue, detector detect.Detector) *Pipeline {
	t.Helper()

	p := New(queue, detector, Config{
		DrainInterval: time.Millisecond,
		HistorySize:   64,
	}, slog.Default())

	go p.Run(context.Background())
	t.Cleanup(p.Stop)

	return p
}

func push(t *testing.T, queue *detect.Queue, index int, at time.Time, value uint16) {
	t.Helper()
	if !queue.TryPush(sensor.Reading{
		Timestamp:   at,
		SensorIndex: index,
		ModuleIndex: sensor.ModuleOf(index),
		Side:        sensor.SideOf(index),
		Value:       value,
	}) {
		t.Fatal("test queue overflowed")
	}
}

// pushTransit feeds quiet samples then one A-to-B passage
func pushTransit(t *testing.T, queue *detect.Queue) {
	t.Helper()

	at := time.Now()
	for c := 0; c < 20; c++ {
		push(t, queue, 0, at, 10)
		push(t, queue, 1, at, 10)
		at = at.Add(time.Millisecond)
	}

	for _, s := range []struct {
		index  int
		offset time.Duration
		value  uint16
	}{
		{0, 0, 40},
		{0, 10 * time.Millisecond, 60},
		{1, 15 * time.Millisecond, 40},
		{0, 20 * time.Millisecond, 40},
		{1, 25 * time.Millisecond, 60},
		{0, 30 * time.Millisecond, 10},
		{1, 35 * time.Millisecond, 40},
		{1, 45 * time.Millisecond, 10},
	} {
		push(t, queue, s.index, at.Add(s.offset), s.value)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPipeline_ProcessesReadings(t *testing.T) {
	queue := detect.NewQueue(1024)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	at := time.Now()
	for i := 0; i < 10; i++ {
		push(t, queue, 0, at, 10)
		at = at.Add(time.Millisecond)
	}

	waitFor(t, 2*time.Second, func() bool {
		return p.Processed() == 10
	})

	if got := p.Stats().HistoryLen; got != 10 {
		t.Errorf("expected 10 readings in history, got %d", got)
	}
}

func TestPipeline_PublishesDetection(t *testing.T) {
	queue := detect.NewQueue(1024)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	if _, ok := p.Latest(); ok {
		t.Fatal("expected no detection initially")
	}

	pushTransit(t, queue)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := p.Latest()
		return ok
	})

	res, _ := p.Latest()
	if res.Direction != detect.DirectionAToB {
		t.Errorf("expected a_to_b, got %v", res.Direction)
	}
	if p.Detections() != 1 {
		t.Errorf("expected 1 detection, got %d", p.Detections())
	}
}

func TestPipeline_SubscriberReceivesDetection(t *testing.T) {
	queue := detect.NewQueue(1024)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	pushTransit(t, queue)

	select {
	case res := <-sub:
		if res.Direction != detect.DirectionAToB {
			t.Errorf("expected a_to_b, got %v", res.Direction)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the detection")
	}
}

func TestPipeline_QueueResetClearsState(t *testing.T) {
	queue := detect.NewQueue(1024)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	at := time.Now()
	for i := 0; i < 10; i++ {
		push(t, queue, 0, at, 10)
		at = at.Add(time.Millisecond)
	}
	waitFor(t, 2*time.Second, func() bool {
		return p.Stats().HistoryLen == 10
	})

	queue.Reset()

	// The consumer notices the generation change and drops derived state
	waitFor(t, 2*time.Second, func() bool {
		return p.Stats().HistoryLen == 0
	})
}

func TestPipeline_SensorStates(t *testing.T) {
	queue := detect.NewQueue(64)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	states := p.SensorStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 sensor states, got %d", len(states))
	}
}

func TestPipeline_StatsShape(t *testing.T) {
	queue := detect.NewQueue(64)
	p := startPipeline(t, queue, detect.NewEngine(testDetectConfig()))

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	stats := p.Stats()
	if stats.SubscriberCount != 1 {
		t.Errorf("expected 1 subscriber, got %d", stats.SubscriberCount)
	}
	if stats.LastDirection != "" {
		t.Errorf("expected empty last direction before any detection, got %q", stats.LastDirection)
	}
}

func TestPipeline_StopClosesSubscribers(t *testing.T) {
	queue := detect.NewQueue(64)
	p := New(queue, detect.NewEngine(testDetectConfig()), DefaultConfig(), slog.Default())

	go p.Run(context.Background())
	sub := p.Subscribe()

	p.Stop()

	select {
	case _, open := <-sub:
		if open {
			t.Error("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed on stop")
	}
}
