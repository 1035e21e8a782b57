// Package pipeline runs the detection consumer loop: it drains the hand-off
// queue, feeds the configured detector, and fans out results.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/sensor"
)

// Config configures the consumer loop
type Config struct {
	DrainInterval time.Duration // How often the queue is drained
	HistorySize   int           // Capacity of the recent-readings ring
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DrainInterval: 5 * time.Millisecond,
		HistorySize:   2000,
	}
}

// Pipeline owns the detection context. All detector state is mutated only
// here; the producer side shares nothing but the queue.
type Pipeline struct {
	queue    *detect.Queue
	detector detect.Detector
	history  *detect.History
	cfg      Config
	logger   *slog.Logger

	mu             sync.RWMutex
	latest         *detect.Result
	processed      uint64
	detections     uint64
	lastGeneration uint64

	cancel context.CancelFunc
	done   chan struct{}

	// Subscribers for detection results
	subsMu sync.RWMutex
	subs   map[chan detect.Result]struct{}
}

// New creates a pipeline draining queue into detector
func New(queue *detect.Queue, detector detect.Detector, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		queue:    queue,
		detector: detector,
		history:  detect.NewHistory(cfg.HistorySize),
		cfg:      cfg,
		logger:   logger,
		done:     make(chan struct{}),
		subs:     make(map[chan detect.Result]struct{}),
	}
}

// Run starts the consumer loop (blocking, use goroutine)
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	p.logger.Info("pipeline started",
		"drain_interval", p.cfg.DrainInterval,
		"history_size", p.cfg.HistorySize,
	)

	buf := make([]sensor.Reading, 0, 256)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped",
				"processed", p.Processed(),
				"detections", p.Detections(),
			)
			return ctx.Err()
		case <-ticker.C:
			buf = p.drain(buf[:0])
		}
	}
}

// drain empties the queue, feeds the detector, and publishes any result
func (p *Pipeline) drain(buf []sensor.Reading) []sensor.Reading {
	// An externally reset queue invalidates all transient detector state
	if gen := p.queue.Generation(); gen != p.lastGeneration {
		p.logger.Warn("queue reset detected, resetting detector",
			"generation", gen,
		)
		p.lastGeneration = gen
		p.detector.Reset()
		p.history.Reset()
	}

	buf = p.queue.Drain(buf)
	for _, r := range buf {
		p.history.Append(r)
		p.detector.ProcessReading(r)
	}

	p.mu.Lock()
	p.processed += uint64(len(buf))
	p.mu.Unlock()

	if p.detector.HasDetection() {
		if res, ok := p.detector.ConsumeResult(); ok {
			p.publish(res)
		}
	}

	return buf
}

func (p *Pipeline) publish(res detect.Result) {
	p.mu.Lock()
	p.latest = &res
	p.detections++
	p.mu.Unlock()

	p.logger.Info("transit detected",
		"id", res.ID,
		"direction", res.Direction.String(),
		"confidence", res.Confidence,
		"module", res.ContributingModule,
		"com_gap_ms", res.COMGapMs,
	)

	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	for ch := range p.subs {
		select {
		case ch <- res:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives detection results
func (p *Pipeline) Subscribe() chan detect.Result {
	ch := make(chan detect.Result, 8)

	p.subsMu.Lock()
	p.subs[ch] = struct{}{}
	p.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (p *Pipeline) Unsubscribe(ch chan detect.Result) {
	p.subsMu.Lock()
	if _, exists := p.subs[ch]; exists {
		delete(p.subs, ch)
		close(ch)
	}
	p.subsMu.Unlock()
}

// Latest returns the most recent detection result, if any
func (p *Pipeline) Latest() (detect.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return detect.Result{}, false
	}
	return *p.latest, true
}

// SensorStates returns per-sensor telemetry when the detector exposes it
func (p *Pipeline) SensorStates() []detect.SensorState {
	if reporter, ok := p.detector.(detect.StateReporter); ok {
		return reporter.SensorStates()
	}
	return nil
}

// Snapshot copies out the recent reading history
func (p *Pipeline) Snapshot() []sensor.Reading {
	return p.history.Snapshot()
}

// Processed returns the number of readings consumed
func (p *Pipeline) Processed() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processed
}

// Detections returns the number of results produced
func (p *Pipeline) Detections() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.detections
}

// Stats returns pipeline statistics
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var lastDirection string
	var lastDetectedAt time.Time
	if p.latest != nil {
		lastDirection = p.latest.Direction.String()
		lastDetectedAt = p.latest.DetectedAt
	}

	return Stats{
		Processed:       p.processed,
		Detections:      p.detections,
		QueueLen:        p.queue.Len(),
		QueueDropped:    p.queue.Dropped(),
		HistoryLen:      p.history.Len(),
		SubscriberCount: p.subscriberCount(),
		LastDirection:   lastDirection,
		LastDetectedAt:  lastDetectedAt,
	}
}

func (p *Pipeline) subscriberCount() int {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	return len(p.subs)
}

// Stats contains pipeline statistics
type Stats struct {
	Processed       uint64    `json:"processed"`
	Detections      uint64    `json:"detections"`
	QueueLen        int       `json:"queue_len"`
	QueueDropped    uint64    `json:"queue_dropped"`
	HistoryLen      int       `json:"history_len"`
	SubscriberCount int       `json:"subscriber_count"`
	LastDirection   string    `json:"last_direction,omitempty"`
	LastDetectedAt  time.Time `json:"last_detected_at,omitempty"`
}

// Stop stops the pipeline gracefully
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	// Close all subscriber channels
	p.subsMu.Lock()
	for ch := range p.subs {
		close(ch)
		delete(p.subs, ch)
	}
	p.subsMu.Unlock()
}
