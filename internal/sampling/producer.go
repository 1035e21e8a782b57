// Package sampling runs the fixed-cadence producer that reads the whole
// sensor ring once per cycle and hands readings off to the detection context.
package sampling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/sensor"
)

// ProducerConfig configures the sampling loop
type ProducerConfig struct {
	Interval time.Duration // Target cycle period (1ms for 1kHz-class sampling)
}

// DefaultProducerConfig returns sensible defaults
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Interval: time.Millisecond,
	}
}

// Producer is the latency-critical sampling context. Each cycle captures one
// shared timestamp, reads every sensor, and pushes readings into the queue.
// It never blocks on the queue and a single sensor failure is never fatal.
type Producer struct {
	source sensor.Source
	queue  *detect.Queue
	cfg    ProducerConfig
	logger *slog.Logger

	mu        sync.Mutex
	cycles    uint64
	reads     uint64
	errors    []uint64 // per-sensor read failures
	successes []uint64 // per-sensor successful reads

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProducer creates a producer for the given source and queue
func NewProducer(source sensor.Source, queue *detect.Queue, cfg ProducerConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}

	n := source.SensorCount()

	return &Producer{
		source:    source,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
		errors:    make([]uint64, n),
		successes: make([]uint64, n),
		done:      make(chan struct{}),
	}
}

// Run starts the sampling loop (blocking, use goroutine). Pin this goroutine's
// context to its own core where the platform allows it; nothing downstream is
// permitted to delay it.
func (p *Producer) Run(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("sampling producer started",
		"interval", p.cfg.Interval,
		"sensors", p.source.SensorCount(),
		"source", p.source.Name(),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sampling producer stopped",
				"cycles", p.Cycles(),
				"dropped", p.queue.Dropped(),
			)
			return ctx.Err()
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle reads all sensors once under one shared timestamp
func (p *Producer) cycle(ctx context.Context) {
	cycleTs := time.Now()
	n := p.source.SensorCount()

	p.mu.Lock()
	p.cycles++
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		value, err := p.source.ReadProximity(ctx, i)
		if err != nil {
			p.mu.Lock()
			p.errors[i]++
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		p.successes[i]++
		p.reads++
		p.mu.Unlock()

		p.queue.TryPush(sensor.Reading{
			Timestamp:   cycleTs,
			SensorIndex: i,
			ModuleIndex: sensor.ModuleOf(i),
			Side:        sensor.SideOf(i),
			Value:       value,
		})
	}
}

// Cycles returns the number of completed sampling cycles
func (p *Producer) Cycles() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	errors := make([]uint64, len(p.errors))
	copy(errors, p.errors)
	successes := make([]uint64, len(p.successes))
	copy(successes, p.successes)

	return ProducerStats{
		Cycles:        p.cycles,
		Reads:         p.reads,
		SensorErrors:  errors,
		SensorReads:   successes,
		QueueDropped:  p.queue.Dropped(),
		QueuePushed:   p.queue.Pushed(),
		SourceHealthy: p.source.Healthy(),
	}
}

// ProducerStats contains producer statistics
type ProducerStats struct {
	Cycles        uint64   `json:"cycles"`
	Reads         uint64   `json:"reads"`
	SensorErrors  []uint64 `json:"sensor_errors"`
	SensorReads   []uint64 `json:"sensor_reads"`
	QueueDropped  uint64   `json:"queue_dropped"`
	QueuePushed   uint64   `json:"queue_pushed"`
	SourceHealthy bool     `json:"source_healthy"`
}

// Stop stops the producer gracefully
func (p *Producer) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}
