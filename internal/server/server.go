// Package server provides the HTTP/WebSocket telemetry surface for go-passage
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ringlab/go-passage/internal/config"
	"github.com/ringlab/go-passage/internal/health"
	"github.com/ringlab/go-passage/internal/pipeline"
	"github.com/ringlab/go-passage/internal/sampling"
)

// Server is the HTTP server for go-passage
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	pipeline  *pipeline.Pipeline
	producer  *sampling.Producer
	checker   *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, pl *pipeline.Pipeline, prod *sampling.Producer, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-passage",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		pipeline:  pl,
		producer:  prod,
		checker:   checker,
		logger:    logger,
		wsHub:     NewWSHub(pl, logger),
		startTime: time.Now(),
		version:   version,
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	detections := api.Group("/detections")
	detections.Get("/latest", s.latestHandler)
	detections.Get("/stream", s.wsHub.UpgradeHandler())

	// Per-sensor telemetry (thresholds, baselines, wave states)
	api.Get("/sensors", s.sensorsHandler)

	// Recent reading history snapshot
	api.Get("/history", s.historyHandler)

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.checker == nil {
		return c.JSON(fiber.Map{
			"status":         "ok",
			"version":        s.version,
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		})
	}

	status := s.checker.GetStatus()
	code := 200
	if status.Status != "ok" {
		code = 207
	}
	return c.Status(code).JSON(status)
}

// latestHandler returns the most recent detection result
func (s *Server) latestHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "pipeline not available",
		})
	}

	res, ok := s.pipeline.Latest()
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "no detection yet",
		})
	}

	return c.JSON(res)
}

// sensorsHandler returns per-sensor tracker telemetry
func (s *Server) sensorsHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "pipeline not available",
		})
	}

	states := s.pipeline.SensorStates()
	if states == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "detector does not expose sensor state",
		})
	}

	return c.JSON(fiber.Map{"sensors": states})
}

// historyHandler returns a snapshot of the recent reading history
func (s *Server) historyHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "pipeline not available",
		})
	}

	snapshot := s.pipeline.Snapshot()
	return c.JSON(fiber.Map{
		"count":    len(snapshot),
		"readings": snapshot,
	})
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
		},
	})
}

// statsHandler returns pipeline and producer statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).JSON(fiber.Map{
			"error": "pipeline not available",
		})
	}

	out := fiber.Map{
		"pipeline": s.pipeline.Stats(),
	}
	if s.producer != nil {
		out["producer"] = s.producer.Stats()
	}

	return c.JSON(out)
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.pipeline == nil {
		return c.Status(503).SendString("# no pipeline available\n")
	}

	pstats := s.pipeline.Stats()

	var cycles, reads, readErrors, dropped uint64
	sourceHealthy := 0
	if s.producer != nil {
		ps := s.producer.Stats()
		cycles = ps.Cycles
		reads = ps.Reads
		dropped = ps.QueueDropped
		for _, e := range ps.SensorErrors {
			readErrors += e
		}
		if ps.SourceHealthy {
			sourceHealthy = 1
		}
	}

	metrics := fmt.Sprintf(`# HELP go_passage_readings_processed_total Readings consumed by the detection pipeline
# TYPE go_passage_readings_processed_total counter
go_passage_readings_processed_total %d

# HELP go_passage_detections_total Transit detections produced
# TYPE go_passage_detections_total counter
go_passage_detections_total %d

# HELP go_passage_queue_len Readings currently queued between producer and consumer
# TYPE go_passage_queue_len gauge
go_passage_queue_len %d

# HELP go_passage_queue_dropped_total Readings dropped by the full hand-off queue
# TYPE go_passage_queue_dropped_total counter
go_passage_queue_dropped_total %d

# HELP go_passage_sampling_cycles_total Sampling cycles completed
# TYPE go_passage_sampling_cycles_total counter
go_passage_sampling_cycles_total %d

# HELP go_passage_sensor_reads_total Successful sensor reads
# TYPE go_passage_sensor_reads_total counter
go_passage_sensor_reads_total %d

# HELP go_passage_sensor_read_errors_total Failed sensor reads
# TYPE go_passage_sensor_read_errors_total counter
go_passage_sensor_read_errors_total %d

# HELP go_passage_source_healthy Sensor source health (1=healthy, 0=unhealthy)
# TYPE go_passage_source_healthy gauge
go_passage_source_healthy %d

# HELP go_passage_uptime_seconds Server uptime in seconds
# TYPE go_passage_uptime_seconds gauge
go_passage_uptime_seconds %d

# HELP go_passage_websocket_clients Current WebSocket client count
# TYPE go_passage_websocket_clients gauge
go_passage_websocket_clients %d
`,
		pstats.Processed,
		pstats.Detections,
		pstats.QueueLen,
		dropped,
		cycles,
		reads,
		readErrors,
		sourceHealthy,
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	s.wsHub.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
