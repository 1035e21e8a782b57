// go-passage: transit direction detection daemon for a ring of paired
// proximity sensors. Samples the ring at high fixed frequency, detects
// which way an object passed through, and serves results over HTTP/WS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringlab/go-passage/internal/config"
	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/health"
	"github.com/ringlab/go-passage/internal/pipeline"
	"github.com/ringlab/go-passage/internal/sampling"
	"github.com/ringlab/go-passage/internal/sensor"
	"github.com/ringlab/go-passage/internal/server"
	"github.com/ringlab/go-passage/internal/uplink"
)

var (
	version     = "1.0.0"
	configPath  = flag.String("config", "/etc/go-passage/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock sensor source (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-passage %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-passage",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize sensor source
	sensorCount := cfg.Sensors.Modules * 2

	var source sensor.Source
	if *useMock {
		logger.Info("using mock sensor source")
		source = sensor.NewMockSourceWithTransit(sensorCount)
	} else {
		logger.Info("initializing sensor source")
		source = sensor.NewSourceWithFallback(logger, sensorCount)
	}
	defer source.Close()

	logger.Info("sensor source ready",
		"type", source.Name(),
		"sensors", source.SensorCount(),
		"healthy", source.Healthy(),
	)

	// Build the detection engine from config
	detectCfg := detect.Config{
		Modules:            cfg.Sensors.Modules,
		SmoothingWindow:    cfg.Detection.SmoothingWindow,
		MinRise:            cfg.Detection.MinRise,
		PeakMultiplier:     cfg.Detection.PeakMultiplier,
		MaxPeakGap:         time.Duration(cfg.Detection.MaxPeakGapMs) * time.Millisecond,
		MaxWaveDuration:    time.Duration(cfg.Detection.MaxWaveDurationMs) * time.Millisecond,
		BaselineWindowSize: cfg.Detection.BaselineWindowSize,
		Cooldown:           time.Duration(cfg.Detection.CooldownMs) * time.Millisecond,
	}

	detector, err := detect.NewDetector(cfg.Detection.Detector, detectCfg)
	if err != nil {
		logger.Error("invalid detector configuration", "error", err)
		os.Exit(1)
	}

	// Producer and consumer share nothing but the bounded queue
	queue := detect.NewQueue(cfg.Sampling.QueueSize)

	producer := sampling.NewProducer(source, queue, sampling.ProducerConfig{
		Interval: time.Second / time.Duration(cfg.Sampling.RateHz),
	}, logger)

	pl := pipeline.New(queue, detector, pipeline.Config{
		DrainInterval: time.Duration(cfg.Sampling.DrainIntervalMs) * time.Millisecond,
		HistorySize:   cfg.Sampling.HistorySize,
	}, logger)

	go func() {
		if err := producer.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("producer error", "error", err)
		}
	}()

	go func() {
		if err := pl.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Optional results uplink
	var up *uplink.Client
	if cfg.Uplink.URL != "" {
		up = uplink.NewClient(uplink.Config{
			URL:              cfg.Uplink.URL,
			ReconnectBackoff: cfg.Uplink.ReconnectBackoff,
			MaxBackoff:       cfg.Uplink.MaxBackoff,
			PingInterval:     cfg.Uplink.PingInterval,
			WriteTimeout:     cfg.Uplink.WriteTimeout,
		}, logger)

		if err := up.Connect(ctx); err != nil {
			logger.Warn("uplink connect failed", "error", err)
		}

		// Forward detections upstream as they arrive
		detections := pl.Subscribe()
		go func() {
			for res := range detections {
				if err := up.PublishDetection(res); err != nil {
					logger.Debug("uplink publish failed", "error", err)
				}
			}
		}()
	}

	// Health probes
	checker := health.NewChecker(version)
	checker.Register("source", func() (bool, string) {
		if source.Healthy() {
			return true, ""
		}
		return false, "sensor source unhealthy"
	})
	checker.Register("queue", func() (bool, string) {
		if dropped := queue.Dropped(); dropped > 0 {
			return true, fmt.Sprintf("%d readings dropped", dropped)
		}
		return true, ""
	})
	if up != nil {
		checker.Register("uplink", func() (bool, string) {
			if up.IsConnected() {
				return true, ""
			}
			return false, "uplink disconnected"
		})
	}

	// HTTP/WebSocket telemetry surface
	srv := server.New(cfg.Server, pl, producer, checker, logger, version)

	go srv.WSHub().Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> producer -> pipeline -> uplink
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping producer...")
	producer.Stop()

	logger.Info("stopping pipeline...")
	pl.Stop()

	if up != nil {
		up.Close()
	}

	logger.Info("go-passage stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("go-passage v" + version)
	fmt.Println("   Transit direction detection for paired proximity sensor rings")
	fmt.Println()
	fmt.Printf("Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health                 - Health check")
	fmt.Println("   GET  /api/detections/latest  - Most recent detection")
	fmt.Println("   WS   /api/detections/stream  - Real-time detection stream")
	fmt.Println("   GET  /api/sensors            - Per-sensor thresholds and wave state")
	fmt.Println("   GET  /api/stats              - Pipeline statistics")
	fmt.Println("   GET  /metrics                - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
