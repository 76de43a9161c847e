// Package main runs a camhal capture session against the simulated
// pipeline: it configures a preview stream, submits a burst of
// requests, and prints the results. With the monitor enabled the
// session is observable at http://localhost:<port>/ while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/config"
	"github.com/camstack/camhal/health"
	"github.com/camstack/camhal/metric"
	"github.com/camstack/camhal/monitor"
	"github.com/camstack/camhal/pipeline/sim"
	"github.com/camstack/camhal/pkg/retry"
	"github.com/camstack/camhal/request"
	"github.com/camstack/camhal/trace"
)

const version = "0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("session failed", "error", err)
		os.Exit(1)
	}
}

// hostCallbacks stands in for the camera framework: it counts results
// and logs errors the way a host would surface them.
type hostCallbacks struct {
	logger *slog.Logger

	mu        sync.Mutex
	completed int
	errors    int
	done      chan struct{}
	want      int
}

func newHostCallbacks(logger *slog.Logger, want int) *hostCallbacks {
	return &hostCallbacks{
		logger: logger,
		done:   make(chan struct{}),
		want:   want,
	}
}

func (h *hostCallbacks) ProcessCaptureResult(result *camera3.CaptureResult) {
	if len(result.OutputBuffers) == 0 {
		return
	}
	h.mu.Lock()
	h.completed++
	n := h.completed
	h.mu.Unlock()

	h.logger.Debug("buffer result",
		"frame", result.FrameNumber,
		"buffers", len(result.OutputBuffers))
	if n == h.want {
		close(h.done)
	}
}

func (h *hostCallbacks) Notify(msg *camera3.NotifyMessage) {
	if msg.Type == camera3.MessageError {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
		h.logger.Warn("error notification", "code", msg.ErrorCode.String(), "frame", msg.FrameNumber)
	}
}

// teeTracer fans trace points out to the NATS publisher and the
// monitor event stream.
type teeTracer struct {
	tracers []request.Tracer
}

func (t *teeTracer) RequestSubmitted(frameNumber uint32) {
	for _, tr := range t.tracers {
		tr.RequestSubmitted(frameNumber)
	}
}

func (t *teeTracer) RequestCompleted(frameNumber uint32) {
	for _, tr := range t.tracers {
		tr.RequestCompleted(frameNumber)
	}
}

func (t *teeTracer) DeviceError() {
	for _, tr := range t.tracers {
		tr.DeviceError()
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	frames := flag.Int("frames", 60, "number of preview frames to capture")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)
	logger.Info("camhal starting", "version", version, "camera", cfg.Camera.ID)

	platform := capability.Default()
	if cfg.Camera.PlatformFile != "" {
		platform, err = capability.Load(cfg.Camera.PlatformFile)
		if err != nil {
			return err
		}
	}
	if err := capability.Init(platform, nil); err != nil {
		return err
	}
	defer capability.Teardown()

	registry := metric.NewMetricsRegistry()
	healthMon := health.NewMonitor()

	tracers := make([]request.Tracer, 0, 2)

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(monitor.ServerDeps{
			Port:     cfg.Monitor.Port,
			CameraID: cfg.Camera.ID,
			Registry: registry,
			Health:   healthMon,
			Logger:   logger,
		})
		go func() {
			if err := mon.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer func() { _ = mon.Stop() }()
		tracers = append(tracers, mon)
		logger.Info("monitor listening", "address", mon.Address())
	}

	if cfg.NATS.URL != "" {
		var nc *nats.Conn
		err := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
			var dialErr error
			nc, dialErr = nats.Connect(cfg.NATS.URL, nats.Name(cfg.NATS.Name))
			return dialErr
		})
		if err != nil {
			// Tracing is best-effort; the session runs without it.
			logger.Warn("nats connect failed, tracing disabled", "error", err)
		} else {
			defer nc.Close()
			tracer := trace.New(nc, cfg.Camera.ID, logger)
			tracers = append(tracers, tracer)
			logger.Info("trace publishing enabled", "session", tracer.SessionID())
		}
	}

	pipe := sim.New(sim.DefaultConfig())
	mgr, err := request.NewManager(request.ManagerDeps{
		Pipeline: pipe,
		Platform: platform,
		CameraID: cfg.Camera.ID,
		Logger:   logger,
		Metrics:  registry.CoreMetrics(),
		Tracer:   &teeTracer{tracers: tracers},
	})
	if err != nil {
		return err
	}

	callbacks := newHostCallbacks(logger, *frames)
	if err := mgr.Init(callbacks); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Deinit(); err != nil {
			logger.Warn("deinit failed", "error", err)
		}
	}()
	healthMon.UpdateHealthy("request-manager", "initialized")

	preview := &camera3.Stream{
		ID:     1,
		Type:   camera3.StreamOutput,
		Width:  1280,
		Height: 720,
		Format: camera3.FormatNV12,
	}
	if err := mgr.ConfigureStreams(&camera3.StreamConfiguration{
		Streams: []*camera3.Stream{preview},
	}); err != nil {
		return err
	}
	healthMon.UpdateHealthy("pipeline", "configured")
	logger.Info("stream configured", "stream", preview.String(), "max_buffers", preview.MaxBuffers)

	settings, err := mgr.DefaultRequestSettings(camera3.TemplatePreview)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	start := time.Now()
	for i := 0; i < *frames; i++ {
		select {
		case <-sigCh:
			logger.Info("interrupted, flushing")
			return mgr.Flush()
		default:
		}

		req := &camera3.CaptureRequest{
			FrameNumber: uint32(i),
			OutputBuffers: []camera3.StreamBuffer{{
				Stream: preview,
				Buffer: &camera3.Buffer{
					ID:     uint64(i + 1),
					Data:   make([]byte, preview.Width*preview.Height*3/2),
					Width:  preview.Width,
					Height: preview.Height,
					Format: preview.Format,
				},
			}},
		}
		if i == 0 {
			req.Settings = settings
		}
		if err := mgr.Process(req); err != nil {
			return err
		}
	}

	select {
	case <-callbacks.done:
	case <-sigCh:
		logger.Info("interrupted, flushing")
	case <-time.After(30 * time.Second):
		callbacks.mu.Lock()
		n := callbacks.completed
		callbacks.mu.Unlock()
		logger.Warn("timed out waiting for results", "completed", n)
	}

	if err := mgr.Flush(); err != nil {
		return err
	}

	callbacks.mu.Lock()
	completed, errCount := callbacks.completed, callbacks.errors
	callbacks.mu.Unlock()
	logger.Info("session finished",
		"frames", completed,
		"errors", errCount,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
