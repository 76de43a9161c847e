package request

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/metric"
	"github.com/camstack/camhal/pipeline"
	"github.com/camstack/camhal/postproc"
	"github.com/camstack/camhal/stream"
)

const (
	// backPressureWait bounds one admission wait. On expiry the manager
	// logs and re-checks; requests are never rejected for back-pressure.
	backPressureWait = 2 * time.Second

	// flushPoll and flushDeadline drive the flush() polling loop.
	flushPoll     = 10 * time.Millisecond
	flushDeadline = time.Second

	// engineStopTimeout bounds per-engine worker joins during reconfigure.
	engineStopTimeout = 2 * time.Second
)

// Tracer receives frame lifecycle trace points. Optional.
type Tracer interface {
	RequestSubmitted(frameNumber uint32)
	RequestCompleted(frameNumber uint32)
	DeviceError()
}

// ManagerDeps bundles the manager's collaborators.
type ManagerDeps struct {
	Pipeline pipeline.Pipeline
	Platform capability.Platform
	CameraID int
	Caps     postproc.Capabilities
	Logger   *slog.Logger
	Metrics  *metric.Metrics
	Tracer   Tracer
}

// Manager owns the pipeline session: it admits capture requests under
// back-pressure, dispatches buffers to the per-stream engines, relays
// pipeline events to the result processor, and serves default settings.
type Manager struct {
	pipe     pipeline.Pipeline
	platform capability.Platform
	cameraID int
	caps     postproc.Capabilities
	logger   *slog.Logger
	metrics  *metric.Metrics
	tracer   Tracer

	chars *capability.Characteristics
	proc  *Processor

	// Configure-time state, replaced wholesale by ConfigureStreams.
	cfgMu          sync.Mutex
	classification *stream.Classification
	engines        []*stream.Engine
	engineByStream map[int]*stream.Engine // client stream ID -> servicing engine
	maxInFlight    int
	configured     bool
	started        bool

	templateMu sync.Mutex
	templates  map[camera3.RequestTemplate]*camera3.Metadata

	settingsMu   sync.Mutex
	lastSettings *camera3.Metadata

	admitMu  sync.Mutex
	admitCh  chan struct{}
	inFlight int

	frameMu      sync.Mutex
	frameEngines map[uint32][]*stream.Engine

	reprocessMu     sync.Mutex
	reprocessChains map[int]*postproc.Chain // output stream ID -> chain

	initialized atomic.Bool
	deviceDead  atomic.Bool
}

// NewManager builds an uninitialized manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Pipeline == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Manager", "NewManager", "pipeline check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pipe:            deps.Pipeline,
		platform:        deps.Platform,
		cameraID:        deps.CameraID,
		caps:            deps.Caps,
		logger:          logger.With("component", "requestmanager", "camera", deps.CameraID),
		metrics:         deps.Metrics,
		tracer:          deps.Tracer,
		templates:       make(map[camera3.RequestTemplate]*camera3.Metadata),
		admitCh:         make(chan struct{}),
		frameEngines:    make(map[uint32][]*stream.Engine),
		reprocessChains: make(map[int]*postproc.Chain),
	}, nil
}

// Init binds the host callbacks and brings up the session scaffolding:
// static capability lookup, pipeline open, result processor start.
func (m *Manager) Init(callbacks camera3.Callbacks) error {
	if m.initialized.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Init", "double init")
	}

	chars, err := capability.Get(m.cameraID)
	if err != nil {
		return errors.WrapFatal(err, "Manager", "Init", "static capability retrieval")
	}
	m.chars = chars

	if err := m.pipe.Open(m.cameraID); err != nil {
		return errors.WrapFatal(err, "Manager", "Init", "pipeline open")
	}

	proc, err := NewProcessor(ProcessorDeps{
		Callbacks:    callbacks,
		PartialCount: m.platform.PartialResultCount,
		ZSLCacheSize: m.platform.MaxRawBuffers - m.platform.MaxInFlight,
		OnComplete:   m.onRequestComplete,
		Params:       m.pipe.GetParameters,
		Logger:       m.logger,
		Metrics:      m.metrics,
		CameraID:     m.cameraID,
	})
	if err != nil {
		return err
	}
	if err := proc.Start(context.Background()); err != nil {
		return err
	}
	m.proc = proc

	m.pipe.SetEventHandler(m)
	m.initialized.Store(true)
	if m.metrics != nil {
		m.metrics.RecordPipelineState(1)
	}
	return nil
}

// ConfigureStreams validates the host stream set, selects pipeline streams,
// and rebuilds the engine layer. A running pipeline is stopped first, which
// drains in-flight requests.
func (m *Manager) ConfigureStreams(cfg *camera3.StreamConfiguration) error {
	if !m.initialized.Load() {
		return errors.WrapFatal(errors.ErrNotInitialized, "Manager", "ConfigureStreams", "init check")
	}

	classification, err := stream.Classify(cfg, m.platform)
	if err != nil {
		return err
	}

	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	if m.started {
		if err := m.pipe.Stop(); err != nil {
			return errors.WrapFatal(err, "Manager", "ConfigureStreams", "pipeline stop")
		}
		m.started = false
	}
	for _, e := range m.engines {
		if err := e.Stop(engineStopTimeout); err != nil {
			m.logger.Warn("engine stop timed out", "engine", e.Stream().ID, "error", err)
		}
	}

	// Announce buffer counts to the host before activating engines.
	producers := make([]*camera3.Stream, 0, len(classification.Pipeline))
	for _, b := range classification.Pipeline {
		if b.Producer.IsOpaqueRaw() {
			b.Producer.MaxBuffers = m.platform.MaxRawBuffers
		} else {
			b.Producer.MaxBuffers = m.platform.MaxInFlight
		}
		for _, l := range b.Listeners {
			l.MaxBuffers = b.Producer.MaxBuffers
		}
		producers = append(producers, b.Producer)
	}

	if err := m.pipe.Configure(producers); err != nil {
		return errors.WrapFatal(err, "Manager", "ConfigureStreams", "pipeline configure")
	}

	engines := make([]*stream.Engine, 0, len(classification.Pipeline))
	byStream := make(map[int]*stream.Engine)
	for _, b := range classification.Pipeline {
		e, err := stream.NewEngine(stream.EngineDeps{
			Pipeline: m.pipe,
			Binding:  b,
			Platform: m.platform,
			Sink:     m.proc,
			Caps:     m.caps,
			Logger:   m.logger,
			Metrics:  m.metrics,
		})
		if err != nil {
			return err
		}
		if err := e.Start(); err != nil {
			return err
		}
		engines = append(engines, e)
		byStream[b.Producer.ID] = e
		for _, l := range b.Listeners {
			byStream[l.ID] = e
		}
	}

	m.classification = classification
	m.engines = engines
	m.engineByStream = byStream
	m.maxInFlight = classification.Pipeline[0].Producer.MaxBuffers
	m.configured = true

	m.reprocessMu.Lock()
	m.reprocessChains = make(map[int]*postproc.Chain)
	m.reprocessMu.Unlock()

	m.logger.Info("streams configured",
		"pipeline_streams", len(classification.Pipeline),
		"inputs", len(classification.Inputs))
	return nil
}

// DefaultRequestSettings returns the cached settings for a template,
// constructing them on first use.
func (m *Manager) DefaultRequestSettings(t camera3.RequestTemplate) (*camera3.Metadata, error) {
	if !m.initialized.Load() {
		return nil, errors.WrapFatal(errors.ErrNotInitialized, "Manager", "DefaultRequestSettings", "init check")
	}

	m.templateMu.Lock()
	defer m.templateMu.Unlock()

	if md, ok := m.templates[t]; ok {
		return md, nil
	}
	md, err := buildTemplate(t, m.chars)
	if err != nil {
		return nil, err
	}
	m.templates[t] = md
	return md, nil
}

// Process admits one capture request. Blocks under back-pressure; runtime
// failures after admission surface only as host notifications.
func (m *Manager) Process(req *camera3.CaptureRequest) error {
	if !m.initialized.Load() {
		return errors.WrapFatal(errors.ErrNotInitialized, "Manager", "Process", "init check")
	}
	if req == nil || len(req.OutputBuffers) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Manager", "Process", "request validation")
	}

	m.cfgMu.Lock()
	configured := m.configured
	m.cfgMu.Unlock()
	if !configured {
		return errors.WrapInvalid(
			fmt.Errorf("%w: no stream configuration", errors.ErrInvalidArgument),
			"Manager", "Process", "configuration check")
	}

	// After a device error the session is dead: accept the call but emit
	// nothing further.
	if m.deviceDead.Load() {
		m.logger.Warn("request ignored after device error", "frame", req.FrameNumber)
		return nil
	}

	for i := range req.OutputBuffers {
		if m.lookupEngine(req.OutputBuffers[i].Stream) == nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: stream %d not configured", errors.ErrInvalidArgument, req.OutputBuffers[i].Stream.ID),
				"Manager", "Process", "output stream check")
		}
	}

	settings, err := m.resolveSettings(req)
	if err != nil {
		return err
	}

	m.waitForAdmission(req.FrameNumber)

	if req.InputBuffer != nil {
		return m.processReprocess(req, settings)
	}
	return m.processCapture(req, settings)
}

// resolveSettings applies the sticky-settings rule: nil settings reuse the
// last submitted blob.
func (m *Manager) resolveSettings(req *camera3.CaptureRequest) (*camera3.Metadata, error) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	if req.Settings != nil {
		m.lastSettings = req.Settings.Clone()
	}
	if m.lastSettings == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: first request carries no settings", errors.ErrInvalidArgument),
			"Manager", "resolveSettings", "sticky settings")
	}
	return m.lastSettings.Clone(), nil
}

// waitForAdmission blocks until the in-flight count is under the limit and
// claims a slot. Wait timeouts log and re-check; admission is never denied.
func (m *Manager) waitForAdmission(frameNumber uint32) {
	wait := backPressureWait * time.Duration(max(m.platform.SlowlyRunRatio, 1))

	m.admitMu.Lock()
	for m.inFlight >= m.maxInFlight {
		ch := m.admitCh
		n := m.inFlight
		m.admitMu.Unlock()

		select {
		case <-ch:
		case <-time.After(wait):
			m.logger.Warn("back-pressure wait timed out, re-checking",
				"frame", frameNumber, "in_flight", n)
		}
		m.admitMu.Lock()
	}
	m.inFlight++
	if m.metrics != nil {
		m.metrics.RequestsInFlight.Set(float64(m.inFlight))
	}
	m.admitMu.Unlock()
}

// processCapture is the pipeline-driven path.
func (m *Manager) processCapture(req *camera3.CaptureRequest, settings *camera3.Metadata) error {
	if err := m.proc.RegisterRequest(req, settings); err != nil {
		m.releaseAdmission()
		return err
	}

	// Group output buffers by servicing engine.
	type engineWork struct {
		own       *camera3.StreamBuffer
		listeners map[int]*camera3.StreamBuffer
	}
	work := make(map[*stream.Engine]*engineWork)
	for i := range req.OutputBuffers {
		sb := req.OutputBuffers[i] // copy; the host slice stays untouched
		e := m.lookupEngine(sb.Stream)
		w, ok := work[e]
		if !ok {
			w = &engineWork{listeners: make(map[int]*camera3.StreamBuffer)}
			work[e] = w
		}
		if e.Stream().ID == sb.Stream.ID {
			w.own = &sb
		} else {
			w.listeners[sb.Stream.ID] = &sb
		}
	}

	var buffers []*pipeline.FrameBuffer
	var participants []*stream.Engine
	for e, w := range work {
		if err := e.Enqueue(req.FrameNumber, w.own, w.listeners); err != nil {
			m.releaseAdmission()
			return err
		}
		bufs, err := e.FetchRequestBuffers(req.FrameNumber)
		if err != nil {
			m.releaseAdmission()
			return errors.Wrap(err, "Manager", "Process", "buffer source selection")
		}
		buffers = append(buffers, bufs...)
		participants = append(participants, e)
	}

	m.frameMu.Lock()
	m.frameEngines[req.FrameNumber] = participants
	m.frameMu.Unlock()

	m.cfgMu.Lock()
	if !m.started {
		if err := m.pipe.Start(); err != nil {
			m.cfgMu.Unlock()
			m.releaseAdmission()
			return errors.WrapFatal(err, "Manager", "Process", "pipeline start")
		}
		m.started = true
		if m.metrics != nil {
			m.metrics.RecordPipelineState(2)
		}
	}
	m.cfgMu.Unlock()

	if err := m.pipe.QBuf(req.FrameNumber, buffers, settings); err != nil {
		// Admitted requests fail asynchronously only. Reclaim the pending
		// entries and pool borrows made for the frame before aborting it.
		m.logger.Error("pipeline submission failed", "frame", req.FrameNumber, "error", err)
		for _, e := range participants {
			e.AbandonFrame(req.FrameNumber)
		}
		m.frameMu.Lock()
		delete(m.frameEngines, req.FrameNumber)
		m.frameMu.Unlock()
		m.proc.FrameAborted(req.FrameNumber, err)
		return nil
	}

	if m.metrics != nil {
		m.metrics.RecordSubmitted(strconv.Itoa(m.cameraID))
	}
	if m.tracer != nil {
		m.tracer.RequestSubmitted(req.FrameNumber)
	}
	return nil
}

// processReprocess serves a ZSL reprocessing request: the input buffer is
// post-processed on the caller thread and results flow through the same
// dispatcher as pipeline frames.
func (m *Manager) processReprocess(req *camera3.CaptureRequest, settings *camera3.Metadata) error {
	ts, ok := settings.GetInt64(camera3.TagSensorTimestamp)
	if !ok {
		seq, haveSeq := settings.GetInt64(camera3.TagCaptureSequence)
		if !haveSeq {
			m.releaseAdmission()
			return errors.WrapInvalid(
				fmt.Errorf("%w: reprocessing request names no capture", errors.ErrInvalidArgument),
				"Manager", "Process", "reprocess validation")
		}
		var err error
		ts, err = m.proc.LookupZSL(seq)
		if err != nil {
			m.releaseAdmission()
			return err
		}
		settings.Set(camera3.TagSensorTimestamp, ts)
	}

	if err := m.proc.RegisterRequest(req, settings); err != nil {
		m.releaseAdmission()
		return err
	}

	if err := m.proc.ShutterDone(req.FrameNumber, ts); err != nil {
		m.logger.Error("reprocess shutter dispatch failed", "frame", req.FrameNumber, "error", err)
	}
	// nil params: metadata comes from the settings snapshot, and the 3A
	// machines are not stepped for replayed captures.
	if err := m.proc.MetadataDone(req.FrameNumber, nil); err != nil {
		m.logger.Error("reprocess metadata dispatch failed", "frame", req.FrameNumber, "error", err)
	}

	in := req.InputBuffer.Buffer
	seq, _ := settings.GetInt64(camera3.TagCaptureSequence)
	for i := range req.OutputBuffers {
		sb := req.OutputBuffers[i]
		chain, err := m.reprocessChain(in, sb.Stream)
		if err != nil {
			sb.Status = camera3.BufferStatusError
			m.logger.Error("reprocess chain build failed", "frame", req.FrameNumber, "error", err)
		} else if out, err := chain.Run(in.Data); err != nil {
			sb.Status = camera3.BufferStatusError
			m.logger.Error("reprocess failed", "frame", req.FrameNumber, "error", err)
		} else {
			sb.Buffer.Data = out
		}
		m.proc.BufferDone(req.FrameNumber, &sb, ts, seq)
	}

	if m.metrics != nil {
		m.metrics.RecordSubmitted(strconv.Itoa(m.cameraID))
	}
	if m.tracer != nil {
		m.tracer.RequestSubmitted(req.FrameNumber)
	}
	return nil
}

// reprocessChain returns the cached input-to-output chain for one output
// stream. The opaque RAW payload carries the pipeline's working layout.
func (m *Manager) reprocessChain(in *camera3.Buffer, out *camera3.Stream) (*postproc.Chain, error) {
	m.reprocessMu.Lock()
	defer m.reprocessMu.Unlock()

	if c, ok := m.reprocessChains[out.ID]; ok {
		return c, nil
	}
	desc := postproc.Descriptor{Width: in.Width, Height: in.Height, Format: camera3.FormatNV12}
	c, err := postproc.Build(desc, out, m.caps, m.logger)
	if err != nil {
		return nil, err
	}
	m.reprocessChains[out.ID] = c
	return c, nil
}

// Flush waits for in-flight requests to drain, polling every 10 ms for up
// to one second. In-flight requests are never cancelled.
func (m *Manager) Flush() error {
	deadline := time.Now().Add(flushDeadline * time.Duration(max(m.platform.SlowlyRunRatio, 1)))
	for {
		m.admitMu.Lock()
		n := m.inFlight
		m.admitMu.Unlock()
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.WrapTransient(
				fmt.Errorf("%w: %d requests in flight", errors.ErrFlushTimeout, n),
				"Manager", "Flush", "drain wait")
		}
		time.Sleep(flushPoll)
	}
}

// Deinit tears the session down: engines, result processor, pipeline.
func (m *Manager) Deinit() error {
	if !m.initialized.Load() {
		return nil
	}
	m.initialized.Store(false)

	m.cfgMu.Lock()
	engines := m.engines
	m.engines = nil
	m.configured = false
	started := m.started
	m.started = false
	m.cfgMu.Unlock()

	for _, e := range engines {
		if err := e.Stop(engineStopTimeout); err != nil {
			m.logger.Warn("engine stop timed out during deinit", "engine", e.Stream().ID)
		}
	}
	if m.proc != nil {
		if err := m.proc.Stop(engineStopTimeout); err != nil {
			m.logger.Warn("result processor stop timed out", "error", err)
		}
	}
	if started {
		if err := m.pipe.Stop(); err != nil {
			m.logger.Warn("pipeline stop failed", "error", err)
		}
	}
	if err := m.pipe.Close(m.cameraID); err != nil {
		return errors.Wrap(err, "Manager", "Deinit", "pipeline close")
	}
	if m.metrics != nil {
		m.metrics.RecordPipelineState(0)
	}
	return nil
}

// InFlight returns the live request count.
func (m *Manager) InFlight() int {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()
	return m.inFlight
}

// OnPipelineEvent relays pipeline notifications. Runs on the pipeline
// callback thread; everything here only enqueues.
func (m *Manager) OnPipelineEvent(ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventIPCError:
		m.deviceDead.Store(true)
		if m.metrics != nil {
			m.metrics.RecordPipelineState(3)
		}
		if m.tracer != nil {
			m.tracer.DeviceError()
		}
		if err := m.proc.DeviceError(); err != nil {
			m.logger.Error("device error dispatch failed", "error", err)
		}

	case pipeline.EventBufferReady:
		if err := m.proc.ShutterDone(ev.FrameNumber, ev.Timestamp); err != nil {
			m.logger.Error("shutter dispatch failed", "frame", ev.FrameNumber, "error", err)
		}
		if err := m.proc.MetadataReady(ev.FrameNumber, ev.Sequence); err != nil {
			m.logger.Error("metadata dispatch failed", "frame", ev.FrameNumber, "error", err)
		}

		m.frameMu.Lock()
		participants := m.frameEngines[ev.FrameNumber]
		delete(m.frameEngines, ev.FrameNumber)
		m.frameMu.Unlock()

		m.cfgMu.Lock()
		engines := m.engines
		m.cfgMu.Unlock()
		for _, e := range engines {
			e.NotifySOF(ev.FrameNumber)
		}
		for _, e := range participants {
			if err := e.QueueBufferDone(ev.FrameNumber); err != nil {
				m.logger.Error("engine wakeup failed",
					"frame", ev.FrameNumber, "engine", e.Stream().ID, "error", err)
			}
		}
	}
}

// lookupEngine resolves the engine servicing a client stream.
func (m *Manager) lookupEngine(s *camera3.Stream) *stream.Engine {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.engineByStream[s.ID]
}

// releaseAdmission undoes a claimed in-flight slot after a synchronous
// submission failure.
func (m *Manager) releaseAdmission() {
	m.admitMu.Lock()
	m.inFlight--
	close(m.admitCh)
	m.admitCh = make(chan struct{})
	if m.metrics != nil {
		m.metrics.RequestsInFlight.Set(float64(m.inFlight))
	}
	m.admitMu.Unlock()
}

// onRequestComplete runs on the dispatcher goroutine for every terminal
// request.
func (m *Manager) onRequestComplete(frameNumber uint32) {
	m.releaseAdmission()
	if m.tracer != nil {
		m.tracer.RequestCompleted(frameNumber)
	}
}
