// Package request implements the request lifecycle layer of the HAL core:
// the result processor that aggregates asynchronous pipeline notifications
// into ordered host callbacks, and the request manager that admits requests,
// drives the pipeline session, and owns everything below it.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/metric"
	"github.com/camstack/camhal/pipeline"
	"github.com/camstack/camhal/pkg/worker"
	"github.com/camstack/camhal/threea"
)

// eventKind discriminates dispatcher work items.
type eventKind int

const (
	evShutter eventKind = iota
	evMetadata
	evBuffer
	evAborted
	evDeviceError
)

// event is one pipeline notification serialized through the dispatcher.
type event struct {
	kind        eventKind
	frameNumber uint32
	timestamp   int64
	sequence    int64
	params      *pipeline.Params
	fetchParams bool
	buffer      *camera3.StreamBuffer
	err         error
}

// requestState aggregates the per-frame completion bookkeeping. Owned by
// the dispatcher; only the dispatcher goroutine touches it after creation.
type requestState struct {
	frameNumber uint32

	shutterEmitted   bool
	shutterTimestamp int64
	partialReturned  int
	partialExpected  int
	buffersReturned  int
	buffersExpected  int

	// Submission-order predecessor, for cross-frame metadata ordering.
	prevFrame uint32
	hasPrev   bool

	metadataReleased bool
	deferredParams   *pipeline.Params
	pendingBuffers   []camera3.StreamBuffer
	inputBuffer      *camera3.StreamBuffer

	// settings is the sticky-settings snapshot taken at registration.
	settings *camera3.Metadata

	submittedAt time.Time
}

func (s *requestState) complete() bool {
	return s.shutterEmitted &&
		s.partialReturned == s.partialExpected &&
		s.buffersReturned == s.buffersExpected
}

// zslEntry maps a capture sequence to its sensor timestamp.
type zslEntry struct {
	sequence  int64
	timestamp int64
}

// CompletionFunc is invoked on the dispatcher goroutine when a request
// reaches terminal state.
type CompletionFunc func(frameNumber uint32)

// ParamsFetch resolves a capture sequence to its pipeline parameters. Runs
// on the dispatcher goroutine, keeping the lookup off callback threads.
type ParamsFetch func(sequence int64) (*pipeline.Params, error)

// ProcessorDeps bundles the result processor's collaborators.
type ProcessorDeps struct {
	Callbacks     camera3.Callbacks
	PartialCount  int
	ZSLCacheSize  int
	OnComplete    CompletionFunc
	Params        ParamsFetch
	Logger        *slog.Logger
	Metrics       *metric.Metrics
	CameraID      int
	DispatchDepth int
}

// Processor aggregates shutter, metadata, and buffer notifications per
// request and emits host callbacks in the contract order. A single-worker
// pool serializes all event handling, so per-frame state needs no locking
// beyond the registration map.
type Processor struct {
	callbacks    camera3.Callbacks
	partialCount int
	onComplete   CompletionFunc
	fetchParams  ParamsFetch
	logger       *slog.Logger
	metrics      *metric.Metrics
	camera       string

	dispatcher *worker.Pool[event]

	mu     sync.Mutex
	states map[uint32]*requestState
	// lastRegistered is the predecessor for the next registration.
	lastRegistered uint32
	haveRegistered bool
	// deferred lists frames whose metadata waits on a predecessor, in
	// submission order.
	deferred []uint32

	machines threea.Machines

	zslMu    sync.Mutex
	zslCache []zslEntry
	zslCap   int
}

// NewProcessor builds the result processor. Start must be called before
// any notification arrives.
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Callbacks == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Processor", "NewProcessor", "callback check")
	}
	if deps.PartialCount < 1 {
		deps.PartialCount = 1
	}
	if deps.ZSLCacheSize < 1 {
		deps.ZSLCacheSize = 1
	}
	if deps.DispatchDepth < 1 {
		deps.DispatchDepth = 256
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		callbacks:    deps.Callbacks,
		partialCount: deps.PartialCount,
		onComplete:   deps.OnComplete,
		fetchParams:  deps.Params,
		logger:       logger.With("component", "resultprocessor"),
		metrics:      deps.Metrics,
		camera:       strconv.Itoa(deps.CameraID),
		states:       make(map[uint32]*requestState),
		zslCap:       deps.ZSLCacheSize,
	}
	// workers == 1: pipeline notifications are handled strictly in FIFO
	// order, which the cross-frame ordering logic relies on.
	p.dispatcher = worker.NewPool[event](1, deps.DispatchDepth, p.handle)
	return p, nil
}

// Start launches the dispatcher.
func (p *Processor) Start(ctx context.Context) error {
	return errors.Wrap(p.dispatcher.Start(ctx), "Processor", "Start", "dispatcher start")
}

// Stop drains the dispatcher. Unreleased request states are dropped.
func (p *Processor) Stop(timeout time.Duration) error {
	err := p.dispatcher.Stop(timeout)

	p.mu.Lock()
	p.states = make(map[uint32]*requestState)
	p.deferred = nil
	p.haveRegistered = false
	p.mu.Unlock()
	return errors.Wrap(err, "Processor", "Stop", "dispatcher stop")
}

// RegisterRequest allocates the per-frame state before submission.
// settings must already be the sticky-resolved snapshot.
func (p *Processor) RegisterRequest(req *camera3.CaptureRequest, settings *camera3.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.states[req.FrameNumber]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("frame %d already registered", req.FrameNumber),
			"Processor", "RegisterRequest", "frame registration")
	}

	s := &requestState{
		frameNumber:     req.FrameNumber,
		partialExpected: p.partialCount,
		buffersExpected: len(req.OutputBuffers),
		inputBuffer:     req.InputBuffer,
		settings:        settings.Clone(),
		submittedAt:     time.Now(),
	}
	if req.InputBuffer != nil {
		s.buffersExpected++
	}
	if p.haveRegistered {
		s.prevFrame = p.lastRegistered
		s.hasPrev = true
	}
	p.lastRegistered = req.FrameNumber
	p.haveRegistered = true
	p.states[req.FrameNumber] = s
	return nil
}

// ShutterDone posts a start-of-exposure notification.
func (p *Processor) ShutterDone(frameNumber uint32, timestamp int64) error {
	return p.submit(event{kind: evShutter, frameNumber: frameNumber, timestamp: timestamp})
}

// MetadataDone posts the per-frame pipeline parameters for translation.
func (p *Processor) MetadataDone(frameNumber uint32, params *pipeline.Params) error {
	return p.submit(event{kind: evMetadata, frameNumber: frameNumber, params: params})
}

// MetadataReady posts a metadata notification by capture sequence. The
// parameter lookup runs on the dispatcher goroutine, so callback threads
// only enqueue.
func (p *Processor) MetadataReady(frameNumber uint32, sequence int64) error {
	return p.submit(event{kind: evMetadata, frameNumber: frameNumber, sequence: sequence, fetchParams: true})
}

// BufferDone returns one filled buffer. Implements the stream engine sink.
func (p *Processor) BufferDone(frameNumber uint32, sb *camera3.StreamBuffer, timestamp, sequence int64) {
	if err := p.submit(event{
		kind:        evBuffer,
		frameNumber: frameNumber,
		timestamp:   timestamp,
		sequence:    sequence,
		buffer:      sb,
	}); err != nil {
		p.logger.Error("buffer event dropped", "frame", frameNumber, "error", err)
	}
}

// FrameAborted marks a frame undeliverable. Implements the stream engine
// sink. The frame terminates with an ERROR_REQUEST notification.
func (p *Processor) FrameAborted(frameNumber uint32, err error) {
	if serr := p.submit(event{kind: evAborted, frameNumber: frameNumber, err: err}); serr != nil {
		p.logger.Error("abort event dropped", "frame", frameNumber, "error", serr)
	}
}

// DeviceError posts a fatal session-wide error notification.
func (p *Processor) DeviceError() error {
	return p.submit(event{kind: evDeviceError})
}

func (p *Processor) submit(ev event) error {
	return errors.Wrap(p.dispatcher.Submit(ev), "Processor", "submit", "dispatch queue push")
}

// RecordZSL caches a (sequence, timestamp) pair from an opaque RAW capture.
func (p *Processor) RecordZSL(sequence, timestamp int64) {
	p.zslMu.Lock()
	defer p.zslMu.Unlock()
	p.zslCache = append(p.zslCache, zslEntry{sequence: sequence, timestamp: timestamp})
	if len(p.zslCache) > p.zslCap {
		p.zslCache = p.zslCache[len(p.zslCache)-p.zslCap:]
	}
}

// LookupZSL resolves a reprocessing sequence to its captured timestamp.
// A sequence that has aged out of the cache falls back to the oldest entry.
func (p *Processor) LookupZSL(sequence int64) (int64, error) {
	p.zslMu.Lock()
	defer p.zslMu.Unlock()

	for _, e := range p.zslCache {
		if e.sequence == sequence {
			return e.timestamp, nil
		}
	}
	if len(p.zslCache) > 0 {
		oldest := p.zslCache[0]
		p.logger.Warn("reprocessing sequence aged out, using oldest capture",
			"requested", sequence, "fallback", oldest.sequence)
		return oldest.timestamp, nil
	}
	return 0, errors.WrapInvalid(
		fmt.Errorf("%w: sequence %d", errors.ErrSequenceNotCached, sequence),
		"Processor", "LookupZSL", "cache lookup")
}

// handle runs on the single dispatcher worker.
func (p *Processor) handle(_ context.Context, ev event) error {
	switch ev.kind {
	case evShutter:
		p.handleShutter(ev)
	case evMetadata:
		p.handleMetadata(ev)
	case evBuffer:
		p.handleBuffer(ev)
	case evAborted:
		p.handleAborted(ev)
	case evDeviceError:
		p.notifyError(camera3.ErrorDevice, 0, nil)
	}
	return nil
}

func (p *Processor) lookup(frameNumber uint32) *requestState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[frameNumber]
}

func (p *Processor) handleShutter(ev event) {
	s := p.lookup(ev.frameNumber)
	if s == nil {
		p.logger.Warn("shutter for unknown frame", "frame", ev.frameNumber)
		return
	}
	if s.shutterEmitted {
		return
	}

	ts := ev.timestamp
	// Reprocessing requests report the original capture time carried in
	// their settings, not the pipeline-provided value.
	if s.inputBuffer != nil {
		if v, ok := s.settings.GetInt64(camera3.TagSensorTimestamp); ok {
			ts = v
		}
	}

	s.shutterEmitted = true
	s.shutterTimestamp = ts
	p.callbacks.Notify(&camera3.NotifyMessage{
		Type:        camera3.MessageShutter,
		FrameNumber: ev.frameNumber,
		Timestamp:   ts,
	})
	p.finishIfComplete(s)
}

func (p *Processor) handleMetadata(ev event) {
	s := p.lookup(ev.frameNumber)
	if s == nil {
		p.logger.Warn("metadata for unknown frame", "frame", ev.frameNumber)
		return
	}
	if s.metadataReleased {
		return
	}

	params := ev.params
	if ev.fetchParams {
		if p.fetchParams == nil {
			params = nil
		} else if fetched, err := p.fetchParams(ev.sequence); err != nil {
			p.logger.Error("parameter fetch failed", "frame", ev.frameNumber, "error", err)
			params = nil
		} else {
			params = fetched
		}
	}

	if !p.predecessorReleased(s) {
		// Defer until the predecessor's metadata goes out; release order
		// must match submission order.
		s.deferredParams = params
		p.mu.Lock()
		p.deferred = append(p.deferred, ev.frameNumber)
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.MetadataReordered.Inc()
		}
		return
	}

	p.releaseMetadata(s, params)
	p.drainDeferred()
}

// predecessorReleased reports whether the submission-order predecessor has
// already released its metadata. A predecessor with no live state has
// completed, which implies release.
func (p *Processor) predecessorReleased(s *requestState) bool {
	if !s.hasPrev {
		return true
	}
	p.mu.Lock()
	prev, ok := p.states[s.prevFrame]
	p.mu.Unlock()
	if !ok {
		return true
	}
	return prev.metadataReleased
}

// releaseMetadata translates parameters, applies 3A state, and emits all
// partial results for the frame, then flushes buffers held for ordering.
func (p *Processor) releaseMetadata(s *requestState, params *pipeline.Params) {
	md := s.settings.Clone()
	if params != nil {
		md.Set(camera3.TagSensorTimestamp, params.Timestamp)
		in := threea.Input{
			Controls: threea.ControlsFromMetadata(s.settings),
			Convergence: threea.Convergence{
				AE:  params.AEConverged,
				AF:  params.AFConverged,
				AWB: params.AWBConverged,
			},
			Frame: threea.Frame{Number: params.FrameNumber, Timestamp: params.Timestamp},
		}
		p.machines.ApplyToMetadata(in, md)
	} else if s.shutterTimestamp != 0 {
		md.Set(camera3.TagSensorTimestamp, s.shutterTimestamp)
	}
	md.Set(camera3.TagRequestPartialResultCount, p.partialCount)

	for i := 1; i <= s.partialExpected; i++ {
		p.callbacks.ProcessCaptureResult(&camera3.CaptureResult{
			FrameNumber:   s.frameNumber,
			Metadata:      md,
			PartialResult: i,
		})
		s.partialReturned++
	}
	s.metadataReleased = true

	for i := range s.pendingBuffers {
		p.emitBuffer(s, &s.pendingBuffers[i])
	}
	s.pendingBuffers = nil

	p.finishIfComplete(s)
}

// drainDeferred releases queued frames from the front while their
// predecessors have released.
func (p *Processor) drainDeferred() {
	for {
		released := false

		p.mu.Lock()
		queue := make([]uint32, len(p.deferred))
		copy(queue, p.deferred)
		p.mu.Unlock()

		for i, frame := range queue {
			s := p.lookup(frame)
			if s == nil || s.metadataReleased {
				p.removeDeferred(i)
				released = true
				break
			}
			if !p.predecessorReleased(s) {
				continue
			}
			p.removeDeferred(i)
			p.releaseMetadata(s, s.deferredParams)
			released = true
			break
		}

		if !released {
			return
		}
	}
}

func (p *Processor) removeDeferred(idx int) {
	p.mu.Lock()
	if idx < len(p.deferred) {
		p.deferred = append(p.deferred[:idx], p.deferred[idx+1:]...)
	}
	p.mu.Unlock()
}

func (p *Processor) handleBuffer(ev event) {
	s := p.lookup(ev.frameNumber)
	if s == nil {
		p.logger.Warn("buffer for unknown frame", "frame", ev.frameNumber)
		return
	}

	if ev.buffer.Stream.IsOpaqueRaw() {
		p.RecordZSL(ev.sequence, ev.timestamp)
	}

	// Buffers go out after the frame's metadata to preserve the
	// shutter-metadata-buffer order within a request.
	if !s.metadataReleased {
		s.pendingBuffers = append(s.pendingBuffers, *ev.buffer)
		return
	}
	p.emitBuffer(s, ev.buffer)
	p.finishIfComplete(s)
}

func (p *Processor) emitBuffer(s *requestState, sb *camera3.StreamBuffer) {
	result := &camera3.CaptureResult{
		FrameNumber:   s.frameNumber,
		OutputBuffers: []camera3.StreamBuffer{*sb},
	}
	s.buffersReturned++

	// The input buffer rides back with the final output buffer.
	if s.inputBuffer != nil && s.buffersReturned == s.buffersExpected-1 {
		result.InputBuffer = s.inputBuffer
		s.buffersReturned++
	}
	p.callbacks.ProcessCaptureResult(result)
}

func (p *Processor) handleAborted(ev event) {
	p.logger.Error("frame aborted", "frame", ev.frameNumber, "error", ev.err)
	p.notifyError(camera3.ErrorRequest, ev.frameNumber, nil)

	p.mu.Lock()
	s, ok := p.states[ev.frameNumber]
	if ok {
		delete(p.states, ev.frameNumber)
	}
	p.mu.Unlock()

	if ok {
		// Pretend release so successors are not wedged behind the abort.
		s.metadataReleased = true
		if p.metrics != nil {
			p.metrics.RecordCompleted(p.camera, "aborted")
		}
		if p.onComplete != nil {
			p.onComplete(ev.frameNumber)
		}
		p.drainDeferred()
	}
}

func (p *Processor) notifyError(code camera3.ErrorCode, frame uint32, stream *camera3.Stream) {
	if p.metrics != nil {
		p.metrics.RecordNotifyError(p.camera, code.String())
	}
	p.callbacks.Notify(&camera3.NotifyMessage{
		Type:        camera3.MessageError,
		FrameNumber: frame,
		ErrorCode:   code,
		ErrorStream: stream,
	})
}

// finishIfComplete releases terminal request state and notifies the owner.
func (p *Processor) finishIfComplete(s *requestState) {
	if !s.complete() {
		return
	}

	p.mu.Lock()
	delete(p.states, s.frameNumber)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordCompleted(p.camera, "ok")
		p.metrics.RecordFrameDuration(time.Since(s.submittedAt))
	}
	if p.onComplete != nil {
		p.onComplete(s.frameNumber)
	}
}
