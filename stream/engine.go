package stream

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/metric"
	"github.com/camstack/camhal/pipeline"
	"github.com/camstack/camhal/pkg/buffer"
	"github.com/camstack/camhal/postproc"
)

// Sink receives per-frame deliveries from stream engines. Implemented by
// the result processor.
type Sink interface {
	// BufferDone returns one filled client buffer for a frame. Sequence and
	// timestamp feed the ZSL cache for opaque RAW streams.
	BufferDone(frameNumber uint32, sb *camera3.StreamBuffer, timestamp int64, sequence int64)

	// FrameAborted reports a frame whose buffers cannot be delivered. The
	// request is left incomplete and times out on flush.
	FrameAborted(frameNumber uint32, err error)
}

// pendingRequest tracks what the host asked of this engine for one frame.
type pendingRequest struct {
	own       *camera3.StreamBuffer
	listeners map[int]*camera3.StreamBuffer

	// src is the buffer submitted to the pipeline for this frame; fromPool
	// marks it as a pool borrow that must be returned.
	src      *pipeline.FrameBuffer
	fromPool bool
}

func (p *pendingRequest) requesters() int {
	n := len(p.listeners)
	if p.own != nil {
		n++
	}
	return n
}

// EngineDeps bundles what an engine needs at construction.
type EngineDeps struct {
	Pipeline pipeline.Pipeline
	Binding  *Binding
	Platform capability.Platform
	Sink     Sink
	Caps     postproc.Capabilities
	Logger   *slog.Logger
	Metrics  *metric.Metrics
}

// Engine owns the buffer flow for one pipeline stream and its listeners.
// One worker goroutine services the engine; per-stream delivery order
// therefore matches submission order.
type Engine struct {
	pipe     pipeline.Pipeline
	producer *camera3.Stream
	platform capability.Platform
	sink     Sink
	logger   *slog.Logger
	metrics  *metric.Metrics

	ownChain       *postproc.Chain
	listenerChains map[int]*postproc.Chain

	pool *Pool
	work buffer.Queue[uint32]

	mu      sync.Mutex
	pending map[uint32]*pendingRequest

	sofMu    sync.Mutex
	sofFrame uint32
	sofSeen  bool
	sofCh    chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
	runMu  sync.Mutex
	run    bool
}

// NewEngine builds the engine for one binding: a buffer pool sized to the
// producer's max-buffers and one post-processing chain per serviced stream.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Pipeline == nil || deps.Binding == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Engine", "NewEngine", "dependency check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	producer := deps.Binding.Producer
	logger = logger.With("engine", producer.ID)

	poolSize := producer.MaxBuffers
	if poolSize < 1 {
		poolSize = deps.Platform.MaxInFlight
	}
	pool, err := NewPool(producer, poolSize)
	if err != nil {
		return nil, err
	}

	work, err := buffer.NewQueue[uint32](poolSize * 4)
	if err != nil {
		return nil, errors.WrapFatal(err, "Engine", "NewEngine", "work queue")
	}

	e := &Engine{
		pipe:           deps.Pipeline,
		producer:       producer,
		platform:       deps.Platform,
		sink:           deps.Sink,
		logger:         logger,
		metrics:        deps.Metrics,
		listenerChains: make(map[int]*postproc.Chain, len(deps.Binding.Listeners)),
		pool:           pool,
		work:           work,
		pending:        make(map[uint32]*pendingRequest),
		sofCh:          make(chan struct{}),
	}

	// Opaque RAW passes through untouched; everything else gets a chain
	// from the pipeline-produced layout to the client layout.
	if !producer.IsOpaqueRaw() {
		in := pipelineDescriptor(producer)
		e.ownChain, err = postproc.Build(in, producer, deps.Caps, logger)
		if err != nil {
			return nil, err
		}
		for _, l := range deps.Binding.Listeners {
			chain, err := postproc.Build(in, l, deps.Caps, logger)
			if err != nil {
				return nil, err
			}
			e.listenerChains[l.ID] = chain
		}
	} else if len(deps.Binding.Listeners) > 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: listeners on opaque RAW stream %d", errors.ErrUnsupportedFormat, producer.ID),
			"Engine", "NewEngine", "listener check")
	}

	return e, nil
}

// pipelineDescriptor is the layout the pipeline actually produces for a
// client stream: NV12 at the stream's dimensions. BLOB streams get NV12
// frames that the chain encodes.
func pipelineDescriptor(s *camera3.Stream) postproc.Descriptor {
	return postproc.Descriptor{Width: s.Width, Height: s.Height, Format: camera3.FormatNV12}
}

// Stream returns the producer stream this engine drives.
func (e *Engine) Stream() *camera3.Stream {
	return e.producer
}

// PoolStats exposes pool conservation counters.
func (e *Engine) PoolStats() (acquired, released uint64, outstanding int) {
	a, r := e.pool.Stats()
	return a, r, e.pool.Outstanding()
}

// Start launches the worker loop.
func (e *Engine) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.run {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "worker start")
	}
	e.stopCh = make(chan struct{})
	e.run = true
	e.wg.Add(1)
	go e.worker(e.stopCh)
	return nil
}

// Stop halts the worker and abandons pending frames. Bounded by timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.runMu.Lock()
	if !e.run {
		e.runMu.Unlock()
		return nil
	}
	e.run = false
	close(e.stopCh)
	e.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("engine %d worker still running", e.producer.ID),
			"Engine", "Stop", "worker join")
	}

	e.mu.Lock()
	e.pending = make(map[uint32]*pendingRequest)
	e.mu.Unlock()
	return nil
}

// Enqueue registers the host's buffers for one frame. own is the client
// buffer bound to the producer stream, nil when the producer itself was not
// requested. listeners maps listener stream ID to its client buffer.
func (e *Engine) Enqueue(frameNumber uint32, own *camera3.StreamBuffer, listeners map[int]*camera3.StreamBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[frameNumber]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("frame %d already enqueued", frameNumber),
			"Engine", "Enqueue", "frame registration")
	}
	e.pending[frameNumber] = &pendingRequest{own: own, listeners: listeners}
	return nil
}

// FetchRequestBuffers selects the pipeline target buffer for a frame:
// the client buffer directly when exactly one compatible requester exists,
// otherwise a pool borrow. Returns nil when nothing requested the frame.
func (e *Engine) FetchRequestBuffers(frameNumber uint32) ([]*pipeline.FrameBuffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[frameNumber]
	if !ok || p.requesters() == 0 {
		delete(e.pending, frameNumber)
		return nil, nil
	}

	if p.requesters() == 1 {
		sb, chain := p.own, e.ownChain
		if sb == nil {
			for id, l := range p.listeners {
				sb, chain = l, e.listenerChains[id]
			}
		}
		if e.clientBufferUsable(sb, chain) {
			p.src = &pipeline.FrameBuffer{
				ID:       sb.Buffer.ID,
				StreamID: e.producer.ID,
				Data:     sb.Buffer.Data,
				Width:    e.producer.Width,
				Height:   e.producer.Height,
				FourCC:   camera3.V4L2Format(e.producer.Format, e.producer.Usage),
			}
			return []*pipeline.FrameBuffer{p.src}, nil
		}
	}

	fb, err := e.pool.Acquire()
	if err != nil {
		return nil, err
	}
	p.src = fb
	p.fromPool = true
	return []*pipeline.FrameBuffer{fb}, nil
}

// clientBufferUsable reports whether the pipeline can write straight into
// the client buffer: matching layout and no post-processing configured on
// the requester's chain.
func (e *Engine) clientBufferUsable(sb *camera3.StreamBuffer, chain *postproc.Chain) bool {
	if sb.Buffer == nil || len(sb.Buffer.Data) == 0 {
		return false
	}
	if !chain.Empty() {
		return false
	}
	return camera3.LayoutCompatible(
		sb.Stream.Format, sb.Stream.Usage,
		e.producer.Format, e.producer.Usage)
}

// AbandonFrame drops the pending entry for a frame and returns any pool
// borrow made for it. Called when pipeline submission fails after buffer
// selection; keeps pool conservation exact across aborts.
func (e *Engine) AbandonFrame(frameNumber uint32) {
	e.mu.Lock()
	p, ok := e.pending[frameNumber]
	if ok {
		delete(e.pending, frameNumber)
	}
	e.mu.Unlock()

	if ok && p.fromPool && p.src != nil {
		if err := e.pool.Release(p.src); err != nil {
			e.logger.Error("pool release failed on abandon", "frame", frameNumber, "error", err)
		}
	}
}

// QueueBufferDone wakes the worker: a capture result for this stream is
// ready to dequeue.
func (e *Engine) QueueBufferDone(frameNumber uint32) error {
	return errors.Wrap(e.work.Push(frameNumber), "Engine", "QueueBufferDone", "work queue push")
}

// NotifySOF records a start-of-frame event and wakes any alignment wait.
func (e *Engine) NotifySOF(frameNumber uint32) {
	e.sofMu.Lock()
	if !e.sofSeen || frameNumber > e.sofFrame {
		e.sofFrame = frameNumber
		e.sofSeen = true
	}
	close(e.sofCh)
	e.sofCh = make(chan struct{})
	e.sofMu.Unlock()
}

func (e *Engine) worker(stopCh chan struct{}) {
	defer e.wg.Done()
	for {
		frame, ok := e.work.PopWait(stopCh)
		if !ok {
			return
		}
		e.processFrame(frame, stopCh)
	}
}

func (e *Engine) processFrame(frame uint32, stopCh chan struct{}) {
	fb, params, err := e.pipe.DQBuf(e.producer.ID)
	if err != nil {
		// Skip this frame; it times out on flush.
		e.logger.Warn("dequeue failed", "frame", frame, "error", err)
		return
	}

	e.mu.Lock()
	p, ok := e.pending[params.FrameNumber]
	if ok {
		delete(e.pending, params.FrameNumber)
	}
	e.mu.Unlock()

	if !ok || p.src == nil || p.src.ID != fb.ID {
		err := errors.WrapFatal(
			fmt.Errorf("%w: frame %d buffer %d", errors.ErrNoBufferSource, params.FrameNumber, fb.ID),
			"Engine", "processFrame", "buffer reconciliation")
		e.logger.Error("buffer reconciliation failed", "frame", params.FrameNumber, "error", err)
		e.sink.FrameAborted(params.FrameNumber, err)
		return
	}

	// Align post-processing CPU work with the ISP idle window.
	if e.needsProcessing(p) && e.platform.SOFAlignment {
		if !e.waitSOF(params.FrameNumber, stopCh) {
			e.logger.Warn("start-of-frame wait timed out", "frame", params.FrameNumber)
		}
	}

	if p.own != nil {
		e.deliverOwn(p, fb, params)
	}
	for id, sb := range p.listeners {
		e.deliverListener(e.listenerChains[id], sb, fb, params, p.fromPool)
	}

	if p.fromPool {
		if err := e.pool.Release(fb); err != nil {
			e.logger.Error("pool release failed", "frame", params.FrameNumber, "error", err)
		}
	}
}

// needsProcessing reports whether any requester of this frame has a
// post-processing chain.
func (e *Engine) needsProcessing(p *pendingRequest) bool {
	if p.own != nil && !e.ownChain.Empty() {
		return true
	}
	for id := range p.listeners {
		if !e.listenerChains[id].Empty() {
			return true
		}
	}
	return false
}

func (e *Engine) deliverOwn(p *pendingRequest, fb *pipeline.FrameBuffer, params *pipeline.Params) {
	sb := p.own
	if e.producer.IsOpaqueRaw() || e.ownChain.Empty() {
		// Pipeline wrote into the client buffer, or a plain copy suffices.
		if p.fromPool {
			sb.Buffer.Data = append(sb.Buffer.Data[:0], fb.Data...)
		}
	} else {
		out, err := e.ownChain.Run(fb.Data)
		if err != nil {
			e.logger.Error("post-processing failed", "frame", params.FrameNumber, "error", err)
			sb.Status = camera3.BufferStatusError
		} else {
			sb.Buffer.Data = out
		}
	}
	e.emit(params, sb)
}

func (e *Engine) deliverListener(chain *postproc.Chain, sb *camera3.StreamBuffer, fb *pipeline.FrameBuffer, params *pipeline.Params, fromPool bool) {
	if chain.Empty() {
		// Pipeline wrote into the client buffer, or a plain copy suffices.
		if fromPool {
			sb.Buffer.Data = append(sb.Buffer.Data[:0], fb.Data...)
		}
	} else if out, err := chain.Run(fb.Data); err != nil {
		e.logger.Error("listener post-processing failed",
			"frame", params.FrameNumber, "listener", sb.Stream.ID, "error", err)
		sb.Status = camera3.BufferStatusError
	} else {
		sb.Buffer.Data = out
	}
	e.emit(params, sb)
}

func (e *Engine) emit(params *pipeline.Params, sb *camera3.StreamBuffer) {
	if e.metrics != nil {
		e.metrics.RecordBufferReturned(strconv.Itoa(sb.Stream.ID))
	}
	e.sink.BufferDone(params.FrameNumber, sb, params.Timestamp, params.Sequence)
}

// waitSOF blocks until a start-of-frame at or past the frame has been seen,
// bounded by the platform timeout scaled by the slow-run ratio.
func (e *Engine) waitSOF(frame uint32, stopCh chan struct{}) bool {
	timeout := e.platform.SOFTimeout * time.Duration(e.platform.SlowlyRunRatio)
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.sofMu.Lock()
		if e.sofSeen && e.sofFrame >= frame {
			e.sofMu.Unlock()
			return true
		}
		ch := e.sofCh
		e.sofMu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return false
		case <-stopCh:
			return false
		}
	}
}
