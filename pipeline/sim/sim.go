// Package sim provides a deterministic in-process imaging pipeline used by
// the test suite and the demo binary. Frames are produced in QBuf order with
// monotonically increasing sequences and timestamps, 3A convergence after a
// configurable warm-up, and per-stream blocking dequeue.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/pipeline"
)

// Config tunes the simulated pipeline.
type Config struct {
	// FrameInterval is the simulated sensor frame period. Also the spacing
	// between consecutive frame timestamps.
	FrameInterval time.Duration

	// ConvergeAfter is the number of frames before AE/AF/AWB report
	// convergence.
	ConvergeAfter int

	// BaseTimestamp is the timestamp of the first frame, nanoseconds.
	BaseTimestamp int64

	// QueueDepth bounds the number of frames queued but not yet produced.
	QueueDepth int
}

// DefaultConfig returns settings suitable for tests: fast frames,
// convergence after three frames.
func DefaultConfig() Config {
	return Config{
		FrameInterval: 2 * time.Millisecond,
		ConvergeAfter: 3,
		BaseTimestamp: 1_000_000_000,
		QueueDepth:    64,
	}
}

type job struct {
	frameNumber uint32
	buffers     []*pipeline.FrameBuffer
	settings    *camera3.Metadata
}

type readyBuf struct {
	buf    *pipeline.FrameBuffer
	params *pipeline.Params
}

// Pipeline is the simulated imaging pipeline.
type Pipeline struct {
	cfg Config

	mu       sync.Mutex
	opened   bool
	running  bool
	streams  map[int]*camera3.Stream
	handler  pipeline.EventHandler
	work     chan job
	ready    map[int]chan readyBuf
	params   map[int64]*pipeline.Params
	seq      int64
	frameIdx int64
	broken   bool // after injected IPC error
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

// New creates a simulated pipeline.
func New(cfg Config) *Pipeline {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 2 * time.Millisecond
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Pipeline{
		cfg:    cfg,
		params: make(map[int64]*pipeline.Params),
	}
}

// Open acquires the simulated device.
func (p *Pipeline) Open(cameraID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "sim", "Open", "device open")
	}
	if cameraID < 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "sim", "Open", "camera id check")
	}
	p.opened = true
	return nil
}

// Close releases the simulated device.
func (p *Pipeline) Close(_ int) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		if err := p.Stop(); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.opened = false
	p.mu.Unlock()
	return nil
}

// Configure applies the selected pipeline streams.
func (p *Pipeline) Configure(streams []*camera3.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return errors.WrapInvalid(errors.ErrNotStarted, "sim", "Configure", "device not open")
	}
	if p.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "sim", "Configure", "configure while streaming")
	}
	if len(streams) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "sim", "Configure", "empty stream set")
	}

	p.streams = make(map[int]*camera3.Stream, len(streams))
	p.ready = make(map[int]chan readyBuf, len(streams))
	for _, s := range streams {
		if s.Width <= 0 || s.Height <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("bad dimensions %dx%d for stream %d", s.Width, s.Height, s.ID),
				"sim", "Configure", "stream validation")
		}
		p.streams[s.ID] = s
		p.ready[s.ID] = make(chan readyBuf, p.cfg.QueueDepth)
	}
	return nil
}

// Start begins producing frames for queued buffers.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "sim", "Start", "start")
	}
	if len(p.streams) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "sim", "Start", "no streams configured")
	}

	p.work = make(chan job, p.cfg.QueueDepth)
	p.stopCh = make(chan struct{})
	p.broken = false
	p.running = true

	p.wg.Add(1)
	go p.produce(p.work, p.stopCh)
	return nil
}

// Stop halts streaming. Queued but unproduced frames are dropped.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	work := p.work
	p.mu.Unlock()

	close(work)
	p.wg.Wait()
	return nil
}

// QBuf submits target buffers plus settings for one frame.
func (p *Pipeline) QBuf(frameNumber uint32, buffers []*pipeline.FrameBuffer, settings *camera3.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return errors.WrapInvalid(errors.ErrNotStarted, "sim", "QBuf", "queue buffer")
	}
	if p.broken {
		return errors.WrapFatal(errors.ErrDeviceError, "sim", "QBuf", "queue buffer after IPC error")
	}
	for _, b := range buffers {
		if _, ok := p.streams[b.StreamID]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("stream %d not configured", b.StreamID),
				"sim", "QBuf", "stream lookup")
		}
	}

	select {
	case p.work <- job{frameNumber: frameNumber, buffers: buffers, settings: settings.Clone()}:
		return nil
	default:
		return errors.WrapTransient(errors.ErrQueueFull, "sim", "QBuf", "frame queue")
	}
}

// DQBuf blocks until a buffer for the given stream is ready.
func (p *Pipeline) DQBuf(streamID int) (*pipeline.FrameBuffer, *pipeline.Params, error) {
	p.mu.Lock()
	ch, ok := p.ready[streamID]
	stopCh := p.stopCh
	p.mu.Unlock()

	if !ok {
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("stream %d not configured", streamID),
			"sim", "DQBuf", "stream lookup")
	}

	// Prefer already-produced buffers even after stop so in-flight frames
	// can drain.
	select {
	case rb := <-ch:
		return rb.buf, rb.params, nil
	default:
	}

	if stopCh == nil {
		return nil, nil, errors.WrapTransient(errors.ErrPipelineClosed, "sim", "DQBuf", "dequeue")
	}

	select {
	case rb := <-ch:
		return rb.buf, rb.params, nil
	case <-stopCh:
		// Drain race: a buffer may land between the select arms.
		select {
		case rb := <-ch:
			return rb.buf, rb.params, nil
		default:
			return nil, nil, errors.WrapTransient(errors.ErrPipelineClosed, "sim", "DQBuf", "dequeue")
		}
	}
}

// GetParameters returns the parameters recorded for a capture sequence.
func (p *Pipeline) GetParameters(sequence int64) (*pipeline.Params, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	params, ok := p.params[sequence]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrSequenceNotCached, "sim", "GetParameters", "sequence lookup")
	}
	cp := *params
	return &cp, nil
}

// SetEventHandler binds the event sink.
func (p *Pipeline) SetEventHandler(h pipeline.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// InjectIPCError simulates a fatal transport failure: an IPC_ERROR event is
// emitted and all further QBuf calls fail.
func (p *Pipeline) InjectIPCError() {
	p.mu.Lock()
	p.broken = true
	h := p.handler
	p.mu.Unlock()

	if h != nil {
		h.OnPipelineEvent(pipeline.Event{Type: pipeline.EventIPCError})
	}
}

// produce is the single producer loop: frames complete strictly in QBuf
// order, which keeps sequences and timestamps monotonic.
func (p *Pipeline) produce(work chan job, stopCh chan struct{}) {
	defer p.wg.Done()

	for j := range work {
		select {
		case <-stopCh:
			return
		case <-time.After(p.cfg.FrameInterval):
		}

		p.mu.Lock()
		if p.broken {
			p.mu.Unlock()
			continue
		}
		p.seq++
		seq := p.seq
		idx := p.frameIdx
		p.frameIdx++
		converged := p.cfg.ConvergeAfter >= 0 && idx >= int64(p.cfg.ConvergeAfter)
		params := &pipeline.Params{
			FrameNumber:  j.frameNumber,
			Sequence:     seq,
			Timestamp:    p.cfg.BaseTimestamp + idx*p.cfg.FrameInterval.Nanoseconds(),
			AEConverged:  converged,
			AFConverged:  converged,
			AWBConverged: converged,
		}
		p.params[seq] = params
		handler := p.handler
		ready := p.ready
		p.mu.Unlock()

		if handler != nil {
			handler.OnPipelineEvent(pipeline.Event{
				Type:        pipeline.EventBufferReady,
				FrameNumber: j.frameNumber,
				Timestamp:   params.Timestamp,
				Sequence:    seq,
			})
		}

		for _, b := range j.buffers {
			fillPattern(b, j.frameNumber)
			cp := *params
			if ch, ok := ready[b.StreamID]; ok {
				select {
				case ch <- readyBuf{buf: b, params: &cp}:
				case <-stopCh:
					return
				}
			}
		}
	}
}

// fillPattern writes a deterministic luma gradient so post-processing and
// encoders operate on real bytes.
func fillPattern(b *pipeline.FrameBuffer, frameNumber uint32) {
	if len(b.Data) == 0 {
		return
	}
	ySize := b.Width * b.Height
	if ySize > len(b.Data) {
		ySize = len(b.Data)
	}
	base := byte(frameNumber * 7)
	for i := 0; i < ySize; i++ {
		b.Data[i] = base + byte(i%251)
	}
	// Neutral chroma
	for i := ySize; i < len(b.Data); i++ {
		b.Data[i] = 128
	}
}
