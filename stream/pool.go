package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
	"github.com/camstack/camhal/pipeline"
	"github.com/camstack/camhal/pkg/buffer"
)

// Pool is the per-pipeline-stream ring of internal buffers used when the
// client buffer cannot serve as the pipeline target. Acquire and Release
// are O(1) and internally synchronized.
type Pool struct {
	stream *camera3.Stream
	free   buffer.Queue[*pipeline.FrameBuffer]

	mu          sync.Mutex
	outstanding map[uint64]bool

	acquired atomic.Uint64
	released atomic.Uint64
}

// NewPool allocates size buffers shaped for the stream's pipeline format.
func NewPool(s *camera3.Stream, size int) (*Pool, error) {
	if size < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("pool size %d", size),
			"Pool", "NewPool", "size check")
	}

	free, err := buffer.NewQueue[*pipeline.FrameBuffer](size)
	if err != nil {
		return nil, errors.WrapFatal(err, "Pool", "NewPool", "free list")
	}

	p := &Pool{
		stream:      s,
		free:        free,
		outstanding: make(map[uint64]bool, size),
	}

	fourcc := camera3.V4L2Format(s.Format, s.Usage)
	frameBytes := s.Width * s.Height * 3 / 2
	for i := 0; i < size; i++ {
		fb := &pipeline.FrameBuffer{
			ID:       uint64(s.ID)<<32 | uint64(i+1),
			StreamID: s.ID,
			Data:     make([]byte, frameBytes),
			Width:    s.Width,
			Height:   s.Height,
			FourCC:   fourcc,
		}
		if err := free.Push(fb); err != nil {
			return nil, errors.WrapFatal(err, "Pool", "NewPool", "seed free list")
		}
	}
	return p, nil
}

// Acquire borrows one buffer. Fails with ErrPoolExhausted when none are free.
func (p *Pool) Acquire() (*pipeline.FrameBuffer, error) {
	fb, ok := p.free.Pop()
	if !ok {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: stream %d", errors.ErrPoolExhausted, p.stream.ID),
			"Pool", "Acquire", "borrow")
	}

	p.mu.Lock()
	p.outstanding[fb.ID] = true
	p.mu.Unlock()

	p.acquired.Add(1)
	return fb, nil
}

// Release returns a borrowed buffer. Double returns and foreign buffers are
// rejected so conservation violations surface at the fault.
func (p *Pool) Release(fb *pipeline.FrameBuffer) error {
	if fb == nil || fb.StreamID != p.stream.ID {
		return errors.WrapFatal(errors.ErrBufferMismatch, "Pool", "Release", "ownership check")
	}

	p.mu.Lock()
	if !p.outstanding[fb.ID] {
		p.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("%w: buffer %d", errors.ErrDoubleReturn, fb.ID),
			"Pool", "Release", "return check")
	}
	delete(p.outstanding, fb.ID)
	p.mu.Unlock()

	p.released.Add(1)
	return errors.Wrap(p.free.Push(fb), "Pool", "Release", "free list push")
}

// Outstanding returns the number of borrowed buffers.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

// Stats returns lifetime acquire and release counts.
func (p *Pool) Stats() (acquired, released uint64) {
	return p.acquired.Load(), p.released.Load()
}
