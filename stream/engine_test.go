package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/capability"
	"github.com/camstack/camhal/pipeline"
	"github.com/camstack/camhal/pipeline/sim"
	"github.com/camstack/camhal/postproc"
)

type delivery struct {
	frame     uint32
	streamID  int
	timestamp int64
	sequence  int64
	status    camera3.BufferStatus
	data      []byte
}

type recordingSink struct {
	mu         sync.Mutex
	deliveries []delivery
	aborted    []uint32
	ch         chan delivery
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan delivery, 64)}
}

func (s *recordingSink) BufferDone(frame uint32, sb *camera3.StreamBuffer, ts, seq int64) {
	d := delivery{
		frame:     frame,
		streamID:  sb.Stream.ID,
		timestamp: ts,
		sequence:  seq,
		status:    sb.Status,
		data:      sb.Buffer.Data,
	}
	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	s.mu.Unlock()
	s.ch <- d
}

func (s *recordingSink) FrameAborted(frame uint32, _ error) {
	s.mu.Lock()
	s.aborted = append(s.aborted, frame)
	s.mu.Unlock()
}

func (s *recordingSink) wait(t *testing.T, n int) []delivery {
	t.Helper()
	got := make([]delivery, 0, n)
	for len(got) < n {
		select {
		case d := <-s.ch:
			got = append(got, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(got))
		}
	}
	return got
}

// relay forwards sim pipeline events to an engine the way the request
// manager does: SoF first, then the dequeue wakeup.
type relay struct {
	engines []*Engine
}

func (r *relay) OnPipelineEvent(ev pipeline.Event) {
	if ev.Type != pipeline.EventBufferReady {
		return
	}
	for _, e := range r.engines {
		e.NotifySOF(ev.FrameNumber)
		_ = e.QueueBufferDone(ev.FrameNumber)
	}
}

func clientBuffer(id uint64, s *camera3.Stream) *camera3.StreamBuffer {
	return &camera3.StreamBuffer{
		Stream: s,
		Buffer: &camera3.Buffer{
			ID:     id,
			Data:   make([]byte, s.Width*s.Height*3/2),
			Width:  s.Width,
			Height: s.Height,
			Format: s.Format,
		},
	}
}

func startEngine(t *testing.T, binding *Binding, sink Sink) (*Engine, *sim.Pipeline) {
	t.Helper()

	pipe := sim.New(sim.DefaultConfig())
	require.NoError(t, pipe.Open(0))

	streams := []*camera3.Stream{binding.Producer}
	require.NoError(t, pipe.Configure(streams))

	platform := capability.Default()
	e, err := NewEngine(EngineDeps{
		Pipeline: pipe,
		Binding:  binding,
		Platform: platform,
		Sink:     sink,
		Caps:     postproc.Capabilities{},
	})
	require.NoError(t, err)

	pipe.SetEventHandler(&relay{engines: []*Engine{e}})
	require.NoError(t, pipe.Start())
	require.NoError(t, e.Start())

	t.Cleanup(func() {
		_ = e.Stop(time.Second)
		_ = pipe.Close(0)
	})
	return e, pipe
}

func TestEngine_DirectClientBufferPath(t *testing.T) {
	producer := out(0, 320, 240, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, pipe := startEngine(t, &Binding{Producer: producer}, sink)

	sb := clientBuffer(1, producer)
	require.NoError(t, e.Enqueue(0, sb, nil))

	bufs, err := e.FetchRequestBuffers(0)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	// Sole compatible requester: the pipeline writes into client storage.
	assert.Equal(t, sb.Buffer.ID, bufs[0].ID)

	require.NoError(t, pipe.QBuf(0, bufs, camera3.NewMetadata()))

	got := sink.wait(t, 1)
	assert.Equal(t, uint32(0), got[0].frame)
	assert.Equal(t, producer.ID, got[0].streamID)
	assert.Equal(t, camera3.BufferStatusOK, got[0].status)

	acquired, released, outstanding := e.PoolStats()
	assert.Zero(t, acquired)
	assert.Zero(t, released)
	assert.Zero(t, outstanding)
}

func TestEngine_ListenerFanOut(t *testing.T) {
	producer := out(0, 640, 480, camera3.FormatNV12, 0)
	listener := out(1, 320, 240, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, pipe := startEngine(t, &Binding{Producer: producer, Listeners: []*camera3.Stream{listener}}, sink)

	const frames = 3
	for f := uint32(0); f < frames; f++ {
		own := clientBuffer(uint64(f)*2+1, producer)
		lb := clientBuffer(uint64(f)*2+2, listener)
		require.NoError(t, e.Enqueue(f, own, map[int]*camera3.StreamBuffer{listener.ID: lb}))

		bufs, err := e.FetchRequestBuffers(f)
		require.NoError(t, err)
		require.Len(t, bufs, 1)
		require.NoError(t, pipe.QBuf(f, bufs, camera3.NewMetadata()))
	}

	got := sink.wait(t, frames*2)

	perFrame := map[uint32][]delivery{}
	for _, d := range got {
		perFrame[d.frame] = append(perFrame[d.frame], d)
	}
	for f := uint32(0); f < frames; f++ {
		require.Len(t, perFrame[f], 2, "frame %d", f)
		// Producer and listener buffers for a frame share the sensor timestamp.
		assert.Equal(t, perFrame[f][0].timestamp, perFrame[f][1].timestamp)
	}

	// Multiple requesters force pool borrows, all returned.
	acquired, released, outstanding := e.PoolStats()
	assert.Equal(t, uint64(frames), acquired)
	assert.Equal(t, uint64(frames), released)
	assert.Zero(t, outstanding)
}

func TestEngine_DirectListenerBufferPath(t *testing.T) {
	producer := out(0, 640, 480, camera3.FormatNV12, 0)
	listener := out(1, 640, 480, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, pipe := startEngine(t, &Binding{Producer: producer, Listeners: []*camera3.Stream{listener}}, sink)

	lb := clientBuffer(3, listener)
	require.NoError(t, e.Enqueue(0, nil, map[int]*camera3.StreamBuffer{listener.ID: lb}))

	bufs, err := e.FetchRequestBuffers(0)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	// Sole layout-compatible listener: the pipeline writes into its storage.
	assert.Equal(t, lb.Buffer.ID, bufs[0].ID)

	require.NoError(t, pipe.QBuf(0, bufs, camera3.NewMetadata()))

	got := sink.wait(t, 1)
	assert.Equal(t, listener.ID, got[0].streamID)
	assert.Equal(t, camera3.BufferStatusOK, got[0].status)

	acquired, released, outstanding := e.PoolStats()
	assert.Zero(t, acquired)
	assert.Zero(t, released)
	assert.Zero(t, outstanding)
}

func TestEngine_AbandonFrameReturnsPoolBorrow(t *testing.T) {
	producer := out(0, 640, 480, camera3.FormatNV12, 0)
	listener := out(1, 320, 240, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, _ := startEngine(t, &Binding{Producer: producer, Listeners: []*camera3.Stream{listener}}, sink)

	own := clientBuffer(1, producer)
	lb := clientBuffer(2, listener)
	require.NoError(t, e.Enqueue(0, own, map[int]*camera3.StreamBuffer{listener.ID: lb}))

	bufs, err := e.FetchRequestBuffers(0)
	require.NoError(t, err)
	require.Len(t, bufs, 1)

	acquired, _, outstanding := e.PoolStats()
	require.Equal(t, uint64(1), acquired)
	require.Equal(t, 1, outstanding)

	e.AbandonFrame(0)

	acquired, released, outstanding := e.PoolStats()
	assert.Equal(t, uint64(1), acquired)
	assert.Equal(t, uint64(1), released)
	assert.Zero(t, outstanding)

	// The pending entry is gone: the frame now reads as never requested.
	bufs, err = e.FetchRequestBuffers(0)
	require.NoError(t, err)
	assert.Nil(t, bufs)

	// Abandoning again is harmless.
	e.AbandonFrame(0)
}

func TestEngine_PoolBorrowWhenOnlyListenerRequests(t *testing.T) {
	producer := out(0, 640, 480, camera3.FormatNV12, 0)
	listener := out(1, 640, 480, camera3.FormatYUV420, 0)
	sink := newRecordingSink()
	e, pipe := startEngine(t, &Binding{Producer: producer, Listeners: []*camera3.Stream{listener}}, sink)

	lb := clientBuffer(7, listener)
	require.NoError(t, e.Enqueue(0, nil, map[int]*camera3.StreamBuffer{listener.ID: lb}))

	bufs, err := e.FetchRequestBuffers(0)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	require.NoError(t, pipe.QBuf(0, bufs, camera3.NewMetadata()))

	got := sink.wait(t, 1)
	assert.Equal(t, listener.ID, got[0].streamID)

	acquired, released, _ := e.PoolStats()
	assert.Equal(t, uint64(1), acquired)
	assert.Equal(t, uint64(1), released)
}

func TestEngine_SkipsFrameNobodyRequested(t *testing.T) {
	producer := out(0, 320, 240, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, _ := startEngine(t, &Binding{Producer: producer}, sink)

	bufs, err := e.FetchRequestBuffers(42)
	require.NoError(t, err)
	assert.Nil(t, bufs)
}

func TestEngine_JPEGProducerEncodes(t *testing.T) {
	producer := out(0, 320, 240, camera3.FormatBlob, 0)
	sink := newRecordingSink()
	e, pipe := startEngine(t, &Binding{Producer: producer}, sink)

	sb := clientBuffer(1, producer)
	require.NoError(t, e.Enqueue(0, sb, nil))

	bufs, err := e.FetchRequestBuffers(0)
	require.NoError(t, err)
	require.Len(t, bufs, 1)

	// BLOB output needs encoding, so the target is a pool buffer.
	acquired, _, _ := e.PoolStats()
	assert.Equal(t, uint64(1), acquired)

	require.NoError(t, pipe.QBuf(0, bufs, camera3.NewMetadata()))

	got := sink.wait(t, 1)
	require.Greater(t, len(got[0].data), 2)
	assert.Equal(t, byte(0xFF), got[0].data[0])
	assert.Equal(t, byte(0xD8), got[0].data[1])
}

func TestEngine_DoubleEnqueueRejected(t *testing.T) {
	producer := out(0, 320, 240, camera3.FormatNV12, 0)
	sink := newRecordingSink()
	e, _ := startEngine(t, &Binding{Producer: producer}, sink)

	require.NoError(t, e.Enqueue(0, clientBuffer(1, producer), nil))
	assert.Error(t, e.Enqueue(0, clientBuffer(2, producer), nil))
}

func TestPool_Conservation(t *testing.T) {
	s := out(0, 64, 48, camera3.FormatNV12, 0)
	p, err := NewPool(s, 2)
	require.NoError(t, err)

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.Error(t, err)

	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))

	// Double return is rejected.
	require.Error(t, p.Release(a))

	// Foreign buffers are rejected.
	require.Error(t, p.Release(&pipeline.FrameBuffer{ID: 999, StreamID: 5}))

	acquired, released := p.Stats()
	assert.Equal(t, uint64(2), acquired)
	assert.Equal(t, uint64(2), released)
	assert.Zero(t, p.Outstanding())
}
