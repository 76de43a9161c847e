// Package pipeline defines the interface to the imaging pipeline the HAL
// core drives. The pipeline is an external collaborator: it produces buffers
// and per-frame parameters asynchronously, possibly out of order across
// streams, and reports frame events through a callback.
package pipeline

import (
	"fmt"

	"github.com/camstack/camhal/camera3"
)

// FrameBuffer is one pipeline-side image buffer. The HAL either borrows
// these from a pool or wraps a client buffer's storage.
type FrameBuffer struct {
	ID       uint64
	StreamID int
	Data     []byte
	Width    int
	Height   int
	FourCC   uint32
}

// String identifies the buffer in logs.
func (b *FrameBuffer) String() string {
	return fmt.Sprintf("fbuf %d stream=%d %dx%d", b.ID, b.StreamID, b.Width, b.Height)
}

// Params carries the per-frame parameters the pipeline reports with each
// dequeued buffer and via GetParameters.
type Params struct {
	FrameNumber uint32
	Sequence    int64
	Timestamp   int64 // start-of-exposure, nanoseconds

	// 3A convergence signals
	AEConverged  bool
	AFConverged  bool
	AWBConverged bool
}

// EventType discriminates pipeline events.
type EventType int

const (
	// EventBufferReady signals the ISP has produced data for a frame
	// (doubles as the start-of-frame alignment signal).
	EventBufferReady EventType = iota
	// EventIPCError signals a fatal pipeline transport failure.
	EventIPCError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventBufferReady:
		return "BUFFER_READY"
	case EventIPCError:
		return "IPC_ERROR"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one asynchronous pipeline notification. Pipeline callback
// threads never run HAL work inline; handlers must only enqueue.
type Event struct {
	Type        EventType
	FrameNumber uint32
	Timestamp   int64
	Sequence    int64
}

// EventHandler receives pipeline events.
type EventHandler interface {
	OnPipelineEvent(ev Event)
}

// Pipeline is the operation set the HAL core uses. Implementations must
// allow QBuf from the caller thread concurrently with per-stream DQBuf
// calls from worker threads.
type Pipeline interface {
	// Open acquires the device.
	Open(cameraID int) error

	// Close releases the device.
	Close(cameraID int) error

	// Configure applies the selected pipeline streams. The session must be
	// stopped first.
	Configure(streams []*camera3.Stream) error

	// Start begins streaming.
	Start() error

	// Stop halts streaming and drains internal state.
	Stop() error

	// QBuf submits target buffers plus settings for one frame. Non-blocking.
	QBuf(frameNumber uint32, buffers []*FrameBuffer, settings *camera3.Metadata) error

	// DQBuf blocks until a buffer for the given pipeline stream is ready and
	// returns it with its per-frame parameters.
	DQBuf(streamID int) (*FrameBuffer, *Params, error)

	// GetParameters returns the parameters recorded for a capture sequence.
	GetParameters(sequence int64) (*Params, error)

	// SetEventHandler binds the event sink. Must be called before Start.
	SetEventHandler(h EventHandler)
}
