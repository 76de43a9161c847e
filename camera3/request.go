package camera3

import "fmt"

// BufferStatus reports the outcome of filling a stream buffer.
type BufferStatus int

const (
	// BufferStatusOK means the buffer carries valid image data.
	BufferStatusOK BufferStatus = iota
	// BufferStatusError means the buffer content is undefined.
	BufferStatusError
)

// Buffer is an opaque host buffer handle. Data is the backing storage;
// real integrations wrap a gralloc handle here.
type Buffer struct {
	ID     uint64
	Data   []byte
	Width  int
	Height int
	Format Format
}

// StreamBuffer binds a host buffer to a client stream for one request.
type StreamBuffer struct {
	Stream *Stream
	Buffer *Buffer
	Status BufferStatus
}

// CaptureRequest is one host-issued unit of work. Immutable after
// submission. Settings == nil means "reuse the last submitted settings"
// (sticky settings).
type CaptureRequest struct {
	FrameNumber   uint32
	Settings      *Metadata
	InputBuffer   *StreamBuffer
	OutputBuffers []StreamBuffer
}

// String identifies the request in logs.
func (r *CaptureRequest) String() string {
	return fmt.Sprintf("request frame=%d outputs=%d input=%v",
		r.FrameNumber, len(r.OutputBuffers), r.InputBuffer != nil)
}

// CaptureResult is one host callback payload. A request completes through
// several results: partial metadata results and buffer-carrying results.
type CaptureResult struct {
	FrameNumber   uint32
	Metadata      *Metadata
	PartialResult int // 0 for buffer-only results, else 1..partialResultCount
	OutputBuffers []StreamBuffer
	InputBuffer   *StreamBuffer
}

// MessageType discriminates notify messages.
type MessageType int

const (
	// MessageShutter announces start of exposure for a frame.
	MessageShutter MessageType = iota
	// MessageError reports a request, result, buffer, or device error.
	MessageError
)

// ErrorCode identifies the scope of an error notification.
type ErrorCode int

const (
	// ErrorDevice is a fatal session-wide failure.
	ErrorDevice ErrorCode = iota
	// ErrorRequest means the whole request failed.
	ErrorRequest
	// ErrorResult means metadata for the frame is lost.
	ErrorResult
	// ErrorBuffer means a single output buffer failed.
	ErrorBuffer
)

// String returns the error code name.
func (e ErrorCode) String() string {
	switch e {
	case ErrorDevice:
		return "ERROR_DEVICE"
	case ErrorRequest:
		return "ERROR_REQUEST"
	case ErrorResult:
		return "ERROR_RESULT"
	case ErrorBuffer:
		return "ERROR_BUFFER"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(e))
	}
}

// NotifyMessage is the payload of the host notify callback.
type NotifyMessage struct {
	Type MessageType

	// Shutter fields
	FrameNumber uint32
	Timestamp   int64 // nanoseconds

	// Error fields
	ErrorCode   ErrorCode
	ErrorStream *Stream
}

// Callbacks is the host result interface bound at initialize().
type Callbacks interface {
	// ProcessCaptureResult delivers a partial or buffer result to the host.
	ProcessCaptureResult(result *CaptureResult)

	// Notify delivers a shutter or error message to the host.
	Notify(msg *NotifyMessage)
}
