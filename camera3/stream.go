package camera3

import "fmt"

// StreamType describes the data direction of a client stream.
type StreamType int

const (
	// StreamOutput produces buffers for the host.
	StreamOutput StreamType = iota
	// StreamInput consumes a host-provided buffer (reprocessing).
	StreamInput
	// StreamBidirectional does both (ZSL).
	StreamBidirectional
)

// String returns the stream type name.
func (t StreamType) String() string {
	switch t {
	case StreamOutput:
		return "OUTPUT"
	case StreamInput:
		return "INPUT"
	case StreamBidirectional:
		return "BIDIRECTIONAL"
	default:
		return fmt.Sprintf("StreamType(%d)", int(t))
	}
}

// OperationMode selects the session mode at configure time.
type OperationMode int

const (
	// OperationModeNormal is the default session mode.
	OperationModeNormal OperationMode = iota
	// OperationModeConstrainedHighSpeed enables high-speed recording.
	OperationModeConstrainedHighSpeed
)

// Stream is a host-declared endpoint. The host owns the struct; the HAL
// fills MaxBuffers during configure_streams for output streams.
type Stream struct {
	ID       int
	Type     StreamType
	Width    int
	Height   int
	Format   Format
	Usage    Usage
	Rotation int // degrees clockwise: 0, 90, 180, 270

	// MaxBuffers is set by the HAL at configure time: the number of buffers
	// the host may have dequeued to this stream simultaneously.
	MaxBuffers int
}

// PixelArea returns width*height for priority sorting.
func (s *Stream) PixelArea() int {
	return s.Width * s.Height
}

// AspectRatio returns width/height as a float, 0 for degenerate sizes.
func (s *Stream) AspectRatio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// SameAspectRatio compares aspect ratios with a small tolerance to absorb
// 2-alignment rounding.
func (s *Stream) SameAspectRatio(other *Stream) bool {
	const tolerance = 0.01
	a, b := s.AspectRatio(), other.AspectRatio()
	if a == 0 || b == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < tolerance
}

// SameSize reports equal pixel dimensions.
func (s *Stream) SameSize(other *Stream) bool {
	return s.Width == other.Width && s.Height == other.Height
}

// IsOutput reports whether the stream produces buffers for the host.
func (s *Stream) IsOutput() bool {
	return s.Type == StreamOutput || s.Type == StreamBidirectional
}

// IsInput reports whether the stream consumes host buffers.
func (s *Stream) IsInput() bool {
	return s.Type == StreamInput || s.Type == StreamBidirectional
}

// IsVideo reports whether the stream should count against the video slot
// budget during pipeline stream selection.
func (s *Stream) IsVideo() bool {
	if s.Format == FormatRawOpaque || s.Format == FormatBlob {
		return false
	}
	if s.Usage&UsageZSL != 0 {
		return false
	}
	return true
}

// IsStill reports whether the stream is a still-capture (BLOB) output.
func (s *Stream) IsStill() bool {
	return s.Format == FormatBlob
}

// IsOpaqueRaw reports whether the stream carries the platform RAW format.
func (s *Stream) IsOpaqueRaw() bool {
	return s.Format == FormatRawOpaque || (s.Usage&UsageZSL != 0 && s.Format == FormatImplementationDefined)
}

// String identifies the stream in logs.
func (s *Stream) String() string {
	return fmt.Sprintf("stream %d %s %dx%d %s rot=%d", s.ID, s.Type, s.Width, s.Height, s.Format, s.Rotation)
}

// StreamConfiguration is the argument to configure_streams.
type StreamConfiguration struct {
	OperationMode OperationMode
	Streams       []*Stream
}
