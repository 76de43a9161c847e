// Package camera3 defines the host-facing vocabulary of the HAL core:
// pixel formats, streams, capture requests and results, notify messages,
// request templates, and the metadata tag store. It is the single place
// where classified internal errors are translated to host status codes.
package camera3

import "fmt"

// Format identifies a pixel format at the host boundary.
type Format int

const (
	// FormatImplementationDefined lets the HAL pick the backing layout.
	FormatImplementationDefined Format = iota
	// FormatNV12 is the 4:2:0 semi-planar YUV layout the pipeline produces natively.
	FormatNV12
	// FormatYUV420 is the three-plane 4:2:0 layout (YCbCr_420_888).
	FormatYUV420
	// FormatBlob carries encoded JPEG bytes.
	FormatBlob
	// FormatRawOpaque is the platform-private RAW layout used for ZSL capture.
	FormatRawOpaque
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatImplementationDefined:
		return "IMPLEMENTATION_DEFINED"
	case FormatNV12:
		return "NV12"
	case FormatYUV420:
		return "YUV420_888"
	case FormatBlob:
		return "BLOB"
	case FormatRawOpaque:
		return "RAW_OPAQUE"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Usage flags carried on a client stream. Only the bits the core inspects
// are modeled.
type Usage uint32

const (
	// UsageZSL marks a stream that participates in zero-shutter-lag capture.
	UsageZSL Usage = 1 << iota
	// UsageVideoEncoder marks a stream consumed by a video encoder.
	UsageVideoEncoder
	// UsageStillCapture marks a stream used for still capture.
	UsageStillCapture
)

// V4L2 fourcc codes for the formats the pipeline understands.
// Values follow the videodev2 definitions.
const (
	V4L2PixFmtNV12    = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtYUV420  = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtJPEG    = 'J' | 'P'<<8 | 'E'<<16 | 'G'<<24
	V4L2PixFmtSGRBG10 = 'B' | 'A'<<8 | '1'<<16 | '0'<<24
)

// V4L2Format resolves the pipeline fourcc for a host (format, usage) pair.
// ZSL usage maps implementation-defined and raw formats to the platform RAW
// fourcc. Returns 0 for combinations the pipeline cannot produce.
func V4L2Format(f Format, usage Usage) uint32 {
	if usage&UsageZSL != 0 {
		switch f {
		case FormatImplementationDefined, FormatRawOpaque:
			return V4L2PixFmtSGRBG10
		}
	}

	switch f {
	case FormatNV12, FormatImplementationDefined:
		return V4L2PixFmtNV12
	case FormatYUV420:
		return V4L2PixFmtYUV420
	case FormatBlob:
		return V4L2PixFmtJPEG
	case FormatRawOpaque:
		return V4L2PixFmtSGRBG10
	default:
		return 0
	}
}

// LayoutCompatible reports whether a client buffer of format a can be used
// directly as the pipeline target for format b without conversion.
func LayoutCompatible(a Format, aUsage Usage, b Format, bUsage Usage) bool {
	fa := V4L2Format(a, aUsage)
	fb := V4L2Format(b, bUsage)
	return fa != 0 && fa == fb
}
