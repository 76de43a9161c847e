// Package postproc builds and runs per-stream post-processing chains. A
// chain is configured once per stream configuration from an input and an
// output descriptor, in the fixed order rotate, crop, scale, convert, JPEG
// encode, with each stage included only when its trigger condition holds.
package postproc

import (
	"fmt"
	"log/slog"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
)

// Descriptor describes a frame at a stage boundary.
type Descriptor struct {
	Width  int
	Height int
	Format camera3.Format
}

// FrameSize returns the byte length of a frame with this descriptor.
// JPEG output is variable length and reports 0.
func (d Descriptor) FrameSize() int {
	switch d.Format {
	case camera3.FormatNV12, camera3.FormatYUV420, camera3.FormatImplementationDefined:
		return d.Width * d.Height * 3 / 2
	default:
		return 0
	}
}

// AspectRatio returns width over height.
func (d Descriptor) AspectRatio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%dx%d/%s", d.Width, d.Height, d.Format)
}

// Capabilities reports what the processing backend can do.
type Capabilities struct {
	Rotation bool
}

// Stage is one processing step with fixed boundary descriptors.
type Stage interface {
	Name() string
	Input() Descriptor
	Output() Descriptor
	Run(src []byte) ([]byte, error)
}

// Chain is an ordered stage list taking frames from the input descriptor
// to the output descriptor. A nil or empty chain passes frames through.
type Chain struct {
	in     Descriptor
	out    Descriptor
	stages []Stage
	logger *slog.Logger
}

// aspectTolerance matches the stream selection tolerance so a stream that
// selected on same-ratio never gets a crop stage.
const aspectTolerance = 0.01

// align2 rounds down to the nearest even value, minimum 2.
func align2(v int) int {
	v &^= 1
	if v < 2 {
		v = 2
	}
	return v
}

// normalize maps opaque formats to their working layout.
func normalize(f camera3.Format) camera3.Format {
	if f == camera3.FormatImplementationDefined {
		return camera3.FormatNV12
	}
	return f
}

// Build constructs the chain for one output stream. in describes the
// pipeline-produced frame; the output descriptor is taken from the stream.
func Build(in Descriptor, stream *camera3.Stream, caps Capabilities, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}

	out := Descriptor{Width: stream.Width, Height: stream.Height, Format: stream.Format}
	cur := Descriptor{Width: in.Width, Height: in.Height, Format: normalize(in.Format)}

	c := &Chain{in: in, out: out, logger: logger}

	if stream.Rotation > 0 && caps.Rotation {
		switch stream.Rotation {
		case 90, 180, 270:
		default:
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %d degrees", errors.ErrInvalidRotation, stream.Rotation),
				"postproc", "Build", "rotation check")
		}
		s := newRotateStage(cur, stream.Rotation)
		c.stages = append(c.stages, s)
		cur = s.Output()
	}

	if ratioDiffers(cur.AspectRatio(), out.AspectRatio()) {
		s := newCropStage(cur, out.AspectRatio())
		c.stages = append(c.stages, s)
		cur = s.Output()
	}

	if cur.Width != out.Width || cur.Height != out.Height {
		s := newScaleStage(cur, align2(out.Width), align2(out.Height))
		c.stages = append(c.stages, s)
		cur = s.Output()
	}

	pixTarget := normalize(out.Format)
	if out.Format == camera3.FormatBlob {
		// JPEG encoding consumes NV12.
		pixTarget = camera3.FormatNV12
	}
	if cur.Format != pixTarget {
		s, err := newConvertStage(cur, pixTarget)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, s)
		cur = s.Output()
	}

	if out.Format == camera3.FormatBlob {
		s := newJPEGStage(cur)
		c.stages = append(c.stages, s)
		cur = s.Output()
	}

	if cur.Width != out.Width || cur.Height != out.Height || normalize(cur.Format) != normalize(out.Format) {
		return nil, errors.WrapFatal(
			fmt.Errorf("chain ends at %s, output needs %s", cur, out),
			"postproc", "Build", "descriptor reconciliation")
	}

	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	logger.Debug("post-processing chain configured",
		"input", in.String(),
		"output", out.String(),
		"stages", names)

	return c, nil
}

func ratioDiffers(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > aspectTolerance
}

// Empty reports whether the chain has no stages.
func (c *Chain) Empty() bool {
	return c == nil || len(c.stages) == 0
}

// Input returns the chain's input descriptor.
func (c *Chain) Input() Descriptor { return c.in }

// Output returns the chain's output descriptor.
func (c *Chain) Output() Descriptor { return c.out }

// Stages returns the stage names in execution order.
func (c *Chain) Stages() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Run feeds a frame through every stage in order.
func (c *Chain) Run(src []byte) ([]byte, error) {
	if c.Empty() {
		return src, nil
	}
	if want := c.stages[0].Input().FrameSize(); want > 0 && len(src) < want {
		return nil, errors.WrapInvalid(
			fmt.Errorf("frame is %d bytes, stage %s needs %d", len(src), c.stages[0].Name(), want),
			"postproc", "Run", "input size check")
	}

	cur := src
	for _, s := range c.stages {
		out, err := s.Run(cur)
		if err != nil {
			return nil, errors.Wrap(err, "postproc", "Run", s.Name())
		}
		cur = out
	}
	return cur, nil
}
