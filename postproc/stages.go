package postproc

import (
	"fmt"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
)

// rotateStage rotates an NV12 frame by 90, 180 or 270 degrees clockwise.
type rotateStage struct {
	in      Descriptor
	out     Descriptor
	degrees int
}

func newRotateStage(in Descriptor, degrees int) *rotateStage {
	out := in
	if degrees == 90 || degrees == 270 {
		out.Width, out.Height = align2(in.Height), align2(in.Width)
	}
	return &rotateStage{in: in, out: out, degrees: degrees}
}

func (s *rotateStage) Name() string       { return fmt.Sprintf("rotate%d", s.degrees) }
func (s *rotateStage) Input() Descriptor  { return s.in }
func (s *rotateStage) Output() Descriptor { return s.out }

func (s *rotateStage) Run(src []byte) ([]byte, error) {
	w, h := s.in.Width, s.in.Height
	dst := make([]byte, s.out.FrameSize())
	dw, dh := s.out.Width, s.out.Height

	// Luma plane.
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := s.sourceAt(x, y, w, h)
			dst[y*dw+x] = src[sy*w+sx]
		}
	}

	// Interleaved chroma plane, rotated as 2-byte cells.
	cw, ch := w/2, h/2
	dcw, dch := dw/2, dh/2
	srcUV := src[w*h:]
	dstUV := dst[dw*dh:]
	for y := 0; y < dch; y++ {
		for x := 0; x < dcw; x++ {
			sx, sy := s.sourceAt(x, y, cw, ch)
			di := (y*dcw + x) * 2
			si := (sy*cw + sx) * 2
			dstUV[di] = srcUV[si]
			dstUV[di+1] = srcUV[si+1]
		}
	}
	return dst, nil
}

// sourceAt maps a destination coordinate back to the source plane for the
// configured clockwise rotation.
func (s *rotateStage) sourceAt(dx, dy, sw, sh int) (int, int) {
	switch s.degrees {
	case 90:
		return dy, sh - 1 - dx
	case 180:
		return sw - 1 - dx, sh - 1 - dy
	default: // 270
		return sw - 1 - dy, dx
	}
}

// cropStage center-crops an NV12 frame to a target aspect ratio.
type cropStage struct {
	in   Descriptor
	out  Descriptor
	offX int
	offY int
}

func newCropStage(in Descriptor, targetRatio float64) *cropStage {
	cw, ch := in.Width, in.Height
	if in.AspectRatio() > targetRatio {
		// Too wide: trim the sides.
		cw = align2(int(float64(in.Height) * targetRatio))
	} else {
		// Too tall: trim top and bottom.
		ch = align2(int(float64(in.Width) / targetRatio))
	}
	return &cropStage{
		in:   in,
		out:  Descriptor{Width: cw, Height: ch, Format: in.Format},
		offX: ((in.Width - cw) / 2) &^ 1,
		offY: ((in.Height - ch) / 2) &^ 1,
	}
}

func (s *cropStage) Name() string       { return "crop" }
func (s *cropStage) Input() Descriptor  { return s.in }
func (s *cropStage) Output() Descriptor { return s.out }

func (s *cropStage) Run(src []byte) ([]byte, error) {
	w := s.in.Width
	dw, dh := s.out.Width, s.out.Height
	dst := make([]byte, s.out.FrameSize())

	for y := 0; y < dh; y++ {
		srcOff := (y+s.offY)*w + s.offX
		copy(dst[y*dw:(y+1)*dw], src[srcOff:srcOff+dw])
	}

	srcUV := src[w*s.in.Height:]
	dstUV := dst[dw*dh:]
	for y := 0; y < dh/2; y++ {
		srcOff := (y+s.offY/2)*w + s.offX
		copy(dstUV[y*dw:(y+1)*dw], srcUV[srcOff:srcOff+dw])
	}
	return dst, nil
}

// scaleStage resizes an NV12 frame with nearest-neighbor sampling.
type scaleStage struct {
	in  Descriptor
	out Descriptor
}

func newScaleStage(in Descriptor, width, height int) *scaleStage {
	return &scaleStage{
		in:  in,
		out: Descriptor{Width: width, Height: height, Format: in.Format},
	}
}

func (s *scaleStage) Name() string       { return "scale" }
func (s *scaleStage) Input() Descriptor  { return s.in }
func (s *scaleStage) Output() Descriptor { return s.out }

func (s *scaleStage) Run(src []byte) ([]byte, error) {
	sw, sh := s.in.Width, s.in.Height
	dw, dh := s.out.Width, s.out.Height
	dst := make([]byte, s.out.FrameSize())

	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		for x := 0; x < dw; x++ {
			sx := x * sw / dw
			dst[y*dw+x] = src[sy*sw+sx]
		}
	}

	srcUV := src[sw*sh:]
	dstUV := dst[dw*dh:]
	scw, sch := sw/2, sh/2
	dcw, dch := dw/2, dh/2
	for y := 0; y < dch; y++ {
		sy := y * sch / dch
		for x := 0; x < dcw; x++ {
			sx := x * scw / dcw
			dstUV[(y*dcw+x)*2] = srcUV[(sy*scw+sx)*2]
			dstUV[(y*dcw+x)*2+1] = srcUV[(sy*scw+sx)*2+1]
		}
	}
	return dst, nil
}

// convertStage translates between the NV12 and YUV420 chroma layouts.
type convertStage struct {
	in  Descriptor
	out Descriptor
}

func newConvertStage(in Descriptor, target camera3.Format) (*convertStage, error) {
	valid := (in.Format == camera3.FormatNV12 && target == camera3.FormatYUV420) ||
		(in.Format == camera3.FormatYUV420 && target == camera3.FormatNV12)
	if !valid {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s to %s", errors.ErrUnsupportedFormat, in.Format, target),
			"postproc", "newConvertStage", "conversion check")
	}
	return &convertStage{
		in:  in,
		out: Descriptor{Width: in.Width, Height: in.Height, Format: target},
	}, nil
}

func (s *convertStage) Name() string       { return "convert" }
func (s *convertStage) Input() Descriptor  { return s.in }
func (s *convertStage) Output() Descriptor { return s.out }

func (s *convertStage) Run(src []byte) ([]byte, error) {
	w, h := s.in.Width, s.in.Height
	dst := make([]byte, s.out.FrameSize())
	copy(dst, src[:w*h])

	n := w * h / 4
	if s.out.Format == camera3.FormatYUV420 {
		// Deinterleave UV into separate U and V planes.
		uv := src[w*h:]
		u := dst[w*h : w*h+n]
		v := dst[w*h+n:]
		for i := 0; i < n; i++ {
			u[i] = uv[i*2]
			v[i] = uv[i*2+1]
		}
	} else {
		// Interleave U and V planes back into UV.
		u := src[w*h : w*h+n]
		v := src[w*h+n:]
		uv := dst[w*h:]
		for i := 0; i < n; i++ {
			uv[i*2] = u[i]
			uv[i*2+1] = v[i]
		}
	}
	return dst, nil
}
