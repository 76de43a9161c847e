package postproc

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/camstack/camhal/camera3"
	"github.com/camstack/camhal/errors"
)

// jpegQuality is fixed for the whole session.
const jpegQuality = 95

// jpegStage encodes an NV12 frame into a JPEG byte stream.
type jpegStage struct {
	in  Descriptor
	out Descriptor
}

func newJPEGStage(in Descriptor) *jpegStage {
	return &jpegStage{
		in:  in,
		out: Descriptor{Width: in.Width, Height: in.Height, Format: camera3.FormatBlob},
	}
}

func (s *jpegStage) Name() string       { return "jpeg" }
func (s *jpegStage) Input() Descriptor  { return s.in }
func (s *jpegStage) Output() Descriptor { return s.out }

func (s *jpegStage) Run(src []byte) ([]byte, error) {
	w, h := s.in.Width, s.in.Height

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, src[:w*h])

	uv := src[w*h:]
	n := w * h / 4
	for i := 0; i < n; i++ {
		img.Cb[i] = uv[i*2]
		img.Cr[i] = uv[i*2+1]
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.WrapFatal(err, "jpegStage", "Run", "encode")
	}
	return buf.Bytes(), nil
}
