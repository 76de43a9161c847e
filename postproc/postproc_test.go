package postproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camstack/camhal/camera3"
)

func nv12Frame(w, h int) []byte {
	data := make([]byte, w*h*3/2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = byte((x + y) & 0xFF)
		}
	}
	uv := data[w*h:]
	for i := range uv {
		uv[i] = 128
	}
	return data
}

func TestBuild_IdentityIsEmpty(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 640, Height: 480, Format: camera3.FormatNV12}

	c, err := Build(in, stream, Capabilities{}, nil)
	require.NoError(t, err)
	assert.True(t, c.Empty())

	src := nv12Frame(640, 480)
	out, err := c.Run(src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestBuild_StageOrder(t *testing.T) {
	in := Descriptor{Width: 1920, Height: 1080, Format: camera3.FormatNV12}
	stream := &camera3.Stream{
		Width:    640,
		Height:   480,
		Format:   camera3.FormatBlob,
		Rotation: 90,
	}

	c, err := Build(in, stream, Capabilities{Rotation: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rotate90", "crop", "scale", "jpeg"}, c.Stages())
	assert.Equal(t, camera3.FormatBlob, c.Output().Format)
}

func TestBuild_ConvertOnlyWhenFormatDiffers(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 640, Height: 480, Format: camera3.FormatYUV420}

	c, err := Build(in, stream, Capabilities{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"convert"}, c.Stages())
}

func TestBuild_RotationSkippedWithoutCapability(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 640, Height: 480, Format: camera3.FormatNV12, Rotation: 90}

	c, err := Build(in, stream, Capabilities{Rotation: false}, nil)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestBuild_InvalidRotation(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 640, Height: 480, Format: camera3.FormatNV12, Rotation: 45}

	_, err := Build(in, stream, Capabilities{Rotation: true}, nil)
	require.Error(t, err)
	assert.Equal(t, camera3.StatusInvalidArgument, camera3.StatusFromError(err))
}

func TestRotate_Dimensions(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}

	s := newRotateStage(in, 90)
	assert.Equal(t, 480, s.Output().Width)
	assert.Equal(t, 640, s.Output().Height)

	out, err := s.Run(nv12Frame(640, 480))
	require.NoError(t, err)
	assert.Len(t, out, 480*640*3/2)
}

func TestRotate180_CornerMoves(t *testing.T) {
	in := Descriptor{Width: 4, Height: 4, Format: camera3.FormatNV12}
	src := nv12Frame(4, 4)
	src[0] = 0xAB

	s := newRotateStage(in, 180)
	out, err := s.Run(src)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), out[15])
}

func TestCrop_CenterAndAspect(t *testing.T) {
	in := Descriptor{Width: 1920, Height: 1080, Format: camera3.FormatNV12}
	s := newCropStage(in, 4.0/3.0)

	out := s.Output()
	assert.Equal(t, 1440, out.Width)
	assert.Equal(t, 1080, out.Height)
	assert.InDelta(t, 4.0/3.0, out.AspectRatio(), aspectTolerance)

	data, err := s.Run(nv12Frame(1920, 1080))
	require.NoError(t, err)
	assert.Len(t, data, out.FrameSize())
	// Row 0 of the crop starts at source column 240.
	assert.Equal(t, byte(240&0xFF), data[0])
}

func TestScale_Downscale(t *testing.T) {
	in := Descriptor{Width: 1280, Height: 720, Format: camera3.FormatNV12}
	s := newScaleStage(in, 640, 360)

	data, err := s.Run(nv12Frame(1280, 720))
	require.NoError(t, err)
	assert.Len(t, data, 640*360*3/2)
}

func TestConvert_RoundTrip(t *testing.T) {
	in := Descriptor{Width: 64, Height: 48, Format: camera3.FormatNV12}
	src := nv12Frame(64, 48)
	uv := src[64*48:]
	for i := range uv {
		if i%2 == 0 {
			uv[i] = 100 // U
		} else {
			uv[i] = 200 // V
		}
	}

	toPlanar, err := newConvertStage(in, camera3.FormatYUV420)
	require.NoError(t, err)
	planar, err := toPlanar.Run(src)
	require.NoError(t, err)

	n := 64 * 48 / 4
	assert.Equal(t, byte(100), planar[64*48])     // U plane
	assert.Equal(t, byte(200), planar[64*48+n])   // V plane

	back, err := newConvertStage(toPlanar.Output(), camera3.FormatNV12)
	require.NoError(t, err)
	restored, err := back.Run(planar)
	require.NoError(t, err)
	assert.Equal(t, src, restored)
}

func TestConvert_UnsupportedPair(t *testing.T) {
	in := Descriptor{Width: 64, Height: 48, Format: camera3.FormatRawOpaque}
	_, err := newConvertStage(in, camera3.FormatNV12)
	require.Error(t, err)
}

func TestJPEG_ProducesValidMagic(t *testing.T) {
	in := Descriptor{Width: 320, Height: 240, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 320, Height: 240, Format: camera3.FormatBlob}

	c, err := Build(in, stream, Capabilities{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"jpeg"}, c.Stages())

	out, err := c.Run(nv12Frame(320, 240))
	require.NoError(t, err)
	require.Greater(t, len(out), 2)
	assert.Equal(t, byte(0xFF), out[0])
	assert.Equal(t, byte(0xD8), out[1])
}

func TestChain_RejectsShortFrame(t *testing.T) {
	in := Descriptor{Width: 640, Height: 480, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 320, Height: 240, Format: camera3.FormatNV12}

	c, err := Build(in, stream, Capabilities{}, nil)
	require.NoError(t, err)

	_, err = c.Run(make([]byte, 16))
	require.Error(t, err)
	assert.Equal(t, camera3.StatusInvalidArgument, camera3.StatusFromError(err))
}

func TestChain_FullPipelineToJPEG(t *testing.T) {
	in := Descriptor{Width: 1920, Height: 1080, Format: camera3.FormatNV12}
	stream := &camera3.Stream{Width: 640, Height: 480, Format: camera3.FormatBlob}

	c, err := Build(in, stream, Capabilities{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"crop", "scale", "jpeg"}, c.Stages())

	out, err := c.Run(nv12Frame(1920, 1080))
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), out[0])
	assert.Equal(t, byte(0xD8), out[1])
}
