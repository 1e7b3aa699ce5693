package services

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturelog/client/internal/models"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestCodecService_Resize(t *testing.T) {
	svc := NewCodecService()
	profile := ImageProfile{MaxEdge: 100, Quality: 95}

	t.Run("bounds the longer edge", func(t *testing.T) {
		out, err := svc.Resize(encodePNG(t, 200, 100), "wide.png", profile)
		require.NoError(t, err)

		w, h := decodeDims(t, out)
		assert.Equal(t, 100, w)
		assert.Equal(t, 50, h)
	})

	t.Run("portrait images bound the height", func(t *testing.T) {
		out, err := svc.Resize(encodePNG(t, 100, 200), "tall.png", profile)
		require.NoError(t, err)

		w, h := decodeDims(t, out)
		assert.Equal(t, 50, w)
		assert.Equal(t, 100, h)
	})

	t.Run("never upscales", func(t *testing.T) {
		out, err := svc.Resize(encodeJPEG(t, 40, 30), "small.jpg", profile)
		require.NoError(t, err)

		w, h := decodeDims(t, out)
		assert.Equal(t, 40, w)
		assert.Equal(t, 30, h)
	})

	t.Run("undecodable input is a codec failure", func(t *testing.T) {
		_, err := svc.Resize([]byte("not an image"), "junk.jpg", profile)
		require.Error(t, err)
		assert.Equal(t, models.KindCodecFailure, models.KindOf(err))
	})
}

func TestCodecService_FixOrientation(t *testing.T) {
	svc := NewCodecService()

	t.Run("files without exif keep their original bytes", func(t *testing.T) {
		_, err := svc.FixOrientation(encodePNG(t, 10, 10), "plain.png")
		assert.ErrorIs(t, err, models.ErrNoOrientation)
	})

	t.Run("plain jpeg without orientation tag", func(t *testing.T) {
		_, err := svc.FixOrientation(encodeJPEG(t, 10, 10), "plain.jpg")
		assert.ErrorIs(t, err, models.ErrNoOrientation)
	})
}

func TestApplyOrientation(t *testing.T) {
	// 20x10 source; rotated orientations must swap the dimensions
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))

	tests := []struct {
		orientation int
		wantW       int
		wantH       int
	}{
		{2, 20, 10},
		{3, 20, 10},
		{4, 20, 10},
		{5, 10, 20},
		{6, 10, 20},
		{7, 10, 20},
		{8, 10, 20},
	}

	for _, tt := range tests {
		out := applyOrientation(src, tt.orientation)
		assert.Equal(t, tt.wantW, out.Bounds().Dx(), "orientation %d width", tt.orientation)
		assert.Equal(t, tt.wantH, out.Bounds().Dy(), "orientation %d height", tt.orientation)
	}
}
