package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/naturelog/client/internal/models"
)

// ImageProfile bounds codec output for one destination
type ImageProfile struct {
	MaxEdge int // maximum output edge length in px
	Quality int // JPEG quality (1-100)
}

// CodecService normalizes raster images before persistence or transmission
type CodecService struct{}

// NewCodecService creates a new CodecService
func NewCodecService() *CodecService {
	return &CodecService{}
}

// Resize scales an image to fit profile.MaxEdge while preserving the aspect
// ratio. Images already within bounds are re-encoded without upscaling.
// Transparent formats are flattened onto a white background before the lossy
// JPEG encode. Any decode/encode failure is a hard failure for the file.
func (s *CodecService) Resize(data []byte, filename string, profile ImageProfile) ([]byte, error) {
	img, err := decodeImage(data, filename)
	if err != nil {
		return nil, models.NewDatasetError(models.KindCodecFailure, fmt.Sprintf("could not decode image %s: %v", filename, err))
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, models.NewDatasetError(models.KindCodecFailure, fmt.Sprintf("image %s has empty dimensions", filename))
	}

	factor := 1.0
	if width >= height {
		factor = float64(profile.MaxEdge) / float64(width)
	} else {
		factor = float64(profile.MaxEdge) / float64(height)
	}
	// never upscale
	if factor > 1 {
		factor = 1
	}

	newWidth := int(float64(width)*factor + 0.5)
	newHeight := int(float64(height)*factor + 0.5)

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	// flatten alpha onto white before the opaque encode
	flat := imaging.New(newWidth, newHeight, color.White)
	flat = imaging.Overlay(flat, resized, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(profile.Quality)); err != nil {
		return nil, models.NewDatasetError(models.KindCodecFailure, fmt.Sprintf("could not encode image %s: %v", filename, err))
	}

	return buf.Bytes(), nil
}

// FixOrientation re-renders an image according to its embedded EXIF
// orientation, swapping width and height for the rotated orientations.
// Returns models.ErrNoOrientation when the file carries no usable
// orientation tag; callers then use the original file unmodified.
func (s *CodecService) FixOrientation(data []byte, filename string) ([]byte, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.ErrNoOrientation
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return nil, models.ErrNoOrientation
	}
	orientation, err := tag.Int(0)
	if err != nil || orientation <= 1 || orientation > 8 {
		return nil, models.ErrNoOrientation
	}

	img, err := decodeImage(data, filename)
	if err != nil {
		return nil, models.NewDatasetError(models.KindCodecFailure, fmt.Sprintf("could not decode image %s: %v", filename, err))
	}

	fixed := applyOrientation(img, orientation)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fixed, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, models.NewDatasetError(models.KindCodecFailure, fmt.Sprintf("could not encode image %s: %v", filename, err))
	}

	return buf.Bytes(), nil
}

// applyOrientation maps the eight EXIF orientation values onto transforms
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func decodeImage(data []byte, filename string) (image.Image, error) {
	if isHEIC(filename) {
		return goheif.Decode(bytes.NewReader(data))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// extension may lie; fall back to HEIC before giving up
		if heicImg, heicErr := goheif.Decode(bytes.NewReader(data)); heicErr == nil {
			return heicImg, nil
		}
		return nil, err
	}
	return img, nil
}

func isHEIC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}
