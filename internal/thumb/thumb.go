// Package thumb shrinks images for the companion's small display.
package thumb

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	// Decoders beyond the JPEG, PNG and GIF set that imaging registers.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/cbnote/cbnote/internal/metrics"
)

const (
	MaxSize = 300
	Quality = 30

	// maxPixels guards against decompression bombs.
	maxPixels = 64 << 20
)

var (
	ErrDecode = errors.New("could not decode image")
	ErrEncode = errors.New("could not encode image")
)

// Downscale decodes data, applies its EXIF orientation, fits it into
// MaxSize x MaxSize without upscaling and re-encodes it as JPEG at Quality.
// The result is always freshly encoded, even when no resize was needed.
func Downscale(data []byte) ([]byte, error) {
	start := time.Now()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	img = applyOrientation(img, orientation(data))

	fitted := imaging.Fit(img, MaxSize, MaxSize, imaging.Lanczos)

	// JPEG has no alpha; flatten onto white so transparent areas don't turn black.
	b := fitted.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), fitted, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	metrics.RecordImageTransform(len(data), buf.Len(), time.Since(start))
	return buf.Bytes(), nil
}

// orientation returns the EXIF orientation tag, 1 when absent.
func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
