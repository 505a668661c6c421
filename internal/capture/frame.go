package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds the decoded size of a frame (width times height).
const DefaultMaxPixels = 40_000_000

// ErrFrameTooLarge is wrapped when a frame header declares more pixels than allowed.
var ErrFrameTooLarge = errors.New("frame exceeds pixel budget")

// Frame is one encoded camera image.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// NormalizeFrame decodes raw, scales it down to fit within maxSize while keeping
// aspect ratio and re-encodes it as JPEG. Frames already within maxSize keep their bytes.
// The header is checked against maxPixels (DefaultMaxPixels when not positive)
// before the image is decoded.
func NormalizeFrame(raw Frame, maxSize, maxPixels int) (Frame, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw.Data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to decode frame header: %w", ErrDeviceUnavailable, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return Frame{}, fmt.Errorf("%w: %w: %dx%d", ErrDeviceUnavailable, ErrFrameTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to decode frame: %w", ErrDeviceUnavailable, err)
	}

	capturedAt := raw.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return Frame{Data: raw.Data, Width: width, Height: height, CapturedAt: capturedAt}, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return Frame{}, fmt.Errorf("failed to encode resized frame: %w", err)
	}

	return Frame{Data: buf.Bytes(), Width: newWidth, Height: newHeight, CapturedAt: capturedAt}, nil
}
