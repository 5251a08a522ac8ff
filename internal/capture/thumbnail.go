package capture

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/h-takeyama/riskwatch/internal/logger"
)

const thumbnailQuality = 75

// Thumbnail scales an encoded still down to at most maxWidth pixels wide,
// preserving aspect ratio. Stills already narrow enough are returned as-is.
func Thumbnail(jpegData []byte, maxWidth int) []byte {
	if len(jpegData) == 0 || maxWidth <= 0 {
		return nil
	}

	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		logger.Warn("Capture", "Thumbnail decode failed: %v", err)
		return nil
	}

	bounds := src.Bounds()
	if bounds.Dx() <= maxWidth {
		return jpegData
	}

	height := bounds.Dy() * maxWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		logger.Warn("Capture", "Thumbnail encode failed: %v", err)
		return nil
	}
	return buf.Bytes()
}
