// Package capture snapshots the playback surface into encoded stills. The
// capture path reads intrinsic stream pixels only; display zoom and overlay
// projection never influence the output.
package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/internal/surface"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// jpegQuality keeps stills near-lossless while staying portable.
const jpegQuality = 95

// Capturer encodes the latest surface frame as a JPEG still. The off-screen
// raster scratch is created lazily and reused across calls; it is private to
// one capturer instance.
type Capturer struct {
	surf *surface.Surface

	mu      sync.Mutex
	scratch *image.YCbCr
}

// New creates a capturer bound to one playback surface.
func New(surf *surface.Surface) *Capturer {
	return &Capturer{surf: surf}
}

// CaptureFrame returns an encoded JPEG of the current video frame at its
// intrinsic dimensions, or nil when no frame has decoded yet. A nil return
// is the non-fatal "capture not ready" signal, never an error.
func (c *Capturer) CaptureFrame() []byte {
	frame := c.surf.Latest()
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	img := c.drawLocked(frame)
	if img == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logger.Warn("Capture", "JPEG encode failed: %v", err)
		return nil
	}
	return buf.Bytes()
}

// drawLocked copies the NV12 frame into the reused YCbCr scratch surface,
// reallocating only when the intrinsic dimensions change.
func (c *Capturer) drawLocked(frame *types.RasterFrame) *image.YCbCr {
	if len(frame.Data) != types.NV12Size(frame.Width, frame.Height) {
		return nil
	}

	rect := image.Rect(0, 0, frame.Width, frame.Height)
	if c.scratch == nil || !c.scratch.Rect.Eq(rect) {
		c.scratch = image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
	}

	ySize := frame.Width * frame.Height
	copy(c.scratch.Y, frame.Data[:ySize])

	// NV12 interleaves Cb/Cr; image.YCbCr wants separate planes.
	cbcr := frame.Data[ySize:]
	for i := 0; i < len(cbcr)/2; i++ {
		c.scratch.Cb[i] = cbcr[2*i]
		c.scratch.Cr[i] = cbcr[2*i+1]
	}

	return c.scratch
}

// Dimensions reports the intrinsic size of the frame a capture would use,
// or (0, 0) when capture is not ready.
func (c *Capturer) Dimensions() (int, int) {
	return c.surf.Dimensions()
}
