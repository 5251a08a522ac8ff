// Package overlay projects detection rectangles onto the video viewport.
// It is purely a projection: overlay data is supplied fresh by the host on
// every tick, never mutated, and never reaches the capture path, which works
// on intrinsic stream pixels.
package overlay

import (
	"fmt"
	"math"

	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Viewport is the display area detections are projected into, in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Projected is one detection rectangle in viewport pixel coordinates.
type Projected struct {
	ID      string  `json:"id"`
	Caption string  `json:"caption"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Project maps each overlay's percentage geometry (0-100 of the viewport)
// to pixel bounds, scaled about the viewport origin by the zoom factor. The
// caption combines the detection label with its rounded confidence.
func Project(overlays []types.DetectionOverlay, vp Viewport, zoom float64) []Projected {
	if vp.Width <= 0 || vp.Height <= 0 || zoom <= 0 {
		return nil
	}

	out := make([]Projected, 0, len(overlays))
	for _, o := range overlays {
		out = append(out, Projected{
			ID:      o.ID,
			Caption: fmt.Sprintf("%s %d%%", o.Label, int(math.Round(o.Confidence))),
			X:       o.X / 100 * float64(vp.Width) * zoom,
			Y:       o.Y / 100 * float64(vp.Height) * zoom,
			Width:   o.Width / 100 * float64(vp.Width) * zoom,
			Height:  o.Height / 100 * float64(vp.Height) * zoom,
		})
	}
	return out
}
