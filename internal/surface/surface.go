// Package surface holds the per-instance playback surface: the latest
// decoded raster frame of the live stream. The surface is owned by exactly
// one media source at a time and is cleared synchronously on teardown.
package surface

import (
	"sync"

	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Surface stores the most recent raster frame. Overlays and zoom are
// presentation-only and never touch the surface; capture reads intrinsic
// pixels from here.
type Surface struct {
	mu     sync.RWMutex
	frame  *types.RasterFrame
	frames uint64
}

// New creates an empty playback surface.
func New() *Surface {
	return &Surface{}
}

// Publish replaces the current frame. Frames with an inconsistent NV12
// payload are dropped.
func (s *Surface) Publish(frame *types.RasterFrame) bool {
	if frame == nil || len(frame.Data) != types.NV12Size(frame.Width, frame.Height) || len(frame.Data) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	frame.FrameNum = s.frames
	s.frame = frame
	return true
}

// Latest returns the current frame, or nil when nothing has decoded yet or
// the surface was cleared.
func (s *Surface) Latest() *types.RasterFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Dimensions returns the intrinsic pixel dimensions of the current frame,
// or (0, 0) when no frame is attached.
func (s *Surface) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return 0, 0
	}
	return s.frame.Width, s.frame.Height
}

// FrameCount returns the number of frames published since creation.
func (s *Surface) FrameCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Clear detaches the current media source's frame. Called synchronously on
// session teardown, before any replacement session starts.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
}
