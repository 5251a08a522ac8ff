package surface

import (
	"testing"

	"github.com/h-takeyama/riskwatch/pkg/types"
)

func validFrame(width, height int) *types.RasterFrame {
	return &types.RasterFrame{
		Data:   make([]byte, types.NV12Size(width, height)),
		Width:  width,
		Height: height,
	}
}

func TestPublishAndLatest(t *testing.T) {
	s := New()

	if s.Latest() != nil {
		t.Fatal("new surface should be empty")
	}

	frame := validFrame(320, 240)
	if !s.Publish(frame) {
		t.Fatal("publish rejected valid frame")
	}
	if s.Latest() != frame {
		t.Fatal("latest did not return published frame")
	}
	if frame.FrameNum != 1 {
		t.Fatalf("frame number = %d, want 1", frame.FrameNum)
	}

	w, h := s.Dimensions()
	if w != 320 || h != 240 {
		t.Fatalf("dimensions = %dx%d", w, h)
	}
}

func TestPublishRejectsInconsistentFrames(t *testing.T) {
	s := New()

	if s.Publish(nil) {
		t.Fatal("nil frame accepted")
	}

	short := validFrame(320, 240)
	short.Data = short.Data[:10]
	if s.Publish(short) {
		t.Fatal("truncated payload accepted")
	}

	odd := &types.RasterFrame{Data: make([]byte, 100), Width: 15, Height: 15}
	if s.Publish(odd) {
		t.Fatal("odd dimensions accepted")
	}

	if s.FrameCount() != 0 {
		t.Fatalf("rejected frames counted: %d", s.FrameCount())
	}
}

func TestClearDetachesFrame(t *testing.T) {
	s := New()
	s.Publish(validFrame(320, 240))

	s.Clear()

	if s.Latest() != nil {
		t.Fatal("frame survived clear")
	}
	if w, h := s.Dimensions(); w != 0 || h != 0 {
		t.Fatalf("dimensions after clear = %dx%d", w, h)
	}
	// The frame counter survives; it tracks publishes, not attachment.
	if s.FrameCount() != 1 {
		t.Fatalf("frame count after clear = %d, want 1", s.FrameCount())
	}
}
