package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/h-takeyama/riskwatch/pkg/types"
)

// fakeClock advances only when told to, so chunk cuts and durations are
// deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestPipeline(t *testing.T) (*Pipeline, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rec, err := New(Config{ChunkInterval: time.Second, Clock: clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rec, clock
}

func unit(size int) *types.AccessUnit {
	return &types.AccessUnit{Data: make([]byte, size), Timestamp: time.Now()}
}

func TestNewRejectsBadInterval(t *testing.T) {
	if _, err := New(Config{ChunkInterval: 0}); err == nil {
		t.Fatal("expected error for zero chunk interval")
	}
	if _, err := New(Config{ChunkInterval: -time.Second}); err == nil {
		t.Fatal("expected error for negative chunk interval")
	}
}

func TestStartWhileRecordingRejected(t *testing.T) {
	rec, _ := newTestPipeline(t)

	if err := rec.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := rec.Start(); err == nil {
		t.Fatal("second start should be rejected")
	}
	if !rec.IsRecording() {
		t.Fatal("rejected start must not change state")
	}
}

func TestStopWithoutStart(t *testing.T) {
	rec, _ := newTestPipeline(t)
	if _, err := rec.Stop(nil, nil); err == nil {
		t.Fatal("stop while idle should fail")
	}
}

func TestChunksCutOnInterval(t *testing.T) {
	rec, clock := newTestPipeline(t)

	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Three seconds of units at ~4 per second.
	for i := 0; i < 12; i++ {
		clock.Advance(250 * time.Millisecond)
		rec.Feed(unit(100))
	}

	status := rec.GetStatus()
	if status.ChunkCount < 2 {
		t.Fatalf("expected at least 2 sealed chunks after 3s, got %d", status.ChunkCount)
	}

	artifact, err := rec.Stop(nil, nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(artifact.Clip) != 12*100 {
		t.Fatalf("clip length = %d, want %d", len(artifact.Clip), 12*100)
	}
}

func TestDurationComesFromWallClock(t *testing.T) {
	rec, clock := newTestPipeline(t)

	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Feed sparse units; duration must track the clock, not the data.
	clock.Advance(5 * time.Second)
	rec.Feed(unit(10))
	clock.Advance(5 * time.Second)

	artifact, err := rec.Stop(nil, nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if artifact.Duration != 10*time.Second {
		t.Fatalf("duration = %s, want 10s", artifact.Duration)
	}
}

func TestStopAttachesOverlaysAndThumbnail(t *testing.T) {
	rec, clock := newTestPipeline(t)

	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(time.Second)
	rec.Feed(unit(50))

	overlays := []types.DetectionOverlay{
		{ID: "det-1", Label: "person", Confidence: 91, X: 10, Y: 20, Width: 30, Height: 40},
	}
	thumb := []byte{0xff, 0xd8, 0xff}

	artifact, err := rec.Stop(thumb, overlays)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(artifact.Overlays) != 1 || artifact.Overlays[0].ID != "det-1" {
		t.Fatalf("overlays not attached: %+v", artifact.Overlays)
	}
	if string(artifact.Thumbnail) != string(thumb) {
		t.Fatal("thumbnail not attached")
	}
	if artifact.ID == "" {
		t.Fatal("artifact missing ID")
	}
	if !strings.HasPrefix(artifact.Filename, "recording_") || !strings.HasSuffix(artifact.Filename, ".h264") {
		t.Fatalf("unexpected filename %q", artifact.Filename)
	}

	// Mutating the caller's slice must not affect the artifact.
	overlays[0].Label = "changed"
	if artifact.Overlays[0].Label != "person" {
		t.Fatal("artifact overlays share backing array with caller")
	}
}

func TestPipelineResetsAfterStop(t *testing.T) {
	rec, clock := newTestPipeline(t)

	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(time.Second)
	rec.Feed(unit(64))
	if _, err := rec.Stop(nil, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if rec.IsRecording() {
		t.Fatal("pipeline still recording after stop")
	}

	// Units fed while idle are ignored.
	rec.Feed(unit(64))
	if status := rec.GetStatus(); status.Bytes != 0 {
		t.Fatalf("idle pipeline buffered %d bytes", status.Bytes)
	}

	// A fresh session starts clean.
	if err := rec.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	clock.Advance(2 * time.Second)
	rec.Feed(unit(10))
	artifact, err := rec.Stop(nil, nil)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if len(artifact.Clip) != 10 {
		t.Fatalf("second clip carries stale data: %d bytes", len(artifact.Clip))
	}
	if artifact.Duration != 2*time.Second {
		t.Fatalf("second duration = %s, want 2s", artifact.Duration)
	}
}
