package types

import (
	"testing"
	"time"
)

func TestNV12Size(t *testing.T) {
	cases := []struct {
		w, h, want int
	}{
		{640, 480, 460800},
		{1920, 1080, 3110400},
		{2, 2, 6},
		{0, 480, 0},
		{640, 0, 0},
		{-640, 480, 0},
		{641, 480, 0}, // odd width
		{640, 481, 0}, // odd height
	}
	for _, tc := range cases {
		if got := NV12Size(tc.w, tc.h); got != tc.want {
			t.Errorf("NV12Size(%d, %d) = %d, want %d", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestMediaArtifactVariants(t *testing.T) {
	now := time.Now()

	img := NewImageArtifact(&CaptureArtifact{ID: "cap-1", Timestamp: now, Image: []byte{1, 2}})
	if img.Kind != MediaImage || img.ID() != "cap-1" || !img.CreatedAt().Equal(now) {
		t.Fatalf("image artifact wrong: %+v", img)
	}
	payload, contentType, err := img.Payload()
	if err != nil || contentType != "image/jpeg" || len(payload) != 2 {
		t.Fatalf("image payload: %v %q %d", err, contentType, len(payload))
	}

	vid := NewVideoArtifact(&RecordingArtifact{ID: "rec-1", Timestamp: now, Clip: []byte{1, 2, 3}})
	if vid.Kind != MediaVideo || vid.ID() != "rec-1" {
		t.Fatalf("video artifact wrong: %+v", vid)
	}
	payload, contentType, err = vid.Payload()
	if err != nil || contentType != "video/h264" || len(payload) != 3 {
		t.Fatalf("video payload: %v %q %d", err, contentType, len(payload))
	}

	if MediaImage.String() != "image" || MediaVideo.String() != "video" {
		t.Fatal("kind wire names wrong")
	}

	var zero MediaArtifact
	zero.Kind = MediaKind(99)
	if _, _, err := zero.Payload(); err == nil {
		t.Fatal("unknown kind should error")
	}
}
