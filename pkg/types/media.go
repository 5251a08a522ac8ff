package types

import (
	"fmt"
	"time"
)

// RasterFrame is a decoded video frame in NV12 layout (full-resolution Y
// plane followed by interleaved, half-resolution CbCr). Width and Height are
// the intrinsic pixel dimensions of the stream, independent of any display
// zoom applied by a viewer.
type RasterFrame struct {
	Data      []byte    // NV12 bytes, len = Width*Height*3/2
	Width     int       // Intrinsic width in pixels
	Height    int       // Intrinsic height in pixels
	Timestamp time.Time // Decode timestamp
	FrameNum  uint64    // Sequential frame number
}

// AccessUnit is one encoded H.264 access unit as received from the media
// source. Units are opaque to the recording pipeline, which only
// concatenates them into clips.
type AccessUnit struct {
	Data      []byte    // Annex-B NAL units
	Timestamp time.Time // Arrival timestamp
	IsIDR     bool      // True when the unit carries an IDR slice
}

// DetectionOverlay is one risk-detection rectangle supplied by the host.
// All geometry is expressed as percentages (0-100) of the video viewport.
// Overlays are projected onto the display only; they never influence
// captured stills or recorded clips.
type DetectionOverlay struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // 0-100
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// CaptureArtifact is a still image captured from the live stream. It is
// immutable after creation; ownership passes to the host immediately.
type CaptureArtifact struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Image     []byte             `json:"-"` // Encoded JPEG
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Overlays  []DetectionOverlay `json:"overlays"`
}

// RecordingArtifact is a finalized clip produced by the recording pipeline.
type RecordingArtifact struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  time.Duration      `json:"duration_ms"`
	Clip      []byte             `json:"-"` // Concatenated encoded chunks
	Thumbnail []byte             `json:"-"` // JPEG derived at stop time
	Overlays  []DetectionOverlay `json:"overlays"` // Set active at stop instant
	Filename  string             `json:"filename"`
}

// MediaKind discriminates the media artifact variant.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
)

// String returns the wire name of the kind.
func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

// MediaArtifact is the tagged variant handed to the host viewer: either a
// captured still or a recorded clip. Exactly one of Image/Video is set,
// matching Kind.
type MediaArtifact struct {
	Kind  MediaKind
	Image *CaptureArtifact
	Video *RecordingArtifact
}

// NewImageArtifact wraps a capture as a media artifact.
func NewImageArtifact(c *CaptureArtifact) MediaArtifact {
	return MediaArtifact{Kind: MediaImage, Image: c}
}

// NewVideoArtifact wraps a recording as a media artifact.
func NewVideoArtifact(r *RecordingArtifact) MediaArtifact {
	return MediaArtifact{Kind: MediaVideo, Video: r}
}

// ID returns the identifier of the wrapped artifact.
func (a MediaArtifact) ID() string {
	switch a.Kind {
	case MediaImage:
		return a.Image.ID
	case MediaVideo:
		return a.Video.ID
	default:
		return ""
	}
}

// CreatedAt returns the creation timestamp of the wrapped artifact.
func (a MediaArtifact) CreatedAt() time.Time {
	switch a.Kind {
	case MediaImage:
		return a.Image.Timestamp
	case MediaVideo:
		return a.Video.Timestamp
	default:
		return time.Time{}
	}
}

// Payload returns the encoded bytes and a content type for download.
func (a MediaArtifact) Payload() ([]byte, string, error) {
	switch a.Kind {
	case MediaImage:
		return a.Image.Image, "image/jpeg", nil
	case MediaVideo:
		return a.Video.Clip, "video/h264", nil
	default:
		return nil, "", fmt.Errorf("unknown media kind %d", a.Kind)
	}
}

// NV12Size returns the byte length of an NV12 frame with the given
// dimensions, or 0 when the dimensions are not positive and even.
func NV12Size(width, height int) int {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return 0
	}
	return width * height * 3 / 2
}
