package console

import (
	"fmt"
	"sync"
	"time"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/internal/metrics"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Gallery is the in-memory artifact store: captures and recordings, newest
// first, bounded by a fixed capacity. When full, the oldest artifact is
// evicted. Nothing is persisted to disk.
type Gallery struct {
	max int
	met *metrics.Metrics

	mu    sync.RWMutex
	items []types.MediaArtifact
}

// ArtifactSummary is the listing view of one artifact. Payload bytes are
// served separately via download.
type ArtifactSummary struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
	SizeBytes    int       `json:"size_bytes"`
	Filename     string    `json:"filename,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	HasThumbnail bool      `json:"has_thumbnail,omitempty"`
}

// NewGallery creates a gallery holding at most max artifacts.
func NewGallery(max int, met *metrics.Metrics) *Gallery {
	if max <= 0 {
		max = 50
	}
	return &Gallery{max: max, met: met}
}

// Add stores an artifact, evicting the oldest when the gallery is full.
func (g *Gallery) Add(a types.MediaArtifact) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.items = append([]types.MediaArtifact{a}, g.items...)
	if g.met != nil {
		g.met.ArtifactsStored.Add(1)
	}

	if len(g.items) > g.max {
		evicted := g.items[len(g.items)-1]
		g.items = g.items[:len(g.items)-1]
		if g.met != nil {
			g.met.ArtifactsEvicted.Add(1)
		}
		logger.Debug("Gallery", "Evicted artifact %s (%s)", evicted.ID(), evicted.Kind)
	}
}

// Get returns the artifact with the given ID.
func (g *Gallery) Get(id string) (types.MediaArtifact, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, a := range g.items {
		if a.ID() == id {
			return a, nil
		}
	}
	return types.MediaArtifact{}, fmt.Errorf("artifact %q not found", id)
}

// Thumbnail returns the preview bytes for an artifact: the full still for
// captures, the stop-time thumbnail for recordings.
func (g *Gallery) Thumbnail(id string) ([]byte, error) {
	a, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case types.MediaImage:
		return a.Image.Image, nil
	case types.MediaVideo:
		if len(a.Video.Thumbnail) == 0 {
			return nil, fmt.Errorf("artifact %q has no thumbnail", id)
		}
		return a.Video.Thumbnail, nil
	default:
		return nil, fmt.Errorf("artifact %q has no thumbnail", id)
	}
}

// List returns summaries of all stored artifacts, newest first.
func (g *Gallery) List() []ArtifactSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ArtifactSummary, 0, len(g.items))
	for _, a := range g.items {
		s := ArtifactSummary{
			ID:        a.ID(),
			Kind:      a.Kind.String(),
			CreatedAt: a.CreatedAt(),
		}
		switch a.Kind {
		case types.MediaImage:
			s.SizeBytes = len(a.Image.Image)
		case types.MediaVideo:
			s.SizeBytes = len(a.Video.Clip)
			s.Filename = a.Video.Filename
			s.DurationMs = a.Video.Duration.Milliseconds()
			s.HasThumbnail = len(a.Video.Thumbnail) > 0
		}
		out = append(out, s)
	}
	return out
}

// Len returns the number of stored artifacts.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}
