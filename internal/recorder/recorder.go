// Package recorder accumulates encoded media chunks from the live stream
// into timed clips. Chunks are cut on a fixed interval while recording, so
// memory growth is bounded per-chunk and partial data survives a late
// failure instead of living in one unbounded buffer.
package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// State is the recording lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Config holds recording pipeline settings.
type Config struct {
	// ChunkInterval is how often the accumulating buffer is cut into a
	// sealed chunk while recording.
	ChunkInterval time.Duration
	// Clock overrides wall-clock time in tests.
	Clock func() time.Time
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{ChunkInterval: time.Second}
}

// Pipeline is the recording state machine. Exactly one recording session is
// active at a time; the pipeline keeps no state across recordings.
type Pipeline struct {
	cfg   Config
	clock func() time.Time

	mu        sync.Mutex
	state     State
	startTime time.Time
	lastCut   time.Time
	chunks    [][]byte
	current   []byte
	bytes     uint64
}

// New creates a recording pipeline. Construction fails on a non-positive
// chunk interval.
func New(cfg Config) (*Pipeline, error) {
	if cfg.ChunkInterval <= 0 {
		return nil, fmt.Errorf("chunk interval must be positive, got %s", cfg.ChunkInterval)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{cfg: cfg, clock: clock, state: StateIdle}, nil
}

// Start begins accumulating chunks. Starting while a session is active is
// rejected; state is left unchanged on failure.
func (r *Pipeline) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("already recording")
	}

	now := r.clock()
	r.state = StateRecording
	r.startTime = now
	r.lastCut = now
	r.chunks = nil
	r.current = nil
	r.bytes = 0

	logger.Info("Recorder", "Recording started")
	return nil
}

// Feed appends one encoded access unit to the active recording. Units fed
// while idle are ignored.
func (r *Pipeline) Feed(au *types.AccessUnit) {
	if au == nil || len(au.Data) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return
	}

	r.current = append(r.current, au.Data...)
	r.bytes += uint64(len(au.Data))

	if now := r.clock(); now.Sub(r.lastCut) >= r.cfg.ChunkInterval {
		r.cutLocked()
		r.lastCut = now
	}
}

// cutLocked seals the accumulating buffer into a chunk. Callers hold r.mu.
func (r *Pipeline) cutLocked() {
	if len(r.current) == 0 {
		return
	}
	r.chunks = append(r.chunks, r.current)
	r.current = nil
}

// Stop finalizes the session: remaining data is sealed, chunks are
// concatenated into one clip, and duration comes from wall-clock start/stop
// timestamps rather than chunk count. The overlay set passed in is the set
// active at the stop instant; thumbnail is the capture taken at stop time.
// The pipeline resets to Idle and retains no reference to the artifact.
func (r *Pipeline) Stop(thumbnail []byte, overlays []types.DetectionOverlay) (*types.RecordingArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, fmt.Errorf("not recording")
	}

	r.state = StateFinalizing
	r.cutLocked()

	stopTime := r.clock()
	duration := stopTime.Sub(r.startTime)

	clip := make([]byte, 0, r.bytes)
	for _, chunk := range r.chunks {
		clip = append(clip, chunk...)
	}
	chunkCount := len(r.chunks)

	overlaysCopy := make([]types.DetectionOverlay, len(overlays))
	copy(overlaysCopy, overlays)

	artifact := &types.RecordingArtifact{
		ID:        uuid.NewString(),
		Timestamp: stopTime,
		Duration:  duration,
		Clip:      clip,
		Thumbnail: thumbnail,
		Overlays:  overlaysCopy,
		Filename:  fmt.Sprintf("recording_%s.h264", r.startTime.Format("20060102_150405")),
	}

	r.chunks = nil
	r.current = nil
	r.bytes = 0
	r.state = StateIdle

	logger.Info("Recorder", "Recording stopped (%d chunks, %d bytes, %.1fs)",
		chunkCount, len(clip), duration.Seconds())
	return artifact, nil
}

// IsRecording returns true while a session is active.
func (r *Pipeline) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRecording
}

// Status holds the current recording status.
type Status struct {
	Recording  bool          `json:"recording"`
	State      string        `json:"state"`
	ChunkCount int           `json:"chunk_count"`
	Bytes      uint64        `json:"bytes_buffered"`
	Duration   time.Duration `json:"duration_ms"`
	StartTime  time.Time     `json:"start_time"`
}

// GetStatus returns a snapshot of the recording state.
func (r *Pipeline) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var duration time.Duration
	if r.state == StateRecording {
		duration = r.clock().Sub(r.startTime)
	}

	return Status{
		Recording:  r.state == StateRecording,
		State:      r.state.String(),
		ChunkCount: len(r.chunks),
		Bytes:      r.bytes,
		Duration:   duration,
		StartTime:  r.startTime,
	}
}
