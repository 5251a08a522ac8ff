// Package media assembles the live-media component: one source strategy
// feeding a playback surface, frame capturer and recording pipeline. The
// host drives it through a small imperative capability surface instead of
// reaching into the parts.
package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/h-takeyama/riskwatch/internal/capture"
	"github.com/h-takeyama/riskwatch/internal/decode"
	"github.com/h-takeyama/riskwatch/internal/h264"
	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/internal/metrics"
	"github.com/h-takeyama/riskwatch/internal/recorder"
	"github.com/h-takeyama/riskwatch/internal/source"
	"github.com/h-takeyama/riskwatch/internal/surface"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Handle is the capability surface the host holds: frame capture plus
// access to the live stream. No global registry, no implicit binding.
type Handle interface {
	// CaptureFrame returns an encoded still at intrinsic resolution, or
	// nil when capture is not ready.
	CaptureFrame() []byte
	// Stream returns the playback surface while a stream is live, nil
	// otherwise.
	Stream() *surface.Surface
}

// Config holds pipeline settings.
type Config struct {
	// StopOnSourceLoss forces an in-flight recording to finalize when the
	// session is torn down (endpoint change, close). When false the
	// recording keeps accumulating whatever the dying stream still
	// delivers, which is the default.
	StopOnSourceLoss bool
	// DecodeTimeout bounds one keyframe decode.
	DecodeTimeout time.Duration
	// ThumbnailWidth is the max width of recording thumbnails.
	ThumbnailWidth int
	// Recorder configures the recording pipeline.
	Recorder recorder.Config
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		DecodeTimeout:  5 * time.Second,
		ThumbnailWidth: 320,
		Recorder:       recorder.DefaultConfig(),
	}
}

// Pipeline is the live-media component, parameterized by a source strategy.
type Pipeline struct {
	cfg  Config
	src  source.Source
	surf *surface.Surface
	capt *capture.Capturer
	rec  *recorder.Pipeline
	proc *h264.Processor
	dec  decode.Decoder
	met  *metrics.Metrics

	decoding atomic.Bool

	mu            sync.Mutex
	forcedStops   func(types.MediaArtifact)
	overlaySource func() []types.DetectionOverlay

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the pipeline. The decoder may be nil, in which case captures
// report not-ready until a raster frame arrives some other way.
func New(cfg Config, src source.Source, dec decode.Decoder, met *metrics.Metrics) (*Pipeline, error) {
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = DefaultConfig().DecodeTimeout
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = DefaultConfig().ThumbnailWidth
	}
	if cfg.Recorder.ChunkInterval <= 0 {
		cfg.Recorder = recorder.DefaultConfig()
	}

	rec, err := recorder.New(cfg.Recorder)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	surf := surface.New()
	return &Pipeline{
		cfg:  cfg,
		src:  src,
		surf: surf,
		capt: capture.New(surf),
		rec:  rec,
		proc: h264.NewProcessor(),
		dec:  dec,
		met:  met,
	}, nil
}

// Start acquires the source and begins distributing access units.
func (p *Pipeline) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.src.Start(runCtx); err != nil {
		// Negotiation failures are recoverable via retry; the unit
		// distributor still runs so a later retry resumes media flow.
		logger.Warn("Media", "Source start failed: %v", err)
		if p.met != nil {
			p.met.NegotiationFailures.Add(1)
		}
	} else if p.met != nil {
		p.met.SessionsNegotiated.Add(1)
	}

	p.wg.Add(1)
	go p.distribute(runCtx)
	return nil
}

// distribute fans access units out to the recorder and the decode path.
func (p *Pipeline) distribute(ctx context.Context) {
	defer p.wg.Done()

	keyframeTick := time.NewTicker(3 * time.Second)
	defer keyframeTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case au := <-p.src.Units():
			if au == nil {
				continue
			}
			if p.met != nil {
				p.met.UnitsReceived.Add(1)
			}

			if err := p.proc.Process(au); err != nil {
				logger.Warn("Media", "Access unit scan error: %v", err)
				continue
			}

			p.rec.Feed(au)
			p.updateRecordingMetrics()

			if au.IsIDR {
				p.decodeKeyframe(ctx, au)
			}

		case <-keyframeTick.C:
			// No raster frame yet means no IDR has arrived; nudge the
			// gateway so capture becomes available.
			if w, ok := p.src.(*source.WHEP); ok {
				if p.met != nil {
					p.met.UnitsDropped.Store(w.UnitsDropped())
					if w.Live() {
						p.met.SessionConnected.Store(1)
					} else {
						p.met.SessionConnected.Store(0)
					}
				}
				if w.Live() && p.surf.FrameCount() == 0 {
					if err := w.RequestKeyframe(); err != nil {
						logger.Debug("Media", "Keyframe request failed: %v", err)
					}
				}
			}
		}
	}
}

// decodeKeyframe refreshes the playback surface from an IDR unit. Decodes
// run one at a time; units arriving mid-decode are skipped, the surface
// only ever needs the latest frame.
func (p *Pipeline) decodeKeyframe(ctx context.Context, au *types.AccessUnit) {
	if p.dec == nil || !p.proc.HasHeaders() {
		return
	}
	width, height := p.proc.Dimensions()
	if width <= 0 || height <= 0 {
		return
	}
	if !p.decoding.CompareAndSwap(false, true) {
		return
	}

	standalone := p.proc.PrependHeaders(au.Data)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.decoding.Store(false)

		decodeCtx, cancel := context.WithTimeout(ctx, p.cfg.DecodeTimeout)
		defer cancel()

		frame, err := p.dec.DecodeKeyframe(decodeCtx, standalone, width, height)
		if err != nil {
			if p.met != nil {
				p.met.DecodeErrors.Add(1)
			}
			logger.Debug("Media", "Keyframe decode failed: %v", err)
			return
		}
		if p.surf.Publish(frame) && p.met != nil {
			p.met.FramesDecoded.Add(1)
		}
	}()
}

// CaptureFrame snapshots the current frame; nil means capture is not ready.
func (p *Pipeline) CaptureFrame() []byte {
	data := p.capt.CaptureFrame()
	if p.met != nil {
		if data == nil {
			p.met.CapturesNotReady.Add(1)
		} else {
			p.met.CapturesTaken.Add(1)
		}
	}
	return data
}

// Preview encodes the current frame for the display stream without touching
// capture counters; preview pulls frames continuously and would drown them.
func (p *Pipeline) Preview() []byte {
	return p.capt.CaptureFrame()
}

// Stream returns the playback surface while the source is live.
func (p *Pipeline) Stream() *surface.Surface {
	if !p.src.Live() {
		return nil
	}
	return p.surf
}

// Surface exposes the playback surface regardless of liveness, for display
// paths that render a placeholder when the stream is down.
func (p *Pipeline) Surface() *surface.Surface { return p.surf }

// Source returns the underlying source strategy.
func (p *Pipeline) Source() source.Source { return p.src }

// StartRecording begins a recording session. Starting without a live
// stream is a reported failure with no state change.
func (p *Pipeline) StartRecording() error {
	if !p.src.Live() {
		if p.met != nil {
			p.met.RecordingFailures.Add(1)
		}
		return fmt.Errorf("no live stream")
	}
	if err := p.rec.Start(); err != nil {
		if p.met != nil {
			p.met.RecordingFailures.Add(1)
		}
		return err
	}
	if p.met != nil {
		p.met.RecordingsStarted.Add(1)
		p.met.RecordingActive.Store(1)
	}
	return nil
}

// StopRecording finalizes the active session. The overlay set passed in is
// attached as the set active at the stop instant, and the thumbnail is
// derived from a capture taken now.
func (p *Pipeline) StopRecording(overlays []types.DetectionOverlay) (*types.RecordingArtifact, error) {
	still := p.capt.CaptureFrame()
	thumb := capture.Thumbnail(still, p.cfg.ThumbnailWidth)

	artifact, err := p.rec.Stop(thumb, overlays)
	if p.met != nil {
		p.met.RecordingActive.Store(0)
	}
	return artifact, err
}

// RecordingStatus returns the recorder snapshot.
func (p *Pipeline) RecordingStatus() recorder.Status {
	return p.rec.GetStatus()
}

// OnForcedStop registers the sink receiving artifacts from recordings the
// pipeline had to finalize itself (source teardown with StopOnSourceLoss).
func (p *Pipeline) OnForcedStop(sink func(types.MediaArtifact)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedStops = sink
}

// SetOverlaySource registers the host's overlay supplier. The pipeline
// queries it when it has to finalize a recording itself, so the artifact
// carries the set active at the stop instant.
func (p *Pipeline) SetOverlaySource(fn func() []types.DetectionOverlay) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlaySource = fn
}

// Overlays returns the overlay set active right now, nil without a source.
func (p *Pipeline) Overlays() []types.DetectionOverlay {
	p.mu.Lock()
	fn := p.overlaySource
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// SetEndpoint re-points the WHEP source at a new gateway. Teardown of the
// old session (peer connection closed, surface cleared) happens before the
// replacement negotiation; an in-flight recording is finalized first when
// StopOnSourceLoss is set.
func (p *Pipeline) SetEndpoint(endpoint string) error {
	w, ok := p.src.(*source.WHEP)
	if !ok {
		return fmt.Errorf("source %q does not use a gateway endpoint", p.src.Name())
	}

	p.handleSourceLoss()
	p.surf.Clear()

	err := w.SetEndpoint(endpoint)
	if p.met != nil {
		if err != nil {
			p.met.NegotiationFailures.Add(1)
		} else {
			p.met.SessionsNegotiated.Add(1)
		}
	}
	return err
}

// RetrySession re-attempts a failed negotiation; the manual retry
// affordance surfaced to the operator.
func (p *Pipeline) RetrySession() error {
	w, ok := p.src.(*source.WHEP)
	if !ok {
		return fmt.Errorf("source %q does not negotiate sessions", p.src.Name())
	}
	p.surf.Clear()

	err := w.Retry()
	if p.met != nil {
		if err != nil {
			p.met.NegotiationFailures.Add(1)
		} else {
			p.met.SessionsNegotiated.Add(1)
		}
	}
	return err
}

// handleSourceLoss finalizes an in-flight recording when configured to do
// so. Without StopOnSourceLoss the recording stays open: the recorder only
// depends on the chunk feed, not the session object.
func (p *Pipeline) handleSourceLoss() {
	if !p.cfg.StopOnSourceLoss || !p.rec.IsRecording() {
		return
	}

	artifact, err := p.StopRecording(p.Overlays())
	if err != nil {
		logger.Warn("Media", "Forced recording stop failed: %v", err)
		return
	}

	p.mu.Lock()
	sink := p.forcedStops
	p.mu.Unlock()
	if sink != nil {
		sink(types.NewVideoArtifact(artifact))
	} else {
		logger.Warn("Media", "Forced stop produced artifact %s with no sink; discarded", artifact.ID)
	}
}

func (p *Pipeline) updateRecordingMetrics() {
	if p.met == nil {
		return
	}
	status := p.rec.GetStatus()
	if status.Recording {
		p.met.RecordingActive.Store(1)
		p.met.RecordingBytes.Store(status.Bytes)
		p.met.RecordingChunks.Store(uint64(status.ChunkCount))
	} else {
		p.met.RecordingActive.Store(0)
	}
}

// Close tears the component down: source closed, surface cleared, workers
// drained. An in-flight recording is finalized first when StopOnSourceLoss
// is set.
func (p *Pipeline) Close() error {
	p.handleSourceLoss()

	err := p.src.Close()
	p.surf.Clear()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return err
}
