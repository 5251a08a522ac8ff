// Package decode turns encoded keyframes into raster frames for the
// playback surface. Decoding shells out to ffmpeg; when the binary is
// missing the capture path degrades to "not ready" and the session itself
// is unaffected.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Decoder produces a raster frame from one standalone keyframe access unit
// (SPS/PPS prepended).
type Decoder interface {
	DecodeKeyframe(ctx context.Context, annexB []byte, width, height int) (*types.RasterFrame, error)
}

// FFmpeg decodes keyframes through the ffmpeg binary.
type FFmpeg struct {
	path string
}

// NewFFmpeg locates ffmpeg on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	logger.Debug("Decode", "Using ffmpeg at %s", path)
	return &FFmpeg{path: path}, nil
}

// DecodeKeyframe decodes one Annex-B keyframe into an NV12 raster frame at
// the stream's intrinsic dimensions.
func (f *FFmpeg) DecodeKeyframe(ctx context.Context, annexB []byte, width, height int) (*types.RasterFrame, error) {
	want := types.NV12Size(width, height)
	if want == 0 {
		return nil, fmt.Errorf("invalid intrinsic dimensions %dx%d", width, height)
	}
	if len(annexB) == 0 {
		return nil, fmt.Errorf("empty access unit")
	}

	cmd := exec.CommandContext(ctx, f.path,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "nv12",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(annexB)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w (%s)", err, bytes.TrimSpace(stderr.Bytes()))
	}

	out := stdout.Bytes()
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d bytes, want %d for %dx%d nv12", len(out), want, width, height)
	}

	return &types.RasterFrame{
		Data:      out,
		Width:     width,
		Height:    height,
		Timestamp: time.Now(),
	}, nil
}
