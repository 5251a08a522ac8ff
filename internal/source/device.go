package source

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // register camera driver
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/h-takeyama/riskwatch/internal/h264"
	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Device is the local capture strategy: encoded chunks read straight from a
// capture device track instead of a negotiated remote stream.
type Device struct {
	deviceID string
	width    int
	height   int

	units chan *types.AccessUnit

	mu     sync.Mutex
	track  mediadevices.Track
	cancel context.CancelFunc
	live   bool
}

// NewDevice creates a local device source. An empty deviceID picks the
// first available camera.
func NewDevice(deviceID string, width, height int) *Device {
	return &Device{
		deviceID: deviceID,
		width:    width,
		height:   height,
		units:    make(chan *types.AccessUnit, 60),
	}
}

// Name identifies the strategy.
func (d *Device) Name() string { return "device" }

// Start opens the capture device and begins reading encoded chunks.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.live {
		return fmt.Errorf("device already open")
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if d.width > 0 {
				c.Width = prop.Int(d.width)
			}
			if d.height > 0 {
				c.Height = prop.Int(d.height)
			}
			if d.deviceID != "" {
				c.DeviceID = prop.String(d.deviceID)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("no video track on capture device")
	}
	track := tracks[0]

	reader, err := track.NewEncodedIOReader("h264")
	if err != nil {
		_ = track.Close()
		return fmt.Errorf("encoded reader: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.track = track
	d.cancel = cancel
	d.live = true

	logger.Info("Device", "Capture device open (track %s)", track.ID())
	go d.readLoop(runCtx, reader)
	return nil
}

func (d *Device) readLoop(ctx context.Context, reader io.ReadCloser) {
	defer reader.Close()

	buf := make([]byte, 1<<20)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := reader.Read(buf)
		if err != nil {
			if err != io.EOF {
				logger.Warn("Device", "Chunk read error: %v", err)
			}
			d.mu.Lock()
			d.live = false
			d.mu.Unlock()
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		au := &types.AccessUnit{
			Data:      data,
			Timestamp: time.Now(),
			IsIDR:     h264.ContainsIDR(data),
		}

		select {
		case d.units <- au:
		default:
			// Consumer behind, drop the chunk
		}
	}
}

// Units is the stream of encoded chunks.
func (d *Device) Units() <-chan *types.AccessUnit { return d.units }

// Live reports whether the device track is attached.
func (d *Device) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Close releases the device track.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.track != nil {
		if err := d.track.Close(); err != nil {
			logger.Warn("Device", "Error closing track: %v", err)
		}
		d.track = nil
	}
	d.live = false
	return nil
}
