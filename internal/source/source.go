// Package source defines the media source strategy. The live-media
// component is parameterized by a Source: either a remote stream negotiated
// over WHEP or a local capture device. Both feed the same downstream
// surface, capture and recording pipeline.
package source

import (
	"context"

	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Source supplies encoded access units from a live media stream.
type Source interface {
	// Name identifies the strategy ("whep" or "device").
	Name() string
	// Start acquires the stream. Blocking work is bounded by the
	// strategy's own timeouts.
	Start(ctx context.Context) error
	// Units is the stream of encoded access units.
	Units() <-chan *types.AccessUnit
	// Live reports whether a stream is currently attached.
	Live() bool
	// Close releases the stream and all transport resources.
	Close() error
}
