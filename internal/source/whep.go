package source

import (
	"context"

	"github.com/h-takeyama/riskwatch/internal/whep"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// WHEP is the remote-gateway source strategy: a receive-only session
// negotiated by the WHEP negotiator.
type WHEP struct {
	neg      *whep.Negotiator
	endpoint string
}

// NewWHEP wraps a negotiator and gateway endpoint as a source.
func NewWHEP(neg *whep.Negotiator, endpoint string) *WHEP {
	return &WHEP{neg: neg, endpoint: endpoint}
}

// Name identifies the strategy.
func (w *WHEP) Name() string { return "whep" }

// Start negotiates against the configured endpoint.
func (w *WHEP) Start(ctx context.Context) error {
	return w.neg.Connect(w.endpoint)
}

// SetEndpoint re-negotiates against a new gateway endpoint. The previous
// peer connection is closed before the replacement session starts.
func (w *WHEP) SetEndpoint(endpoint string) error {
	w.endpoint = endpoint
	return w.neg.Connect(endpoint)
}

// Retry re-attempts a failed negotiation.
func (w *WHEP) Retry() error { return w.neg.Retry() }

// Units is the depacketized access unit stream.
func (w *WHEP) Units() <-chan *types.AccessUnit { return w.neg.Units() }

// Live reports whether the session is connected.
func (w *WHEP) Live() bool {
	return w.neg.Status().State == whep.StateConnected
}

// Status exposes the session snapshot for the host's health surface.
func (w *WHEP) Status() whep.Status { return w.neg.Status() }

// UnitsDropped counts access units lost to buffer pressure.
func (w *WHEP) UnitsDropped() uint64 { return w.neg.UnitsDropped() }

// RequestKeyframe asks the gateway for an IDR.
func (w *WHEP) RequestKeyframe() error { return w.neg.RequestKeyframe() }

// Close tears the session down.
func (w *WHEP) Close() error { return w.neg.Close() }
