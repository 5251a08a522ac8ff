// Package whep negotiates a receive-only WebRTC session against a remote
// media gateway using the WHEP pattern: a single HTTP POST carrying the
// local offer SDP, answered with the remote answer SDP.
package whep

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// State is the lifecycle state of a session.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = map[State]string{
	StateNew:        "new",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateFailed:     "failed",
	StateClosed:     "closed",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the state as its wire name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Status is a snapshot of the current session.
type Status struct {
	State    State  `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Endpoint string `json:"endpoint"`
}

// peerConn is the slice of *webrtc.PeerConnection the negotiator drives.
// Negotiation logic is written against it so session lifecycle behavior can
// be exercised without opening real transports.
type peerConn interface {
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	GatherComplete() <-chan struct{}
	WriteRTCP(pkts []rtcp.Packet) error
	Close() error
}

// pionPeer adapts *webrtc.PeerConnection to peerConn.
type pionPeer struct {
	*webrtc.PeerConnection
}

func (p *pionPeer) GatherComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.PeerConnection)
}

// Config holds negotiator settings.
type Config struct {
	STUNServers []string
	// Timeout bounds the offer/answer HTTP exchange.
	Timeout time.Duration
	// UnitBuffer is the capacity of the access unit channel.
	UnitBuffer int
}

// DefaultConfig returns negotiator defaults.
func DefaultConfig() Config {
	return Config{
		STUNServers: []string{"stun:stun.l.google.com:19302"},
		Timeout:     10 * time.Second,
		UnitBuffer:  60, // 2 seconds at 30fps
	}
}

// Negotiator owns at most one live peer connection and performs the WHEP
// offer/answer exchange. A new negotiation always closes the previous peer
// connection first; failures surface through Status and are never retried
// automatically.
type Negotiator struct {
	cfg    Config
	client *http.Client

	// newPeer creates the underlying peer connection. Replaceable in tests.
	newPeer func() (peerConn, error)

	units chan *types.AccessUnit

	// negMu serializes Connect/Retry/Close so no two negotiations overlap.
	negMu sync.Mutex

	mu           sync.Mutex
	endpoint     string
	state        State
	reason       string
	pc           peerConn
	track        *webrtc.TrackRemote
	generation   uint64
	unitsDropped uint64
}

// NewNegotiator creates a negotiator using pion peer connections.
func NewNegotiator(cfg Config) *Negotiator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UnitBuffer <= 0 {
		cfg.UnitBuffer = DefaultConfig().UnitBuffer
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultConfig().STUNServers
	}

	n := &Negotiator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		units:  make(chan *types.AccessUnit, cfg.UnitBuffer),
		state:  StateNew,
	}
	n.newPeer = n.newPionPeer
	return n
}

func (n *Negotiator) newPionPeer() (peerConn, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(n.cfg.STUNServers))
	for _, url := range n.cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeer{PeerConnection: pc}, nil
}

// Connect tears down any existing session and negotiates a new one against
// the given endpoint. It blocks for the offer/answer exchange (bounded by
// the configured timeout) and returns the negotiation error, which is also
// reflected in Status.
func (n *Negotiator) Connect(endpoint string) error {
	n.negMu.Lock()
	defer n.negMu.Unlock()

	// Teardown happens synchronously before any replacement session: a
	// leaked peer connection keeps media threads and a gateway session
	// alive, which is the primary hazard here.
	n.mu.Lock()
	n.closeLocked()
	n.endpoint = endpoint
	n.state = StateConnecting
	n.reason = ""
	n.generation++
	gen := n.generation
	n.mu.Unlock()

	// Units buffered from the previous gateway must not surface as media
	// from the replacement session.
	n.drainUnits()

	pc, err := n.newPeer()
	if err != nil {
		return n.fail(gen, fmt.Errorf("peer connection: %w", err))
	}

	n.mu.Lock()
	n.pc = pc
	n.mu.Unlock()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return n.fail(gen, fmt.Errorf("add recvonly transceiver: %w", err))
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		n.mu.Lock()
		if n.generation != gen {
			n.mu.Unlock()
			return
		}
		n.track = track
		n.state = StateConnected
		n.mu.Unlock()

		logger.Info("WHEP", "Inbound video track attached (codec %s)", track.Codec().MimeType)
		go n.readLoop(gen, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WHEP", "Peer connection state: %s", state.String())
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateDisconnected {
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.generation != gen || n.state == StateClosed {
			return
		}
		n.state = StateFailed
		n.reason = fmt.Sprintf("peer connection %s", state.String())
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return n.fail(gen, fmt.Errorf("create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return n.fail(gen, fmt.Errorf("set local description: %w", err))
	}

	// Wait for ICE gathering so the posted offer carries candidates.
	select {
	case <-pc.GatherComplete():
	case <-time.After(n.cfg.Timeout):
		return n.fail(gen, fmt.Errorf("ice gathering timed out after %s", n.cfg.Timeout))
	}

	local := pc.LocalDescription()
	if local == nil {
		return n.fail(gen, fmt.Errorf("no local description available"))
	}

	answerSDP, err := n.exchange(endpoint, local.SDP)
	if err != nil {
		return n.fail(gen, err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return n.fail(gen, fmt.Errorf("apply answer: %w", err))
	}

	logger.Info("WHEP", "Offer/answer exchange complete with %s", endpoint)
	return nil
}

// exchange POSTs the offer SDP and returns the answer SDP.
func (n *Negotiator) exchange(endpoint, offerSDP string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gateway answer: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gateway rejected offer: %s", resp.Status)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("gateway returned empty answer")
	}

	return string(body), nil
}

// fail records the failure for the given generation and closes the peer
// connection opened for it. Failures are terminal until Retry.
func (n *Negotiator) fail(gen uint64, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.generation == gen {
		if n.pc != nil {
			_ = n.pc.Close()
			n.pc = nil
		}
		n.track = nil
		n.state = StateFailed
		n.reason = err.Error()
	}
	logger.Error("WHEP", "Negotiation failed: %v", err)
	return err
}

// readLoop depacketizes inbound RTP into access units until the peer
// connection for this generation goes away.
func (n *Negotiator) readLoop(gen uint64, track *webrtc.TrackRemote) {
	asm := newAssembler()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug("WHEP", "RTP read loop ended: %v", err)
			return
		}

		n.mu.Lock()
		stale := n.generation != gen
		n.mu.Unlock()
		if stale {
			return
		}

		au, ok, err := asm.push(pkt)
		if err != nil {
			logger.Warn("WHEP", "Depacketize error: %v", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case n.units <- au:
		default:
			n.mu.Lock()
			n.unitsDropped++
			n.mu.Unlock()
		}
	}
}

// Units is the stream of depacketized access units.
func (n *Negotiator) Units() <-chan *types.AccessUnit {
	return n.units
}

// drainUnits discards everything buffered on the unit channel.
func (n *Negotiator) drainUnits() {
	for {
		select {
		case <-n.units:
		default:
			return
		}
	}
}

// Stream returns the current inbound remote track, or nil while not
// connected.
func (n *Negotiator) Stream() *webrtc.TrackRemote {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateConnected {
		return nil
	}
	return n.track
}

// RequestKeyframe asks the gateway for an IDR via RTCP PLI.
func (n *Negotiator) RequestKeyframe() error {
	n.mu.Lock()
	pc, track := n.pc, n.track
	n.mu.Unlock()
	if pc == nil || track == nil {
		return fmt.Errorf("no live session")
	}
	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
}

// Retry re-attempts negotiation against the current endpoint. The manual
// retry affordance for Failed sessions; no automatic backoff exists.
func (n *Negotiator) Retry() error {
	n.mu.Lock()
	endpoint := n.endpoint
	n.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}
	return n.Connect(endpoint)
}

// Status returns a snapshot of the session.
func (n *Negotiator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{State: n.state, Reason: n.reason, Endpoint: n.endpoint}
}

// UnitsDropped reports units discarded because the consumer fell behind.
func (n *Negotiator) UnitsDropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unitsDropped
}

// Close tears the session down: the peer connection is closed and the
// negotiator moves to Closed. Safe to call repeatedly.
func (n *Negotiator) Close() error {
	n.negMu.Lock()
	defer n.negMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
	n.state = StateClosed
	n.generation++
	return nil
}

// closeLocked closes the live peer connection, if any. Callers hold n.mu.
func (n *Negotiator) closeLocked() {
	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			logger.Warn("WHEP", "Error closing peer connection: %v", err)
		}
		n.pc = nil
	}
	n.track = nil
}
