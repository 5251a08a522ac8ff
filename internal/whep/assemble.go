package whep

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/h-takeyama/riskwatch/internal/h264"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// assembler reassembles RTP packets into complete H.264 access units. NALs
// belonging to the same RTP timestamp are concatenated in Annex-B form and
// the unit is emitted when the marker bit closes the frame.
type assembler struct {
	depacketizer *codecs.H264Packet
	pending      []byte
	timestamp    uint32
}

func newAssembler() *assembler {
	return &assembler{depacketizer: &codecs.H264Packet{}}
}

// push feeds one RTP packet. It returns a completed access unit when the
// packet carries the frame's marker bit.
func (a *assembler) push(pkt *rtp.Packet) (*types.AccessUnit, bool, error) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil, false, nil
	}

	// Timestamp change without a marker means the previous frame was cut
	// short; drop the partial unit rather than emit garbage.
	if len(a.pending) > 0 && pkt.Timestamp != a.timestamp {
		a.pending = a.pending[:0]
	}
	a.timestamp = pkt.Timestamp

	nal, err := a.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("h264 depacketize: %w", err)
	}
	a.pending = append(a.pending, nal...)

	if !pkt.Marker {
		return nil, false, nil
	}

	data := make([]byte, len(a.pending))
	copy(data, a.pending)
	a.pending = a.pending[:0]

	return &types.AccessUnit{
		Data:      data,
		Timestamp: time.Now(),
		IsIDR:     h264.ContainsIDR(data),
	}, true, nil
}
