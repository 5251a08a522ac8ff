package h264

import (
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// NAL unit types (lower 5 bits of the NAL header byte)
const (
	NALTypeSlice uint8 = 1
	NALTypeIDR   uint8 = 5
	NALTypeSEI   uint8 = 6
	NALTypeSPS   uint8 = 7
	NALTypePPS   uint8 = 8
	NALTypeAUD   uint8 = 9
)

// Processor scans Annex-B access units, caches SPS/PPS headers and flags
// IDR units. Headers are needed both to make mid-stream recordings playable
// and to learn the stream's intrinsic pixel dimensions.
type Processor struct {
	spsCache   []byte
	ppsCache   []byte
	hasHeaders bool

	width  int
	height int
}

// NewProcessor creates an H.264 access unit processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process scans one access unit, caching SPS/PPS and marking IDR units.
// Only SPS/PPS are copied (rare, typically once per GOP); slice data is
// never duplicated.
func (p *Processor) Process(au *types.AccessUnit) error {
	data := au.Data
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}

		nalStart := offset
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			break
		}

		nalEnd := nextStartCode(data, headerOffset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}

		switch data[headerOffset] & 0x1F {
		case NALTypeSPS:
			p.spsCache = append([]byte(nil), data[nalStart:nalEnd]...)
			if w, h, err := ParseSPSDimensions(data[headerOffset:nalEnd]); err == nil {
				p.width, p.height = w, h
			}
		case NALTypePPS:
			p.ppsCache = append([]byte(nil), data[nalStart:nalEnd]...)
			if len(p.spsCache) > 0 {
				p.hasHeaders = true
			}
		case NALTypeIDR:
			au.IsIDR = true
		}

		offset = nalEnd
	}

	return nil
}

// PrependHeaders prepends cached SPS/PPS to an IDR access unit so it can be
// decoded standalone. Non-IDR data is returned unchanged.
func (p *Processor) PrependHeaders(data []byte) []byte {
	if !p.hasHeaders || !ContainsIDR(data) {
		return data
	}

	out := make([]byte, 0, len(p.spsCache)+len(p.ppsCache)+len(data))
	out = append(out, p.spsCache...)
	out = append(out, p.ppsCache...)
	out = append(out, data...)
	return out
}

// HasHeaders returns true if SPS/PPS headers are cached
func (p *Processor) HasHeaders() bool {
	return p.hasHeaders
}

// SPS returns the cached SPS NAL unit (start code included)
func (p *Processor) SPS() []byte {
	return p.spsCache
}

// PPS returns the cached PPS NAL unit (start code included)
func (p *Processor) PPS() []byte {
	return p.ppsCache
}

// Dimensions returns the intrinsic stream dimensions learned from the last
// SPS, or (0, 0) before any SPS has been seen.
func (p *Processor) Dimensions() (int, int) {
	return p.width, p.height
}

// ContainsIDR reports whether the Annex-B data carries an IDR slice.
func ContainsIDR(data []byte) bool {
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			return false
		}
		if data[headerOffset]&0x1F == NALTypeIDR {
			return true
		}
		next := nextStartCode(data, headerOffset+1)
		if next == -1 {
			return false
		}
		offset = next
	}
	return false
}

// startCodeAt returns the length of the start code at offset (3 or 4), or 0.
func startCodeAt(data []byte, offset int) int {
	if offset+4 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 0 && data[offset+3] == 1 {
		return 4
	}
	if offset+3 <= len(data) && data[offset] == 0 && data[offset+1] == 0 && data[offset+2] == 1 {
		return 3
	}
	return 0
}

// nextStartCode finds the next start code position at or after offset.
func nextStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if data[i+2] == 0x01 {
				return i
			}
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				return i
			}
		}
	}
	return -1
}
