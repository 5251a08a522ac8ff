package whep

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

func packet(ts uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Timestamp: ts, Marker: marker},
		Payload: payload,
	}
}

func TestAssemblerEmitsOnMarker(t *testing.T) {
	asm := newAssembler()

	// Single NAL unit packets: SPS fragment then IDR slice carrying the
	// marker bit.
	au, ok, err := asm.push(packet(1000, false, []byte{0x67, 0x42, 0x00, 0x1e}))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if ok || au != nil {
		t.Fatal("unit emitted before marker")
	}

	au, ok, err = asm.push(packet(1000, true, []byte{0x65, 0x88, 0x84, 0x00}))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !ok || au == nil {
		t.Fatal("marker packet did not complete the unit")
	}

	if !bytes.Contains(au.Data, []byte{0x00, 0x00, 0x00, 0x01, 0x67}) {
		t.Fatal("unit missing first NAL in Annex-B form")
	}
	if !bytes.Contains(au.Data, []byte{0x00, 0x00, 0x00, 0x01, 0x65}) {
		t.Fatal("unit missing IDR NAL in Annex-B form")
	}
	if !au.IsIDR {
		t.Fatal("IDR unit not flagged")
	}
}

func TestAssemblerDropsPartialOnTimestampChange(t *testing.T) {
	asm := newAssembler()

	if _, ok, _ := asm.push(packet(1000, false, []byte{0x41, 0x9a, 0x02})); ok {
		t.Fatal("partial unit emitted")
	}

	// New timestamp without a closing marker: the old partial must not
	// leak into this unit.
	au, ok, err := asm.push(packet(2000, true, []byte{0x65, 0x88, 0x84}))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !ok {
		t.Fatal("marker packet did not complete the unit")
	}
	if bytes.Contains(au.Data, []byte{0x41, 0x9a}) {
		t.Fatal("stale partial data leaked into new unit")
	}
}

func TestAssemblerIgnoresEmptyPackets(t *testing.T) {
	asm := newAssembler()

	if _, ok, err := asm.push(nil); ok || err != nil {
		t.Fatalf("nil packet: ok=%v err=%v", ok, err)
	}
	if _, ok, err := asm.push(packet(1, true, nil)); ok || err != nil {
		t.Fatalf("empty payload: ok=%v err=%v", ok, err)
	}
}

func TestAssemblerNonIDRUnit(t *testing.T) {
	asm := newAssembler()

	au, ok, err := asm.push(packet(3000, true, []byte{0x41, 0x9a, 0x02}))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !ok {
		t.Fatal("unit not emitted")
	}
	if au.IsIDR {
		t.Fatal("non-IDR slice flagged as IDR")
	}
}
