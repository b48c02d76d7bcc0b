package fdframe

import (
	"bytes"
	"testing"

	"fdlink/internal/logger"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	for _, crcType := range []CRCType{CRCNone, CRC8, CRC16, CRC32} {
		enc := NewEncoder(crcType)
		dec := NewDecoder(crcType, logger.NewNoOpLogger())

		payload := []byte{0x11, 0x22, 0x33}
		wire := enc.Encode(EncodeAddress(1, true), MakeIFrame(2, 3), payload)

		frames := dec.Feed(wire)
		if len(frames) != 1 {
			t.Fatalf("%v: got %d frames, want 1", crcType, len(frames))
		}
		f := frames[0]
		if f.Header.Address != EncodeAddress(1, true) {
			t.Errorf("%v: address = 0x%02X, want 0x%02X", crcType, f.Header.Address, EncodeAddress(1, true))
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Errorf("%v: payload = %v, want %v", crcType, f.Payload, payload)
		}
	}
}

// TestCRCOffScenario1 reproduces the ABM connect/disconnect byte sequence:
// RX SABM-to-local, TX UA, RX DISC, TX UA again.
func TestCRCOffScenario1(t *testing.T) {
	dec := NewDecoder(CRCNone, logger.NewNoOpLogger())
	enc := NewEncoder(CRCNone)

	sabm := []byte{0x7E, 0x03, 0x2F, 0x7E}
	frames := dec.Feed(sabm)
	if len(frames) != 1 {
		t.Fatalf("got %d frames decoding SABM, want 1", len(frames))
	}
	if frames[0].Header.Address != 0x03 || frames[0].Header.Control != 0x2F {
		t.Fatalf("decoded SABM = %+v, want address=0x03 control=0x2F", frames[0].Header)
	}

	ua := enc.Encode(0x01, 0x73, nil)
	if !bytes.Equal(ua, []byte{0x7E, 0x01, 0x73, 0x7E}) {
		t.Errorf("encoded UA = % X, want 7E 01 73 7E", ua)
	}

	disc := []byte{0x7E, 0x03, 0x43, 0x7E}
	frames = dec.Feed(disc)
	if len(frames) != 1 || frames[0].Header.Control != 0x43 {
		t.Fatalf("got %+v decoding DISC, want control=0x43", frames)
	}
}

// TestCRCOffScenario2 reproduces two in-order I-frames producing piggybacked
// RR acknowledgments.
func TestCRCOffScenario2(t *testing.T) {
	dec := NewDecoder(CRCNone, logger.NewNoOpLogger())
	enc := NewEncoder(CRCNone)

	i1 := []byte{0x7E, 0x03, 0x00, 0x11, 0x7E}
	i2 := []byte{0x7E, 0x03, 0x02, 0x22, 0x7E}

	frames := dec.Feed(i1)
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte{0x11}) {
		t.Fatalf("decoding first I-frame: got %+v", frames)
	}
	frames = dec.Feed(i2)
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte{0x22}) {
		t.Fatalf("decoding second I-frame: got %+v", frames)
	}

	rr1 := enc.Encode(0x01, 0x31, nil)
	rr2 := enc.Encode(0x01, 0x51, nil)
	if !bytes.Equal(rr1, []byte{0x7E, 0x01, 0x31, 0x7E}) {
		t.Errorf("encoded RR(1) = % X, want 7E 01 31 7E", rr1)
	}
	if !bytes.Equal(rr2, []byte{0x7E, 0x01, 0x51, 0x7E}) {
		t.Errorf("encoded RR(2) = % X, want 7E 01 51 7E", rr2)
	}
}

func TestDecoderDropsInterFrameJunk(t *testing.T) {
	dec := NewDecoder(CRCNone, logger.NewNoOpLogger())
	data := []byte{0xAA, 0xBB, 0x7E, 0x01, 0x03, 0x7E}
	frames := dec.Feed(data)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (junk before first flag should be discarded)", len(frames))
	}
}

func TestDecoderDropsBadCRC(t *testing.T) {
	dec := NewDecoder(CRC16, logger.NewNoOpLogger())
	enc := NewEncoder(CRC16)
	wire := enc.Encode(0x01, 0x03, []byte{0xAA})
	wire[2] ^= 0xFF // corrupt the control byte inside the frame body
	frames := dec.Feed(wire)
	if len(frames) != 0 {
		t.Fatalf("got %d frames from corrupted frame, want 0", len(frames))
	}
}

func TestDecoderHandlesEscapedBytes(t *testing.T) {
	dec := NewDecoder(CRCNone, logger.NewNoOpLogger())
	enc := NewEncoder(CRCNone)
	payload := []byte{flagByte, escByte, 0x00}
	wire := enc.Encode(0x01, 0x03, payload)
	frames := dec.Feed(wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, payload)
	}
}

func TestDecoderFeedAcrossMultipleCalls(t *testing.T) {
	dec := NewDecoder(CRCNone, logger.NewNoOpLogger())
	enc := NewEncoder(CRCNone)
	wire := enc.Encode(0x01, 0x03, []byte{0xDE, 0xAD})

	var frames []RawFrame
	for _, b := range wire {
		frames = append(frames, dec.Feed([]byte{b})...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames feeding one byte at a time, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, []byte{0xDE, 0xAD}) {
		t.Errorf("payload = % X, want DE AD", frames[0].Payload)
	}
}
