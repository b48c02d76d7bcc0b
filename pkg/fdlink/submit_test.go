package fdlink

import (
	"bytes"
	"testing"
	"time"

	"fdlink/pkg/fdframe"
)

// TestScenarioMTUFragmentation reproduces spec.md §8 scenario 6: a secondary
// station fragments an oversized payload into MTU-sized I-frames, and a
// single send_packet_to call larger than the MTU is rejected outright.
func TestScenarioMTUFragmentation(t *testing.T) {
	cfg := testConfig()
	cfg.Address = 1 // secondary
	cfg.MTU = 2
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// SABM addressed to this secondary (address 1, command bit set), then
	// drain and discard the UA response to reach CONNECTED.
	if err := e.OnRXData([]byte{0x7E, 0x07, 0x2F, 0x7E}); err != nil {
		t.Fatalf("OnRXData(SABM): %v", err)
	}
	drainTX(t, e, time.Second)

	remaining, err := e.SendTo(PrimaryAddress, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, e.cfg.SendTimeout)
	if err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if remaining != 0 {
		t.Errorf("SendTo left %d bytes unsent, want 0", remaining)
	}

	wantChunks := [][]byte{{0x01, 0x02}, {0x03, 0x04}, {0x05}}
	for i, want := range wantChunks {
		wire := drainTX(t, e, time.Second)
		frame := decodeOne(t, wire)
		if !fdframe.IsIFrame(frame.Header.Control) {
			t.Fatalf("chunk %d: control 0x%02X is not an I-frame", i, frame.Header.Control)
		}
		if fdframe.NS(frame.Header.Control) != uint8(i) {
			t.Errorf("chunk %d: N(S) = %d, want %d", i, fdframe.NS(frame.Header.Control), i)
		}
		if !bytes.Equal(frame.Payload, want) {
			t.Errorf("chunk %d: payload = % X, want % X", i, frame.Payload, want)
		}
	}

	if err := e.SendPacketTo(PrimaryAddress, []byte{0x09, 0x09, 0x09}, e.cfg.SendTimeout); err != ErrDataTooLarge {
		t.Errorf("SendPacketTo(3 bytes, MTU=2): err = %v, want ErrDataTooLarge", err)
	}
}

// TestSendPacketRejectsOnceIQueueIsFull submits enough packets to exhaust
// the I-queue (sized at one slot per outstanding window entry) and checks
// that the next submission is rejected with ErrTimeout, after waiting for a
// free slot, rather than silently overrunning it.
func TestSendPacketRejectsOnceIQueueIsFull(t *testing.T) {
	cfg := testConfig()
	cfg.WindowFrames = 2
	cfg.SendTimeout = 50 * time.Millisecond
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	mustConnect(t, e)

	for i := 0; i < int(cfg.WindowFrames); i++ {
		if err := e.SendPacket([]byte{byte(i)}, cfg.SendTimeout); err != nil {
			t.Fatalf("SendPacket %d: %v", i, err)
		}
	}

	err = e.SendPacket([]byte{0xFF}, cfg.SendTimeout)
	if err != ErrTimeout {
		t.Errorf("SendPacket once the I-queue is full: err = %v, want ErrTimeout", err)
	}
}

func TestSendPacketAfterCloseFails(t *testing.T) {
	cfg := testConfig()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.Close()
	if err := e.SendPacket([]byte{0x01}, time.Second); err != ErrClosed {
		t.Errorf("SendPacket after Close: err = %v, want ErrClosed", err)
	}
}
