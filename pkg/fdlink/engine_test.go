package fdlink

import (
	"testing"
	"time"

	"fdlink/pkg/fdframe"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CRCType = fdframe.CRCNone
	cfg.SendTimeout = 200 * time.Millisecond
	cfg.RetryTimeout = 200 * time.Millisecond
	cfg.KATimeout = time.Second
	return cfg
}

func TestNewEngineRejectsBadWindow(t *testing.T) {
	cfg := testConfig()
	cfg.WindowFrames = 1
	if _, err := NewEngine(cfg); err != ErrInvalidData {
		t.Errorf("WindowFrames=1: err = %v, want ErrInvalidData", err)
	}
	cfg.WindowFrames = 8
	if _, err := NewEngine(cfg); err != ErrInvalidData {
		t.Errorf("WindowFrames=8: err = %v, want ErrInvalidData", err)
	}
}

func TestNewEngineRejectsBadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Address = 63
	if _, err := NewEngine(cfg); err != ErrInvalidData {
		t.Errorf("Address=63: err = %v, want ErrInvalidData", err)
	}
}

func TestNewEngineDefaultsMTUAndRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MTU = 0
	cfg.Retries = 0
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.GetMTU() != 128 {
		t.Errorf("GetMTU() = %d, want 128 default", e.GetMTU())
	}
	if e.cfg.Retries != 3 {
		t.Errorf("Retries = %d, want default 3", e.cfg.Retries)
	}
}

func TestRegisterPeerRequiresNRMPrimary(t *testing.T) {
	cfg := testConfig() // ABM
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.RegisterPeer(1); err != ErrFailed {
		t.Errorf("RegisterPeer in ABM mode: err = %v, want ErrFailed", err)
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	cfg := testConfig()
	// A secondary never originates its own reconnection attempts (only the
	// primary retries disconnected/CONNECTING peers), so this engine has
	// nothing to send and GetTXData genuinely blocks until Close wakes it.
	cfg.Address = 1
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := e.GetTXData(make([]byte, 64), 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	e.Close()
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("GetTXData after Close: err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetTXData did not return after Close")
	}
}
