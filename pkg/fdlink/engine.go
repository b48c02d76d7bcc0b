// Package fdlink implements the full-duplex, reliable, connection-oriented
// HDLC-style link-layer engine: multi-peer primary/secondary bookkeeping,
// ABM/NRM operating modes, a sliding window with modulo-8 sequence numbers,
// REJ-driven go-back-N retransmission, and SABM/SNRM/UA/DISC connection
// lifecycle. It is transport-agnostic: callers push received bytes in and
// pull bytes-to-send out through fdframe's wire codec.
package fdlink

import (
	"sync"
	"time"

	"fdlink/internal/logger"
	"fdlink/pkg/fdframe"
)

// Engine is the protocol state machine. All exported methods are safe for
// concurrent use: a single mutex guards the peer table, both frame queues
// and the event bitmask, released only around user callbacks.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg Config
	log logger.Logger

	peers   []peerEntry
	iQueue  *frameQueue
	suQueue *frameQueue

	enc *fdframe.Encoder
	dec *fdframe.Decoder

	globalEvents eventBits
	nextPeer     int
	lastMarkerTs time.Time

	// txBuf holds the bytes of the frame currently being drained out
	// through GetTXData; txOnComplete runs once txBuf empties, replacing
	// the original framer's asynchronous on_frame_send callback.
	txBuf       []byte
	txOnComplete func()

	closed bool
}

const (
	minWindow = 2
	maxWindow = 7
	maxPeers  = 63
	maxAddr   = 62
)

// NewEngine validates cfg and constructs an Engine, the Go-idiomatic
// equivalent of spec §6.2's init(cfg). There is no caller-provided buffer
// to carve storage from — Go slices own their own backing arrays — but
// every other init-time validation spec §7 requires still applies.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.WindowFrames < minWindow || cfg.WindowFrames > maxWindow {
		return nil, ErrInvalidData
	}
	if cfg.PeersCount < 0 || cfg.PeersCount > maxPeers {
		return nil, ErrInvalidData
	}
	if cfg.Address > maxAddr {
		return nil, ErrInvalidData
	}
	if cfg.SendTimeout <= 0 || cfg.RetryTimeout <= 0 || cfg.KATimeout <= 0 {
		return nil, ErrInvalidData
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 128
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}

	e := &Engine{
		cfg: cfg,
		log: logger.OrNoOp(cfg.Logger),
	}
	e.cond = newEventCond(&e.mu)
	e.enc = fdframe.NewEncoder(cfg.CRCType)
	e.dec = fdframe.NewDecoder(cfg.CRCType, e.log)

	// I-queue sized at one slot per outstanding window entry per peer;
	// the S/U queue only ever needs a couple of slots per peer in flight.
	peersForSizing := cfg.PeersCount
	if peersForSizing < 1 {
		peersForSizing = 1
	}
	e.iQueue = newFrameQueue(peersForSizing*int(cfg.WindowFrames), cfg.MTU)
	e.suQueue = newFrameQueue(peersForSizing*2, 2)

	switch {
	case cfg.Mode == ModeABM || cfg.Address != PrimaryAddress:
		// A single implicit peer: the one station on the other end of
		// this point-to-point (or ABM) link, identified by our own
		// address (spec §4.2's secondary/ABM branch of address_to_peer).
		e.peers = []peerEntry{newPeerEntry()}
		e.peers[0].address = e.localAddressByte()
	default:
		// Primary, NRM: peers are activated by RegisterPeer.
		n := cfg.PeersCount
		if n < 1 {
			n = 1
		}
		e.peers = make([]peerEntry, n)
		for i := range e.peers {
			e.peers[i] = newPeerEntry()
		}
	}

	e.globalEvents = evQueueHasFreeSlots
	// ABM has no token to pass; every station may send whenever it has
	// something queued. In NRM the primary originates the polling cycle, so
	// it starts out holding its own marker; a secondary only acquires it
	// when a PF-marked frame arrives from the primary (rx.go).
	if cfg.Mode == ModeABM || e.isPrimaryStation() {
		e.globalEvents |= evHasMarker
	}
	e.lastMarkerTs = time.Now()
	return e, nil
}

// Close releases the engine; no further calls are valid afterward. It
// mirrors spec §6.2's close(handle), which in the original frees the
// mutex/event-group HAL objects — here there is nothing to free beyond
// marking the engine closed and waking any blocked waiters.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	return nil
}

// GetStatus reports whether the engine is still usable.
func (e *Engine) GetStatus() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// GetMTU returns the configured maximum I-frame payload size.
func (e *Engine) GetMTU() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iQueue.mtu()
}

// SetKATimeout changes the keep-alive timeout at runtime.
func (e *Engine) SetKATimeout(d time.Duration) {
	e.mu.Lock()
	e.cfg.KATimeout = d
	e.mu.Unlock()
}

// RegisterPeer activates a peer-table slot for a secondary address, NRM
// primary only, per spec §6.2.
func (e *Engine) RegisterPeer(addr byte) error {
	if addr < 1 || addr > maxAddr {
		return ErrInvalidData
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.Mode != ModeNRM || !e.isPrimaryStation() {
		return ErrFailed
	}
	for i := range e.peers {
		if e.peers[i].address == UnusedAddress {
			e.peers[i].address = fdframe.EncodeAddress(addr, false)
			return nil
		}
	}
	return ErrOutOfMemory
}

// Disconnect requests an orderly teardown of addr's connection, per spec
// §4.3's CONNECTED -> disconnect() -> DISCONNECTING transition.
func (e *Engine) Disconnect(addr byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	peer, ok := e.addressToPeerNumber(addr)
	if !ok {
		return ErrUnknownPeer
	}
	entry := &e.peers[peer]
	if entry.state != StateConnected {
		return ErrFailed
	}
	entry.state = StateDisconnecting
	e.enqueueService(peer, tagU, fdframe.MakeUFrame(fdframe.UFrameDISC), true, nil)
	return nil
}

// BufferSizeByMTUEx estimates the byte footprint this engine's queues and
// peer table would occupy, kept for API parity with spec §6.2's
// size_by_mtu_ex even though Go's slices grow from the heap instead of a
// caller-carved buffer.
func BufferSizeByMTUEx(peers, mtu, txWindow int, crcType fdframe.CRCType, rxWindow int) int {
	peerEntrySize := 48
	iSlotSize := mtu + 8
	suSlotSize := 2 + 8
	return peers*peerEntrySize + peers*txWindow*iSlotSize + peers*2*suSlotSize + rxWindow*iSlotSize
}

// RunRX is the convenience pump loop of spec §6.2: it calls readFn for
// fresh bytes and feeds them to OnRXData until readFn returns an error or
// the engine is closed.
func (e *Engine) RunRX(readFn func([]byte) (int, error)) error {
	buf := make([]byte, 256)
	for {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return ErrClosed
		}
		n, err := readFn(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			e.OnRXData(buf[:n])
		}
	}
}

// RunTX is the convenience pump loop of spec §6.2: it calls GetTXData and
// hands whatever it produces to writeFn, in a loop, until writeFn returns
// an error or the engine is closed.
func (e *Engine) RunTX(writeFn func([]byte) (int, error)) error {
	buf := make([]byte, 256)
	for {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return ErrClosed
		}
		n, err := e.GetTXData(buf, e.cfg.SendTimeout)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if _, err := writeFn(buf[:n]); err != nil {
			return err
		}
	}
}
