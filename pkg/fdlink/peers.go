package fdlink

import (
	"time"

	"fdlink/pkg/fdframe"
)

// peerEntry is the per-peer bookkeeping record of spec §3: sequence
// counters are all taken modulo 8 by seqAdd/seqSub (state.go). address is
// the peer's encoded address field with the extension bit set and the C/R
// bit always clear (callers add C/R back in when stamping a command);
// UnusedAddress marks an inactive slot.
type peerEntry struct {
	address byte
	state   PeerState

	confirmNS uint8 // oldest unacknowledged N(S) we sent
	lastNS    uint8 // next free N(S) for queueing
	nextNS    uint8 // next N(S) to transmit
	nextNR    uint8 // N(R) we will send = next expected peer N(S)
	sentNR    uint8 // last N(R) we actually placed on wire

	sentReject bool
	retries    uint8

	kaConfirmed bool
	lastKaTs    time.Time
	lastITs     time.Time

	events eventBits
}

func newPeerEntry() peerEntry {
	return peerEntry{address: UnusedAddress, state: StateDisconnected}
}

// isPrimaryStation reports whether this engine's own address is the
// reserved primary address.
func (e *Engine) isPrimaryStation() bool {
	return e.cfg.Address == PrimaryAddress
}

func (e *Engine) isSecondaryStation() bool {
	return !e.isPrimaryStation()
}

// localAddressByte is this station's own address field, command bit clear.
func (e *Engine) localAddressByte() byte {
	return fdframe.EncodeAddress(e.cfg.Address, false)
}

// addressToPeer resolves a received address byte to a peer-table index,
// per spec §4.2.
func (e *Engine) addressToPeer(addr byte) (int, bool) {
	if !fdframe.HasExtension(addr) {
		return 0, false
	}
	stripped := fdframe.StripCR(addr)

	if e.isSecondaryStation() || e.cfg.Mode == ModeABM {
		if stripped == fdframe.StripCR(e.localAddressByte()) {
			return 0, true
		}
		return 0, false
	}

	// Primary, NRM: linear search the registered peer table.
	for i := range e.peers {
		if e.peers[i].address == UnusedAddress {
			continue
		}
		if fdframe.StripCR(e.peers[i].address) == stripped {
			return i, true
		}
	}
	return 0, false
}

// addressToPeerNumber is addressToPeer for callers working in plain peer
// numbers (0-62) rather than raw wire address bytes — the form every
// public Engine method and callback uses.
func (e *Engine) addressToPeerNumber(num byte) (int, bool) {
	return e.addressToPeer(fdframe.EncodeAddress(num, false))
}

// peerNumber returns peer's plain address number (0-62), the form used in
// OnRead/OnSend/OnConnect callbacks and all public API parameters.
func (e *Engine) peerNumber(peer int) byte {
	return e.peers[peer].address >> 2
}

// peerWireAddress returns the address byte to stamp on a frame sent to
// peer. The C/R bit marks command vs response, identically in ABM and
// NRM: SABM/SNRM/DISC/REJ/FRMR/RSET are commands (CR=1), UA/RR/I-frame are
// responses (CR=0).
func (e *Engine) peerWireAddress(peer int, command bool) byte {
	base := e.peers[peer].address &^ fdframe.AddrCRBit
	if command {
		return base | fdframe.AddrCRBit
	}
	return base
}
