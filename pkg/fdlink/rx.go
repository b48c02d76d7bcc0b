package fdlink

import (
	"time"

	"fdlink/pkg/fdframe"
)

// OnRXData is spec §6.2's on_rx_data: feed received bytes through the
// framer and dispatch every complete frame it produces. It never blocks —
// run_rx may block only on its caller-supplied reader.
func (e *Engine) OnRXData(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	for _, raw := range e.dec.Feed(data) {
		e.onFrameRead(raw)
	}
	return nil
}

// onFrameRead is spec §4.4's RX dispatcher. Callers must hold e.mu.
func (e *Engine) onFrameRead(raw fdframe.RawFrame) {
	peer, ok := e.addressToPeer(raw.Header.Address)
	if !ok {
		return
	}
	entry := &e.peers[peer]
	entry.lastKaTs = time.Now()
	entry.kaConfirmed = true

	ctrl := raw.Header.Control
	e.logFrame(dirRX, peer, raw.Header, raw.Payload)

	switch {
	case fdframe.IsUFrame(ctrl):
		e.onUFrameRead(peer, ctrl, raw.Payload)
	case fdframe.IsIFrame(ctrl):
		if entry.state != StateConnected && entry.state != StateDisconnecting {
			e.autoReconnect(peer)
			break
		}
		e.onIFrameRead(peer, ctrl, raw.Payload)
	default: // S-frame
		if entry.state != StateConnected && entry.state != StateDisconnecting {
			e.autoReconnect(peer)
			break
		}
		e.onSFrameRead(peer, raw.Header.Address, ctrl)
	}

	if fdframe.HasPF(ctrl) && e.cfg.Mode == ModeNRM {
		e.setEvents(&e.globalEvents, evHasMarker)
		e.lastMarkerTs = time.Now()
	}
}

// autoReconnect is spec §4.4's "not-U while not CONNECTED/DISCONNECTING"
// rule: stray data from a peer we don't have a session with triggers a
// fresh connection attempt.
func (e *Engine) autoReconnect(peer int) {
	subtype := fdframe.UFrameSABM
	if e.cfg.Mode == ModeNRM {
		subtype = fdframe.UFrameSNRM
	}
	e.enqueueService(peer, tagU, fdframe.MakeUFrame(subtype), true, nil)
	e.peers[peer].state = StateConnecting
}

// onUFrameRead applies spec §4.3's transition table to an unnumbered
// frame.
func (e *Engine) onUFrameRead(peer int, ctrl byte, payload []byte) {
	entry := &e.peers[peer]
	switch fdframe.USubtype(ctrl) {
	case fdframe.UFrameSABM, fdframe.UFrameSNRM:
		if entry.state == StateConnected {
			// Open question (spec §9): this forces a fresh window through
			// an intermediate DISCONNECTED, firing on_connect twice.
			e.switchToDisconnected(peer)
		}
		e.enqueueService(peer, tagU, fdframe.MakeUFrame(fdframe.UFrameUA), false, nil)
		e.switchToConnected(peer)
	case fdframe.UFrameUA:
		if entry.state == StateDisconnecting {
			e.switchToDisconnected(peer)
		} else {
			e.switchToConnected(peer)
		}
	case fdframe.UFrameDISC:
		e.enqueueService(peer, tagU, fdframe.MakeUFrame(fdframe.UFrameUA), false, nil)
		e.switchToDisconnected(peer)
	case fdframe.UFrameFRMR:
		e.log.Warn("fdlink: peer %d reported FRMR, no automatic recovery", e.peerNumber(peer))
	case fdframe.UFrameRSET:
		e.log.Warn("fdlink: peer %d sent RSET, ignored", e.peerNumber(peer))
	default:
		e.log.Warn("fdlink: unknown U-frame subtype 0x%02x from peer %d", fdframe.USubtype(ctrl), e.peerNumber(peer))
	}
	_ = payload
}

// onIFrameRead applies spec §4.4's I-frame rule: accept in order, REJ on a
// gap, always confirm, piggyback an RR when nothing else will carry the ack.
func (e *Engine) onIFrameRead(peer int, ctrl byte, payload []byte) {
	entry := &e.peers[peer]
	ns := fdframe.NS(ctrl)
	nr := fdframe.NR(ctrl)

	if ns == entry.nextNR {
		entry.nextNR = seqAdd(entry.nextNR, 1)
		entry.sentReject = false
		e.fireRead(e.peerNumber(peer), payload)
	} else if !entry.sentReject {
		e.enqueueService(peer, tagS, fdframe.MakeSFrame(fdframe.SFrameREJ, entry.nextNR), true, nil)
		entry.sentReject = true
	}

	e.confirmSentFrames(peer, nr)

	if e.allFramesAreSent(peer) && entry.sentNR != entry.nextNR {
		e.enqueueService(peer, tagS, fdframe.MakeSFrame(fdframe.SFrameRR, entry.nextNR), false, nil)
	}
}

// onSFrameRead applies spec §4.4's S-frame rule.
func (e *Engine) onSFrameRead(peer int, addr byte, ctrl byte) {
	entry := &e.peers[peer]
	nr := fdframe.NR(ctrl)
	e.confirmSentFrames(peer, nr)

	if fdframe.SSubtype(ctrl) == fdframe.SFrameREJ {
		e.resendAllUnconfirmedFrames(peer, ctrl, nr)
		e.setEvents(&e.globalEvents, evTXDataAvailable)
		return
	}

	// RR. A command RR is a poll: answer it if we have nothing else
	// outstanding to carry the acknowledgment.
	if fdframe.IsCommand(addr) && e.allFramesAreSent(peer) {
		e.enqueueService(peer, tagS, fdframe.MakeSFrame(fdframe.SFrameRR, entry.nextNR), false, nil)
	}
}

// fireRead releases e.mu around the user's OnRead callback.
func (e *Engine) fireRead(addr byte, payload []byte) {
	if e.cfg.OnRead == nil {
		return
	}
	e.mu.Unlock()
	e.cfg.OnRead(addr, payload)
	e.mu.Lock()
}
