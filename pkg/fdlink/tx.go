package fdlink

import (
	"time"

	"fdlink/pkg/fdframe"
)

// enqueueService places a supervisory or unnumbered frame for peer onto
// the service queue and signals TX_DATA_AVAILABLE. It returns false if the
// queue is full (spec §4.1: allocation failure is silent, never blocking).
func (e *Engine) enqueueService(peer int, tag frameTag, ctrl byte, command bool, extra []byte) bool {
	header := fdframe.Header{Address: e.peerWireAddress(peer, command), Control: ctrl}
	if _, ok := e.suQueue.allocate(tag, header, extra); !ok {
		e.log.Warn("fdlink: service queue full, dropping frame for peer %d", e.peerNumber(peer))
		return false
	}
	e.setEvents(&e.globalEvents, evTXDataAvailable)
	return true
}

// allFramesAreSent reports whether every I-frame queued for peer has
// already been placed on the wire at least once (nextNS caught up to
// lastNS) — the "nothing outstanding to send" test spec §4.4/§4.6 refer to.
func (e *Engine) allFramesAreSent(peer int) bool {
	return e.peers[peer].nextNS == e.peers[peer].lastNS
}

// canAcceptIFrames is spec §8 invariant 3: the window has room for one
// more submitted I-frame.
func (e *Engine) canAcceptIFrames(peer int) bool {
	entry := &e.peers[peer]
	return seqAdd(entry.lastNS, 1) != entry.confirmNS
}

// confirmSentFrames is spec §4.6.1: walk confirmNS forward to nr, firing
// on_send for each now-acknowledged I-frame and freeing its slot.
func (e *Engine) confirmSentFrames(peer int, nr uint8) {
	entry := &e.peers[peer]
	for entry.confirmNS != nr {
		if entry.confirmNS == entry.lastNS {
			e.log.Warn("fdlink: peer %d acknowledged beyond what was sent", e.peerNumber(peer))
			break
		}
		if slot := e.iQueue.getI(e.peerWireAddress(peer, false), entry.confirmNS); slot != nil {
			payload := append([]byte(nil), slot.payload...)
			e.iQueue.free(slot)
			e.setEvents(&e.globalEvents, evQueueHasFreeSlots)
			if e.cfg.OnSend != nil {
				num := e.peerNumber(peer)
				e.mu.Unlock()
				e.cfg.OnSend(num, payload)
				e.mu.Lock()
			}
		}
		entry.confirmNS = seqAdd(entry.confirmNS, 1)
		entry.retries = e.cfg.Retries
	}
	if e.canAcceptIFrames(peer) {
		e.setEvents(&entry.events, evCanAcceptIFrames)
	}
}

// resendAllUnconfirmedFrames is spec §4.6.2: go-back-N on a received REJ.
// ctrl is the REJ frame's own control byte, carried into FRMR's data if
// the peer's N(R) turns out to be outside our window.
func (e *Engine) resendAllUnconfirmedFrames(peer int, ctrl byte, nr uint8) {
	entry := &e.peers[peer]
	for entry.nextNS != nr {
		if entry.confirmNS == entry.nextNS {
			extra := []byte{ctrl, (entry.nextNR << 5) | ((entry.nextNS & 0x07) << 1)}
			e.enqueueService(peer, tagU, fdframe.MakeUFrame(fdframe.UFrameFRMR), true, extra)
			return
		}
		entry.nextNS = seqSub(entry.nextNS, 1)
	}
	e.setEvents(&e.globalEvents, evTXDataAvailable)
}

// connectedCheckIdleTimeout is spec §4.6's CONNECTED/DISCONNECTING branch:
// retransmit the outstanding window or give up, and emit a keep-alive RR
// when the link has gone quiet.
func (e *Engine) connectedCheckIdleTimeout(peer int) {
	entry := &e.peers[peer]
	now := time.Now()

	if entry.confirmNS != entry.lastNS && entry.lastNS == entry.nextNS && now.Sub(entry.lastITs) >= e.cfg.RetryTimeout {
		if entry.retries > 0 {
			entry.retries--
			entry.nextNS = entry.confirmNS
			e.setEvents(&e.globalEvents, evTXDataAvailable)
		} else {
			e.switchToDisconnected(peer)
			return
		}
	}

	if now.Sub(entry.lastKaTs) > e.cfg.KATimeout {
		if !entry.kaConfirmed {
			e.switchToDisconnected(peer)
			return
		}
		entry.kaConfirmed = false
		e.enqueueService(peer, tagS, fdframe.MakeSFrame(fdframe.SFrameRR, entry.nextNR), false, nil)
		entry.lastKaTs = now
	}
}

// disconnectedCheckIdleTimeout is spec §4.6's disconnected/primary branch:
// periodically retry SABM/SNRM toward a peer we haven't connected to yet.
func (e *Engine) disconnectedCheckIdleTimeout(peer int) {
	entry := &e.peers[peer]
	if !e.isPrimaryStation() {
		return
	}
	now := time.Now()
	if now.Sub(entry.lastKaTs) >= e.cfg.RetryTimeout {
		subtype := fdframe.UFrameSABM
		if e.cfg.Mode == ModeNRM {
			subtype = fdframe.UFrameSNRM
		}
		e.enqueueService(peer, tagU, fdframe.MakeUFrame(subtype), true, nil)
		entry.state = StateConnecting
		entry.lastKaTs = now
	}
}

// advanceNextPeer moves the round-robin cursor to the next registered
// peer, skipping UnusedAddress slots, per spec §4.5.1's on_frame_send.
func (e *Engine) advanceNextPeer() {
	n := len(e.peers)
	for i := 1; i <= n; i++ {
		cand := (e.nextPeer + i) % n
		if e.peers[cand].address != UnusedAddress {
			e.nextPeer = cand
			return
		}
	}
}

// stampOutgoing applies spec §4.5.1 point 4 to every frame this engine
// transmits: OR in the P/F bit and stamp the marker/keep-alive clocks.
func (e *Engine) stampOutgoing(peer int, ctrl byte) byte {
	e.lastMarkerTs = time.Now()
	e.peers[peer].lastKaTs = e.lastMarkerTs
	return fdframe.WithPF(ctrl, true)
}

// getNextFrameToSend implements spec §4.5.1's per-peer selection order.
// freeFn, if non-nil, releases the queue slot the frame came from; it is
// invoked by the TX-completion wrapper once the frame is fully drained.
func (e *Engine) getNextFrameToSend(peer int) (header fdframe.Header, payload []byte, ok bool, freeFn func()) {
	entry := &e.peers[peer]
	ownAddr := e.peerWireAddress(peer, false)

	if slot := e.suQueue.getSU(ownAddr); slot != nil {
		header = slot.header
		payload = append([]byte(nil), slot.payload...)
		if fdframe.IsSFrame(header.Control) {
			entry.sentNR = fdframe.NR(header.Control)
		}
		header.Control = e.stampOutgoing(peer, header.Control)
		storedHeader := slot.header
		return header, payload, true, func() { e.suQueue.freeByHeader(storedHeader) }
	}

	if (entry.state == StateConnected || entry.state == StateDisconnecting) && entry.nextNS != entry.lastNS {
		ns := entry.nextNS
		if slot := e.iQueue.getI(ownAddr, ns); slot != nil {
			ctrl := fdframe.MakeIFrame(ns, entry.nextNR)
			payload = append([]byte(nil), slot.payload...)
			entry.nextNS = seqAdd(entry.nextNS, 1)
			entry.lastITs = time.Now()
			entry.sentNR = entry.nextNR
			ctrl = e.stampOutgoing(peer, ctrl)
			header = fdframe.Header{Address: ownAddr, Control: ctrl}
			return header, payload, true, nil
		}
	}

	if e.cfg.Mode == ModeNRM {
		if entry.state != StateConnected && e.isPrimaryStation() {
			ctrl := e.stampOutgoing(peer, fdframe.MakeUFrame(fdframe.UFrameSNRM))
			entry.state = StateConnecting
			header = fdframe.Header{Address: e.peerWireAddress(peer, true), Control: ctrl}
			return header, nil, true, nil
		}
		ctrl := fdframe.MakeSFrame(fdframe.SFrameRR, entry.nextNR)
		entry.sentNR = entry.nextNR
		ctrl = e.stampOutgoing(peer, ctrl)
		header = fdframe.Header{Address: ownAddr, Control: ctrl}
		return header, nil, true, nil
	}

	return fdframe.Header{}, nil, false, nil
}

// completeFrameSend is the Go analogue of the original framer's
// on_frame_send callback: free the slot (if any) and, in NRM, release the
// marker and hand it to the next registered peer.
func (e *Engine) completeFrameSend(peer int, header fdframe.Header, freeFn func()) {
	if freeFn != nil {
		freeFn()
	}
	if fdframe.HasPF(header.Control) && e.cfg.Mode == ModeNRM {
		e.clearEvents(&e.globalEvents, evHasMarker)
		if e.isPrimaryStation() {
			e.advanceNextPeer()
		}
	}
}

// tryProduceFrame runs one non-blocking scheduling attempt for the current
// round-robin peer: it services timeouts, then tries to pick a frame via
// getNextFrameToSend. Callers must hold e.mu. It fills e.txBuf and arms
// e.txOnComplete on success.
func (e *Engine) tryProduceFrame() bool {
	if len(e.peers) == 0 {
		return false
	}
	peer := e.nextPeer
	entry := &e.peers[peer]
	if entry.address == UnusedAddress {
		e.advanceNextPeer()
		return false
	}

	if entry.state == StateConnected || entry.state == StateDisconnecting {
		e.connectedCheckIdleTimeout(peer)
	} else {
		e.disconnectedCheckIdleTimeout(peer)
	}

	hasMarker := e.cfg.Mode == ModeABM || e.globalEvents&evHasMarker != 0
	if hasMarker {
		if header, payload, ok, freeFn := e.getNextFrameToSend(peer); ok {
			e.logFrame(dirTX, peer, header, payload)
			e.txBuf = e.enc.Encode(header.Address, header.Control, payload)
			e.txOnComplete = func() { e.completeFrameSend(peer, header, freeFn) }
			e.setEvents(&e.globalEvents, evTXSending)
			return true
		}
	}

	if e.isPrimaryStation() && e.cfg.Mode == ModeNRM && time.Since(e.lastMarkerTs) >= e.cfg.RetryTimeout {
		e.setEvents(&e.globalEvents, evHasMarker)
	}
	return false
}

// GetTXData is spec §6.2's get_tx_data / §4.5's get_tx_bytes: it drains any
// in-flight framed bytes first, otherwise attempts to produce a new frame,
// blocking up to timeout for TX_DATA_AVAILABLE/HAS_MARKER before giving up.
func (e *Engine) GetTXData(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return 0, ErrClosed
		}
		if len(e.txBuf) > 0 {
			n := copy(buf, e.txBuf)
			e.txBuf = e.txBuf[n:]
			if len(e.txBuf) == 0 {
				e.clearEvents(&e.globalEvents, evTXSending)
				if fn := e.txOnComplete; fn != nil {
					e.txOnComplete = nil
					fn()
				}
			}
			e.mu.Unlock()
			return n, nil
		}
		produced := e.tryProduceFrame()
		e.mu.Unlock()
		if produced {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		wait := remaining
		if wait > 20*time.Millisecond {
			wait = 20 * time.Millisecond
		}
		e.waitEvents(&e.globalEvents, evTXDataAvailable|evHasMarker, false, wait)
	}
}
