package fdlink

import "time"

// seqAdd and seqSub are the modulo-8 sequence arithmetic helpers spec §9
// recommends in place of inline masking.
func seqAdd(a, b uint8) uint8 { return (a + b) & 7 }
func seqSub(a, b uint8) uint8 { return (a - b) & 7 }

// switchToConnected drives a peer into CONNECTED per spec §4.3: it resets
// every sequence counter, re-arms the window, and fires on_connect(addr,
// true) with the engine mutex released. Callers must hold e.mu; it is
// released only for the duration of the callback.
func (e *Engine) switchToConnected(peer int) {
	entry := &e.peers[peer]
	if entry.state == StateConnected {
		return
	}
	entry.confirmNS = 0
	entry.lastNS = 0
	entry.nextNS = 0
	entry.nextNR = 0
	entry.sentNR = 0
	entry.sentReject = false
	entry.retries = e.cfg.Retries
	entry.kaConfirmed = true
	entry.lastKaTs = time.Now()
	entry.lastITs = entry.lastKaTs

	entry.state = StateConnected
	e.setEvents(&entry.events, evCanAcceptIFrames)
	e.setEvents(&e.globalEvents, evTXDataAvailable)
	if e.iQueue.hasFreeSlots() {
		e.setEvents(&e.globalEvents, evQueueHasFreeSlots)
	}

	e.fireConnect(e.peerNumber(peer), true)
}

// switchToDisconnected drives a peer into DISCONNECTED per spec §4.3: it
// clears CAN_ACCEPT_I_FRAMES, flushes the peer's I-queue entries, and
// fires on_connect(addr, false) with the mutex released.
func (e *Engine) switchToDisconnected(peer int) {
	entry := &e.peers[peer]
	if entry.state == StateDisconnected {
		return
	}
	e.clearEvents(&entry.events, evCanAcceptIFrames)
	e.iQueue.resetFor(e.peerWireAddress(peer, false))
	entry.state = StateDisconnected

	e.fireConnect(e.peerNumber(peer), false)
}

// fireConnect releases e.mu around the user's OnConnect callback, per
// spec §5's callback re-entry rule, then reacquires it.
func (e *Engine) fireConnect(addr byte, connected bool) {
	if e.cfg.OnConnect == nil {
		return
	}
	e.mu.Unlock()
	e.cfg.OnConnect(addr, connected)
	e.mu.Lock()
}
