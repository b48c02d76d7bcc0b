package fdlink

import (
	"time"

	"fdlink/pkg/fdframe"
)

// SendPacketTo is spec §4.7's send_packet: submit one I-frame-sized
// payload to addr, waiting up to timeout for window/queue space.
func (e *Engine) SendPacketTo(addr byte, data []byte, timeout time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	resolved := addr
	if e.isSecondaryStation() && addr == PrimaryAddress {
		resolved = e.cfg.Address
	}
	peer, ok := e.addressToPeerNumber(resolved)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownPeer
	}
	if len(data) > e.iQueue.mtu() {
		e.mu.Unlock()
		return ErrDataTooLarge
	}
	e.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if !e.waitEvents(&e.peers[peer].events, evCanAcceptIFrames, true, time.Until(deadline)) {
		return ErrTimeout
	}
	if !e.waitEvents(&e.globalEvents, evQueueHasFreeSlots, true, time.Until(deadline)) {
		// Return the peer-local bit we already consumed so a later
		// retry (or another goroutine) still sees room on the window.
		e.mu.Lock()
		e.setEvents(&e.peers[peer].events, evCanAcceptIFrames)
		e.mu.Unlock()
		return ErrTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	entry := &e.peers[peer]
	ctrl := fdframe.MakeIFrame(entry.lastNS, 0)
	header := fdframe.Header{Address: e.peerWireAddress(peer, false), Control: ctrl}
	if _, ok := e.iQueue.allocate(tagI, header, data); !ok {
		return ErrOutOfMemory
	}
	entry.lastNS = seqAdd(entry.lastNS, 1)
	e.setEvents(&e.globalEvents, evTXDataAvailable)
	if e.iQueue.hasFreeSlots() {
		e.setEvents(&e.globalEvents, evQueueHasFreeSlots)
	}
	if e.canAcceptIFrames(peer) {
		e.setEvents(&entry.events, evCanAcceptIFrames)
	}
	return nil
}

// SendTo is spec §4.7's send: fragment data into MTU-sized chunks and
// submit each with SendPacketTo, returning the byte count not delivered
// on the first failure.
func (e *Engine) SendTo(addr byte, data []byte, timeout time.Duration) (int, error) {
	mtu := e.GetMTU()
	sent := 0
	for sent < len(data) {
		end := sent + mtu
		if end > len(data) {
			end = len(data)
		}
		if err := e.SendPacketTo(addr, data[sent:end], timeout); err != nil {
			return len(data) - sent, err
		}
		sent = end
	}
	return 0, nil
}

// SendPacket and Send address the single implicit peer — meaningful only
// in ABM or secondary mode, where there is exactly one.
func (e *Engine) SendPacket(data []byte, timeout time.Duration) error {
	return e.SendPacketTo(e.peerNumber(0), data, timeout)
}

func (e *Engine) Send(data []byte, timeout time.Duration) (int, error) {
	return e.SendTo(e.peerNumber(0), data, timeout)
}
