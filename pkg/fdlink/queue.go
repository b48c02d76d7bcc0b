package fdlink

import "fdlink/pkg/fdframe"

// frameTag classifies a queue slot the way spec §4.1's {FREE,I,S,U} tag
// does.
type frameTag uint8

const (
	tagFree frameTag = iota
	tagI
	tagS
	tagU
)

// frameSlot is one entry of a frameQueue: a header plus a reused payload
// buffer, tagged by what it currently holds.
type frameSlot struct {
	tag     frameTag
	header  fdframe.Header
	payload []byte
}

// frameQueue is the fixed-capacity slab described in spec §4.1: a scan-for-
// FREE allocator and linear lookups by tag/address/N(S). Two instances back
// an Engine — one MTU-sized for I-frames, one 2-byte-sized for S/U frames
// (FRMR's two data bytes being the largest S/U payload).
type frameQueue struct {
	slots      []frameSlot
	payloadCap int
}

func newFrameQueue(numSlots, payloadCap int) *frameQueue {
	slots := make([]frameSlot, numSlots)
	for i := range slots {
		slots[i].payload = make([]byte, 0, payloadCap)
	}
	return &frameQueue{slots: slots, payloadCap: payloadCap}
}

// allocate finds the first FREE slot, tags it and copies src into it.
// It returns (nil, false) on a full queue — callers never block inside the
// queue itself, per spec §4.1.
func (q *frameQueue) allocate(tag frameTag, header fdframe.Header, src []byte) (*frameSlot, bool) {
	for i := range q.slots {
		if q.slots[i].tag == tagFree {
			s := &q.slots[i]
			s.tag = tag
			s.header = header
			s.payload = append(s.payload[:0], src...)
			return s, true
		}
	}
	return nil, false
}

// getI returns the I-slot for address carrying exactly sequence number ns,
// or nil. At most one I-slot per (address, ns) may exist at a time (spec
// §3's frame-queue invariant).
func (q *frameQueue) getI(address byte, ns uint8) *frameSlot {
	address = fdframe.StripCR(address)
	for i := range q.slots {
		s := &q.slots[i]
		if s.tag == tagI && fdframe.StripCR(s.header.Address) == address && fdframe.NS(s.header.Control) == ns {
			return s
		}
	}
	return nil
}

// getSU returns the queued S- or U-frame for address in the lowest-numbered
// slot, or nil. Because allocate reuses the first FREE slot, this is not
// necessarily the oldest queued frame for that address. The C/R bit is
// ignored when matching: a peer is identified by address, not by whether
// the queued frame happens to be a command or a response.
func (q *frameQueue) getSU(address byte) *frameSlot {
	address = fdframe.StripCR(address)
	for i := range q.slots {
		s := &q.slots[i]
		if (s.tag == tagS || s.tag == tagU) && fdframe.StripCR(s.header.Address) == address {
			return s
		}
	}
	return nil
}

func (q *frameQueue) free(s *frameSlot) {
	s.tag = tagFree
	s.payload = s.payload[:0]
}

// freeByHeader releases the slot whose header matches exactly — used by
// the TX-completion callback, which only knows the header it just handed
// the framer.
func (q *frameQueue) freeByHeader(header fdframe.Header) {
	for i := range q.slots {
		if q.slots[i].tag != tagFree && q.slots[i].header == header {
			q.free(&q.slots[i])
			return
		}
	}
}

// resetFor frees every slot belonging to address, used when a peer drops
// to DISCONNECTED and its window must be flushed.
func (q *frameQueue) resetFor(address byte) {
	address = fdframe.StripCR(address)
	for i := range q.slots {
		if q.slots[i].tag != tagFree && fdframe.StripCR(q.slots[i].header.Address) == address {
			q.free(&q.slots[i])
		}
	}
}

func (q *frameQueue) hasFreeSlots() bool {
	for i := range q.slots {
		if q.slots[i].tag == tagFree {
			return true
		}
	}
	return false
}

func (q *frameQueue) mtu() int { return q.payloadCap }
