package fdframe

import "fdlink/internal/logger"

// Flag and escape bytes, same scheme pw_hdlc uses for its HDLC transport:
// 0x7E delimits frames, 0x7D escapes a literal flag or escape byte by
// XOR-ing it with 0x20.
const (
	flagByte byte = 0x7E
	escByte  byte = 0x7D
	escXor   byte = 0x20
)

// RawFrame is a complete, CRC-verified frame handed up from the byte stream:
// the black-box output of the framer the spec treats as an external
// collaborator.
type RawFrame struct {
	Header  Header
	Payload []byte
}

// Encoder turns an (address, control, payload) triple into a flag-delimited,
// byte-stuffed, checksummed wire frame.
type Encoder struct {
	crcType CRCType
}

func NewEncoder(crcType CRCType) *Encoder {
	return &Encoder{crcType: crcType}
}

// Encode returns the bytes to put on the wire for one frame, flags included.
func (e *Encoder) Encode(addr, ctrl byte, payload []byte) []byte {
	content := make([]byte, 0, 2+len(payload)+e.crcType.Size())
	content = append(content, addr, ctrl)
	content = append(content, payload...)
	content = e.crcType.Encode(content, content)

	out := make([]byte, 0, len(content)*2+2)
	out = append(out, flagByte)
	out = stuff(out, content)
	out = append(out, flagByte)
	return out
}

func stuff(dst, content []byte) []byte {
	for _, b := range content {
		if b == flagByte || b == escByte {
			dst = append(dst, escByte, b^escXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

type decodeState int

const (
	stateInterFrame decodeState = iota
	stateInFrame
	stateEscape
)

// Decoder reassembles RawFrames from an arbitrary byte stream, verifying the
// checksum of each frame as it completes. It never blocks and never returns
// a fatal error from a malformed frame: bad frames are logged and dropped,
// and decoding continues with the next flag.
type Decoder struct {
	crcType CRCType
	log     logger.Logger
	state   decodeState
	buf     []byte
	// junk counts non-flag bytes seen between frames, used to detect data
	// loss the way pw_hdlc's decoder does.
	junk int
}

func NewDecoder(crcType CRCType, log logger.Logger) *Decoder {
	return &Decoder{crcType: crcType, log: logger.OrNoOp(log)}
}

// Feed processes data and returns every frame completed while processing it.
// Malformed frames are logged and skipped; Feed never stops at them.
func (d *Decoder) Feed(data []byte) []RawFrame {
	var frames []RawFrame
	for _, b := range data {
		if frame, ok := d.feedByte(b); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

func (d *Decoder) feedByte(b byte) (RawFrame, bool) {
	switch d.state {
	case stateInterFrame:
		if b == flagByte {
			d.state = stateInFrame
			d.buf = d.buf[:0]
			if d.junk != 0 {
				d.log.Warn("fdframe: discarded %d byte(s) of inter-frame junk", d.junk)
				d.junk = 0
			}
		} else {
			d.junk++
		}
		return RawFrame{}, false

	case stateInFrame:
		switch {
		case b == flagByte:
			return d.finishFrame()
		case b == escByte:
			d.state = stateEscape
		default:
			d.buf = append(d.buf, b)
		}
		return RawFrame{}, false

	case stateEscape:
		if b == flagByte {
			// The flag byte can never be escaped; treat this as the
			// abandoned frame boundary and start fresh here.
			d.log.Warn("fdframe: escaped flag byte, dropping in-progress frame")
			d.state = stateInFrame
			d.buf = d.buf[:0]
			return RawFrame{}, false
		}
		d.buf = append(d.buf, b^escXor)
		d.state = stateInFrame
		return RawFrame{}, false
	}
	return RawFrame{}, false
}

func (d *Decoder) finishFrame() (RawFrame, bool) {
	content := d.buf
	d.buf = nil
	d.state = stateInFrame // next flag starts a fresh frame; repeated flags are idle

	if len(content) == 0 {
		return RawFrame{}, false // repeated flag bytes between frames are not an error
	}
	minLen := 2 + d.crcType.Size()
	if len(content) < minLen {
		d.log.Warn("fdframe: frame too short (%d bytes)", len(content))
		return RawFrame{}, false
	}
	if !d.crcType.Verify(content) {
		d.log.Warn("fdframe: crc mismatch, dropping frame")
		return RawFrame{}, false
	}
	body := content[:len(content)-d.crcType.Size()]
	return RawFrame{
		Header:  Header{Address: body[0], Control: body[1]},
		Payload: append([]byte(nil), body[2:]...),
	}, true
}
