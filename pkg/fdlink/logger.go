package fdlink

import "fdlink/pkg/fdframe"

// Direction tags a FrameLogRecord as inbound or outbound.
type Direction int

const (
	dirRX Direction = iota
	dirTX
)

func (d Direction) String() string {
	if d == dirTX {
		return "TX"
	}
	return "RX"
}

// FrameLogRecord is the decoded record handed to Config.LogFrame for
// every frame sent or received, the way tiny_fd_proto_logger.c's
// __tiny_fd_log_frame decodes a control byte before logging it.
type FrameLogRecord struct {
	Direction Direction
	Address   byte // plain peer number
	Kind      string
	Subtype   string
	NS        uint8
	NR        uint8
	PF        bool
	Payload   []byte
}

// logFrame decodes header/payload and releases e.mu around the user's
// LogFrame callback. Callers must hold e.mu.
func (e *Engine) logFrame(dir Direction, peer int, header fdframe.Header, payload []byte) {
	if e.cfg.LogFrame == nil {
		return
	}
	rec := decodeLogRecord(dir, e.peerNumber(peer), header, payload)
	e.mu.Unlock()
	e.cfg.LogFrame(rec)
	e.mu.Lock()
}

func decodeLogRecord(dir Direction, addr byte, header fdframe.Header, payload []byte) FrameLogRecord {
	ctrl := header.Control
	rec := FrameLogRecord{
		Direction: dir,
		Address:   addr,
		PF:        fdframe.HasPF(ctrl),
		Payload:   payload,
	}
	switch {
	case fdframe.IsIFrame(ctrl):
		rec.Kind = "I"
		rec.NS = fdframe.NS(ctrl)
		rec.NR = fdframe.NR(ctrl)
	case fdframe.IsSFrame(ctrl):
		rec.Kind = "S"
		rec.NR = fdframe.NR(ctrl)
		if fdframe.SSubtype(ctrl) == fdframe.SFrameREJ {
			rec.Subtype = "REJ"
		} else {
			rec.Subtype = "RR"
		}
	default:
		rec.Kind = "U"
		switch fdframe.USubtype(ctrl) {
		case fdframe.UFrameSABM:
			rec.Subtype = "SABM"
		case fdframe.UFrameSNRM:
			rec.Subtype = "SNRM"
		case fdframe.UFrameUA:
			rec.Subtype = "UA"
		case fdframe.UFrameDISC:
			rec.Subtype = "DISC"
		case fdframe.UFrameFRMR:
			rec.Subtype = "FRMR"
		case fdframe.UFrameRSET:
			rec.Subtype = "RSET"
		default:
			rec.Subtype = "UNKNOWN"
		}
	}
	return rec
}
