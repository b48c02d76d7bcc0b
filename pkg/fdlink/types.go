package fdlink

import (
	"time"

	"fdlink/internal/logger"
	"fdlink/pkg/fdframe"
)

// Mode selects which station owns the right to transmit when.
type Mode int

const (
	// ModeABM is Asynchronous Balanced Mode: every registered peer may
	// transmit whenever it has something queued.
	ModeABM Mode = iota
	// ModeNRM is Normal Response Mode: the primary passes a token (the
	// marker, HasMarker event bit) to one secondary at a time.
	ModeNRM
)

func (m Mode) String() string {
	if m == ModeNRM {
		return "NRM"
	}
	return "ABM"
}

// PeerState is the per-peer connection state machine (spec §4.3).
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Event bits. Global bits live on the engine; CanAcceptIFrames is the one
// per-peer bit, held in each peer's own events word.
type eventBits uint32

const (
	evTXSending          eventBits = 1 << iota // framer is mid-frame
	evTXDataAvailable                          // a frame is queued somewhere and wants sending
	evQueueHasFreeSlots                        // the I-queue has at least one FREE slot
	evHasMarker                                // this station holds the NRM token (always set in ABM)
	evCanAcceptIFrames                         // per-peer: window has room for another submit
)

// UnusedAddress marks a peer-table slot that has never been registered.
const UnusedAddress byte = 0xFF

// PrimaryAddress is the reserved address of the primary station.
const PrimaryAddress byte = 0

// ReadCallback receives an in-order payload delivered to a peer.
type ReadCallback func(address byte, payload []byte)

// SendCallback fires once a previously submitted payload has been
// acknowledged by the peer (spec §4.6.1's on_send).
type SendCallback func(address byte, payload []byte)

// ConnectCallback fires on every CONNECTED/DISCONNECTED transition.
type ConnectCallback func(address byte, connected bool)

// LogCallback receives a decoded record of every frame sent or received,
// the way tiny_fd_proto_logger.c's __tiny_fd_log_frame feeds the user's
// log_frame hook.
type LogCallback func(rec FrameLogRecord)

// Config mirrors spec §6.2's init(cfg) fields. DefaultConfig fills in the
// same sane defaults the teacher's DefaultLinkLayerConfig does.
type Config struct {
	OnRead    ReadCallback
	OnSend    SendCallback
	OnConnect ConnectCallback
	LogFrame  LogCallback

	// Address is this station's local address in [0, 62]; 0 is the
	// reserved primary address.
	Address byte
	// Mode selects ABM or NRM.
	Mode Mode
	// PeersCount bounds how many peers RegisterPeer may activate on an NRM
	// primary, [0, 63], and sizes the frame queues. ABM and secondary
	// stations always track exactly one peer.
	PeersCount int
	// WindowFrames is the sliding window size, in [2, 7].
	WindowFrames uint8
	// MTU caps I-frame payload size. Zero (or a negative value) selects the
	// default of 128.
	MTU int
	// CRCType selects the framer's checksum.
	CRCType fdframe.CRCType

	SendTimeout  time.Duration
	RetryTimeout time.Duration
	KATimeout    time.Duration
	Retries      uint8

	Logger logger.Logger
}

// DefaultConfig returns sane defaults: ABM mode, window of 4, CRC-16,
// second-scale timeouts, 3 retries — the same shape as the teacher's
// DefaultLinkLayerConfig, adapted to this engine's fields.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeABM,
		PeersCount:   1,
		WindowFrames: 4,
		MTU:          128,
		CRCType:      fdframe.CRC16,
		SendTimeout:  2 * time.Second,
		RetryTimeout: 2 * time.Second,
		KATimeout:    5 * time.Second,
		Retries:      3,
	}
}
