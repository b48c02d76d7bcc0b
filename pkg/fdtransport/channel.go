// Package fdtransport provides pluggable byte-stream transports that feed
// an fdlink.Engine's RunRX/RunTX pump loops. Unlike a framed transport,
// Read/Write here move raw bytes: fdlink's own decoder is what finds frame
// boundaries inside whatever a PhysicalChannel happens to deliver.
package fdtransport

import (
	"context"
	"errors"
)

var (
	ErrChannelClosed = errors.New("fdtransport: channel is closed")
	ErrNoConnection  = errors.New("fdtransport: no active connection")
)

// ConnectionStateListener receives connect/disconnect notifications from a
// PhysicalChannel, the way the teacher's channel package notifies sessions.
type ConnectionStateListener interface {
	OnConnectionEstablished()
	OnConnectionLost()
}

// PhysicalChannel is the pluggable transport interface: any byte-stream
// carrier an Engine can be pumped over. Implementations must be safe for
// one concurrent reader and one concurrent writer.
type PhysicalChannel interface {
	// Read fills buf with whatever bytes are currently available, blocking
	// until at least one byte has arrived, ctx is cancelled, or the channel
	// is closed.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write sends data in full or returns an error.
	Write(ctx context.Context, data []byte) error

	Close() error

	// Statistics reports transport-level counters.
	Statistics() Statistics

	// SetConnectionStateListener registers a listener for connect/disconnect
	// events. Implementations that don't track connection state may ignore
	// calls to this method.
	SetConnectionStateListener(listener ConnectionStateListener)
}

// Statistics mirrors the teacher's TransportStats: plain counters any
// PhysicalChannel can expose regardless of underlying medium.
type Statistics struct {
	BytesSent     uint64
	BytesReceived uint64
	WriteErrors   uint64
	ReadErrors    uint64
	Connects      uint64
	Disconnects   uint64
}
