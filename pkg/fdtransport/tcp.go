package fdtransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPChannel implements PhysicalChannel over a net.Conn, adapted from the
// teacher's tcp_channel.go: one active connection, client-side auto-reconnect,
// atomic counters. Unlike the teacher, Read passes raw bytes straight through
// instead of parsing a fixed frame header — fdlink's own decoder finds frame
// boundaries.
type TCPChannel struct {
	conn     net.Conn
	connLock sync.RWMutex

	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	stateListener     ConnectionStateListener
	stateListenerLock sync.RWMutex

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel.
type TCPChannelConfig struct {
	Address        string        // "host:port"
	IsServer       bool          // true = listen, false = dial
	ReconnectDelay time.Duration // client-only retry interval
	ReadTimeout    time.Duration // 0 = 30s default; negative = no deadline
	WriteTimeout   time.Duration
}

// NewTCPChannel creates a TCP channel, listening or dialing per config.
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("fdtransport: address is required")
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	var err error
	if config.IsServer {
		err = tc.startServer()
	} else {
		err = tc.connect()
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return tc, nil
}

func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("fdtransport: listen on %s: %w", tc.address, err)
	}
	tc.listener = listener
	tc.wg.Add(1)
	go tc.acceptLoop()
	return nil
}

func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()
	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}
		if tcpListener, ok := tc.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := tc.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if tc.closed.Load() {
				return
			}
			continue
		}

		tc.connLock.Lock()
		hadConn := tc.conn != nil
		if tc.conn != nil {
			tc.conn.Close()
			tc.stats.disconnects.Add(1)
		}
		tc.conn = conn
		tc.stats.connects.Add(1)
		tc.connLock.Unlock()

		if hadConn {
			tc.notifyConnectionLost()
		}
		tc.notifyConnectionEstablished()
	}
}

func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("fdtransport: dial %s: %w", tc.address, err)
	}
	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()
	tc.notifyConnectionEstablished()

	tc.wg.Add(1)
	go tc.reconnectLoop()
	return nil
}

func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()
	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
			tc.connLock.RLock()
			conn := tc.conn
			tc.connLock.RUnlock()
			if conn != nil {
				continue
			}
			newConn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
			if err != nil {
				continue
			}
			tc.connLock.Lock()
			tc.conn = newConn
			tc.stats.connects.Add(1)
			tc.connLock.Unlock()
			tc.notifyConnectionEstablished()
		}
	}
}

// Read implements PhysicalChannel.
func (tc *TCPChannel) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-tc.ctx.Done():
			return 0, ErrChannelClosed
		default:
		}

		var conn net.Conn
		for {
			tc.connLock.RLock()
			conn = tc.conn
			tc.connLock.RUnlock()
			if conn != nil {
				break
			}
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-tc.ctx.Done():
				return 0, ErrChannelClosed
			}
		}

		if tc.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(tc.readTimeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			tc.handleReadError(err)
			continue
		}
		tc.stats.bytesReceived.Add(uint64(n))
		return n, nil
	}
}

// Write implements PhysicalChannel.
func (tc *TCPChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()
	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return ErrNoConnection
	}

	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}
	if _, err := conn.Write(data); err != nil {
		tc.handleWriteError(err)
		return err
	}
	tc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}
	tc.cancel()
	if tc.listener != nil {
		tc.listener.Close()
	}
	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()
	tc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.
func (tc *TCPChannel) Statistics() Statistics {
	return Statistics{
		BytesSent:     tc.stats.bytesSent.Load(),
		BytesReceived: tc.stats.bytesReceived.Load(),
		WriteErrors:   tc.stats.writeErrors.Load(),
		ReadErrors:    tc.stats.readErrors.Load(),
		Connects:      tc.stats.connects.Load(),
		Disconnects:   tc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel.
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.stateListenerLock.Lock()
	tc.stateListener = listener
	tc.stateListenerLock.Unlock()
}

func (tc *TCPChannel) notifyConnectionEstablished() {
	tc.stateListenerLock.RLock()
	l := tc.stateListener
	tc.stateListenerLock.RUnlock()
	if l != nil {
		l.OnConnectionEstablished()
	}
}

func (tc *TCPChannel) notifyConnectionLost() {
	tc.stateListenerLock.RLock()
	l := tc.stateListener
	tc.stateListenerLock.RUnlock()
	if l != nil {
		l.OnConnectionLost()
	}
}

func (tc *TCPChannel) handleReadError(err error) {
	tc.stats.readErrors.Add(1)
	tc.connLock.Lock()
	hadConn := tc.conn != nil
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()
	if hadConn {
		tc.notifyConnectionLost()
	}
}

func (tc *TCPChannel) handleWriteError(err error) {
	tc.stats.writeErrors.Add(1)
	tc.connLock.Lock()
	hadConn := tc.conn != nil
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()
	if hadConn {
		tc.notifyConnectionLost()
	}
}

// IsConnected reports whether there is an active connection.
func (tc *TCPChannel) IsConnected() bool {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn != nil
}
