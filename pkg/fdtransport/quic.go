package fdtransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICChannel implements PhysicalChannel over a single QUIC stream, adapted
// from the teacher's quic_channel.go. One stream carries the whole fdlink
// byte stream in each direction; fdlink's own flag-byte framing needs
// nothing more than ordered, reliable delivery, which a QUIC stream already
// guarantees.
type QUICChannel struct {
	connection *quic.Conn
	stream     *quic.Stream
	connLock   sync.RWMutex
	streamLock sync.RWMutex

	address        string
	isServer       bool
	listener       *quic.Listener
	reconnectDelay time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	tlsConfig      *tls.Config

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

// QUICChannelConfig configures a QUIC channel.
type QUICChannelConfig struct {
	Address        string
	IsServer       bool
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSConfig      *tls.Config // nil generates a self-signed cert
}

// NewQUICChannel creates a QUIC channel, listening or dialing per config.
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
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

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("fdtransport: generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	qc := &QUICChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
		tlsConfig:      tlsConfig,
		ctx:            ctx,
		cancel:         cancel,
	}

	var err error
	if config.IsServer {
		err = qc.startServer()
	} else {
		err = qc.connect()
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return qc, nil
}

func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{"fdlink-quic"},
		InsecureSkipVerify: true,
	}, nil
}

func (qc *QUICChannel) startServer() error {
	udpAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		return fmt.Errorf("fdtransport: resolve %s: %w", qc.address, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("fdtransport: listen on %s: %w", qc.address, err)
	}
	listener, err := quic.Listen(udpConn, qc.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("fdtransport: quic listen: %w", err)
	}
	qc.listener = listener
	qc.wg.Add(1)
	go qc.acceptLoop()
	return nil
}

func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()
	for {
		select {
		case <-qc.ctx.Done():
			return
		default:
		}
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.closed.Load() {
				return
			}
			continue
		}

		qc.connLock.Lock()
		hadConn := qc.connection != nil
		if qc.connection != nil {
			qc.connection.CloseWithError(0, "new connection")
			qc.stats.disconnects.Add(1)
		}
		qc.connection = conn
		qc.stats.connects.Add(1)
		qc.connLock.Unlock()

		qc.wg.Add(1)
		go qc.acceptStream(conn, hadConn)
	}
}

func (qc *QUICChannel) acceptStream(conn *quic.Conn, hadConnection bool) {
	defer qc.wg.Done()
	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		return
	}
	qc.streamLock.Lock()
	if qc.stream != nil {
		qc.stream.Close()
	}
	qc.stream = stream
	qc.streamLock.Unlock()

	if hadConnection {
		qc.notifyConnectionLost()
	}
	qc.notifyConnectionEstablished()
}

func (qc *QUICChannel) connect() error {
	localAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("fdtransport: resolve local addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("fdtransport: open udp socket: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("fdtransport: resolve %s: %w", qc.address, err)
	}
	conn, err := quic.Dial(qc.ctx, udpConn, remoteAddr, qc.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("fdtransport: dial %s: %w", qc.address, err)
	}
	stream, err := conn.OpenStreamSync(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return fmt.Errorf("fdtransport: open stream: %w", err)
	}

	qc.connLock.Lock()
	qc.connection = conn
	qc.stats.connects.Add(1)
	qc.connLock.Unlock()

	qc.streamLock.Lock()
	qc.stream = stream
	qc.streamLock.Unlock()

	qc.notifyConnectionEstablished()

	qc.wg.Add(1)
	go qc.reconnectLoop()
	return nil
}

func (qc *QUICChannel) reconnectLoop() {
	defer qc.wg.Done()
	for {
		select {
		case <-qc.ctx.Done():
			return
		case <-time.After(time.Second):
			qc.connLock.RLock()
			conn := qc.connection
			qc.connLock.RUnlock()
			if conn != nil && conn.Context().Err() == nil {
				continue
			}

			select {
			case <-qc.ctx.Done():
				return
			case <-time.After(qc.reconnectDelay):
			}

			localAddr, err := net.ResolveUDPAddr("udp", "0.0.0.0:0")
			if err != nil {
				continue
			}
			udpConn, err := net.ListenUDP("udp", localAddr)
			if err != nil {
				continue
			}
			remoteAddr, err := net.ResolveUDPAddr("udp", qc.address)
			if err != nil {
				udpConn.Close()
				continue
			}
			newConn, err := quic.Dial(qc.ctx, udpConn, remoteAddr, qc.tlsConfig, nil)
			if err != nil {
				continue
			}
			stream, err := newConn.OpenStreamSync(qc.ctx)
			if err != nil {
				newConn.CloseWithError(0, "open stream failed")
				continue
			}

			qc.connLock.Lock()
			if qc.connection != nil {
				qc.connection.CloseWithError(0, "reconnecting")
			}
			qc.connection = newConn
			qc.stats.connects.Add(1)
			qc.connLock.Unlock()

			qc.streamLock.Lock()
			if qc.stream != nil {
				qc.stream.Close()
			}
			qc.stream = stream
			qc.streamLock.Unlock()

			qc.notifyConnectionEstablished()
		}
	}
}

// Read implements PhysicalChannel.
func (qc *QUICChannel) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-qc.ctx.Done():
			return 0, ErrChannelClosed
		default:
		}

		var stream *quic.Stream
		for {
			qc.streamLock.RLock()
			stream = qc.stream
			qc.streamLock.RUnlock()
			if stream != nil {
				break
			}
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-qc.ctx.Done():
				return 0, ErrChannelClosed
			}
		}

		if qc.readTimeout > 0 {
			stream.SetReadDeadline(time.Now().Add(qc.readTimeout))
		}
		n, err := stream.Read(buf)
		if err != nil {
			qc.handleReadError(err)
			continue
		}
		qc.stats.bytesReceived.Add(uint64(n))
		return n, nil
	}
}

// Write implements PhysicalChannel.
func (qc *QUICChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	qc.streamLock.RLock()
	stream := qc.stream
	qc.streamLock.RUnlock()
	if stream == nil {
		qc.stats.writeErrors.Add(1)
		return ErrNoConnection
	}

	if qc.writeTimeout > 0 {
		stream.SetWriteDeadline(time.Now().Add(qc.writeTimeout))
	}
	if _, err := stream.Write(data); err != nil {
		qc.handleWriteError(err)
		return err
	}
	qc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}
	qc.cancel()
	if qc.listener != nil {
		qc.listener.Close()
	}
	qc.streamLock.Lock()
	if qc.stream != nil {
		qc.stream.Close()
		qc.stream = nil
	}
	qc.streamLock.Unlock()
	qc.connLock.Lock()
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "channel closed")
		qc.stats.disconnects.Add(1)
		qc.connection = nil
	}
	qc.connLock.Unlock()
	qc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.
func (qc *QUICChannel) Statistics() Statistics {
	return Statistics{
		BytesSent:     qc.stats.bytesSent.Load(),
		BytesReceived: qc.stats.bytesReceived.Load(),
		WriteErrors:   qc.stats.writeErrors.Load(),
		ReadErrors:    qc.stats.readErrors.Load(),
		Connects:      qc.stats.connects.Load(),
		Disconnects:   qc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel.
func (qc *QUICChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	qc.stateListenerLock.Lock()
	qc.stateListener = listener
	qc.stateListenerLock.Unlock()
}

func (qc *QUICChannel) notifyConnectionEstablished() {
	qc.stateListenerLock.RLock()
	l := qc.stateListener
	qc.stateListenerLock.RUnlock()
	if l != nil {
		l.OnConnectionEstablished()
	}
}

func (qc *QUICChannel) notifyConnectionLost() {
	qc.stateListenerLock.RLock()
	l := qc.stateListener
	qc.stateListenerLock.RUnlock()
	if l != nil {
		l.OnConnectionLost()
	}
}

func (qc *QUICChannel) handleReadError(err error) {
	qc.stats.readErrors.Add(1)
	qc.streamLock.Lock()
	if qc.stream != nil {
		qc.stream.Close()
		qc.stream = nil
	}
	qc.streamLock.Unlock()

	qc.connLock.Lock()
	hadConn := qc.connection != nil
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "read error")
		qc.stats.disconnects.Add(1)
		qc.connection = nil
	}
	qc.connLock.Unlock()
	if hadConn {
		qc.notifyConnectionLost()
	}
}

func (qc *QUICChannel) handleWriteError(err error) {
	qc.stats.writeErrors.Add(1)
	qc.streamLock.Lock()
	if qc.stream != nil {
		qc.stream.Close()
		qc.stream = nil
	}
	qc.streamLock.Unlock()

	qc.connLock.Lock()
	hadConn := qc.connection != nil
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "write error")
		qc.stats.disconnects.Add(1)
		qc.connection = nil
	}
	qc.connLock.Unlock()
	if hadConn {
		qc.notifyConnectionLost()
	}
}

// IsConnected reports whether there is an active connection.
func (qc *QUICChannel) IsConnected() bool {
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	return qc.connection != nil && qc.connection.Context().Err() == nil
}
