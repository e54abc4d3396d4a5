package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/aetherlab/aether-go/pkg/log"
	"github.com/aetherlab/aether-go/pkg/version"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnknownScheme    = errors.New("unknown endpoint scheme")
)

// FrameConn is one physical framed connection to the device.
// Implementations are safe for one concurrent reader and one
// concurrent writer.
type FrameConn interface {
	// ReadFrame returns the next inbound frame payload.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame.
	WriteFrame(data []byte) error

	// SetReadDeadline bounds the next ReadFrame call.
	SetReadDeadline(t time.Time) error

	// RemoteAddr returns the device address.
	RemoteAddr() string

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// DialConfig configures how the device endpoint is dialed.
type DialConfig struct {
	// ConnectTimeout bounds the dial and TLS handshake (default: 10s).
	ConnectTimeout time.Duration

	// SSLVerify controls certificate verification for tls:// and
	// wss:// endpoints. Plain tcp:// and ws:// ignore it.
	SSLVerify bool

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// Logger receives transport-layer frame events (optional).
	Logger log.Logger

	// SessionID tags log events with the owning session.
	SessionID string
}

// DefaultDialConfig returns the default dial configuration.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout: 10 * time.Second,
		SSLVerify:      true,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Dial connects to a device endpoint. The URL scheme selects the
// transport: tcp, tls, ws, or wss.
func Dial(ctx context.Context, endpoint string, cfg DialConfig) (FrameConn, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	switch u.Scheme {
	case "tcp", "tls":
		return dialTCP(ctx, u, cfg)
	case "ws", "wss":
		return dialWebSocket(ctx, u, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}
}

// dialTCP establishes a plain or TLS TCP connection with length-prefix
// framing.
func dialTCP(ctx context.Context, u *url.URL, cfg DialConfig) (FrameConn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if u.Scheme == "tls" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: !cfg.SSLVerify,
			MinVersion:         tls.VersionTLS12,
			NextProtos:         version.SupportedALPNProtocols(),
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	framer := NewFramerWithMaxSize(conn, cfg.MaxMessageSize)
	if cfg.Logger != nil {
		framer.SetLogger(cfg.Logger, cfg.SessionID)
	}

	return &tcpConn{conn: conn, framer: framer, closeCh: make(chan struct{})}, nil
}

// tcpConn is a framed TCP or TLS connection.
type tcpConn struct {
	conn    net.Conn
	framer  *Framer
	closeCh chan struct{}

	closeOnce sync.Once
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}
	return c.framer.ReadFrame()
}

func (c *tcpConn) WriteFrame(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
