package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aetherlab/aether-go/pkg/log"
)

// dialWebSocket connects to a device exposing the WebSocket endpoint.
// Frames map one-to-one to binary WebSocket messages, so no length
// prefix is needed.
func dialWebSocket(ctx context.Context, u *url.URL, cfg DialConfig) (FrameConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: !cfg.SSLVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(int64(cfg.MaxMessageSize))

	return &wsConn{
		conn:      conn,
		maxSize:   cfg.MaxMessageSize,
		logger:    cfg.Logger,
		sessionID: cfg.SessionID,
		closeCh:   make(chan struct{}),
	}, nil
}

// wsConn is a framed WebSocket connection.
type wsConn struct {
	conn      *websocket.Conn
	maxSize   uint32
	logger    log.Logger
	sessionID string
	closeCh   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// The device only speaks binary frames; skip anything else.
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			return nil, ErrMessageEmpty
		}
		if c.logger != nil {
			c.logger.Log(makeFrameEvent(c.sessionID, data, log.DirectionIn))
		}
		return data, nil
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > c.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), c.maxSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Log(makeFrameEvent(c.sessionID, data, log.DirectionOut))
	}
	return nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		// Best-effort close handshake before dropping the socket.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}
