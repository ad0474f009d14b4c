package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket transport defaults.
const (
	// DefaultConnectTimeout is the handshake timeout.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultWriteTimeout is the per-frame write deadline.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxMessageSize bounds inbound frames (1 MiB payload
	// ceiling plus envelope overhead).
	DefaultMaxMessageSize = 2 << 20
)

// WebsocketConfig configures the websocket dialer.
type WebsocketConfig struct {
	// ConnectTimeout is the handshake timeout (default: 30s).
	ConnectTimeout time.Duration

	// WriteTimeout is the per-frame write deadline (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageSize bounds inbound frames (default: 2 MiB).
	MaxMessageSize int64
}

// WebsocketDialer dials websocket connections to the gateway.
type WebsocketDialer struct {
	config WebsocketConfig
}

// NewWebsocketDialer creates a websocket dialer.
func NewWebsocketDialer(config WebsocketConfig) *WebsocketDialer {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	return &WebsocketDialer{config: config}
}

// Dial opens a websocket connection to the given URL.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.ConnectTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	conn.SetReadLimit(d.config.MaxMessageSize)

	return &WebsocketConn{
		conn:         conn,
		writeTimeout: d.config.WriteTimeout,
	}, nil
}

// WebsocketConn is a websocket-backed Conn.
type WebsocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Serializes writers; gorilla/websocket allows one concurrent
	// writer only.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Send writes one text frame.
func (c *WebsocketConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads the next frame. Control frames are handled inside the
// websocket library; only data frames are returned.
func (c *WebsocketConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

// Close sends a close frame on a best-effort basis and closes the
// underlying connection. Safe to call more than once.
func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
