// Package transport abstracts the socket primitive behind small interfaces
// so the connection manager can be driven by a real WebSocket or an
// in-memory fake.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established duplex connection.
type Conn interface {
	// ReadMessage blocks until the next frame or a connection error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close tears the connection down. Idempotent; unblocks ReadMessage.
	Close() error
}

// Dialer establishes connections. The context bounds the dial attempt.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options tune the gorilla-backed implementation.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1024 * 1024
	}
	return o
}

// WebSocketDialer dials WebSocket endpoints using gorilla/websocket.
type WebSocketDialer struct {
	opts Options
}

// NewWebSocketDialer creates a dialer with the given options.
func NewWebSocketDialer(opts Options) *WebSocketDialer {
	return &WebSocketDialer{opts: opts.withDefaults()}
}

// Dial connects to url and returns the established connection.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.opts.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ws.SetReadLimit(d.opts.MaxMessageSize)

	return &wsConn{ws: ws, writeTimeout: d.opts.WriteTimeout}, nil
}

// wsConn wraps a gorilla connection with write serialization and a write
// deadline per message.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
