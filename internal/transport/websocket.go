package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned to callers that waited on another caller's
// dial and saw it fail.
var ErrNotConnected = errors.New("host not connected")

type WebSocketOptions struct {
	URL            string
	Token          string
	Insecure       bool
	ReconnectDelay time.Duration
}

// WebSocket dials the host and redials after every dropped connection.
type WebSocket struct {
	opts WebSocketOptions
	log  *zap.Logger
	d    websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing chan struct{}
	dialErr error
	dropped bool
	closed  bool

	writeMu sync.Mutex
}

func NewWebSocket(opts WebSocketOptions, log *zap.Logger) *WebSocket {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &WebSocket{
		opts: opts,
		log:  log,
		d: websocket.Dialer{
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: opts.Insecure},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// connect returns the live connection, dialing when there is none. The
// lock is never held across the backoff sleep or the dial, so a Post is not
// stuck behind a Receive that is waiting out ReconnectDelay. Concurrent
// callers share one dial.
func (c *WebSocket) connect(ctx context.Context, backoff bool) (*websocket.Conn, error) {
	c.mu.Lock()
	if backoff && c.dropped && c.conn == nil && c.dialing == nil && !c.closed {
		c.mu.Unlock()
		t := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		c.mu.Lock()
	}

	for {
		if c.closed {
			c.mu.Unlock()
			return nil, io.EOF
		}
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		wait := c.dialing
		if wait == nil {
			break
		}
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
		c.mu.Lock()
		if c.conn == nil && !c.closed && c.dialErr != nil {
			err := c.dialErr
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}
	done := make(chan struct{})
	c.dialing = done
	c.mu.Unlock()

	h := http.Header{"User-Agent": {"energy-bridge"}}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := c.d.DialContext(ctx, c.opts.URL, h)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = nil
	close(done)
	if err != nil {
		c.dropped = true
		c.dialErr = err
		return nil, fmt.Errorf("dial host: %w", err)
	}
	if c.closed {
		_ = conn.Close()
		return nil, io.EOF
	}
	c.conn = conn
	c.dropped = false
	c.dialErr = nil
	c.log.Info("host connected", zap.String("url", c.opts.URL))
	return conn, nil
}

func (c *WebSocket) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.dropped = true
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	conn, err := c.connect(ctx, true)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		c.drop(conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.isClosed() {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("host read: %w", err)
	}
	return msg, nil
}

func (c *WebSocket) Post(ctx context.Context, env sdk.Envelope) error {
	conn, err := c.connect(ctx, false)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(env); err != nil {
		c.drop(conn)
		return fmt.Errorf("host write: %w", err)
	}
	return nil
}

func (c *WebSocket) Live() bool { return true }

func (c *WebSocket) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebSocket) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.closed = true
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
