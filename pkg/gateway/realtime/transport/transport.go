package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Error is a transport failure: a broken socket, a failed write, or a
// malformed inbound frame.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64
}

const (
	defaultWriteTimeout = 5 * time.Second
	closeGrace          = time.Second
)

type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	NetConn() net.Conn
	Close() error
}

// Conn adapts one websocket connection to frame-level Receive and Send.
// Receive must be called from a single goroutine; Send is safe for
// concurrent use and allows one write in flight at a time.
type Conn struct {
	ws  wsConn
	cfg Config

	writeMu sync.Mutex
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps ws. The caller must not use ws directly afterwards.
func New(ws *websocket.Conn, cfg Config) *Conn {
	return newConn(ws, cfg)
}

func newConn(ws wsConn, cfg Config) *Conn {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	c := &Conn{
		ws:   ws,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.ReadTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		})
	}
	if cfg.PingInterval > 0 {
		go c.keepalive()
	}
	return c
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

// Receive blocks until the next client frame arrives. It returns io.EOF when
// the client closed the connection or Close was called, a *pcm.CodecError for
// an undecodable binary audio frame, and *Error for everything else.
func (c *Conn) Receive(ctx context.Context) (protocol.ClientFrame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if c.closed.Load() {
			return nil, io.EOF
		}
		if c.cfg.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
			// A cancellation that fired before this point had its deadline
			// overwritten above.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if c.closed.Load() || isNormalClose(err) {
				return nil, io.EOF
			}
			return nil, &Error{Op: "receive", Err: err}
		}

		switch messageType {
		case websocket.TextMessage:
			frame, err := protocol.DecodeClientFrame(data)
			if err != nil {
				return nil, &Error{Op: "decode", Err: err}
			}
			return frame, nil
		case websocket.BinaryMessage:
			audio, err := protocol.DecodeBinaryAudio(data)
			if err != nil {
				return nil, err
			}
			return audio, nil
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Send writes msg as one text frame. Cancelling ctx interrupts a write that
// is blocked on a slow peer.
func (c *Conn) Send(ctx context.Context, msg protocol.ServerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return &Error{Op: "send", Err: ErrClosed}
	}

	stop := context.AfterFunc(ctx, func() {
		if nc := c.ws.NetConn(); nc != nil {
			_ = nc.SetWriteDeadline(time.Now())
		}
	})
	defer stop()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return &Error{Op: "send", Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Close closes the connection with a normal closure status.
func (c *Conn) Close() error {
	return c.CloseWithStatus(websocket.CloseNormalClosure, "")
}

// CloseWithStatus waits for an in-flight write, sends a close frame with code
// and reason, and closes the socket. Only the first call has an effect.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed.Store(true)
		c.writeMu.Unlock()
		close(c.done)

		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
		if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = &Error{Op: "close", Err: err}
		}
	})
	return c.closeErr
}
