// internal/transport/client.go
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/hallmonitor/internal/types"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// ErrNotConnected is returned by Emit while no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// Client maintains a websocket connection to the coordinator, redialing
// with exponential backoff whenever it drops. Outbound writes are
// serialized through a single mutex so handlers may emit concurrently.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	backoff *Backoff

	writeMu sync.Mutex
	connMu  sync.RWMutex
	conn    *websocket.Conn

	onEvent      func(event string, data []byte)
	onConnect    func()
	onDisconnect func()
}

// WebSocketURL rewrites an http(s) coordinator URL to its ws(s)
// equivalent. URLs already using a ws scheme pass through unchanged.
func WebSocketURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	default:
		return raw
	}
}

// NewClient returns a Client that will connect to url when Run is called.
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: DefaultBackoff(),
	}
}

// OnEvent registers the callback invoked for every inbound envelope.
func (c *Client) OnEvent(fn func(event string, data []byte)) { c.onEvent = fn }

// OnConnect registers a callback fired after each successful connection.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers a callback fired when the connection drops.
func (c *Client) OnDisconnect(fn func()) { c.onDisconnect = fn }

// Emit marshals payload and sends it as a named event frame.
func (c *Client) Emit(event string, payload any) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	frame, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshaling %s envelope: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Run dials the coordinator and services the connection until ctx is
// cancelled. Every drop triggers a redial; the backoff resets after each
// successful connection.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempt++
			delay := c.backoff.Delay(attempt)
			slog.Warn("connection failed", "url", c.url, "attempt", attempt, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		slog.Info("connected", "url", c.url)
		c.setConn(conn)
		if c.onConnect != nil {
			c.onConnect()
		}

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("connection lost", "error", err)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// readLoop decodes inbound frames and dispatches them until the
// connection fails or ctx is cancelled. A ping ticker keeps the
// connection alive and detects dead peers via the pong deadline.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env types.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			slog.Warn("dropping malformed frame", "error", err)
			continue
		}
		if env.Event == "" {
			slog.Warn("dropping frame without event name")
			continue
		}
		if c.onEvent != nil {
			c.onEvent(env.Event, env.Data)
		}
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}
