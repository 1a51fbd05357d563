// Package ws implements the transport.Adapter over a WebSocket connection.
//
// A single reader goroutine owns the connection: it decodes event envelopes
// and dispatches them to registered handlers. When the connection drops the
// client reconnects with exponential backoff and synthesizes connect and
// disconnect events so the engine can track connectivity.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vadim/consync/internal/transport"
)

const (
	defaultDialTimeout  = 15 * time.Second
	defaultReconnectMin = 2 * time.Second
	defaultReconnectMax = 2 * time.Minute
	writeTimeout        = 10 * time.Second
)

// envelope frames every event on the wire.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is a WebSocket-backed transport adapter.
type Client struct {
	url          string
	authToken    string
	logger       *slog.Logger
	dialTimeout  time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	handlers  map[string]transport.Handler
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures the Client.
type Option func(*Client)

// WithAuthToken sets the bearer token sent on the dial request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithReconnectBackoff sets the reconnect backoff bounds.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.reconnectMin = min
		c.reconnectMax = max
	}
}

// New creates a client for the given WebSocket URL. The connection is not
// established until Start is called.
func New(url string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:          url,
		logger:       logger,
		dialTimeout:  defaultDialTimeout,
		reconnectMin: defaultReconnectMin,
		reconnectMax: defaultReconnectMax,
		handlers:     make(map[string]transport.Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start establishes the connection and begins the read/reconnect loop. It
// returns once the first dial attempt has completed; later reconnects happen
// in the background until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.logger.Warn("initial websocket dial failed, will keep retrying", "error", err)
	}

	go c.run(ctx)
	return nil
}

// Close tears the connection down and stops the reconnect loop.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// On registers the handler for an event name, replacing any previous one.
func (c *Client) On(event string, h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// Off removes the handler for an event name.
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Emit sends an event to the server. Fails immediately when disconnected.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return transportUnavailable(event)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", event, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

func transportUnavailable(event string) error {
	return fmt.Errorf("emit %s: %w", event, errNotConnected)
}

var errNotConnected = errors.New("websocket not connected")

// run reads from the connection until it breaks, then reconnects with
// exponential backoff and jitter.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.reconnectMin
	for {
		if ctx.Err() != nil {
			c.teardown()
			return
		}

		if c.Connected() {
			if err := c.readLoop(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("websocket read failed", "error", err)
			}
			c.teardown()
			backoff = c.reconnectMin
			continue
		}

		wait := backoff + rand.N(backoff/2+1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := c.dial(ctx); err != nil {
			c.logger.Warn("websocket reconnect failed", "backoff", wait, "error", err)
			backoff = min(backoff*2, c.reconnectMax)
		}
	}
}

// dial establishes a new connection and flips the connected flag.
func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.authToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.authToken}}
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, opts)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("websocket connected", "url", c.url)
	c.dispatch(transport.EventConnect, nil)
	return nil
}

// teardown closes the connection, flips the flag and notifies handlers.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
	if wasConnected {
		c.logger.Info("websocket disconnected")
		c.dispatch(transport.EventDisconnect, nil)
	}
}

// readLoop decodes envelopes until the connection breaks.
func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(env.Event, env.Payload)
	}
}

// dispatch hands an event to its registered handler, if any.
func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()

	if h != nil {
		h(payload)
	}
}
