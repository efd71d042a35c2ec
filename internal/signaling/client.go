// Package signaling wraps the persistent relay connection a device holds:
// fire-and-forget send, request/response correlation by request id, and
// durable typed subscriptions, all over a single websocket.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

const (
	connectAttempts = 3
	backoffBase     = 250 * time.Millisecond
	requestTimeout  = 15 * time.Second
	writeTimeout    = 5 * time.Second
)

// Handler receives every inbound envelope of a subscribed type. Handlers run
// on the read goroutine; they must not block.
type Handler func(env wire.Envelope)

// Client is a device-side signaling client. The zero value is not usable;
// create one with NewClient.
type Client struct {
	url    string
	logger logging.Logger

	reqTimeout time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting chan struct{} // non-nil while a connect attempt is in flight
	pending    map[string]chan wire.Envelope
	subs       map[string]map[int]Handler
	nextSubID  int
	readCancel context.CancelFunc
}

// NewClient creates a client for the relay at url (e.g. "ws://host:8787/ws").
func NewClient(url string, logger logging.Logger) *Client {
	return &Client{
		url:        url,
		logger:     logger.With("module", "signaling"),
		reqTimeout: requestTimeout,
		pending:    make(map[string]chan wire.Envelope),
		subs:       make(map[string]map[int]Handler),
	}
}

// Connect establishes the persistent connection, retrying with exponential
// backoff. It fails permanently once the attempts are exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting != nil {
		done := c.connecting
		c.mu.Unlock()
		return c.awaitConnect(ctx, done)
	}
	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.finishConnect(done)
				return ctx.Err()
			}
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			lastErr = err
			c.logger.Warn(ctx, "connect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		readCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.conn = conn
		c.readCancel = cancel
		c.mu.Unlock()

		go c.readLoop(readCtx, conn)

		c.finishConnect(done)
		c.logger.Info(ctx, "connected to relay", "url", c.url)
		return nil
	}

	c.finishConnect(done)
	return fmt.Errorf("connect to relay after %d attempts: %w", connectAttempts, lastErr)
}

func (c *Client) finishConnect(done chan struct{}) {
	c.mu.Lock()
	if c.connecting == done {
		c.connecting = nil
	}
	c.mu.Unlock()
	close(done)
}

func (c *Client) awaitConnect(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !c.Connected() {
		return common.ErrorNotConnected
	}
	return nil
}

// EnsureConnected is idempotent: it no-ops when already connected, awaits an
// in-flight attempt, and otherwise reconnects.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if done := c.connecting; done != nil {
		c.mu.Unlock()
		return c.awaitConnect(ctx, done)
	}
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send is fire-and-forget: the envelope is written and no reply is awaited.
func (c *Client) Send(ctx context.Context, msgType string, payload any) error {
	env, err := wire.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// Request attaches a generated request id, sends, and waits for the envelope
// echoing that id. It fails with common.ErrorRequestTimeout after 15s.
func (c *Client) Request(ctx context.Context, msgType string, payload any) (wire.Envelope, error) {
	env, err := wire.NewEnvelope(msgType, payload)
	if err != nil {
		return wire.Envelope{}, err
	}
	env.RequestID = uuid.NewString()

	ch := make(chan wire.Envelope, 1)
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return wire.Envelope{}, common.ErrorNotConnected
	}
	c.pending[env.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, env); err != nil {
		return wire.Envelope{}, err
	}

	timer := time.NewTimer(c.reqTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return wire.Envelope{}, common.ErrorNotConnected
		}
		return reply, nil
	case <-timer.C:
		return wire.Envelope{}, common.ErrorRequestTimeout
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

// On registers a durable subscriber for a message type and returns its
// unsubscribe function. Subscriptions do not survive a disconnect; callers
// re-subscribe after reconnecting.
func (c *Client) On(msgType string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[msgType] == nil {
		c.subs[msgType] = make(map[int]Handler)
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[msgType][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if hs, ok := c.subs[msgType]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(c.subs, msgType)
			}
		}
	}
}

// Close tears the connection down. Pending requests fail and subscriptions
// are cleared.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.readCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.handleDisconnect(conn)
}

func (c *Client) write(ctx context.Context, env wire.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return common.ErrorNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.handleDisconnect(conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn(ctx, "connection lost", "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug(ctx, "dropping malformed envelope", "error", err)
			continue
		}

		if env.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.RequestID]
			if ok {
				delete(c.pending, env.RequestID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env wire.Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[env.Type]))
	for _, h := range c.subs[env.Type] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// handleDisconnect fails every pending request and clears all subscriptions.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != nil && c.conn != conn {
		return // an older connection's read loop exiting late
	}

	c.conn = nil
	c.readCancel = nil

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.subs = make(map[string]map[int]Handler)
}
