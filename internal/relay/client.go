package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

const writeTimeout = 5 * time.Second

// Client wraps one device connection. The mutex serializes writes: multiple
// handlers (and the sweeps) may forward to the same connection concurrently.
type Client struct {
	conn   *websocket.Conn
	origin string

	mu sync.Mutex
}

func newClient(conn *websocket.Conn, origin string) *Client {
	return &Client{conn: conn, origin: origin}
}

// Origin returns the network origin observed when the connection was
// accepted.
func (c *Client) Origin() string {
	return c.origin
}

// Send marshals the envelope and writes it as a text frame.
func (c *Client) Send(ctx context.Context, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// Close closes the underlying connection with the given status.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	_ = c.conn.Close(code, reason)
}
