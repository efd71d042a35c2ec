// Package peer provides the direct device-to-device channel that carries
// encrypted sync payloads once two devices are paired. The relay is only
// involved in exchanging the connection-setup messages; sync traffic itself
// flows over this channel. Any reliable ordered-message transport satisfies
// the contract; here it is a websocket between the two devices.
package peer

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second

	// tokenAck is the frame the listener sends once the dialer's token
	// checks out.
	tokenAck = "ok"
)

// ErrBadToken is returned when an inbound dial fails authentication.
var ErrBadToken = errors.New("peer channel token mismatch")

// Channel is an established device-to-device connection carrying JSON
// frames. Writes are serialized; reads are expected from a single goroutine.
type Channel struct {
	conn   *websocket.Conn
	remote string
	local  []string

	mu     sync.Mutex
	closed bool
}

// Send marshals v and writes it as one text frame.
func (c *Channel) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// Receive reads one frame and unmarshals it into v.
func (c *Channel) Receive(ctx context.Context, v any) error {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Close shuts the channel down. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// Direct reports whether the path is device-to-device rather than relayed.
// With this transport every established channel is a direct dial; the check
// is informational and based on the remote address being a private or
// loopback one.
func (c *Channel) Direct() bool {
	host := c.remote
	if h, _, err := net.SplitHostPort(c.remote); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// Listener is the initiator's side of channel setup: it listens on an
// ephemeral port and accepts the first dial presenting the right token.
type Listener struct {
	ln    net.Listener
	srv   *http.Server
	token string

	accepted chan *Channel
	once     sync.Once
}

// NewListener binds an ephemeral port. The token authenticates the inbound
// dial; it travels to the partner through the relay offer, which only the
// partner receives.
func NewListener(token string) (*Listener, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen for peer channel: %w", err)
	}

	l := &Listener{
		ln:       ln,
		token:    token,
		accepted: make(chan *Channel, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/peer", l.handlePeer)
	l.srv = &http.Server{Handler: mux}

	go func() { _ = l.srv.Serve(ln) }()

	return l, nil
}

// Candidates returns the dial addresses to advertise: one per local unicast
// interface address, plus loopback.
func (l *Listener) Candidates() []string {
	port := l.port()
	seen := map[string]struct{}{}
	var out []string

	add := func(host string) {
		addr := net.JoinHostPort(host, port)
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			add(ipNet.IP.String())
		}
	}
	add("127.0.0.1")

	return out
}

func (l *Listener) port() string {
	_, port, _ := net.SplitHostPort(l.ln.Addr().String())
	return port
}

// Accept waits for an authenticated inbound dial.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	select {
	case ch := <-l.accepted:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops listening. An already-accepted channel stays open.
func (l *Listener) Close() {
	l.once.Do(func() {
		_ = l.srv.Close()
	})
}

func (l *Listener) handlePeer(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// First frame is the token.
	_, data, err := conn.Read(ctx)
	if err != nil || subtle.ConstantTimeCompare(data, []byte(l.token)) != 1 {
		_ = conn.Close(websocket.StatusPolicyViolation, "bad token")
		return
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(tokenAck)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	ch := &Channel{conn: conn, remote: r.RemoteAddr}
	select {
	case l.accepted <- ch:
	default:
		// A channel was already accepted; reject the extra dial.
		_ = conn.Close(websocket.StatusPolicyViolation, "already connected")
	}
}

// DialCandidates tries each advertised address in order until one accepts
// the token, returning the established channel.
func DialCandidates(ctx context.Context, candidates []string, token string) (*Channel, error) {
	var lastErr error
	for _, addr := range candidates {
		ch, err := dialOne(ctx, addr, token)
		if err != nil {
			lastErr = err
			continue
		}
		return ch, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidates")
	}
	return nil, fmt.Errorf("dial peer channel: %w", lastErr)
}

func dialOne(ctx context.Context, addr, token string) (*Channel, error) {
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := "ws://" + addr + "/peer"
	conn, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, err
	}

	if err := conn.Write(dctx, websocket.MessageText, []byte(token)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}

	_, data, err := conn.Read(dctx)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return nil, ErrBadToken
	}
	if !strings.EqualFold(string(data), tokenAck) {
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return nil, ErrBadToken
	}

	return &Channel{conn: conn, remote: addr}, nil
}
