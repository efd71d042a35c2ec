package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/relay/config"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// Server accepts persistent device connections on /ws and exposes a plain
// /health endpoint on the same listener for liveness probes.
type Server struct {
	cfg    *config.Config
	state  *State
	logger logging.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*Client]struct{}
	clientsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a relay server with a fresh registry.
func NewServer(cfg *config.Config, logger logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		state:   NewState(cfg.PresenceTTL, cfg.PairingTTL),
		logger:  logger.With("module", "relay"),
		clients: make(map[*Client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listener, starts the background sweeps and serves until
// Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.EndpointAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.EndpointAddr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info(s.ctx, "relay listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(s.ctx, "server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, useful when the configured
// address used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.EndpointAddr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down, closing all device connections.
func (s *Server) Stop() error {
	s.logger.Info(s.ctx, "stopping relay")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.Close(websocket.StatusGoingAway, "relay shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	origin := remoteHost(r.RemoteAddr)
	c := newClient(conn, origin)

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	s.wg.Add(1)
	go s.readLoop(c)
}

// readLoop decodes envelopes from one connection and dispatches them until
// the connection closes. Malformed envelopes are dropped without closing
// the connection.
func (s *Server) readLoop(c *Client) {
	defer s.wg.Done()
	defer s.dropClient(c)

	for {
		_, data, err := c.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug(s.ctx, "dropping malformed envelope", "error", err)
			continue
		}

		s.dispatch(s.ctx, c, env)
	}
}

func (s *Server) dropClient(c *Client) {
	s.state.RemoveClient(c)

	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.Close(websocket.StatusNormalClosure, "")
}

// sweepLoop prunes stale presence entries and expired pairing sessions on
// their respective intervals.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	presence := time.NewTicker(s.cfg.PresenceSweepInterval)
	defer presence.Stop()
	pairing := time.NewTicker(s.cfg.PairingSweepInterval)
	defer pairing.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-presence.C:
			for _, c := range s.state.SweepPresence() {
				c.Close(websocket.StatusGoingAway, "presence expired")
			}

		case <-pairing.C:
			if n := s.state.SweepSessions(); n > 0 {
				s.logger.Info(s.ctx, "pruned expired pairing sessions", "count", n)
			}
		}
	}
}

// remoteHost strips the port from a RemoteAddr. Discovery is scoped by host:
// two devices are "nearby" only when the relay sees them from the same one.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
