// Package relay implements the signaling relay: a single process holding an
// in-memory registry of connected devices and in-flight pairing sessions,
// routing envelopes by logical device id. It keeps no user data; everything
// it tracks is transient presence and pairing bookkeeping.
package relay

import (
	"sync"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// PresenceEntry tracks one connected device. NetworkOrigin is the relay's
// view of where the connection came from; discovery is scoped to devices
// sharing an origin.
type PresenceEntry struct {
	DeviceID      string
	DisplayName   string
	LastSeen      time.Time
	Client        *Client
	NetworkOrigin string
}

// PairingSession is the relay-side record of an in-flight pairing. The relay
// enforces its TTL but never inspects codes or key material.
type PairingSession struct {
	SessionID    string
	FromDeviceID string
	ToDeviceID   string
	CreatedAt    time.Time
}

// State is the shared in-memory registry. It is owned by the Server and
// passed to every handler; all access goes through the mutex, including the
// background sweeps.
type State struct {
	mu       sync.Mutex
	presence map[string]*PresenceEntry
	sessions map[string]*PairingSession

	presenceTTL time.Duration
	pairingTTL  time.Duration
}

// NewState creates an empty registry with the given TTLs.
func NewState(presenceTTL, pairingTTL time.Duration) *State {
	return &State{
		presence:    make(map[string]*PresenceEntry),
		sessions:    make(map[string]*PairingSession),
		presenceTTL: presenceTTL,
		pairingTTL:  pairingTTL,
	}
}

// Join registers or updates the presence entry for a device.
func (s *State) Join(deviceID, displayName string, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[deviceID] = &PresenceEntry{
		DeviceID:      deviceID,
		DisplayName:   displayName,
		LastSeen:      time.Now(),
		Client:        c,
		NetworkOrigin: c.Origin(),
	}
}

// Refresh updates last_seen for a device, if present.
func (s *State) Refresh(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.presence[deviceID]; ok {
		e.LastSeen = time.Now()
	}
}

// List returns the live devices sharing the requester's network origin,
// excluding the requester itself.
func (s *State) List(requesterID, origin string) []wire.PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]wire.PeerInfo, 0, len(s.presence))
	for _, e := range s.presence {
		if e.DeviceID == requesterID || e.NetworkOrigin != origin {
			continue
		}
		peers = append(peers, wire.PeerInfo{DeviceID: e.DeviceID, DisplayName: e.DisplayName})
	}
	return peers
}

// Lookup returns the presence entry for a device id.
func (s *State) Lookup(deviceID string) (*PresenceEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.presence[deviceID]
	return e, ok
}

// RemoveClient drops every presence entry bound to the given connection.
// Called when a connection closes.
func (s *State) RemoveClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.presence {
		if e.Client == c {
			delete(s.presence, id)
		}
	}
}

// CreateSession records a new pairing session.
func (s *State) CreateSession(sessionID, fromDeviceID, toDeviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &PairingSession{
		SessionID:    sessionID,
		FromDeviceID: fromDeviceID,
		ToDeviceID:   toDeviceID,
		CreatedAt:    time.Now(),
	}
}

// SessionStatus reports whether a session exists and whether its TTL has
// elapsed. An expired session is deleted as a side effect, so a later
// message for it finds no session.
func (s *State) SessionStatus(sessionID string) (exists, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, false
	}
	if time.Since(sess.CreatedAt) > s.pairingTTL {
		delete(s.sessions, sessionID)
		return true, true
	}
	return true, false
}

// DeleteSession removes a pairing session. Deleting an unknown session is a
// no-op.
func (s *State) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// SweepPresence removes entries idle past the presence TTL and returns their
// connections so the caller can close them outside the lock.
func (s *State) SweepPresence() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*Client
	for id, e := range s.presence {
		if time.Since(e.LastSeen) > s.presenceTTL {
			stale = append(stale, e.Client)
			delete(s.presence, id)
		}
	}
	return stale
}

// SweepSessions removes pairing sessions past the pairing TTL and returns
// how many were pruned.
func (s *State) SweepSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if time.Since(sess.CreatedAt) > s.pairingTTL {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Counts reports registry sizes, for logging.
func (s *State) Counts() (presence, sessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.presence), len(s.sessions)
}
