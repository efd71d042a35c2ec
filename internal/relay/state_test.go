package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState_SessionStatus(t *testing.T) {
	s := NewState(time.Minute, 30*time.Millisecond)

	exists, expired := s.SessionStatus("nope")
	assert.False(t, exists)
	assert.False(t, expired)

	s.CreateSession("s1", "dev-a", "dev-b")
	exists, expired = s.SessionStatus("s1")
	assert.True(t, exists)
	assert.False(t, expired)

	time.Sleep(40 * time.Millisecond)
	exists, expired = s.SessionStatus("s1")
	assert.True(t, exists)
	assert.True(t, expired)

	// The expiry check deletes the session.
	exists, _ = s.SessionStatus("s1")
	assert.False(t, exists)
}

func TestState_SweepSessions(t *testing.T) {
	s := NewState(time.Minute, 20*time.Millisecond)
	s.CreateSession("s1", "a", "b")
	s.CreateSession("s2", "a", "c")

	assert.Equal(t, 0, s.SweepSessions())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, s.SweepSessions())

	_, sessions := s.Counts()
	assert.Equal(t, 0, sessions)
}

func TestState_RemoveClient(t *testing.T) {
	s := NewState(time.Minute, time.Minute)
	c1 := &Client{origin: "127.0.0.1"}
	c2 := &Client{origin: "127.0.0.1"}

	s.Join("dev-a", "A", c1)
	s.Join("dev-b", "B", c2)

	s.RemoveClient(c1)

	_, ok := s.Lookup("dev-a")
	assert.False(t, ok)
	_, ok = s.Lookup("dev-b")
	assert.True(t, ok)
}

func TestState_ListScopesByOrigin(t *testing.T) {
	s := NewState(time.Minute, time.Minute)
	s.Join("dev-a", "A", &Client{origin: "10.0.0.1"})
	s.Join("dev-b", "B", &Client{origin: "10.0.0.1"})
	s.Join("dev-c", "C", &Client{origin: "10.0.0.9"})

	peers := s.List("dev-a", "10.0.0.1")
	assert.Len(t, peers, 1)
	assert.Equal(t, "dev-b", peers[0].DeviceID)
}
