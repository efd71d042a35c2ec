package peer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/relay"
	relaycfg "github.com/pokar-monil/kharchakitab-sub000/internal/relay/config"
	"github.com/pokar-monil/kharchakitab-sub000/internal/signaling"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type testFrame struct {
	Seq  int    `json:"seq"`
	Body string `json:"body"`
}

func TestChannel_DialAndExchange(t *testing.T) {
	listener, err := NewListener("secret-token")
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var serverCh *Channel
	go func() {
		defer wg.Done()
		serverCh, err = listener.Accept(ctx)
	}()

	addr := net.JoinHostPort("127.0.0.1", listener.port())
	clientCh, dialErr := DialCandidates(ctx, []string{addr}, "secret-token")
	require.NoError(t, dialErr)
	defer clientCh.Close()

	wg.Wait()
	require.NoError(t, err)
	defer serverCh.Close()

	require.NoError(t, clientCh.Send(ctx, testFrame{Seq: 1, Body: "hello"}))

	var got testFrame
	require.NoError(t, serverCh.Receive(ctx, &got))
	assert.Equal(t, 1, got.Seq)
	assert.Equal(t, "hello", got.Body)

	// And back the other way.
	require.NoError(t, serverCh.Send(ctx, testFrame{Seq: 2, Body: "reply"}))
	require.NoError(t, clientCh.Receive(ctx, &got))
	assert.Equal(t, 2, got.Seq)

	assert.True(t, clientCh.Direct())
}

func TestChannel_RejectsBadToken(t *testing.T) {
	listener, err := NewListener("secret-token")
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", listener.port())
	_, dialErr := DialCandidates(ctx, []string{addr}, "wrong-token")
	assert.ErrorIs(t, dialErr, ErrBadToken)

	// Nothing should have been accepted.
	actx, acancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer acancel()
	_, err = listener.Accept(actx)
	assert.Error(t, err)
}

func TestDialCandidates_SkipsDeadAddresses(t *testing.T) {
	listener, err := NewListener("secret-token")
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() { _, _ = listener.Accept(ctx) }()

	good := net.JoinHostPort("127.0.0.1", listener.port())
	ch, dialErr := DialCandidates(ctx, []string{"127.0.0.1:1", good}, "secret-token")
	require.NoError(t, dialErr)
	ch.Close()
}

func TestListener_CandidatesIncludeLoopback(t *testing.T) {
	listener, err := NewListener("tok")
	require.NoError(t, err)
	defer listener.Close()

	addrs := listener.Candidates()
	require.NotEmpty(t, addrs)
	assert.Contains(t, addrs, net.JoinHostPort("127.0.0.1", listener.port()))
}

func startRelay(t *testing.T) *relay.Server {
	t.Helper()
	cfg := &relaycfg.Config{}
	cfg.LoadDefaults()
	cfg.EndpointAddr = "127.0.0.1:0"
	srv := relay.NewServer(cfg, testLogger())
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func joinRelay(t *testing.T, srv *relay.Server, deviceID string) *signaling.Client {
	t.Helper()
	c := signaling.NewClient("ws://"+srv.Addr()+"/ws", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	_, err := c.Request(ctx, wire.TypePresenceJoin, wire.JoinPayload{DeviceID: deviceID, DisplayName: deviceID})
	require.NoError(t, err)
	return c
}

func TestConnector_NegotiatesOverRelay(t *testing.T) {
	srv := startRelay(t)
	scA := joinRelay(t, srv, "dev-a")
	scB := joinRelay(t, srv, "dev-b")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connB := NewConnector(scB, testLogger())
	answered := make(chan *Channel, 1)
	scB.On(wire.TypeOffer, func(env wire.Envelope) {
		var offer wire.OfferPayload
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return
		}
		go func() {
			ch, err := connB.Answer(ctx, offer, "dev-b")
			if err == nil {
				answered <- ch
			}
		}()
	})

	connA := NewConnector(scA, testLogger())
	chA, err := connA.Offer(ctx, "sess-1", "dev-a", "dev-b", []byte("0123456789abcdef"))
	require.NoError(t, err)
	defer chA.Close()

	var chB *Channel
	select {
	case chB = <-answered:
	case <-ctx.Done():
		t.Fatal("responder never connected")
	}
	defer chB.Close()

	require.NoError(t, chB.Send(ctx, testFrame{Seq: 7, Body: "via negotiated channel"}))
	var got testFrame
	require.NoError(t, chA.Receive(ctx, &got))
	assert.Equal(t, 7, got.Seq)
}

func TestConnector_SlowResponderStillConnects(t *testing.T) {
	srv := startRelay(t)
	scA := joinRelay(t, srv, "dev-a")
	scB := joinRelay(t, srv, "dev-b")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The responder sits on the offer for a while before answering, like a
	// device that does repository lookups first. Candidates are withheld
	// until the answer, so the late subscription must not lose any.
	connB := NewConnector(scB, testLogger())
	answered := make(chan *Channel, 1)
	scB.On(wire.TypeOffer, func(env wire.Envelope) {
		var offer wire.OfferPayload
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return
		}
		go func() {
			time.Sleep(500 * time.Millisecond)
			ch, err := connB.Answer(ctx, offer, "dev-b")
			if err == nil {
				answered <- ch
			}
		}()
	})

	connA := NewConnector(scA, testLogger())
	chA, err := connA.Offer(ctx, "sess-slow", "dev-a", "dev-b", []byte("0123456789abcdef"))
	require.NoError(t, err)
	defer chA.Close()

	var chB *Channel
	select {
	case chB = <-answered:
	case <-ctx.Done():
		t.Fatal("responder never connected")
	}
	defer chB.Close()

	require.NoError(t, chA.Send(ctx, testFrame{Seq: 1, Body: "late but connected"}))
	var got testFrame
	require.NoError(t, chB.Receive(ctx, &got))
	assert.Equal(t, 1, got.Seq)
}

func TestConnector_OfferPartnerOffline(t *testing.T) {
	srv := startRelay(t)
	scA := joinRelay(t, srv, "dev-a")

	conn := NewConnector(scA, testLogger())
	conn.connectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Offer(ctx, "sess-x", "dev-a", "dev-gone", []byte("0123456789abcdef"))
	assert.ErrorIs(t, err, common.ErrorPartnerOffline)
}
