package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/signaling"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

const tokenBytes = 16

// Connector negotiates a peer channel through the relay. The initiator
// listens and advertises dial candidates in its offer; the responder answers
// and dials the first candidate that works.
type Connector struct {
	sc     *signaling.Client
	logger logging.Logger

	connectTimeout time.Duration
}

func NewConnector(sc *signaling.Client, logger logging.Logger) *Connector {
	return &Connector{
		sc:             sc,
		logger:         logger.With("module", "peer"),
		connectTimeout: 15 * time.Second,
	}
}

// Offer starts channel setup toward the partner. It binds a local listener,
// sends the offer through the relay, and holds candidate addresses back until
// the partner's answer arrives. The answer proves the partner is subscribed
// for candidates, so none can slip past it. A partner that never answers or
// never dials means it is offline or unreachable.
func (c *Connector) Offer(ctx context.Context, sessionID, localID, partnerID string, nonce []byte) (*Channel, error) {
	token, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return nil, err
	}

	listener, err := NewListener(token)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	answers := make(chan wire.AnswerPayload, 1)
	unsubscribe := c.sc.On(wire.TypeAnswer, func(e wire.Envelope) {
		var ans wire.AnswerPayload
		if err := json.Unmarshal(e.Payload, &ans); err != nil {
			return
		}
		if ans.SessionID != sessionID {
			return
		}
		select {
		case answers <- ans:
		default:
		}
	})
	defer unsubscribe()

	offer := wire.OfferPayload{
		SessionID:    sessionID,
		FromDeviceID: localID,
		ToDeviceID:   partnerID,
		Nonce:        nonce,
		Token:        token,
	}
	if err := c.sc.Send(ctx, wire.TypeOffer, offer); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	select {
	case ans := <-answers:
		if !ans.Accepted {
			return nil, common.ErrorPairingRejected
		}
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.ErrorPartnerOffline
	}

	for _, addr := range listener.Candidates() {
		cand := wire.CandidatePayload{
			SessionID:    sessionID,
			FromDeviceID: localID,
			ToDeviceID:   partnerID,
			Address:      addr,
		}
		if err := c.sc.Send(ctx, wire.TypeCandidate, cand); err != nil {
			return nil, err
		}
	}

	ch, err := listener.Accept(actx)
	if err != nil {
		if actx.Err() != nil && ctx.Err() == nil {
			return nil, common.ErrorPartnerOffline
		}
		return nil, err
	}
	ch.local = listener.Candidates()

	c.logger.Info(ctx, "peer channel established", "session_id", sessionID, "direct", ch.Direct())
	return ch, nil
}

// Answer completes channel setup on the side that received an offer. It
// subscribes for candidate addresses first, acknowledges through the relay,
// then dials candidates as they arrive until one accepts the offer token.
// The initiator withholds candidates until the answer, so subscribing before
// sending it guarantees none are missed.
func (c *Connector) Answer(ctx context.Context, offer wire.OfferPayload, localID string) (*Channel, error) {
	candidates := make(chan string, 8)
	unsubscribe := c.sc.On(wire.TypeCandidate, func(e wire.Envelope) {
		var cand wire.CandidatePayload
		if err := json.Unmarshal(e.Payload, &cand); err != nil {
			return
		}
		if cand.SessionID != offer.SessionID {
			return
		}
		select {
		case candidates <- cand.Address:
		default:
		}
	})
	defer unsubscribe()

	answer := wire.AnswerPayload{
		SessionID:    offer.SessionID,
		FromDeviceID: localID,
		ToDeviceID:   offer.FromDeviceID,
		Accepted:     true,
	}
	if err := c.sc.Send(ctx, wire.TypeAnswer, answer); err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var lastErr error
	for {
		select {
		case addr := <-candidates:
			ch, err := dialOne(dctx, addr, offer.Token)
			if err != nil {
				lastErr = err
				continue
			}
			c.logger.Info(ctx, "peer channel established", "session_id", offer.SessionID, "direct", ch.Direct())
			return ch, nil
		case <-dctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if lastErr != nil {
				return nil, fmt.Errorf("peer channel setup: %w", lastErr)
			}
			return nil, common.ErrorPartnerOffline
		}
	}
}
