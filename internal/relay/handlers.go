package relay

import (
	"context"
	"encoding/json"

	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// dispatch routes one inbound envelope. Unknown types are silently ignored
// and malformed payloads are dropped; the relay never fails its own process
// on bad input.
func (s *Server) dispatch(ctx context.Context, c *Client, env wire.Envelope) {
	switch env.Type {
	case wire.TypePresenceJoin:
		s.handleJoin(ctx, c, env)
	case wire.TypePresencePing:
		s.handlePing(env)
	case wire.TypePresenceList:
		s.handleList(ctx, c, env)
	case wire.TypePairingRequest:
		s.handlePairingRequest(ctx, c, env)
	case wire.TypePairingAccept, wire.TypePairingConfirm:
		s.handlePairingStep(ctx, c, env)
	case wire.TypePairingConfirmResponse:
		s.handleConfirmResponse(ctx, c, env)
	case wire.TypePairingReject:
		s.handlePairingReject(ctx, c, env)
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeCandidate:
		s.handleForward(ctx, c, env)
	default:
		// Unknown type: ignore.
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Client, env wire.Envelope) {
	var p wire.JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.DeviceID == "" {
		return
	}

	s.state.Join(p.DeviceID, p.DisplayName, c)
	s.logger.Info(ctx, "device joined", "device_id", p.DeviceID, "origin", c.Origin())

	ack, err := wire.NewEnvelope(wire.TypePresenceAck, wire.JoinPayload{
		DeviceID:    p.DeviceID,
		DisplayName: p.DisplayName,
	})
	if err != nil {
		return
	}
	ack.RequestID = env.RequestID
	_ = c.Send(ctx, ack)
}

func (s *Server) handlePing(env wire.Envelope) {
	var p wire.JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.DeviceID == "" {
		return
	}
	s.state.Refresh(p.DeviceID)
}

func (s *Server) handleList(ctx context.Context, c *Client, env wire.Envelope) {
	var p wire.JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	peers := s.state.List(p.DeviceID, c.Origin())

	reply, err := wire.NewEnvelope(wire.TypePresenceList, wire.ListPayload{Devices: peers})
	if err != nil {
		return
	}
	reply.RequestID = env.RequestID
	_ = c.Send(ctx, reply)
}

func (s *Server) handlePairingRequest(ctx context.Context, c *Client, env wire.Envelope) {
	var p wire.PairingRequestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.SessionID == "" || p.ToDeviceID == "" {
		return
	}

	if !s.forward(ctx, c, p.ToDeviceID, env) {
		return
	}

	s.state.CreateSession(p.SessionID, p.FromDeviceID, p.ToDeviceID)
	s.logger.Info(ctx, "pairing session opened",
		"session_id", p.SessionID, "from", p.FromDeviceID, "to", p.ToDeviceID)
}

// handlePairingStep validates the session TTL before forwarding
// pairing:accept and pairing:confirm messages.
func (s *Server) handlePairingStep(ctx context.Context, c *Client, env wire.Envelope) {
	sessionID, toDeviceID, err := wire.ForwardAddress(env.Payload)
	if err != nil || sessionID == "" {
		return
	}

	if !s.checkSession(ctx, c, sessionID, env.RequestID) {
		return
	}

	s.forward(ctx, c, toDeviceID, env)
}

// handleConfirmResponse forwards the final key-exchange message and then
// unconditionally deletes the session: it is single-use.
func (s *Server) handleConfirmResponse(ctx context.Context, c *Client, env wire.Envelope) {
	sessionID, toDeviceID, err := wire.ForwardAddress(env.Payload)
	if err != nil || sessionID == "" {
		return
	}

	if !s.checkSession(ctx, c, sessionID, env.RequestID) {
		return
	}

	s.forward(ctx, c, toDeviceID, env)
	s.state.DeleteSession(sessionID)
	s.logger.Info(ctx, "pairing session completed", "session_id", sessionID)
}

func (s *Server) handlePairingReject(ctx context.Context, c *Client, env wire.Envelope) {
	var p wire.PairingRejectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ToDeviceID == "" {
		return
	}

	s.forward(ctx, c, p.ToDeviceID, env)

	if p.Final {
		s.state.DeleteSession(p.SessionID)
		s.logger.Info(ctx, "pairing session closed", "session_id", p.SessionID, "reason", p.Reason)
	}
}

// handleForward routes peer-negotiation messages by device id, with no
// session or TTL bookkeeping.
func (s *Server) handleForward(ctx context.Context, c *Client, env wire.Envelope) {
	_, toDeviceID, err := wire.ForwardAddress(env.Payload)
	if err != nil || toDeviceID == "" {
		return
	}
	s.forward(ctx, c, toDeviceID, env)
}

// checkSession verifies a pairing session exists and has not outlived its
// TTL. On expiry it replies PAIRING_EXPIRED to the sender; the expired
// session is deleted by the status check itself.
func (s *Server) checkSession(ctx context.Context, c *Client, sessionID, requestID string) bool {
	exists, expired := s.state.SessionStatus(sessionID)
	if exists && !expired {
		return true
	}

	s.sendError(ctx, c, requestID, wire.ErrorPayload{
		Message: "Pairing session expired",
		Code:    wire.CodePairingExpired,
	})
	return false
}

// forward sends the envelope verbatim to the target device. Forwarding to
// an offline device always replies an error to the sender rather than
// queuing.
func (s *Server) forward(ctx context.Context, from *Client, toDeviceID string, env wire.Envelope) bool {
	entry, ok := s.state.Lookup(toDeviceID)
	if !ok {
		s.sendError(ctx, from, env.RequestID, wire.ErrorPayload{
			Message: "Target device not connected",
			Code:    wire.CodeTargetOffline,
		})
		return false
	}

	if err := entry.Client.Send(ctx, env); err != nil {
		s.logger.Warn(ctx, "forward failed", "to", toDeviceID, "type", env.Type, "error", err)
		s.sendError(ctx, from, env.RequestID, wire.ErrorPayload{
			Message: "Target device not connected",
			Code:    wire.CodeTargetOffline,
		})
		return false
	}
	return true
}

func (s *Server) sendError(ctx context.Context, c *Client, requestID string, p wire.ErrorPayload) {
	env, err := wire.NewEnvelope(wire.TypeError, p)
	if err != nil {
		return
	}
	env.RequestID = requestID
	_ = c.Send(ctx, env)
}
