// Package wire defines the JSON message envelope spoken on the signaling
// connection, the catalogue of message types the relay routes, and the sync
// payload exchanged between paired devices. Both the relay and the device
// side depend on it; it has no knowledge of transports or storage.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message types routed by the relay. The relay inspects only the type and
// the addressing fields of the payload; pairing codes and key material are
// opaque to it.
const (
	TypePresenceJoin = "presence:join"
	TypePresencePing = "presence:ping"
	TypePresenceList = "presence:list"
	TypePresenceAck  = "presence:ack"

	TypePairingRequest         = "pairing:request"
	TypePairingAccept          = "pairing:accept"
	TypePairingConfirm         = "pairing:confirm"
	TypePairingConfirmResponse = "pairing:confirm-response"
	TypePairingReject          = "pairing:reject"

	TypeOffer     = "webrtc:offer"
	TypeAnswer    = "webrtc:answer"
	TypeCandidate = "webrtc:candidate"

	TypeError = "error"
)

// Known error codes carried in ErrorPayload.Code.
const (
	CodePairingExpired = "PAIRING_EXPIRED"
	CodeTargetOffline  = "TARGET_OFFLINE"
)

// Envelope is the unit of transmission on the signaling connection, in both
// directions. RequestID, when present on an outbound request, is echoed
// verbatim on the matching reply so the sender can correlate responses.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an Envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// ErrorPayload is the payload of a TypeError envelope.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JoinPayload registers or refreshes the sender's presence.
type JoinPayload struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

// PeerInfo is one element of a presence:list reply.
type PeerInfo struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

// ListPayload is the payload of a presence:list reply.
type ListPayload struct {
	Devices []PeerInfo `json:"devices"`
}

// PairingRequestPayload opens a pairing session. The relay records the
// session and forwards the message; Code never appears here, it travels
// out-of-band between the two humans.
type PairingRequestPayload struct {
	SessionID       string `json:"session_id"`
	FromDeviceID    string `json:"from_device_id"`
	FromDisplayName string `json:"from_display_name"`
	ToDeviceID      string `json:"to_device_id"`
}

// PairingAcceptPayload carries the human-entered code back to the initiator.
type PairingAcceptPayload struct {
	SessionID       string `json:"session_id"`
	FromDeviceID    string `json:"from_device_id"`
	FromDisplayName string `json:"from_display_name"`
	ToDeviceID      string `json:"to_device_id"`
	Code            string `json:"code"`
}

// PairingConfirmPayload carries a public key in either direction of the key
// exchange (pairing:confirm and pairing:confirm-response).
type PairingConfirmPayload struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
	PublicKey    []byte `json:"public_key"`
}

// Reject reasons carried in PairingRejectPayload.Reason.
const (
	RejectReasonWrongCode   = "wrong_code"
	RejectReasonMaxAttempts = "max_attempts"
	RejectReasonCancelled   = "cancelled"
)

// PairingRejectPayload signals a failed or cancelled pairing step. Final
// marks the session terminally closed; the relay deletes it.
type PairingRejectPayload struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
	Reason       string `json:"reason"`
	Final        bool   `json:"final,omitempty"`
}

// OfferPayload opens peer-transport negotiation. The initiator listens for
// the paired channel and advertises dial candidates separately; Nonce seeds
// the per-session key derivation and Token authenticates the inbound dial.
type OfferPayload struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
	Nonce        []byte `json:"nonce"`
	Token        string `json:"token"`
}

// AnswerPayload acknowledges an offer.
type AnswerPayload struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
	Accepted     bool   `json:"accepted"`
}

// CandidatePayload advertises one address the responder may dial to reach
// the initiator's channel listener.
type CandidatePayload struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
	Address      string `json:"address"`
}

// forwardAddress is the subset of addressing fields the relay needs to route
// a message. Every forwardable payload carries them.
type forwardAddress struct {
	SessionID  string `json:"session_id"`
	ToDeviceID string `json:"to_device_id"`
}

// ForwardAddress extracts the routing fields from a forwardable payload
// without decoding the rest. The relay uses it for every pairing and
// peer-negotiation message.
func ForwardAddress(payload json.RawMessage) (sessionID, toDeviceID string, err error) {
	var a forwardAddress
	if err := json.Unmarshal(payload, &a); err != nil {
		return "", "", fmt.Errorf("decode forward address: %w", err)
	}
	return a.SessionID, a.ToDeviceID, nil
}
