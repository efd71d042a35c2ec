// Package pairing implements the pairing handshake as an explicit state
// machine, run independently on each of the two devices. A machine consumes
// signaling envelopes and produces envelopes to send plus, on success, the
// trust record to persist; it never touches the network or storage itself,
// which keeps every transition unit-testable.
package pairing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/cryptox"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// State of one side of a pairing handshake.
type State string

const (
	StateIdle                State = "idle"
	StateRequesting          State = "requesting"
	StateRequestReceived     State = "request_received"
	StateCodeEntered         State = "code_entered"
	StateAwaitingKeyExchange State = "awaiting_key_exchange"
	StateEstablished         State = "established"
	StateRejected            State = "rejected"
	StateExpired             State = "expired"
)

// Role distinguishes the device that started the pairing from the one
// answering it.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// maxCodeAttempts caps wrong-code retries before the session is terminally
// rejected.
const maxCodeAttempts = 3

// Result is the outcome of one transition: envelopes to send through the
// signaling client and, when the handshake completes, the trust record the
// caller must persist.
type Result struct {
	Outbound []wire.Envelope
	Record   *models.PairingRecord

	// Reason is set on transitions caused by a rejection, for display.
	Reason string
}

// Machine is one side of a pairing session. It is not safe for concurrent
// use; drive it from a single goroutine.
type Machine struct {
	role  Role
	state State

	local models.DeviceIdentity

	sessionID   string
	partnerID   string
	partnerName string

	code     string
	attempts int

	keys      *cryptox.KeyPair
	sharedKey []byte
}

// handlers is the message-dispatch table: each transition is a function of
// (machine state, incoming message).
var handlers = map[string]func(*Machine, wire.Envelope) (Result, error){
	wire.TypePairingRequest:         (*Machine).onRequest,
	wire.TypePairingAccept:          (*Machine).onAccept,
	wire.TypePairingConfirm:         (*Machine).onConfirm,
	wire.TypePairingConfirmResponse: (*Machine).onConfirmResponse,
	wire.TypePairingReject:          (*Machine).onReject,
	wire.TypeError:                  (*Machine).onError,
}

// NewInitiator creates the initiating side: a fresh ephemeral key pair, a
// random 4-digit code and a session id. The returned result carries the
// pairing:request to send; the code (Code method) is shown to the user for
// out-of-band transfer.
func NewInitiator(local models.DeviceIdentity, partnerID string) (*Machine, Result, error) {
	keys, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, Result{}, err
	}
	code, err := common.MakeNumericCode(4)
	if err != nil {
		return nil, Result{}, err
	}

	m := &Machine{
		role:      RoleInitiator,
		state:     StateRequesting,
		local:     local,
		sessionID: uuid.NewString(),
		partnerID: partnerID,
		code:      code,
		keys:      keys,
	}

	env, err := wire.NewEnvelope(wire.TypePairingRequest, wire.PairingRequestPayload{
		SessionID:       m.sessionID,
		FromDeviceID:    local.DeviceID,
		FromDisplayName: local.DisplayName,
		ToDeviceID:      partnerID,
	})
	if err != nil {
		return nil, Result{}, err
	}
	return m, Result{Outbound: []wire.Envelope{env}}, nil
}

// NewResponder creates the answering side, idle until a pairing:request
// arrives.
func NewResponder(local models.DeviceIdentity) *Machine {
	return &Machine{role: RoleResponder, state: StateIdle, local: local}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SessionID returns the session id, empty on an idle responder.
func (m *Machine) SessionID() string { return m.sessionID }

// Code returns the numeric code the initiator displays to the user.
func (m *Machine) Code() string { return m.code }

// PartnerID returns the peer device id once known.
func (m *Machine) PartnerID() string { return m.partnerID }

// PartnerName returns the peer display name once known.
func (m *Machine) PartnerName() string { return m.partnerName }

// Handle consumes one inbound envelope. Messages that do not apply to the
// current state or role are ignored with an empty result.
func (m *Machine) Handle(env wire.Envelope) (Result, error) {
	h, ok := handlers[env.Type]
	if !ok {
		return Result{}, nil
	}
	return h(m, env)
}

// EnterCode submits the user-typed code on the responder side, producing the
// pairing:accept message.
func (m *Machine) EnterCode(code string) (Result, error) {
	if m.role != RoleResponder || (m.state != StateRequestReceived) {
		return Result{}, fmt.Errorf("enter code in state %s: %w", m.state, common.ErrorInternal)
	}

	env, err := wire.NewEnvelope(wire.TypePairingAccept, wire.PairingAcceptPayload{
		SessionID:       m.sessionID,
		FromDeviceID:    m.local.DeviceID,
		FromDisplayName: m.local.DisplayName,
		ToDeviceID:      m.partnerID,
		Code:            code,
	})
	if err != nil {
		return Result{}, err
	}

	m.state = StateCodeEntered
	return Result{Outbound: []wire.Envelope{env}}, nil
}

// Cancel aborts the handshake from either side. It is idempotent: cancelling
// an already-closed session produces nothing.
func (m *Machine) Cancel() (Result, error) {
	switch m.state {
	case StateEstablished, StateRejected, StateExpired, StateIdle:
		return Result{}, nil
	}

	env, err := wire.NewEnvelope(wire.TypePairingReject, wire.PairingRejectPayload{
		SessionID:    m.sessionID,
		FromDeviceID: m.local.DeviceID,
		ToDeviceID:   m.partnerID,
		Reason:       wire.RejectReasonCancelled,
		Final:        true,
	})
	if err != nil {
		return Result{}, err
	}

	m.close(StateRejected)
	return Result{Outbound: []wire.Envelope{env}, Reason: wire.RejectReasonCancelled}, nil
}

// onRequest moves an idle responder to request_received; the caller prompts
// the user for the code shown on the initiator.
func (m *Machine) onRequest(env wire.Envelope) (Result, error) {
	if m.role != RoleResponder || m.state != StateIdle {
		return Result{}, nil
	}

	var p wire.PairingRequestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}

	m.sessionID = p.SessionID
	m.partnerID = p.FromDeviceID
	m.partnerName = p.FromDisplayName
	m.state = StateRequestReceived
	return Result{}, nil
}

// onAccept verifies the code on the initiator. A mismatch counts against the
// attempt cap; the third mismatch terminally rejects the session.
func (m *Machine) onAccept(env wire.Envelope) (Result, error) {
	if m.role != RoleInitiator || m.state != StateRequesting {
		return Result{}, nil
	}

	var p wire.PairingAcceptPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}
	if p.SessionID != m.sessionID {
		return Result{}, nil
	}
	m.partnerName = p.FromDisplayName

	if p.Code != m.code {
		m.attempts++
		if m.attempts >= maxCodeAttempts {
			reject, err := wire.NewEnvelope(wire.TypePairingReject, wire.PairingRejectPayload{
				SessionID:    m.sessionID,
				FromDeviceID: m.local.DeviceID,
				ToDeviceID:   m.partnerID,
				Reason:       wire.RejectReasonMaxAttempts,
				Final:        true,
			})
			if err != nil {
				return Result{}, err
			}
			m.close(StateRejected)
			return Result{Outbound: []wire.Envelope{reject}, Reason: wire.RejectReasonMaxAttempts}, common.ErrorMaxAttempts
		}

		reject, err := wire.NewEnvelope(wire.TypePairingReject, wire.PairingRejectPayload{
			SessionID:    m.sessionID,
			FromDeviceID: m.local.DeviceID,
			ToDeviceID:   m.partnerID,
			Reason:       wire.RejectReasonWrongCode,
		})
		if err != nil {
			return Result{}, err
		}
		// Session stays open for a retry.
		return Result{Outbound: []wire.Envelope{reject}, Reason: wire.RejectReasonWrongCode}, nil
	}

	confirm, err := wire.NewEnvelope(wire.TypePairingConfirm, wire.PairingConfirmPayload{
		SessionID:    m.sessionID,
		FromDeviceID: m.local.DeviceID,
		ToDeviceID:   m.partnerID,
		PublicKey:    m.keys.PublicKey(),
	})
	if err != nil {
		return Result{}, err
	}

	m.state = StateAwaitingKeyExchange
	return Result{Outbound: []wire.Envelope{confirm}}, nil
}

// onConfirm runs on the responder: generate our own ephemeral pair, derive
// the shared key from the initiator's public key, persist the trust record
// and reply with our public key.
func (m *Machine) onConfirm(env wire.Envelope) (Result, error) {
	if m.role != RoleResponder || m.state != StateCodeEntered {
		return Result{}, nil
	}

	var p wire.PairingConfirmPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}
	if p.SessionID != m.sessionID {
		return Result{}, nil
	}

	keys, err := cryptox.GenerateKeyPair()
	if err != nil {
		return Result{}, err
	}
	shared, err := keys.DeriveSharedKey(p.PublicKey)
	if err != nil {
		return Result{}, err
	}
	m.keys = keys
	m.sharedKey = shared

	reply, err := wire.NewEnvelope(wire.TypePairingConfirmResponse, wire.PairingConfirmPayload{
		SessionID:    m.sessionID,
		FromDeviceID: m.local.DeviceID,
		ToDeviceID:   m.partnerID,
		PublicKey:    keys.PublicKey(),
	})
	if err != nil {
		return Result{}, err
	}

	m.state = StateEstablished
	return Result{
		Outbound: []wire.Envelope{reply},
		Record:   m.record(),
	}, nil
}

// onConfirmResponse completes the handshake on the initiator.
func (m *Machine) onConfirmResponse(env wire.Envelope) (Result, error) {
	if m.role != RoleInitiator || m.state != StateAwaitingKeyExchange {
		return Result{}, nil
	}

	var p wire.PairingConfirmPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}
	if p.SessionID != m.sessionID {
		return Result{}, nil
	}

	shared, err := m.keys.DeriveSharedKey(p.PublicKey)
	if err != nil {
		return Result{}, err
	}
	m.sharedKey = shared

	m.state = StateEstablished
	return Result{Record: m.record()}, nil
}

func (m *Machine) onReject(env wire.Envelope) (Result, error) {
	var p wire.PairingRejectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}
	if m.sessionID != "" && p.SessionID != m.sessionID {
		return Result{}, nil
	}

	switch p.Reason {
	case wire.RejectReasonWrongCode:
		if m.role == RoleResponder && m.state == StateCodeEntered {
			// Let the user try again.
			m.state = StateRequestReceived
		}
		return Result{Reason: p.Reason}, common.ErrorWrongCode

	case wire.RejectReasonMaxAttempts:
		m.close(StateRejected)
		return Result{Reason: p.Reason}, common.ErrorMaxAttempts

	default:
		m.close(StateRejected)
		return Result{Reason: p.Reason}, common.ErrorPairingRejected
	}
}

// onError reacts to relay errors. PAIRING_EXPIRED clears the local session
// state; TARGET_OFFLINE aborts an in-flight handshake whose partner dropped.
func (m *Machine) onError(env wire.Envelope) (Result, error) {
	var p wire.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Result{}, err
	}
	if m.state == StateEstablished || m.state == StateIdle {
		return Result{}, nil
	}

	switch p.Code {
	case wire.CodePairingExpired:
		m.close(StateExpired)
		return Result{Reason: p.Code}, common.ErrorPairingExpired
	case wire.CodeTargetOffline:
		// The relay could not deliver our last message, so the handshake
		// cannot make progress.
		m.close(StateRejected)
		return Result{Reason: p.Code}, common.ErrorTargetOffline
	}
	return Result{}, nil
}

func (m *Machine) record() *models.PairingRecord {
	// The record outlives the machine, so it gets its own copy of the key.
	key := make([]byte, len(m.sharedKey))
	copy(key, m.sharedKey)
	return &models.PairingRecord{
		PartnerDeviceID:    m.partnerID,
		PartnerDisplayName: m.partnerName,
		SharedKey:          key,
		CreatedAt:          time.Now(),
		TrustLevel:         models.TrustLevelPaired,
	}
}

// close wipes handshake secrets and settles the machine in a terminal state.
func (m *Machine) close(s State) {
	m.state = s
	m.code = ""
	m.keys = nil
	common.WipeByteArray(m.sharedKey)
	m.sharedKey = nil
}
