package pairing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

var (
	deviceA = models.DeviceIdentity{DeviceID: "dev-a", DisplayName: "Phone A"}
	deviceB = models.DeviceIdentity{DeviceID: "dev-b", DisplayName: "Phone B"}
)

// startHandshake creates both sides and delivers the pairing:request to the
// responder, as the relay would.
func startHandshake(t *testing.T) (*Machine, *Machine) {
	t.Helper()

	a, res, err := NewInitiator(deviceA, deviceB.DeviceID)
	require.NoError(t, err)
	require.Equal(t, StateRequesting, a.State())
	require.Len(t, res.Outbound, 1)
	require.Equal(t, wire.TypePairingRequest, res.Outbound[0].Type)
	require.Len(t, a.Code(), 4)

	b := NewResponder(deviceB)
	_, err = b.Handle(res.Outbound[0])
	require.NoError(t, err)
	require.Equal(t, StateRequestReceived, b.State())
	require.Equal(t, deviceA.DeviceID, b.PartnerID())
	require.Equal(t, "Phone A", b.PartnerName())

	return a, b
}

func TestHandshake_HappyPath(t *testing.T) {
	a, b := startHandshake(t)

	// B's user types the code seen on A.
	accept, err := b.EnterCode(a.Code())
	require.NoError(t, err)
	require.Len(t, accept.Outbound, 1)
	assert.Equal(t, StateCodeEntered, b.State())

	// A verifies and sends its public key.
	confirm, err := a.Handle(accept.Outbound[0])
	require.NoError(t, err)
	require.Len(t, confirm.Outbound, 1)
	assert.Equal(t, wire.TypePairingConfirm, confirm.Outbound[0].Type)
	assert.Equal(t, StateAwaitingKeyExchange, a.State())

	// B derives the shared key, persists, replies with its public key.
	resB, err := b.Handle(confirm.Outbound[0])
	require.NoError(t, err)
	require.NotNil(t, resB.Record)
	require.Len(t, resB.Outbound, 1)
	assert.Equal(t, wire.TypePairingConfirmResponse, resB.Outbound[0].Type)
	assert.Equal(t, StateEstablished, b.State())

	// A completes with B's public key.
	resA, err := a.Handle(resB.Outbound[0])
	require.NoError(t, err)
	require.NotNil(t, resA.Record)
	assert.Empty(t, resA.Outbound)
	assert.Equal(t, StateEstablished, a.State())

	// Both sides derived identical key material from the same handshake.
	assert.Equal(t, resA.Record.SharedKey, resB.Record.SharedKey)
	assert.Len(t, resA.Record.SharedKey, 32)
	assert.Equal(t, deviceB.DeviceID, resA.Record.PartnerDeviceID)
	assert.Equal(t, deviceA.DeviceID, resB.Record.PartnerDeviceID)
	assert.Equal(t, "Phone B", resA.Record.PartnerDisplayName)
}

func TestHandshake_WrongCodeKeepsSessionOpen(t *testing.T) {
	a, b := startHandshake(t)

	wrong := "0000"
	if a.Code() == wrong {
		wrong = "0001"
	}

	accept, err := b.EnterCode(wrong)
	require.NoError(t, err)

	reject, err := a.Handle(accept.Outbound[0])
	require.NoError(t, err, "a non-final mismatch is not an error for the initiator")
	require.Len(t, reject.Outbound, 1)
	assert.Equal(t, wire.TypePairingReject, reject.Outbound[0].Type)
	assert.Equal(t, wire.RejectReasonWrongCode, reject.Reason)
	assert.Equal(t, StateRequesting, a.State(), "session stays open for retry")

	// The responder returns to the prompt.
	_, err = b.Handle(reject.Outbound[0])
	assert.ErrorIs(t, err, common.ErrorWrongCode)
	assert.Equal(t, StateRequestReceived, b.State())

	// A correct retry still succeeds.
	accept, err = b.EnterCode(a.Code())
	require.NoError(t, err)
	confirm, err := a.Handle(accept.Outbound[0])
	require.NoError(t, err)
	assert.Equal(t, wire.TypePairingConfirm, confirm.Outbound[0].Type)
}

func TestHandshake_MaxAttemptsIsTerminal(t *testing.T) {
	a, b := startHandshake(t)

	wrong := "0000"
	if a.Code() == wrong {
		wrong = "0001"
	}

	var last Result
	var lastErr error
	for i := 0; i < 3; i++ {
		accept, err := b.EnterCode(wrong)
		require.NoError(t, err)
		last, lastErr = a.Handle(accept.Outbound[0])
		if i < 2 {
			require.NoError(t, lastErr)
			// Reset the responder prompt, as the reject handler would.
			_, _ = b.Handle(last.Outbound[0])
		}
	}

	assert.ErrorIs(t, lastErr, common.ErrorMaxAttempts)
	require.Len(t, last.Outbound, 1)
	assert.Equal(t, StateRejected, a.State())

	var p wire.PairingRejectPayload
	require.NoError(t, unmarshalPayload(t, last.Outbound[0], &p))
	assert.Equal(t, wire.RejectReasonMaxAttempts, p.Reason)
	assert.True(t, p.Final)

	_, err := b.Handle(last.Outbound[0])
	assert.ErrorIs(t, err, common.ErrorMaxAttempts)
	assert.Equal(t, StateRejected, b.State())
}

func TestCancel_Idempotent(t *testing.T) {
	a, _ := startHandshake(t)

	res, err := a.Cancel()
	require.NoError(t, err)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, StateRejected, a.State())

	// Second cancel is a no-op.
	res, err = a.Cancel()
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
}

func TestTerminalStateWipesHandshakeSecrets(t *testing.T) {
	a, _ := startHandshake(t)

	// Give the machine derived key material, then drive it to a terminal
	// state. The buffer itself must be zeroed, not just unreferenced.
	buf := []byte{0xaa, 0xbb, 0xcc}
	a.sharedKey = buf

	_, err := a.Cancel()
	require.NoError(t, err)
	assert.Equal(t, StateRejected, a.State())

	assert.Empty(t, a.code)
	assert.Nil(t, a.keys)
	assert.Nil(t, a.sharedKey)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestEstablishedRecordKeyOutlivesMachine(t *testing.T) {
	a, b := startHandshake(t)

	accept, err := b.EnterCode(a.Code())
	require.NoError(t, err)
	confirm, err := a.Handle(accept.Outbound[0])
	require.NoError(t, err)
	resB, err := b.Handle(confirm.Outbound[0])
	require.NoError(t, err)
	resA, err := a.Handle(resB.Outbound[0])
	require.NoError(t, err)
	require.NotNil(t, resA.Record)

	want := append([]byte(nil), resA.Record.SharedKey...)
	common.WipeByteArray(a.sharedKey)
	assert.Equal(t, want, resA.Record.SharedKey)
}

func TestExpiredErrorClearsSession(t *testing.T) {
	a, _ := startHandshake(t)

	env, err := wire.NewEnvelope(wire.TypeError, wire.ErrorPayload{
		Message: "Pairing session expired",
		Code:    wire.CodePairingExpired,
	})
	require.NoError(t, err)

	_, handleErr := a.Handle(env)
	assert.ErrorIs(t, handleErr, common.ErrorPairingExpired)
	assert.Equal(t, StateExpired, a.State())

	// Expiry after establishment is ignored.
	a2, b2 := startHandshake(t)
	accept, err := b2.EnterCode(a2.Code())
	require.NoError(t, err)
	confirm, err := a2.Handle(accept.Outbound[0])
	require.NoError(t, err)
	resB, err := b2.Handle(confirm.Outbound[0])
	require.NoError(t, err)
	_, err = a2.Handle(resB.Outbound[0])
	require.NoError(t, err)

	_, err = a2.Handle(env)
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, a2.State())
}

func TestTargetOfflineErrorAbortsHandshake(t *testing.T) {
	a, _ := startHandshake(t)

	env, err := wire.NewEnvelope(wire.TypeError, wire.ErrorPayload{
		Message: "Target device not connected",
		Code:    wire.CodeTargetOffline,
	})
	require.NoError(t, err)

	_, handleErr := a.Handle(env)
	assert.ErrorIs(t, handleErr, common.ErrorTargetOffline)
	assert.Equal(t, StateRejected, a.State())
}

func TestStrayMessagesIgnored(t *testing.T) {
	a, b := startHandshake(t)

	// A confirm-response before the key exchange is a no-op.
	stray, err := wire.NewEnvelope(wire.TypePairingConfirmResponse, wire.PairingConfirmPayload{
		SessionID: a.SessionID(), FromDeviceID: "dev-b", ToDeviceID: "dev-a", PublicKey: []byte{1},
	})
	require.NoError(t, err)
	res, err := a.Handle(stray)
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
	assert.Equal(t, StateRequesting, a.State())

	// An accept for a different session is ignored.
	other, err := wire.NewEnvelope(wire.TypePairingAccept, wire.PairingAcceptPayload{
		SessionID: "other-session", FromDeviceID: "dev-b", ToDeviceID: "dev-a", Code: "9999",
	})
	require.NoError(t, err)
	res, err = a.Handle(other)
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)

	// Unknown envelope types fall through.
	res, err = b.Handle(wire.Envelope{Type: "bogus"})
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
}

func unmarshalPayload(t *testing.T, env wire.Envelope, v any) error {
	t.Helper()
	return json.Unmarshal(env.Payload, v)
}
