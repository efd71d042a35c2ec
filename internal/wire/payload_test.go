package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
)

func validTx() models.Transaction {
	return models.Transaction{
		ID:            "tx1",
		Amount:        100,
		Item:          "groceries",
		OwnerDeviceID: "dev-a",
		UpdatedAt:     time.Unix(1000, 0),
	}
}

func TestValidateTransaction(t *testing.T) {
	tx := validTx()
	require.NoError(t, ValidateTransaction(&tx))

	missingID := validTx()
	missingID.ID = ""
	err := ValidateTransaction(&missingID)
	var invalid *InvalidTransactionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "missing id", invalid.Reason)

	missingOwner := validTx()
	missingOwner.OwnerDeviceID = ""
	require.ErrorAs(t, ValidateTransaction(&missingOwner), &invalid)
	assert.Equal(t, "tx1", invalid.ID)

	missingUpdated := validTx()
	missingUpdated.UpdatedAt = time.Time{}
	assert.Error(t, ValidateTransaction(&missingUpdated))
}

func TestValidatePayload_ChunkInfo(t *testing.T) {
	p := &SyncPayload{FromDeviceID: "dev-a"}
	require.NoError(t, ValidatePayload(p))

	p.ChunkInfo = &ChunkInfo{Current: 2, Total: 3, ChunkID: "c1"}
	require.NoError(t, ValidatePayload(p))

	p.ChunkInfo = &ChunkInfo{Current: 4, Total: 3}
	assert.Error(t, ValidatePayload(p))

	p.ChunkInfo = &ChunkInfo{Current: 0, Total: 1}
	assert.Error(t, ValidatePayload(p))
}

func TestSyncPayload_Final(t *testing.T) {
	p := &SyncPayload{}
	assert.True(t, p.Final(), "unchunked payload is final")

	p.ChunkInfo = &ChunkInfo{Current: 1, Total: 3}
	assert.False(t, p.Final())

	p.ChunkInfo = &ChunkInfo{Current: 3, Total: 3}
	assert.True(t, p.Final())
}

func TestForwardAddress(t *testing.T) {
	env, err := NewEnvelope(TypePairingAccept, PairingAcceptPayload{
		SessionID:  "s1",
		ToDeviceID: "dev-b",
		Code:       "1234",
	})
	require.NoError(t, err)

	session, to, err := ForwardAddress(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "s1", session)
	assert.Equal(t, "dev-b", to)
}

func TestEnvelope_RequestIDRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypePresenceList, struct{}{})
	require.NoError(t, err)
	env.RequestID = "req-1"

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypePresenceList, decoded.Type)
	assert.Equal(t, "req-1", decoded.RequestID)
}
