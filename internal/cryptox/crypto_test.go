package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
)

type testPayload struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := common.GenerateRandByteArray(32)

	in := testPayload{ID: "tx1", Amount: 99.5}
	env, err := Encrypt(key, in)
	require.NoError(t, err)
	require.NotEmpty(t, env.IV)
	require.NotEmpty(t, env.Data)

	var out testPayload
	require.NoError(t, Decrypt(key, env, &out))
	assert.Equal(t, in, out)
}

func TestDecrypt_WrongKeyFailsTyped(t *testing.T) {
	key := common.GenerateRandByteArray(32)
	other := common.GenerateRandByteArray(32)

	env, err := Encrypt(key, testPayload{ID: "tx1"})
	require.NoError(t, err)

	var out testPayload
	err = Decrypt(other, env, &out)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	assert.Empty(t, out.ID, "no plaintext may leak on auth failure")
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key := common.GenerateRandByteArray(32)

	env, err := Encrypt(key, testPayload{ID: "tx1"})
	require.NoError(t, err)

	env.Data = "AAAA" + env.Data[4:]

	var out testPayload
	assert.ErrorIs(t, Decrypt(key, env, &out), ErrDecryptFailed)
}

func TestDeriveSharedKey_BothSidesAgree(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ka, err := a.DeriveSharedKey(b.PublicKey())
	require.NoError(t, err)
	kb, err := b.DeriveSharedKey(a.PublicKey())
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 32)
}

func TestDeriveSharedKey_BadPeerKey(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = a.DeriveSharedKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDeriveSessionKey(t *testing.T) {
	shared := common.GenerateRandByteArray(32)
	nonce1 := common.GenerateRandByteArray(SessionNonceSize)
	nonce2 := common.GenerateRandByteArray(SessionNonceSize)

	k1, err := DeriveSessionKey(shared, nonce1)
	require.NoError(t, err)
	k1again, err := DeriveSessionKey(shared, nonce1)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(shared, nonce2)
	require.NoError(t, err)

	assert.Equal(t, k1, k1again, "same nonce derives the same key")
	assert.NotEqual(t, k1, k2, "fresh nonce derives a fresh key")
	assert.NotEqual(t, shared, k1, "session key differs from the paired key")
}

func TestDeriveSessionKey_MissingNonce(t *testing.T) {
	shared := common.GenerateRandByteArray(32)
	_, err := DeriveSessionKey(shared, nil)
	assert.ErrorIs(t, err, ErrMissingNonce)
}

func TestSessionKeyEndToEnd(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	sharedA, err := a.DeriveSharedKey(b.PublicKey())
	require.NoError(t, err)
	sharedB, err := b.DeriveSharedKey(a.PublicKey())
	require.NoError(t, err)

	nonce := common.GenerateRandByteArray(SessionNonceSize)
	ka, err := DeriveSessionKey(sharedA, nonce)
	require.NoError(t, err)
	kb, err := DeriveSessionKey(sharedB, nonce)
	require.NoError(t, err)

	env, err := Encrypt(ka, testPayload{ID: "tx9", Amount: 12})
	require.NoError(t, err)

	var out testPayload
	require.NoError(t, Decrypt(kb, env, &out))
	assert.Equal(t, "tx9", out.ID)
}
