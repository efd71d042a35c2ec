// Package cryptox implements the cryptographic primitives of the pairing and
// sync protocols: ephemeral ECDH key agreement for the one-time pairing
// handshake, HKDF-based per-session key derivation, and an AES-256-GCM
// envelope over JSON for sync payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sessionKeyInfo is the fixed HKDF context string. Changing it invalidates
// every derived session key, so it is part of the protocol.
const sessionKeyInfo = "kharchakitab/sync-session-key/v1"

// SessionNonceSize is the size of the sender-chosen nonce that salts the
// per-session key derivation.
const SessionNonceSize = 16

var (
	// ErrDecryptFailed is returned when authenticated decryption fails:
	// the ciphertext was tampered with or the key is wrong. No plaintext
	// is ever returned alongside it.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrMissingNonce is returned when a session key derivation is
	// attempted without a session nonce. Falling back to the raw paired
	// key would silently lose forward secrecy, so this is a protocol
	// error on both the offering and answering paths.
	ErrMissingNonce = errors.New("missing session nonce")
)

// KeyPair is an ephemeral ECDH key pair for one pairing handshake. It is
// never reused across handshakes or syncs.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKey returns the public key in its portable (uncompressed point)
// encoding, suitable for sending in a pairing:confirm payload.
func (kp *KeyPair) PublicKey() []byte {
	return kp.private.PublicKey().Bytes()
}

// DeriveSharedKey combines our private key with the peer's exported public
// key and returns 32 bytes of long-lived symmetric key material, storable in
// a PairingRecord. Both sides of a handshake derive identical material.
func (kp *KeyPair) DeriveSharedKey(peerPublicKey []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	secret, err := kp.private.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	// Hash the raw ECDH output so the stored material is uniform.
	key := sha256.Sum256(secret)
	return key[:], nil
}

// DeriveSessionKey stretches the long-lived shared key into a fresh 32-byte
// key scoped to a single sync session. The nonce is chosen by the sync
// initiator per attempt, which keeps any single session forward-secret even
// if the shared key later leaks.
func DeriveSessionKey(sharedKey, nonce []byte) ([]byte, error) {
	if len(nonce) == 0 {
		return nil, ErrMissingNonce
	}
	r := hkdf.New(sha256.New, sharedKey, nonce, []byte(sessionKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// Envelope is an encrypted payload in portable form. IV and Data are
// base64-encoded so the envelope can cross any JSON transport unchanged.
type Envelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Encrypt serializes v to JSON and seals it with AES-256-GCM under a fresh
// random 12-byte nonce.
func Encrypt(key []byte, v any) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens the envelope and unmarshals the plaintext into v. A wrong
// key or tampered ciphertext yields ErrDecryptFailed, never garbage output.
func Decrypt(key []byte, env *Envelope, v any) error {
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	if len(nonce) != aead.NonceSize() {
		return ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptFailed
	}

	return json.Unmarshal(plaintext, v)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}
