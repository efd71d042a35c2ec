// Package common defines shared constants and sentinel errors used across
// the relay and device layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Signaling errors.
	ErrorNotConnected   = errors.New("not connected")
	ErrorRequestTimeout = errors.New("request timed out")
	ErrorTargetOffline  = errors.New("target device not connected")

	// Pairing errors.
	ErrorPairingExpired  = errors.New("pairing session expired")
	ErrorWrongCode       = errors.New("wrong pairing code")
	ErrorMaxAttempts     = errors.New("maximum pairing attempts reached")
	ErrorPairingRejected = errors.New("pairing rejected")

	// Sync errors.
	ErrorSyncInFlight   = errors.New("sync already in progress for partner")
	ErrorPartnerOffline = errors.New("partner may be offline")
)
