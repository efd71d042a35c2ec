// Package models defines the persistent data types held by a device:
// ledger transactions with tombstone semantics, their append-only version
// history, pairing trust records and per-partner sync bookkeeping.
package models

import "time"

// Transaction is a single ledger entry. It is owned by whichever device
// created it; during merge it may be overwritten by the merge policy, but it
// is never hard-deleted; deletion is expressed via the DeletedAt tombstone
// so the deletion itself can be propagated to peers.
type Transaction struct {
	ID            string     `json:"id"`
	Amount        float64    `json:"amount"`
	Item          string     `json:"item"`
	Category      string     `json:"category"`
	PaymentMethod string     `json:"payment_method"`
	Timestamp     time.Time  `json:"timestamp"`
	OwnerDeviceID string     `json:"owner_device_id"`
	IsPrivate     bool       `json:"is_private"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Conflict      bool       `json:"conflict"`

	// Pending marks a client-side placeholder row (e.g. a transcription
	// still being confirmed by the user). Pending rows never sync.
	Pending bool `json:"pending,omitempty"`
}

// Deleted reports whether the transaction carries a tombstone.
func (t *Transaction) Deleted() bool {
	return t.DeletedAt != nil
}

// Syncable reports whether the transaction may be included in an outgoing
// sync payload for the given local device: private and pending rows never
// leave the device, and only locally-owned rows are offered.
func (t *Transaction) Syncable(localDeviceID string) bool {
	return !t.IsPrivate && !t.Pending && t.OwnerDeviceID == localDeviceID
}

// TransactionVersion is one entry of the append-only audit log, written on
// every local edit and on every remote version imported during merge. It is
// what lets conflicting edits be shown to the user for manual resolution.
type TransactionVersion struct {
	ID              string      `json:"id"`
	TransactionID   string      `json:"transaction_id"`
	PayloadSnapshot Transaction `json:"payload_snapshot"`
	EditorDeviceID  string      `json:"editor_device_id"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
