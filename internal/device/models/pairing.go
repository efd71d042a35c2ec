package models

import "time"

// TrustLevel classifies how a partner became trusted. Currently only
// code-verified pairing exists.
type TrustLevel string

const (
	TrustLevelPaired TrustLevel = "paired"
)

// PairingRecord is the long-term trust record for one partner device,
// created when a pairing handshake completes on both sides. SharedKey is the
// exported symmetric key material derived from the handshake; it never
// leaves the device again and is only used to derive per-session keys.
type PairingRecord struct {
	PartnerDeviceID    string     `json:"partner_device_id"`
	PartnerDisplayName string     `json:"partner_display_name"`
	SharedKey          []byte     `json:"shared_key"`
	CreatedAt          time.Time  `json:"created_at"`
	TrustLevel         TrustLevel `json:"trust_level"`
}

// SyncStatus is the outcome of the most recent sync attempt with a partner.
type SyncStatus string

const (
	SyncStatusNever     SyncStatus = ""
	SyncStatusComplete  SyncStatus = "complete"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// SyncState is the per-partner sync bookkeeping. LastSyncAt is the watermark:
// the boundary below which both peers are assumed fully reconciled. It is nil
// until the first completed sync.
type SyncState struct {
	PartnerDeviceID string     `json:"partner_device_id"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSyncCursor  string     `json:"last_sync_cursor"`
	Conflicts       []string   `json:"conflicts"`
	LastSyncStatus  SyncStatus `json:"last_sync_status"`
	LastSyncError   string     `json:"last_sync_error"`
}

// HasConflict reports whether the given transaction id is already recorded
// in the conflict set.
func (s *SyncState) HasConflict(id string) bool {
	for _, c := range s.Conflicts {
		if c == id {
			return true
		}
	}
	return false
}

// AddConflict records a transaction id in the conflict set, once.
func (s *SyncState) AddConflict(id string) {
	if !s.HasConflict(id) {
		s.Conflicts = append(s.Conflicts, id)
	}
}

// DeviceIdentity identifies this device install. DeviceID is opaque and
// stable for the lifetime of the install; only DisplayName may change.
type DeviceIdentity struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}
