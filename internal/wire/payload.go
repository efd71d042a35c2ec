package wire

import (
	"fmt"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
)

// ChunkInfo is attached to a sync payload only when the sync spans more than
// one chunk.
type ChunkInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	ChunkID string `json:"chunk_id"`
}

// SyncPayload is one chunk of a sync, serialized and encrypted before it is
// handed to the peer transport. Version history travels with the
// transactions so the receiving side can show conflicting edits.
type SyncPayload struct {
	FromDeviceID    string                                 `json:"from_device_id"`
	FromDisplayName string                                 `json:"from_display_name"`
	SentAt          time.Time                              `json:"sent_at"`
	LastSyncAt      *time.Time                             `json:"last_sync_at"`
	Transactions    []models.Transaction                   `json:"transactions"`
	VersionHistory  map[string][]models.TransactionVersion `json:"version_history,omitempty"`
	ChunkInfo       *ChunkInfo                             `json:"chunk_info,omitempty"`
}

// Final reports whether applying this payload completes the sync: either the
// payload was unchunked, or it is the last chunk of its series.
func (p *SyncPayload) Final() bool {
	return p.ChunkInfo == nil || p.ChunkInfo.Current == p.ChunkInfo.Total
}

// InvalidTransactionError rejects a malformed inbound transaction before it
// reaches the merge routine.
type InvalidTransactionError struct {
	ID     string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction %q: %s", e.ID, e.Reason)
}

// ValidateTransaction checks the fields the merge routine relies on. Records
// failing validation must be rejected at the decode boundary, not tolerated
// with fallback defaults inside the merge.
func ValidateTransaction(t *models.Transaction) error {
	switch {
	case t.ID == "":
		return &InvalidTransactionError{Reason: "missing id"}
	case t.OwnerDeviceID == "":
		return &InvalidTransactionError{ID: t.ID, Reason: "missing owner_device_id"}
	case t.UpdatedAt.IsZero():
		return &InvalidTransactionError{ID: t.ID, Reason: "missing updated_at"}
	}
	return nil
}

// ValidatePayload checks the payload header and every contained transaction.
func ValidatePayload(p *SyncPayload) error {
	if p.FromDeviceID == "" {
		return fmt.Errorf("sync payload: missing from_device_id")
	}
	if p.ChunkInfo != nil {
		ci := p.ChunkInfo
		if ci.Total < 1 || ci.Current < 1 || ci.Current > ci.Total {
			return fmt.Errorf("sync payload: bad chunk_info %d/%d", ci.Current, ci.Total)
		}
	}
	for i := range p.Transactions {
		if err := ValidateTransaction(&p.Transactions[i]); err != nil {
			return err
		}
	}
	return nil
}
