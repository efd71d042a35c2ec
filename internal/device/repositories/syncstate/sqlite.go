// Package syncstate persists the per-partner sync bookkeeping: the
// watermark, conflict set and the outcome of the last attempt.
package syncstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/dbx"
)

// Repository describes storage for SyncState objects.
type Repository interface {
	// Get returns the state for a partner. An unknown partner yields a
	// fresh zero state (nil watermark), not an error: every partner
	// starts unsynced.
	Get(ctx context.Context, partnerDeviceID string) (*models.SyncState, error)

	// Save upserts the state for its partner.
	Save(ctx context.Context, s *models.SyncState) error

	// Delete removes the state for a forgotten partner.
	Delete(ctx context.Context, partnerDeviceID string) error
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, partnerDeviceID string) (*models.SyncState, error) {
	query := `SELECT partner_device_id, last_sync_at, last_sync_cursor, conflicts, last_sync_status, last_sync_error
		FROM sync_state WHERE partner_device_id = ?`
	row := r.db.QueryRowContext(ctx, query, partnerDeviceID)

	var s models.SyncState
	var lastSyncAt sql.NullString
	var conflicts, status string

	err := row.Scan(&s.PartnerDeviceID, &lastSyncAt, &s.LastSyncCursor, &conflicts, &status, &s.LastSyncError)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SyncState{PartnerDeviceID: partnerDeviceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select sync state: %w", err)
	}

	if lastSyncAt.Valid {
		at, err := dbx.ParseTime(lastSyncAt.String)
		if err != nil {
			return nil, err
		}
		s.LastSyncAt = &at
	}
	if err := json.Unmarshal([]byte(conflicts), &s.Conflicts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflicts: %w", err)
	}
	s.LastSyncStatus = models.SyncStatus(status)
	return &s, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.SyncState) error {
	conflicts := s.Conflicts
	if conflicts == nil {
		conflicts = []string{}
	}
	encoded, err := json.Marshal(conflicts)
	if err != nil {
		return fmt.Errorf("failed to marshal conflicts: %w", err)
	}

	var lastSyncAt any
	if s.LastSyncAt != nil {
		lastSyncAt = dbx.FormatTime(*s.LastSyncAt)
	}

	query := `INSERT INTO sync_state
			(partner_device_id, last_sync_at, last_sync_cursor, conflicts, last_sync_status, last_sync_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(partner_device_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_sync_cursor = excluded.last_sync_cursor,
			conflicts = excluded.conflicts,
			last_sync_status = excluded.last_sync_status,
			last_sync_error = excluded.last_sync_error
	`
	_, err = r.db.ExecContext(ctx, query,
		s.PartnerDeviceID, lastSyncAt, s.LastSyncCursor, string(encoded), string(s.LastSyncStatus), s.LastSyncError)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, partnerDeviceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_state WHERE partner_device_id = ?`, partnerDeviceID)
	if err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}
