// Package identity stores the device's own identity: an opaque stable
// device id created on first run and a user-editable display name.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/dbx"
)

// Repository provides the device identity. Only the display name is mutable.
type Repository interface {
	// Get returns the stored identity, or common.ErrorNotFound on a fresh
	// install.
	Get(ctx context.Context) (*models.DeviceIdentity, error)

	// Save stores the identity (single row).
	Save(ctx context.Context, id *models.DeviceIdentity) error
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (*models.DeviceIdentity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT device_id, display_name FROM identity WHERE id = 1`)

	var id models.DeviceIdentity
	err := row.Scan(&id.DeviceID, &id.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select identity: %w", err)
	}
	return &id, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, id *models.DeviceIdentity) error {
	query := `INSERT INTO identity (id, device_id, display_name) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET device_id = excluded.device_id, display_name = excluded.display_name`
	if _, err := r.db.ExecContext(ctx, query, id.DeviceID, id.DisplayName); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}
