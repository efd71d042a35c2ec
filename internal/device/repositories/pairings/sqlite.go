// Package pairings persists the long-term trust records created by the
// pairing handshake.
package pairings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/dbx"
)

// Repository describes storage for PairingRecord objects.
type Repository interface {
	// Upsert stores or refreshes the record for a partner device.
	Upsert(ctx context.Context, p *models.PairingRecord) error

	// GetByPartner returns the record for a partner device id.
	// Returns common.ErrorNotFound when the partner is unknown.
	GetByPartner(ctx context.Context, partnerDeviceID string) (*models.PairingRecord, error)

	// List returns all paired partners.
	List(ctx context.Context) ([]models.PairingRecord, error)

	// Delete forgets a partner. The caller is responsible for wiping any
	// dependent sync state.
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

func (r *SQLiteRepository) Upsert(ctx context.Context, p *models.PairingRecord) error {
	query := `INSERT INTO pairings (partner_device_id, partner_display_name, shared_key, created_at, trust_level)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(partner_device_id) DO UPDATE SET
			partner_display_name = excluded.partner_display_name,
			shared_key = excluded.shared_key,
			created_at = excluded.created_at,
			trust_level = excluded.trust_level
	`
	_, err := r.db.ExecContext(ctx, query,
		p.PartnerDeviceID, p.PartnerDisplayName, p.SharedKey, dbx.FormatTime(p.CreatedAt), string(p.TrustLevel))
	if err != nil {
		return fmt.Errorf("failed to upsert pairing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByPartner(ctx context.Context, partnerDeviceID string) (*models.PairingRecord, error) {
	query := `SELECT partner_device_id, partner_display_name, shared_key, created_at, trust_level
		FROM pairings WHERE partner_device_id = ?`
	row := r.db.QueryRowContext(ctx, query, partnerDeviceID)

	p, err := scanPairing(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pairing: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.PairingRecord, error) {
	query := `SELECT partner_device_id, partner_display_name, shared_key, created_at, trust_level
		FROM pairings ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select pairings: %w", err)
	}
	defer rows.Close()

	var result []models.PairingRecord
	for rows.Next() {
		p, err := scanPairing(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, partnerDeviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pairings WHERE partner_device_id = ?`, partnerDeviceID)
	if err != nil {
		return fmt.Errorf("failed to delete pairing: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func scanPairing(scan func(...any) error) (*models.PairingRecord, error) {
	var p models.PairingRecord
	var createdAt, trustLevel string
	if err := scan(&p.PartnerDeviceID, &p.PartnerDisplayName, &p.SharedKey, &createdAt, &trustLevel); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = dbx.ParseTime(createdAt); err != nil {
		return nil, err
	}
	p.TrustLevel = models.TrustLevel(trustLevel)
	return &p, nil
}
