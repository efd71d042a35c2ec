package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/dbx"
)

func fmtTime(t time.Time) string {
	return dbx.FormatTime(t)
}

func parseTime(s string) (time.Time, error) {
	return dbx.ParseTime(s)
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT id, amount, item, category, payment_method, ts, owner_device_id,
			is_private, deleted_at, updated_at, conflict, pending
		FROM transactions WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	t, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, t *models.Transaction) error {
	query := `INSERT INTO transactions
			(id, amount, item, category, payment_method, ts, owner_device_id,
			 is_private, deleted_at, updated_at, conflict, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			item = excluded.item,
			category = excluded.category,
			payment_method = excluded.payment_method,
			ts = excluded.ts,
			owner_device_id = excluded.owner_device_id,
			is_private = excluded.is_private,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at,
			conflict = excluded.conflict,
			pending = excluded.pending
	`
	var deletedAt any
	if t.DeletedAt != nil {
		deletedAt = fmtTime(*t.DeletedAt)
	}
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Amount, t.Item, t.Category, t.PaymentMethod, fmtTime(t.Timestamp),
		t.OwnerDeviceID, t.IsPrivate, deletedAt, fmtTime(t.UpdatedAt), t.Conflict, t.Pending)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE transactions SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, fmtTime(at), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
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

func (r *SQLiteRepository) UpdatedSince(ctx context.Context, since *time.Time) ([]models.Transaction, error) {
	query := `SELECT id, amount, item, category, payment_method, ts, owner_device_id,
			is_private, deleted_at, updated_at, conflict, pending
		FROM transactions`
	args := []any{}
	if since != nil {
		query += ` WHERE updated_at > ?`
		args = append(args, fmtTime(*since))
	}
	query += ` ORDER BY updated_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) AppendVersion(ctx context.Context, v *models.TransactionVersion) error {
	snapshot, err := json.Marshal(v.PayloadSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `INSERT OR IGNORE INTO transaction_versions
			(id, transaction_id, payload_snapshot, editor_device_id, updated_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		v.ID, v.TransactionID, string(snapshot), v.EditorDeviceID, fmtTime(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) VersionsByTransaction(ctx context.Context, transactionID string) ([]models.TransactionVersion, error) {
	query := `SELECT id, transaction_id, payload_snapshot, editor_device_id, updated_at
		FROM transaction_versions WHERE transaction_id = ? ORDER BY updated_at, id`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []models.TransactionVersion
	for rows.Next() {
		var v models.TransactionVersion
		var snapshot, updatedAt string
		if err := rows.Scan(&v.ID, &v.TransactionID, &snapshot, &v.EditorDeviceID, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &v.PayloadSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanTransaction(scan func(...any) error) (*models.Transaction, error) {
	var t models.Transaction
	var ts, updatedAt string
	var deletedAt sql.NullString

	err := scan(&t.ID, &t.Amount, &t.Item, &t.Category, &t.PaymentMethod, &ts,
		&t.OwnerDeviceID, &t.IsPrivate, &deletedAt, &updatedAt, &t.Conflict, &t.Pending)
	if err != nil {
		return nil, err
	}

	if t.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		d, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		t.DeletedAt = &d
	}
	return &t, nil
}
