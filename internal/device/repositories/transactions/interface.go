package transactions

import (
	"context"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
)

// Repository describes the local transaction table and its version history.
// Implementations are backed by the device's SQLite database.
type Repository interface {
	// GetByID returns a transaction by id, including tombstoned rows.
	// Returns common.ErrorNotFound when no row exists.
	GetByID(ctx context.Context, id string) (*models.Transaction, error)

	// Upsert inserts a new transaction or overwrites an existing one by id.
	Upsert(ctx context.Context, t *models.Transaction) error

	// SoftDelete stamps the transaction with a tombstone instead of
	// removing the row, so the deletion can propagate to peers.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// UpdatedSince returns transactions with updated_at strictly after
	// since, ordered by (updated_at, id) for stable chunking. A nil since
	// returns everything.
	UpdatedSince(ctx context.Context, since *time.Time) ([]models.Transaction, error)

	// AppendVersion writes one audit-log entry. The log is append-only;
	// an entry whose id already exists is ignored, so re-imported remote
	// history is idempotent.
	AppendVersion(ctx context.Context, v *models.TransactionVersion) error

	// VersionsByTransaction returns the full history for one transaction,
	// oldest first.
	VersionsByTransaction(ctx context.Context, transactionID string) ([]models.TransactionVersion, error)
}
