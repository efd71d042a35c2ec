package pairings

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE pairings (
  partner_device_id TEXT PRIMARY KEY,
  partner_display_name TEXT NOT NULL DEFAULT '',
  shared_key BLOB NOT NULL,
  created_at TEXT NOT NULL,
  trust_level TEXT NOT NULL DEFAULT 'paired'
);
`)
	require.NoError(t, err)
	return db
}

func record(partner string) *models.PairingRecord {
	return &models.PairingRecord{
		PartnerDeviceID:    partner,
		PartnerDisplayName: "Partner " + partner,
		SharedKey:          []byte{1, 2, 3, 4},
		CreatedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TrustLevel:         models.TrustLevelPaired,
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, record("dev-b")))

	got, err := r.GetByPartner(ctx, "dev-b")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.SharedKey)
	assert.Equal(t, models.TrustLevelPaired, got.TrustLevel)

	// Re-pairing replaces the key material.
	updated := record("dev-b")
	updated.SharedKey = []byte{9, 9}
	require.NoError(t, r.Upsert(ctx, updated))

	got, err = r.GetByPartner(ctx, "dev-b")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, got.SharedKey)
}

func TestGetByPartner_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByPartner(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListAndDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, record("dev-b")))
	require.NoError(t, r.Upsert(ctx, record("dev-c")))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, r.Delete(ctx, "dev-b"))
	all, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "dev-c", all[0].PartnerDeviceID)

	assert.ErrorIs(t, r.Delete(ctx, "dev-b"), common.ErrorNotFound)
}
