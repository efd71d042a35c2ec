// Package client bootstraps the device database and wires the repositories.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/migrations"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/repositories/identity"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/repositories/pairings"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/repositories/syncstate"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/repositories/transactions"
)

// Repositories bundles the device-side stores.
type Repositories struct {
	Transactions transactions.Repository
	Pairings     pairings.Repository
	SyncState    syncstate.Repository
	Identity     identity.Repository
	DB           *sql.DB
}

// RunMigrations applies the embedded schema with goose.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the SQLite database at dsn, migrates it, and returns
// the wired repositories.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	return &Repositories{
		Transactions: transactions.NewSQLiteRepository(db),
		Pairings:     pairings.NewSQLiteRepository(db),
		SyncState:    syncstate.NewSQLiteRepository(db),
		Identity:     identity.NewSQLiteRepository(db),
		DB:           db,
	}, nil
}

// LoadOrCreateIdentity returns the stored device identity, minting one on
// first run. The device id is stable for the lifetime of the install.
func LoadOrCreateIdentity(ctx context.Context, repo identity.Repository, displayName string) (*models.DeviceIdentity, error) {
	id, err := repo.Get(ctx)
	if err == nil {
		if displayName != "" && displayName != id.DisplayName {
			id.DisplayName = displayName
			if err := repo.Save(ctx, id); err != nil {
				return nil, err
			}
		}
		return id, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	if displayName == "" {
		displayName = "Device " + uuid.NewString()[:8]
	}
	id = &models.DeviceIdentity{DeviceID: uuid.NewString(), DisplayName: displayName}
	if err := repo.Save(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}
