package syncengine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// ApplyResult summarizes one applied payload.
type ApplyResult struct {
	Inserted  int
	Updated   int
	Skipped   int
	Conflicts []string

	// WatermarkAdvanced is set when the payload was final and the
	// partner's sync state was moved forward.
	WatermarkAdvanced bool
}

// ApplyPayload merges one decrypted payload into the local store.
//
// Per transaction, in order: private or pending rows are skipped; a
// tombstone overwrites the live local row but a live row never resurrects a
// local tombstone, and a tombstone for an unknown id is dropped; unknown
// live ids are inserted as-is; when both sides edited
// the same row after a non-nil watermark and the timestamps differ, the
// later snapshot wins and is flagged as a conflict; otherwise plain
// last-writer-wins; equal timestamps are a no-op.
//
// The watermark advances only when the payload is final (unchunked, or the
// last chunk of its series). On any store failure the sync state records
// the failure and the watermark stays put.
func (e *Engine) ApplyPayload(ctx context.Context, p *wire.SyncPayload, progress Progress) (*ApplyResult, error) {
	state, err := e.states.Get(ctx, p.FromDeviceID)
	if err != nil {
		return nil, err
	}

	if err := wire.ValidatePayload(p); err != nil {
		e.failState(ctx, state, err)
		return nil, err
	}

	res := &ApplyResult{}
	total := len(p.Transactions)

	for i := range p.Transactions {
		incoming := p.Transactions[i]
		if err := e.applyOne(ctx, state, &incoming, p.FromDeviceID, res); err != nil {
			e.failState(ctx, state, err)
			return nil, err
		}
		for _, v := range p.VersionHistory[incoming.ID] {
			if err := e.txns.AppendVersion(ctx, &v); err != nil {
				e.failState(ctx, state, err)
				return nil, err
			}
		}
		if progress != nil {
			progress(i+1, total)
		}
	}

	if p.Final() {
		sentAt := p.SentAt
		state.LastSyncAt = &sentAt
		state.LastSyncStatus = models.SyncStatusComplete
		state.LastSyncError = ""
		res.WatermarkAdvanced = true
	}
	if err := e.states.Save(ctx, state); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "payload applied",
		"partner", p.FromDeviceID,
		"inserted", res.Inserted, "updated", res.Updated,
		"skipped", res.Skipped, "conflicts", len(res.Conflicts),
		"final", p.Final())

	return res, nil
}

func (e *Engine) applyOne(ctx context.Context, state *models.SyncState, incoming *models.Transaction, fromDeviceID string, res *ApplyResult) error {
	if incoming.IsPrivate || incoming.Pending {
		res.Skipped++
		return nil
	}

	local, err := e.txns.GetByID(ctx, incoming.ID)
	if errors.Is(err, common.ErrorNotFound) {
		// A tombstone for a row we never had is nothing to do.
		if incoming.Deleted() {
			res.Skipped++
			return nil
		}
		if err := e.txns.Upsert(ctx, incoming); err != nil {
			return err
		}
		if err := e.recordVersion(ctx, incoming, fromDeviceID); err != nil {
			return err
		}
		res.Inserted++
		return nil
	}
	if err != nil {
		return err
	}

	// Deletion always propagates; an edit never resurrects a tombstone.
	if local.Deleted() {
		res.Skipped++
		return nil
	}
	if incoming.Deleted() {
		if err := e.txns.Upsert(ctx, incoming); err != nil {
			return err
		}
		if err := e.recordVersion(ctx, incoming, fromDeviceID); err != nil {
			return err
		}
		res.Updated++
		return nil
	}

	if incoming.UpdatedAt.Equal(local.UpdatedAt) {
		res.Skipped++
		return nil
	}

	if state.LastSyncAt != nil &&
		local.UpdatedAt.After(*state.LastSyncAt) &&
		incoming.UpdatedAt.After(*state.LastSyncAt) {
		// Both devices edited this row since the watermark. Keep the
		// later snapshot but flag it so the user can resolve by hand.
		// Both snapshots go into the version log so the losing edit
		// survives for that resolution.
		winner := *incoming
		if local.UpdatedAt.After(incoming.UpdatedAt) {
			winner = *local
		}
		winner.Conflict = true
		if err := e.txns.Upsert(ctx, &winner); err != nil {
			return err
		}
		if err := e.recordVersion(ctx, local, e.identity.DeviceID); err != nil {
			return err
		}
		if err := e.recordVersion(ctx, incoming, fromDeviceID); err != nil {
			return err
		}
		state.AddConflict(winner.ID)
		res.Conflicts = append(res.Conflicts, winner.ID)
		return nil
	}

	if incoming.UpdatedAt.After(local.UpdatedAt) {
		if err := e.txns.Upsert(ctx, incoming); err != nil {
			return err
		}
		if err := e.recordVersion(ctx, incoming, fromDeviceID); err != nil {
			return err
		}
		res.Updated++
		return nil
	}

	res.Skipped++
	return nil
}

// recordVersion snapshots an applied remote write into the local audit log.
func (e *Engine) recordVersion(ctx context.Context, t *models.Transaction, editorDeviceID string) error {
	return e.txns.AppendVersion(ctx, &models.TransactionVersion{
		ID:              uuid.NewString(),
		TransactionID:   t.ID,
		PayloadSnapshot: *t,
		EditorDeviceID:  editorDeviceID,
		UpdatedAt:       t.UpdatedAt,
	})
}

// failState records a failed sync attempt on the in-memory state without
// touching the watermark. Saving the caller's copy keeps conflicts recorded
// earlier in the same payload instead of reloading over them.
func (e *Engine) failState(ctx context.Context, state *models.SyncState, cause error) {
	state.LastSyncStatus = models.SyncStatusFailed
	state.LastSyncError = cause.Error()
	if err := e.states.Save(ctx, state); err != nil {
		e.logger.Error(ctx, "failed to save sync state", "partner", state.PartnerDeviceID, "error", err)
	}
}

// markState sets the final status of a sync attempt.
func (e *Engine) markState(ctx context.Context, partnerID string, status models.SyncStatus, cause error) {
	state, err := e.states.Get(ctx, partnerID)
	if err != nil {
		e.logger.Error(ctx, "failed to load sync state", "partner", partnerID, "error", err)
		return
	}
	state.LastSyncStatus = status
	state.LastSyncError = ""
	if cause != nil {
		state.LastSyncError = cause.Error()
	}
	if err := e.states.Save(ctx, state); err != nil {
		e.logger.Error(ctx, "failed to save sync state", "partner", partnerID, "error", err)
	}
}
