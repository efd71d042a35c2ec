package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/common"
	"github.com/pokar-monil/kharchakitab-sub000/internal/cryptox"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/peer"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// frame is one message on the peer channel: either an encrypted payload
// chunk or an acknowledgement of the chunk index just applied.
type frame struct {
	Chunk *cryptox.Envelope `json:"chunk,omitempty"`
	Ack   int               `json:"ack,omitempty"`
}

// SyncWith runs a full sync session with a paired partner: negotiate a peer
// channel through the relay, send local changes chunk by chunk, then receive
// and merge the partner's changes. A second call for the same partner while
// one is running returns ErrorSyncInFlight.
func (e *Engine) SyncWith(ctx context.Context, partnerID string, progress Progress) error {
	sctx, err := e.begin(ctx, partnerID)
	if err != nil {
		return err
	}
	defer e.end(partnerID)

	pairing, err := e.pairings.GetByPartner(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("no pairing with %s: %w", partnerID, err)
	}

	nonce := common.GenerateRandByteArray(cryptox.SessionNonceSize)
	sessionKey, err := cryptox.DeriveSessionKey(pairing.SharedKey, nonce)
	if err != nil {
		return err
	}

	state, err := e.states.Get(ctx, partnerID)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	ch, err := e.connector.Offer(sctx, sessionID, e.identity.DeviceID, partnerID, nonce)
	if err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}
	defer ch.Close()

	if err := e.sendPayloads(sctx, ch, sessionKey, state.LastSyncAt, progress); err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}

	if err := e.receiveUntilFinal(sctx, ch, sessionKey, partnerID, progress); err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}

	e.logger.Info(ctx, "sync complete", "partner", partnerID, "session_id", sessionID)
	return nil
}

// Respond runs the receiving side of a sync session after an offer arrived
// through the relay: dial back, merge the partner's chunks, then send local
// changes. Offers from devices without a pairing record are rejected.
func (e *Engine) Respond(ctx context.Context, offer wire.OfferPayload, progress Progress) error {
	partnerID := offer.FromDeviceID

	sctx, err := e.begin(ctx, partnerID)
	if err != nil {
		return err
	}
	defer e.end(partnerID)

	pairing, err := e.pairings.GetByPartner(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("sync offer from unpaired device %s: %w", partnerID, err)
	}

	sessionKey, err := cryptox.DeriveSessionKey(pairing.SharedKey, offer.Nonce)
	if err != nil {
		return err
	}

	state, err := e.states.Get(ctx, partnerID)
	if err != nil {
		return err
	}
	// Snapshot before merging: outgoing changes are computed against the
	// watermark as it was when the session started, not the one the
	// partner's final chunk just advanced.
	lastSyncAt := state.LastSyncAt

	ch, err := e.connector.Answer(sctx, offer, e.identity.DeviceID)
	if err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}
	defer ch.Close()

	if err := e.receiveUntilFinal(sctx, ch, sessionKey, partnerID, progress); err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}

	if err := e.sendPayloads(sctx, ch, sessionKey, lastSyncAt, progress); err != nil {
		e.finish(ctx, partnerID, err)
		return err
	}

	e.logger.Info(ctx, "sync complete", "partner", partnerID, "session_id", offer.SessionID)
	return nil
}

// Cancel aborts an in-flight sync with the partner, if any. The chunk being
// applied finishes; the watermark only moves if the final chunk was already
// merged.
func (e *Engine) Cancel(partnerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.inFlight[partnerID]
	if !ok {
		return false
	}
	e.cancels[partnerID] = true
	cancel()
	return true
}

// Syncing reports whether a sync with the partner is in flight.
func (e *Engine) Syncing(partnerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[partnerID]
	return ok
}

func (e *Engine) begin(ctx context.Context, partnerID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[partnerID]; ok {
		return nil, common.ErrorSyncInFlight
	}
	sctx, cancel := context.WithCancel(ctx)
	e.inFlight[partnerID] = cancel
	delete(e.cancels, partnerID)
	return sctx, nil
}

func (e *Engine) end(partnerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.inFlight[partnerID]; ok {
		cancel()
		delete(e.inFlight, partnerID)
	}
}

// finish records the terminal status of a failed or cancelled session.
func (e *Engine) finish(ctx context.Context, partnerID string, cause error) {
	e.mu.Lock()
	cancelled := e.cancels[partnerID]
	e.mu.Unlock()

	if cancelled || errors.Is(cause, context.Canceled) {
		e.markState(ctx, partnerID, models.SyncStatusCancelled, nil)
		return
	}
	e.markState(ctx, partnerID, models.SyncStatusFailed, cause)
}

// sendPayloads encrypts and sends every outgoing chunk in order, waiting
// for the partner's acknowledgement before the next one.
func (e *Engine) sendPayloads(ctx context.Context, ch *peer.Channel, sessionKey []byte,
	lastSyncAt *time.Time, progress Progress) error {

	payloads, err := e.BuildPayloads(ctx, lastSyncAt)
	if err != nil {
		return err
	}

	total := len(payloads)
	for i, p := range payloads {
		env, err := cryptox.Encrypt(sessionKey, &p)
		if err != nil {
			return err
		}
		if err := ch.Send(ctx, frame{Chunk: env}); err != nil {
			return err
		}

		var ack frame
		if err := ch.Receive(ctx, &ack); err != nil {
			return err
		}
		if ack.Ack != i+1 {
			return fmt.Errorf("out-of-order ack: got %d, want %d", ack.Ack, i+1)
		}

		if progress != nil {
			progress(i+1, total)
		}
		if i+1 < total {
			select {
			case <-time.After(e.chunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// receiveUntilFinal decrypts, validates and merges inbound chunks, acking
// each one, until the final chunk of the series has been applied.
func (e *Engine) receiveUntilFinal(ctx context.Context, ch *peer.Channel, sessionKey []byte,
	partnerID string, progress Progress) error {

	var seriesID string
	for i := 1; ; i++ {
		var f frame
		if err := ch.Receive(ctx, &f); err != nil {
			return err
		}
		if f.Chunk == nil {
			return fmt.Errorf("unexpected frame: want chunk %d", i)
		}

		var p wire.SyncPayload
		if err := cryptox.Decrypt(sessionKey, f.Chunk, &p); err != nil {
			return err
		}
		if p.FromDeviceID != partnerID {
			return fmt.Errorf("payload from %s on session with %s", p.FromDeviceID, partnerID)
		}

		// A chunked series must arrive in order and under one series id,
		// or a replayed or dropped chunk could slip into the merge.
		if ci := p.ChunkInfo; ci != nil {
			if seriesID == "" {
				seriesID = ci.ChunkID
			}
			if ci.ChunkID != seriesID || ci.Current != i {
				return fmt.Errorf("chunk out of sequence: got %d of series %q, want %d of %q",
					ci.Current, ci.ChunkID, i, seriesID)
			}
		} else if i > 1 {
			return fmt.Errorf("unchunked payload after chunk %d", i-1)
		}

		if _, err := e.ApplyPayload(ctx, &p, progress); err != nil {
			return err
		}

		if err := ch.Send(ctx, frame{Ack: i}); err != nil {
			return err
		}

		if p.Final() {
			return nil
		}
	}
}
