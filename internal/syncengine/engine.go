// Package syncengine reconciles the local transaction ledger with a paired
// partner device. A sync is a bidirectional exchange of encrypted payload
// chunks over a peer channel: each side sends the transactions it changed
// since the shared watermark and merges the partner's the same way. Merging
// is last-writer-wins with tombstone propagation; edits that raced on both
// devices since the watermark are kept but flagged for manual resolution.
package syncengine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
	"github.com/pokar-monil/kharchakitab-sub000/internal/device/repositories/transactions"
	"github.com/pokar-monil/kharchakitab-sub000/internal/logging"
	"github.com/pokar-monil/kharchakitab-sub000/internal/peer"
	"github.com/pokar-monil/kharchakitab-sub000/internal/wire"
)

// chunkSize is the number of transactions per sync payload.
const chunkSize = 50

// SyncStateStore is the per-partner bookkeeping the engine reads and writes.
type SyncStateStore interface {
	Get(ctx context.Context, partnerDeviceID string) (*models.SyncState, error)
	Save(ctx context.Context, s *models.SyncState) error
}

// PairingStore resolves the long-term trust record for a partner.
type PairingStore interface {
	GetByPartner(ctx context.Context, partnerDeviceID string) (*models.PairingRecord, error)
}

// Connector negotiates a peer channel through the relay.
type Connector interface {
	Offer(ctx context.Context, sessionID, localID, partnerID string, nonce []byte) (*peer.Channel, error)
	Answer(ctx context.Context, offer wire.OfferPayload, localID string) (*peer.Channel, error)
}

// Progress reports per-transaction apply progress and per-chunk send
// progress. May be nil.
type Progress func(done, total int)

// Engine drives syncs with paired partners. One sync per partner may be in
// flight at a time.
type Engine struct {
	identity  models.DeviceIdentity
	txns      transactions.Repository
	states    SyncStateStore
	pairings  PairingStore
	connector Connector
	logger    logging.Logger

	chunkDelay time.Duration

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	cancels  map[string]bool
}

func New(identity models.DeviceIdentity, txns transactions.Repository, states SyncStateStore,
	pairings PairingStore, connector Connector, logger logging.Logger) *Engine {
	return &Engine{
		identity:   identity,
		txns:       txns,
		states:     states,
		pairings:   pairings,
		connector:  connector,
		logger:     logger.With("module", "syncengine"),
		chunkDelay: 50 * time.Millisecond,
		inFlight:   make(map[string]context.CancelFunc),
		cancels:    make(map[string]bool),
	}
}

// TotalChunks returns the number of payloads n transactions split into.
// Never zero: a sync with nothing changed still exchanges one empty payload
// so the watermark advances on both sides.
func TotalChunks(n int) int {
	if n <= 0 {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(chunkSize)))
}

// collectOutgoing returns the locally-owned transactions changed strictly
// after since, excluding private and pending rows.
func (e *Engine) collectOutgoing(ctx context.Context, since *time.Time) ([]models.Transaction, error) {
	all, err := e.txns.UpdatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(all))
	for _, t := range all {
		if t.Syncable(e.identity.DeviceID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// BuildPayloads assembles every chunk of an outgoing sync against the given
// watermark. Each included transaction travels with its full version
// history. ChunkInfo is attached only when the sync spans more than one
// chunk.
func (e *Engine) BuildPayloads(ctx context.Context, lastSyncAt *time.Time) ([]wire.SyncPayload, error) {
	txs, err := e.collectOutgoing(ctx, lastSyncAt)
	if err != nil {
		return nil, err
	}

	total := TotalChunks(len(txs))
	chunkID := uuid.NewString()
	now := time.Now().UTC()

	payloads := make([]wire.SyncPayload, 0, total)
	for i := 0; i < total; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if lo > len(txs) {
			lo = len(txs)
		}
		if hi > len(txs) {
			hi = len(txs)
		}
		slice := txs[lo:hi]

		history := make(map[string][]models.TransactionVersion, len(slice))
		for _, t := range slice {
			versions, err := e.txns.VersionsByTransaction(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			if len(versions) > 0 {
				history[t.ID] = versions
			}
		}

		p := wire.SyncPayload{
			FromDeviceID:    e.identity.DeviceID,
			FromDisplayName: e.identity.DisplayName,
			SentAt:          now,
			LastSyncAt:      lastSyncAt,
			Transactions:    slice,
			VersionHistory:  history,
		}
		if total > 1 {
			p.ChunkInfo = &wire.ChunkInfo{Current: i + 1, Total: total, ChunkID: chunkID}
		}
		payloads = append(payloads, p)
	}

	return payloads, nil
}
