// Package ledger implements the ledger materializer (spec.md §4.G): Merkle
// batching over newly appended ledger events, scheduled snapshots of
// authority state, replay-from-timestamp tooling, and audit log export.
//
// The ledger itself is written synchronously by the authority engine inside
// its own store transaction (internal/authority/engine's Issue/Revoke). This
// package never appends ledger rows; it only seals already-written ranges
// and projects already-written state.
package ledger

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// Store is the subset of internal/authority/store.Store the materializer
// needs, kept narrow so tests can supply an in-memory fake (mirrors the
// engine package's own Store interface).
type Store interface {
	ListUnsealedEvents(ctx context.Context, limit int) ([]model.LedgerEvent, error)
	PutMerkleRoot(ctx context.Context, r model.MerkleRoot) (model.MerkleRoot, error)
	AttachMerkleRoot(ctx context.Context, firstEventID, lastEventID int64, rootID string) error
}

// MetricsSink is the subset of internal/authority/metrics.Registry the
// materializer needs, kept narrow like the Store interface above.
type MetricsSink interface {
	IncMerkleBatchesSealed()
}

// Materializer owns the in-memory Merkle batch builder (spec.md §5: "the
// in-memory Merkle batch is owned exclusively by the ledger materializer").
type Materializer struct {
	store              Store
	signingKey         ed25519.PrivateKey
	signingPrincipalID string
	metrics            MetricsSink
	log                *logging.Logger

	maxEvents int
	maxAge    time.Duration
	now       func() time.Time
}

// Config assembles a Materializer.
type Config struct {
	Store              Store
	SigningKey         ed25519.PrivateKey
	SigningPrincipalID string
	Metrics            MetricsSink
	MaxEvents          int
	MaxAge             time.Duration
	Log                *logging.Logger
}

// New assembles a Materializer from cfg, applying spec.md §4.G defaults
// (1,000 events / 60s) when unset.
func New(cfg Config) *Materializer {
	m := &Materializer{
		store:              cfg.Store,
		signingKey:         cfg.SigningKey,
		signingPrincipalID: cfg.SigningPrincipalID,
		metrics:            cfg.Metrics,
		log:                cfg.Log,
		maxEvents:          cfg.MaxEvents,
		maxAge:             cfg.MaxAge,
		now:                time.Now,
	}
	if m.maxEvents <= 0 {
		m.maxEvents = 1000
	}
	if m.maxAge <= 0 {
		m.maxAge = 60 * time.Second
	}
	return m
}

// SealReadyBatch closes and seals the current unsealed event range if it has
// grown past maxEvents or its oldest member has aged past maxAge. Returns
// nil, nil when no batch is ready yet.
func (m *Materializer) SealReadyBatch(ctx context.Context) (*model.MerkleRoot, error) {
	events, err := m.store.ListUnsealedEvents(ctx, m.maxEvents)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	oldest := events[0].Timestamp
	ready := len(events) >= m.maxEvents || m.now().Sub(oldest) >= m.maxAge
	if !ready {
		return nil, nil
	}
	return m.sealBatch(ctx, events)
}

// sealBatch computes the Merkle root over events, signs it, and persists
// the sealed root plus the merkle_root_id pointer update (spec.md §4.G
// point 1: "update the merkle_root_id pointer on each sealed event in one
// transaction" — here expressed as the store's own AttachMerkleRoot call,
// issued right after PutMerkleRoot so a crash between the two only ever
// leaves an orphaned root row, never an event pointing at a root that was
// never persisted).
func (m *Materializer) sealBatch(ctx context.Context, events []model.LedgerEvent) (*model.MerkleRoot, error) {
	leaves := make([][]byte, len(events))
	for i, e := range events {
		leaves[i] = crypto.LeafHash(canonicalEventBytes(e))
	}

	rootHash, err := crypto.MerkleRoot(leaves)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "ledger: compute merkle root", err)
	}

	first := events[0].ID
	last := events[len(events)-1].ID

	root := model.MerkleRoot{
		ID:               uuid.NewString(),
		RootHash:         rootHash,
		FirstEventID:     first,
		LastEventID:      last,
		EventCount:       int64(len(events)),
		CreatedAt:        m.now().UTC(),
		SigningPrincipal: m.signingPrincipalID,
	}
	if m.signingKey != nil {
		sig, err := crypto.Sign(m.signingKey, rootHash)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "ledger: sign merkle root", err)
		}
		root.Signature = sig
	}

	root, err = m.store.PutMerkleRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := m.store.AttachMerkleRoot(ctx, first, last, root.ID); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.IncMerkleBatchesSealed()
	}
	if m.log != nil {
		m.log.WithContext(ctx).
			WithField("root_id", root.ID).
			WithField("first_event_id", first).
			WithField("last_event_id", last).
			WithField("event_count", root.EventCount).
			Info("sealed merkle batch")
	}
	return &root, nil
}

// Run polls for ready batches every pollInterval until ctx is cancelled,
// flushing any in-flight batch before returning (spec.md §5 cancellation:
// "Background tasks ... respond to a cooperative shutdown signal by
// flushing in-flight Merkle batches to the store before exiting").
func (m *Materializer) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drain(context.Background())
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.SealReadyBatch(ctx); err != nil && m.log != nil {
				m.log.WithContext(ctx).WithField("error", err.Error()).Error("merkle batch seal failed")
			}
		}
	}
}

// drain forces through any batch sitting at or under the thresholds, so a
// shutdown never leaves a fully-accumulated-but-unsealed range behind.
func (m *Materializer) drain(ctx context.Context) {
	events, err := m.store.ListUnsealedEvents(ctx, m.maxEvents)
	if err != nil || len(events) == 0 {
		return
	}
	_, _ = m.sealBatch(ctx, events)
}
