package store

import (
	"context"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type merkleRootRow struct {
	ID               string    `db:"id"`
	RootHash         []byte    `db:"root_hash"`
	FirstEventID     int64     `db:"first_event_id"`
	LastEventID      int64     `db:"last_event_id"`
	EventCount       int64     `db:"event_count"`
	CreatedAt        time.Time `db:"created_at"`
	SigningPrincipal string    `db:"signing_principal"`
	Signature        []byte    `db:"signature"`
}

func (r merkleRootRow) toModel() model.MerkleRoot {
	return model.MerkleRoot{
		ID:               r.ID,
		RootHash:         r.RootHash,
		FirstEventID:     r.FirstEventID,
		LastEventID:      r.LastEventID,
		EventCount:       r.EventCount,
		CreatedAt:        r.CreatedAt,
		SigningPrincipal: r.SigningPrincipal,
		Signature:        r.Signature,
	}
}

// PutMerkleRoot persists a newly sealed Merkle root.
func (s *Store) PutMerkleRoot(ctx context.Context, r model.MerkleRoot) (model.MerkleRoot, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merkle_roots (id, root_hash, first_event_id, last_event_id, event_count, created_at, signing_principal, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.RootHash, r.FirstEventID, r.LastEventID, r.EventCount, r.CreatedAt, r.SigningPrincipal, r.Signature)
	if err != nil {
		return model.MerkleRoot{}, apperr.Wrap(apperr.CodeInternal, "put merkle root", err)
	}
	return r, nil
}

// GetMerkleRoot returns the root with id.
func (s *Store) GetMerkleRoot(ctx context.Context, id string) (model.MerkleRoot, error) {
	var row merkleRootRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, root_hash, first_event_id, last_event_id, event_count, created_at, signing_principal, signature
		FROM merkle_roots WHERE id = $1
	`, id)
	if isNoRows(err) {
		return model.MerkleRoot{}, notFound("merkle root", id)
	}
	if err != nil {
		return model.MerkleRoot{}, apperr.Wrap(apperr.CodeInternal, "get merkle root", err)
	}
	return row.toModel(), nil
}

// GetLatestMerkleRoot returns the most recently sealed root, if any.
func (s *Store) GetLatestMerkleRoot(ctx context.Context) (model.MerkleRoot, error) {
	var row merkleRootRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, root_hash, first_event_id, last_event_id, event_count, created_at, signing_principal, signature
		FROM merkle_roots ORDER BY last_event_id DESC LIMIT 1
	`)
	if isNoRows(err) {
		return model.MerkleRoot{}, notFound("merkle root", "latest")
	}
	if err != nil {
		return model.MerkleRoot{}, apperr.Wrap(apperr.CodeInternal, "get latest merkle root", err)
	}
	return row.toModel(), nil
}
