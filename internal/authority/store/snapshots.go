package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type snapshotRow struct {
	ID               string         `db:"id"`
	CreatedAt        time.Time      `db:"created_at"`
	LastEventID      int64          `db:"last_event_id"`
	SizeBytes        int64          `db:"size_bytes"`
	EventCount       int64          `db:"event_count"`
	ContentHash      []byte         `db:"content_hash"`
	Trigger          string         `db:"trigger"`
	LastMerkleRootID sql.NullString `db:"last_merkle_root_id"`
}

func (r snapshotRow) toModel() model.LedgerSnapshot {
	s := model.LedgerSnapshot{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		LastEventID: r.LastEventID,
		SizeBytes:   r.SizeBytes,
		EventCount:  r.EventCount,
		ContentHash: r.ContentHash,
		Trigger:     model.SnapshotTrigger(r.Trigger),
	}
	if r.LastMerkleRootID.Valid {
		s.LastMerkleRootID = r.LastMerkleRootID.String
	}
	return s
}

// PutSnapshot persists a newly created ledger snapshot.
func (s *Store) PutSnapshot(ctx context.Context, snap model.LedgerSnapshot) (model.LedgerSnapshot, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, created_at, last_event_id, size_bytes, event_count, content_hash, trigger, last_merkle_root_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.ID, snap.CreatedAt, snap.LastEventID, snap.SizeBytes, snap.EventCount, snap.ContentHash,
		string(snap.Trigger), nullString(snap.LastMerkleRootID))
	if err != nil {
		return model.LedgerSnapshot{}, apperr.Wrap(apperr.CodeInternal, "put snapshot", err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recently created snapshot.
func (s *Store) GetLatestSnapshot(ctx context.Context) (model.LedgerSnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, created_at, last_event_id, size_bytes, event_count, content_hash, trigger, last_merkle_root_id
		FROM ledger_snapshots ORDER BY created_at DESC LIMIT 1
	`)
	if isNoRows(err) {
		return model.LedgerSnapshot{}, notFound("snapshot", "latest")
	}
	if err != nil {
		return model.LedgerSnapshot{}, apperr.Wrap(apperr.CodeInternal, "get latest snapshot", err)
	}
	return row.toModel(), nil
}

// PruneSnapshots deletes snapshots created before the retention horizon and
// returns the count removed.
func (s *Store) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger_snapshots WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInternal, "prune snapshots", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
