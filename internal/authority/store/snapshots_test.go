package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/model"
)

func TestPruneSnapshotsReturnsCount(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec("DELETE FROM ledger_snapshots").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PruneSnapshots(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestGetLatestSnapshotNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM ledger_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "created_at", "last_event_id", "size_bytes", "event_count", "content_hash", "trigger", "last_merkle_root_id",
		}))

	_, err := s.GetLatestSnapshot(ctx)
	require.Error(t, err)
}

func TestPutSnapshotRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	snap := model.LedgerSnapshot{
		ID:          "snap-1",
		CreatedAt:   time.Now().UTC(),
		LastEventID: 1000,
		SizeBytes:   2048,
		EventCount:  1000,
		ContentHash: []byte("hash"),
		Trigger:     model.SnapshotScheduled,
	}
	mock.ExpectExec("INSERT INTO ledger_snapshots").WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.PutSnapshot(ctx, snap)
	require.NoError(t, err)
	require.Equal(t, snap.ID, got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
