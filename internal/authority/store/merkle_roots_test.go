package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/model"
)

func TestPutAndGetMerkleRoot(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	root := model.MerkleRoot{
		ID:               "root-1",
		RootHash:         []byte("hash"),
		FirstEventID:     1,
		LastEventID:      1000,
		EventCount:       1000,
		CreatedAt:        time.Now().UTC(),
		SigningPrincipal: "system",
		Signature:        []byte("sig"),
	}

	mock.ExpectExec("INSERT INTO merkle_roots").WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := s.PutMerkleRoot(ctx, root)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM merkle_roots WHERE id").
		WithArgs("root-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "root_hash", "first_event_id", "last_event_id", "event_count", "created_at", "signing_principal", "signature",
		}).AddRow("root-1", []byte("hash"), int64(1), int64(1000), int64(1000), time.Now().UTC(), "system", []byte("sig")))

	got, err := s.GetMerkleRoot(ctx, "root-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), got.LastEventID)
	require.NoError(t, mock.ExpectationsWereMet())
}
