package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

func TestPutMandateInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	m := model.ExecutionMandate{
		ID:            "m-1",
		IssuerID:      "p-1",
		SubjectID:     "p-2",
		ValidFrom:     time.Now().UTC(),
		ValidUntil:    time.Now().UTC().Add(time.Hour),
		ResourceScope: []string{"api:openai:*"},
		ActionScope:   []string{"api_call"},
		Signature:     []byte("sig"),
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO execution_mandates").WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.PutMandate(ctx, m)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMandateNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM execution_mandates").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "issuer_id", "subject_id", "valid_from", "valid_until", "resource_scope", "action_scope",
			"signature", "created_at", "parent_mandate_id", "delegation_depth", "revoked", "revoked_at",
			"revocation_reason", "intent_hash",
		}))

	_, err := s.GetMandate(ctx, "missing")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}
