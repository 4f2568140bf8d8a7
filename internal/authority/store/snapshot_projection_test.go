package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestListActivePrincipalsExcludesTombstoned(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM principals WHERE deleted_at IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "kind", "parent_id", "public_key", "private_key", "created_at", "metadata", "deleted_at",
		}).AddRow("p-1", "agent-1", "agent", nil, []byte("pub"), nil, time.Now().UTC(), []byte(`{}`), nil))

	out, err := s.ListActivePrincipals(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "p-1", out[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivePoliciesOnlyReturnsActiveVersion(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM authority_policies WHERE active").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "allowed_resource_patterns", "allowed_actions", "max_validity_seconds",
			"delegation_allowed", "max_delegation_depth", "active", "version", "created_at", "created_by",
		}).AddRow("pol-1", "p-1", "{api:openai:*}", "{api_call}", int64(3600), true, 3, true, int64(2), time.Now().UTC(), "admin"))

	out, err := s.ListActivePolicies(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLiveMandatesExcludesRevokedAndExpired(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM execution_mandates").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "issuer_id", "subject_id", "valid_from", "valid_until", "resource_scope", "action_scope",
			"signature", "created_at", "parent_mandate_id", "delegation_depth", "revoked", "revoked_at",
			"revocation_reason", "intent_hash",
		}).AddRow("m-1", "p-1", "p-2", now, now.Add(time.Hour), "{api:openai:*}", "{api_call}",
			[]byte("sig"), now, nil, 0, false, nil, nil, nil))

	out, err := s.ListLiveMandates(ctx, now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.False(t, out[0].Revocation.Revoked)
	require.NoError(t, mock.ExpectationsWereMet())
}
