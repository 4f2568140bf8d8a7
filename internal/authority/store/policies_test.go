package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/model"
)

func TestPutPolicyDeactivatesPreviousVersion(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(1)))
	mock.ExpectExec("UPDATE authority_policies SET active = false").
		WithArgs("p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO authority_policies").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := model.AuthorityPolicy{
		ID:                      "pol-2",
		PrincipalID:             "p-1",
		AllowedResourcePatterns: []string{"api:openai:*"},
		AllowedActions:          []string{"api_call"},
		MaxValiditySeconds:      3600,
		CreatedAt:               time.Now().UTC(),
		CreatedBy:               "admin",
	}

	got, err := s.PutPolicy(ctx, p)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.True(t, got.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActivePolicyNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM authority_policies").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "allowed_resource_patterns", "allowed_actions", "max_validity_seconds",
			"delegation_allowed", "max_delegation_depth", "active", "version", "created_at", "created_by",
		}))

	_, err := s.GetActivePolicy(ctx, "p-1")
	require.Error(t, err)
}
