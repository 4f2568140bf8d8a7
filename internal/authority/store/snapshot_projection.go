package store

import (
	"context"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// ListActivePrincipals returns every non-tombstoned principal, for the
// ledger materializer's snapshot projection (spec.md §4.G point 2).
func (s *Store) ListActivePrincipals(ctx context.Context) ([]model.Principal, error) {
	var rows []principalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, kind, parent_id, public_key, private_key, created_at, metadata, deleted_at
		FROM principals WHERE deleted_at IS NULL ORDER BY created_at
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list active principals", err)
	}
	out := make([]model.Principal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ListActivePolicies returns the currently active policy version for every
// principal that has one.
func (s *Store) ListActivePolicies(ctx context.Context) ([]model.AuthorityPolicy, error) {
	var rows []policyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, principal_id, allowed_resource_patterns, allowed_actions, max_validity_seconds,
		       delegation_allowed, max_delegation_depth, active, version, created_at, created_by
		FROM authority_policies WHERE active ORDER BY principal_id
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list active policies", err)
	}
	out := make([]model.AuthorityPolicy, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ListLiveMandates returns every mandate that is neither expired as of now
// nor revoked, the mandate half of the snapshot projection.
func (s *Store) ListLiveMandates(ctx context.Context, now time.Time) ([]model.ExecutionMandate, error) {
	var rows []mandateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+mandateColumns+`
		FROM execution_mandates
		WHERE NOT revoked AND valid_until >= $1
		ORDER BY created_at
	`, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list live mandates", err)
	}
	out := make([]model.ExecutionMandate, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
