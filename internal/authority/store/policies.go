package store

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type policyRow struct {
	ID                      string         `db:"id"`
	PrincipalID             string         `db:"principal_id"`
	AllowedResourcePatterns pq.StringArray `db:"allowed_resource_patterns"`
	AllowedActions          pq.StringArray `db:"allowed_actions"`
	MaxValiditySeconds      int64          `db:"max_validity_seconds"`
	DelegationAllowed       bool           `db:"delegation_allowed"`
	MaxDelegationDepth      int            `db:"max_delegation_depth"`
	Active                  bool           `db:"active"`
	Version                 int64          `db:"version"`
	CreatedAt               time.Time      `db:"created_at"`
	CreatedBy               string         `db:"created_by"`
}

func (r policyRow) toModel() model.AuthorityPolicy {
	return model.AuthorityPolicy{
		ID:                      r.ID,
		PrincipalID:             r.PrincipalID,
		AllowedResourcePatterns: []string(r.AllowedResourcePatterns),
		AllowedActions:          []string(r.AllowedActions),
		MaxValiditySeconds:      r.MaxValiditySeconds,
		DelegationAllowed:       r.DelegationAllowed,
		MaxDelegationDepth:      r.MaxDelegationDepth,
		Active:                  r.Active,
		Version:                 r.Version,
		CreatedAt:               r.CreatedAt,
		CreatedBy:               r.CreatedBy,
	}
}

// PutPolicy inserts a new policy version for its principal, marking the
// previous active version (if any) inactive, in a single transaction.
func (s *Store) PutPolicy(ctx context.Context, p model.AuthorityPolicy) (model.AuthorityPolicy, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "begin put policy tx", err)
	}
	defer tx.Rollback()

	var maxVersion int64
	if err := tx.GetContext(ctx, &maxVersion, `
		SELECT COALESCE(MAX(version), 0) FROM authority_policies WHERE principal_id = $1
	`, p.PrincipalID); err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "load max policy version", err)
	}
	p.Version = maxVersion + 1
	p.Active = true

	if _, err := tx.ExecContext(ctx, `
		UPDATE authority_policies SET active = false WHERE principal_id = $1 AND active
	`, p.PrincipalID); err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "deactivate previous policy", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO authority_policies
			(id, principal_id, allowed_resource_patterns, allowed_actions, max_validity_seconds,
			 delegation_allowed, max_delegation_depth, active, version, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.PrincipalID, pq.Array(p.AllowedResourcePatterns), pq.Array(p.AllowedActions),
		p.MaxValiditySeconds, p.DelegationAllowed, p.MaxDelegationDepth, p.Active, p.Version,
		p.CreatedAt, p.CreatedBy)
	if err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "insert policy", err)
	}

	if err := tx.Commit(); err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "commit put policy tx", err)
	}
	return p, nil
}

// GetActivePolicy returns the currently active policy for principalID.
func (s *Store) GetActivePolicy(ctx context.Context, principalID string) (model.AuthorityPolicy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, principal_id, allowed_resource_patterns, allowed_actions, max_validity_seconds,
		       delegation_allowed, max_delegation_depth, active, version, created_at, created_by
		FROM authority_policies WHERE principal_id = $1 AND active
	`, principalID)
	if isNoRows(err) {
		return model.AuthorityPolicy{}, notFound("active policy for principal", principalID)
	}
	if err != nil {
		return model.AuthorityPolicy{}, apperr.Wrap(apperr.CodeInternal, "get active policy", err)
	}
	return row.toModel(), nil
}

// ListPolicyVersions returns every policy version ever created for a
// principal, newest first.
func (s *Store) ListPolicyVersions(ctx context.Context, principalID string) ([]model.AuthorityPolicy, error) {
	var rows []policyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, principal_id, allowed_resource_patterns, allowed_actions, max_validity_seconds,
		       delegation_allowed, max_delegation_depth, active, version, created_at, created_by
		FROM authority_policies WHERE principal_id = $1 ORDER BY version DESC
	`, principalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list policy versions", err)
	}
	out := make([]model.AuthorityPolicy, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
