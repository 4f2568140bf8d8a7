package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type mandateRow struct {
	ID              string         `db:"id"`
	IssuerID        string         `db:"issuer_id"`
	SubjectID       string         `db:"subject_id"`
	ValidFrom       time.Time      `db:"valid_from"`
	ValidUntil      time.Time      `db:"valid_until"`
	ResourceScope   pq.StringArray `db:"resource_scope"`
	ActionScope     pq.StringArray `db:"action_scope"`
	Signature       []byte         `db:"signature"`
	CreatedAt       time.Time      `db:"created_at"`
	ParentMandateID sql.NullString `db:"parent_mandate_id"`
	DelegationDepth int            `db:"delegation_depth"`
	Revoked         bool           `db:"revoked"`
	RevokedAt       sql.NullTime   `db:"revoked_at"`
	RevocationReason sql.NullString `db:"revocation_reason"`
	IntentHash      []byte         `db:"intent_hash"`
}

func (r mandateRow) toModel() model.ExecutionMandate {
	m := model.ExecutionMandate{
		ID:              r.ID,
		IssuerID:        r.IssuerID,
		SubjectID:       r.SubjectID,
		ValidFrom:       r.ValidFrom,
		ValidUntil:      r.ValidUntil,
		ResourceScope:   []string(r.ResourceScope),
		ActionScope:     []string(r.ActionScope),
		Signature:       r.Signature,
		CreatedAt:       r.CreatedAt,
		DelegationDepth: r.DelegationDepth,
		IntentHash:      r.IntentHash,
		Revocation:      model.Revocation{Revoked: r.Revoked},
	}
	if r.ParentMandateID.Valid {
		m.ParentMandateID = r.ParentMandateID.String
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		m.Revocation.Timestamp = &t
	}
	if r.RevocationReason.Valid {
		m.Revocation.Reason = r.RevocationReason.String
	}
	return m
}

const mandateColumns = `
	id, issuer_id, subject_id, valid_from, valid_until, resource_scope, action_scope,
	signature, created_at, parent_mandate_id, delegation_depth, revoked, revoked_at,
	revocation_reason, intent_hash
`

// PutMandate inserts a newly issued mandate. Mandates are immutable except
// for the revocation triplet, so this never updates an existing row.
func (s *Store) PutMandate(ctx context.Context, m model.ExecutionMandate) (model.ExecutionMandate, error) {
	var parentID sql.NullString
	if m.ParentMandateID != "" {
		parentID = sql.NullString{String: m.ParentMandateID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_mandates
			(id, issuer_id, subject_id, valid_from, valid_until, resource_scope, action_scope,
			 signature, created_at, parent_mandate_id, delegation_depth, revoked, revoked_at,
			 revocation_reason, intent_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, m.ID, m.IssuerID, m.SubjectID, m.ValidFrom, m.ValidUntil, pq.Array(m.ResourceScope),
		pq.Array(m.ActionScope), m.Signature, m.CreatedAt, parentID, m.DelegationDepth,
		m.Revocation.Revoked, nullTimePtr(m.Revocation.Timestamp), nullString(m.Revocation.Reason),
		nullBytes(m.IntentHash))
	if err != nil {
		return model.ExecutionMandate{}, apperr.Wrap(apperr.CodeInternal, "put mandate", err)
	}
	return m, nil
}

// GetMandate returns the mandate with id.
func (s *Store) GetMandate(ctx context.Context, id string) (model.ExecutionMandate, error) {
	var row mandateRow
	err := s.db.GetContext(ctx, &row, `SELECT `+mandateColumns+` FROM execution_mandates WHERE id = $1`, id)
	if isNoRows(err) {
		return model.ExecutionMandate{}, notFound("mandate", id)
	}
	if err != nil {
		return model.ExecutionMandate{}, apperr.Wrap(apperr.CodeInternal, "get mandate", err)
	}
	return row.toModel(), nil
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
