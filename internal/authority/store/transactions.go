package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// IssueMandate inserts m and appends its issued ledger event in a single
// transaction (spec.md §4.E issue step 7: "insert mandate, append issued
// event, commit").
func (s *Store) IssueMandate(ctx context.Context, m model.ExecutionMandate, e model.LedgerEvent) (model.ExecutionMandate, model.LedgerEvent, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.ExecutionMandate{}, model.LedgerEvent{}, apperr.Wrap(apperr.CodeInternal, "begin issue tx", err)
	}
	defer tx.Rollback()

	var parentID sql.NullString
	if m.ParentMandateID != "" {
		parentID = sql.NullString{String: m.ParentMandateID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
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
		return model.ExecutionMandate{}, model.LedgerEvent{}, apperr.Wrap(apperr.CodeInternal, "insert mandate", err)
	}

	e, err = insertLedgerEventTx(ctx, tx, e)
	if err != nil {
		return model.ExecutionMandate{}, model.LedgerEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.ExecutionMandate{}, model.LedgerEvent{}, apperr.Wrap(apperr.CodeInternal, "commit issue tx", err)
	}
	return m, e, nil
}

type affectedMandate struct {
	ID        string `db:"id"`
	SubjectID string `db:"subject_id"`
}

// RevokeMandateWithEvents flips the revocation triplet on id (and its
// transitive descendants if cascade), appends one revoked ledger event per
// affected mandate via buildEvent(mandateID, subjectID), and commits all of
// it in a single transaction (spec.md §4.E revoke step 2; invariant 5:
// revocation propagates to the transitive closure of descendants).
func (s *Store) RevokeMandateWithEvents(ctx context.Context, id, reason string, cascade bool, now time.Time, buildEvent func(mandateID, subjectID string) model.LedgerEvent) ([]model.LedgerEvent, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "begin revoke tx", err)
	}
	defer tx.Rollback()

	var affected []affectedMandate
	if cascade {
		err = tx.SelectContext(ctx, &affected, `
			WITH RECURSIVE descendants AS (
				SELECT id, subject_id FROM execution_mandates WHERE id = $1
				UNION ALL
				SELECT m.id, m.subject_id FROM execution_mandates m
				JOIN descendants d ON m.parent_mandate_id = d.id
			)
			SELECT id, subject_id FROM descendants
		`, id)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "walk descendants", err)
		}
	} else {
		var row affectedMandate
		err = tx.GetContext(ctx, &row, `SELECT id, subject_id FROM execution_mandates WHERE id = $1`, id)
		if isNoRows(err) {
			return nil, notFound("mandate", id)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "load mandate for revoke", err)
		}
		affected = []affectedMandate{row}
	}
	if len(affected) == 0 {
		return nil, notFound("mandate", id)
	}

	ids := make([]string, len(affected))
	for i, a := range affected {
		ids[i] = a.ID
	}

	var flipped []string
	err = tx.SelectContext(ctx, &flipped, `
		UPDATE execution_mandates SET revoked = true, revoked_at = $2, revocation_reason = $3
		WHERE id = ANY($1) AND NOT revoked
		RETURNING id
	`, pq.Array(ids), now, reason)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "flip revocation triplet", err)
	}
	if len(flipped) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "commit revoke tx", err)
		}
		return nil, nil
	}
	flippedSet := make(map[string]struct{}, len(flipped))
	for _, id := range flipped {
		flippedSet[id] = struct{}{}
	}

	// Only the rows RETURNING actually reports were flipped by this call;
	// a descendant already revoked by an earlier call is in affected (it is
	// still part of the transitive closure) but must not get a second
	// "revoked" ledger event.
	events := make([]model.LedgerEvent, 0, len(flipped))
	for _, a := range affected {
		if _, ok := flippedSet[a.ID]; !ok {
			continue
		}
		e, err := insertLedgerEventTx(ctx, tx, buildEvent(a.ID, a.SubjectID))
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "commit revoke tx", err)
	}
	return events, nil
}

func insertLedgerEventTx(ctx context.Context, tx *sqlx.Tx, e model.LedgerEvent) (model.LedgerEvent, error) {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return model.LedgerEvent{}, apperr.Wrap(apperr.CodeValidation, "marshal event metadata", err)
	}

	var decision sql.NullString
	if e.Decision != "" {
		decision = sql.NullString{String: string(e.Decision), Valid: true}
	}

	row := tx.QueryRowxContext(ctx, `
		INSERT INTO authority_ledger_events
			(kind, event_timestamp, principal_id, mandate_id, decision, denial_reason,
			 requested_action, requested_resource, correlation_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, string(e.Kind), e.Timestamp, e.PrincipalID, nullString(e.MandateID), decision,
		nullString(e.DenialReason), nullString(e.RequestedAction), nullString(e.RequestedResource),
		nullString(e.CorrelationID), metadataJSON)

	if err := row.Scan(&e.ID); err != nil {
		return model.LedgerEvent{}, apperr.Wrap(apperr.CodeInternal, "append ledger event", err)
	}
	return e, nil
}
