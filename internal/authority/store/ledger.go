package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type ledgerEventRow struct {
	ID                int64          `db:"id"`
	Kind              string         `db:"kind"`
	Timestamp         time.Time      `db:"event_timestamp"`
	PrincipalID       string         `db:"principal_id"`
	MandateID         sql.NullString `db:"mandate_id"`
	Decision          sql.NullString `db:"decision"`
	DenialReason      sql.NullString `db:"denial_reason"`
	RequestedAction   sql.NullString `db:"requested_action"`
	RequestedResource sql.NullString `db:"requested_resource"`
	CorrelationID     sql.NullString `db:"correlation_id"`
	MerkleRootID      sql.NullString `db:"merkle_root_id"`
	Metadata          []byte         `db:"metadata"`
}

func (r ledgerEventRow) toModel() model.LedgerEvent {
	e := model.LedgerEvent{
		ID:          r.ID,
		Kind:        model.EventKind(r.Kind),
		Timestamp:   r.Timestamp,
		PrincipalID: r.PrincipalID,
	}
	if r.MandateID.Valid {
		e.MandateID = r.MandateID.String
	}
	if r.Decision.Valid {
		e.Decision = model.Decision(r.Decision.String)
	}
	if r.DenialReason.Valid {
		e.DenialReason = r.DenialReason.String
	}
	if r.RequestedAction.Valid {
		e.RequestedAction = r.RequestedAction.String
	}
	if r.RequestedResource.Valid {
		e.RequestedResource = r.RequestedResource.String
	}
	if r.CorrelationID.Valid {
		e.CorrelationID = r.CorrelationID.String
	}
	if r.MerkleRootID.Valid {
		e.MerkleRootID = r.MerkleRootID.String
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

const ledgerEventColumns = `
	id, kind, event_timestamp, principal_id, mandate_id, decision, denial_reason,
	requested_action, requested_resource, correlation_id, merkle_root_id, metadata
`

// AppendEvent inserts a ledger event and returns it with its assigned id.
// Ledger rows are append-only; the only later mutation is AttachMerkleRoot.
func (s *Store) AppendEvent(ctx context.Context, e model.LedgerEvent) (model.LedgerEvent, error) {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return model.LedgerEvent{}, apperr.Wrap(apperr.CodeValidation, "marshal event metadata", err)
	}

	var decision sql.NullString
	if e.Decision != "" {
		decision = sql.NullString{String: string(e.Decision), Valid: true}
	}

	row := s.db.QueryRowxContext(ctx, `
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

// LedgerFilters narrows QueryLedger.
type LedgerFilters struct {
	PrincipalID string
	MandateID   string
	Kind        model.EventKind
	StartTime   *time.Time
	EndTime     *time.Time
}

// QueryLedger returns events matching filters, newest first.
func (s *Store) QueryLedger(ctx context.Context, f LedgerFilters, limit, offset int) ([]model.LedgerEvent, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	where := "WHERE 1=1"
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.PrincipalID != "" {
		where += " AND principal_id = " + arg(f.PrincipalID)
	}
	if f.MandateID != "" {
		where += " AND mandate_id = " + arg(f.MandateID)
	}
	if f.Kind != "" {
		where += " AND kind = " + arg(string(f.Kind))
	}
	if f.StartTime != nil {
		where += " AND event_timestamp >= " + arg(*f.StartTime)
	}
	if f.EndTime != nil {
		where += " AND event_timestamp <= " + arg(*f.EndTime)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM authority_ledger_events `+where, args...); err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInternal, "count ledger events", err)
	}

	pageArgs := append(append([]interface{}{}, args...), limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM authority_ledger_events %s ORDER BY event_timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		ledgerEventColumns, where, len(args)+1, len(args)+2)

	var rows []ledgerEventRow
	if err := s.db.SelectContext(ctx, &rows, query, pageArgs...); err != nil {
		return nil, 0, apperr.Wrap(apperr.CodeInternal, "query ledger", err)
	}

	out := make([]model.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, total, nil
}

// AttachMerkleRoot sets merkle_root_id on every event in [firstEventID,
// lastEventID], sealing the batch the materializer just closed.
func (s *Store) AttachMerkleRoot(ctx context.Context, firstEventID, lastEventID int64, rootID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE authority_ledger_events SET merkle_root_id = $3
		WHERE id BETWEEN $1 AND $2
	`, firstEventID, lastEventID, rootID)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "attach merkle root", err)
	}
	return nil
}

// EnsureLedgerPartitions creates the monthly range partitions of
// authority_ledger_events covering [from, from+months) so inserts never
// race partition creation (spec.md §4.B).
func (s *Store) EnsureLedgerPartitions(ctx context.Context, from time.Time, months int) error {
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		next := cursor.AddDate(0, 1, 0)
		name := fmt.Sprintf("authority_ledger_events_%04d%02d", cursor.Year(), int(cursor.Month()))
		// Partition bounds must be constant expressions, not bind parameters,
		// so the range is formatted directly into the DDL statement.
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s PARTITION OF authority_ledger_events
			FOR VALUES FROM (%s) TO (%s)
		`, pq.QuoteIdentifier(name), pq.QuoteLiteral(cursor.Format(time.RFC3339)), pq.QuoteLiteral(next.Format(time.RFC3339)))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "create ledger partition "+name, err)
		}
		cursor = next
	}
	return nil
}
