package store

import (
	"context"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// ListUnsealedEvents returns up to limit ledger events with no merkle_root_id
// yet, oldest first, for the materializer's batch builder.
func (s *Store) ListUnsealedEvents(ctx context.Context, limit int) ([]model.LedgerEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + ledgerEventColumns + `
		FROM authority_ledger_events
		WHERE merkle_root_id IS NULL
		ORDER BY id ASC
		LIMIT $1
	`

	var rows []ledgerEventRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list unsealed ledger events", err)
	}

	out := make([]model.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
