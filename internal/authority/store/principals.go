package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type principalRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Kind       string         `db:"kind"`
	ParentID   sql.NullString `db:"parent_id"`
	PublicKey  []byte         `db:"public_key"`
	PrivateKey []byte         `db:"private_key"`
	CreatedAt  time.Time      `db:"created_at"`
	Metadata   []byte         `db:"metadata"`
	DeletedAt  sql.NullTime   `db:"deleted_at"`
}

func (r principalRow) toModel() model.Principal {
	p := model.Principal{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       model.PrincipalKind(r.Kind),
		PublicKey:  r.PublicKey,
		PrivateKey: r.PrivateKey,
		CreatedAt:  r.CreatedAt,
	}
	if r.ParentID.Valid {
		p.ParentID = r.ParentID.String
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &p.Metadata)
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		p.DeletedAt = &t
	}
	return p
}

// PutPrincipal inserts or updates a principal (conflict on id).
func (s *Store) PutPrincipal(ctx context.Context, p model.Principal) (model.Principal, error) {
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return model.Principal{}, apperr.Wrap(apperr.CodeValidation, "marshal principal metadata", err)
	}

	var parentID sql.NullString
	if p.ParentID != "" {
		parentID = sql.NullString{String: p.ParentID, Valid: true}
	}
	var deletedAt sql.NullTime
	if p.DeletedAt != nil {
		deletedAt = sql.NullTime{Time: *p.DeletedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principals (id, name, kind, parent_id, public_key, private_key, created_at, metadata, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			metadata = $8, deleted_at = $9
	`, p.ID, p.Name, string(p.Kind), parentID, p.PublicKey, p.PrivateKey, p.CreatedAt, metadataJSON, deletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Principal{}, apperr.Wrap(apperr.CodeConflict, "principal name already exists", err)
		}
		return model.Principal{}, apperr.Wrap(apperr.CodeInternal, "put principal", err)
	}
	return p, nil
}

// GetPrincipalByID returns the principal with id, including soft-deleted ones.
func (s *Store) GetPrincipalByID(ctx context.Context, id string) (model.Principal, error) {
	var row principalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, kind, parent_id, public_key, private_key, created_at, metadata, deleted_at
		FROM principals WHERE id = $1
	`, id)
	if isNoRows(err) {
		return model.Principal{}, notFound("principal", id)
	}
	if err != nil {
		return model.Principal{}, apperr.Wrap(apperr.CodeInternal, "get principal", err)
	}
	return row.toModel(), nil
}

// GetPrincipalByName returns the principal with the given unique name.
func (s *Store) GetPrincipalByName(ctx context.Context, name string) (model.Principal, error) {
	var row principalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, kind, parent_id, public_key, private_key, created_at, metadata, deleted_at
		FROM principals WHERE name = $1
	`, name)
	if isNoRows(err) {
		return model.Principal{}, notFound("principal", name)
	}
	if err != nil {
		return model.Principal{}, apperr.Wrap(apperr.CodeInternal, "get principal by name", err)
	}
	return row.toModel(), nil
}

// ListPrincipals returns principals ordered by creation time, paginated.
func (s *Store) ListPrincipals(ctx context.Context, page, size int) ([]model.Principal, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}
	var rows []principalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, kind, parent_id, public_key, private_key, created_at, metadata, deleted_at
		FROM principals ORDER BY created_at LIMIT $1 OFFSET $2
	`, size, page*size)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "list principals", err)
	}
	out := make([]model.Principal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
