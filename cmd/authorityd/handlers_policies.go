package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type createPolicyBody struct {
	PrincipalID             string   `json:"principal_id"`
	AllowedResourcePatterns []string `json:"allowed_resource_patterns"`
	AllowedActions          []string `json:"allowed_actions"`
	MaxValiditySeconds      int64    `json:"max_validity_seconds"`
	DelegationAllowed       bool     `json:"delegation_allowed"`
	MaxDelegationDepth      int      `json:"max_delegation_depth"`
	CreatedBy               string   `json:"created_by"`
}

// handleCreatePolicy serves POST /policies: every call creates a new
// version and supersedes whatever version was previously active for the
// principal (spec.md §3 AuthorityPolicy: "exactly one version per principal
// is Active at a time").
func (s *server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var body createPolicyBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.PrincipalID == "" {
		writeError(w, apperr.New(apperr.CodeValidation, "principal_id is required"))
		return
	}

	policy := model.AuthorityPolicy{
		ID:                      uuid.NewString(),
		PrincipalID:             body.PrincipalID,
		AllowedResourcePatterns: body.AllowedResourcePatterns,
		AllowedActions:          body.AllowedActions,
		MaxValiditySeconds:      body.MaxValiditySeconds,
		DelegationAllowed:       body.DelegationAllowed,
		MaxDelegationDepth:      body.MaxDelegationDepth,
		Active:                  true,
		CreatedAt:               time.Now().UTC(),
		CreatedBy:               body.CreatedBy,
	}

	created, err := s.store.PutPolicy(r.Context(), policy)
	if err != nil {
		writeError(w, err)
		return
	}

	// A new active policy changes what every cached mandate for this
	// principal is allowed to do, so every instance's cache must drop them
	// (spec.md §4.C "invalidate_by_subject(subject_id) — on policy change").
	if err := s.engine.NotifyPolicyChanged(r.Context(), body.PrincipalID); err != nil {
		s.log.WithContext(r.Context()).
			WithField("principal_id", body.PrincipalID).
			WithField("error", err.Error()).
			Warn("failed to broadcast policy change")
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		writeError(w, apperr.New(apperr.CodeValidation, "principal_id query parameter is required"))
		return
	}

	versions, err := s.store.ListPolicyVersions(r.Context(), principalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": versions})
}
