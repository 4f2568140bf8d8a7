package main

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type createPrincipalBody struct {
	Name     string                 `json:"name"`
	Kind     model.PrincipalKind    `json:"kind"`
	ParentID string                 `json:"parent_id,omitempty"`
	Metadata map[string]string      `json:"metadata,omitempty"`
	// HoldKey requests the engine mint and custody an Ed25519 keypair for
	// this principal (spec.md §3: "private key stored only for principals
	// the engine itself acts on behalf of"), sealed at rest per
	// SPEC_FULL.md SUPPLEMENTED FEATURES #7.
	HoldKey bool `json:"hold_key"`
}

func (s *server) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var body createPrincipalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" {
		writeError(w, apperr.New(apperr.CodeValidation, "name is required"))
		return
	}

	p := model.Principal{
		ID:        uuid.NewString(),
		Name:      body.Name,
		Kind:      body.Kind,
		ParentID:  body.ParentID,
		CreatedAt: time.Now().UTC(),
		Metadata:  body.Metadata,
	}

	if body.HoldKey {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "generate principal keypair", err))
			return
		}
		p.PublicKey = kp.PublicKey

		if s.principalKeyMaster == nil {
			writeError(w, apperr.New(apperr.CodeInternal, "AUTHORITY_PRINCIPAL_KEY_MASTER is not configured"))
			return
		}
		sealed, err := crypto.EncryptPrincipalKey(s.principalKeyMaster, p.ID, kp.PrivateKey)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.CodeInternal, "seal principal private key", err))
			return
		}
		p.PrivateKey = []byte(sealed)
	}

	created, err := s.store.PutPrincipal(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	created.PrivateKey = nil // never echo the sealed key back over the wire
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	size := parseIntDefault(q.Get("size"), 50)

	principals, err := s.store.ListPrincipals(r.Context(), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	for i := range principals {
		principals[i].PrivateKey = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"principals": principals})
}

// mustHexDecode is used only at startup for AUTHORITY_PRINCIPAL_KEY_MASTER;
// a malformed master key is a configuration error, not a request error.
func mustHexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
