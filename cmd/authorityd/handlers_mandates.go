package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/engine"
)

// issueRequestBody is the wire shape of POST /mandates (spec.md §6).
type issueRequestBody struct {
	IssuerID        string            `json:"issuer_id"`
	SubjectID       string            `json:"subject_id"`
	ResourceScope   []string          `json:"resource_scope"`
	ActionScope     []string          `json:"action_scope"`
	ValiditySeconds int64             `json:"validity_seconds"`
	Intent          []byte            `json:"intent,omitempty"`
	ParentMandateID string            `json:"parent_mandate_id,omitempty"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (s *server) handleIssueMandate(w http.ResponseWriter, r *http.Request) {
	var body issueRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	correlationID := body.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	mandate, denial, err := s.engine.Issue(r.Context(), engine.IssueRequest{
		IssuerID:        body.IssuerID,
		SubjectID:       body.SubjectID,
		ResourceScope:   body.ResourceScope,
		ActionScope:     body.ActionScope,
		ValiditySeconds: body.ValiditySeconds,
		Intent:          body.Intent,
		ParentMandateID: body.ParentMandateID,
		CorrelationID:   correlationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if denial != nil {
		s.metrics.DenialsTotal.WithLabelValues(string(denial.Reason)).Inc()
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"denied":   true,
			"reason":   denial.Reason,
			"event_id": denial.EventID,
		})
		return
	}
	writeJSON(w, http.StatusCreated, mandate)
}

type validateRequestBody struct {
	MandateID         string `json:"mandate_id"`
	RequestedAction   string `json:"requested_action"`
	RequestedResource string `json:"requested_resource"`
	CorrelationID     string `json:"correlation_id,omitempty"`
	IntentDigest      []byte `json:"intent_digest,omitempty"`
}

func (s *server) handleValidateMandate(w http.ResponseWriter, r *http.Request) {
	var body validateRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.Validate(r.Context(), engine.ValidateRequest{
		MandateID:         body.MandateID,
		RequestedAction:   body.RequestedAction,
		RequestedResource: body.RequestedResource,
		CorrelationID:     body.CorrelationID,
		IntentDigest:      body.IntentDigest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Allowed {
		s.metrics.DenialsTotal.WithLabelValues(string(result.Reason)).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":           result.Allowed,
		"mandate_id":        body.MandateID,
		"decision_timestamp": time.Now().UTC(),
		"denial_reason":     result.Reason,
		"correlation_id":    body.CorrelationID,
		"event_id":          result.EventID,
	})
}

type delegateRequestBody struct {
	ParentMandateID string            `json:"parent_mandate_id"`
	ChildSubjectID  string            `json:"child_subject_id"`
	ResourceScope   []string          `json:"resource_scope"`
	ActionScope     []string          `json:"action_scope"`
	ValiditySeconds int64             `json:"validity_seconds"`
	Intent          []byte            `json:"intent,omitempty"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (s *server) handleDelegateMandate(w http.ResponseWriter, r *http.Request) {
	var body delegateRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	mandate, denial, err := s.engine.Delegate(r.Context(), engine.DelegateRequest{
		ParentMandateID: body.ParentMandateID,
		ChildSubjectID:  body.ChildSubjectID,
		ResourceScope:   body.ResourceScope,
		ActionScope:     body.ActionScope,
		ValiditySeconds: body.ValiditySeconds,
		Intent:          body.Intent,
		CorrelationID:   body.CorrelationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if denial != nil {
		s.metrics.DenialsTotal.WithLabelValues(string(denial.Reason)).Inc()
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"denied":   true,
			"reason":   denial.Reason,
			"event_id": denial.EventID,
		})
		return
	}
	writeJSON(w, http.StatusCreated, mandate)
}

type revokeRequestBody struct {
	RevokerID string `json:"revoker_id"`
	Reason    string `json:"reason"`
	Cascade   bool   `json:"cascade"`
}

func (s *server) handleRevokeMandate(w http.ResponseWriter, r *http.Request) {
	mandateID := chi.URLParam(r, "id")
	if mandateID == "" {
		writeError(w, apperr.New(apperr.CodeValidation, "mandate id is required"))
		return
	}

	var body revokeRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.Revoke(r.Context(), engine.RevokeRequest{
		MandateID: mandateID,
		RevokerID: body.RevokerID,
		Reason:    body.Reason,
		Cascade:   body.Cascade,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Reason != "" {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"mandate_id": mandateID,
			"revoked":    false,
			"reason":     result.Reason,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mandate_id":        mandateID,
		"revoked":           true,
		"revoked_at":        time.Now().UTC(),
		"revocation_reason": body.Reason,
		"cascade":           body.Cascade,
		"revoked_count":     result.RevokedCount,
	})
}
