package engine

import (
	"context"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// DelegateRequest is the input to Delegate (spec.md §4.E delegate).
type DelegateRequest struct {
	ParentMandateID string
	ChildSubjectID  string
	ResourceScope   []string
	ActionScope     []string
	ValiditySeconds int64
	Intent          []byte
	CorrelationID   string
}

// Delegate mints a child mandate under ParentMandateID: a thin wrapper over
// Issue with ParentMandateID set and the issuer taken to be the parent
// mandate's subject (spec.md §4.E delegate).
func (e *Engine) Delegate(ctx context.Context, req DelegateRequest) (model.ExecutionMandate, *Denial, error) {
	now := time.Now().UTC()

	parent, found, err := e.loadMandate(ctx, req.ParentMandateID, now)
	if err != nil {
		return model.ExecutionMandate{}, nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "load parent mandate", err)
	}
	if !found {
		return model.ExecutionMandate{}, &Denial{Reason: ReasonUnknownMandate}, nil
	}

	return e.Issue(ctx, IssueRequest{
		IssuerID:        parent.SubjectID,
		SubjectID:       req.ChildSubjectID,
		ResourceScope:   req.ResourceScope,
		ActionScope:     req.ActionScope,
		ValiditySeconds: req.ValiditySeconds,
		Intent:          req.Intent,
		ParentMandateID: req.ParentMandateID,
		CorrelationID:   req.CorrelationID,
	})
}
