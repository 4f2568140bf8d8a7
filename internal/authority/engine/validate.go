package engine

import (
	"bytes"
	"context"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/authority/policy"
)

// ValidateRequest is the input to Validate (spec.md §4.E validate).
type ValidateRequest struct {
	MandateID         string
	RequestedAction   string
	RequestedResource string
	CorrelationID     string
	IntentDigest      []byte // required only if the mandate carries an IntentHash
}

// ValidateResult is the outcome of a validation (spec.md §4.E validate).
type ValidateResult struct {
	Allowed bool
	Reason  Reason // empty iff Allowed
	EventID int64
}

// maxAncestryDepth bounds the ancestor walk in Validate so a data-integrity
// bug (an accidental parent cycle) cannot hang the call; legitimate chains
// are bounded in practice by the issuing policy's max_delegation_depth.
const maxAncestryDepth = 1000

// Validate checks whether a mandate currently authorizes requestedAction
// against requestedResource (spec.md §4.E validate, steps 1-9).
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	now := time.Now().UTC()

	// Step 1: lookup mandate.
	m, found, err := e.loadMandate(ctx, req.MandateID, now)
	if err != nil {
		return e.denyValidate(ctx, req, "", now, ReasonDownstreamUnavailable)
	}
	if !found {
		return e.denyValidate(ctx, req, "", now, ReasonUnknownMandate)
	}

	// Step 2: time window (inclusive of both endpoints).
	if m.NotYetValidAt(now) {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonNotYetValid)
	}
	if m.ExpiredAt(now) {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonExpired)
	}

	// Step 3: revocation. loadMandate already re-checks a stale cache hit
	// against the store (spec.md §9 Open Question #2); a fresh store read
	// or a still-fresh cache hit is authoritative here.
	if m.Revocation.Revoked {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonRevoked)
	}

	// Step 4: signature.
	var issuer model.Principal
	err = e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		issuer, err = e.store.GetPrincipalByID(ctx, m.IssuerID)
		return err
	})
	if err != nil {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonDownstreamUnavailable)
	}
	if !verifyMandateSignature(issuer, m) {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonSignatureInvalid)
	}

	// Step 5: ancestry.
	ancestorID := m.ParentMandateID
	for depth := 0; ancestorID != "" && depth < maxAncestryDepth; depth++ {
		ancestor, found, err := e.loadMandate(ctx, ancestorID, now)
		if err != nil {
			return e.denyValidate(ctx, req, m.SubjectID, now, ReasonDownstreamUnavailable)
		}
		if !found {
			return e.denyValidate(ctx, req, m.SubjectID, now, ReasonParentRevoked)
		}
		if ancestor.Revocation.Revoked || ancestor.ExpiredAt(now) {
			return e.denyValidate(ctx, req, m.SubjectID, now, ReasonParentRevoked)
		}
		ancestorID = ancestor.ParentMandateID
	}

	// Step 6: action scope.
	if !contains(m.ActionScope, req.RequestedAction) {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonActionOutOfScope)
	}

	// Step 7: resource scope.
	if !policy.Covers(m.ResourceScope, req.RequestedResource) {
		return e.denyValidate(ctx, req, m.SubjectID, now, ReasonResourceOutOfScope)
	}

	// Step 8: intent binding.
	if len(m.IntentHash) > 0 {
		if len(req.IntentDigest) == 0 || !bytes.Equal(crypto.Hash256(req.IntentDigest), m.IntentHash) {
			return e.denyValidate(ctx, req, m.SubjectID, now, ReasonIntentMismatch)
		}
	}

	// Step 9: append the allowed ledger event and publish it.
	ev := model.LedgerEvent{
		Kind:              model.EventValidated,
		Timestamp:         now,
		PrincipalID:       m.SubjectID,
		MandateID:         m.ID,
		Decision:          model.DecisionAllowed,
		RequestedAction:   req.RequestedAction,
		RequestedResource: req.RequestedResource,
		CorrelationID:     req.CorrelationID,
	}
	var eventID int64
	_ = e.storeCall(ctx, func(ctx context.Context) error {
		appended, err := e.store.AppendEvent(ctx, ev)
		if err == nil {
			eventID = appended.ID
		}
		return err
	})
	_ = e.busCall(ctx, func(ctx context.Context) error {
		return e.bus.Publish(ctx, eventbus.TopicValidatedOrDenied, m.SubjectID, eventbus.Envelope{
			EventID:     newEventID(),
			Kind:        string(model.EventValidated),
			PrincipalID: m.SubjectID,
			MandateID:   m.ID,
			PublishedAt: now,
		})
	})

	e.logDecision(ctx, "validate", m.SubjectID, m.ID, true, "")
	return ValidateResult{Allowed: true, EventID: eventID}, nil
}

func (e *Engine) denyValidate(ctx context.Context, req ValidateRequest, principalID string, now time.Time, reason Reason) (ValidateResult, error) {
	ev := model.LedgerEvent{
		Kind:              model.EventDenied,
		Timestamp:         now,
		PrincipalID:       principalID,
		MandateID:         req.MandateID,
		Decision:          model.DecisionDenied,
		DenialReason:      string(reason),
		RequestedAction:   req.RequestedAction,
		RequestedResource: req.RequestedResource,
		CorrelationID:     req.CorrelationID,
	}
	var eventID int64
	_ = e.storeCall(ctx, func(ctx context.Context) error {
		appended, err := e.store.AppendEvent(ctx, ev)
		if err == nil {
			eventID = appended.ID
		}
		return err
	})
	_ = e.busCall(ctx, func(ctx context.Context) error {
		return e.bus.Publish(ctx, eventbus.TopicValidatedOrDenied, principalID, eventbus.Envelope{
			EventID:     newEventID(),
			Kind:        string(model.EventDenied),
			PrincipalID: principalID,
			MandateID:   req.MandateID,
			PublishedAt: now,
		})
	})
	e.logDecision(ctx, "validate", principalID, req.MandateID, false, reason)
	return ValidateResult{Allowed: false, Reason: reason, EventID: eventID}, nil
}
