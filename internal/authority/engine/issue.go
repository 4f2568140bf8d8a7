package engine

import (
	"context"
	"crypto/ed25519"
	"strings"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/authority/policy"
)

// Issue mints a new execution mandate under issuer_id's active policy
// (spec.md §4.E issue, steps 1-9).
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (model.ExecutionMandate, *Denial, error) {
	now := time.Now().UTC()

	if len(req.ResourceScope) == 0 || len(req.ActionScope) == 0 {
		return model.ExecutionMandate{}, nil, apperr.New(apperr.CodeValidation,
			"resource_scope and action_scope must be non-empty")
	}
	if req.ValiditySeconds <= 0 {
		return model.ExecutionMandate{}, nil, apperr.New(apperr.CodeValidation,
			"validity_seconds must be positive")
	}

	// Step 1: rate limit.
	if !e.limiter.Allow(ctx, req.IssuerID, now) {
		return e.denyIssue(ctx, req, now, ReasonRateLimited)
	}

	// Step 2: load issuer's active policy.
	activePolicy, err := e.activePolicy(ctx, req.IssuerID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return e.denyIssue(ctx, req, now, ReasonPolicyInactive)
		}
		return e.denyIssue(ctx, req, now, ReasonDownstreamUnavailable)
	}

	// Step 4 (loaded early so delegation depth feeds policy evaluation):
	// parent mandate checks for delegation.
	var parent *model.ExecutionMandate
	delegationDepth := 0
	if req.ParentMandateID != "" {
		p, found, err := e.loadMandate(ctx, req.ParentMandateID, now)
		if err != nil {
			return e.denyIssue(ctx, req, now, ReasonDownstreamUnavailable)
		}
		if !found {
			return e.denyIssue(ctx, req, now, ReasonUnknownMandate)
		}
		if p.Revocation.Revoked {
			return e.denyIssue(ctx, req, now, ReasonParentRevoked)
		}
		if p.ExpiredAt(now) {
			return e.denyIssue(ctx, req, now, ReasonExpired)
		}
		for _, r := range req.ResourceScope {
			if !policy.Covers(p.ResourceScope, r) {
				return e.denyIssue(ctx, req, now, ReasonResourceNotAllowed)
			}
		}
		for _, a := range req.ActionScope {
			if !contains(p.ActionScope, a) {
				return e.denyIssue(ctx, req, now, ReasonActionNotAllowed)
			}
		}
		parent = &p
		delegationDepth = p.DelegationDepth + 1
	}

	validUntil := now.Add(time.Duration(req.ValiditySeconds) * time.Second)
	if parent != nil && validUntil.After(parent.ValidUntil) {
		// child.valid_until <= parent.valid_until (invariant 3).
		return e.denyIssue(ctx, req, now, ReasonValidityExceeded)
	}

	// Step 3: evaluate policy (§4.D).
	decision := policy.Evaluate(activePolicy, policy.Requested{
		ValiditySeconds: req.ValiditySeconds,
		ResourceScope:   req.ResourceScope,
		ActionScope:     req.ActionScope,
		ParentMandateID: req.ParentMandateID,
		DelegationDepth: delegationDepth,
	})
	if !decision.Permit {
		return e.denyIssue(ctx, req, now, Reason(decision.Reason))
	}

	var issuer model.Principal
	err = e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		issuer, err = e.store.GetPrincipalByID(ctx, req.IssuerID)
		return err
	})
	if err != nil {
		return e.denyIssue(ctx, req, now, ReasonDownstreamUnavailable)
	}
	if len(issuer.PrivateKey) != ed25519.PrivateKeySize {
		return model.ExecutionMandate{}, nil, apperr.New(apperr.CodeSignature,
			"issuer has no usable signing key")
	}

	// Step 5: construct the mandate.
	m := model.ExecutionMandate{
		ID:              newMandateID(),
		IssuerID:        req.IssuerID,
		SubjectID:       req.SubjectID,
		ValidFrom:       now,
		ValidUntil:      validUntil,
		ResourceScope:   req.ResourceScope,
		ActionScope:     req.ActionScope,
		CreatedAt:       now,
		ParentMandateID: req.ParentMandateID,
		DelegationDepth: delegationDepth,
	}
	if len(req.Intent) > 0 {
		m.IntentHash = crypto.Hash256(req.Intent)
	}

	// Step 6: sign.
	sig, err := crypto.SignMandate(ed25519.PrivateKey(issuer.PrivateKey), mandateFields(m))
	if err != nil {
		return model.ExecutionMandate{}, nil, apperr.Wrap(apperr.CodeSignature, "sign mandate", err)
	}
	m.Signature = sig

	// Step 7: one store transaction, insert mandate + append issued event.
	issuedEvent := model.LedgerEvent{
		Kind:              model.EventIssued,
		Timestamp:         now,
		PrincipalID:       req.IssuerID,
		MandateID:         m.ID,
		RequestedAction:   strings.Join(req.ActionScope, ","),
		RequestedResource: strings.Join(req.ResourceScope, ","),
		CorrelationID:     req.CorrelationID,
	}
	err = e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		m, issuedEvent, err = e.store.IssueMandate(ctx, m, issuedEvent)
		return err
	})
	if err != nil {
		return model.ExecutionMandate{}, nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "issue mandate", err)
	}

	// Step 8: populate cache.
	_ = e.cacheCall(ctx, func(ctx context.Context) error {
		return e.cache.Store(ctx, m, now)
	})

	// Step 9: publish issued event (at-least-once, idempotent by event id;
	// step 7's store write is already authoritative).
	_ = e.busCall(ctx, func(ctx context.Context) error {
		return e.bus.Publish(ctx, eventbus.TopicIssued, req.IssuerID, eventbus.Envelope{
			EventID:     newEventID(),
			Kind:        string(model.EventIssued),
			PrincipalID: req.IssuerID,
			MandateID:   m.ID,
			PublishedAt: now,
		})
	})

	e.logDecision(ctx, "issue", req.IssuerID, m.ID, true, "")
	return m, nil, nil
}

func (e *Engine) activePolicy(ctx context.Context, principalID string) (model.AuthorityPolicy, error) {
	var p model.AuthorityPolicy
	err := e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.store.GetActivePolicy(ctx, principalID)
		return err
	})
	return p, err
}

// denyIssue appends a denied ledger event (best-effort: a store failure
// while recording the denial does not change the outcome already decided)
// and returns the denial to the caller.
func (e *Engine) denyIssue(ctx context.Context, req IssueRequest, now time.Time, reason Reason) (model.ExecutionMandate, *Denial, error) {
	ev := model.LedgerEvent{
		Kind:              model.EventDenied,
		Timestamp:         now,
		PrincipalID:       req.IssuerID,
		Decision:          model.DecisionDenied,
		DenialReason:      string(reason),
		RequestedAction:   strings.Join(req.ActionScope, ","),
		RequestedResource: strings.Join(req.ResourceScope, ","),
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
	e.logDecision(ctx, "issue", req.IssuerID, "", false, reason)
	return model.ExecutionMandate{}, &Denial{Reason: reason, EventID: eventID}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
