package engine

import (
	"context"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// RevokeRequest is the input to Revoke (spec.md §4.E revoke).
type RevokeRequest struct {
	MandateID     string
	RevokerID     string
	Reason        string
	Cascade       bool
	CorrelationID string
}

// RevokeResult is the outcome of a revoke call. Reason is set only when the
// target mandate itself could not be revoked (unknown or downstream
// failure); an authorization failure is returned as an error instead, since
// it is not one of the §4.E denial reasons.
type RevokeResult struct {
	Reason       Reason
	RevokedCount int
	EventID      int64 // the revoked event appended for MandateID itself
}

// Revoke flips the revocation triplet on a mandate, and on its descendants
// if cascade is set, invalidating the cache and publishing a revoked event
// per affected mandate (spec.md §4.E revoke, steps 1-4).
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (RevokeResult, error) {
	now := time.Now().UTC()

	// Step 1: load mandate, check revoker authority.
	m, found, err := e.loadMandate(ctx, req.MandateID, now)
	if err != nil {
		return RevokeResult{Reason: ReasonDownstreamUnavailable}, nil
	}
	if !found {
		return RevokeResult{Reason: ReasonUnknownMandate}, nil
	}

	authorized, err := e.revokerAuthorized(ctx, req.RevokerID, m.IssuerID)
	if err != nil {
		return RevokeResult{Reason: ReasonDownstreamUnavailable}, nil
	}
	if !authorized {
		return RevokeResult{}, apperr.New(apperr.CodeForbidden,
			"revoker is not the issuer, an ancestor of the issuer, or an admin")
	}

	buildEvent := func(mandateID, subjectID string) model.LedgerEvent {
		return model.LedgerEvent{
			Kind:          model.EventRevoked,
			Timestamp:     now,
			PrincipalID:   subjectID,
			MandateID:     mandateID,
			CorrelationID: req.CorrelationID,
		}
	}

	// Step 2: one transaction, flip the revoked triplet and append events.
	var events []model.LedgerEvent
	err = e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		events, err = e.store.RevokeMandateWithEvents(ctx, req.MandateID, req.Reason, req.Cascade, now, buildEvent)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return RevokeResult{Reason: ReasonUnknownMandate}, nil
		}
		return RevokeResult{Reason: ReasonDownstreamUnavailable}, nil
	}

	// Step 3: invalidate cache for every affected mandate.
	for _, ev := range events {
		mandateID := ev.MandateID
		_ = e.cacheCall(ctx, func(ctx context.Context) error {
			return e.cache.Invalidate(ctx, mandateID)
		})
	}

	// Step 4: publish a revoked event per affected mandate.
	var eventID int64
	for _, ev := range events {
		ev := ev
		if ev.MandateID == req.MandateID {
			eventID = ev.ID
		}
		_ = e.busCall(ctx, func(ctx context.Context) error {
			return e.bus.Publish(ctx, eventbus.TopicRevoked, ev.PrincipalID, eventbus.Envelope{
				EventID:     newEventID(),
				Kind:        string(model.EventRevoked),
				PrincipalID: ev.PrincipalID,
				MandateID:   ev.MandateID,
				PublishedAt: now,
			})
		})
	}

	e.logDecision(ctx, "revoke", m.SubjectID, req.MandateID, true, "")
	return RevokeResult{RevokedCount: len(events), EventID: eventID}, nil
}

// revokerAuthorized reports whether revokerID may revoke a mandate issued by
// issuerID: the issuer itself, an ancestor of the issuer in the
// organizational hierarchy (Principal.ParentID chain), or a principal
// holding an administrative role in its own metadata.
func (e *Engine) revokerAuthorized(ctx context.Context, revokerID, issuerID string) (bool, error) {
	if revokerID == issuerID {
		return true, nil
	}

	var revoker model.Principal
	err := e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		revoker, err = e.store.GetPrincipalByID(ctx, revokerID)
		return err
	})
	if err != nil {
		return false, err
	}
	if revoker.Metadata["role"] == "admin" {
		return true, nil
	}

	currentID := issuerID
	for depth := 0; depth < maxAncestryDepth; depth++ {
		var p model.Principal
		err := e.storeCall(ctx, func(ctx context.Context) error {
			var err error
			p, err = e.store.GetPrincipalByID(ctx, currentID)
			return err
		})
		if err != nil {
			return false, err
		}
		if p.ParentID == "" {
			return false, nil
		}
		if p.ParentID == revokerID {
			return true, nil
		}
		currentID = p.ParentID
	}
	return false, nil
}
