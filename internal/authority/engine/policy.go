package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/eventbus"
)

// NotifyPolicyChanged invalidates every cached mandate for subjectID on this
// instance and broadcasts the change over eventbus.TopicPolicyChanged so
// every other authorityd instance's in-process cache tier invalidates too
// (spec.md §4.C: "invalidate_by_subject(subject_id) — on policy change";
// the distributed Redis tier is already shared, but each instance's
// in-process tier is local and needs this broadcast to stay consistent).
// Callers that are themselves reacting to a received broadcast must call
// InvalidateCacheForSubject instead, to avoid re-publishing in a loop.
func (e *Engine) NotifyPolicyChanged(ctx context.Context, subjectID string) error {
	if err := e.InvalidateCacheForSubject(ctx, subjectID); err != nil {
		return err
	}
	return e.busCall(ctx, func(ctx context.Context) error {
		return e.bus.Publish(ctx, eventbus.TopicPolicyChanged, subjectID, eventbus.Envelope{
			EventID:     uuid.NewString(),
			Kind:        eventbus.KindPolicyChanged,
			PrincipalID: subjectID,
			PublishedAt: time.Now().UTC(),
		})
	})
}

// InvalidateCacheForSubject drops every cached mandate for subjectID on this
// instance only, with no publish. Used both by NotifyPolicyChanged and by
// the consumer handler that reacts to a policy-changed broadcast from
// another instance.
func (e *Engine) InvalidateCacheForSubject(ctx context.Context, subjectID string) error {
	return e.cacheCall(ctx, func(ctx context.Context) error {
		return e.cache.InvalidateBySubject(ctx, subjectID)
	})
}
