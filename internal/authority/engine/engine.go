// Package engine implements the authority engine (spec.md §4.E): the only
// component that translates a lower-level error kind into a denial reason.
// The store, cache, bus and resilience layers report failures as
// *apperr.Error, the crypto primitives as plain errors, and the policy
// evaluator as a Decision; the engine is where those become one of the
// seventeen stable reason codes below.
package engine

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/cache"
	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/authority/policy"
	"github.com/garudex-labs/caracal/internal/authority/resilience"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// Reason is a stable, enumerable denial reason code (spec.md §4.E). Part of
// the API contract: callers may match on these strings.
type Reason string

const (
	ReasonPolicyInactive          Reason = "policy_inactive"
	ReasonValidityExceeded        Reason = "validity_exceeded"
	ReasonResourceNotAllowed      Reason = "resource_not_allowed"
	ReasonActionNotAllowed        Reason = "action_not_allowed"
	ReasonDelegationNotAllowed    Reason = "delegation_not_allowed"
	ReasonDelegationDepthExceeded Reason = "delegation_depth_exceeded"
	ReasonUnknownMandate          Reason = "unknown_mandate"
	ReasonExpired                 Reason = "expired"
	ReasonNotYetValid             Reason = "not_yet_valid"
	ReasonRevoked                 Reason = "revoked"
	ReasonParentRevoked           Reason = "parent_revoked"
	ReasonSignatureInvalid        Reason = "signature_invalid"
	ReasonActionOutOfScope        Reason = "action_out_of_scope"
	ReasonResourceOutOfScope      Reason = "resource_out_of_scope"
	ReasonIntentMismatch          Reason = "intent_mismatch"
	ReasonRateLimited             Reason = "rate_limited"
	ReasonDownstreamUnavailable   Reason = "downstream_unavailable"
)

// Store is the subset of internal/authority/store.Store the engine needs.
// Defined here, not embedded from the store package, so unit tests can
// supply an in-memory fake.
type Store interface {
	GetPrincipalByID(ctx context.Context, id string) (model.Principal, error)
	GetActivePolicy(ctx context.Context, principalID string) (model.AuthorityPolicy, error)
	GetMandate(ctx context.Context, id string) (model.ExecutionMandate, error)
	IssueMandate(ctx context.Context, m model.ExecutionMandate, e model.LedgerEvent) (model.ExecutionMandate, model.LedgerEvent, error)
	AppendEvent(ctx context.Context, e model.LedgerEvent) (model.LedgerEvent, error)
	RevokeMandateWithEvents(ctx context.Context, id, reason string, cascade bool, now time.Time, buildEvent func(mandateID, subjectID string) model.LedgerEvent) ([]model.LedgerEvent, error)
}

// Cache is the subset of internal/authority/cache.MandateCache the engine
// needs.
type Cache interface {
	Store(ctx context.Context, m model.ExecutionMandate, now time.Time) error
	Lookup(ctx context.Context, id string, now time.Time, checker cache.RevocationChecker) (model.ExecutionMandate, bool, error)
	Invalidate(ctx context.Context, id string) error
	InvalidateBySubject(ctx context.Context, subjectID string) error
}

// Bus is the subset of internal/authority/eventbus.Producer the engine
// needs.
type Bus interface {
	Publish(ctx context.Context, topic eventbus.Topic, principalID string, env eventbus.Envelope) error
}

// Breaker matches internal/authority/resilience.Breaker's Execute method,
// letting tests swap in a no-op breaker.
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) error) error
}

type passthroughBreaker struct{}

func (passthroughBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Limiter matches internal/authority/resilience.RateLimiter's Allow method.
type Limiter interface {
	Allow(ctx context.Context, issuerID string, now time.Time) bool
}

type alwaysAllow struct{}

func (alwaysAllow) Allow(context.Context, string, time.Time) bool { return true }

// Engine owns its collaborators (spec.md REDESIGN FLAGS: "a single Engine
// value that owns its collaborators" in place of global singletons).
type Engine struct {
	store   Store
	cache   Cache
	bus     Bus
	limiter Limiter

	storeBreaker Breaker
	cacheBreaker Breaker
	busBreaker   Breaker

	revocationStaleness time.Duration
	log                 *logging.Logger
}

// Config assembles an Engine. Breakers and the rate limiter are optional;
// a nil value is replaced by a passthrough so the engine still runs in
// tests that don't care about resilience wiring.
type Config struct {
	Store               Store
	Cache               Cache
	Bus                 Bus
	Limiter             Limiter
	StoreBreaker        Breaker
	CacheBreaker        Breaker
	BusBreaker          Breaker
	RevocationStaleness time.Duration
	Log                 *logging.Logger
}

// New assembles an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		store:               cfg.Store,
		cache:               cfg.Cache,
		bus:                 cfg.Bus,
		limiter:             cfg.Limiter,
		storeBreaker:        cfg.StoreBreaker,
		cacheBreaker:        cfg.CacheBreaker,
		busBreaker:          cfg.BusBreaker,
		revocationStaleness: cfg.RevocationStaleness,
		log:                 cfg.Log,
	}
	if e.limiter == nil {
		e.limiter = alwaysAllow{}
	}
	if e.storeBreaker == nil {
		e.storeBreaker = passthroughBreaker{}
	}
	if e.cacheBreaker == nil {
		e.cacheBreaker = passthroughBreaker{}
	}
	if e.busBreaker == nil {
		e.busBreaker = passthroughBreaker{}
	}
	return e
}

// Denial is the outcome of a denied issue/validate call: a stable reason
// plus the ledger event id the denial was recorded under, when one was
// appended.
type Denial struct {
	Reason  Reason
	EventID int64
}

// IssueRequest is the input to Issue (spec.md §4.E issue).
type IssueRequest struct {
	IssuerID        string
	SubjectID       string
	ResourceScope   []string
	ActionScope     []string
	ValiditySeconds int64
	Intent          []byte // optional; hashed into IntentHash if present
	ParentMandateID string // optional; set by Delegate
	CorrelationID   string
}

// logDecision emits a structured record of an authority decision, matching
// the teacher's WithField-chain logging idiom.
func (e *Engine) logDecision(ctx context.Context, op, principalID, mandateID string, allowed bool, reason Reason) {
	if e.log == nil {
		return
	}
	e.log.WithContext(ctx).
		WithField("op", op).
		WithField("principal_id", principalID).
		WithField("mandate_id", mandateID).
		WithField("allowed", allowed).
		WithField("reason", string(reason)).
		Debug("authority decision")
}

// storeCall wraps a store operation in the store breaker. While the breaker
// is open, Breaker.Execute returns a CodeDownstreamUnavail *apperr.Error
// without calling fn; otherwise fn's own error is returned unchanged, so
// callers keep their normal err-checking shape.
func (e *Engine) storeCall(ctx context.Context, fn func(context.Context) error) error {
	return e.storeBreaker.Execute(ctx, fn)
}

func (e *Engine) cacheCall(ctx context.Context, fn func(context.Context) error) error {
	return e.cacheBreaker.Execute(ctx, fn)
}

// busCall wraps an event-bus publish in the bus breaker. Publish failures
// are never fatal to the caller (the ledger write, not the publish, is
// authoritative, spec.md §4.F), but a silently dropped event is still a
// defect, so every failure is logged. When the broker send itself fails,
// eventbus.Producer re-queues the event locally and keeps retrying
// (spec.md §4.F's bounded local buffer); a publish rejected by the open
// bus breaker never reaches the producer and is not re-queued. This is a
// visibility log, not the retry path.
func (e *Engine) busCall(ctx context.Context, fn func(context.Context) error) error {
	err := e.busBreaker.Execute(ctx, fn)
	if err != nil && e.log != nil {
		e.log.WithContext(ctx).
			WithField("error", err.Error()).
			Warn("authority event publish failed")
	}
	return err
}

// revocationChecker adapts the engine's store (through the store breaker)
// into cache.RevocationChecker, used by Cache.Lookup to re-verify
// revocation status once a cache hit goes stale (spec.md §4.C, §9 Open
// Question #2).
type revocationChecker struct {
	engine *Engine
}

func (c revocationChecker) IsRevoked(ctx context.Context, mandateID string) (bool, error) {
	var m model.ExecutionMandate
	err := c.engine.storeCall(ctx, func(ctx context.Context) error {
		var err error
		m, err = c.engine.store.GetMandate(ctx, mandateID)
		return err
	})
	if err != nil {
		return false, err
	}
	return m.Revocation.Revoked, nil
}

// loadMandate fetches a mandate cache-first, falling back to the store and
// repopulating the cache on a miss (spec.md §4.C cache-miss fallback).
func (e *Engine) loadMandate(ctx context.Context, id string, now time.Time) (model.ExecutionMandate, bool, error) {
	checker := revocationChecker{engine: e}

	var m model.ExecutionMandate
	var hit bool
	err := e.cacheCall(ctx, func(ctx context.Context) error {
		var err error
		m, hit, err = e.cache.Lookup(ctx, id, now, checker)
		return err
	})
	if err != nil {
		return model.ExecutionMandate{}, false, err
	}
	if hit {
		return m, true, nil
	}

	err = e.storeCall(ctx, func(ctx context.Context) error {
		var err error
		m, err = e.store.GetMandate(ctx, id)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return model.ExecutionMandate{}, false, nil
		}
		return model.ExecutionMandate{}, false, err
	}

	_ = e.cacheCall(ctx, func(ctx context.Context) error {
		return e.cache.Store(ctx, m, now)
	})
	return m, true, nil
}

func newEventID() string {
	return uuid.NewString()
}

func newMandateID() string {
	return uuid.NewString()
}

func mandateFields(m model.ExecutionMandate) crypto.MandateFields {
	return crypto.MandateFields{
		IssuerID:        m.IssuerID,
		SubjectID:       m.SubjectID,
		ValidFrom:       m.ValidFrom.UnixMilli(),
		ValidUntil:      m.ValidUntil.UnixMilli(),
		ResourceScope:   m.ResourceScope,
		ActionScope:     m.ActionScope,
		ParentMandateID: m.ParentMandateID,
		DelegationDepth: int64(m.DelegationDepth),
		IntentHash:      m.IntentHash,
	}
}

func verifyMandateSignature(issuer model.Principal, m model.ExecutionMandate) bool {
	return crypto.VerifyMandate(ed25519.PublicKey(issuer.PublicKey), mandateFields(m), m.Signature)
}
