// Package cache implements the authority engine's two-tier mandate cache
// (spec.md §4.C): an in-process tier for the hottest keys backed by a
// distributed Redis tier shared across engine instances.
//
// The cache is authoritative for the signed mandate bytes it holds, but
// never authoritative for revocation status. Every hit is cross-checked
// against a caller-supplied revocation predicate, subject to a staleness
// window so a hot mandate isn't round-tripped to the store on every call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

const keyPrefix = "mandate:"

func mandateKey(id string) string {
	return keyPrefix + id
}

func subjectKey(subjectID string) string {
	return keyPrefix + "subject:" + subjectID
}

// RevocationChecker answers whether a mandate has been revoked, consulting
// the authoritative mandate store. The engine supplies this; the cache
// package has no store dependency of its own.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, mandateID string) (bool, error)
}

type localEntry struct {
	mandate             model.ExecutionMandate
	expiresAt           time.Time
	lastRevocationCheck time.Time
}

// localTier is the in-process map layer, patterned on the teacher's
// infrastructure/cache.Cache: an RWMutex-guarded map with per-entry
// expiration and subject invalidation.
type localTier struct {
	mu      sync.RWMutex
	entries map[string]*localEntry
}

func newLocalTier() *localTier {
	return &localTier{entries: make(map[string]*localEntry)}
}

func (t *localTier) get(id string, now time.Time) (*localEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (t *localTier) put(id string, e *localEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = e
}

func (t *localTier) delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *localTier) deleteBySubject(subjectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.mandate.SubjectID == subjectID {
			delete(t.entries, id)
		}
	}
}

func (t *localTier) touchRevocationCheck(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.lastRevocationCheck = at
	}
}

// MandateCache is the two-tier cache described by spec.md §4.C.
type MandateCache struct {
	local     *localTier
	redis     redis.Cmdable
	timeout   time.Duration
	staleness time.Duration
	log       *logging.Logger
}

// New builds a MandateCache. redisClient may be nil, in which case the
// cache degrades to the in-process tier only (used in tests and for a
// single-instance deployment without Redis configured).
func New(redisClient redis.Cmdable, staleness, redisTimeout time.Duration, log *logging.Logger) *MandateCache {
	if staleness < 0 {
		staleness = 0
	}
	return &MandateCache{
		local:     newLocalTier(),
		redis:     redisClient,
		timeout:   redisTimeout,
		staleness: staleness,
		log:       log,
	}
}

// Store places m under mandate:<id> with TTL = max(1s, valid_until-now) in
// both tiers, and records it in the subject index for invalidate_by_subject.
func (c *MandateCache) Store(ctx context.Context, m model.ExecutionMandate, now time.Time) error {
	ttl := m.ValidUntil.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}

	c.local.put(m.ID, &localEntry{mandate: m, expiresAt: now.Add(ttl)})

	if c.redis == nil {
		return nil
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "marshal mandate for cache", err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pipe := c.redis.TxPipeline()
	pipe.Set(rctx, mandateKey(m.ID), payload, ttl)
	pipe.SAdd(rctx, subjectKey(m.SubjectID), m.ID)
	pipe.Expire(rctx, subjectKey(m.SubjectID), ttl)
	if _, err := pipe.Exec(rctx); err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "cache store", err)
	}
	return nil
}

// Lookup returns the cached mandate for id, cross-checking revocation via
// checker subject to the configured staleness window. A cache miss (no
// entry in either tier) returns (zero value, false, nil): negative caching
// is prohibited, so callers must fall back to the mandate store themselves.
// A mandate found to be revoked is evicted and also reported as a miss.
func (c *MandateCache) Lookup(ctx context.Context, id string, now time.Time, checker RevocationChecker) (model.ExecutionMandate, bool, error) {
	e, ok := c.local.get(id, now)
	if !ok {
		fetched, err := c.lookupRedis(ctx, id)
		if err != nil {
			return model.ExecutionMandate{}, false, err
		}
		if fetched == nil {
			return model.ExecutionMandate{}, false, nil
		}
		e = &localEntry{mandate: *fetched, expiresAt: now.Add(time.Second)}
		if ttl := fetched.ValidUntil.Sub(now); ttl > time.Second {
			e.expiresAt = now.Add(ttl)
		}
		c.local.put(id, e)
	}

	if checker != nil && now.Sub(e.lastRevocationCheck) >= c.staleness {
		revoked, err := checker.IsRevoked(ctx, id)
		if err != nil {
			return model.ExecutionMandate{}, false, err
		}
		if revoked {
			c.evict(ctx, e.mandate.ID, e.mandate.SubjectID)
			return model.ExecutionMandate{}, false, nil
		}
		c.local.touchRevocationCheck(id, now)
	}

	return e.mandate, true, nil
}

func (c *MandateCache) lookupRedis(ctx context.Context, id string) (*model.ExecutionMandate, error) {
	if c.redis == nil {
		return nil, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.redis.Get(rctx, mandateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDownstreamUnavail, "cache lookup", err)
	}

	var m model.ExecutionMandate
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "unmarshal cached mandate", err)
	}
	return &m, nil
}

// Invalidate drops id from both tiers, used on revocation.
func (c *MandateCache) Invalidate(ctx context.Context, id string) error {
	c.local.delete(id)
	if c.redis == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.redis.Del(rctx, mandateKey(id)).Err(); err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "cache invalidate", err)
	}
	return nil
}

func (c *MandateCache) evict(ctx context.Context, id, subjectID string) {
	_ = c.Invalidate(ctx, id)
	if c.log != nil {
		c.log.WithField("mandate_id", id).WithField("subject_id", subjectID).Debug("evicted revoked mandate from cache")
	}
}

// InvalidateBySubject drops every cached mandate issued to subjectID, used
// on policy change or cascade revocation.
func (c *MandateCache) InvalidateBySubject(ctx context.Context, subjectID string) error {
	c.local.deleteBySubject(subjectID)
	if c.redis == nil {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids, err := c.redis.SMembers(rctx, subjectKey(subjectID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, "cache invalidate_by_subject: list members", err)
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, mandateKey(id))
	}
	keys = append(keys, subjectKey(subjectID))

	if err := c.redis.Del(rctx, keys...).Err(); err != nil {
		return apperr.Wrap(apperr.CodeDownstreamUnavail, fmt.Sprintf("cache invalidate_by_subject %q", subjectID), err)
	}
	return nil
}
