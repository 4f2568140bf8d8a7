package engine

import (
	"context"
	"sync"
	"time"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/cache"
	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

// fakeStore is an in-memory Store used by engine unit tests, avoiding a
// live Postgres (SPEC_FULL.md AMBIENT STACK: "fake/in-memory implementations
// of the store, cache, and bus for engine unit tests").
type fakeStore struct {
	mu         sync.Mutex
	principals map[string]model.Principal
	policies   map[string]model.AuthorityPolicy
	mandates   map[string]model.ExecutionMandate
	events     []model.LedgerEvent
	nextEvent  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: make(map[string]model.Principal),
		policies:   make(map[string]model.AuthorityPolicy),
		mandates:   make(map[string]model.ExecutionMandate),
	}
}

func (s *fakeStore) GetPrincipalByID(ctx context.Context, id string) (model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return model.Principal{}, apperr.New(apperr.CodeNotFound, "principal not found")
	}
	return p, nil
}

func (s *fakeStore) GetActivePolicy(ctx context.Context, principalID string) (model.AuthorityPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[principalID]
	if !ok {
		return model.AuthorityPolicy{}, apperr.New(apperr.CodeNotFound, "policy not found")
	}
	return p, nil
}

func (s *fakeStore) GetMandate(ctx context.Context, id string) (model.ExecutionMandate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[id]
	if !ok {
		return model.ExecutionMandate{}, apperr.New(apperr.CodeNotFound, "mandate not found")
	}
	return m, nil
}

func (s *fakeStore) IssueMandate(ctx context.Context, m model.ExecutionMandate, e model.LedgerEvent) (model.ExecutionMandate, model.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mandates[m.ID] = m
	s.nextEvent++
	e.ID = s.nextEvent
	s.events = append(s.events, e)
	return m, e, nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, e model.LedgerEvent) (model.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	e.ID = s.nextEvent
	s.events = append(s.events, e)
	return e, nil
}

func (s *fakeStore) RevokeMandateWithEvents(ctx context.Context, id, reason string, cascade bool, now time.Time, buildEvent func(mandateID, subjectID string) model.LedgerEvent) ([]model.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.mandates[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "mandate not found")
	}

	affected := []model.ExecutionMandate{target}
	if cascade {
		affected = append(affected, s.descendantsLocked(id)...)
	}

	events := make([]model.LedgerEvent, 0, len(affected))
	for _, m := range affected {
		if m.Revocation.Revoked {
			continue
		}
		m.Revocation = model.Revocation{Revoked: true, Timestamp: &now, Reason: reason}
		s.mandates[m.ID] = m

		ev := buildEvent(m.ID, m.SubjectID)
		s.nextEvent++
		ev.ID = s.nextEvent
		s.events = append(s.events, ev)
		events = append(events, ev)
	}
	return events, nil
}

func (s *fakeStore) descendantsLocked(parentID string) []model.ExecutionMandate {
	var direct []model.ExecutionMandate
	for _, m := range s.mandates {
		if m.ParentMandateID == parentID {
			direct = append(direct, m)
		}
	}
	var all []model.ExecutionMandate
	for _, m := range direct {
		all = append(all, m)
		all = append(all, s.descendantsLocked(m.ID)...)
	}
	return all
}

// fakeCache is an in-memory Cache that always misses until primed via Store,
// mirroring the shape the engine needs without a Redis dependency.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.ExecutionMandate
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]model.ExecutionMandate)}
}

func (c *fakeCache) Store(ctx context.Context, m model.ExecutionMandate, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.ID] = m
	return nil
}

func (c *fakeCache) Lookup(ctx context.Context, id string, now time.Time, checker cache.RevocationChecker) (model.ExecutionMandate, bool, error) {
	c.mu.Lock()
	m, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return model.ExecutionMandate{}, false, nil
	}
	return m, true, nil
}

func (c *fakeCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func (c *fakeCache) InvalidateBySubject(ctx context.Context, subjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.entries {
		if m.SubjectID == subjectID {
			delete(c.entries, id)
		}
	}
	return nil
}

// fakeBus records every published envelope for assertion.
type fakeBus struct {
	mu        sync.Mutex
	published []fakePublished
}

type fakePublished struct {
	Topic       eventbus.Topic
	PrincipalID string
	Envelope    eventbus.Envelope
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Publish(ctx context.Context, topic eventbus.Topic, principalID string, env eventbus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, fakePublished{Topic: topic, PrincipalID: principalID, Envelope: env})
	return nil
}

func (b *fakeBus) count(topic eventbus.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.published {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// testPrincipal builds a principal with a fresh Ed25519 keypair and inserts
// it into store; callers add any policy themselves.
func testPrincipal(t interface {
	Helper()
	Fatalf(string, ...interface{})
}, store *fakeStore, id string) model.Principal {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	p := model.Principal{
		ID:         id,
		Name:       id,
		Kind:       model.PrincipalAgent,
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]string{},
	}
	store.principals[id] = p
	return p
}

func defaultPolicy(principalID string) model.AuthorityPolicy {
	return model.AuthorityPolicy{
		ID:                      "policy-" + principalID,
		PrincipalID:             principalID,
		AllowedResourcePatterns: []string{"api:openai:*"},
		AllowedActions:          []string{"api_call"},
		MaxValiditySeconds:      3600,
		DelegationAllowed:       true,
		MaxDelegationDepth:      3,
		Active:                  true,
		Version:                 1,
		CreatedAt:               time.Now().UTC(),
	}
}
