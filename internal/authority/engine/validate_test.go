package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

func issueTestMandate(t *testing.T, e *Engine, issuerID, subjectID string) string {
	t.Helper()
	m, denial, err := e.Issue(context.Background(), IssueRequest{
		IssuerID:        issuerID,
		SubjectID:       subjectID,
		ResourceScope:   []string{"api:openai:gpt-4"},
		ActionScope:     []string{"api_call"},
		ValiditySeconds: 3600,
	})
	require.NoError(t, err)
	require.Nil(t, denial)
	return m.ID
}

func TestValidateAllowsWithinScope(t *testing.T) {
	store := newFakeStore()
	bus := newFakeBus()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), bus)

	mandateID := issueTestMandate(t, e, issuer.ID, "agent-1")

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         mandateID,
		RequestedAction:   "api_call",
		RequestedResource: "api:openai:gpt-4",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, bus.count(eventbus.TopicValidatedOrDenied))
}

func TestValidateDeniesUnknownMandate(t *testing.T) {
	e := newTestEngine(newFakeStore(), newFakeCache(), newFakeBus())

	result, err := e.Validate(context.Background(), ValidateRequest{MandateID: "nope"})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonUnknownMandate, result.Reason)
}

func TestValidateDeniesActionOutOfScope(t *testing.T) {
	store := newFakeStore()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), newFakeBus())

	mandateID := issueTestMandate(t, e, issuer.ID, "agent-1")

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         mandateID,
		RequestedAction:   "delete_account",
		RequestedResource: "api:openai:gpt-4",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonActionOutOfScope, result.Reason)
}

func TestValidateDeniesResourceOutOfScope(t *testing.T) {
	store := newFakeStore()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), newFakeBus())

	mandateID := issueTestMandate(t, e, issuer.ID, "agent-1")

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         mandateID,
		RequestedAction:   "api_call",
		RequestedResource: "api:stripe:charges",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonResourceOutOfScope, result.Reason)
}

func TestValidateDeniesExpiredMandate(t *testing.T) {
	store := newFakeStore()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), newFakeBus())

	mandateID := issueTestMandate(t, e, issuer.ID, "agent-1")
	m := store.mandates[mandateID]
	m.ValidUntil = time.Now().UTC().Add(-time.Hour)
	store.mandates[mandateID] = m

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         mandateID,
		RequestedAction:   "api_call",
		RequestedResource: "api:openai:gpt-4",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestValidateDeniesRevokedMandate(t *testing.T) {
	store := newFakeStore()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), newFakeBus())

	mandateID := issueTestMandate(t, e, issuer.ID, "agent-1")
	m := store.mandates[mandateID]
	now := time.Now().UTC()
	m.Revocation = model.Revocation{Revoked: true, Timestamp: &now, Reason: "manual"}
	store.mandates[mandateID] = m

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         mandateID,
		RequestedAction:   "api_call",
		RequestedResource: "api:openai:gpt-4",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonRevoked, result.Reason)
}

func TestValidateDeniesIntentMismatch(t *testing.T) {
	store := newFakeStore()
	issuer := testPrincipal(t, store, "issuer-1")
	store.policies[issuer.ID] = defaultPolicy(issuer.ID)
	e := newTestEngine(store, newFakeCache(), newFakeBus())

	m, denial, err := e.Issue(context.Background(), IssueRequest{
		IssuerID:        issuer.ID,
		SubjectID:       "agent-1",
		ResourceScope:   []string{"api:openai:gpt-4"},
		ActionScope:     []string{"api_call"},
		ValiditySeconds: 3600,
		Intent:          []byte("transfer $10 to acct-123"),
	})
	require.NoError(t, err)
	require.Nil(t, denial)

	result, err := e.Validate(context.Background(), ValidateRequest{
		MandateID:         m.ID,
		RequestedAction:   "api_call",
		RequestedResource: "api:openai:gpt-4",
		IntentDigest:      []byte("transfer $99999 to acct-999"),
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonIntentMismatch, result.Reason)
}
