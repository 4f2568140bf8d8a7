package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/crypto"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type fakeMaterializerStore struct {
	unsealed     []model.LedgerEvent
	roots        []model.MerkleRoot
	attachFirst  int64
	attachLast   int64
	attachRootID string
}

func (f *fakeMaterializerStore) ListUnsealedEvents(ctx context.Context, limit int) ([]model.LedgerEvent, error) {
	if limit > 0 && limit < len(f.unsealed) {
		return f.unsealed[:limit], nil
	}
	return f.unsealed, nil
}

func (f *fakeMaterializerStore) PutMerkleRoot(ctx context.Context, r model.MerkleRoot) (model.MerkleRoot, error) {
	f.roots = append(f.roots, r)
	return r, nil
}

func (f *fakeMaterializerStore) AttachMerkleRoot(ctx context.Context, firstEventID, lastEventID int64, rootID string) error {
	f.attachFirst = firstEventID
	f.attachLast = lastEventID
	f.attachRootID = rootID
	return nil
}

type fakeMetricsSink struct {
	merkleBatchesSealed int
}

func (f *fakeMetricsSink) IncMerkleBatchesSealed() { f.merkleBatchesSealed++ }

func eventsAt(n int, ts time.Time) []model.LedgerEvent {
	out := make([]model.LedgerEvent, n)
	for i := 0; i < n; i++ {
		out[i] = model.LedgerEvent{
			ID:          int64(i + 1),
			Kind:        model.EventValidated,
			Timestamp:   ts,
			PrincipalID: "p-1",
			MandateID:   "m-1",
			Decision:    model.DecisionAllowed,
		}
	}
	return out
}

func TestSealReadyBatchDoesNothingBelowThresholds(t *testing.T) {
	store := &fakeMaterializerStore{unsealed: eventsAt(3, time.Now().UTC())}
	m := New(Config{Store: store, MaxEvents: 1000, MaxAge: time.Hour})

	root, err := m.SealReadyBatch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, root)
}

func TestSealReadyBatchClosesOnEventCount(t *testing.T) {
	store := &fakeMaterializerStore{unsealed: eventsAt(5, time.Now().UTC())}
	metrics := &fakeMetricsSink{}
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	m := New(Config{Store: store, MaxEvents: 5, MaxAge: time.Hour, SigningKey: kp.PrivateKey, SigningPrincipalID: "system", Metrics: metrics})

	root, err := m.SealReadyBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, int64(1), root.FirstEventID)
	assert.Equal(t, int64(5), root.LastEventID)
	assert.Equal(t, int64(5), root.EventCount)
	assert.NotEmpty(t, root.Signature)
	assert.Equal(t, int64(1), store.attachFirst)
	assert.Equal(t, int64(5), store.attachLast)
	assert.Equal(t, 1, metrics.merkleBatchesSealed)
}

func TestSealReadyBatchClosesOnAge(t *testing.T) {
	old := time.Now().UTC().Add(-2 * time.Minute)
	store := &fakeMaterializerStore{unsealed: eventsAt(2, old)}
	m := New(Config{Store: store, MaxEvents: 1000, MaxAge: 60 * time.Second})

	root, err := m.SealReadyBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, int64(2), root.EventCount)
}

func TestSealReadyBatchNoSigningKeyStillSeals(t *testing.T) {
	store := &fakeMaterializerStore{unsealed: eventsAt(5, time.Now().UTC())}
	m := New(Config{Store: store, MaxEvents: 5})

	root, err := m.SealReadyBatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Empty(t, root.Signature)
}

func TestCanonicalEventBytesDeterministic(t *testing.T) {
	e := model.LedgerEvent{ID: 1, Kind: model.EventIssued, Timestamp: time.Unix(1700000000, 0).UTC(), PrincipalID: "p-1", MandateID: "m-1"}
	a := canonicalEventBytes(e)
	b := canonicalEventBytes(e)
	assert.Equal(t, a, b)

	e.MandateID = "m-2"
	c := canonicalEventBytes(e)
	assert.NotEqual(t, a, c)
}
