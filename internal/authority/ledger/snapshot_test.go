package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
)

type fakeSnapshotStore struct {
	principals []model.Principal
	policies   []model.AuthorityPolicy
	mandates   []model.ExecutionMandate
	root       model.MerkleRoot
	hasRoot    bool

	snapshots []model.LedgerSnapshot
	pruned    int64
}

func (f *fakeSnapshotStore) ListActivePrincipals(ctx context.Context) ([]model.Principal, error) {
	return f.principals, nil
}

func (f *fakeSnapshotStore) ListActivePolicies(ctx context.Context) ([]model.AuthorityPolicy, error) {
	return f.policies, nil
}

func (f *fakeSnapshotStore) ListLiveMandates(ctx context.Context, now time.Time) ([]model.ExecutionMandate, error) {
	return f.mandates, nil
}

func (f *fakeSnapshotStore) GetLatestMerkleRoot(ctx context.Context) (model.MerkleRoot, error) {
	if !f.hasRoot {
		return model.MerkleRoot{}, apperr.New(apperr.CodeNotFound, "no merkle root")
	}
	return f.root, nil
}

func (f *fakeSnapshotStore) PutSnapshot(ctx context.Context, snap model.LedgerSnapshot) (model.LedgerSnapshot, error) {
	f.snapshots = append(f.snapshots, snap)
	return snap, nil
}

func (f *fakeSnapshotStore) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	f.pruned++
	return f.pruned, nil
}

func TestNewSnapshotSchedulerRejectsInvalidSpec(t *testing.T) {
	_, err := NewSnapshotScheduler(SnapshotConfig{Store: &fakeSnapshotStore{}, Spec: "not a cron"})
	require.Error(t, err)
}

func TestNewSnapshotSchedulerAppliesDefaults(t *testing.T) {
	sched, err := NewSnapshotScheduler(SnapshotConfig{Store: &fakeSnapshotStore{}})
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", sched.spec)
	assert.Equal(t, 90*24*time.Hour, sched.retention)
}

func TestCreateSnapshotWithoutAnyMerkleRootYet(t *testing.T) {
	store := &fakeSnapshotStore{
		principals: []model.Principal{{ID: "p-1"}},
		mandates:   []model.ExecutionMandate{{ID: "m-1"}},
	}
	sched, err := NewSnapshotScheduler(SnapshotConfig{Store: store})
	require.NoError(t, err)

	snap, err := sched.CreateSnapshot(context.Background(), model.SnapshotManual)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.LastEventID)
	assert.Empty(t, snap.LastMerkleRootID)
	assert.NotEmpty(t, snap.ContentHash)
	assert.Equal(t, model.SnapshotManual, snap.Trigger)
	require.Len(t, store.snapshots, 1)
}

func TestCreateSnapshotAnchorsToLatestMerkleRoot(t *testing.T) {
	store := &fakeSnapshotStore{
		hasRoot: true,
		root:    model.MerkleRoot{ID: "root-1", LastEventID: 42},
	}
	sched, err := NewSnapshotScheduler(SnapshotConfig{Store: store})
	require.NoError(t, err)

	snap, err := sched.CreateSnapshot(context.Background(), model.SnapshotScheduled)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.LastEventID)
	assert.Equal(t, "root-1", snap.LastMerkleRootID)
}

func TestPruneDelegatesToStoreWithRetentionHorizon(t *testing.T) {
	store := &fakeSnapshotStore{}
	sched, err := NewSnapshotScheduler(SnapshotConfig{Store: store, Retention: 24 * time.Hour})
	require.NoError(t, err)

	n, err := sched.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
