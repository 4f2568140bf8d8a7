package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/authority/model"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// SnapshotStore is the subset of internal/authority/store.Store the
// snapshot scheduler needs.
type SnapshotStore interface {
	ListActivePrincipals(ctx context.Context) ([]model.Principal, error)
	ListActivePolicies(ctx context.Context) ([]model.AuthorityPolicy, error)
	ListLiveMandates(ctx context.Context, now time.Time) ([]model.ExecutionMandate, error)
	GetLatestMerkleRoot(ctx context.Context) (model.MerkleRoot, error)
	PutSnapshot(ctx context.Context, snap model.LedgerSnapshot) (model.LedgerSnapshot, error)
	PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error)
}

// SnapshotScheduler projects authority state into a snapshot row on a cron
// trigger (default daily at 00:00 UTC) and prunes expired ones (spec.md
// §4.G point 2).
type SnapshotScheduler struct {
	store     SnapshotStore
	cron      *cron.Cron
	spec      string
	retention time.Duration
	log       *logging.Logger
	now       func() time.Time
}

// SnapshotConfig assembles a SnapshotScheduler.
type SnapshotConfig struct {
	Store     SnapshotStore
	Spec      string // standard 5-field cron expression, default "0 0 * * *"
	Retention time.Duration
	Log       *logging.Logger
}

// NewSnapshotScheduler validates Spec with the standard 5-field parser and
// assembles a scheduler. An invalid Spec is a configuration error, not a
// silent fallback.
func NewSnapshotScheduler(cfg SnapshotConfig) (*SnapshotScheduler, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = "0 0 * * *"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "ledger: invalid snapshot cron spec", err)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &SnapshotScheduler{
		store:     cfg.Store,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		spec:      spec,
		retention: retention,
		log:       cfg.Log,
		now:       time.Now,
	}, nil
}

// projection is the deterministic JSON shape a snapshot's content hash
// commits to.
type projection struct {
	Principals       []model.Principal        `json:"principals"`
	Policies         []model.AuthorityPolicy  `json:"policies"`
	Mandates         []model.ExecutionMandate `json:"mandates"`
	LastMerkleRootID string                    `json:"last_merkle_root_id,omitempty"`
}

// CreateSnapshot projects active principals, active policies, and live
// (non-expired, non-revoked) mandates, anchored to the latest sealed
// Merkle root, into a new snapshot row.
func (s *SnapshotScheduler) CreateSnapshot(ctx context.Context, trigger model.SnapshotTrigger) (model.LedgerSnapshot, error) {
	principals, err := s.store.ListActivePrincipals(ctx)
	if err != nil {
		return model.LedgerSnapshot{}, err
	}
	policies, err := s.store.ListActivePolicies(ctx)
	if err != nil {
		return model.LedgerSnapshot{}, err
	}
	now := s.now().UTC()
	mandates, err := s.store.ListLiveMandates(ctx, now)
	if err != nil {
		return model.LedgerSnapshot{}, err
	}

	var lastEventID int64
	var lastRootID string
	root, err := s.store.GetLatestMerkleRoot(ctx)
	switch {
	case err == nil:
		lastEventID = root.LastEventID
		lastRootID = root.ID
	case apperr.Is(err, apperr.CodeNotFound):
		// No Merkle root sealed yet; the snapshot still anchors to event 0.
	default:
		return model.LedgerSnapshot{}, err
	}

	payload, err := json.Marshal(projection{
		Principals:       principals,
		Policies:         policies,
		Mandates:         mandates,
		LastMerkleRootID: lastRootID,
	})
	if err != nil {
		return model.LedgerSnapshot{}, apperr.Wrap(apperr.CodeInternal, "ledger: marshal snapshot projection", err)
	}
	hash := sha256.Sum256(payload)

	snap := model.LedgerSnapshot{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		LastEventID:      lastEventID,
		SizeBytes:        int64(len(payload)),
		EventCount:       lastEventID,
		ContentHash:      hash[:],
		Trigger:          trigger,
		LastMerkleRootID: lastRootID,
	}

	snap, err = s.store.PutSnapshot(ctx, snap)
	if err != nil {
		return model.LedgerSnapshot{}, err
	}

	if s.log != nil {
		s.log.WithContext(ctx).
			WithField("snapshot_id", snap.ID).
			WithField("trigger", string(trigger)).
			WithField("principals", len(principals)).
			WithField("policies", len(policies)).
			WithField("mandates", len(mandates)).
			Info("created ledger snapshot")
	}
	return snap, nil
}

// Prune removes snapshots older than the retention horizon and returns the
// count removed.
func (s *SnapshotScheduler) Prune(ctx context.Context) (int64, error) {
	return s.store.PruneSnapshots(ctx, s.now().UTC().Add(-s.retention))
}

// Start registers the cron job and begins the scheduler's own goroutine.
func (s *SnapshotScheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx := context.Background()
		if _, err := s.CreateSnapshot(ctx, model.SnapshotScheduled); err != nil && s.log != nil {
			s.log.WithContext(ctx).WithField("error", err.Error()).Error("scheduled snapshot failed")
		}
		if _, err := s.Prune(ctx); err != nil && s.log != nil {
			s.log.WithContext(ctx).WithField("error", err.Error()).Error("snapshot pruning failed")
		}
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "ledger: register snapshot cron job", err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight cron job to finish before returning.
func (s *SnapshotScheduler) Stop() {
	<-s.cron.Stop().Done()
}
