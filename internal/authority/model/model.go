// Package model defines the authority engine's persistent data model:
// principals, authority policies, execution mandates, ledger events, Merkle
// roots, and snapshots (spec.md §3).
package model

import "time"

// PrincipalKind enumerates the kinds of identity that may hold authority.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalAgent   PrincipalKind = "agent"
	PrincipalService PrincipalKind = "service"
)

// Principal is an identity that may hold or issue mandates.
type Principal struct {
	ID         string
	Name       string
	Kind       PrincipalKind
	ParentID   string // empty if root of the organizational hierarchy
	PublicKey  []byte
	PrivateKey []byte // only populated for principals the engine acts on behalf of; encrypted at rest
	CreatedAt  time.Time
	Metadata   map[string]string
	DeletedAt  *time.Time // soft-delete tombstone
}

// IsDeleted reports whether the principal has been tombstoned.
func (p Principal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// AuthorityPolicy is a per-principal issuance/receipt constraint.
// At most one version per principal is Active at a time; superseding a
// policy creates a new version rather than mutating the old one.
type AuthorityPolicy struct {
	ID                     string
	PrincipalID            string
	AllowedResourcePatterns []string
	AllowedActions         []string
	MaxValiditySeconds     int64
	DelegationAllowed      bool
	MaxDelegationDepth     int
	Active                 bool
	Version                int64
	CreatedAt              time.Time
	CreatedBy              string
}

// Revocation is a mandate's revocation triplet: whether, when, and why it
// was revoked.
type Revocation struct {
	Revoked   bool
	Timestamp *time.Time
	Reason    string
}

// ExecutionMandate is the central authority token (spec.md §3).
type ExecutionMandate struct {
	ID              string
	IssuerID        string
	SubjectID       string
	ValidFrom       time.Time
	ValidUntil      time.Time
	ResourceScope   []string // ordered, non-empty glob patterns
	ActionScope     []string // ordered, non-empty action names
	Signature       []byte
	CreatedAt       time.Time
	ParentMandateID string // empty for root mandates
	DelegationDepth int
	Revocation      Revocation
	IntentHash      []byte // optional; commits to a pre-declared operation
}

// IsRoot reports whether this mandate has no parent.
func (m ExecutionMandate) IsRoot() bool {
	return m.ParentMandateID == ""
}

// ExpiredAt reports whether the mandate's validity window has closed by now.
// Validation at exactly ValidUntil is still allowed (spec.md §8 boundary law).
func (m ExecutionMandate) ExpiredAt(now time.Time) bool {
	return now.After(m.ValidUntil)
}

// NotYetValidAt reports whether now precedes the mandate's validity window.
func (m ExecutionMandate) NotYetValidAt(now time.Time) bool {
	return now.Before(m.ValidFrom)
}

// EventKind enumerates the four kinds of authority ledger event.
type EventKind string

const (
	EventIssued    EventKind = "issued"
	EventValidated EventKind = "validated"
	EventDenied    EventKind = "denied"
	EventRevoked   EventKind = "revoked"
)

// Decision is the outcome of a validation, nullable for non-validation events.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// LedgerEvent is an immutable record of an authority decision (spec.md §3).
// Once written, only MerkleRootID may be set (by the ledger materializer
// sealing the batch containing this event).
type LedgerEvent struct {
	ID                int64
	Kind              EventKind
	Timestamp         time.Time
	PrincipalID       string
	MandateID         string // nullable: empty for pre-issuance denials
	Decision          Decision
	DenialReason      string // non-empty iff Decision == DecisionDenied
	RequestedAction   string
	RequestedResource string
	CorrelationID     string
	MerkleRootID      string // nullable until sealed
	Metadata          map[string]string
}

// MerkleRoot seals a contiguous batch of ledger events (spec.md §3, §4.A).
type MerkleRoot struct {
	ID               string
	RootHash         []byte
	FirstEventID     int64
	LastEventID      int64
	EventCount       int64
	CreatedAt        time.Time
	SigningPrincipal string
	Signature        []byte
}

// SnapshotTrigger enumerates why a ledger snapshot was created.
type SnapshotTrigger string

const (
	SnapshotScheduled SnapshotTrigger = "scheduled"
	SnapshotManual    SnapshotTrigger = "manual"
	SnapshotRecovery  SnapshotTrigger = "recovery"
)

// LedgerSnapshot is a point-in-time projection of authority state, anchored
// to a specific event id (spec.md §3, §4.G).
type LedgerSnapshot struct {
	ID               string
	CreatedAt        time.Time
	LastEventID      int64
	SizeBytes        int64
	EventCount       int64
	ContentHash      []byte
	Trigger          SnapshotTrigger
	LastMerkleRootID string
}
