// Package policy implements the authority engine's policy evaluator
// (spec.md §4.D): a pure function deciding whether a requested mandate's
// fields fall within its issuer's active authority policy.
package policy

import "github.com/garudex-labs/caracal/internal/authority/model"

// Reason enumerates the stable, enumerable deny reason codes (spec.md §4.D).
type Reason string

const (
	ReasonPolicyInactive          Reason = "policy_inactive"
	ReasonValidityExceeded        Reason = "validity_exceeded"
	ReasonResourceNotAllowed      Reason = "resource_not_allowed"
	ReasonActionNotAllowed        Reason = "action_not_allowed"
	ReasonDelegationNotAllowed    Reason = "delegation_not_allowed"
	ReasonDelegationDepthExceeded Reason = "delegation_depth_exceeded"
)

// Requested is the subset of a would-be mandate's fields the evaluator
// checks against a policy.
type Requested struct {
	ValiditySeconds int64
	ResourceScope   []string
	ActionScope     []string
	ParentMandateID string
	DelegationDepth int
}

// Decision is the evaluator's verdict: either permit, or deny with a reason.
type Decision struct {
	Permit bool
	Reason Reason
}

func deny(r Reason) Decision {
	return Decision{Permit: false, Reason: r}
}

// Covers reports whether resource is covered by at least one pattern in
// allowed, under the glob-containment semantics of glob.go. Exported so
// callers outside the evaluator (delegation subset checks in
// internal/authority/engine, invariant 3) can reuse the same containment
// rule rather than re-deriving it.
func Covers(allowed []string, resource string) bool {
	return coveredByAny(allowed, resource)
}

// Evaluate checks r against p in the order spec.md §4.D prescribes,
// returning the first failed check's reason. It is a pure function of its
// inputs; it performs no I/O and consults no clock beyond what the caller
// passes in ValiditySeconds.
func Evaluate(p model.AuthorityPolicy, r Requested) Decision {
	if !p.Active {
		return deny(ReasonPolicyInactive)
	}
	if r.ValiditySeconds > p.MaxValiditySeconds {
		return deny(ReasonValidityExceeded)
	}
	for _, resource := range r.ResourceScope {
		if !coveredByAny(p.AllowedResourcePatterns, resource) {
			return deny(ReasonResourceNotAllowed)
		}
	}
	for _, action := range r.ActionScope {
		if !contains(p.AllowedActions, action) {
			return deny(ReasonActionNotAllowed)
		}
	}
	if r.ParentMandateID != "" {
		if !p.DelegationAllowed {
			return deny(ReasonDelegationNotAllowed)
		}
		if r.DelegationDepth > p.MaxDelegationDepth {
			return deny(ReasonDelegationDepthExceeded)
		}
	}
	return Decision{Permit: true}
}
