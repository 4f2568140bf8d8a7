package main

import (
	"net/http"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
)

// caps gates the enterprise feature surfaces original_source/caracal/enterprise/*
// stubbed out (SPEC_FULL.md SUPPLEMENTED FEATURES #8). None of sso,
// compliance, analytics, or workflow automation are implemented — they are
// explicit Non-goals — so every capability here is hardcoded false and any
// route behind one returns a structured "not available" error instead of a
// 404, so a caller can distinguish "this deployment doesn't have that
// feature" from "you mistyped the path".
type caps struct {
	SSO         bool
	Compliance  bool
	Analytics   bool
	Workflows   bool
}

var enterpriseCaps = caps{
	SSO:        false,
	Compliance: false,
	Analytics:  false,
	Workflows:  false,
}

// errCapabilityUnavailable is returned by any handler gated on a capability
// enterpriseCaps does not grant.
func errCapabilityUnavailable(capability string) *apperr.Error {
	return apperr.New(apperr.CodeForbidden, "capability not available in this deployment").
		WithDetails("capability", capability)
}

// requireCapability gates next behind enabled, returning
// errCapabilityUnavailable(capability) instead of ever invoking next when
// the deployment doesn't grant it.
func requireCapability(enabled bool, capability string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enabled {
			writeError(w, errCapabilityUnavailable(capability))
			return
		}
		next(w, r)
	}
}
