package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes assembles the admin HTTP surface (spec.md §6).
func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	mr := &metricsRecorder{reg: s.metrics}
	r.Use(recoveryMiddleware(s.log))
	r.Use(loggingMiddleware(s.log, mr))

	r.Post("/mandates", s.handleIssueMandate)
	r.Post("/mandates/validate", s.handleValidateMandate)
	r.Post("/mandates/delegate", s.handleDelegateMandate)
	r.Delete("/mandates/{id}", s.handleRevokeMandate)

	r.Get("/ledger", s.handleQueryLedger)

	r.Post("/principals", s.handleCreatePrincipal)
	r.Get("/principals", s.handleListPrincipals)

	r.Post("/policies", s.handleCreatePolicy)
	r.Get("/policies", s.handleListPolicies)

	r.Get("/compliance/export", requireCapability(enterpriseCaps.Compliance, "compliance", s.handleComplianceExport))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
