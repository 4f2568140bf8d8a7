package main

import (
	"context"
	"net/http"
	"time"
)

type healthStatus string

const (
	healthOK        healthStatus = "ok"
	healthDegraded  healthStatus = "degraded"
	healthUnhealthy healthStatus = "unhealthy"
)

// handleHealth serves GET /health (spec.md §6): checks the store, cache,
// and bus each with a short timeout and rolls the worst individual result
// up into the overall status.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{
		"store": checkResult(s.pingStore(ctx)),
		"cache": checkResult(s.pingCache(ctx)),
		"bus":   checkResult(s.pingBus(ctx)),
	}

	status := healthOK
	for _, v := range checks {
		if v != "ok" {
			status = healthUnhealthy
		}
	}

	httpStatus := http.StatusOK
	if status != healthOK {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func checkResult(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

func (s *server) pingStore(ctx context.Context) error {
	_, err := s.store.ListActivePrincipals(ctx)
	return err
}

func (s *server) pingCache(ctx context.Context) error {
	if s.redisClient == nil {
		return nil
	}
	return s.redisClient.Ping(ctx).Err()
}

func (s *server) pingBus(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Ping(ctx)
}
