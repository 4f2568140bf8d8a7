package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// responseWriter wraps http.ResponseWriter to capture the status code,
// mirroring the teacher's infrastructure/middleware responseWriter.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware assigns or forwards a correlation id and logs each
// admin request on completion, the same trace-id-then-log shape as the
// teacher's LoggingMiddleware, adapted from gorilla's mux.MiddlewareFunc to
// a plain chi-compatible func(http.Handler) http.Handler.
func loggingMiddleware(log *logging.Logger, metrics *metricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			ctx := logging.WithCorrelationID(r.Context(), correlationID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Correlation-ID", correlationID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			if log != nil {
				log.WithContext(ctx).
					WithField("method", r.Method).
					WithField("path", r.URL.Path).
					WithField("status", wrapped.statusCode).
					WithField("duration_ms", duration.Milliseconds()).
					Info("admin request")
			}
			if metrics != nil {
				metrics.observe(r.Method, r.URL.Path, wrapped.statusCode, duration)
			}
		})
	}
}

// recoveryMiddleware converts a panic in any handler into a 500 response
// instead of killing the process, matching the teacher's
// NewRecoveryMiddleware.
func recoveryMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if log != nil {
						log.WithContext(r.Context()).
							WithField("panic", rec).
							Error("admin handler panicked")
					}
					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
