// Package logging provides structured logging with correlation-id support
// for the authority engine.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through handler calls.
type ContextKey string

const (
	// CorrelationIDKey is the context key for the caller-supplied correlation id.
	CorrelationIDKey ContextKey = "correlation_id"
	// PrincipalIDKey is the context key for the principal a decision concerns.
	PrincipalIDKey ContextKey = "principal_id"
)

// Logger wraps logrus.Logger with the authority engine's service identity.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance for service, at level, in format ("json" or "text").
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to "info" and "json".
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns a log entry pre-populated with the service name and
// any correlation/principal id carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if ctx == nil {
		return entry
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok && cid != "" {
		entry = entry.WithField("correlation_id", cid)
	}
	if pid, ok := ctx.Value(PrincipalIDKey).(string); ok && pid != "" {
		entry = entry.WithField("principal_id", pid)
	}
	return entry
}

// WithCorrelationID returns a child context carrying the correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithPrincipalID returns a child context carrying the principal id.
func WithPrincipalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, id)
}
