package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	l := New("authorityd", "not-a-level", "json")
	assert.Equal(t, "info", l.GetLevel().String())
}

func TestWithContextLiftsFields(t *testing.T) {
	l := New("authorityd", "info", "text")
	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithPrincipalID(ctx, "principal-1")

	entry := l.WithContext(ctx)
	assert.Equal(t, "authorityd", entry.Data["service"])
	assert.Equal(t, "corr-1", entry.Data["correlation_id"])
	assert.Equal(t, "principal-1", entry.Data["principal_id"])
}

func TestWithContextNilIsSafe(t *testing.T) {
	l := New("authorityd", "info", "json")
	entry := l.WithContext(nil) //nolint:staticcheck
	assert.Equal(t, "authorityd", entry.Data["service"])
}
