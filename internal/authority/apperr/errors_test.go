package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDefaultStatus(t *testing.T) {
	e := New(CodeNotFound, "mandate missing")
	assert.Equal(t, 404, e.HTTPStatus)
	assert.Equal(t, "[not_found] mandate missing", e.Error())
}

func TestNewForbiddenSetsDefaultStatus(t *testing.T) {
	e := New(CodeForbidden, "revoker not authorized")
	assert.Equal(t, 403, e.HTTPStatus)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	e := Wrap(CodeDownstreamUnavail, "store unavailable", cause)
	require.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection reset")
}

func TestWithDetails(t *testing.T) {
	e := New(CodeValidation, "bad scope").WithDetails("field", "resource_scope")
	assert.Equal(t, "resource_scope", e.Details["field"])
}

func TestCodeOfAndIs(t *testing.T) {
	e := New(CodeRateLimited, "too many issues")
	var wrapped error = e
	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeRateLimited, code)
	assert.True(t, Is(wrapped, CodeRateLimited))
	assert.False(t, Is(wrapped, CodeConflict))
	assert.False(t, Is(errors.New("plain"), CodeRateLimited))
}
