package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := ProviderError("provider returned error", 502, "bad gateway")
	msg := err.Error()

	assert.Contains(t, msg, "provider")
	assert.Contains(t, msg, "status=502")
	assert.Contains(t, msg, "bad gateway")
}

func TestIsType_Direct(t *testing.T) {
	assert.True(t, IsType(AuthRequiredError("no token"), ErrTypeAuthRequired))
	assert.False(t, IsType(AuthRequiredError("no token"), ErrTypeProvider))
	assert.False(t, IsType(nil, ErrTypeAuthRequired))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeAuthRequired))
}

func TestIsType_Wrapped(t *testing.T) {
	inner := TransportError("connection refused", fmt.Errorf("dial tcp"))
	wrapped := fmt.Errorf("calling provider: %w", inner)

	assert.True(t, IsType(wrapped, ErrTypeTransport))
}

func TestIsAuthRequired_WithCause(t *testing.T) {
	authErr := AuthRequiredError("refresh failed")
	authErr.Cause = ProviderError("token endpoint rejected refresh", 400, "")

	// The outer type wins: the cause is diagnostic only
	assert.True(t, IsAuthRequired(authErr))
	assert.False(t, IsType(authErr, ErrTypeProvider))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeValidation, GetType(ValidationError("bad input")))
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestWithContextAndCode(t *testing.T) {
	err := InternalError("storage failed", fmt.Errorf("timeout")).
		WithContext("user_id", "u1").
		WithCode("STORAGE_TIMEOUT")

	assert.Equal(t, "u1", err.Context["user_id"])
	assert.Equal(t, "STORAGE_TIMEOUT", err.Code)
	assert.Contains(t, err.Error(), "cause=timeout")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := InternalError("wrapper", cause)

	assert.Equal(t, cause, err.Unwrap())
}
