package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeString(t *testing.T) {
	for c := ErrSessionExpired; c <= ErrInvalidArgument; c++ {
		parsed, ok := ParseCode(c.String())
		assert.True(t, ok, c.String())
		assert.Equal(t, c, parsed)
	}
	assert.Equal(t, "Unknown(99)", ErrorCode(99).String())

	_, ok := ParseCode("Nope")
	assert.False(t, ok)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "UnknownObject: unknown object (b)", NewUnknownObjectError("b").Error())
	assert.Equal(t, "ProtocolError: invalid communication state", NewProtocolError("invalid communication state").Error())

	err := NewConfigurationError("applications.bank.security.manager", io.EOF)
	assert.Contains(t, err.Error(), "applications.bank.security.manager")
	assert.Contains(t, err.Error(), "EOF")
}

func TestClassificationThroughWrapping(t *testing.T) {
	base := NewSessionExpiredError("s1")
	wrapped := fmt.Errorf("dispatch: %w", base)

	assert.True(t, IsSessionExpired(wrapped))
	assert.False(t, IsUnknownSession(wrapped))
	assert.Equal(t, ErrSessionExpired, CodeOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, &Error{Code: ErrSessionExpired}))
	assert.False(t, stderrors.Is(wrapped, &Error{Code: ErrProtocol}))
	assert.False(t, IsSessionExpired(nil))
}

func TestCancelledPreservesCause(t *testing.T) {
	cause := NewSecurityError("login", "bad password")
	err := NewSessionCancelledError(cause)

	assert.True(t, IsSessionCancelled(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, ErrSessionCancelled, CodeOf(err))
}

func TestUnknownSessionDoesNotEchoID(t *testing.T) {
	err := NewUnknownSessionError()
	assert.Empty(t, err.Path)
	assert.True(t, IsUnknownSession(err))
}
