// Package errors defines the error taxonomy shared by the session engine,
// the object provider and the protocol coordinator.
//
// This is a leaf package: it imports nothing from the module so every other
// package can depend on it. Callers conventionally import it as rpcerrors.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies the category of a failure.
type ErrorCode int

const (
	// ErrSessionExpired: the id was valid once but the session is gone
	// (timed out or destroyed). Clients should reconnect.
	ErrSessionExpired ErrorCode = iota + 1

	// ErrUnknownSession: the id was never issued by this server. Kept
	// distinct from ErrSessionExpired so forged ids learn nothing.
	ErrUnknownSession

	// ErrSessionCancelled wraps an authentication or creation failure while
	// creating a sub-session.
	ErrSessionCancelled

	// ErrSecurity: access denied by an access controller, the serializer
	// allow list or the security manager.
	ErrSecurity

	// ErrUnknownObject: a path segment or object name could not be resolved.
	ErrUnknownObject

	// ErrProtocol: malformed frame, invalid communication id sequencing or
	// unreadable stream.
	ErrProtocol

	// ErrConfiguration: a configured class or plugin could not be built.
	ErrConfiguration

	// ErrInvalidArgument: a call received parameters it cannot use.
	ErrInvalidArgument
)

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrSessionExpired:
		return "SessionExpired"
	case ErrUnknownSession:
		return "UnknownSession"
	case ErrSessionCancelled:
		return "SessionCancelled"
	case ErrSecurity:
		return "SecurityError"
	case ErrUnknownObject:
		return "UnknownObject"
	case ErrProtocol:
		return "ProtocolError"
	case ErrConfiguration:
		return "ConfigurationError"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ParseCode is the inverse of ErrorCode.String. Unknown names report false.
func ParseCode(name string) (ErrorCode, bool) {
	for c := ErrSessionExpired; c <= ErrInvalidArgument; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// Error is a categorised failure. Path names the offending session id,
// object path or configuration key, when there is one.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so that
// errors.Is(err, &Error{Code: ErrProtocol}) works for classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New creates an Error with code and message.
func New(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}

// Wrap creates an Error with a cause.
func Wrap(code ErrorCode, cause error, path, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Path: path, Cause: cause}
}

// NewSessionExpiredError reports that sessionID no longer exists.
func NewSessionExpiredError(sessionID string) *Error {
	return &Error{Code: ErrSessionExpired, Message: "session expired", Path: sessionID}
}

// NewUnknownSessionError reports an id this server never issued. The id is
// deliberately not echoed.
func NewUnknownSessionError() *Error {
	return &Error{Code: ErrUnknownSession, Message: "unknown session"}
}

// NewSessionCancelledError wraps a sub-session creation failure.
func NewSessionCancelledError(cause error) *Error {
	return &Error{Code: ErrSessionCancelled, Message: "session creation cancelled", Cause: cause}
}

// NewSecurityError reports an access denial on path.
func NewSecurityError(path, reason string) *Error {
	return &Error{Code: ErrSecurity, Message: reason, Path: path}
}

// NewUnknownObjectError reports the first segment that could not be resolved.
func NewUnknownObjectError(segment string) *Error {
	return &Error{Code: ErrUnknownObject, Message: "unknown object", Path: segment}
}

// NewProtocolError reports a framing or sequencing failure.
func NewProtocolError(format string, args ...any) *Error {
	return &Error{Code: ErrProtocol, Message: fmt.Sprintf(format, args...)}
}

// NewConfigurationError reports that a configured component could not be built.
func NewConfigurationError(key string, cause error) *Error {
	return &Error{Code: ErrConfiguration, Message: "invalid configuration", Path: key, Cause: cause}
}

// NewInvalidArgumentError reports unusable call parameters.
func NewInvalidArgumentError(format string, args ...any) *Error {
	return &Error{Code: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

func hasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsSessionExpired reports whether err is a SessionExpired error.
func IsSessionExpired(err error) bool { return hasCode(err, ErrSessionExpired) }

// IsUnknownSession reports whether err is an UnknownSession error.
func IsUnknownSession(err error) bool { return hasCode(err, ErrUnknownSession) }

// IsSessionCancelled reports whether err is a SessionCancelled error.
func IsSessionCancelled(err error) bool { return hasCode(err, ErrSessionCancelled) }

// IsSecurityError reports whether err is a SecurityError.
func IsSecurityError(err error) bool { return hasCode(err, ErrSecurity) }

// IsUnknownObject reports whether err is an UnknownObject error.
func IsUnknownObject(err error) bool { return hasCode(err, ErrUnknownObject) }

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool { return hasCode(err, ErrProtocol) }

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool { return hasCode(err, ErrConfiguration) }
