package wire

import (
	"errors"
	"fmt"
	"strings"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// RemoteError is an error as transported on the wire: a class name, a
// message, descriptive frames and an optional cause.
type RemoteError struct {
	Class   string
	Message string
	Frames  []string
	Cause   *RemoteError
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

// Unwrap exposes the cause so errors.As can walk the chain.
func (e *RemoteError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Code maps the class back to an engine error code, or 0.
func (e *RemoteError) Code() rpcerrors.ErrorCode {
	c, _ := rpcerrors.ParseCode(e.Class)
	return c
}

// FromError converts err into a RemoteError. Engine errors keep their code
// as the class name, other errors are reported with their Go type.
func FromError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) && re == err {
		return re
	}

	out := &RemoteError{Class: className(err), Message: err.Error()}

	var ee *rpcerrors.Error
	if errors.As(err, &ee) {
		out.Class = ee.Code.String()
		out.Message = ee.Message
		if ee.Path != "" {
			out.Frames = append(out.Frames, ee.Path)
		}
		if ee.Cause != nil {
			out.Cause = FromError(ee.Cause)
		}
		return out
	}

	if cause := errors.Unwrap(err); cause != nil {
		out.Cause = FromError(cause)
	}
	return out
}

// AsError converts a RemoteError back to an engine error when its class is
// a known code, otherwise returns it unchanged.
func (e *RemoteError) AsError() error {
	code := e.Code()
	if code == 0 {
		return e
	}
	out := &rpcerrors.Error{Code: code, Message: e.Message}
	if len(e.Frames) > 0 {
		out.Path = e.Frames[0]
	}
	if e.Cause != nil {
		out.Cause = e.Cause.AsError()
	}
	return out
}

func className(err error) string {
	name := fmt.Sprintf("%T", err)
	return strings.TrimPrefix(name, "*")
}
