package server

import (
	"context"

	"github.com/marmos91/dittorpc/pkg/session"
)

// CallHandler is implemented by life-cycle objects that want to bracket
// the calls of a request.
//
// BeforeFirstCall runs before the first object call of a request is
// dispatched to the session. AfterLastCall runs once the request's calls
// are done, only if BeforeFirstCall ran, and reports whether a call failed.
// Both run under the session lock.
type CallHandler interface {
	BeforeFirstCall(ctx context.Context, s *session.Session)
	AfterLastCall(ctx context.Context, s *session.Session, failed bool)
}
