package objects

import (
	"context"

	"github.com/marmos91/dittorpc/pkg/session"
)

type sessionKey struct{}

// ContextWithSession returns ctx carrying the session a call runs for.
func ContextWithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session of the running call.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*session.Session)
	return s, ok && s != nil
}
