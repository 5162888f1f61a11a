package objects

import (
	"context"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/session"
)

// The injected "session" object lets calls such as
// session.getProperty("user") read the caller's own session.
func init() {
	Define[*session.Session]("session").
		Getter("id", func(s *session.Session) (any, error) { return s.ID(), nil }).
		Getter("application", func(s *session.Session) (any, error) { return s.Application(), nil }).
		Getter("userName", func(s *session.Session) (any, error) { return s.UserName(), nil }).
		Getter("sub", func(s *session.Session) (any, error) { return s.IsSub(), nil }).
		Method("getProperty", func(_ context.Context, s *session.Session, args Args) (any, error) {
			key, err := args.String(0)
			if err != nil {
				return nil, err
			}
			if session.IsPrivate(key) {
				return nil, nil
			}
			v, _ := s.Properties().Get(key)
			return v, nil
		}).
		Method("setProperty", func(_ context.Context, s *session.Session, args Args) (any, error) {
			key, err := args.String(0)
			if err != nil {
				return nil, err
			}
			if !session.IsClientWritable(key) {
				return nil, rpcerrors.NewSecurityError(key, "property is read-only")
			}
			s.Properties().SetQuiet(key, args.Get(1))
			return nil, nil
		}).
		Method("getProperties", func(_ context.Context, s *session.Session, _ Args) (any, error) {
			return s.Properties().Public(), nil
		})
}
