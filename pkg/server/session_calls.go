package server

import (
	"context"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// SessionObject is the reserved object name of session management calls.
const SessionObject = "$session"

// Session management methods.
const (
	MethodCreate           = "create"
	MethodCreateSub        = "createSub"
	MethodDestroy          = "destroy"
	MethodSetProperty      = "setProperty"
	MethodGetProperty      = "getProperty"
	MethodGetProperties    = "getProperties"
	MethodSetNewPassword   = "setNewPassword"
	MethodSetAndCheckAlive = "setAndCheckAlive"
)

// sessionCall executes a $session call. A successful create makes the new
// session current for the rest of the request.
func (x *exchange) sessionCall(ctx context.Context, c wire.Call) (any, error) {
	start := time.Now()
	v, err := x.sessionMethod(ctx, c)
	x.srv.metrics.recordCall(kindSession, err, time.Since(start))
	return v, err
}

func (x *exchange) sessionMethod(ctx context.Context, c wire.Call) (any, error) {
	args := objects.Args(c.Params)

	if c.Method == MethodCreate {
		return x.create(ctx, args)
	}

	cur := x.current
	if cur == nil {
		return nil, rpcerrors.NewProtocolError("%s.%s requires a session", SessionObject, c.Method)
	}

	switch c.Method {
	case MethodCreateSub:
		props, err := args.Map(0)
		if err != nil {
			return nil, err
		}
		sub, err := x.srv.sessions.CreateSubSession(ctx, cur, props)
		if err != nil {
			return nil, err
		}
		return sub.ID(), nil

	case MethodDestroy:
		return nil, x.destroy(ctx, args)

	case MethodSetProperty:
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		if !session.IsClientWritable(key) {
			return nil, rpcerrors.NewSecurityError(key, "property is read-only")
		}
		var value any
		if len(args) > 1 {
			value = args[1]
		}
		cur.Properties().SetQuiet(key, value)
		return nil, nil

	case MethodGetProperty:
		key, err := args.String(0)
		if err != nil {
			return nil, err
		}
		if session.IsPrivate(key) {
			return nil, nil
		}
		v, _ := cur.Properties().Get(key)
		return v, nil

	case MethodGetProperties:
		return cur.Properties().Public(), nil

	case MethodSetNewPassword:
		oldPassword, err := args.String(0)
		if err != nil {
			return nil, err
		}
		newPassword, err := args.String(1)
		if err != nil {
			return nil, err
		}
		return nil, x.srv.sessions.ChangePassword(ctx, cur, oldPassword, newPassword)

	case MethodSetAndCheckAlive:
		ids, err := args.Strings(0)
		if err != nil {
			return nil, err
		}
		return nonNil(x.srv.sessions.SetAndCheckAlive(ctx, cur, ids)), nil
	}

	return nil, rpcerrors.NewUnknownObjectError(SessionObject + "." + c.Method)
}

func (x *exchange) create(ctx context.Context, args objects.Args) (any, error) {
	app, err := args.String(0)
	if err != nil {
		return nil, err
	}
	props, err := args.Map(1)
	if err != nil {
		return nil, err
	}

	s, err := x.srv.sessions.CreateSession(ctx, session.CreateRequest{
		Application: app,
		Serializer:  x.serializer,
		Properties:  props,
		RequestProperties: map[string]string{
			"remoteAddr": x.req.RemoteAddr,
			"userAgent":  x.req.UserAgent,
		},
	})
	if err != nil {
		return nil, err
	}

	x.switchTo(ctx, s)
	x.created = s
	return s.ID(), nil
}

// destroy removes the session named by the optional first argument, or the
// current one. Only sessions of the caller's master may be destroyed.
func (x *exchange) destroy(ctx context.Context, args objects.Args) error {
	cur := x.current
	id := cur.ID()
	if len(args) > 0 && args[0] != nil {
		var err error
		if id, err = args.String(0); err != nil {
			return err
		}
	}

	target, ok := x.srv.sessions.Registry().Peek(id)
	if ok && target.Master() != cur.Master() {
		return rpcerrors.NewSecurityError(id, "session belongs to another master")
	}
	if err := x.srv.sessions.Destroy(ctx, id, session.ReasonClient); err != nil {
		return err
	}

	if id == cur.ID() || id == cur.Master().ID() {
		logger.DebugCtx(ctx, "Current session destroyed", logger.SessionID(id))
		x.switchTo(ctx, nil)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
