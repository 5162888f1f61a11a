package server

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/telemetry"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Request outcomes used for metrics labels.
const (
	outcomeOK     = "ok"
	outcomeReplay = "replay"
	outcomeBroken = "broken"
)

// frame is an encoded response ready to be written.
type frame struct {
	body       []byte
	compressed bool
	sessionID  string
	outcome    string
}

// Serve handles one request frame and writes exactly one response frame to
// w. The returned error only reports a failure to write the response;
// protocol and call failures are encoded in the response itself.
func (s *Server) Serve(ctx context.Context, req Request, w ResponseWriter) error {
	start := time.Now()

	ctx, span := telemetry.StartRequestSpan(ctx, req.RemoteAddr)
	defer span.End()
	lc := logger.NewLogContext(req.RemoteAddr).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	out := s.handle(ctx, req)

	telemetry.SetAttributes(ctx,
		attribute.Bool(telemetry.AttrCompressed, out.compressed),
		attribute.Bool(telemetry.AttrReplayed, out.outcome == outcomeReplay))
	s.metrics.recordRequest(out.outcome, start)
	s.metrics.recordResponse(len(out.body), out.compressed)

	if out.sessionID != "" {
		w.SetProperty(PropertySession, out.sessionID)
	}
	_, err := w.Write(out.body)
	return err
}

func (s *Server) handle(ctx context.Context, req Request) frame {
	h, err := wire.ReadHeader(req.Body)
	if err != nil {
		return s.broken(ctx, err)
	}

	var (
		ser  wire.Serializer
		sess *session.Session
	)
	if h.NewConnection() {
		name := h.Serializer
		if name == "" {
			name = s.defaultSerializer
		}
		if ser, err = s.rules.Resolve(name); err != nil {
			return s.broken(ctx, err)
		}
		if h.SessionID != "" {
			if sess, err = s.sessions.Get(ctx, h.SessionID); err != nil {
				return s.errorFrame(ctx, ser, h, err)
			}
		}
	} else {
		if h.SessionID == "" {
			return s.broken(ctx, rpcerrors.NewProtocolError("established request without session"))
		}
		if sess, err = s.sessions.Get(ctx, h.SessionID); err != nil {
			return s.broken(ctx, err)
		}
		if ser = sess.Serializer(); ser == nil {
			return s.broken(ctx, rpcerrors.NewProtocolError("session %s has no serializer", sess.ID()))
		}
	}
	telemetry.SetAttributes(ctx, attribute.String(telemetry.AttrSerializer, ser.Name()))

	payload, err := wire.ReadPayload(req.Body, h, s.maxFrameSize)
	if err != nil {
		return s.broken(ctx, err)
	}
	calls, err := wire.NewCallReader(ser.NewDecoder(payload))
	if err != nil {
		return s.broken(ctx, err)
	}

	x := &exchange{
		srv:        s,
		req:        req,
		header:     h,
		serializer: ser,
		calls:      calls,
		ctx:        ctx,
	}
	if sess != nil {
		sess.Alive(s.sessions.Now())
		x.switchTo(ctx, sess)
	}
	return x.run(ctx)
}

// broken encodes a failure that happened before a serializer was known, or
// that left the request stream unreadable.
func (s *Server) broken(ctx context.Context, err error) frame {
	telemetry.RecordError(ctx, err)
	logger.WarnCtx(ctx, "Request rejected", logger.Err(err))
	return frame{body: wire.EncodeBroken(err), outcome: outcomeBroken}
}

// errorFrame answers with a single CALL_ERROR when the serializer is known.
func (s *Server) errorFrame(ctx context.Context, ser wire.Serializer, h wire.Header, err error) frame {
	logger.DebugCtx(ctx, "Request failed", logger.Err(err))
	body, eerr := wire.EncodeResponse(ser, []wire.Result{wire.NewErrorResult(err)},
		wire.ResponseOptions{AcceptsGzip: h.AcceptsGzip(), Threshold: s.threshold})
	if eerr != nil {
		return s.broken(ctx, err)
	}
	return frame{body: body, outcome: outcomeOK, compressed: isCompressed(body)}
}

func isCompressed(body []byte) bool {
	return len(body) > 1 && body[1] == wire.CompressionGzip
}

// exchange is the state of one request while its calls execute.
type exchange struct {
	srv        *Server
	req        Request
	header     wire.Header
	serializer wire.Serializer
	calls      *wire.CallReader

	// current is the session calls run against. It changes when the
	// request creates or destroys a session.
	current *session.Session
	ctx     context.Context

	// created is a master session created by this request.
	created *session.Session

	hooked  *session.Session
	handler CallHandler

	results []wire.Result
	failed  bool
}

func (x *exchange) switchTo(ctx context.Context, s *session.Session) {
	x.current = s
	if s == nil {
		x.ctx = ctx
		return
	}
	if lc := logger.FromContext(ctx).WithSession(s.ID(), s.Application()); lc != nil {
		x.ctx = logger.WithContext(ctx, lc)
	}
}

func (x *exchange) run(ctx context.Context) frame {
	srv := x.srv
	commID := x.calls.CommID
	telemetry.SetAttributes(ctx,
		attribute.Int64(telemetry.AttrCommID, commID),
		attribute.Int(telemetry.AttrCallCount, x.calls.Count))

	var slot *session.ResponseSlot
	if x.current != nil && x.calls.HasCommID {
		slot = x.current.Response()
		decision, cached, err := slot.Reserve(ctx, commID, srv.sessions.ResponseWaitTimeout())
		if err != nil {
			_ = x.calls.Drain()
			return srv.broken(ctx, err)
		}
		if decision == session.SlotReplay {
			_ = x.calls.Drain()
			logger.DebugCtx(ctx, "Replaying cached response", logger.KeyCommID, commID)
			telemetry.AddEvent(ctx, "replay")
			return frame{
				body:       cached,
				compressed: isCompressed(cached),
				sessionID:  x.current.ID(),
				outcome:    outcomeReplay,
			}
		}
	}

	if err := x.execute(ctx); err != nil {
		if slot != nil {
			slot.Abort(commID)
		}
		return srv.broken(ctx, err)
	}

	body, err := x.encode()
	if err != nil {
		if slot != nil {
			slot.Abort(commID)
		}
		return srv.broken(ctx, err)
	}

	switch {
	case slot != nil:
		slot.Complete(commID, body)
	case x.created != nil && x.calls.HasCommID:
		// The session did not exist when the request arrived; cache the
		// response under the new master so a retry of this id replays it.
		created := x.created.Response()
		if d, _, err := created.Reserve(ctx, commID, 0); err == nil && d == session.SlotExecute {
			created.Complete(commID, body)
		}
	}

	out := frame{body: body, compressed: isCompressed(body), outcome: outcomeOK}
	if x.current != nil {
		out.sessionID = x.current.ID()
	}
	logger.DebugCtx(x.ctx, "Request served",
		logger.KeyCalls, x.calls.Count, logger.KeySize, len(body),
		logger.KeySerializer, x.serializer.Name())
	return out
}

// execute runs the calls in order. The first failing call ends the
// request: its error is the last call result and the remaining calls are
// read without being executed. A non-nil error means the request stream
// itself could not be read.
func (x *exchange) execute(ctx context.Context) error {
	defer x.leave()

	for x.calls.Remaining() > 0 {
		c, err := x.calls.Next()
		if err != nil {
			return err
		}

		value, err := x.dispatch(c)
		if err != nil {
			telemetry.RecordError(ctx, err)
			x.results = append(x.results, wire.NewErrorResult(err))
			x.failed = true
			return x.calls.Drain()
		}
		if c.HasCallback && c.Object != SessionObject {
			continue
		}
		x.results = append(x.results, wire.Result{Type: wire.CallResult, Value: value})
	}
	return nil
}

func (x *exchange) dispatch(c wire.Call) (any, error) {
	if c.Object == SessionObject {
		if c.HasCallback {
			return nil, rpcerrors.NewProtocolError("%s calls cannot be callbacks", SessionObject)
		}
		return x.sessionCall(x.ctx, c)
	}

	s := x.current
	if s == nil {
		return nil, rpcerrors.NewProtocolError("call %s requires a session", c)
	}
	if c.HasCallback {
		return nil, x.srv.callbacks.submit(x.ctx, s, c)
	}
	if err := x.enter(s); err != nil {
		return nil, err
	}
	return x.srv.dispatcher.Dispatch(x.ctx, s, c)
}

// enter runs BeforeFirstCall on the life-cycle object of s the first time s
// receives an object call in this request.
func (x *exchange) enter(s *session.Session) error {
	if x.hooked == s {
		return nil
	}
	x.leave()

	obj, err := x.srv.provider.LifeCycleObject(x.ctx, s)
	if err != nil {
		return err
	}
	x.hooked = s
	if h, ok := obj.(CallHandler); ok {
		x.handler = h
		ctx := session.WithOwner(x.ctx)
		unlock := s.Lock(ctx)
		defer unlock()
		h.BeforeFirstCall(ctx, s)
	}
	return nil
}

func (x *exchange) leave() {
	s, h := x.hooked, x.handler
	x.hooked, x.handler = nil, nil
	if h == nil || s.State() == session.StateDestroyed {
		return
	}
	ctx := session.WithOwner(x.ctx)
	unlock := s.Lock(ctx)
	defer unlock()
	h.AfterLastCall(ctx, s, x.failed)
}

// encode assembles the response: changed properties of the current
// session, then pending callback results of its master, then the call
// results in call order.
func (x *exchange) encode() ([]byte, error) {
	results := make([]wire.Result, 0, len(x.results)+1)
	if s := x.current; s != nil {
		if changed := s.Properties().Changed(); len(changed) > 0 {
			results = append(results, wire.Result{Type: wire.PropertyResult, Value: changed})
		}
		results = append(results, s.Callbacks().Drain()...)
	}
	results = append(results, x.results...)

	return wire.EncodeResponse(x.serializer, results, wire.ResponseOptions{
		AcceptsGzip: x.header.AcceptsGzip(),
		Threshold:   x.srv.threshold,
	})
}
