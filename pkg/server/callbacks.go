package server

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/telemetry"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Deferred is returned by a method whose value is produced later. A
// callback call that returns a Deferred reports the awaited value as a
// CALLBACK_RESULT_RESULT.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// InjectCallbacks names the injected Emitter.
const InjectCallbacks = "callbacks"

// callbackRunner executes callback calls off the request goroutine.
type callbackRunner struct {
	dispatcher *CallDispatcher
	metrics    *Metrics

	group errgroup.Group

	// mu orders submissions before close: no call is scheduled once
	// closing is set.
	mu      sync.RWMutex
	closing bool
}

func newCallbackRunner(d *CallDispatcher, m *Metrics, limit int) *callbackRunner {
	r := &callbackRunner{dispatcher: d, metrics: m}
	if limit > 0 {
		r.group.SetLimit(limit)
	}
	return r
}

// submit schedules c. The call outlives the request, so it runs on a
// context that is never cancelled by the transport. Submit blocks while the
// concurrency limit is reached.
func (r *callbackRunner) submit(ctx context.Context, s *session.Session, c wire.Call) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closing {
		return rpcerrors.NewProtocolError("server is shutting down")
	}
	ctx = context.WithoutCancel(ctx)
	r.group.Go(func() error {
		r.run(ctx, s, c)
		return nil
	})
	return nil
}

func (r *callbackRunner) run(ctx context.Context, s *session.Session, c wire.Call) {
	ctx, span := telemetry.StartCallbackSpan(ctx, s.ID(), c.CallbackID)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorCtx(ctx, "Callback panicked", logger.KeyCallbackID, c.CallbackID, "panic", p)
			deliver(ctx, s, r.metrics, wire.CallbackError, c.CallbackID, fmt.Errorf("callback panicked: %v", p))
		}
	}()

	value, err := r.dispatcher.dispatch(ctx, s, c, kindCallback)
	if err != nil {
		deliver(ctx, s, r.metrics, wire.CallbackError, c.CallbackID, err)
		return
	}

	if d, ok := value.(Deferred); ok {
		value, err = d.Await(ctx)
		if err != nil {
			deliver(ctx, s, r.metrics, wire.CallbackError, c.CallbackID, err)
			return
		}
		if value == nil && !c.ForceCallback {
			return
		}
		deliver(ctx, s, r.metrics, wire.CallbackResultResult, c.CallbackID, value)
		return
	}

	if value == nil && !c.ForceCallback {
		return
	}
	deliver(ctx, s, r.metrics, wire.CallbackResult, c.CallbackID, value)
}

// close rejects new callbacks and waits for the running ones.
func (r *callbackRunner) close() {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	_ = r.group.Wait()
}

// deliver queues a callback entry on the master of s. Values that cannot
// be placed on the wire are turned into CALLBACK_ERROR here, so one bad
// value never truncates a whole response.
func deliver(ctx context.Context, s *session.Session, m *Metrics, t wire.ResultType, callbackID int64, value any) {
	if t == wire.CallbackError {
		err, ok := value.(error)
		if !ok {
			err = fmt.Errorf("%v", value)
		}
		value = wire.FromError(err)
	} else if n, err := wire.Normalize(value); err != nil {
		t, value = wire.CallbackError, wire.FromError(fmt.Errorf("callback %d: %w", callbackID, err))
	} else {
		value = n
	}

	m.recordCallback(t)
	logger.DebugCtx(ctx, "Callback result queued",
		logger.SessionID(s.ID()), logger.KeyCallbackID, callbackID, "type", t.String())
	s.Callbacks().Add(ctx, wire.Result{Type: t, Value: value, CallbackID: callbackID})
}

// Emitter lets a life-cycle object deliver callback results to its client
// outside of a callback call, for example from a background goroutine. It
// is injected under InjectCallbacks.
type Emitter struct {
	session *session.Session
	metrics *Metrics
}

// Session returns the session results are delivered to.
func (e *Emitter) Session() *session.Session { return e.session }

// Emit delivers value as a CALLBACK_RESULT for callbackID.
func (e *Emitter) Emit(ctx context.Context, callbackID int64, value any) {
	deliver(ctx, e.session, e.metrics, wire.CallbackResult, callbackID, value)
}

// Fail delivers err as a CALLBACK_ERROR for callbackID.
func (e *Emitter) Fail(ctx context.Context, callbackID int64, err error) {
	deliver(ctx, e.session, e.metrics, wire.CallbackError, callbackID, err)
}

func emitterInjector(m *Metrics) objects.Injector {
	return func(_ context.Context, env *objects.Env) (any, error) {
		if env.Session == nil {
			return nil, nil
		}
		return &Emitter{session: env.Session, metrics: m}, nil
	}
}
