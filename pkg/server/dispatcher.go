package server

import (
	"context"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/telemetry"
	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Call kinds used for metrics labels.
const (
	kindObject   = "object"
	kindSession  = "session"
	kindCallback = "callback"
)

// CallDispatcher resolves the target of a call through the object
// provider and invokes it. Lazy object creation, access checks and method
// replacement all happen in the provider; the dispatcher adds tracing,
// logging and metrics around it.
type CallDispatcher struct {
	provider *objects.Provider
	metrics  *Metrics
}

// NewCallDispatcher creates a dispatcher over p. A nil m disables metrics.
func NewCallDispatcher(p *objects.Provider, m *Metrics) *CallDispatcher {
	return &CallDispatcher{provider: p, metrics: m}
}

// Dispatch executes c synchronously on behalf of s.
func (d *CallDispatcher) Dispatch(ctx context.Context, s *session.Session, c wire.Call) (any, error) {
	return d.dispatch(ctx, s, c, kindObject)
}

func (d *CallDispatcher) dispatch(ctx context.Context, s *session.Session, c wire.Call, kind string) (any, error) {
	if lc := logger.FromContext(ctx).WithSession(s.ID(), s.Application()).WithCall(c.Object, c.Method); lc != nil {
		ctx = logger.WithContext(ctx, lc)
	}
	ctx, span := telemetry.StartCallSpan(ctx, s.ID(), c.Object, c.Method)
	defer span.End()

	s.BeginExecution()
	defer s.EndExecution()

	start := time.Now()
	result, err := d.provider.Invoke(ctx, s, c.Object, c.Method, objects.Args(c.Params))
	d.metrics.recordCall(kind, err, time.Since(start))

	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Call failed", logger.Err(err),
			logger.DurationMs(logger.Duration(start)))
		return nil, err
	}
	logger.DebugCtx(ctx, "Call completed", logger.DurationMs(logger.Duration(start)))
	return result, nil
}
