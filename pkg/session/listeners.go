package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/dittorpc/internal/logger"
)

// Destroy reasons.
const (
	ReasonClient          = "client_request"
	ReasonExpired         = "expired"
	ReasonMasterDestroyed = "master_destroyed"
	ReasonAdmin           = "admin"
	ReasonShutdown        = "shutdown"
)

// Listener observes session creation and destruction.
type Listener interface {
	SessionCreated(ctx context.Context, s *Session)
	SessionDestroyed(ctx context.Context, s *Session, reason string)
}

// FailedListener observes sessions that could not be created.
type FailedListener interface {
	SessionFailed(ctx context.Context, application string, err error)
}

// listenerSet is copied under its lock before iteration so listeners may
// add or remove listeners while being notified.
type listenerSet[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (l *listenerSet[T]) add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.items, item) {
		l.items = append(l.items, item)
	}
}

func (l *listenerSet[T]) remove(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := slices.Index(l.items, item); i >= 0 {
		l.items = slices.Delete(l.items, i, i+1)
	}
}

func (l *listenerSet[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// safeNotify runs fn and logs instead of propagating a panic.
func safeNotify(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Session listener panicked", "event", what, logger.Err(fmt.Errorf("%v", r)))
		}
	}()
	fn()
}
