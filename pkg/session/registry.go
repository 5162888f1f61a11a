package session

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/telemetry"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Registry maps session ids to sessions and reaps inactive ones in the
// background.
//
// The map is guarded by a single mutex. Destruction always happens outside
// it, on a snapshot, so listeners and cascading destroys may call back into
// the registry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// tombstones remembers removed ids so that later lookups report
	// SessionExpired instead of UnknownSession. Bounded FIFO.
	tombstones map[string]struct{}
	tombOrder  []string
	tombLimit  int

	interval time.Duration
	now      func() time.Time

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}

	listeners listenerSet[Listener]
	metrics   *Metrics
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// ReaperInterval between inactivity scans. Zero disables the reaper.
	ReaperInterval time.Duration

	// ExpiredMemory bounds the number of remembered removed ids.
	ExpiredMemory int

	Now     func() time.Time
	Metrics *Metrics
}

// NewRegistry creates an empty registry. The reaper starts with the first
// Put.
func NewRegistry(opts RegistryOptions) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions:   map[string]*Session{},
		tombstones: map[string]struct{}{},
		tombLimit:  opts.ExpiredMemory,
		interval:   opts.ReaperInterval,
		now:        now,
		metrics:    opts.Metrics,
	}
}

// AddListener registers l for created and destroyed events.
func (r *Registry) AddListener(l Listener) { r.listeners.add(l) }

// RemoveListener unregisters l.
func (r *Registry) RemoveListener(l Listener) { r.listeners.remove(l) }

// Put registers s and marks it active. A sub session is attached to its
// master, which must still be registered.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.id]; exists {
		return rpcerrors.NewInvalidArgumentError("session id already registered")
	}
	if s.master != nil {
		if _, ok := r.sessions[s.master.id]; !ok || s.master.State() != StateActive {
			return rpcerrors.NewSessionExpiredError(s.master.id)
		}
		s.master.addSub(s)
	}

	r.sessions[s.id] = s
	s.setState(StateActive)
	r.metrics.recordCreated(s.IsSub())
	r.startReaperLocked()
	return nil
}

// Get returns the session registered under id and records an access. An
// inactive or dead session is destroyed and reported as SessionExpired.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	s, _, err := r.check(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Touch(r.now())
	return s, nil
}

// Peek returns the session registered under id without validating or
// touching it.
func (r *Registry) Peek(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// check validates the session registered under id. An inactive or dead
// session is destroyed; reaped reports whether this call destroyed it.
func (r *Registry) check(ctx context.Context, id string) (s *Session, reaped bool, err error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		_, known := r.tombstones[id]
		r.mu.Unlock()
		if known {
			return nil, false, rpcerrors.NewSessionExpiredError(id)
		}
		return nil, false, rpcerrors.NewUnknownSessionError()
	}
	r.mu.Unlock()

	now := r.now()
	if s.IsInactive(now) || !s.IsAlive(now) {
		s.expired.Store(true)
		logger.DebugCtx(ctx, "Session expired", logger.SessionID(id), logger.Application(s.application))
		reaped = r.Destroy(ctx, id, ReasonExpired) == nil
		return nil, reaped, rpcerrors.NewSessionExpiredError(id)
	}
	return s, false, nil
}

// IsAvailable reports whether id is registered. It never touches the
// session.
func (r *Registry) IsAvailable(id string) bool {
	_, ok := r.Peek(id)
	return ok
}

// IsValid reports whether id is registered, active and within its timeouts.
// It never touches the session.
func (r *Registry) IsValid(id string) bool {
	s, ok := r.Peek(id)
	if !ok {
		return false
	}
	now := r.now()
	return s.State() == StateActive && !s.IsInactive(now) && s.IsAlive(now)
}

// Destroy removes the session registered under id and tears it down,
// cascading to the sub sessions of a master. Destroying an id that was
// already removed reports SessionExpired.
func (r *Registry) Destroy(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		_, known := r.tombstones[id]
		r.mu.Unlock()
		if known {
			return rpcerrors.NewSessionExpiredError(id)
		}
		return rpcerrors.NewUnknownSessionError()
	}
	delete(r.sessions, id)
	r.rememberLocked(id)
	r.mu.Unlock()

	r.teardown(ctx, s, reason)
	return nil
}

func (r *Registry) teardown(ctx context.Context, s *Session, reason string) {
	if !s.beginDestroy() {
		return
	}

	for _, sub := range s.Subs() {
		_ = r.Destroy(ctx, sub.id, ReasonMasterDestroyed)
	}
	if s.master != nil {
		s.master.removeSub(s.id)
	} else {
		s.response.Clear()
	}

	for _, l := range r.listeners.snapshot() {
		safeNotify(ctx, "destroyed", func() { l.SessionDestroyed(ctx, s, reason) })
	}

	s.setState(StateDestroyed)
	r.metrics.recordDestroyed(reason, r.now().Sub(s.createdAt).Seconds())
	logger.DebugCtx(ctx, "Session destroyed",
		logger.SessionID(s.id), logger.Application(s.application), logger.KeyReason, reason)
}

func (r *Registry) notifyCreated(ctx context.Context, s *Session) {
	for _, l := range r.listeners.snapshot() {
		safeNotify(ctx, "created", func() { l.SessionCreated(ctx, s) })
	}
}

func (r *Registry) rememberLocked(id string) {
	if r.tombLimit <= 0 {
		return
	}
	if _, ok := r.tombstones[id]; ok {
		return
	}
	r.tombstones[id] = struct{}{}
	r.tombOrder = append(r.tombOrder, id)
	if len(r.tombOrder) > r.tombLimit {
		oldest := r.tombOrder[0]
		r.tombOrder = r.tombOrder[1:]
		delete(r.tombstones, oldest)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns all registered sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// startReaperLocked starts the reaper goroutine if it is not running.
// Must be called with r.mu held.
func (r *Registry) startReaperLocked() {
	if r.interval <= 0 || r.reaperCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.reaperCancel = cancel
	r.reaperDone = make(chan struct{})
	go r.reap(ctx, r.reaperDone)
}

func (r *Registry) reap(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}

// Reap runs one inactivity scan and returns the number of sessions
// destroyed.
func (r *Registry) Reap(ctx context.Context) int {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanReaper)
	defer span.End()

	reaped := 0
	for _, id := range r.ids() {
		if _, destroyed, _ := r.check(ctx, id); destroyed {
			reaped++
		}
	}
	if reaped > 0 {
		logger.InfoCtx(ctx, "Session reaper: removed inactive sessions", logger.KeyCount, reaped)
	}
	return reaped
}

// Close stops the reaper and destroys every session with reason.
func (r *Registry) Close(ctx context.Context, reason string) {
	r.mu.Lock()
	cancel, done := r.reaperCancel, r.reaperDone
	r.reaperCancel, r.reaperDone = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, s := range r.Snapshot() {
		if !s.IsSub() {
			_ = r.Destroy(ctx, s.id, reason)
		}
	}
	for _, id := range r.ids() {
		_ = r.Destroy(ctx, id, reason)
	}
}
