package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittorpc/pkg/wire"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Session is a master or sub session. A master session owns the serializer,
// its sub sessions, the callback queue and the response slot; a sub session
// delegates those to its master.
type Session struct {
	id          string
	application string
	master      *Session
	createdAt   time.Time

	lastAccess atomic.Int64
	lastAlive  atomic.Int64

	// maxInactive of zero never expires.
	maxInactive   time.Duration
	aliveInterval time.Duration

	props *Properties
	lock  reentrantMutex

	state     atomic.Int32
	expired   atomic.Bool
	executing atomic.Int32

	// Master only.
	serializer wire.Serializer
	callbacks  *CallbackQueue
	response   *ResponseSlot
	subsMu     sync.Mutex
	subs       map[string]*Session
}

// Config describes a session to create.
type Config struct {
	ID          string
	Application string
	Serializer  wire.Serializer

	MaxInactiveInterval time.Duration
	AliveInterval       time.Duration

	Now time.Time
}

// NewMaster allocates a master session in the Created state.
func NewMaster(cfg Config) *Session {
	s := newSession(cfg)
	s.serializer = cfg.Serializer
	s.callbacks = newCallbackQueue()
	s.response = &ResponseSlot{}
	s.subs = map[string]*Session{}
	return s
}

// NewSub allocates a sub session of master in the Created state. The sub
// inherits the master's application.
func NewSub(master *Session, cfg Config) *Session {
	cfg.Application = master.application
	s := newSession(cfg)
	s.master = master
	return s
}

func newSession(cfg Config) *Session {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	s := &Session{
		id:            cfg.ID,
		application:   cfg.Application,
		createdAt:     now,
		maxInactive:   cfg.MaxInactiveInterval,
		aliveInterval: cfg.AliveInterval,
		props:         newProperties(),
	}
	s.lastAccess.Store(now.UnixNano())
	s.lastAlive.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string { return s.id }
func (s *Session) Application() string { return s.application }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// IsSub reports whether s is a sub session.
func (s *Session) IsSub() bool { return s.master != nil }

// Master returns the master of a sub session, or s itself.
func (s *Session) Master() *Session {
	if s.master != nil {
		return s.master
	}
	return s
}

// Serializer returns the serializer negotiated by the master session.
func (s *Session) Serializer() wire.Serializer { return s.Master().serializer }

// Properties returns the session's own property bag.
func (s *Session) Properties() *Properties { return s.props }

// Callbacks returns the master's callback queue.
func (s *Session) Callbacks() *CallbackQueue { return s.Master().callbacks }

// Response returns the master's response slot.
func (s *Session) Response() *ResponseSlot { return s.Master().response }

// MaxInactiveInterval returns the session's own timeout.
func (s *Session) MaxInactiveInterval() time.Duration { return s.maxInactive }

// LastAccess returns the last access time.
func (s *Session) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// LastAlive returns the last alive signal time, which sub sessions share
// with their master.
func (s *Session) LastAlive() time.Time {
	return time.Unix(0, s.Master().lastAlive.Load())
}

// Touch records an access at now. Sub sessions also touch their master.
func (s *Session) Touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
	if s.master != nil {
		s.master.lastAccess.Store(now.UnixNano())
	}
}

// Alive records an alive signal at now on the master.
func (s *Session) Alive(now time.Time) {
	s.Touch(now)
	s.Master().lastAlive.Store(now.UnixNano())
}

// IsInactive reports whether the session outlived its inactivity timeout. A
// sub session's own interval applies only when it is set and stricter than
// its master's.
func (s *Session) IsInactive(now time.Time) bool {
	if s.master == nil {
		return s.inactiveFor(now, s.maxInactive)
	}
	m := s.master.maxInactive
	if s.maxInactive > 0 && (m <= 0 || s.maxInactive < m) {
		return s.inactiveFor(now, s.maxInactive)
	}
	return s.master.IsInactive(now)
}

func (s *Session) inactiveFor(now time.Time, d time.Duration) bool {
	return d > 0 && now.Sub(s.LastAccess()) > d
}

// IsAlive reports whether the master received an alive signal within its
// alive interval. Sessions without an alive interval are always alive.
func (s *Session) IsAlive(now time.Time) bool {
	m := s.Master()
	return m.aliveInterval <= 0 || now.Sub(m.LastAlive()) <= m.aliveInterval
}

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// beginDestroy moves the session to Destroying. It returns false when the
// session is already being destroyed.
func (s *Session) beginDestroy() bool {
	for {
		cur := s.state.Load()
		if cur >= int32(StateDestroying) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateDestroying)) {
			return true
		}
	}
}

// Expired reports whether the session was removed because it timed out.
func (s *Session) Expired() bool { return s.expired.Load() }

// IsInitializing reports whether the session is still being created.
func (s *Session) IsInitializing() bool {
	_, ok := s.props.Get(PropInitializing)
	return ok
}

// BeginExecution marks a call batch as running on the session.
func (s *Session) BeginExecution() { s.executing.Add(1) }

// EndExecution marks the end of a call batch.
func (s *Session) EndExecution() { s.executing.Add(-1) }

// IsExecuting reports whether calls are running on the session.
func (s *Session) IsExecuting() bool { return s.executing.Load() > 0 }

// Lock acquires the session lock for the owner carried by ctx and returns
// the matching unlock function. A sub session locks its master first.
func (s *Session) Lock(ctx context.Context) (unlock func()) {
	owner := ownerFrom(ctx)
	if owner == 0 {
		owner = nextOwner.Add(1)
	}
	if s.master != nil {
		s.master.lock.lock(owner)
	}
	s.lock.lock(owner)
	return func() {
		s.lock.unlock(owner)
		if s.master != nil {
			s.master.lock.unlock(owner)
		}
	}
}

// Subs returns a snapshot of the master's sub sessions.
func (s *Session) Subs() []*Session {
	if s.master != nil {
		return nil
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]*Session, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *Session) addSub(sub *Session) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub.id] = sub
}

func (s *Session) removeSub(id string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, id)
}

// UserName returns the authenticated user name property, if any.
func (s *Session) UserName() string {
	if u := s.props.String(PropUserName); u != "" {
		return u
	}
	if u := s.props.String(PropUser); u != "" {
		return u
	}
	if s.master != nil {
		return s.master.UserName()
	}
	return ""
}

// Info is a read-only description of a session.
type Info struct {
	ID          string    `json:"id"`
	MasterID    string    `json:"master_id,omitempty"`
	Application string    `json:"application"`
	UserName    string    `json:"user_name,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	Subs        int       `json:"subs"`
	Callbacks   int       `json:"pending_callbacks"`
	Push        bool      `json:"push"`
}

// Info describes s.
func (s *Session) Info() Info {
	info := Info{
		ID:          s.id,
		Application: s.application,
		UserName:    s.UserName(),
		State:       s.State().String(),
		CreatedAt:   s.createdAt,
		LastAccess:  s.LastAccess(),
	}
	if s.master != nil {
		info.MasterID = s.master.id
		return info
	}
	info.Subs = len(s.Subs())
	info.Callbacks = s.callbacks.Len()
	info.Push = s.callbacks.HasReceiver()
	return info
}
