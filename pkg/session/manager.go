package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Authenticator validates the credentials of new sessions. It is
// implemented by the security manager cache.
type Authenticator interface {
	Authenticate(ctx context.Context, s *Session) error
	ChangePassword(ctx context.Context, s *Session, oldPassword, newPassword string) error
}

// Discarder is implemented by authenticators that keep state for an
// authenticated session. Discard is called when the session could not be
// registered after Authenticate succeeded.
type Discarder interface {
	Discard(ctx context.Context, s *Session)
}

// Options configures a Manager. Zero durations fall back to the defaults in
// package config.
type Options struct {
	ReaperInterval      time.Duration
	MaxInactiveInterval time.Duration
	AliveInterval       time.Duration
	ResponseWaitTimeout time.Duration
	ExpiredMemory       int

	Now     func() time.Time
	Metrics *Metrics
}

func (o *Options) applyDefaults() {
	if o.ReaperInterval == 0 {
		o.ReaperInterval = config.DefaultReaperInterval
	}
	if o.MaxInactiveInterval == 0 {
		o.MaxInactiveInterval = config.DefaultMaxInactiveInterval
	}
	if o.ResponseWaitTimeout == 0 {
		o.ResponseWaitTimeout = config.DefaultResponseWaitTimeout
	}
	if o.ExpiredMemory == 0 {
		o.ExpiredMemory = config.DefaultExpiredMemory
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager creates, looks up and destroys sessions.
type Manager struct {
	registry *Registry
	lookup   config.Lookup
	auth     Authenticator
	opts     Options
	failed   listenerSet[FailedListener]

	newID func() string
}

// NewManager creates a Manager. A nil auth accepts every session.
func NewManager(lookup config.Lookup, auth Authenticator, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		registry: NewRegistry(RegistryOptions{
			ReaperInterval: opts.ReaperInterval,
			ExpiredMemory:  opts.ExpiredMemory,
			Now:            opts.Now,
			Metrics:        opts.Metrics,
		}),
		lookup: lookup,
		auth:   auth,
		opts:   opts,
		newID:  uuid.NewString,
	}
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Lookup returns the configuration the manager reads application settings
// from.
func (m *Manager) Lookup() config.Lookup { return m.lookup }

// ResponseWaitTimeout bounds how long a retried request waits for an
// in-flight response.
func (m *Manager) ResponseWaitTimeout() time.Duration { return m.opts.ResponseWaitTimeout }

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.opts.Now() }

// AddListener registers l for created and destroyed events.
func (m *Manager) AddListener(l Listener) { m.registry.AddListener(l) }

// RemoveListener unregisters l.
func (m *Manager) RemoveListener(l Listener) { m.registry.RemoveListener(l) }

// AddFailedListener registers l for rejected session creations.
func (m *Manager) AddFailedListener(l FailedListener) { m.failed.add(l) }

// RemoveFailedListener unregisters l.
func (m *Manager) RemoveFailedListener(l FailedListener) { m.failed.remove(l) }

// CreateRequest describes a new master session.
type CreateRequest struct {
	Application string
	Serializer  wire.Serializer

	// Properties are set by the client, including credentials.
	Properties map[string]any

	// RequestProperties are derived from the transport and stored under the
	// request namespace.
	RequestProperties map[string]string
}

// CreateSession authenticates and registers a new master session.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.Application == "" || !config.HasApplication(m.lookup, req.Application) {
		return nil, rpcerrors.NewSecurityError(req.Application, "application not available")
	}
	app := req.Application

	s := NewMaster(Config{
		ID:                  m.newID(),
		Application:         app,
		Serializer:          req.Serializer,
		MaxInactiveInterval: config.Duration(m.lookup, config.AppKey(app, config.KeyMaxInactiveInterval), m.opts.MaxInactiveInterval),
		AliveInterval:       config.Duration(m.lookup, config.AppKey(app, config.KeyAliveInterval), m.opts.AliveInterval),
		Now:                 m.opts.Now(),
	})
	setClientProperties(s, req.Properties)
	for k, v := range req.RequestProperties {
		s.props.SetQuiet(PrefixRequest+k, v)
	}

	if err := m.register(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSubSession authenticates and registers a sub session of master.
// Failures are reported as SessionCancelled.
func (m *Manager) CreateSubSession(ctx context.Context, master *Session, props map[string]any) (*Session, error) {
	master = master.Master()
	app := master.application

	s := NewSub(master, Config{
		ID:                  m.newID(),
		MaxInactiveInterval: config.Duration(m.lookup, config.AppKey(app, config.KeySubMaxInactiveInterval), 0),
		Now:                 m.opts.Now(),
	})
	setClientProperties(s, props)
	for k, v := range master.props.Snapshot() {
		if strings.HasPrefix(k, PrefixRequest) {
			s.props.SetQuiet(k, v)
		}
	}

	if err := m.register(ctx, s); err != nil {
		if rpcerrors.IsSessionExpired(err) {
			return nil, err
		}
		return nil, rpcerrors.NewSessionCancelledError(err)
	}
	return s, nil
}

func setClientProperties(s *Session, props map[string]any) {
	for k, v := range props {
		if IsClientWritable(k) {
			s.props.SetQuiet(k, v)
		}
	}
}

func (m *Manager) register(ctx context.Context, s *Session) error {
	s.props.SetQuiet(PropInitializing, true)
	lc := logger.FromContext(ctx).WithSession(s.id, s.application)
	if lc != nil {
		ctx = logger.WithContext(ctx, lc)
	}

	if m.auth != nil {
		if err := m.auth.Authenticate(ctx, s); err != nil {
			m.notifyFailed(ctx, s.application, err)
			var rerr *rpcerrors.Error
			if !errors.As(err, &rerr) {
				err = rpcerrors.Wrap(rpcerrors.ErrSecurity, err, s.application, "authentication failed")
			}
			return err
		}
	}

	if err := m.registry.Put(s); err != nil {
		if d, ok := m.auth.(Discarder); ok {
			d.Discard(ctx, s)
		}
		m.notifyFailed(ctx, s.application, err)
		return err
	}

	m.registry.notifyCreated(ctx, s)
	s.props.SetQuiet(PropInitializing, nil)

	logger.InfoCtx(ctx, "Session created",
		logger.SessionID(s.id), logger.Application(s.application),
		logger.KeyMasterID, s.Master().id, logger.KeyUsername, s.UserName())
	return nil
}

func (m *Manager) notifyFailed(ctx context.Context, application string, err error) {
	m.opts.Metrics.recordFailed()
	logger.WarnCtx(ctx, "Session creation failed", logger.Application(application), logger.Err(err))
	for _, l := range m.failed.snapshot() {
		safeNotify(ctx, "failed", func() { l.SessionFailed(ctx, application, err) })
	}
}

// Get returns the session registered under id and records an access.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.registry.Get(ctx, id)
}

// Destroy removes and tears down the session registered under id.
func (m *Manager) Destroy(ctx context.Context, id, reason string) error {
	return m.registry.Destroy(ctx, id, reason)
}

// IsAvailable reports whether id is registered without touching it.
func (m *Manager) IsAvailable(id string) bool { return m.registry.IsAvailable(id) }

// IsValid reports whether id is registered and alive without touching it.
func (m *Manager) IsValid(id string) bool { return m.registry.IsValid(id) }

// SetAndCheckAlive records an alive signal for caller and for every listed
// session that belongs to the same master, and returns the ids that are no
// longer valid. Ids of other masters are reported as invalid.
func (m *Manager) SetAndCheckAlive(ctx context.Context, caller *Session, ids []string) []string {
	now := m.opts.Now()
	caller.Alive(now)

	var invalid []string
	for _, id := range ids {
		s, ok := m.registry.Peek(id)
		if !ok || s.Master() != caller.Master() {
			invalid = append(invalid, id)
			continue
		}
		s.Alive(now)
		if !m.registry.IsValid(id) {
			invalid = append(invalid, id)
		}
	}
	logger.DebugCtx(ctx, "Alive check", logger.SessionID(caller.id), logger.KeyCount, len(ids))
	return invalid
}

// ChangePassword changes the password of the user authenticated on s.
func (m *Manager) ChangePassword(ctx context.Context, s *Session, oldPassword, newPassword string) error {
	if m.auth == nil {
		return rpcerrors.NewSecurityError(s.application, "password change not supported")
	}
	if err := m.auth.ChangePassword(ctx, s, oldPassword, newPassword); err != nil {
		return err
	}
	s.Master().props.SetQuiet(PropPassword, newPassword)
	return nil
}

// Close stops the reaper and destroys every session.
func (m *Manager) Close(ctx context.Context) {
	m.registry.Close(ctx, ReasonShutdown)
}
