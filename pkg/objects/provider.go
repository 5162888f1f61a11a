package objects

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/session"
)

// SessionChecker reports whether a session is still registered.
type SessionChecker interface {
	IsAvailable(id string) bool
}

// ObjectEvent describes a created or destroyed life-cycle object.
type ObjectEvent struct {
	Application string

	// Session is nil for application objects.
	Session *session.Session
	Object  any
}

// ObjectListener observes life-cycle objects.
type ObjectListener interface {
	ObjectCreated(ctx context.Context, ev ObjectEvent)
	ObjectDestroyed(ctx context.Context, ev ObjectEvent)
}

// Options configures a Provider.
type Options struct {
	Lookup config.Lookup

	// Access defaults to security.AllowAll.
	Access security.AccessController

	// Sessions enables teardown of objects whose session vanished during
	// a call.
	Sessions SessionChecker

	// Injectors are added to, and override, the built-in injectors.
	Injectors map[string]Injector

	Registerer prometheus.Registerer
}

type entry struct {
	class    *Class
	value    any
	parent   any
	env      *Env
	injected map[string]any
}

type appSlot struct {
	once  sync.Once
	entry *entry
}

// Provider creates, caches, resolves and tears down life-cycle objects.
//
// Provider implements session.Listener: registering it with the session
// manager releases a session's object when the session is destroyed.
type Provider struct {
	lookup        config.Lookup
	access        security.AccessController
	sessions      SessionChecker
	injectors     map[string]Injector
	injectorNames []string

	mu       sync.Mutex
	objects  map[string]*entry
	apps     map[string]*appSlot
	listenMu sync.Mutex
	listen   []ObjectListener

	created      *prometheus.CounterVec
	destroyed    *prometheus.CounterVec
	hookFailures prometheus.Counter
}

var _ session.Listener = (*Provider)(nil)

// NewProvider creates a Provider.
func NewProvider(opts Options) *Provider {
	if opts.Access == nil {
		opts.Access = security.AllowAll{}
	}
	injectors := defaultInjectors()
	for name, inj := range opts.Injectors {
		injectors[name] = inj
	}
	names := make([]string, 0, len(injectors))
	for name := range injectors {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Provider{
		lookup:        opts.Lookup,
		access:        opts.Access,
		sessions:      opts.Sessions,
		injectors:     injectors,
		injectorNames: names,
		objects:       map[string]*entry{},
		apps:          map[string]*appSlot{},
		created: metrics.RegisterOrReuse(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "objects",
			Name:      "created_total",
			Help:      "Life-cycle objects created, by scope",
		}, []string{"scope"})),
		destroyed: metrics.RegisterOrReuse(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "objects",
			Name:      "destroyed_total",
			Help:      "Life-cycle objects destroyed, by scope",
		}, []string{"scope"})),
		hookFailures: metrics.RegisterOrReuse(opts.Registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "objects",
			Name:      "destroy_hook_failures_total",
			Help:      "Destroy hooks that returned an error or panicked",
		})),
	}
}

// AddListener registers l.
func (p *Provider) AddListener(l ObjectListener) {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()
	if !slices.Contains(p.listen, l) {
		p.listen = append(p.listen, l)
	}
}

// RemoveListener unregisters l.
func (p *Provider) RemoveListener(l ObjectListener) {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()
	if i := slices.Index(p.listen, l); i >= 0 {
		p.listen = slices.Delete(p.listen, i, i+1)
	}
}

func (p *Provider) notify(ctx context.Context, e *entry, created bool) {
	p.listenMu.Lock()
	listeners := slices.Clone(p.listen)
	p.listenMu.Unlock()

	ev := ObjectEvent{Application: e.env.Application, Session: e.env.Session, Object: e.value}
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCtx(ctx, "Object listener panicked", logger.Err(fmt.Errorf("%v", r)))
				}
			}()
			if created {
				l.ObjectCreated(ctx, ev)
			} else {
				l.ObjectDestroyed(ctx, ev)
			}
		}()
	}
}

func scopeOf(e *entry) string {
	if e.env.Session == nil {
		return "application"
	}
	return "session"
}

// IsIsolated reports whether the life-cycle class of s is isolated. It
// inspects the configured class and never creates an object.
func (p *Provider) IsIsolated(s *session.Session) bool {
	cls, err := p.sessionClass(s.Application())
	return err == nil && cls.Isolated
}

func (p *Provider) sessionClass(application string) (*Class, error) {
	name := config.String(p.lookup, config.AppKey(application, config.KeyLifeCycleClass), GenericClass)
	cls, ok := LookupClass(name)
	if !ok {
		return nil, rpcerrors.NewUnknownObjectError(name)
	}
	return cls, nil
}

// LifeCycleObject returns the object of s, creating it on first use.
func (p *Provider) LifeCycleObject(ctx context.Context, s *session.Session) (any, error) {
	ctx = session.WithOwner(ctx)
	unlock := s.Lock(ctx)
	defer unlock()

	e, err := p.lifeCycle(ctx, s)
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Parent returns the parent linked to the object of s, or nil.
func (p *Provider) Parent(ctx context.Context, s *session.Session) (any, error) {
	ctx = session.WithOwner(ctx)
	unlock := s.Lock(ctx)
	defer unlock()

	e, err := p.lifeCycle(ctx, s)
	if err != nil {
		return nil, err
	}
	return e.parent, nil
}

// lifeCycle returns the entry of s. The session lock must be held.
func (p *Provider) lifeCycle(ctx context.Context, s *session.Session) (*entry, error) {
	p.mu.Lock()
	e, ok := p.objects[s.ID()]
	p.mu.Unlock()
	if ok {
		return e, nil
	}
	if s.State() >= session.StateDestroying {
		return nil, rpcerrors.NewSessionExpiredError(s.ID())
	}

	cls, err := p.sessionClass(s.Application())
	if err != nil {
		return nil, err
	}

	var parent any
	if !cls.Isolated {
		if s.IsSub() {
			if me, err := p.lifeCycle(ctx, s.Master()); err == nil {
				parent = me.value
			}
		}
		if parent == nil {
			parent = p.ApplicationObject(ctx, s.Application())
		}
	}

	env := &Env{
		Application: s.Application(),
		Session:     s,
		Parent:      parent,
		Lookup:      p.lookup,
		Provider:    p,
	}
	e, err = p.construct(ctx, cls, env, func(e *entry) {
		p.mu.Lock()
		p.objects[s.ID()] = e
		p.mu.Unlock()
	})
	if err != nil {
		p.mu.Lock()
		delete(p.objects, s.ID())
		p.mu.Unlock()
		return nil, err
	}

	logger.DebugCtx(ctx, "Life-cycle object created",
		logger.SessionID(s.ID()), logger.Application(s.Application()), logger.KeyClass, cls.Name)
	return e, nil
}

// construct allocates an object of cls, links its parent, caches it with
// store, runs the construct hook and injects the named objects.
func (p *Provider) construct(ctx context.Context, cls *Class, env *Env, store func(*entry)) (*entry, error) {
	obj := cls.New()
	hook, err := cls.constructHook(obj)
	if err != nil {
		return nil, err
	}

	if env.Parent != nil {
		if pa, ok := obj.(ParentAware); ok {
			pa.SetParent(env.Parent)
		}
	}

	e := &entry{class: cls, value: obj, parent: env.Parent, env: env, injected: map[string]any{}}
	store(e)

	if hook != nil {
		if err := hook(ctx, obj, env); err != nil {
			return nil, fmt.Errorf("construct %s: %w", cls.Name, err)
		}
	}

	for _, name := range p.injectorNames {
		v, err := p.injectors[name](ctx, env)
		if err != nil {
			logger.WarnCtx(ctx, "Injected object unavailable",
				logger.Application(env.Application), "name", name, logger.Err(err))
			continue
		}
		if v == nil {
			continue
		}
		e.injected[name] = v
		switch o := obj.(type) {
		case Injectable:
			o.Inject(name, v)
		case Mapper:
			o.Store(name, v)
		}
	}

	p.created.WithLabelValues(scopeOf(e)).Inc()
	p.notify(ctx, e, true)
	return e, nil
}

// ApplicationObject returns the shared object of application, or nil when
// none is configured or it could not be created. A failure is remembered
// and not retried.
func (p *Provider) ApplicationObject(ctx context.Context, application string) any {
	key := strings.ToLower(application)
	p.mu.Lock()
	slot, ok := p.apps[key]
	if !ok {
		slot = &appSlot{}
		p.apps[key] = slot
	}
	p.mu.Unlock()

	slot.once.Do(func() {
		slot.entry = p.createApplicationObject(ctx, application)
	})
	if slot.entry == nil {
		return nil
	}
	return slot.entry.value
}

func (p *Provider) createApplicationObject(ctx context.Context, application string) *entry {
	name := p.lookup.Property(config.AppKey(application, config.KeyApplicationClass))
	if name == "" {
		return nil
	}
	cls, ok := LookupClass(name)
	if !ok {
		err := rpcerrors.NewConfigurationError(config.AppKey(application, config.KeyApplicationClass),
			fmt.Errorf("unknown class %q", name))
		logger.ErrorCtx(ctx, "Application object unavailable", logger.Application(application), logger.Err(err))
		return nil
	}

	env := &Env{Application: application, Lookup: p.lookup, Provider: p}
	e, err := p.construct(ctx, cls, env, func(*entry) {})
	if err != nil {
		logger.ErrorCtx(ctx, "Application object construction failed",
			logger.Application(application), logger.Err(err))
		return nil
	}
	logger.InfoCtx(ctx, "Application object created", logger.Application(application), logger.KeyClass, cls.Name)
	return e
}

// resolve walks name from the object of s. The session lock must be held.
func (p *Provider) resolve(ctx context.Context, s *session.Session, name string) (any, error) {
	e, err := p.lifeCycle(ctx, s)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return e.value, nil
	}

	cur := e.value
	segments := strings.Split(name, ".")
	for i, seg := range segments {
		path := strings.Join(segments[:i+1], ".")
		if seg == "" {
			return nil, rpcerrors.NewUnknownObjectError(path)
		}

		next, found, err := child(cur, seg)
		if err != nil {
			return nil, err
		}
		if !found && i == 0 {
			next, found = e.injected[seg]
		}
		if !found {
			return nil, rpcerrors.NewUnknownObjectError(path)
		}
		if err := p.access.CheckObject(ctx, s, path); err != nil {
			return nil, err
		}
		if next == nil && i < len(segments)-1 {
			return nil, rpcerrors.NewUnknownObjectError(path)
		}
		cur = next
	}
	return cur, nil
}

// GetObject resolves the dotted name from the life-cycle object of s. An
// empty name returns the life-cycle object itself.
func (p *Provider) GetObject(ctx context.Context, s *session.Session, name string) (any, error) {
	ctx = session.WithOwner(ctx)
	unlock := s.Lock(ctx)
	defer unlock()
	return p.resolve(ctx, s, name)
}

// PutObject assigns value to the dotted name through a setter or, failing
// that, a map put on the parent object.
func (p *Provider) PutObject(ctx context.Context, s *session.Session, name string, value any) error {
	if name == "" {
		return rpcerrors.NewInvalidArgumentError("object name is required")
	}
	ctx = session.WithOwner(ctx)
	unlock := s.Lock(ctx)
	defer unlock()

	parentPath, last := "", name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		parentPath, last = name[:i], name[i+1:]
	}
	parent, err := p.resolve(ctx, s, parentPath)
	if err != nil {
		return err
	}
	if parent == nil {
		return rpcerrors.NewUnknownObjectError(parentPath)
	}
	if err := p.access.CheckObject(ctx, s, name); err != nil {
		return err
	}

	ok, err := setChild(parent, last, value)
	if err != nil {
		return err
	}
	if !ok {
		return rpcerrors.NewUnknownObjectError(name)
	}
	return nil
}

// Invoke calls method on the object at objectName. If the session is no
// longer registered when the call returns, its life-cycle object is torn
// down.
func (p *Provider) Invoke(ctx context.Context, s *session.Session, objectName, method string, args Args) (any, error) {
	ctx = ContextWithSession(session.WithOwner(ctx), s)

	result, err := func() (any, error) {
		unlock := s.Lock(ctx)
		defer unlock()

		target, err := p.resolve(ctx, s, objectName)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, rpcerrors.NewUnknownObjectError(objectName)
		}
		if err := p.access.CheckMethod(ctx, s, objectName, method); err != nil {
			return nil, err
		}
		return invoke(ctx, target, method, args)
	}()

	if p.sessions != nil && !s.IsInitializing() && !p.sessions.IsAvailable(s.ID()) {
		logger.DebugCtx(ctx, "Session vanished during call, releasing its object", logger.SessionID(s.ID()))
		p.Release(ctx, s)
	}
	return result, err
}

// SessionCreated implements session.Listener.
func (p *Provider) SessionCreated(context.Context, *session.Session) {}

// SessionDestroyed releases the object of s.
func (p *Provider) SessionDestroyed(ctx context.Context, s *session.Session, _ string) {
	p.Release(ctx, s)
}

// Release tears down the object of s, if any. It waits for calls running
// on s to return. A method of the object may release its own session as
// long as it passes on the context it was invoked with.
func (p *Provider) Release(ctx context.Context, s *session.Session) {
	ctx = session.WithOwner(ctx)
	unlock := s.Lock(ctx)
	defer unlock()

	p.mu.Lock()
	e, ok := p.objects[s.ID()]
	delete(p.objects, s.ID())
	p.mu.Unlock()
	if ok {
		p.teardown(ctx, e)
	}
}

// RemoveApplication tears down the shared object of application so the
// next access rebuilds it from the current configuration.
func (p *Provider) RemoveApplication(ctx context.Context, application string) {
	key := strings.ToLower(application)
	p.mu.Lock()
	slot, ok := p.apps[key]
	delete(p.apps, key)
	p.mu.Unlock()
	if ok && slot.entry != nil {
		p.teardown(ctx, slot.entry)
	}
}

// Len returns the number of live session objects.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

// Close tears down every session and application object.
func (p *Provider) Close(ctx context.Context) {
	p.mu.Lock()
	all := make([]*entry, 0, len(p.objects)+len(p.apps))
	for id, e := range p.objects {
		all = append(all, e)
		delete(p.objects, id)
	}
	for key, slot := range p.apps {
		if slot.entry != nil {
			all = append(all, slot.entry)
		}
		delete(p.apps, key)
	}
	p.mu.Unlock()

	for _, e := range all {
		p.teardown(ctx, e)
	}
}

// teardown runs the destroy hooks and closes injected objects. Failures
// are logged and never returned.
func (p *Provider) teardown(ctx context.Context, e *entry) {
	for _, hook := range e.class.destroyHooks(e.value) {
		p.runDestroyHook(ctx, e, hook)
	}

	for name, v := range e.injected {
		c, ok := v.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.WarnCtx(ctx, "Closing injected object failed",
				logger.Application(e.env.Application), "name", name, logger.Err(err))
		}
	}

	p.destroyed.WithLabelValues(scopeOf(e)).Inc()
	p.notify(ctx, e, false)
}

func (p *Provider) runDestroyHook(ctx context.Context, e *entry, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			p.hookFailures.Inc()
			logger.ErrorCtx(ctx, "Destroy hook panicked",
				logger.Application(e.env.Application), logger.KeyClass, e.class.Name,
				logger.Err(fmt.Errorf("%v", r)))
		}
	}()
	if err := hook(ctx, e.value, e.env); err != nil {
		p.hookFailures.Inc()
		logger.WarnCtx(ctx, "Destroy hook failed",
			logger.Application(e.env.Application), logger.KeyClass, e.class.Name, logger.Err(err))
	}
}
