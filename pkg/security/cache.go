package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/session"
)

type cacheKey struct {
	application string
	sessionID   string
}

type cacheEntry struct {
	class   string
	manager Manager

	// refs holds the ids of the sessions using manager.
	refs map[string]struct{}
}

func newCacheEntry(class string, manager Manager, sessionID string) *cacheEntry {
	return &cacheEntry{class: class, manager: manager, refs: map[string]struct{}{sessionID: {}}}
}

// Cache hands out security managers per application or per session
// depending on each application's configured cache mode. A change of the
// configured class or mode replaces the cached managers on next access. A
// manager is released when the last session using it is destroyed.
//
// Cache implements session.Authenticator, session.Discarder and
// session.Listener.
type Cache struct {
	lookup config.Lookup

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	modes   map[string]CacheMode

	created  *prometheus.CounterVec
	released prometheus.Counter
}

var (
	_ session.Authenticator = (*Cache)(nil)
	_ session.Discarder     = (*Cache)(nil)
	_ session.Listener      = (*Cache)(nil)
)

// NewCache creates a cache reading application settings from lookup.
// Metrics are registered with reg when it is non-nil.
func NewCache(lookup config.Lookup, reg prometheus.Registerer) *Cache {
	return &Cache{
		lookup:  lookup,
		entries: map[cacheKey]*cacheEntry{},
		modes:   map[string]CacheMode{},
		created: metrics.RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "security",
			Name:      "managers_created_total",
			Help:      "Security managers created, by class",
		}, []string{"class"})),
		released: metrics.RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dittorpc",
			Subsystem: "security",
			Name:      "managers_released_total",
			Help:      "Security managers released",
		})),
	}
}

func (c *Cache) settings(application string) (class string, mode CacheMode, opts Options) {
	class = config.String(c.lookup, config.AppKey(application, config.KeySecurityManager), config.DefaultSecurityManager)
	mode, err := ParseCacheMode(c.lookup.Property(config.AppKey(application, config.KeyCacheMode)))
	if err != nil {
		logger.Warn("Invalid security cache mode, using application", logger.Application(application), logger.Err(err))
	}

	opts = Options{}
	prefix := config.AppKey(application, config.KeySecurityOptions) + "."
	if kl, ok := c.lookup.(interface{ Keys(string) []string }); ok {
		for _, k := range kl.Keys(strings.TrimSuffix(prefix, ".")) {
			opts[k] = c.lookup.Property(prefix + k)
		}
	}
	return class, mode, opts
}

// Get returns the manager for s, creating it when needed.
func (c *Cache) Get(ctx context.Context, s *session.Session) (Manager, error) {
	app := s.Application()
	class, mode, opts := c.settings(app)

	key := cacheKey{application: app}
	if mode == CacheSession {
		key.sessionID = s.ID()
	}
	s.Properties().SetQuiet(session.PropCacheMode, string(mode))

	c.mu.Lock()
	var stale []Manager
	if prev, ok := c.modes[app]; ok && prev != mode {
		stale = c.evictLocked(app)
		logger.InfoCtx(ctx, "Security cache mode changed",
			logger.Application(app), logger.KeyCacheMode, string(mode))
	}
	c.modes[app] = mode

	entry, ok := c.entries[key]
	if ok && entry.class == class {
		entry.refs[s.ID()] = struct{}{}
		c.mu.Unlock()
		c.releaseAll(ctx, stale)
		return entry.manager, nil
	}
	if ok {
		stale = append(stale, entry.manager)
		delete(c.entries, key)
		logger.InfoCtx(ctx, "Security manager class changed",
			logger.Application(app), logger.KeyClass, class)
	}
	c.mu.Unlock()
	c.releaseAll(ctx, stale)

	manager, err := c.create(ctx, app, class, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok && existing.class == class {
		// Another request created it first.
		existing.refs[s.ID()] = struct{}{}
		c.mu.Unlock()
		c.Release(ctx, manager)
		return existing.manager, nil
	}
	c.entries[key] = newCacheEntry(class, manager, s.ID())
	c.mu.Unlock()
	return manager, nil
}

// create builds a manager of class. An unknown class is a configuration
// error that falls back to the built-in Allow manager.
func (c *Cache) create(ctx context.Context, app, class string, opts Options) (Manager, error) {
	factory, ok := lookupFactory(class)
	if !ok {
		err := rpcerrors.NewConfigurationError(config.AppKey(app, config.KeySecurityManager),
			fmt.Errorf("unknown security manager %q", class))
		logger.ErrorCtx(ctx, "Falling back to the default security manager",
			logger.Application(app), logger.Err(err))
		return Allow{}, nil
	}

	manager, err := factory(app, opts)
	if err != nil {
		return nil, rpcerrors.NewConfigurationError(config.AppKey(app, config.KeySecurityManager),
			fmt.Errorf("create security manager %q: %w", class, err))
	}
	c.created.WithLabelValues(class).Inc()
	logger.DebugCtx(ctx, "Security manager created", logger.Application(app), logger.KeyClass, class)
	return manager, nil
}

// Authenticate validates s with its manager.
func (c *Cache) Authenticate(ctx context.Context, s *session.Session) error {
	manager, err := c.Get(ctx, s)
	if err != nil {
		return err
	}
	if err := manager.Validate(ctx, s); err != nil {
		c.drop(ctx, s)
		var rerr *rpcerrors.Error
		if errors.As(err, &rerr) {
			return err
		}
		return rpcerrors.Wrap(rpcerrors.ErrSecurity, err, s.Application(), "authentication failed")
	}
	return nil
}

// ChangePassword changes the password through the session's manager.
func (c *Cache) ChangePassword(ctx context.Context, s *session.Session, oldPassword, newPassword string) error {
	manager, err := c.Get(ctx, s)
	if err != nil {
		return err
	}
	pc, ok := manager.(PasswordChanger)
	if !ok {
		return rpcerrors.NewSecurityError(s.Application(), "password change not supported")
	}
	if err := pc.ChangePassword(ctx, s, oldPassword, newPassword); err != nil {
		var rerr *rpcerrors.Error
		if errors.As(err, &rerr) {
			return err
		}
		return rpcerrors.Wrap(rpcerrors.ErrSecurity, err, s.Application(), "password change failed")
	}
	return nil
}

func (c *Cache) modeOf(s *session.Session) CacheMode {
	mode, _ := ParseCacheMode(s.Properties().String(session.PropCacheMode))
	return mode
}

// drop removes s from the users of its manager and releases the manager
// once no session uses it.
func (c *Cache) drop(ctx context.Context, s *session.Session) {
	key := cacheKey{application: s.Application()}
	if c.modeOf(s) == CacheSession {
		key.sessionID = s.ID()
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, used := entry.refs[s.ID()]; !used {
		c.mu.Unlock()
		return
	}
	delete(entry.refs, s.ID())
	if len(entry.refs) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()

	logger.DebugCtx(ctx, "Security manager unused, releasing",
		logger.Application(s.Application()), logger.KeyClass, entry.class)
	c.Release(ctx, entry.manager)
}

// Discard implements session.Discarder.
func (c *Cache) Discard(ctx context.Context, s *session.Session) {
	c.drop(ctx, s)
}

// SessionCreated implements session.Listener.
func (c *Cache) SessionCreated(context.Context, *session.Session) {}

// SessionDestroyed releases the manager of s when no other session uses
// it.
func (c *Cache) SessionDestroyed(ctx context.Context, s *session.Session, _ string) {
	c.drop(ctx, s)
}

// Release logs out manager. Errors and panics are logged and swallowed.
func (c *Cache) Release(ctx context.Context, manager Manager) {
	if manager == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Security manager release panicked", logger.Err(fmt.Errorf("%v", r)))
		}
	}()
	c.released.Inc()
	if err := manager.Release(ctx); err != nil {
		logger.WarnCtx(ctx, "Security manager release failed", logger.Err(err))
	}
}

func (c *Cache) releaseAll(ctx context.Context, managers []Manager) {
	for _, m := range managers {
		c.Release(ctx, m)
	}
}

// evictLocked removes every entry of application. Must hold c.mu.
func (c *Cache) evictLocked(application string) []Manager {
	var out []Manager
	for k, e := range c.entries {
		if k.application == application {
			out = append(out, e.manager)
			delete(c.entries, k)
		}
	}
	return out
}

// RemoveAll evicts and releases every manager cached for application and
// returns how many were removed.
func (c *Cache) RemoveAll(ctx context.Context, application string) int {
	c.mu.Lock()
	stale := c.evictLocked(application)
	delete(c.modes, application)
	c.mu.Unlock()

	c.releaseAll(ctx, stale)
	if len(stale) > 0 {
		logger.InfoCtx(ctx, "Security managers evicted",
			logger.Application(application), logger.KeyCount, len(stale))
	}
	return len(stale)
}

// Len returns the number of cached managers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached manager.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	var all []Manager
	for k, e := range c.entries {
		all = append(all, e.manager)
		delete(c.entries, k)
	}
	clear(c.modes)
	c.mu.Unlock()
	c.releaseAll(ctx, all)
}
