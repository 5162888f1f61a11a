// Package bootstrap assembles a running DittoRPC server from its
// configuration: security managers, the session manager, the audit journal,
// the engine and the HTTP transport.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/internal/audit"
	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/api"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/security/kerberos"
	"github.com/marmos91/dittorpc/pkg/security/userstore"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// Options tunes New.
type Options struct {
	// Source is the live configuration lookup. When nil a static source is
	// built from the Config passed to New and hot reload is disabled.
	Source *config.Source

	// InMemoryAudit keeps the audit journal in memory. Used by tests.
	InMemoryAudit bool
}

// Runtime owns every component of a server.
type Runtime struct {
	cfg    *config.Config
	source *config.Source
	watch  bool

	registry *prometheus.Registry
	users    *userstore.GORMStore
	security *security.Cache
	sessions *session.Manager
	journal  *audit.Journal
	engine   *server.Server
	api      *api.Server
}

// New builds the runtime described by cfg. Nothing listens until Run.
func New(cfg *config.Config, opts Options) (rt *Runtime, err error) {
	rt = &Runtime{cfg: cfg, source: opts.Source, watch: opts.Source != nil}
	defer func() {
		if err != nil {
			rt.release()
		}
	}()

	if rt.source == nil {
		if rt.source, err = config.NewSourceFromConfig(cfg); err != nil {
			return nil, err
		}
	}

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		rt.registry = metrics.InitRegistry()
		reg, gatherer = rt.registry, rt.registry
	}

	security.Register(kerberos.Name, kerberos.New)
	if usesManager(cfg, security.DatabaseName) {
		if rt.users, err = userstore.New(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to open user store: %w", err)
		}
		security.Register(security.DatabaseName, security.DatabaseFactory(rt.users))
		logger.Info("User store opened", "type", cfg.Database.Type)
	}

	rt.security = security.NewCache(rt.source, reg)
	rt.sessions = session.NewManager(rt.source, rt.security, session.Options{
		ReaperInterval:      cfg.Session.ReaperInterval,
		MaxInactiveInterval: cfg.Session.MaxInactiveInterval,
		AliveInterval:       cfg.Session.AliveInterval,
		ResponseWaitTimeout: cfg.Session.ResponseWaitTimeout,
		ExpiredMemory:       cfg.Session.ExpiredMemory,
		Metrics:             session.NewMetrics(reg),
	})

	if cfg.Audit.Enabled {
		rt.journal, err = audit.Open(audit.Options{
			Path:      cfg.Audit.Path,
			InMemory:  opts.InMemoryAudit,
			Retention: cfg.Audit.Retention,
		})
		if err != nil {
			return nil, err
		}
		rt.sessions.AddListener(rt.journal)
		rt.sessions.AddFailedListener(rt.journal)
		logger.Info("Audit journal opened", "path", cfg.Audit.Path, "retention", cfg.Audit.Retention)
	}

	rt.engine, err = server.New(server.Options{
		Sessions: rt.sessions,
		Security: rt.security,
		Serializers: wire.Rules{
			Allow: cfg.Protocol.Serializers.Allow,
			Deny:  cfg.Protocol.Serializers.Deny,
		},
		DefaultSerializer:    cfg.Protocol.DefaultSerializer,
		CompressionThreshold: int(cfg.Protocol.CompressionThreshold),
		MaxFrameSize:         int64(cfg.Server.MaxFrameSize),
		Registerer:           reg,
	})
	if err != nil {
		return nil, err
	}

	rt.api, err = api.NewServer(rt.engine, api.RouterOptions{
		Server:       cfg.Server,
		Gatherer:     gatherer,
		Journal:      rt.journal,
		MaxFrameSize: int64(cfg.Server.MaxFrameSize),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// usesManager reports whether any application selects the security
// manager class name.
func usesManager(cfg *config.Config, name string) bool {
	for _, app := range cfg.Applications {
		if strings.EqualFold(app.Security.Manager, name) {
			return true
		}
	}
	return false
}

// Engine returns the request coordinator.
func (rt *Runtime) Engine() *server.Server { return rt.engine }

// Sessions returns the session manager.
func (rt *Runtime) Sessions() *session.Manager { return rt.sessions }

// Journal returns the audit journal, nil when auditing is disabled.
func (rt *Runtime) Journal() *audit.Journal { return rt.journal }

// API returns the HTTP transport.
func (rt *Runtime) API() *api.Server { return rt.api }

// Run serves until ctx is cancelled, then shuts everything down.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.watch {
		rt.source.Watch(func(applications []string) {
			logger.Info("Configuration changed", "applications", strings.Join(applications, ","))
			rt.engine.ConfigChanged(applications)
		})
	}

	logger.Info("Runtime started",
		"applications", strings.Join(applicationNames(rt.cfg), ","),
		"security_managers", strings.Join(security.Names(), ","),
		"audit", rt.journal != nil,
		"metrics", rt.registry != nil)

	err := rt.api.Start(ctx)
	rt.release()
	return err
}

// Close stops the transport and releases every component. It is for
// runtimes that never reached Run or need an early stop.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.api != nil {
		errs = append(errs, rt.api.Stop(ctx))
	}
	rt.release()
	return errors.Join(errs...)
}

// release closes the stores once the engine is gone. It tolerates a
// partially built runtime.
func (rt *Runtime) release() {
	ctx := context.Background()
	if rt.engine != nil {
		rt.engine.Close(ctx)
	} else if rt.sessions != nil {
		rt.sessions.Close(ctx)
		rt.security.Close(ctx)
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			logger.Warn("Audit journal close failed", logger.Err(err))
		}
		rt.journal = nil
	}
	if rt.users != nil {
		if err := rt.users.Close(); err != nil {
			logger.Warn("User store close failed", logger.Err(err))
		}
		rt.users = nil
	}
}

func applicationNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Applications))
	for name := range cfg.Applications {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
