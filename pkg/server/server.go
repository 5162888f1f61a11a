package server

import (
	"context"
	"errors"
	"io"
	"maps"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// DefaultCallbackLimit bounds concurrently running callback calls.
const DefaultCallbackLimit = 64

// Options configures a Server.
type Options struct {
	// Sessions is required.
	Sessions *session.Manager

	// Security, when set, is registered as a session listener and closed
	// with the server.
	Security *security.Cache

	// Access defaults to config.Lookup driven deny lists.
	Access security.AccessController

	// Injectors are added to the injected objects of every life-cycle
	// object, next to session, config and callbacks.
	Injectors map[string]objects.Injector

	Serializers       wire.Rules
	DefaultSerializer string

	// CompressionThreshold is the payload size above which responses are
	// gzipped for clients that accept it.
	CompressionThreshold int

	CallbackLimit int

	// MaxFrameSize bounds the inflated size of a compressed request
	// payload. Zero uses config.DefaultMaxFrameSize.
	MaxFrameSize int64

	Registerer prometheus.Registerer
}

// Request is one inbound request frame.
type Request struct {
	Body       io.Reader
	RemoteAddr string
	UserAgent  string
}

// ResponseWriter receives the response frame. SetProperty exposes
// transport level metadata and must be called before Write.
type ResponseWriter interface {
	io.Writer
	SetProperty(key, value string)
}

// Response properties set by Serve.
const (
	PropertySession = "session"
)

// Server is the request coordinator. It is safe for concurrent use; each
// request is served on the caller's goroutine.
type Server struct {
	sessions   *session.Manager
	security   *security.Cache
	provider   *objects.Provider
	dispatcher *CallDispatcher
	callbacks  *callbackRunner
	metrics    *Metrics

	rules             wire.Rules
	defaultSerializer string
	threshold         int
	maxFrameSize      int64

	closeOnce sync.Once
}

// New creates a Server and registers its object provider with the session
// manager.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, rpcerrors.NewConfigurationError("sessions", errors.New("session manager is required"))
	}
	lookup := opts.Sessions.Lookup()
	if opts.Access == nil {
		opts.Access = security.ConfigAccess{Lookup: lookup}
	}
	if opts.DefaultSerializer == "" {
		opts.DefaultSerializer = config.DefaultSerializer
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = int(config.DefaultCompression)
	}
	if opts.CallbackLimit <= 0 {
		opts.CallbackLimit = DefaultCallbackLimit
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = int64(config.DefaultMaxFrameSize)
	}
	if _, err := opts.Serializers.Resolve(opts.DefaultSerializer); err != nil {
		return nil, rpcerrors.NewConfigurationError("protocol.default_serializer", err)
	}

	m := NewMetrics(opts.Registerer)
	injectors := map[string]objects.Injector{InjectCallbacks: emitterInjector(m)}
	maps.Copy(injectors, opts.Injectors)

	provider := objects.NewProvider(objects.Options{
		Lookup:     lookup,
		Access:     opts.Access,
		Sessions:   opts.Sessions,
		Injectors:  injectors,
		Registerer: opts.Registerer,
	})
	dispatcher := NewCallDispatcher(provider, m)

	srv := &Server{
		sessions:          opts.Sessions,
		security:          opts.Security,
		provider:          provider,
		dispatcher:        dispatcher,
		callbacks:         newCallbackRunner(dispatcher, m, opts.CallbackLimit),
		metrics:           m,
		rules:             opts.Serializers,
		defaultSerializer: opts.DefaultSerializer,
		threshold:         opts.CompressionThreshold,
		maxFrameSize:      opts.MaxFrameSize,
	}

	opts.Sessions.AddListener(provider)
	if opts.Security != nil {
		opts.Sessions.AddListener(opts.Security)
	}
	return srv, nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Provider returns the object provider.
func (s *Server) Provider() *objects.Provider { return s.provider }

// Dispatcher returns the call dispatcher.
func (s *Server) Dispatcher() *CallDispatcher { return s.dispatcher }

// SessionInfos describes every registered session.
func (s *Server) SessionInfos() []session.Info {
	all := s.sessions.Registry().Snapshot()
	out := make([]session.Info, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.Info())
	}
	return out
}

// SessionInfo describes the session registered under id.
func (s *Server) SessionInfo(id string) (session.Info, bool) {
	sess, ok := s.sessions.Registry().Peek(id)
	if !ok {
		return session.Info{}, false
	}
	return sess.Info(), true
}

// DestroySession destroys the session registered under id on behalf of an
// administrator.
func (s *Server) DestroySession(ctx context.Context, id string) error {
	return s.sessions.Destroy(ctx, id, session.ReasonAdmin)
}

// EvictApplication drops the cached security managers and the shared
// application object of application so they are rebuilt from the current
// configuration. It returns the number of evicted security managers.
func (s *Server) EvictApplication(ctx context.Context, application string) int {
	n := 0
	if s.security != nil {
		n = s.security.RemoveAll(ctx, application)
	}
	s.provider.RemoveApplication(ctx, application)
	logger.InfoCtx(ctx, "Application evicted", logger.Application(application), logger.KeyCount, n)
	return n
}

// ConfigChanged is the hot reload hook for config.Source.Watch.
func (s *Server) ConfigChanged(applications []string) {
	ctx := context.Background()
	for _, app := range applications {
		s.EvictApplication(ctx, app)
	}
}

// RegisterPush attaches r to the callback queue of the master of the
// session registered under id. Queued results are flushed to r at once.
func (s *Server) RegisterPush(ctx context.Context, id string, r session.PushReceiver) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sess.Callbacks().SetReceiver(ctx, r); err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "Push receiver registered", logger.SessionID(sess.Master().ID()))
	return sess, nil
}

// UnregisterPush detaches r from the callback queue of sess.
func (s *Server) UnregisterPush(sess *session.Session, r session.PushReceiver) {
	sess.Callbacks().RemoveReceiver(r)
}

// EncodePush encodes callback results for a push receiver using the
// session's serializer.
func (s *Server) EncodePush(sess *session.Session, results []wire.Result) ([]byte, error) {
	ser := sess.Serializer()
	if ser == nil {
		return nil, rpcerrors.NewProtocolError("session %s has no serializer", sess.ID())
	}
	return wire.EncodeResponse(ser, results, wire.ResponseOptions{})
}

// Close waits for running callbacks, destroys every session, tears down the
// remaining objects and releases cached security managers.
func (s *Server) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.callbacks.close()
		s.sessions.Close(ctx)
		s.provider.Close(ctx)
		if s.security != nil {
			s.security.Close(ctx)
		}
		logger.InfoCtx(ctx, "Server closed")
	})
}
