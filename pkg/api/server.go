package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/internal/api/auth"
	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/server"
)

// Server is the HTTP transport of the engine.
//
// It serves request frames on /services/rpc, the push channel on
// /services/push, health probes, metrics and the admin API. Stopping the
// server shuts down HTTP first and then closes the engine, destroying every
// remaining session.
type Server struct {
	server       *http.Server
	engine       *server.Server
	opts         RouterOptions
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new transport server in a stopped state. Call Start
// to begin serving requests.
//
// When the admin API is enabled and opts.JWT is nil, the JWT service is
// built from the configured secret, which must be at least 32 characters.
func NewServer(engine *server.Server, opts RouterOptions) (*Server, error) {
	cfg := opts.Server
	if cfg.Admin.Enabled && opts.JWT == nil {
		jwtService, err := auth.NewJWTService(auth.JWTConfig{
			Secret:        cfg.Admin.JWTSecret,
			TokenDuration: cfg.Admin.TokenTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
		opts.JWT = jwtService
	}
	if !cfg.Admin.Enabled {
		opts.JWT = nil
	}

	router := NewRouter(engine, opts)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		server: httpServer,
		engine: engine,
		opts:   opts,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server and blocks until the context is cancelled
// or an error occurs. When the context is cancelled, Start initiates
// graceful shutdown and returns.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("RPC server failed: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", "port", s.Port())
		logger.Debug("RPC endpoints available",
			"rpc", fmt.Sprintf("http://localhost:%d/services/rpc", s.Port()),
			"health", fmt.Sprintf("http://localhost:%d/health", s.Port()),
			"admin", s.opts.JWT != nil,
			"push", s.opts.Server.Push.Enabled,
		)

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("RPC server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		timeout := s.opts.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("RPC server failed: %w", err)
	}
}

// Stop gracefully shuts down HTTP and closes the engine. It is safe to
// call multiple times and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("RPC server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("RPC server shutdown error: %w", err)
			logger.Error("RPC server shutdown error", logger.Err(err))
		} else {
			logger.Info("RPC server stopped gracefully")
		}
		s.engine.Close(ctx)
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on. Before Start it
// returns the configured port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.opts.Server.Port
}
