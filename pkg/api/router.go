package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittorpc/internal/api/auth"
	"github.com/marmos91/dittorpc/internal/api/handlers"
	apiMiddleware "github.com/marmos91/dittorpc/internal/api/middleware"
	"github.com/marmos91/dittorpc/internal/audit"
	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/server"
)

// AdminTimeout bounds admin API requests. The RPC and push routes are not
// bounded here; the engine has its own response wait timeout and push
// channels are long lived.
const AdminTimeout = 30 * time.Second

// RouterOptions selects the optional routes.
type RouterOptions struct {
	Server config.ServerConfig

	// Gatherer serves /metrics when non-nil.
	Gatherer prometheus.Gatherer

	// Journal serves /api/v1/audit when non-nil.
	Journal *audit.Journal

	// JWT enables the admin API when non-nil.
	JWT *auth.JWTService

	// MaxFrameSize bounds request frames. Zero uses the handler default.
	MaxFrameSize int64
}

// NewRouter creates the chi router of the transport.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus metrics (when enabled)
//   - POST /services/rpc - Request frames (rate limited when enabled)
//   - GET /services/push?session=<id> - Websocket push channel (when enabled)
//   - GET /api/v1/sessions - Session list (admin + viewer)
//   - GET /api/v1/sessions/{id} - Session details (admin + viewer)
//   - DELETE /api/v1/sessions/{id} - Destroy a session (admin only)
//   - POST /api/v1/applications/{name}/evict - Evict cached state (admin only)
//   - GET /api/v1/audit - Audit journal (admin + viewer, when enabled)
func NewRouter(srv *server.Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	checks := map[string]handlers.Healthchecker{}
	if opts.Journal != nil {
		checks["audit"] = opts.Journal
	}
	healthHandler := handlers.NewHealthHandler(srv, checks)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/services", func(r chi.Router) {
		rpcHandler := handlers.NewRPCHandler(srv, opts.MaxFrameSize)
		rl := opts.Server.RateLimit
		if rl.Enabled && rl.RequestsPerSecond > 0 {
			limiter := apiMiddleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
			r.With(limiter.Handler).Post("/rpc", rpcHandler.Serve)
		} else {
			r.Post("/rpc", rpcHandler.Serve)
		}

		if opts.Server.Push.Enabled {
			pushHandler := handlers.NewPushHandler(srv, opts.Server.Push.PingInterval)
			r.Get("/push", pushHandler.Serve)
		}
	})

	if opts.JWT == nil {
		return r
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(AdminTimeout))
		r.Use(apiMiddleware.JWTAuth(opts.JWT))

		sessionHandler := handlers.NewSessionHandler(srv)
		r.Route("/sessions", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequireRole(auth.RoleAdmin, auth.RoleViewer))
				r.Get("/", sessionHandler.List)
				r.Get("/{id}", sessionHandler.Get)
			})
			r.With(apiMiddleware.RequireAdmin()).Delete("/{id}", sessionHandler.Destroy)
		})

		applicationHandler := handlers.NewApplicationHandler(srv)
		r.With(apiMiddleware.RequireAdmin()).Post("/applications/{name}/evict", applicationHandler.Evict)

		if opts.Journal != nil {
			auditHandler := handlers.NewAuditHandler(opts.Journal)
			r.With(apiMiddleware.RequireRole(auth.RoleAdmin, auth.RoleViewer)).Get("/audit", auditHandler.List)
		}
	})

	return r
}

// isQuietPath reports paths logged at DEBUG: health probes and the
// high-volume RPC endpoint.
func isQuietPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || strings.HasPrefix(path, "/services/")
}

// requestLogger is a custom middleware that logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("HTTP request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isQuietPath(r.URL.Path) {
			logger.Debug("HTTP request completed", logArgs...)
		} else {
			logger.Info("HTTP request completed", logArgs...)
		}
	})
}
