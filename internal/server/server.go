// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/pendergraft/deploygate/internal/auth"
	"github.com/pendergraft/deploygate/internal/chainclient"
	"github.com/pendergraft/deploygate/internal/compiler"
	"github.com/pendergraft/deploygate/internal/config"
	"github.com/pendergraft/deploygate/internal/deploy/domain"
	"github.com/pendergraft/deploygate/internal/deploy/transport"
	"github.com/pendergraft/deploygate/internal/lock"
	"github.com/pendergraft/deploygate/internal/middleware/logging"
	"github.com/pendergraft/deploygate/internal/middleware/ratelimit"
	"github.com/pendergraft/deploygate/internal/middleware/realip"
	"github.com/pendergraft/deploygate/internal/middleware/security"
	"github.com/pendergraft/deploygate/internal/observability/metrics"
	"github.com/pendergraft/deploygate/internal/scanner"
	"github.com/pendergraft/deploygate/internal/storage"
)

// Deps holds the service's collaborators. Nil fields are constructed
// from config; tests inject fakes.
type Deps struct {
	Scanner  domain.Scanner
	Compiler domain.Compiler
	Deployer domain.Deployer
	Locks    lock.Locker
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	deploySvc domain.Service
	locks     lock.Locker
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, deps Deps, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}

	if err := s.buildCollaborators(&deps); err != nil {
		return nil, err
	}
	s.locks = deps.Locks

	svc := domain.NewService(domain.ServiceConfig{
		Scanner:        deps.Scanner,
		Compiler:       deps.Compiler,
		Deployer:       deps.Deployer,
		Locks:          deps.Locks,
		Audit:          store,
		Thresholds:     thresholdsFromConfig(cfg.Policy),
		Logger:         logger,
		CheckCacheSize: cfg.Check.CacheSize,
		CheckCacheTTL:  time.Duration(cfg.Check.CacheTTLSeconds) * time.Second,
	})
	s.deploySvc = domain.LoggingMiddleware(logger)(svc)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// buildCollaborators fills in any Deps left nil from config.
func (s *Server) buildCollaborators(deps *Deps) error {
	if deps.Scanner == nil {
		sc, err := scanner.New(s.cfg.Scanner.URL)
		if err != nil {
			return fmt.Errorf("creating scanner client: %w", err)
		}
		deps.Scanner = sc
	}
	if deps.Compiler == nil {
		cc, err := compiler.New(s.cfg.Compiler.URL, s.cfg.Compiler.Version)
		if err != nil {
			return fmt.Errorf("creating compiler client: %w", err)
		}
		deps.Compiler = cc
	}
	if deps.Deployer == nil {
		deps.Deployer = chainclient.New(s.cfg.Deployer.URL)
	}
	if deps.Locks == nil {
		ttl := time.Duration(s.cfg.Lock.TTLSeconds) * time.Second
		switch s.cfg.Lock.Type {
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: s.cfg.Lock.RedisAddr})
			deps.Locks = lock.NewRedis(client, ttl)
		default:
			ml := lock.NewMemory(ttl)
			ml.StartSweep(30 * time.Second)
			deps.Locks = ml
		}
	}
	return nil
}

func thresholdsFromConfig(p config.PolicyConfig) domain.Thresholds {
	return domain.Thresholds{
		RiskScore:           p.RiskScoreThreshold,
		CriticalVulns:       p.CriticalVulnThreshold,
		HighVulns:           p.HighVulnThreshold,
		FallbackRiskCeiling: p.FallbackRiskCeiling,
		AdvisoryRiskCeiling: p.AdvisoryRiskCeiling,
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if ml, ok := s.locks.(*lock.MemoryLocker); ok {
		ml.Stop()
	}
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	deployHandler := transport.NewHandler(s.deploySvc)
	auditHandler := transport.NewAuditHandler(s.store)

	// Auth middleware for the bypass route
	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/deploy", func(r chi.Router) {
			// Gated, check-only and status - no auth required
			deployHandler.RegisterRoutes(r)

			// Force-deploy bypasses the gate, so it is the one route
			// worth putting behind a key
			r.Group(func(r chi.Router) {
				requireAuth(r)
				deployHandler.RegisterForceRoutes(r)
			})
		})

		// Audit trail - read only (no auth)
		r.Route("/audit", func(r chi.Router) {
			auditHandler.RegisterRoutes(r)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
