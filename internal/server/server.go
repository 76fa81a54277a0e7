package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/handler"
	"github.com/gateward/gateward/internal/quota"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/server/middleware"
	"github.com/gateward/gateward/internal/service"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	SessionTTL        time.Duration
	RequestsPerMinute int // per-IP rate limit, 0 disables
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		SessionTTL:        12 * time.Hour,
		RequestsPerMinute: 300,
	}
}

// Server is the top-level HTTP server for Gateward. It owns the Chi router
// and wires the registry, quota tracker, and audit ledger behind the API.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	registry   *registry.Registry
	tracker    *quota.Tracker
	auditLog   *audit.Log
	authSvc    *service.AuthService
	metrics    *telemetry.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, reg *registry.Registry, tracker *quota.Tracker, auditLog *audit.Log, authSvc *service.AuthService, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: reg,
		tracker:  tracker,
		auditLog: auditLog,
		authSvc:  authSvc,
		metrics:  metrics,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.RequestsPerMinute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Service-Token", "X-Acting-Admin"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.metrics.Handler())

	accessHandler := handler.NewAccessHandler(s.registry, s.logger)
	quotaHandler := handler.NewQuotaHandler(s.tracker, s.registry, s.logger)
	auditHandler := handler.NewAuditHandler(s.auditLog, s.logger)
	sessionHandler := handler.NewSessionHandler(s.authSvc, s.cfg.SessionTTL, s.logger)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Login exchanges the shared service token for a session JWT.
		r.Post("/session", sessionHandler.Login)

		// Everything else requires either the service token or a session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))

			r.Route("/access", func(r chi.Router) {
				r.Get("/{identity}", accessHandler.Classify)
				r.Get("/roles/{role}", accessHandler.List)

				r.Post("/requests", accessHandler.Request)
				r.Put("/requests/{identity}/notify-ref", accessHandler.SetNotifyRef)
				r.Post("/requests/{identity}/approve", accessHandler.Approve)
				r.Post("/requests/{identity}/reject", accessHandler.Reject)

				r.Post("/admins/{identity}", accessHandler.Promote)
				r.Delete("/admins/{identity}", accessHandler.Demote)

				r.Put("/restrictions/{identity}", accessHandler.Restrict)
				r.Delete("/restrictions/{identity}", accessHandler.Unrestrict)

				r.Get("/whitelist/expiring", accessHandler.ExpiringSoon)
				r.Put("/whitelist/{identity}/expiration", accessHandler.SetExpiration)
			})

			// Dashboard control-plane messages.
			r.Post("/control/ban_user", accessHandler.BanUser)

			r.Route("/quota", func(r chi.Router) {
				r.Get("/{identity}", quotaHandler.Check)
				r.Post("/{identity}/increment", quotaHandler.Increment)
				r.Put("/{identity}/limit", quotaHandler.SetLimit)
			})

			r.Get("/audit", auditHandler.Query)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is reachable,
// or 503 when it is not.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
