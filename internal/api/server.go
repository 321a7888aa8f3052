package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
)

// Server is the Admin REST API: the control plane for registering
// users, issuing and revoking tokens, and managing tunnels and API
// keys. The data plane (the actual proxying) lives in internal/proxy.
type Server struct {
	addr        string
	domain      string
	jwtSecret   string
	corsOrigin  string
	manager     *tunnel.Manager
	gateway     *supabase.Client
	auth        *AuthMiddleware
	rateLimiter *RateLimiter
	broadcaster *Broadcaster
	router      *mux.Router
	server      *http.Server
	logger      zerolog.Logger
}

// Config holds everything the Admin API needs to construct a Server.
type Config struct {
	Addr       string
	Domain     string
	JWTSecret  string
	CORSOrigin string
	Manager    *tunnel.Manager
	Gateway    *supabase.Client
	Logger     zerolog.Logger
}

// NewServer wires the Admin API router against an already-running
// tunnel.Manager and supabase.Client; it does not own their lifecycle.
func NewServer(cfg Config) *Server {
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	s := &Server{
		addr:        cfg.Addr,
		domain:      cfg.Domain,
		jwtSecret:   cfg.JWTSecret,
		corsOrigin:  corsOrigin,
		manager:     cfg.Manager,
		gateway:     cfg.Gateway,
		auth:        NewAuthMiddleware(cfg.JWTSecret, cfg.Gateway, cfg.Logger),
		rateLimiter: NewRateLimiter(10, 20),
		broadcaster: NewBroadcaster(cfg.Logger),
		router:      mux.NewRouter(),
		logger:      cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimiter.Middleware)

	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(s.auth.Middleware)

	protected.HandleFunc("/auth/revoke", s.handleRevoke).Methods("POST", "OPTIONS")

	protected.HandleFunc("/tunnels", s.handleListTunnels).Methods("GET", "OPTIONS")
	protected.HandleFunc("/tunnels", s.handleCreateTunnel).Methods("POST", "OPTIONS")
	protected.HandleFunc("/tunnels/{subdomain}", s.handleDeleteTunnel).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/tunnels/{id}/requests", s.handleTunnelRequests).Methods("GET", "OPTIONS")
	protected.HandleFunc("/tunnels/{id}/analytics", s.handleTunnelAnalytics).Methods("GET", "OPTIONS")

	protected.HandleFunc("/keys", s.handleListAPIKeys).Methods("GET", "OPTIONS")
	protected.HandleFunc("/keys", s.handleCreateAPIKey).Methods("POST", "OPTIONS")
	protected.HandleFunc("/keys/{id}", s.handleDeleteAPIKey).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/analytics/summary", s.handleAnalyticsSummary).Methods("GET", "OPTIONS")

	protected.HandleFunc("/live", s.broadcaster.HandleWebSocket)
}

// Start runs the Admin API listener until it errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("starting admin api")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains the Admin API listener. It does not touch
// the tunnel.Manager or supabase.Client the Server was constructed
// with; those are owned and shut down by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down admin api")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down admin api: %w", err)
	}
	s.broadcaster.Stop()
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("admin api request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
