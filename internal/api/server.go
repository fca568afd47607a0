package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terra-clan/focus-engine/internal/auth"
	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/config"
	"github.com/terra-clan/focus-engine/internal/health"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/metrics"
	"github.com/terra-clan/focus-engine/internal/stream"
)

// Deps are the collaborators the HTTP layer serves
type Deps struct {
	Awards   *award.Service
	Levels   *levels.Table
	Verifier auth.TokenVerifier
	Health   *health.Registry
	// Hub enables the live profile stream when non-nil
	Hub *stream.Hub
	// Provisioner creates profiles on first request when non-nil
	Provisioner ProfileProvisioner
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	awards         *award.Service
	levels         *levels.Table
	health         *health.Registry
	hub            *stream.Hub
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.NewRegistry()
	}
	if deps.Levels == nil {
		deps.Levels = deps.Awards.Engine().Levels()
	}

	s := &Server{
		config:         cfg,
		awards:         deps.Awards,
		levels:         deps.Levels,
		health:         deps.Health,
		hub:            deps.Hub,
		authMiddleware: NewAuthMiddleware(deps.Verifier, deps.Provisioner),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(recoverer)

	// CORS configuration; also answers OPTIONS preflight
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "apikey", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	// Edge function path used by existing clients
	r.With(middleware.Timeout(timeout), s.authMiddleware.Authenticate).
		Post("/functions/v1/award-xp", s.handleAwardXP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/levels", s.handleLevels)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Use(s.authMiddleware.Authenticate)

			r.Post("/award-xp", s.handleAwardXP)
			r.Get("/profile", s.handleGetProfile)
			r.Get("/profile/awards", s.handleListAwards)
		})

		// Long-lived; no request timeout
		if s.hub != nil {
			r.With(s.authMiddleware.AuthenticateWithQuery).Get("/profile/stream", s.handleProfileStream)
		}
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())

			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// recoverer converts panics into a JSON 500 without leaking details
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic in handler",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
