package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memharbor/callcoord/internal/api/middleware"
	"github.com/memharbor/callcoord/internal/call"
	"github.com/memharbor/callcoord/internal/config"
	"github.com/memharbor/callcoord/internal/recording"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	calls    *call.Manager
	recorder *recording.Recorder
	cfg      *config.Config

	limiter       *middleware.IPRateLimiter
	inviteLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(calls *call.Manager, recorder *recording.Recorder, cfg *config.Config) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		calls:         calls,
		recorder:      recorder,
		cfg:           cfg,
		limiter:       middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		inviteLimiter: middleware.NewIPRateLimiter(middleware.InviteRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiters' background cleanup goroutines.
func (s *Server) Close() {
	s.limiter.Stop()
	s.inviteLimiter.Stop()
}

// routes configures the middleware stack and mounts all endpoints.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.RateLimit(s.limiter))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Call lifecycle.
	r.Route("/call", func(r chi.Router) {
		r.With(middleware.RateLimit(s.inviteLimiter)).Post("/invite", s.handleInvite)
		r.Post("/answer", s.handleAnswer)
		r.Post("/cancel", s.handleCancel)
		r.Post("/missed", s.handleMissed)
		r.Post("/end", s.handleEnd)
		r.Post("/timeout/sweep", s.handleSweep)
		r.Get("/status/{callID}", s.handleCallStatus)
	})

	// Recording sessions.
	r.Post("/start", s.handleRecordingStart)
	r.Post("/stop", s.handleRecordingStop)
	r.Get("/sessions", s.handleSessions)
	r.Get("/recordings", s.handleRecordings)
}

// handleHealth reports liveness and the number of active recording sessions.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": len(s.recorder.Sessions()),
	})
}
