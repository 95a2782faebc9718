package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mvasquez/taskgraph/internal/admission"
	"github.com/mvasquez/taskgraph/internal/config"
	"github.com/mvasquez/taskgraph/internal/store"
)

// Server is the task scheduler's REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.Config
	startTime time.Time
	store     store.Store
	admitter  *admission.Admitter // optional; nil rejects submissions in tests that only exercise reads
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithAdmitter wires the Admission component so POST /tasks can accept
// submissions. Without it, the server serves reads only.
func WithAdmitter(a *admission.Admitter) Option {
	return func(s *Server) {
		s.admitter = a
	}
}

// New creates a Server with all routes registered.
func New(cfg config.Config, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
	})
}
