// Package server implements the HTTP server and routing for mathom.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/banux/mathom/internal/ingest"
)

// Options holds optional configuration for the Server.
type Options struct {
	// Password is the shared password for HTTP Basic authentication.
	// If empty, authentication is disabled (useful for development).
	Password string

	// AllowedOrigins lists the origins permitted by CORS. Empty means "*".
	AllowedOrigins []string

	// Logger receives request and error logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP server for the media library.
type Server struct {
	router  *mux.Router
	handler http.Handler
	svc     *ingest.Service
	log     *slog.Logger
	opts    Options
}

// New creates and configures a new Server backed by svc.
// If opts.Password is non-empty, Basic auth is required on every endpoint
// except /health.
func New(svc *ingest.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: mux.NewRouter(),
		svc:    svc,
		log:    logger,
		opts:   opts,
	}
	s.registerRoutes()

	// Outermost first: CORS must answer preflights before auth runs.
	var h http.Handler = s.router
	h = recoveryMiddleware(logger)(h)
	h = loggingMiddleware(logger)(h)
	h = corsMiddleware(opts.AllowedOrigins)(h)
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// registerRoutes sets up all endpoint routes.
func (s *Server) registerRoutes() {
	r := s.router

	// Always-public endpoints (no auth required)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(authMiddleware(s.opts.Password))

	protected.HandleFunc("/opds", s.handleOPDS).Methods(http.MethodGet)
	protected.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	protected.HandleFunc("/files", s.handleAdd).Methods(http.MethodPost)

	// Registered before /files/{id} so "collection" is never taken for an id.
	protected.HandleFunc("/files/collection/{collectionId}", s.handleRemoveCollection).Methods(http.MethodDelete)

	protected.HandleFunc("/files/{id}", s.handleGet).Methods(http.MethodGet)
	protected.HandleFunc("/files/{id}", s.handleRemove).Methods(http.MethodDelete)
	protected.HandleFunc("/files/{id}/cover", s.handleCover).Methods(http.MethodGet)
	protected.HandleFunc("/files/{id}/stream", s.handleStream).Methods(http.MethodGet, http.MethodHead)

	protected.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
