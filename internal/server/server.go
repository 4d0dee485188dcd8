// Package server exposes the governance engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xrpool/governor/internal/engine"
)

// Server is the governor HTTP API server.
type Server struct {
	eng     *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server around an engine.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		eng:     eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/pools", s.handleCreatePool)
		r.Get("/pools/{poolID}", s.handleInspectPool)
		r.Get("/pools/{poolID}/audit/verify", s.handleVerifyAudit)

		r.Post("/pools/{poolID}/artifacts", s.handleDeposit)
		r.Post("/pools/{poolID}/retrieve", s.handleRetrieve)
		r.Post("/pools/{poolID}/artifacts/{xrID}/validate", s.handleValidate)
		r.Post("/pools/{poolID}/artifacts/{xrID}/feedback", s.handleFeedback)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.eng.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.eng.DB.Path,
	})
}

// agentID resolves the caller's identity. With auth tokens configured, the
// Bearer token is the identity source; otherwise the X-Agent-ID header is
// trusted as-is (development mode).
func (s *Server) agentID(r *http.Request) string {
	cfg := s.eng.Config()
	if len(cfg.Auth.Tokens) > 0 {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			return "" // no bearer token presented
		}
		return cfg.Auth.Tokens[token]
	}
	return r.Header.Get("X-Agent-ID")
}

// writeErr maps engine errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrSchemaInvalid),
		errors.Is(err, engine.ErrInvalidQuery),
		errors.Is(err, engine.ErrSelfReferentialParent):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, engine.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, engine.ErrPoolNotFound),
		errors.Is(err, engine.ErrUnknownArtifact):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateValidator),
		errors.Is(err, engine.ErrSelfValidation),
		errors.Is(err, engine.ErrQuarantineBlocked):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrIntegrityViolation):
		status = http.StatusLocked
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
