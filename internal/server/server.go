// Package server exposes the gateway operations over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fgeck/gossh-gateway/internal/models"
	"github.com/fgeck/gossh-gateway/internal/services/gateway"
	"github.com/fgeck/gossh-gateway/internal/services/pool"
	"github.com/fgeck/gossh-gateway/internal/services/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server wires the gateway service into an HTTP router.
type Server struct {
	gateway gateway.Service
	cfg     models.ServerConfig
	logger  zerolog.Logger
}

// New creates an HTTP server for the gateway.
func New(gw gateway.Service, cfg models.ServerConfig, logger zerolog.Logger) *Server {
	return &Server{gateway: gw, cfg: cfg, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health is intentionally unauthenticated.
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/hosts", s.handleListHosts)
		r.Post("/execute", s.handleExecute)
		r.Post("/working-directory", s.handleWorkingDirectory)
		r.Post("/close-session", s.handleCloseSession)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// auth validates the bearer token when an API key is configured.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if token != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListHosts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"hosts": s.gateway.ListHosts()})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host    string `json:"host"`
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Host == "" || body.Command == "" {
		writeError(w, http.StatusBadRequest, "host and command are required")
		return
	}

	result, err := s.gateway.ExecuteCommand(body.Host, body.Command)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWorkingDirectory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	result, err := s.gateway.GetWorkingDirectory(body.Host)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	writeJSON(w, http.StatusOK, s.gateway.CloseSession(body.Host))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Stats())
}

// writeGatewayError maps core errors onto HTTP status codes.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	var notFound *pool.HostNotFoundError
	var connErr *session.ConnectionError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, session.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
