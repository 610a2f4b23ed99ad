package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookshopbot/internal/servicetoken"
	"bookshopbot/internal/util"
	"bookshopbot/pkg/queue"
	"bookshopbot/services/bot/internal/app"
)

// Launcher starts background tasks.
type Launcher interface {
	Launch(ctx context.Context, kind app.TaskKind, who app.Initiator) (queue.Job, error)
}

// JobReader looks up job status.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
}

// TokenVerifier validates ops bearer tokens.
type TokenVerifier interface {
	Verify(token string) (servicetoken.Claims, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Launcher       Launcher
	Jobs           JobReader
	Verifier       TokenVerifier
	RequestTimeout time.Duration
}

// Server exposes health and job endpoints for operators and cron.
type Server struct {
	launcher Launcher
	jobs     JobReader
	verifier TokenVerifier
	timeout  time.Duration
	router   chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Launcher == nil || cfg.Jobs == nil || cfg.Verifier == nil {
		return nil, errors.New("server: launcher, jobs and verifier are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	s := &Server{
		launcher: cfg.Launcher,
		jobs:     cfg.Jobs,
		verifier: cfg.Verifier,
		timeout:  cfg.RequestTimeout,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(util.WithRequestID)
	r.Use(util.WithRequestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)
	r.With(s.requireScope(servicetoken.ScopeJobsWrite)).Post("/internal/jobs", s.handleLaunch)
	r.With(s.requireScope(servicetoken.ScopeJobsRead)).Get("/internal/jobs/{id}", s.handleJob)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type claimsContextKey struct{}

func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := servicetoken.BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := s.verifier.Verify(token)
			if err != nil {
				util.LoggerFromContext(r.Context()).Warn("ops token rejected", "err", err)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !claims.Allows(scope) {
				writeError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type launchRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, ok := app.ParseTaskKind(strings.TrimSpace(req.Kind))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown job kind")
		return
	}
	claims, _ := r.Context().Value(claimsContextKey{}).(servicetoken.Claims)
	who := app.Initiator{Name: claims.Subject}
	job, err := s.launcher.Launch(r.Context(), kind, who)
	switch {
	case errors.Is(err, app.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, "job of this kind launched too recently")
		return
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("launch job failed", "kind", kind, "err", err)
		writeError(w, http.StatusInternalServerError, "launch failed")
		return
	}
	util.LoggerFromContext(r.Context()).Info("job launched", "kind", kind, "job_id", job.ID, "by", who.Name)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	job, ok, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("get job failed", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
