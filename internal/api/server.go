package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/browser"
	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
	"github.com/JakeFAU/scrape-queue/internal/scheduler"
)

// Lookups is the scheduler surface the handlers drive.
type Lookups interface {
	Resolve(ctx context.Context, key string) (lookup.Job, error)
	QueuePosition(jobID string) (int, bool)
	Stats() lookup.Stats
}

// ReadinessChecker reports whether the upstream can take work.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP surface. Only Lookups and Jobs
// are required.
type Deps struct {
	Lookups   Lookups
	Jobs      lookup.JobStore
	JobCount  interface{ Count() int }
	CacheSize interface{ Len() int }
	Browser   interface{ Stats() browser.Stats }
	Readiness ReadinessChecker
}

// Server wires HTTP handlers to the scheduler and job store.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const defaultRequestTimeout = 20 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/lookups", s.triggerFromBody)
		r.Get("/lookups/{key}", s.triggerFromPath)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type lookupRequest struct {
	Key string `json:"key"`
}

// jobResponse is the wire shape of a job on trigger and poll.
type jobResponse struct {
	JobID         string           `json:"job_id"`
	Key           string           `json:"key"`
	Status        lookup.State     `json:"status"`
	PollURL       string           `json:"poll_url"`
	QueuePosition int              `json:"queue_position,omitempty"`
	FromCache     bool             `json:"from_cache"`
	Result        *lookup.Result   `json:"result,omitempty"`
	Error         *lookup.JobError `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

func (s *Server) newJobResponse(job lookup.Job) jobResponse {
	resp := jobResponse{
		JobID:      job.ID,
		Key:        job.Key,
		Status:     job.State,
		PollURL:    "/v1/jobs/" + job.ID,
		FromCache:  job.FromCache,
		Result:     job.Result,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.State == lookup.StateQueued {
		if pos, ok := s.deps.Lookups.QueuePosition(job.ID); ok {
			resp.QueuePosition = pos
		}
	}
	return resp
}

func (s *Server) triggerFromBody(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", lookup.KindValidation)
		return
	}
	s.trigger(w, r, req.Key)
}

func (s *Server) triggerFromPath(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, chi.URLParam(r, "key"))
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, raw string) {
	key, err := lookup.NormalizeKey(raw, s.cfg.Request.KeyLength)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), lookup.KindValidation)
		return
	}
	job, err := s.deps.Lookups.Resolve(r.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("trigger lookup failed", zap.String("key", key), zap.Error(err))
		writeError(w, status, err.Error(), "")
		return
	}
	status := http.StatusAccepted
	if job.State.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, s.newJobResponse(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if errors.Is(err, lookup.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "job_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job", "")
		return
	}
	writeJSON(w, http.StatusOK, s.newJobResponse(job))
}

type healthResponse struct {
	Status       string         `json:"status"`
	Active       int            `json:"active"`
	Queued       int            `json:"queued"`
	Ceiling      int            `json:"ceiling"`
	Jobs         int            `json:"jobs"`
	CacheEntries int            `json:"cache_entries"`
	Browser      *browser.Stats `json:"browser,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	stats := s.deps.Lookups.Stats()
	resp := healthResponse{
		Status:  "ok",
		Active:  stats.Active,
		Queued:  stats.Queued,
		Ceiling: stats.Ceiling,
	}
	if s.deps.JobCount != nil {
		resp.Jobs = s.deps.JobCount.Count()
	}
	if s.deps.CacheSize != nil {
		resp.CacheEntries = s.deps.CacheSize.Len()
	}
	if s.deps.Browser != nil {
		bs := s.deps.Browser.Stats()
		resp.Browser = &bs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Readiness != nil {
		if err := s.deps.Readiness.Check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
				"kind":   string(lookup.KindOf(err)),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, kind lookup.ErrorKind) {
	body := map[string]string{"error": msg}
	if kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}
