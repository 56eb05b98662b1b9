// Package api exposes the job control and prediction surface over HTTP. The
// engine attributes mutations to the caller identity passed in X-Actor-*
// headers; authenticating that identity is the proxy's job.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/internal/pipeline"
	"github.com/winmix/engine/internal/scheduler"
	"github.com/winmix/engine/models"
)

const defaultLogLimit = 50

// Store is the read surface the API serves directly.
type Store interface {
	ListJobs(ctx context.Context) ([]models.ScheduledJob, error)
	JobLogs(ctx context.Context, jobID string, limit int) ([]models.JobExecutionLog, error)
	GetPredictionByMatch(ctx context.Context, matchID string) (*models.Prediction, error)
}

// JobControl is the scheduler surface the API drives.
type JobControl interface {
	Trigger(ctx context.Context, jobID string, force bool, actor models.Actor) (*models.JobExecutionLog, error)
	SetEnabled(ctx context.Context, jobID string, enabled bool, actor models.Actor) (*models.ScheduledJob, error)
}

// Analyzer is the prediction pipeline surface the API drives.
type Analyzer interface {
	Run(ctx context.Context, matchID string, actor models.Actor) (*models.Prediction, bool, error)
	Reconcile(ctx context.Context, matchID string, actual models.Outcome, actor models.Actor) (*models.Prediction, error)
}

// Server holds the HTTP handlers.
type Server struct {
	store    Store
	jobs     JobControl
	analyzer Analyzer
	log      zerolog.Logger
}

// NewServer wires the handlers to their dependencies.
func NewServer(store Store, jobs JobControl, analyzer Analyzer) *Server {
	return &Server{
		store:    store,
		jobs:     jobs,
		analyzer: analyzer,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/{jobID}/trigger", s.handleTriggerJob)
		r.Post("/{jobID}/toggle", s.handleToggleJob)
		r.Get("/{jobID}/logs", s.handleJobLogs)
	})

	r.Route("/matches", func(r chi.Router) {
		r.Post("/{matchID}/analyze", s.handleAnalyze)
		r.Post("/{matchID}/reconcile", s.handleReconcile)
	})

	r.Get("/predictions/{matchID}", s.handleGetPrediction)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// actorFrom reads the caller identity headers. Absent headers attribute the
// mutation to an anonymous API caller.
func actorFrom(r *http.Request) models.Actor {
	actor := models.Actor{
		ID:    r.Header.Get("X-Actor-ID"),
		Email: r.Header.Get("X-Actor-Email"),
		Role:  r.Header.Get("X-Actor-Role"),
	}
	if actor.ID == "" {
		actor.ID = "api"
	}
	return actor
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	logRow, err := s.jobs.Trigger(r.Context(), jobID, force, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logRow)
}

func (s *Server) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	job, err := s.jobs.SetEnabled(r.Context(), jobID, body.Enabled, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	logs, err := s.store.JobLogs(r.Context(), jobID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.JobExecutionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	prediction, created, err := s.analyzer.Run(r.Context(), matchID, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, prediction)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	var body struct {
		ActualOutcome models.Outcome `json:"actual_outcome"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
			return
		}
	}

	prediction, err := s.analyzer.Reconcile(r.Context(), matchID, body.ActualOutcome, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	prediction, err := s.store.GetPredictionByMatch(r.Context(), matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if prediction == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no prediction for match "+matchID))
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalidOutcome *models.InvalidOutcomeError
	var disabled *models.JobDisabledError
	var alreadyRunning *models.JobAlreadyRunningError

	switch {
	case errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, pipeline.ErrMatchNotFound),
		errors.Is(err, pipeline.ErrPredictionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.As(err, &invalidOutcome):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, pipeline.ErrMatchNotFinished),
		errors.As(err, &disabled),
		errors.As(err, &alreadyRunning):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
