package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/executor"
	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

// ExecutorServer is the executor's internal HTTP surface. Every route
// requires the shared X-Internal-Api-Key header.
type ExecutorServer struct {
	pipeline *executor.Pipeline
	store    storage.JobStore
	apiKey   string
	logger   *zap.Logger
	validate *validator.Validate
}

// NewExecutor wires the executor surface.
func NewExecutor(pipeline *executor.Pipeline, store storage.JobStore, apiKey string, logger *zap.Logger) *ExecutorServer {
	return &ExecutorServer{
		pipeline: pipeline,
		store:    store,
		apiKey:   apiKey,
		logger:   logger,
		validate: validator.New(),
	}
}

// Router builds the executor route tree under /executor.
func (s *ExecutorServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.requireInternalKey)

	r.Route("/executor", func(r chi.Router) {
		r.Post("/jobs", s.createJob)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
	})
	return r
}

func (s *ExecutorServer) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Internal-Api-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeErrorMessage(w, http.StatusForbidden, "invalid internal api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *ExecutorServer) createJob(w http.ResponseWriter, r *http.Request) {
	var req types.CreateJobRequest
	if !decodeValid(w, r, s.validate, &req) {
		return
	}
	result, err := s.pipeline.Run(r.Context(), &req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *ExecutorServer) listJobs(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := queryInt64(r, "proposal_id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "proposal_id is required")
		return
	}
	jobs, err := s.store.ListJobsByProposal(r.Context(), proposalID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *ExecutorServer) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	steps, err := s.store.ListJobSteps(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	result := types.JobResult{Job: *job}
	for _, st := range steps {
		result.Steps = append(result.Steps, *st)
	}
	writeJSON(w, http.StatusOK, result)
}
