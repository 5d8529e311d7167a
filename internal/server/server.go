// Package server exposes the governance and executor HTTP surfaces.
// Both are chi routers; the governance surface serves operators, the
// executor surface serves only the governance service itself.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/collector"
	"github.com/grantline/grantline/internal/proposal"
	"github.com/grantline/grantline/internal/registry"
	"github.com/grantline/grantline/internal/storage"
)

// Server is the governance HTTP surface.
type Server struct {
	store     storage.Storage
	registry  *registry.Service
	engine    *proposal.Engine
	collector *collector.Collector
	logger    *zap.Logger
	validate  *validator.Validate
}

// New wires the governance surface.
func New(store storage.Storage, reg *registry.Service, engine *proposal.Engine, coll *collector.Collector, logger *zap.Logger) *Server {
	return &Server{
		store:     store,
		registry:  reg,
		engine:    engine,
		collector: coll,
		logger:    logger,
		validate:  validator.New(),
	}
}

// Router builds the governance route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/clusters", func(r chi.Router) {
		r.Post("/validate", s.validateCluster)
		r.Post("/", s.createCluster)
		r.Get("/", s.listClusters)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getCluster)
			r.Patch("/", s.updateCluster)
			r.Delete("/", s.deleteCluster)
			r.Post("/test", s.testCluster)
			r.Get("/diagnostics", s.clusterDiagnostics)
			r.Get("/history", s.listEntityHistory)
		})
	})

	r.Route("/snapshots", func(r chi.Router) {
		r.Post("/collect", s.collectSnapshot)
		r.Get("/", s.listSnapshots)
		// diff must register before the id match.
		r.Get("/diff", s.diffSnapshots)
		r.Get("/{id}", s.getSnapshot)
	})

	r.Route("/explorer", func(r chi.Router) {
		r.Get("/users", s.explorerUsers)
		r.Get("/users/{name}", s.explorerUser)
		r.Get("/roles", s.explorerRoles)
		r.Get("/roles/{name}", s.explorerRole)
		r.Get("/objects/{db}", s.explorerObject)
		r.Get("/objects/{db}/{table}", s.explorerObject)
		r.Get("/databases", s.explorerDatabases)
		r.Get("/databases/{db}/tables", s.explorerTables)
	})

	r.Route("/proposals", func(r chi.Router) {
		r.Post("/", s.createProposal)
		r.Post("/legacy", s.createLegacyProposal)
		r.Get("/", s.listProposals)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getProposal)
			r.Post("/approve", s.approveProposal)
			r.Post("/reject", s.rejectProposal)
			r.Post("/dry-run", s.dryRunProposal)
			r.Post("/execute", s.executeProposal)
			r.Get("/jobs", s.listProposalJobs)
		})
	})

	r.Get("/audit", s.listAudit)
	return r
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
