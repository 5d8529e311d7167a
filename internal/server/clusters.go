package server

import (
	"net/http"

	"github.com/grantline/grantline/internal/registry"
)

func (s *Server) createCluster(w http.ResponseWriter, r *http.Request) {
	var in registry.CreateInput
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	c, err := s.registry.Create(r.Context(), in, actorID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	c, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCluster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	var in registry.UpdateInput
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	c, err := s.registry.Update(r.Context(), id, in, actorID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCluster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	if err := s.registry.Delete(r.Context(), id, actorID(r)); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) testCluster(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	result, err := s.registry.Test(r.Context(), id, actorID(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) validateCluster(w http.ResponseWriter, r *http.Request) {
	var in registry.CreateInput
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	result := s.registry.ValidateParams(r.Context(), in)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) clusterDiagnostics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	d, err := s.registry.GetDiagnostics(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
