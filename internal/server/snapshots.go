package server

import (
	"net/http"

	"github.com/grantline/grantline/internal/snapdiff"
	"github.com/grantline/grantline/internal/types"
)

type collectRequest struct {
	ClusterID int64 `json:"cluster_id" validate:"required"`
}

func (s *Server) collectSnapshot(w http.ResponseWriter, r *http.Request) {
	var in collectRequest
	if !decodeValid(w, r, s.validate, &in) {
		return
	}
	client, err := s.registry.Client(r.Context(), in.ClusterID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	run, err := s.collector.Run(r.Context(), in.ClusterID, client)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.snapshotView(r, run))
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := queryInt64(r, "cluster_id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "cluster_id is required")
		return
	}
	runs, err := s.store.ListSnapshotRuns(r.Context(), clusterID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}
	run, err := s.store.GetSnapshotRun(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotView(r, run))
}

func (s *Server) diffSnapshots(w http.ResponseWriter, r *http.Request) {
	from, okFrom := queryInt64(r, "from")
	to, okTo := queryInt64(r, "to")
	if !okFrom || !okTo {
		writeErrorMessage(w, http.StatusBadRequest, "from and to snapshot ids are required")
		return
	}
	oldSnap, err := s.store.RawSnapshot(r.Context(), from)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	newSnap, err := s.store.RawSnapshot(r.Context(), to)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapdiff.Compute(oldSnap, newSnap))
}

// snapshotView decorates a run with its entity counts. Counts are
// best-effort; a failed run has none.
func (s *Server) snapshotView(r *http.Request, run *types.SnapshotRun) map[string]any {
	view := map[string]any{"run": run}
	if run.Status == types.SnapshotCompleted {
		if counts, err := s.store.SnapshotEntityCounts(r.Context(), run.ID); err == nil {
			view["entity_counts"] = counts
		}
	}
	return view
}
