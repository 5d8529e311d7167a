package server

import (
	"net/http"

	"github.com/grantline/grantline/internal/storage"
)

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListAuditEvents(r.Context(), storage.AuditFilter{
		Action:     r.URL.Query().Get("action"),
		EntityType: r.URL.Query().Get("entity_type"),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listEntityHistory(w http.ResponseWriter, r *http.Request) {
	clusterID, err := pathID(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	entries, err := s.store.ListEntityHistory(r.Context(), clusterID, storage.HistoryFilter{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityName: r.URL.Query().Get("entity_name"),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
