package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grantline/grantline/internal/rbacgraph"
	"github.com/grantline/grantline/internal/storage"
)

// snapshotGraph loads the RBAC graph for the explorer request: the run
// named by snapshot_id, or the cluster's latest completed run.
func (s *Server) snapshotGraph(w http.ResponseWriter, r *http.Request) (*rbacgraph.Graph, int64, bool) {
	clusterID, ok := queryInt64(r, "cluster_id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "cluster_id is required")
		return nil, 0, false
	}

	var runID int64
	if id, ok := queryInt64(r, "snapshot_id"); ok {
		runID = id
	} else {
		run, err := s.store.LatestSnapshotRun(r.Context(), clusterID)
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorMessage(w, http.StatusNotFound, "no completed snapshot for cluster")
			return nil, 0, false
		}
		if err != nil {
			writeError(w, s.logger, err)
			return nil, 0, false
		}
		runID = run.ID
	}

	raw, err := s.store.RawSnapshot(r.Context(), runID)
	if err != nil {
		writeError(w, s.logger, err)
		return nil, 0, false
	}
	return rbacgraph.New(raw), runID, true
}

func (s *Server) explorerUsers(w http.ResponseWriter, r *http.Request) {
	g, runID, ok := s.snapshotGraph(w, r)
	if !ok {
		return
	}
	users := []map[string]any{}
	for _, name := range g.UserNames() {
		info, _ := g.UserInfo(name)
		users = append(users, map[string]any{
			"name":  name,
			"info":  info,
			"roles": len(g.ResolveUserRoles(name)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot_id": runID, "users": users})
}

func (s *Server) explorerUser(w http.ResponseWriter, r *http.Request) {
	g, runID, ok := s.snapshotGraph(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	info, found := g.UserInfo(name)
	if !found {
		writeErrorMessage(w, http.StatusNotFound, "user not in snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id":          runID,
		"name":                 name,
		"info":                 info,
		"roles":                g.ResolveUserRoles(name),
		"effective_privileges": g.EffectivePrivileges(name),
		"settings_profiles":    g.UserSettingsProfiles(name),
	})
}

func (s *Server) explorerRoles(w http.ResponseWriter, r *http.Request) {
	g, runID, ok := s.snapshotGraph(w, r)
	if !ok {
		return
	}
	roles := []map[string]any{}
	for _, name := range g.RoleNames() {
		info, _ := g.RoleInfo(name)
		roles = append(roles, map[string]any{
			"name":    name,
			"info":    info,
			"members": len(g.RoleMembers(name)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot_id": runID, "roles": roles})
}

func (s *Server) explorerRole(w http.ResponseWriter, r *http.Request) {
	g, runID, ok := s.snapshotGraph(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	info, found := g.RoleInfo(name)
	if !found {
		writeErrorMessage(w, http.StatusNotFound, "role not in snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": runID,
		"name":        name,
		"info":        info,
		"parents":     g.ResolveRoleParents(name),
		"grants":      g.RoleGrantsResolved(name),
		"members":     g.RoleMembers(name),
	})
}

func (s *Server) explorerObject(w http.ResponseWriter, r *http.Request) {
	g, runID, ok := s.snapshotGraph(w, r)
	if !ok {
		return
	}
	db := chi.URLParam(r, "db")
	table := chi.URLParam(r, "table")
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": runID,
		"database":    db,
		"table":       table,
		"access":      g.ObjectAccess(db, table),
	})
}

func (s *Server) explorerDatabases(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := queryInt64(r, "cluster_id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "cluster_id is required")
		return
	}
	client, err := s.registry.Client(r.Context(), clusterID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	dbs, err := client.Databases(r.Context())
	if err != nil {
		writeErrorMessage(w, http.StatusBadGateway, "cluster query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

func (s *Server) explorerTables(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := queryInt64(r, "cluster_id")
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "cluster_id is required")
		return
	}
	client, err := s.registry.Client(r.Context(), clusterID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	db := chi.URLParam(r, "db")
	tables, err := client.Tables(r.Context(), db)
	if err != nil {
		writeErrorMessage(w, http.StatusBadGateway, "cluster query failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"database": db, "tables": tables})
}
