// Package collector pulls RBAC state out of a cluster's system tables
// and persists it as an immutable snapshot run.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

// queryRunner is the slice of the clickhouse client the collector needs.
type queryRunner interface {
	ExecuteJSON(ctx context.Context, query string) ([]map[string]any, error)
}

// systemQuery is one system-table pull. The key names the family in the
// raw snapshot payload.
type systemQuery struct {
	Key   string
	Query string
}

// systemQueries is the ordered collection set. A single failing query
// degrades to an empty family instead of failing the run; RBAC tables
// vary across ClickHouse versions and access levels.
var systemQueries = []systemQuery{
	{"users", `SELECT name, toString(id) AS id, storage, toString(auth_type) AS auth_type,
		host_ip, host_names, default_roles_all, default_roles_list,
		grantees_any, grantees_list FROM system.users`},
	{"roles", `SELECT name, toString(id) AS id, storage FROM system.roles`},
	{"role_grants", `SELECT user_name, role_name, granted_role_name,
		granted_role_is_default, with_admin_option FROM system.role_grants`},
	{"grants", `SELECT user_name, role_name, toString(access_type) AS access_type,
		database, table, column, is_partial_revoke, grant_option FROM system.grants`},
	{"settings_profiles", `SELECT name, toString(id) AS id, storage, num_elements,
		apply_to_all, apply_to_list FROM system.settings_profiles`},
	{"settings_elements", `SELECT profile_name, user_name, role_name, index,
		setting_name, value, min, max, inherit_profile FROM system.settings_profile_elements`},
	{"quotas", `SELECT name, toString(id) AS id, storage, keys, durations,
		apply_to_all, apply_to_list FROM system.quotas`},
}

// Collector runs snapshot collections against clusters.
type Collector struct {
	store  storage.Storage
	logger *zap.Logger
}

// New builds a collector.
func New(store storage.Storage, logger *zap.Logger) *Collector {
	return &Collector{store: store, logger: logger}
}

// Collect pulls all system tables. Individual query failures produce an
// empty family and a warning; only a total inability to reach the
// cluster fails the collection.
func (c *Collector) Collect(ctx context.Context, runner queryRunner) (types.RawSnapshot, error) {
	raw := types.RawSnapshot{}
	failures := 0
	for _, q := range systemQueries {
		rows, err := runner.ExecuteJSON(ctx, q.Query)
		if err != nil {
			c.logger.Warn("system table query failed",
				zap.String("family", q.Key), zap.Error(err))
			raw[q.Key] = []map[string]any{}
			failures++
			continue
		}
		raw[q.Key] = rows
	}
	if failures == len(systemQueries) {
		return nil, fmt.Errorf("all %d system table queries failed", failures)
	}
	return raw, nil
}

// Run executes a full collection against a cluster: creates the run row,
// collects, normalizes, and persists. The returned run is terminal
// (completed or failed).
func (c *Collector) Run(ctx context.Context, clusterID int64, runner queryRunner) (*types.SnapshotRun, error) {
	started := time.Now().UTC()
	run := &types.SnapshotRun{
		ClusterID: clusterID,
		Status:    types.SnapshotRunning,
		StartedAt: &started,
	}
	if err := c.store.CreateSnapshotRun(ctx, run); err != nil {
		return nil, err
	}

	raw, err := c.Collect(ctx, runner)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = types.SnapshotFailed
		run.Error = err.Error()
		c.logger.Error("snapshot collection failed",
			zap.Int64("cluster_id", clusterID), zap.Int64("run_id", run.ID), zap.Error(err))
		if finishErr := c.store.FinishSnapshotRun(ctx, run); finishErr != nil {
			return nil, finishErr
		}
		return run, nil
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot payload: %w", err)
	}
	run.RawPayload = string(payload)

	// Entities land before the run flips to completed. A completed run
	// with no rows would read as an empty cluster to the diff and the
	// explorer.
	users, roles, roleGrants, privileges := Normalize(raw)
	if err := c.store.StoreSnapshotEntities(ctx, run.ID, users, roles, roleGrants, privileges); err != nil {
		run.Status = types.SnapshotFailed
		run.Error = fmt.Sprintf("failed to store snapshot entities: %s", err.Error())
		c.logger.Error("snapshot persistence failed",
			zap.Int64("cluster_id", clusterID), zap.Int64("run_id", run.ID), zap.Error(err))
		if finishErr := c.store.FinishSnapshotRun(ctx, run); finishErr != nil {
			return nil, finishErr
		}
		return run, nil
	}
	run.Status = types.SnapshotCompleted
	if err := c.store.FinishSnapshotRun(ctx, run); err != nil {
		return nil, err
	}

	c.logger.Info("snapshot collected",
		zap.Int64("cluster_id", clusterID), zap.Int64("run_id", run.ID),
		zap.Int("users", len(users)), zap.Int("roles", len(roles)),
		zap.Int("role_grants", len(roleGrants)), zap.Int("grants", len(privileges)))
	return run, nil
}
