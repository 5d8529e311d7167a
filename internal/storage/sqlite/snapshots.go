package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

const snapshotRunColumns = `id, cluster_id, status, started_at, completed_at, raw_payload, error, created_at`

func scanSnapshotRun(row interface{ Scan(...any) error }) (*types.SnapshotRun, error) {
	var (
		run       types.SnapshotRun
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&run.ID, &run.ClusterID, &run.Status, &started, &completed,
		&run.RawPayload, &run.Error, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.StartedAt = timePtr(started)
	run.CompletedAt = timePtr(completed)
	return &run, nil
}

// CreateSnapshotRun inserts a new collection run.
func (s *Store) CreateSnapshotRun(ctx context.Context, run *types.SnapshotRun) error {
	run.CreatedAt = time.Now().UTC()
	if run.Status == "" {
		run.Status = types.SnapshotPending
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO snapshot_runs
		(cluster_id, status, started_at, created_at) VALUES (?, ?, ?, ?)`,
		run.ClusterID, run.Status, nullTime(run.StartedAt), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create snapshot run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// GetSnapshotRun returns one run by id.
func (s *Store) GetSnapshotRun(ctx context.Context, id int64) (*types.SnapshotRun, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotRunColumns+" FROM snapshot_runs WHERE id = ?", id)
	run, err := scanSnapshotRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot run %d: %w", id, storage.ErrNotFound)
	}
	return run, err
}

// ListSnapshotRuns returns a cluster's runs, newest first.
func (s *Store) ListSnapshotRuns(ctx context.Context, clusterID int64, limit int) ([]*types.SnapshotRun, error) {
	query := "SELECT " + snapshotRunColumns + " FROM snapshot_runs WHERE cluster_id = ? ORDER BY id DESC"
	args := []any{clusterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot runs: %w", err)
	}
	defer rows.Close()

	var out []*types.SnapshotRun
	for rows.Next() {
		run, err := scanSnapshotRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// LatestSnapshotRun returns the most recent completed run for a cluster.
func (s *Store) LatestSnapshotRun(ctx context.Context, clusterID int64) (*types.SnapshotRun, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotRunColumns+` FROM snapshot_runs
		WHERE cluster_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		clusterID, types.SnapshotCompleted)
	run, err := scanSnapshotRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no completed snapshot for cluster %d: %w", clusterID, storage.ErrNotFound)
	}
	return run, err
}

// FinishSnapshotRun writes the terminal status, payload, and error of a
// run.
func (s *Store) FinishSnapshotRun(ctx context.Context, run *types.SnapshotRun) error {
	res, err := s.db.ExecContext(ctx, `UPDATE snapshot_runs
		SET status = ?, started_at = ?, completed_at = ?, raw_payload = ?, error = ?
		WHERE id = ?`,
		run.Status, nullTime(run.StartedAt), nullTime(run.CompletedAt),
		run.RawPayload, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish snapshot run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot run %d: %w", run.ID, storage.ErrNotFound)
	}
	return nil
}

// RawSnapshot decodes the stored payload of a run.
func (s *Store) RawSnapshot(ctx context.Context, runID int64) (types.RawSnapshot, error) {
	run, err := s.GetSnapshotRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.RawPayload == "" {
		return types.RawSnapshot{}, nil
	}
	var raw types.RawSnapshot
	if err := json.Unmarshal([]byte(run.RawPayload), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	return raw, nil
}

// StoreSnapshotEntities replaces the normalized rows of a run.
func (s *Store) StoreSnapshotEntities(ctx context.Context, runID int64,
	users []*types.SnapshotUser, roles []*types.SnapshotRole,
	roleGrants []*types.SnapshotRoleGrant, privileges []*types.SnapshotPrivilege) error {
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"snapshot_users", "snapshot_roles", "snapshot_role_grants", "snapshot_privileges"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE snapshot_id = ?", runID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		for _, u := range users {
			if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_users
				(snapshot_id, name, ch_id, storage, auth_type, host_ip, host_names,
				 default_roles_all, default_roles_list, grantees_any, grantees_list)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, u.Name, u.CHID, u.Storage, u.AuthType, u.HostIP, u.HostNames,
				boolToInt(u.DefaultRolesAll), u.DefaultRolesList,
				boolToInt(u.GranteesAny), u.GranteesList); err != nil {
				return fmt.Errorf("failed to insert snapshot user: %w", err)
			}
		}
		for _, r := range roles {
			if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_roles
				(snapshot_id, name, ch_id, storage) VALUES (?, ?, ?, ?)`,
				runID, r.Name, r.CHID, r.Storage); err != nil {
				return fmt.Errorf("failed to insert snapshot role: %w", err)
			}
		}
		for _, rg := range roleGrants {
			if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_role_grants
				(snapshot_id, user_name, role_name, granted_role_name, is_default, with_admin_option)
				VALUES (?, ?, ?, ?, ?, ?)`,
				runID, rg.UserName, rg.RoleName, rg.GrantedRoleName,
				boolToInt(rg.IsDefault), boolToInt(rg.WithAdminOption)); err != nil {
				return fmt.Errorf("failed to insert role grant: %w", err)
			}
		}
		for _, p := range privileges {
			if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_privileges
				(snapshot_id, user_name, role_name, access_type, database_name,
				 table_name, column_name, is_partial_revoke, grant_option)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, p.UserName, p.RoleName, p.AccessType, p.Database,
				p.Table, p.Column, boolToInt(p.IsPartialRevoke),
				boolToInt(p.GrantOption)); err != nil {
				return fmt.Errorf("failed to insert privilege: %w", err)
			}
		}
		return nil
	})
}

// SnapshotEntityCounts returns per-family row counts for a run.
func (s *Store) SnapshotEntityCounts(ctx context.Context, runID int64) (map[string]int, error) {
	counts := map[string]int{}
	for family, table := range map[string]string{
		"users":       "snapshot_users",
		"roles":       "snapshot_roles",
		"role_grants": "snapshot_role_grants",
		"grants":      "snapshot_privileges",
	} {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" WHERE snapshot_id = ?", runID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[family] = n
	}
	return counts, nil
}
