package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

const clusterColumns = `id, name, host, port, protocol, username, password_encrypted,
	database_name, is_deleted, health_status, last_tested_at, latency_ms,
	server_version, current_user_detected, error_code, error_message,
	created_by, created_at, updated_at`

func scanCluster(row interface{ Scan(...any) error }) (*types.Cluster, error) {
	var (
		c          types.Cluster
		isDeleted  int
		lastTested sql.NullTime
		latency    sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Host, &c.Port, &c.Protocol, &c.Username,
		&c.PasswordEncrypted, &c.Database, &isDeleted, &c.HealthStatus,
		&lastTested, &latency, &c.ServerVersion, &c.CurrentUser,
		&c.ErrorCode, &c.ErrorMessage, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.IsDeleted = isDeleted != 0
	c.LastTestedAt = timePtr(lastTested)
	c.LatencyMs = intPtr(latency)
	return &c, nil
}

// CreateCluster inserts a new cluster. A live cluster with the same name
// yields ErrConflict.
func (s *Store) CreateCluster(ctx context.Context, c *types.Cluster) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.HealthStatus == "" {
		c.HealthStatus = types.HealthNeverTested
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO clusters
		(name, host, port, protocol, username, password_encrypted, database_name,
		 health_status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Host, c.Port, c.Protocol, c.Username, c.PasswordEncrypted,
		c.Database, c.HealthStatus, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("cluster name %q: %w", c.Name, storage.ErrConflict)
		}
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCluster returns a live cluster by id.
func (s *Store) GetCluster(ctx context.Context, id int64) (*types.Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+clusterColumns+" FROM clusters WHERE id = ? AND is_deleted = 0", id)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster %d: %w", id, storage.ErrNotFound)
	}
	return c, err
}

// ListClusters returns all live clusters ordered by name.
func (s *Store) ListClusters(ctx context.Context) ([]*types.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+clusterColumns+" FROM clusters WHERE is_deleted = 0 ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var out []*types.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCluster writes all mutable fields of a cluster.
func (s *Store) UpdateCluster(ctx context.Context, c *types.Cluster) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE clusters SET
		name = ?, host = ?, port = ?, protocol = ?, username = ?,
		password_encrypted = ?, database_name = ?, health_status = ?,
		last_tested_at = ?, latency_ms = ?, server_version = ?,
		current_user_detected = ?, error_code = ?, error_message = ?,
		updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		c.Name, c.Host, c.Port, c.Protocol, c.Username,
		c.PasswordEncrypted, c.Database, c.HealthStatus,
		nullTime(c.LastTestedAt), nullInt(c.LatencyMs), c.ServerVersion,
		c.CurrentUser, c.ErrorCode, c.ErrorMessage, c.UpdatedAt, c.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("cluster name %q: %w", c.Name, storage.ErrConflict)
		}
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cluster %d: %w", c.ID, storage.ErrNotFound)
	}
	return nil
}

// DeleteCluster soft-deletes a cluster, freeing its name for reuse.
func (s *Store) DeleteCluster(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE clusters SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cluster %d: %w", id, storage.ErrNotFound)
	}
	return nil
}
