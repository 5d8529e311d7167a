package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

// AddEntityHistory appends one entity change record.
func (s *Store) AddEntityHistory(ctx context.Context, h *types.EntityHistory) error {
	h.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO entity_history
		(cluster_id, entity_type, entity_name, action, details,
		 proposal_id, job_id, actor_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ClusterID, h.EntityType, h.EntityName, h.Action, h.Details,
		nullInt(h.ProposalID), nullInt(h.JobID), nullInt(h.ActorUserID), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add entity history: %w", err)
	}
	h.ID, err = res.LastInsertId()
	return err
}

// ListEntityHistory returns a cluster's change records, newest first.
func (s *Store) ListEntityHistory(ctx context.Context, clusterID int64, filter storage.HistoryFilter) ([]*types.EntityHistory, error) {
	query := `SELECT id, cluster_id, entity_type, entity_name, action, details,
		proposal_id, job_id, actor_user_id, created_at
		FROM entity_history WHERE cluster_id = ?`
	args := []any{clusterID}
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.EntityName != "" {
		query += " AND entity_name = ?"
		args = append(args, filter.EntityName)
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity history: %w", err)
	}
	defer rows.Close()

	var out []*types.EntityHistory
	for rows.Next() {
		var (
			h          types.EntityHistory
			proposalID sql.NullInt64
			jobID      sql.NullInt64
			actorID    sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.ClusterID, &h.EntityType, &h.EntityName,
			&h.Action, &h.Details, &proposalID, &jobID, &actorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.ProposalID = intPtr(proposalID)
		h.JobID = intPtr(jobID)
		h.ActorUserID = intPtr(actorID)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// AddAuditEvent appends one operator action record.
func (s *Store) AddAuditEvent(ctx context.Context, e *types.AuditEvent) error {
	e.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO audit_events
		(actor_user_id, action, entity_type, entity_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullInt(e.ActorUserID), e.Action, e.EntityType, nullInt(e.EntityID),
		e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add audit event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListAuditEvents returns audit records matching the filter, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, filter storage.AuditFilter) ([]*types.AuditEvent, error) {
	query := `SELECT id, actor_user_id, action, entity_type, entity_id, metadata, created_at
		FROM audit_events`
	var conds []string
	var args []any
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*types.AuditEvent
	for rows.Next() {
		var (
			e        types.AuditEvent
			actorID  sql.NullInt64
			entityID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &e.EntityType,
			&entityID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorUserID = intPtr(actorID)
		e.EntityID = intPtr(entityID)
		out = append(out, &e)
	}
	return out, rows.Err()
}
