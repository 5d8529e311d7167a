package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

const proposalColumns = `id, cluster_id, created_by, status, proposal_type, title,
	description, reason, is_elevated, sql_preview, compensation_sql,
	job_id, executed_by, executed_at,
	db_name, table_name, target_type, target_name, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (*types.Proposal, error) {
	var (
		p          types.Proposal
		isElevated int
		jobID      sql.NullInt64
		executedBy sql.NullInt64
		executedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ClusterID, &p.CreatedBy, &p.Status, &p.Type,
		&p.Title, &p.Description, &p.Reason, &isElevated, &p.SQLPreview,
		&p.CompensationSQL, &jobID, &executedBy, &executedAt,
		&p.DBName, &p.TableName, &p.TargetType, &p.TargetName,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.IsElevated = isElevated != 0
	p.JobID = intPtr(jobID)
	p.ExecutedBy = intPtr(executedBy)
	p.ExecutedAt = timePtr(executedAt)
	return &p, nil
}

// CreateProposal persists a proposal and its ordered operations in one
// transaction.
func (s *Store) CreateProposal(ctx context.Context, p *types.Proposal, ops []*types.Operation) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO proposals
			(cluster_id, created_by, status, proposal_type, title, description,
			 reason, is_elevated, sql_preview, compensation_sql,
			 db_name, table_name, target_type, target_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ClusterID, p.CreatedBy, p.Status, p.Type, p.Title, p.Description,
			p.Reason, boolToInt(p.IsElevated), p.SQLPreview, p.CompensationSQL,
			p.DBName, p.TableName, p.TargetType, p.TargetName, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create proposal: %w", err)
		}
		p.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, op := range ops {
			op.ProposalID = p.ID
			params, err := json.Marshal(op.Params)
			if err != nil {
				return fmt.Errorf("failed to encode operation params: %w", err)
			}
			opRes, err := tx.ExecContext(ctx, `INSERT INTO operations
				(proposal_id, order_index, operation_type, params, sql_preview, compensation_sql)
				VALUES (?, ?, ?, ?, ?, ?)`,
				op.ProposalID, op.OrderIndex, op.OperationType, string(params),
				op.SQLPreview, op.CompensationSQL)
			if err != nil {
				return fmt.Errorf("failed to create operation %d: %w", op.OrderIndex, err)
			}
			op.ID, err = opRes.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProposal returns a proposal by id.
func (s *Store) GetProposal(ctx context.Context, id int64) (*types.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+proposalColumns+" FROM proposals WHERE id = ?", id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %d: %w", id, storage.ErrNotFound)
	}
	return p, err
}

// ListProposals returns proposals matching the filter, newest first.
func (s *Store) ListProposals(ctx context.Context, filter storage.ProposalFilter) ([]*types.Proposal, error) {
	query := "SELECT " + proposalColumns + " FROM proposals"
	var conds []string
	var args []any
	if filter.ClusterID != nil {
		conds = append(conds, "cluster_id = ?")
		args = append(args, *filter.ClusterID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var out []*types.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOperations returns a proposal's operations in order.
func (s *Store) ListOperations(ctx context.Context, proposalID int64) ([]*types.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, proposal_id, order_index,
		operation_type, params, sql_preview, compensation_sql
		FROM operations WHERE proposal_id = ? ORDER BY order_index`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []*types.Operation
	for rows.Next() {
		var (
			op     types.Operation
			params string
		)
		if err := rows.Scan(&op.ID, &op.ProposalID, &op.OrderIndex,
			&op.OperationType, &params, &op.SQLPreview, &op.CompensationSQL); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &op.Params); err != nil {
			return nil, fmt.Errorf("failed to decode operation params: %w", err)
		}
		out = append(out, &op)
	}
	return out, rows.Err()
}

// UpdateProposalStatus moves a proposal to next only if its current
// status is one of expect. A concurrent transition loses with
// ErrInvalidState.
func (s *Store) UpdateProposalStatus(ctx context.Context, id int64, expect []types.ProposalStatus, next types.ProposalStatus) error {
	placeholders := make([]string, len(expect))
	args := []any{next, time.Now().UTC(), id}
	for i, st := range expect {
		placeholders[i] = "?"
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+
			strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetProposal(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("proposal %d not in expected status: %w", id, storage.ErrInvalidState)
	}
	return nil
}

// SetProposalExecution records the executor job reference and actor on a
// proposal once execution starts.
func (s *Store) SetProposalExecution(ctx context.Context, id int64, jobID int64, actorID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proposals
		SET job_id = ?, executed_by = ?, executed_at = ?, updated_at = ?
		WHERE id = ?`,
		jobID, actorID, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("proposal %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// AddReview appends a review decision.
func (s *Store) AddReview(ctx context.Context, r *types.Review) error {
	r.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO reviews
		(proposal_id, reviewer_user_id, decision, comment, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ProposalID, r.ReviewerUserID, r.Decision, r.Comment, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add review: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ListReviews returns a proposal's reviews, oldest first.
func (s *Store) ListReviews(ctx context.Context, proposalID int64) ([]*types.Review, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, proposal_id, reviewer_user_id,
		decision, comment, created_at FROM reviews WHERE proposal_id = ? ORDER BY id`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var out []*types.Review
	for rows.Next() {
		var r types.Review
		if err := rows.Scan(&r.ID, &r.ProposalID, &r.ReviewerUserID,
			&r.Decision, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
