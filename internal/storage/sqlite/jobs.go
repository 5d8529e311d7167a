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

const jobColumns = `id, proposal_id, cluster_id, actor_user_id, correlation_id,
	mode, status, error, created_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*types.Job, error) {
	var (
		j         types.Job
		completed sql.NullTime
	)
	err := row.Scan(&j.ID, &j.ProposalID, &j.ClusterID, &j.ActorUserID,
		&j.CorrelationID, &j.Mode, &j.Status, &j.Error, &j.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	j.CompletedAt = timePtr(completed)
	return &j, nil
}

// CreateJob inserts a job and its planned steps atomically. A duplicate
// correlation id yields ErrConflict; the caller then loads the existing
// job instead.
func (s *Store) CreateJob(ctx context.Context, j *types.Job, steps []*types.JobStep) error {
	j.CreatedAt = time.Now().UTC()
	if j.Status == "" {
		j.Status = types.JobPending
	}
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO jobs
			(proposal_id, cluster_id, actor_user_id, correlation_id, mode, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			j.ProposalID, j.ClusterID, j.ActorUserID, j.CorrelationID,
			j.Mode, j.Status, j.CreatedAt)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("correlation id %q: %w", j.CorrelationID, storage.ErrConflict)
			}
			return fmt.Errorf("failed to create job: %w", err)
		}
		j.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, step := range steps {
			step.JobID = j.ID
			if step.Status == "" {
				step.Status = types.StepPending
			}
			stepRes, err := tx.ExecContext(ctx, `INSERT INTO job_steps
				(job_id, step_index, operation_type, sql_statement, compensation_sql, status, result_message)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				step.JobID, step.StepIndex, step.OperationType, step.SQLStatement,
				step.CompensationSQL, step.Status, step.ResultMessage)
			if err != nil {
				return fmt.Errorf("failed to create job step %d: %w", step.StepIndex, err)
			}
			step.ID, err = stepRes.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, storage.ErrNotFound)
	}
	return j, err
}

// GetJobByCorrelation returns a job by its idempotency key.
func (s *Store) GetJobByCorrelation(ctx context.Context, correlationID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE correlation_id = ?", correlationID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", correlationID, storage.ErrNotFound)
	}
	return j, err
}

// ListJobsByProposal returns all jobs for a proposal, newest first.
func (s *Store) ListJobsByProposal(ctx context.Context, proposalID int64) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE proposal_id = ? ORDER BY id DESC", proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob writes a job's status, error, and completion time.
func (s *Store) UpdateJob(ctx context.Context, j *types.Job) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?",
		j.Status, j.Error, nullTime(j.CompletedAt), j.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", j.ID, storage.ErrNotFound)
	}
	return nil
}

// UpdateJobStep writes a step's outcome.
func (s *Store) UpdateJobStep(ctx context.Context, st *types.JobStep) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE job_steps SET status = ?, result_message = ?, executed_at = ? WHERE id = ?",
		st.Status, st.ResultMessage, nullTime(st.ExecutedAt), st.ID)
	if err != nil {
		return fmt.Errorf("failed to update job step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job step %d: %w", st.ID, storage.ErrNotFound)
	}
	return nil
}

// ListJobSteps returns a job's steps in order.
func (s *Store) ListJobSteps(ctx context.Context, jobID int64) ([]*types.JobStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, job_id, step_index, operation_type,
		sql_statement, compensation_sql, status, result_message, executed_at
		FROM job_steps WHERE job_id = ? ORDER BY step_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job steps: %w", err)
	}
	defer rows.Close()

	var out []*types.JobStep
	for rows.Next() {
		var (
			st       types.JobStep
			executed sql.NullTime
		)
		if err := rows.Scan(&st.ID, &st.JobID, &st.StepIndex, &st.OperationType,
			&st.SQLStatement, &st.CompensationSQL, &st.Status, &st.ResultMessage, &executed); err != nil {
			return nil, err
		}
		st.ExecutedAt = timePtr(executed)
		out = append(out, &st)
	}
	return out, rows.Err()
}
