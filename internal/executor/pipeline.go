// Package executor runs change plan jobs against clusters: DDL building,
// dry-run validation, apply with skip-on-failure, and step accounting.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/clickhouse"
	"github.com/grantline/grantline/internal/secrets"
	"github.com/grantline/grantline/internal/sqlgen"
	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

const (
	skippedAfterError   = "Skipped due to earlier error"
	skippedAfterFailure = "Skipped due to earlier failure"
	dryRunPassed        = "Validation passed"
	maxResultBody       = 500
)

// statementRunner executes one DDL statement. The production
// implementation is the clickhouse client; tests substitute a fake.
type statementRunner interface {
	Post(ctx context.Context, statement string) (string, error)
}

// runnerFactory builds a statement runner for a decrypted cluster config.
type runnerFactory func(cfg types.ClusterConfig, password string) statementRunner

// Pipeline admits and runs jobs.
type Pipeline struct {
	store   storage.JobStore
	box     *secrets.Box
	logger  *zap.Logger
	connect runnerFactory
}

// New builds a pipeline with the production clickhouse runner.
func New(store storage.JobStore, box *secrets.Box, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		box:    box,
		logger: logger,
		connect: func(cfg types.ClusterConfig, password string) statementRunner {
			return clickhouse.New(cfg.Host, cfg.Port, cfg.Protocol, cfg.Username,
				password, "", clickhouse.ExecTimeout)
		},
	}
}

// Run admits a job request and executes it to completion. Admission is
// idempotent: a correlation id already seen returns the stored job and
// its steps without re-executing anything.
func (p *Pipeline) Run(ctx context.Context, req *types.CreateJobRequest) (*types.JobResult, error) {
	if existing, err := p.store.GetJobByCorrelation(ctx, req.CorrelationID); err == nil {
		return p.result(ctx, existing)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	job := &types.Job{
		ProposalID:    req.ProposalID,
		ClusterID:     req.ClusterID,
		ActorUserID:   req.ActorUserID,
		CorrelationID: req.CorrelationID,
		Mode:          req.Mode,
		Status:        types.JobRunning,
	}
	steps, buildErr := planSteps(req.Operations)
	if err := p.store.CreateJob(ctx, job, steps); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the admission race; serve the winner's job.
			existing, getErr := p.store.GetJobByCorrelation(ctx, req.CorrelationID)
			if getErr != nil {
				return nil, getErr
			}
			return p.result(ctx, existing)
		}
		return nil, err
	}

	if buildErr != nil {
		// Template failure: the bad step and everything after it are
		// already marked; the job fails without touching the cluster.
		job.Status = types.JobFailed
		job.Error = fmt.Sprintf("Template error at step %d: %s", buildErr.StepIndex, buildErr.Message)
		p.finish(ctx, job)
		p.logger.Warn("job rejected by template validation",
			zap.String("correlation_id", job.CorrelationID),
			zap.Int("step", buildErr.StepIndex))
		return p.result(ctx, job)
	}

	switch req.Mode {
	case types.ModeDryRun:
		p.runDry(ctx, job, steps)
	default:
		p.runApply(ctx, job, steps, req.ClusterConfig)
	}
	return p.result(ctx, job)
}

// stepError carries the first template failure during planning.
type stepError struct {
	StepIndex int
	Message   string
}

// planSteps builds the forward DDL for every operation. Operations run
// in order_index order regardless of their position in the payload, and
// the order index becomes the step index. On the first template error
// the failing step records the error, the remaining steps are marked
// skipped with a best-effort masked preview, and the error is returned
// for the job record.
func planSteps(ops []types.OperationPayload) ([]*types.JobStep, *stepError) {
	ordered := make([]types.OperationPayload, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	steps := make([]*types.JobStep, 0, len(ordered))
	var firstErr *stepError
	for _, op := range ordered {
		step := &types.JobStep{
			StepIndex:     op.OrderIndex,
			OperationType: op.OperationType,
			Status:        types.StepPending,
		}
		if firstErr != nil {
			step.SQLStatement = previewOrPlaceholder(op)
			step.Status = types.StepSkipped
			step.ResultMessage = skippedAfterError
			steps = append(steps, step)
			continue
		}
		stmt, err := sqlgen.Build(op.OperationType, sqlgen.Params(op.Params))
		if err != nil {
			step.SQLStatement = fmt.Sprintf("-- TEMPLATE ERROR: %s", err.Error())
			step.Status = types.StepError
			step.ResultMessage = err.Error()
			firstErr = &stepError{StepIndex: op.OrderIndex, Message: err.Error()}
			steps = append(steps, step)
			continue
		}
		step.SQLStatement = stmt.SQL
		step.CompensationSQL = stmt.Compensation
		steps = append(steps, step)
	}
	return steps, firstErr
}

// previewOrPlaceholder renders a masked preview for a step skipped by an
// earlier template error, falling back to a placeholder when the step
// itself would not build either.
func previewOrPlaceholder(op types.OperationPayload) string {
	stmt, err := sqlgen.BuildPreview(op.OperationType, sqlgen.Params(op.Params))
	if err != nil {
		return fmt.Sprintf("-- TEMPLATE ERROR for %s", op.OperationType)
	}
	return stmt.SQL
}

// runDry marks every planned step as validated. Template validation
// already happened during planning; a dry run never reaches the cluster.
func (p *Pipeline) runDry(ctx context.Context, job *types.Job, steps []*types.JobStep) {
	now := time.Now().UTC()
	for _, step := range steps {
		step.Status = types.StepDryRunOK
		step.ResultMessage = dryRunPassed
		step.ExecutedAt = &now
		if err := p.store.UpdateJobStep(ctx, step); err != nil {
			p.logger.Error("failed to persist step", zap.Int64("step_id", step.ID), zap.Error(err))
		}
	}
	job.Status = types.JobCompleted
	p.finish(ctx, job)
}

// runApply executes steps in order against the cluster. The first
// failure skips all remaining steps; earlier successes are not rolled
// back. A mix of successes and failures classifies as partial_failure.
func (p *Pipeline) runApply(ctx context.Context, job *types.Job, steps []*types.JobStep, cfg types.ClusterConfig) {
	password, err := p.box.Decrypt(cfg.PasswordEncrypted)
	if err != nil {
		job.Status = types.JobFailed
		job.Error = fmt.Sprintf("failed to decrypt cluster credential: %s", err.Error())
		p.finish(ctx, job)
		return
	}
	runner := p.connect(cfg, password)

	var failed []int
	succeeded := 0
	failedYet := false
	for _, step := range steps {
		now := time.Now().UTC()
		step.ExecutedAt = &now
		if failedYet {
			step.Status = types.StepSkipped
			step.ResultMessage = skippedAfterFailure
			p.persistStep(ctx, step)
			continue
		}

		p.logger.Info("executing step",
			zap.String("correlation_id", job.CorrelationID),
			zap.Int("step", step.StepIndex),
			zap.String("sql", redactStatement(step.SQLStatement)))
		body, err := runner.Post(ctx, step.SQLStatement)
		if err != nil {
			step.Status = types.StepError
			step.ResultMessage = truncate(stepFailureMessage(err), maxResultBody)
			failed = append(failed, step.StepIndex)
			failedYet = true
			p.persistStep(ctx, step)
			continue
		}
		step.Status = types.StepSuccess
		// The cluster's response text is the step result; DDL usually
		// returns nothing.
		if body == "" {
			body = "OK"
		}
		step.ResultMessage = truncate(body, maxResultBody)
		succeeded++
		p.persistStep(ctx, step)
	}

	switch {
	case len(failed) == 0:
		job.Status = types.JobCompleted
	case succeeded > 0:
		job.Status = types.JobPartialFailure
		job.Error = failureSummary(failed)
	default:
		job.Status = types.JobFailed
		job.Error = failureSummary(failed)
	}
	p.finish(ctx, job)
}

func (p *Pipeline) persistStep(ctx context.Context, step *types.JobStep) {
	if err := p.store.UpdateJobStep(ctx, step); err != nil {
		p.logger.Error("failed to persist step", zap.Int64("step_id", step.ID), zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, job *types.Job) {
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("failed to persist job", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

func (p *Pipeline) result(ctx context.Context, job *types.Job) (*types.JobResult, error) {
	stepPtrs, err := p.store.ListJobSteps(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	steps := make([]types.JobStep, len(stepPtrs))
	for i, s := range stepPtrs {
		steps[i] = *s
	}
	return &types.JobResult{Job: *job, Steps: steps}, nil
}

// stepFailureMessage prefers the server response body over the transport
// error text.
func stepFailureMessage(err error) string {
	var statusErr *clickhouse.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Body
	}
	code, msg := clickhouse.Classify(err)
	return fmt.Sprintf("%s: %s", code, msg)
}

func failureSummary(failed []int) string {
	parts := make([]string, len(failed))
	for i, idx := range failed {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return "Failed at step(s): " + strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// redactStatement trims everything after a password literal so
// credentials never reach logs.
func redactStatement(sql string) string {
	if i := strings.Index(sql, "BY '"); i >= 0 {
		return sql[:i+len("BY '")] + "***'"
	}
	return sql
}
