// Package proposal implements the change proposal workflow: preview
// building, review transitions, and execution through the executor
// service.
package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/sqlgen"
	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

// ExecutorClient submits jobs to the executor service.
type ExecutorClient interface {
	SubmitJob(ctx context.Context, req *types.CreateJobRequest) (*types.JobResult, error)
}

// Engine drives the proposal state machine.
type Engine struct {
	store  storage.Storage
	exec   ExecutorClient
	logger *zap.Logger
}

// New builds an engine.
func New(store storage.Storage, exec ExecutorClient, logger *zap.Logger) *Engine {
	return &Engine{store: store, exec: exec, logger: logger}
}

// CreateInput is the operator's proposal submission.
type CreateInput struct {
	ClusterID   int64
	ActorID     int64
	Title       string
	Description string
	Reason      string
	Operations  []types.OperationPayload
}

// Create validates every operation, renders the masked preview, and
// stores the proposal in submitted state. Any template failure rejects
// the whole submission.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*types.Proposal, error) {
	p, ops, err := e.build(ctx, in)
	if err != nil {
		return nil, err
	}
	return e.persist(ctx, p, ops)
}

// build validates the submission and assembles the unpersisted proposal
// with its operations.
func (e *Engine) build(ctx context.Context, in CreateInput) (*types.Proposal, []*types.Operation, error) {
	if len(in.Operations) == 0 {
		return nil, nil, sqlgen.NewTemplateError("proposal has no operations")
	}
	if _, err := e.store.GetCluster(ctx, in.ClusterID); err != nil {
		return nil, nil, err
	}

	var (
		previews      []string
		compensations []string
		elevated      bool
		ops           []*types.Operation
	)
	for i, op := range in.Operations {
		stmt, err := sqlgen.BuildPreview(op.OperationType, sqlgen.Params(op.Params))
		if err != nil {
			return nil, nil, fmt.Errorf("operation %d (%s): %w", i, op.OperationType, err)
		}
		previews = append(previews, stmt.SQL)
		if stmt.Compensation != "" {
			compensations = append(compensations, stmt.Compensation)
		}
		if stmt.Broad {
			elevated = true
		}
		ops = append(ops, &types.Operation{
			OrderIndex:      i,
			OperationType:   op.OperationType,
			Params:          op.Params,
			SQLPreview:      stmt.SQL,
			CompensationSQL: stmt.Compensation,
		})
	}

	// Compensation undoes operations in reverse order.
	for i, j := 0, len(compensations)-1; i < j; i, j = i+1, j-1 {
		compensations[i], compensations[j] = compensations[j], compensations[i]
	}

	p := &types.Proposal{
		ClusterID:       in.ClusterID,
		CreatedBy:       in.ActorID,
		Status:          types.ProposalSubmitted,
		Type:            types.TypeMultiOperation,
		Title:           in.Title,
		Description:     in.Description,
		Reason:          in.Reason,
		IsElevated:      elevated,
		SQLPreview:      strings.Join(previews, "\n"),
		CompensationSQL: strings.Join(compensations, "\n"),
	}
	return p, ops, nil
}

func (e *Engine) persist(ctx context.Context, p *types.Proposal, ops []*types.Operation) (*types.Proposal, error) {
	if err := e.store.CreateProposal(ctx, p, ops); err != nil {
		return nil, err
	}
	e.audit(ctx, p.CreatedBy, "proposal.create", p.ID, map[string]any{
		"cluster_id": p.ClusterID, "operations": len(ops), "is_elevated": p.IsElevated})
	return p, nil
}

// LegacyInput is the single-operation submission shape kept for older
// clients: a plain grant or revoke of SELECT on one scope.
type LegacyInput struct {
	ClusterID  int64
	ActorID    int64
	Type       types.ProposalType
	DBName     string
	TableName  string
	TargetType string
	TargetName string
	Reason     string
}

// CreateLegacy maps a legacy grant_select/revoke_select submission onto
// a one-operation proposal.
func (e *Engine) CreateLegacy(ctx context.Context, in LegacyInput) (*types.Proposal, error) {
	var opType string
	switch in.Type {
	case types.TypeGrantSelect:
		opType = "grant_privilege"
	case types.TypeRevokeSelect:
		opType = "revoke_privilege"
	default:
		return nil, sqlgen.NewTemplateError(fmt.Sprintf("Unknown proposal type: %s", in.Type))
	}

	params := map[string]any{
		"privilege":   "SELECT",
		"database":    in.DBName,
		"target_type": in.TargetType,
		"target_name": in.TargetName,
	}
	if in.TableName != "" {
		params["table"] = in.TableName
	}

	p, ops, err := e.build(ctx, CreateInput{
		ClusterID:  in.ClusterID,
		ActorID:    in.ActorID,
		Reason:     in.Reason,
		Operations: []types.OperationPayload{{OperationType: opType, Params: params}},
	})
	if err != nil {
		return nil, err
	}

	// The legacy fields go on the stored row so older consumers can read
	// them back.
	p.Type = in.Type
	p.DBName = in.DBName
	p.TableName = in.TableName
	p.TargetType = in.TargetType
	p.TargetName = in.TargetName
	return e.persist(ctx, p, ops)
}

// Approve moves a submitted proposal to approved and records the review.
func (e *Engine) Approve(ctx context.Context, id, reviewerID int64, comment string) (*types.Proposal, error) {
	return e.review(ctx, id, reviewerID, comment, types.ProposalApproved, "approved")
}

// Reject moves a submitted proposal to rejected and records the review.
func (e *Engine) Reject(ctx context.Context, id, reviewerID int64, comment string) (*types.Proposal, error) {
	return e.review(ctx, id, reviewerID, comment, types.ProposalRejected, "rejected")
}

func (e *Engine) review(ctx context.Context, id, reviewerID int64, comment string, next types.ProposalStatus, decision string) (*types.Proposal, error) {
	err := e.store.UpdateProposalStatus(ctx, id,
		[]types.ProposalStatus{types.ProposalSubmitted}, next)
	if err != nil {
		return nil, err
	}
	if err := e.store.AddReview(ctx, &types.Review{
		ProposalID:     id,
		ReviewerUserID: reviewerID,
		Decision:       decision,
		Comment:        comment,
	}); err != nil {
		return nil, err
	}
	e.audit(ctx, reviewerID, "proposal."+decision, id, nil)
	return e.store.GetProposal(ctx, id)
}

// DryRun validates a submitted or approved proposal against its cluster
// without changing proposal state.
func (e *Engine) DryRun(ctx context.Context, id, actorID int64) (*types.JobResult, error) {
	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != types.ProposalSubmitted && p.Status != types.ProposalApproved {
		return nil, fmt.Errorf("proposal %d is %s: %w", id, p.Status, storage.ErrInvalidState)
	}

	req, err := e.jobRequest(ctx, p, actorID, types.ModeDryRun,
		fmt.Sprintf("dryrun-%d-%s", p.ID, shortID()))
	if err != nil {
		return nil, err
	}
	return e.exec.SubmitJob(ctx, req)
}

// Execute runs an approved proposal. The proposal moves to executing for
// the duration of the job, then to the terminal state derived from the
// job outcome. Successful steps produce entity history rows.
func (e *Engine) Execute(ctx context.Context, id, actorID int64) (*types.Proposal, *types.JobResult, error) {
	err := e.store.UpdateProposalStatus(ctx, id,
		[]types.ProposalStatus{types.ProposalApproved}, types.ProposalExecuting)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	req, err := e.jobRequest(ctx, p, actorID, types.ModeApply,
		fmt.Sprintf("exec-%d-%s", p.ID, shortID()))
	if err != nil {
		e.fail(ctx, p)
		return nil, nil, err
	}

	result, err := e.exec.SubmitJob(ctx, req)
	if err != nil {
		e.logger.Error("executor unreachable",
			zap.Int64("proposal_id", p.ID), zap.Error(err))
		e.fail(ctx, p)
		return nil, nil, fmt.Errorf("executor request failed: %w", err)
	}

	final := types.ProposalFailed
	switch result.Status {
	case types.JobCompleted:
		final = types.ProposalExecuted
	case types.JobPartialFailure:
		final = types.ProposalPartiallyExecuted
	}
	if err := e.store.UpdateProposalStatus(ctx, p.ID,
		[]types.ProposalStatus{types.ProposalExecuting}, final); err != nil {
		return nil, nil, err
	}
	if err := e.store.SetProposalExecution(ctx, p.ID, result.Job.ID, actorID, time.Now().UTC()); err != nil {
		return nil, nil, err
	}
	e.recordHistory(ctx, p, result, actorID)
	e.audit(ctx, actorID, "proposal.execute", p.ID, map[string]any{
		"job_status": string(result.Status), "correlation_id": result.CorrelationID})

	p, err = e.store.GetProposal(ctx, p.ID)
	return p, result, err
}

// Jobs lists the execution attempts of a proposal with their steps.
func (e *Engine) Jobs(ctx context.Context, proposalID int64) ([]*types.JobResult, error) {
	jobs, err := e.store.ListJobsByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.JobResult, 0, len(jobs))
	for _, j := range jobs {
		steps, err := e.store.ListJobSteps(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		r := &types.JobResult{Job: *j, Steps: make([]types.JobStep, len(steps))}
		for i, s := range steps {
			r.Steps[i] = *s
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) fail(ctx context.Context, p *types.Proposal) {
	if err := e.store.UpdateProposalStatus(ctx, p.ID,
		[]types.ProposalStatus{types.ProposalExecuting}, types.ProposalFailed); err != nil {
		e.logger.Error("failed to mark proposal failed",
			zap.Int64("proposal_id", p.ID), zap.Error(err))
	}
}

// jobRequest assembles the executor payload: cluster connection details
// with the still-encrypted credential, plus the stored operations.
func (e *Engine) jobRequest(ctx context.Context, p *types.Proposal, actorID int64, mode types.JobMode, correlationID string) (*types.CreateJobRequest, error) {
	cluster, err := e.store.GetCluster(ctx, p.ClusterID)
	if err != nil {
		return nil, err
	}
	ops, err := e.store.ListOperations(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	payloads := make([]types.OperationPayload, len(ops))
	for i, op := range ops {
		payloads[i] = types.OperationPayload{
			OrderIndex:    op.OrderIndex,
			OperationType: op.OperationType,
			Params:        op.Params,
		}
	}
	return &types.CreateJobRequest{
		ProposalID:    p.ID,
		ClusterID:     cluster.ID,
		ActorUserID:   actorID,
		CorrelationID: correlationID,
		Mode:          mode,
		ClusterConfig: types.ClusterConfig{
			Host:              cluster.Host,
			Port:              cluster.Port,
			Protocol:          cluster.Protocol,
			Username:          cluster.Username,
			PasswordEncrypted: cluster.PasswordEncrypted,
		},
		Operations: payloads,
	}, nil
}

// recordHistory writes one entity history row per successful step.
func (e *Engine) recordHistory(ctx context.Context, p *types.Proposal, result *types.JobResult, actorID int64) {
	ops, err := e.store.ListOperations(ctx, p.ID)
	if err != nil {
		e.logger.Error("failed to load operations for history",
			zap.Int64("proposal_id", p.ID), zap.Error(err))
		return
	}
	opByIndex := map[int]*types.Operation{}
	for _, op := range ops {
		opByIndex[op.OrderIndex] = op
	}

	for _, step := range result.Steps {
		if step.Status != types.StepSuccess {
			continue
		}
		op, ok := opByIndex[step.StepIndex]
		if !ok {
			continue
		}
		entityType, entityName, ok := historyEntity(op.OperationType, op.Params)
		if !ok {
			continue
		}
		h := &types.EntityHistory{
			ClusterID:   p.ClusterID,
			EntityType:  entityType,
			EntityName:  entityName,
			Action:      op.OperationType,
			ProposalID:  &p.ID,
			JobID:       &result.Job.ID,
			ActorUserID: &actorID,
		}
		if err := e.store.AddEntityHistory(ctx, h); err != nil {
			e.logger.Error("failed to record entity history",
				zap.Int64("proposal_id", p.ID), zap.Error(err))
		}
	}
}

func (e *Engine) audit(ctx context.Context, actorID int64, action string, proposalID int64, meta map[string]any) {
	event := &types.AuditEvent{
		ActorUserID: &actorID,
		Action:      action,
		EntityType:  "proposal",
		EntityID:    &proposalID,
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			event.Metadata = string(b)
		}
	}
	if err := e.store.AddAuditEvent(ctx, event); err != nil {
		e.logger.Error("failed to record audit event", zap.String("action", action), zap.Error(err))
	}
}

// shortID is the 8-hex-char suffix of correlation ids.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
