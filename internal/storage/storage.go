// Package storage defines the persistence interface for the governance
// and executor services.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/grantline/grantline/internal/types"
)

var (
	// ErrNotFound is returned when the requested row does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique constraint violations, e.g. a
	// duplicate cluster name or executor correlation id.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState is returned when a compare-and-swap status update
	// finds the row in a different state than expected.
	ErrInvalidState = errors.New("invalid state")
)

// ProposalFilter narrows ListProposals.
type ProposalFilter struct {
	ClusterID *int64
	Status    types.ProposalStatus
	Limit     int
}

// HistoryFilter narrows ListEntityHistory.
type HistoryFilter struct {
	EntityType string
	EntityName string
	Limit      int
}

// AuditFilter narrows ListAuditEvents.
type AuditFilter struct {
	Action     string
	EntityType string
	Limit      int
}

// Storage is the full persistence surface. The sqlite package provides
// the only implementation; tests use it against temp-dir databases.
type Storage interface {
	// Clusters
	CreateCluster(ctx context.Context, c *types.Cluster) error
	GetCluster(ctx context.Context, id int64) (*types.Cluster, error)
	ListClusters(ctx context.Context) ([]*types.Cluster, error)
	UpdateCluster(ctx context.Context, c *types.Cluster) error
	DeleteCluster(ctx context.Context, id int64) error

	// Proposals. CreateProposal persists the proposal and its ordered
	// operations atomically. UpdateProposalStatus is a compare-and-swap:
	// it succeeds only when the current status is one of expect.
	CreateProposal(ctx context.Context, p *types.Proposal, ops []*types.Operation) error
	GetProposal(ctx context.Context, id int64) (*types.Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]*types.Proposal, error)
	ListOperations(ctx context.Context, proposalID int64) ([]*types.Operation, error)
	UpdateProposalStatus(ctx context.Context, id int64, expect []types.ProposalStatus, next types.ProposalStatus) error
	SetProposalExecution(ctx context.Context, id int64, jobID int64, actorID int64, at time.Time) error
	AddReview(ctx context.Context, r *types.Review) error
	ListReviews(ctx context.Context, proposalID int64) ([]*types.Review, error)

	// Snapshots
	CreateSnapshotRun(ctx context.Context, run *types.SnapshotRun) error
	GetSnapshotRun(ctx context.Context, id int64) (*types.SnapshotRun, error)
	ListSnapshotRuns(ctx context.Context, clusterID int64, limit int) ([]*types.SnapshotRun, error)
	LatestSnapshotRun(ctx context.Context, clusterID int64) (*types.SnapshotRun, error)
	FinishSnapshotRun(ctx context.Context, run *types.SnapshotRun) error
	RawSnapshot(ctx context.Context, runID int64) (types.RawSnapshot, error)

	// Normalized entity rows extracted from a completed run. Counts feed
	// snapshot summaries and cluster diagnostics.
	StoreSnapshotEntities(ctx context.Context, runID int64,
		users []*types.SnapshotUser, roles []*types.SnapshotRole,
		roleGrants []*types.SnapshotRoleGrant, privileges []*types.SnapshotPrivilege) error
	SnapshotEntityCounts(ctx context.Context, runID int64) (map[string]int, error)

	// Entity history
	AddEntityHistory(ctx context.Context, h *types.EntityHistory) error
	ListEntityHistory(ctx context.Context, clusterID int64, filter HistoryFilter) ([]*types.EntityHistory, error)

	// Audit trail
	AddAuditEvent(ctx context.Context, e *types.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]*types.AuditEvent, error)

	JobStore

	Close() error
}

// JobStore is the subset the executor pipeline needs. Jobs and steps
// live next to governance data but are only ever written by the executor.
type JobStore interface {
	CreateJob(ctx context.Context, j *types.Job, steps []*types.JobStep) error
	GetJob(ctx context.Context, id int64) (*types.Job, error)
	GetJobByCorrelation(ctx context.Context, correlationID string) (*types.Job, error)
	ListJobsByProposal(ctx context.Context, proposalID int64) ([]*types.Job, error)
	UpdateJob(ctx context.Context, j *types.Job) error
	UpdateJobStep(ctx context.Context, s *types.JobStep) error
	ListJobSteps(ctx context.Context, jobID int64) ([]*types.JobStep, error)
}
