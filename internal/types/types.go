// Package types defines the shared domain types for the governance and
// executor services: clusters, proposals, jobs, and RBAC snapshots.
package types

import "time"

// ClusterHealth tracks the outcome of the most recent connection probe.
type ClusterHealth string

const (
	HealthNeverTested ClusterHealth = "never_tested"
	HealthHealthy     ClusterHealth = "healthy"
	HealthFailed      ClusterHealth = "failed"
)

// Cluster is a registered ClickHouse connection target. The password is
// stored AEAD-encrypted and never serialized to API consumers.
type Cluster struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	Protocol          string        `json:"protocol"` // http | https
	Username          string        `json:"username"`
	PasswordEncrypted string        `json:"-"`
	Database          string        `json:"database,omitempty"`
	IsDeleted         bool          `json:"-"`
	HealthStatus      ClusterHealth `json:"health_status"`
	LastTestedAt      *time.Time    `json:"last_tested_at,omitempty"`
	LatencyMs         *int64        `json:"latency_ms,omitempty"`
	ServerVersion     string        `json:"server_version,omitempty"`
	CurrentUser       string        `json:"current_user_detected,omitempty"`
	ErrorCode         string        `json:"error_code,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	CreatedBy         int64         `json:"created_by"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ProposalStatus values form a DAG:
//
//	draft → submitted → {approved, rejected}
//	approved → executing → {executed, partially_executed, failed}
//
// Rejected and the post-execution states are absorbing.
type ProposalStatus string

const (
	ProposalDraft             ProposalStatus = "draft"
	ProposalSubmitted         ProposalStatus = "submitted"
	ProposalApproved          ProposalStatus = "approved"
	ProposalRejected          ProposalStatus = "rejected"
	ProposalExecuting         ProposalStatus = "executing"
	ProposalExecuted          ProposalStatus = "executed"
	ProposalPartiallyExecuted ProposalStatus = "partially_executed"
	ProposalFailed            ProposalStatus = "failed"
)

type ProposalType string

const (
	TypeGrantSelect    ProposalType = "grant_select"
	TypeRevokeSelect   ProposalType = "revoke_select"
	TypeMultiOperation ProposalType = "multi_operation"
)

// Proposal is a reviewable RBAC change set against one cluster.
type Proposal struct {
	ID              int64          `json:"id"`
	ClusterID       int64          `json:"cluster_id"`
	CreatedBy       int64          `json:"created_by"`
	Status          ProposalStatus `json:"status"`
	Type            ProposalType   `json:"type"`
	Title           string         `json:"title,omitempty"`
	Description     string         `json:"description,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	IsElevated      bool           `json:"is_elevated"`
	SQLPreview      string         `json:"sql_preview"`
	CompensationSQL string         `json:"compensation_sql,omitempty"`
	JobID           *int64         `json:"job_id,omitempty"`
	ExecutedBy      *int64         `json:"executed_by,omitempty"`
	ExecutedAt      *time.Time     `json:"executed_at,omitempty"`

	// Legacy single-operation fields.
	DBName     string `json:"db_name,omitempty"`
	TableName  string `json:"table_name,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	TargetName string `json:"target_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation is one ordered step of a multi-operation proposal. Operations
// are written at proposal creation and never mutated afterwards.
type Operation struct {
	ID              int64          `json:"id"`
	ProposalID      int64          `json:"proposal_id"`
	OrderIndex      int            `json:"order_index"`
	OperationType   string         `json:"operation_type"`
	Params          map[string]any `json:"params"`
	SQLPreview      string         `json:"sql_preview"`
	CompensationSQL string         `json:"compensation_sql,omitempty"`
}

// Review is an append-only approve/reject decision on a proposal.
type Review struct {
	ID             int64     `json:"id"`
	ProposalID     int64     `json:"proposal_id"`
	ReviewerUserID int64     `json:"reviewer_user_id"`
	Decision       string    `json:"decision"` // approved | rejected
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type JobMode string

const (
	ModeDryRun JobMode = "dry_run"
	ModeApply  JobMode = "apply"
)

type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobRunning        JobStatus = "running"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobPartialFailure JobStatus = "partial_failure"
)

// Job is one execution attempt (dry-run or apply) of a proposal. Jobs are
// owned by the executor store; governance holds only the id back-reference.
type Job struct {
	ID            int64      `json:"id"`
	ProposalID    int64      `json:"proposal_id"`
	ClusterID     int64      `json:"cluster_id"`
	ActorUserID   int64      `json:"actor_user_id"`
	CorrelationID string     `json:"correlation_id"`
	Mode          JobMode    `json:"mode"`
	Status        JobStatus  `json:"status"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepSuccess  StepStatus = "success"
	StepError    StepStatus = "error"
	StepSkipped  StepStatus = "skipped"
	StepDryRunOK StepStatus = "dry_run_ok"
)

// JobStep records the exact forward DDL and outcome of one operation
// within a job.
type JobStep struct {
	ID              int64      `json:"id"`
	JobID           int64      `json:"job_id"`
	StepIndex       int        `json:"step_index"`
	OperationType   string     `json:"operation_type"`
	SQLStatement    string     `json:"sql_statement"`
	CompensationSQL string     `json:"compensation_sql,omitempty"`
	Status          StepStatus `json:"status"`
	ResultMessage   string     `json:"result_message,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

type SnapshotStatus string

const (
	SnapshotPending   SnapshotStatus = "pending"
	SnapshotRunning   SnapshotStatus = "running"
	SnapshotCompleted SnapshotStatus = "completed"
	SnapshotFailed    SnapshotStatus = "failed"
)

// RawSnapshot is the canonical raw payload of a collection run: system
// table name → rows as decoded JSONEachRow objects.
type RawSnapshot map[string][]map[string]any

// SnapshotRun is one collection attempt against a cluster. Once completed,
// the run and its entities are immutable.
type SnapshotRun struct {
	ID          int64          `json:"id"`
	ClusterID   int64          `json:"cluster_id"`
	Status      SnapshotStatus `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RawPayload  string         `json:"-"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SnapshotUser is a normalized system.users row.
type SnapshotUser struct {
	ID               int64  `json:"id"`
	SnapshotID       int64  `json:"snapshot_id"`
	Name             string `json:"name"`
	CHID             string `json:"ch_id,omitempty"`
	Storage          string `json:"storage,omitempty"`
	AuthType         string `json:"auth_type,omitempty"`
	HostIP           string `json:"host_ip,omitempty"`     // JSON array
	HostNames        string `json:"host_names,omitempty"`  // JSON array
	DefaultRolesAll  bool   `json:"default_roles_all"`
	DefaultRolesList string `json:"default_roles_list,omitempty"` // JSON array
	GranteesAny      bool   `json:"grantees_any"`
	GranteesList     string `json:"grantees_list,omitempty"` // JSON array
}

type SnapshotRole struct {
	ID         int64  `json:"id"`
	SnapshotID int64  `json:"snapshot_id"`
	Name       string `json:"name"`
	CHID       string `json:"ch_id,omitempty"`
	Storage    string `json:"storage,omitempty"`
}

type SnapshotRoleGrant struct {
	ID              int64  `json:"id"`
	SnapshotID      int64  `json:"snapshot_id"`
	UserName        string `json:"user_name,omitempty"`
	RoleName        string `json:"role_name,omitempty"`
	GrantedRoleName string `json:"granted_role_name"`
	IsDefault       bool   `json:"is_default"`
	WithAdminOption bool   `json:"with_admin_option"`
}

type SnapshotPrivilege struct {
	ID              int64  `json:"id"`
	SnapshotID      int64  `json:"snapshot_id"`
	UserName        string `json:"user_name,omitempty"`
	RoleName        string `json:"role_name,omitempty"`
	AccessType      string `json:"access_type"`
	Database        string `json:"database,omitempty"`
	Table           string `json:"table,omitempty"`
	Column          string `json:"column,omitempty"`
	IsPartialRevoke bool   `json:"is_partial_revoke"`
	GrantOption     bool   `json:"grant_option"`
}

// EntityHistory is a per-cluster audit row derived from a successful job
// step: what changed, through which proposal and job.
type EntityHistory struct {
	ID          int64     `json:"id"`
	ClusterID   int64     `json:"cluster_id"`
	EntityType  string    `json:"entity_type"`
	EntityName  string    `json:"entity_name"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"`
	ProposalID  *int64    `json:"proposal_id,omitempty"`
	JobID       *int64    `json:"job_id,omitempty"`
	ActorUserID *int64    `json:"actor_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEvent is an append-only operator action record.
type AuditEvent struct {
	ID          int64     `json:"id"`
	ActorUserID *int64    `json:"actor_user_id,omitempty"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    *int64    `json:"entity_id,omitempty"`
	Metadata    string    `json:"metadata,omitempty"` // JSON object
	CreatedAt   time.Time `json:"created_at"`
}
