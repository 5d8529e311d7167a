package types

// Wire types for the governance → executor job RPC. The cluster password
// travels as ciphertext; the executor decrypts with the shared key and
// never persists the credential.

// ClusterConfig is the connection target carried inside a job request.
type ClusterConfig struct {
	Host              string `json:"host" validate:"required"`
	Port              int    `json:"port" validate:"required,min=1,max=65535"`
	Protocol          string `json:"protocol" validate:"required,oneof=http https"`
	Username          string `json:"username" validate:"required"`
	PasswordEncrypted string `json:"password_encrypted" validate:"required"`
}

// OperationPayload is one operation of a job request. The executor
// re-builds DDL from params and never trusts previously stored SQL.
type OperationPayload struct {
	OrderIndex    int            `json:"order_index"`
	OperationType string         `json:"operation_type" validate:"required"`
	Params        map[string]any `json:"params" validate:"required"`
}

// CreateJobRequest admits a job. Admission is idempotent on CorrelationID:
// re-submitting an existing correlation id returns the stored job unchanged.
type CreateJobRequest struct {
	ProposalID    int64              `json:"proposal_id" validate:"required"`
	ClusterID     int64              `json:"cluster_id" validate:"required"`
	ActorUserID   int64              `json:"actor_user_id"`
	CorrelationID string             `json:"correlation_id" validate:"required"`
	Mode          JobMode            `json:"mode" validate:"required,oneof=dry_run apply"`
	ClusterConfig ClusterConfig      `json:"cluster_config" validate:"required"`
	Operations    []OperationPayload `json:"operations" validate:"required,min=1,dive"`
}

// JobResult is the executor's response shape: the job row plus its steps
// in step_index order.
type JobResult struct {
	Job
	Steps []JobStep `json:"steps"`
}
