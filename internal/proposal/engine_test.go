package proposal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/storage/sqlite"
	"github.com/grantline/grantline/internal/types"
)

// fakeExecutor returns a canned job result and records requests. The job
// row is persisted into the shared store so step lookups work like the
// real executor's.
type fakeExecutor struct {
	store    *sqlite.Store
	requests []*types.CreateJobRequest
	status   types.JobStatus
	stepFn   func(i int, op types.OperationPayload) types.JobStep
	err      error
}

func (f *fakeExecutor) SubmitJob(ctx context.Context, req *types.CreateJobRequest) (*types.JobResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	job := &types.Job{
		ProposalID:    req.ProposalID,
		ClusterID:     req.ClusterID,
		CorrelationID: req.CorrelationID,
		Mode:          req.Mode,
		Status:        f.status,
	}
	var steps []*types.JobStep
	for i, op := range req.Operations {
		var step types.JobStep
		if f.stepFn != nil {
			step = f.stepFn(i, op)
		} else {
			step = types.JobStep{Status: types.StepSuccess, ResultMessage: "OK"}
		}
		step.StepIndex = i
		step.OperationType = op.OperationType
		steps = append(steps, &step)
	}
	if err := f.store.CreateJob(ctx, job, steps); err != nil {
		return nil, err
	}
	result := &types.JobResult{Job: *job, Steps: make([]types.JobStep, len(steps))}
	for i, s := range steps {
		result.Steps[i] = *s
	}
	return result, nil
}

func setupEngine(t *testing.T) (*Engine, *fakeExecutor, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "governance.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	exec := &fakeExecutor{store: store, status: types.JobCompleted}
	return New(store, exec, zap.NewNop()), exec, store
}

func createCluster(t *testing.T, store *sqlite.Store) int64 {
	t.Helper()
	c := &types.Cluster{Name: "prod", Host: "ch", Port: 8123, Protocol: "http",
		Username: "default", PasswordEncrypted: "sealed-pw"}
	if err := store.CreateCluster(context.Background(), c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	return c.ID
}

func grantOp() types.OperationPayload {
	return types.OperationPayload{
		OperationType: "grant_privilege",
		Params: map[string]any{
			"privilege": "SELECT", "database": "analytics", "table": "events",
			"target_type": "role", "target_name": "analyst",
		},
	}
}

func TestCreateBuildsMaskedPreview(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{
		ClusterID: clusterID,
		ActorID:   1,
		Title:     "bootstrap analyst",
		Operations: []types.OperationPayload{
			{OperationType: "create_user", Params: map[string]any{
				"username": "alice", "password": "hunter2"}},
			grantOp(),
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.Status != types.ProposalSubmitted {
		t.Errorf("status = %q, want submitted", p.Status)
	}
	if strings.Contains(p.SQLPreview, "hunter2") {
		t.Errorf("password leaked into preview: %q", p.SQLPreview)
	}
	if !strings.Contains(p.SQLPreview, "BY '***'") {
		t.Errorf("preview not masked: %q", p.SQLPreview)
	}
	if !strings.Contains(p.SQLPreview, "GRANT SELECT ON `analytics`.`events` TO `analyst`") {
		t.Errorf("preview = %q", p.SQLPreview)
	}

	// Compensation lists inverses in reverse operation order.
	lines := strings.Split(p.CompensationSQL, "\n")
	if len(lines) != 2 {
		t.Fatalf("compensation = %q", p.CompensationSQL)
	}
	if lines[0] != "REVOKE SELECT ON `analytics`.`events` FROM `analyst`" {
		t.Errorf("compensation[0] = %q", lines[0])
	}
	if lines[1] != "DROP USER IF EXISTS `alice`" {
		t.Errorf("compensation[1] = %q", lines[1])
	}
}

func TestCreateRejectsInvalidOperation(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)

	_, err := e.Create(context.Background(), CreateInput{
		ClusterID: clusterID,
		Operations: []types.OperationPayload{
			{OperationType: "grant_privilege", Params: map[string]any{
				"privilege": "SELECT", "database": "analytics; DROP TABLE x",
				"target_type": "role", "target_name": "analyst"}},
		},
	})
	if err == nil {
		t.Fatal("invalid identifier accepted")
	}
	// Nothing persisted.
	proposals, listErr := store.ListProposals(context.Background(), storage.ProposalFilter{})
	if listErr != nil {
		t.Fatalf("ListProposals failed: %v", listErr)
	}
	if len(proposals) != 0 {
		t.Errorf("rejected proposal persisted: %+v", proposals)
	}
}

func TestCreateFlagsElevated(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)

	p, err := e.Create(context.Background(), CreateInput{
		ClusterID: clusterID,
		Operations: []types.OperationPayload{
			{OperationType: "grant_privilege", Params: map[string]any{
				"privilege": "ALL", "target_type": "role", "target_name": "admin"}},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !p.IsElevated {
		t.Error("ALL grant not flagged as elevated")
	}
}

func TestCreateLegacyGrantSelect(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.CreateLegacy(ctx, LegacyInput{
		ClusterID:  clusterID,
		Type:       types.TypeGrantSelect,
		DBName:     "analytics",
		TableName:  "events",
		TargetType: "role",
		TargetName: "analyst",
	})
	if err != nil {
		t.Fatalf("CreateLegacy failed: %v", err)
	}
	if p.SQLPreview != "GRANT SELECT ON `analytics`.`events` TO `analyst`" {
		t.Errorf("preview = %q", p.SQLPreview)
	}

	ops, err := store.ListOperations(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListOperations failed: %v", err)
	}
	if len(ops) != 1 || ops[0].OperationType != "grant_privilege" || ops[0].Params["privilege"] != "SELECT" {
		t.Errorf("inferred operation = %+v", ops[0])
	}

	// The stored row keeps the legacy shape, not just the returned value.
	got, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.Type != types.TypeGrantSelect {
		t.Errorf("stored type = %q, want grant_select", got.Type)
	}
	if got.DBName != "analytics" || got.TableName != "events" ||
		got.TargetType != "role" || got.TargetName != "analyst" {
		t.Errorf("stored legacy fields = %q %q %q %q",
			got.DBName, got.TableName, got.TargetType, got.TargetName)
	}
}

func TestApproveRejectTransitions(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	approved, err := e.Approve(ctx, p.ID, 9, "looks safe")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != types.ProposalApproved {
		t.Errorf("status = %q", approved.Status)
	}
	reviews, err := store.ListReviews(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListReviews failed: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Decision != "approved" || reviews[0].ReviewerUserID != 9 {
		t.Errorf("reviews = %+v", reviews)
	}

	// Already approved: a second decision is rejected.
	if _, err := e.Reject(ctx, p.ID, 9, "changed my mind"); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("second decision error = %v, want ErrInvalidState", err)
	}
}

func TestDryRunKeepsStatus(t *testing.T) {
	e, exec, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := e.DryRun(ctx, p.ID, 2)
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	if !strings.HasPrefix(result.CorrelationID, "dryrun-") {
		t.Errorf("correlation id = %q", result.CorrelationID)
	}
	req := exec.requests[0]
	if req.Mode != types.ModeDryRun {
		t.Errorf("mode = %q", req.Mode)
	}
	if req.ClusterConfig.PasswordEncrypted != "sealed-pw" {
		t.Errorf("credential not forwarded encrypted: %+v", req.ClusterConfig)
	}

	got, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.Status != types.ProposalSubmitted {
		t.Errorf("dry run changed status to %q", got.Status)
	}
}

func TestDryRunRequiresReviewableStatus(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := e.Reject(ctx, p.ID, 1, "no"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if _, err := e.DryRun(ctx, p.ID, 1); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("dry run on rejected proposal error = %v, want ErrInvalidState", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := e.Approve(ctx, p.ID, 9, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	final, result, err := e.Execute(ctx, p.ID, 7)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if final.Status != types.ProposalExecuted {
		t.Errorf("status = %q, want executed", final.Status)
	}
	if final.JobID == nil || *final.JobID != result.Job.ID {
		t.Errorf("job back-reference = %v", final.JobID)
	}
	if final.ExecutedBy == nil || *final.ExecutedBy != 7 {
		t.Errorf("executed_by = %v", final.ExecutedBy)
	}
	if !strings.HasPrefix(result.CorrelationID, "exec-") {
		t.Errorf("correlation id = %q", result.CorrelationID)
	}

	// Successful steps produce entity history.
	history, err := store.ListEntityHistory(ctx, clusterID, storage.HistoryFilter{})
	if err != nil {
		t.Fatalf("ListEntityHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %+v", history)
	}
	if history[0].EntityType != "privilege" || history[0].EntityName != "SELECT on analytics.events" {
		t.Errorf("history entry = %+v", history[0])
	}
	if history[0].Action != "grant_privilege" {
		t.Errorf("history action = %q", history[0].Action)
	}
}

func TestExecuteRequiresApproval(t *testing.T) {
	e, _, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, _, err := e.Execute(ctx, p.ID, 7); !errors.Is(err, storage.ErrInvalidState) {
		t.Errorf("execute without approval error = %v, want ErrInvalidState", err)
	}
}

func TestExecutePartialFailure(t *testing.T) {
	e, exec, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()
	exec.status = types.JobPartialFailure
	exec.stepFn = func(i int, op types.OperationPayload) types.JobStep {
		if i == 0 {
			return types.JobStep{Status: types.StepSuccess, ResultMessage: "OK"}
		}
		return types.JobStep{Status: types.StepError, ResultMessage: "Not enough privileges"}
	}

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{
		{OperationType: "create_role", Params: map[string]any{"role_name": "analyst"}},
		grantOp(),
	}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := e.Approve(ctx, p.ID, 9, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	final, _, err := e.Execute(ctx, p.ID, 7)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if final.Status != types.ProposalPartiallyExecuted {
		t.Errorf("status = %q, want partially_executed", final.Status)
	}

	// History records only the successful step.
	history, err := store.ListEntityHistory(ctx, clusterID, storage.HistoryFilter{})
	if err != nil {
		t.Fatalf("ListEntityHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].EntityType != "role" || history[0].EntityName != "analyst" {
		t.Errorf("history = %+v", history)
	}
}

func TestExecuteTransportFailureMarksFailed(t *testing.T) {
	e, exec, store := setupEngine(t)
	clusterID := createCluster(t, store)
	ctx := context.Background()
	exec.err = errors.New("dial tcp: connect: connection refused")

	p, err := e.Create(ctx, CreateInput{ClusterID: clusterID, Operations: []types.OperationPayload{grantOp()}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := e.Approve(ctx, p.ID, 9, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if _, _, err := e.Execute(ctx, p.ID, 7); err == nil {
		t.Fatal("transport failure not surfaced")
	}
	got, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.Status != types.ProposalFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestHistoryEntityMapping(t *testing.T) {
	tests := []struct {
		opType   string
		params   map[string]any
		wantType string
		wantName string
	}{
		{"create_user", map[string]any{"username": "alice"}, "user", "alice"},
		{"grant_role", map[string]any{"role_name": "analyst", "target_name": "alice"}, "role_assignment", "analyst -> alice"},
		{"grant_privilege", map[string]any{"privilege": "select", "database": "analytics"}, "privilege", "SELECT on analytics.*"},
		{"revoke_privilege", map[string]any{"privilege": "SELECT"}, "privilege", "SELECT on *.*"},
		{"assign_quota", map[string]any{"quota_name": "q1", "target_name": "alice"}, "quota_assignment", "q1 -> alice"},
		{"create_row_policy", map[string]any{"name": "tenant_filter"}, "row_policy", "tenant_filter"},
	}
	for _, tt := range tests {
		t.Run(tt.opType, func(t *testing.T) {
			entityType, entityName, ok := historyEntity(tt.opType, tt.params)
			if !ok {
				t.Fatal("no mapping")
			}
			if entityType != tt.wantType || entityName != tt.wantName {
				t.Errorf("got (%q, %q), want (%q, %q)", entityType, entityName, tt.wantType, tt.wantName)
			}
		})
	}

	if _, _, ok := historyEntity("unknown_op", nil); ok {
		t.Error("unknown operation mapped")
	}
}
