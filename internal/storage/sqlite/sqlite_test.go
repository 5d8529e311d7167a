package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testCluster(name string) *types.Cluster {
	return &types.Cluster{
		Name:              name,
		Host:              "ch.internal",
		Port:              8123,
		Protocol:          "http",
		Username:          "default",
		PasswordEncrypted: "sealed",
	}
}

func TestClusterCRUD(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("id not assigned")
	}
	if c.HealthStatus != types.HealthNeverTested {
		t.Errorf("health = %q, want never_tested", c.HealthStatus)
	}

	got, err := store.GetCluster(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if got.Name != "prod" || got.PasswordEncrypted != "sealed" {
		t.Errorf("cluster = %+v", got)
	}

	latency := int64(12)
	got.HealthStatus = types.HealthHealthy
	got.LatencyMs = &latency
	got.ServerVersion = "24.3.1.100"
	now := time.Now().UTC()
	got.LastTestedAt = &now
	if err := store.UpdateCluster(ctx, got); err != nil {
		t.Fatalf("UpdateCluster failed: %v", err)
	}
	got, err = store.GetCluster(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCluster after update failed: %v", err)
	}
	if got.HealthStatus != types.HealthHealthy || got.LatencyMs == nil || *got.LatencyMs != 12 {
		t.Errorf("diagnostics not persisted: %+v", got)
	}
	if got.LastTestedAt == nil {
		t.Error("last_tested_at not persisted")
	}
}

func TestClusterNameConflict(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if err := store.CreateCluster(ctx, testCluster("prod")); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	err := store.CreateCluster(ctx, testCluster("prod"))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate name error = %v, want ErrConflict", err)
	}
}

func TestClusterSoftDeleteFreesName(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("staging")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	if err := store.DeleteCluster(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCluster failed: %v", err)
	}
	if _, err := store.GetCluster(ctx, c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted cluster still readable: %v", err)
	}
	if err := store.CreateCluster(ctx, testCluster("staging")); err != nil {
		t.Errorf("name not freed after soft delete: %v", err)
	}
	clusters, err := store.ListClusters(ctx)
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Errorf("got %d clusters, want 1", len(clusters))
	}
}

func createTestProposal(t *testing.T, store *Store, clusterID int64) *types.Proposal {
	t.Helper()
	p := &types.Proposal{
		ClusterID:  clusterID,
		Status:     types.ProposalSubmitted,
		Type:       types.TypeMultiOperation,
		Title:      "grant analyst read",
		SQLPreview: "GRANT SELECT ON `analytics`.* TO `analyst`",
	}
	ops := []*types.Operation{
		{
			OrderIndex:    0,
			OperationType: "grant_privilege",
			Params:        map[string]any{"privilege": "SELECT", "database": "analytics", "target_type": "role", "target_name": "analyst"},
			SQLPreview:    "GRANT SELECT ON `analytics`.* TO `analyst`",
		},
	}
	if err := store.CreateProposal(context.Background(), p, ops); err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	return p
}

func TestProposalCreateAndOperations(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	p := createTestProposal(t, store, c.ID)

	ops, err := store.ListOperations(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListOperations failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d operations, want 1", len(ops))
	}
	if ops[0].OperationType != "grant_privilege" || ops[0].Params["database"] != "analytics" {
		t.Errorf("operation = %+v", ops[0])
	}
}

func TestProposalStatusCompareAndSwap(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	p := createTestProposal(t, store, c.ID)

	submitted := []types.ProposalStatus{types.ProposalSubmitted}
	if err := store.UpdateProposalStatus(ctx, p.ID, submitted, types.ProposalApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	// A second approval attempt loses the swap.
	err := store.UpdateProposalStatus(ctx, p.ID, submitted, types.ProposalRejected)
	if !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("stale transition error = %v, want ErrInvalidState", err)
	}

	got, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.Status != types.ProposalApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}

	err = store.UpdateProposalStatus(ctx, 9999, submitted, types.ProposalApproved)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing proposal error = %v, want ErrNotFound", err)
	}
}

func TestProposalExecutionRecord(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	p := createTestProposal(t, store, c.ID)

	at := time.Now().UTC()
	if err := store.SetProposalExecution(ctx, p.ID, 42, 7, at); err != nil {
		t.Fatalf("SetProposalExecution failed: %v", err)
	}
	got, err := store.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if got.JobID == nil || *got.JobID != 42 {
		t.Errorf("job_id = %v", got.JobID)
	}
	if got.ExecutedBy == nil || *got.ExecutedBy != 7 {
		t.Errorf("executed_by = %v", got.ExecutedBy)
	}
	if got.ExecutedAt == nil {
		t.Error("executed_at not set")
	}
}

func TestReviews(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	p := createTestProposal(t, store, c.ID)

	r := &types.Review{ProposalID: p.ID, ReviewerUserID: 3, Decision: "approved", Comment: "lgtm"}
	if err := store.AddReview(ctx, r); err != nil {
		t.Fatalf("AddReview failed: %v", err)
	}
	reviews, err := store.ListReviews(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListReviews failed: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Decision != "approved" || reviews[0].Comment != "lgtm" {
		t.Errorf("reviews = %+v", reviews)
	}
}

func TestSnapshotRunLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	run := &types.SnapshotRun{ClusterID: c.ID, Status: types.SnapshotRunning}
	if err := store.CreateSnapshotRun(ctx, run); err != nil {
		t.Fatalf("CreateSnapshotRun failed: %v", err)
	}

	// No completed run yet.
	if _, err := store.LatestSnapshotRun(ctx, c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LatestSnapshotRun before completion = %v, want ErrNotFound", err)
	}

	now := time.Now().UTC()
	run.Status = types.SnapshotCompleted
	run.CompletedAt = &now
	run.RawPayload = `{"users":[{"name":"alice"}],"roles":[]}`
	if err := store.FinishSnapshotRun(ctx, run); err != nil {
		t.Fatalf("FinishSnapshotRun failed: %v", err)
	}

	latest, err := store.LatestSnapshotRun(ctx, c.ID)
	if err != nil {
		t.Fatalf("LatestSnapshotRun failed: %v", err)
	}
	if latest.ID != run.ID {
		t.Errorf("latest = %d, want %d", latest.ID, run.ID)
	}

	raw, err := store.RawSnapshot(ctx, run.ID)
	if err != nil {
		t.Fatalf("RawSnapshot failed: %v", err)
	}
	if len(raw["users"]) != 1 || raw["users"][0]["name"] != "alice" {
		t.Errorf("raw payload = %+v", raw)
	}
}

func TestSnapshotEntities(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	run := &types.SnapshotRun{ClusterID: c.ID}
	if err := store.CreateSnapshotRun(ctx, run); err != nil {
		t.Fatalf("CreateSnapshotRun failed: %v", err)
	}

	err := store.StoreSnapshotEntities(ctx, run.ID,
		[]*types.SnapshotUser{{Name: "alice"}, {Name: "bob"}},
		[]*types.SnapshotRole{{Name: "analyst"}},
		[]*types.SnapshotRoleGrant{{UserName: "alice", GrantedRoleName: "analyst"}},
		[]*types.SnapshotPrivilege{{RoleName: "analyst", AccessType: "SELECT", Database: "analytics"}})
	if err != nil {
		t.Fatalf("StoreSnapshotEntities failed: %v", err)
	}

	counts, err := store.SnapshotEntityCounts(ctx, run.ID)
	if err != nil {
		t.Fatalf("SnapshotEntityCounts failed: %v", err)
	}
	want := map[string]int{"users": 2, "roles": 1, "role_grants": 1, "grants": 1}
	for family, n := range want {
		if counts[family] != n {
			t.Errorf("counts[%s] = %d, want %d", family, counts[family], n)
		}
	}

	// Re-store replaces, not appends.
	err = store.StoreSnapshotEntities(ctx, run.ID,
		[]*types.SnapshotUser{{Name: "alice"}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("second StoreSnapshotEntities failed: %v", err)
	}
	counts, err = store.SnapshotEntityCounts(ctx, run.ID)
	if err != nil {
		t.Fatalf("SnapshotEntityCounts failed: %v", err)
	}
	if counts["users"] != 1 || counts["roles"] != 0 {
		t.Errorf("counts after replace = %v", counts)
	}
}

func TestEntityHistoryFilter(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := testCluster("prod")
	if err := store.CreateCluster(ctx, c); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}

	records := []*types.EntityHistory{
		{ClusterID: c.ID, EntityType: "user", EntityName: "alice", Action: "create_user"},
		{ClusterID: c.ID, EntityType: "role", EntityName: "analyst", Action: "create_role"},
		{ClusterID: c.ID, EntityType: "user", EntityName: "alice", Action: "alter_user_password"},
	}
	for _, h := range records {
		if err := store.AddEntityHistory(ctx, h); err != nil {
			t.Fatalf("AddEntityHistory failed: %v", err)
		}
	}

	got, err := store.ListEntityHistory(ctx, c.ID, storage.HistoryFilter{EntityType: "user", EntityName: "alice"})
	if err != nil {
		t.Fatalf("ListEntityHistory failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Newest first.
	if got[0].Action != "alter_user_password" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestAuditEvents(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	actor := int64(5)
	e := &types.AuditEvent{
		ActorUserID: &actor,
		Action:      "cluster.create",
		EntityType:  "cluster",
		Metadata:    `{"name":"prod"}`,
	}
	if err := store.AddAuditEvent(ctx, e); err != nil {
		t.Fatalf("AddAuditEvent failed: %v", err)
	}
	if err := store.AddAuditEvent(ctx, &types.AuditEvent{Action: "proposal.approve"}); err != nil {
		t.Fatalf("AddAuditEvent failed: %v", err)
	}

	got, err := store.ListAuditEvents(ctx, storage.AuditFilter{Action: "cluster.create"})
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].ActorUserID == nil || *got[0].ActorUserID != 5 {
		t.Errorf("events = %+v", got)
	}
}

func TestJobCorrelationIdempotency(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	j := &types.Job{ProposalID: 1, ClusterID: 1, CorrelationID: "exec-1-deadbeef", Mode: types.ModeApply}
	steps := []*types.JobStep{
		{StepIndex: 0, OperationType: "create_role", SQLStatement: "CREATE ROLE `analyst`"},
		{StepIndex: 1, OperationType: "grant_privilege", SQLStatement: "GRANT SELECT ON `analytics`.* TO `analyst`"},
	}
	if err := store.CreateJob(ctx, j, steps); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	dup := &types.Job{ProposalID: 1, ClusterID: 1, CorrelationID: "exec-1-deadbeef", Mode: types.ModeApply}
	err := store.CreateJob(ctx, dup, nil)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("duplicate correlation error = %v, want ErrConflict", err)
	}

	existing, err := store.GetJobByCorrelation(ctx, "exec-1-deadbeef")
	if err != nil {
		t.Fatalf("GetJobByCorrelation failed: %v", err)
	}
	if existing.ID != j.ID {
		t.Errorf("got job %d, want %d", existing.ID, j.ID)
	}

	loaded, err := store.ListJobSteps(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListJobSteps failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Status != types.StepPending {
		t.Errorf("steps = %+v", loaded)
	}
}

func TestJobStepUpdate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	j := &types.Job{ProposalID: 2, ClusterID: 1, CorrelationID: "dryrun-2-cafebabe", Mode: types.ModeDryRun}
	steps := []*types.JobStep{{StepIndex: 0, OperationType: "create_user", SQLStatement: "CREATE USER `x` IDENTIFIED WITH sha256_password BY 'pw'"}}
	if err := store.CreateJob(ctx, j, steps); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	now := time.Now().UTC()
	steps[0].Status = types.StepDryRunOK
	steps[0].ResultMessage = "Validation passed"
	steps[0].ExecutedAt = &now
	if err := store.UpdateJobStep(ctx, steps[0]); err != nil {
		t.Fatalf("UpdateJobStep failed: %v", err)
	}

	j.Status = types.JobCompleted
	j.CompletedAt = &now
	if err := store.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	got, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted || got.CompletedAt == nil {
		t.Errorf("job = %+v", got)
	}
	loaded, err := store.ListJobSteps(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListJobSteps failed: %v", err)
	}
	if loaded[0].Status != types.StepDryRunOK || loaded[0].ResultMessage != "Validation passed" {
		t.Errorf("step = %+v", loaded[0])
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	// Running migrations again on an initialized database is a no-op.
	if err := runMigrations(store.DB()); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
}
