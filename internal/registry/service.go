// Package registry manages the cluster inventory: registration,
// credential sealing, connection testing, and health diagnostics.
package registry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/clickhouse"
	"github.com/grantline/grantline/internal/secrets"
	"github.com/grantline/grantline/internal/storage"
	"github.com/grantline/grantline/internal/types"
)

// probeFn validates a connection. Injectable for tests.
type probeFn func(ctx context.Context, host string, port int, protocol, username, password string) clickhouse.TestResult

// Service owns cluster registry operations.
type Service struct {
	store  storage.Storage
	box    *secrets.Box
	logger *zap.Logger
	probe  probeFn
}

// New builds a registry service with the production connection probe.
func New(store storage.Storage, box *secrets.Box, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		box:    box,
		logger: logger,
		probe: func(ctx context.Context, host string, port int, protocol, username, password string) clickhouse.TestResult {
			client := clickhouse.New(host, port, protocol, username, password, "", clickhouse.DefaultTimeout)
			return client.Validate(ctx)
		},
	}
}

// CreateInput is a cluster registration request.
type CreateInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Protocol string `json:"protocol" validate:"required,oneof=http https"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Database string `json:"database"`
}

// UpdateInput is a partial cluster update. Nil fields are left untouched.
type UpdateInput struct {
	Name     *string `json:"name" validate:"omitempty,max=255"`
	Host     *string `json:"host"`
	Port     *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Protocol *string `json:"protocol" validate:"omitempty,oneof=http https"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Database *string `json:"database"`
}

// Create seals the password and registers the cluster.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID int64) (*types.Cluster, error) {
	sealed, err := s.box.Encrypt(in.Password)
	if err != nil {
		return nil, err
	}
	c := &types.Cluster{
		Name:              in.Name,
		Host:              in.Host,
		Port:              in.Port,
		Protocol:          in.Protocol,
		Username:          in.Username,
		PasswordEncrypted: sealed,
		Database:          in.Database,
		CreatedBy:         actorID,
	}
	if err := s.store.CreateCluster(ctx, c); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "cluster.create", c.ID, map[string]any{"name": c.Name, "host": c.Host})
	return c, nil
}

// Get returns one cluster.
func (s *Service) Get(ctx context.Context, id int64) (*types.Cluster, error) {
	return s.store.GetCluster(ctx, id)
}

// List returns all live clusters.
func (s *Service) List(ctx context.Context) ([]*types.Cluster, error) {
	return s.store.ListClusters(ctx)
}

// Update applies a partial update. Changing any connection-critical
// field (host, port, protocol, username, password) invalidates the
// stored health verdict: the cluster drops back to never_tested and its
// diagnostics are cleared until the next test.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, actorID int64) (*types.Cluster, error) {
	c, err := s.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := map[string]any{}
	critical := false
	if in.Name != nil && *in.Name != c.Name {
		c.Name = *in.Name
		changed["name"] = *in.Name
	}
	if in.Host != nil && *in.Host != c.Host {
		c.Host = *in.Host
		changed["host"] = *in.Host
		critical = true
	}
	if in.Port != nil && *in.Port != c.Port {
		c.Port = *in.Port
		changed["port"] = *in.Port
		critical = true
	}
	if in.Protocol != nil && *in.Protocol != c.Protocol {
		c.Protocol = *in.Protocol
		changed["protocol"] = *in.Protocol
		critical = true
	}
	if in.Username != nil && *in.Username != c.Username {
		c.Username = *in.Username
		changed["username"] = *in.Username
		critical = true
	}
	if in.Password != nil {
		sealed, err := s.box.Encrypt(*in.Password)
		if err != nil {
			return nil, err
		}
		c.PasswordEncrypted = sealed
		changed["password"] = "[changed]"
		critical = true
	}
	if in.Database != nil && *in.Database != c.Database {
		c.Database = *in.Database
		changed["database"] = *in.Database
	}

	if critical {
		c.HealthStatus = types.HealthNeverTested
		c.LastTestedAt = nil
		c.LatencyMs = nil
		c.ServerVersion = ""
		c.CurrentUser = ""
		c.ErrorCode = ""
		c.ErrorMessage = ""
	}

	if err := s.store.UpdateCluster(ctx, c); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "cluster.update", c.ID, changed)
	return c, nil
}

// Delete soft-deletes a cluster.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if err := s.store.DeleteCluster(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actorID, "cluster.delete", id, nil)
	return nil
}

// Test probes a registered cluster and persists the verdict.
func (s *Service) Test(ctx context.Context, id int64, actorID int64) (*clickhouse.TestResult, error) {
	c, err := s.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	password, err := s.box.Decrypt(c.PasswordEncrypted)
	if err != nil {
		return nil, err
	}

	result := s.probe(ctx, c.Host, c.Port, c.Protocol, c.Username, password)
	now := time.Now().UTC()
	c.LastTestedAt = &now
	c.LatencyMs = result.LatencyMs
	if result.OK {
		c.HealthStatus = types.HealthHealthy
		c.ServerVersion = result.ServerVersion
		c.CurrentUser = result.CurrentUser
		c.ErrorCode = ""
		c.ErrorMessage = ""
	} else {
		c.HealthStatus = types.HealthFailed
		c.ErrorCode = result.ErrorCode
		c.ErrorMessage = result.Message
	}
	if err := s.store.UpdateCluster(ctx, c); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "cluster.test", c.ID, map[string]any{
		"ok": result.OK, "error_code": result.ErrorCode})
	return &result, nil
}

// ValidateParams probes connection parameters without saving anything.
// Used by the registration form before the cluster exists.
func (s *Service) ValidateParams(ctx context.Context, in CreateInput) clickhouse.TestResult {
	return s.probe(ctx, in.Host, in.Port, in.Protocol, in.Username, in.Password)
}

// Diagnostics is the health detail view of a cluster.
type Diagnostics struct {
	ClusterID       int64               `json:"cluster_id"`
	HealthStatus    types.ClusterHealth `json:"health_status"`
	LastTestedAt    *time.Time          `json:"last_tested_at,omitempty"`
	LatencyMs       *int64              `json:"latency_ms,omitempty"`
	ServerVersion   string              `json:"server_version,omitempty"`
	CurrentUser     string              `json:"current_user_detected,omitempty"`
	ErrorCode       string              `json:"error_code,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	Suggestions     []string            `json:"suggestions,omitempty"`
	DependencyCount int                 `json:"dependency_count"`
}

// GetDiagnostics assembles the health view plus how many proposals
// depend on the cluster.
func (s *Service) GetDiagnostics(ctx context.Context, id int64) (*Diagnostics, error) {
	c, err := s.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	proposals, err := s.store.ListProposals(ctx, storage.ProposalFilter{ClusterID: &c.ID})
	if err != nil {
		return nil, err
	}
	d := &Diagnostics{
		ClusterID:       c.ID,
		HealthStatus:    c.HealthStatus,
		LastTestedAt:    c.LastTestedAt,
		LatencyMs:       c.LatencyMs,
		ServerVersion:   c.ServerVersion,
		CurrentUser:     c.CurrentUser,
		ErrorCode:       c.ErrorCode,
		ErrorMessage:    c.ErrorMessage,
		DependencyCount: len(proposals),
	}
	if c.ErrorCode != "" {
		d.Suggestions = clickhouse.Suggestions(c.ErrorCode)
	}
	return d, nil
}

// Client builds a connected clickhouse client for a registered cluster.
func (s *Service) Client(ctx context.Context, id int64) (*clickhouse.Client, error) {
	c, err := s.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	password, err := s.box.Decrypt(c.PasswordEncrypted)
	if err != nil {
		return nil, err
	}
	return clickhouse.New(c.Host, c.Port, c.Protocol, c.Username, password, c.Database, clickhouse.DefaultTimeout), nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, clusterID int64, meta map[string]any) {
	event := &types.AuditEvent{
		ActorUserID: &actorID,
		Action:      action,
		EntityType:  "cluster",
		EntityID:    &clusterID,
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			event.Metadata = string(b)
		}
	}
	if err := s.store.AddAuditEvent(ctx, event); err != nil {
		s.logger.Error("failed to record audit event", zap.String("action", action), zap.Error(err))
	}
}
