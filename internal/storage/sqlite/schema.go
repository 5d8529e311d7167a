package sqlite

const schema = `
-- Registered ClickHouse clusters
CREATE TABLE IF NOT EXISTS clusters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL CHECK(length(name) <= 255),
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    protocol TEXT NOT NULL DEFAULT 'http' CHECK(protocol IN ('http', 'https')),
    username TEXT NOT NULL,
    password_encrypted TEXT NOT NULL,
    database_name TEXT NOT NULL DEFAULT '',
    is_deleted INTEGER NOT NULL DEFAULT 0,
    health_status TEXT NOT NULL DEFAULT 'never_tested',
    last_tested_at DATETIME,
    latency_ms INTEGER,
    server_version TEXT NOT NULL DEFAULT '',
    current_user_detected TEXT NOT NULL DEFAULT '',
    error_code TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_by INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Name uniqueness applies only to live rows; a deleted cluster frees its name.
CREATE UNIQUE INDEX IF NOT EXISTS idx_clusters_name_active ON clusters(name) WHERE is_deleted = 0;

-- Change proposals
CREATE TABLE IF NOT EXISTS proposals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cluster_id INTEGER NOT NULL,
    created_by INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'submitted',
    proposal_type TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    is_elevated INTEGER NOT NULL DEFAULT 0,
    sql_preview TEXT NOT NULL DEFAULT '',
    compensation_sql TEXT NOT NULL DEFAULT '',
    job_id INTEGER,
    executed_by INTEGER,
    executed_at DATETIME,
    db_name TEXT NOT NULL DEFAULT '',
    table_name TEXT NOT NULL DEFAULT '',
    target_type TEXT NOT NULL DEFAULT '',
    target_name TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_proposals_cluster ON proposals(cluster_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);

-- Ordered operations of a proposal; immutable after creation
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id INTEGER NOT NULL,
    order_index INTEGER NOT NULL,
    operation_type TEXT NOT NULL,
    params TEXT NOT NULL DEFAULT '{}',
    sql_preview TEXT NOT NULL DEFAULT '',
    compensation_sql TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (proposal_id) REFERENCES proposals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_operations_proposal ON operations(proposal_id, order_index);

-- Append-only review decisions
CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id INTEGER NOT NULL,
    reviewer_user_id INTEGER NOT NULL DEFAULT 0,
    decision TEXT NOT NULL CHECK(decision IN ('approved', 'rejected')),
    comment TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (proposal_id) REFERENCES proposals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_reviews_proposal ON reviews(proposal_id);

-- RBAC snapshot collection runs
CREATE TABLE IF NOT EXISTS snapshot_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cluster_id INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    started_at DATETIME,
    completed_at DATETIME,
    raw_payload TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_runs_cluster ON snapshot_runs(cluster_id, id);

-- Normalized snapshot entities
CREATE TABLE IF NOT EXISTS snapshot_users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    ch_id TEXT NOT NULL DEFAULT '',
    storage TEXT NOT NULL DEFAULT '',
    auth_type TEXT NOT NULL DEFAULT '',
    host_ip TEXT NOT NULL DEFAULT '',
    host_names TEXT NOT NULL DEFAULT '',
    default_roles_all INTEGER NOT NULL DEFAULT 0,
    default_roles_list TEXT NOT NULL DEFAULT '',
    grantees_any INTEGER NOT NULL DEFAULT 0,
    grantees_list TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (snapshot_id) REFERENCES snapshot_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_roles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    ch_id TEXT NOT NULL DEFAULT '',
    storage TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (snapshot_id) REFERENCES snapshot_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_role_grants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    role_name TEXT NOT NULL DEFAULT '',
    granted_role_name TEXT NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0,
    with_admin_option INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (snapshot_id) REFERENCES snapshot_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshot_privileges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    role_name TEXT NOT NULL DEFAULT '',
    access_type TEXT NOT NULL,
    database_name TEXT NOT NULL DEFAULT '',
    table_name TEXT NOT NULL DEFAULT '',
    column_name TEXT NOT NULL DEFAULT '',
    is_partial_revoke INTEGER NOT NULL DEFAULT 0,
    grant_option INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (snapshot_id) REFERENCES snapshot_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_snapshot_users_snapshot ON snapshot_users(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_roles_snapshot ON snapshot_roles(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_role_grants_snapshot ON snapshot_role_grants(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_privileges_snapshot ON snapshot_privileges(snapshot_id);

-- Per-cluster entity change log derived from successful job steps
CREATE TABLE IF NOT EXISTS entity_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cluster_id INTEGER NOT NULL,
    entity_type TEXT NOT NULL,
    entity_name TEXT NOT NULL,
    action TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    proposal_id INTEGER,
    job_id INTEGER,
    actor_user_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (cluster_id) REFERENCES clusters(id)
);

CREATE INDEX IF NOT EXISTS idx_entity_history_cluster ON entity_history(cluster_id, id);
CREATE INDEX IF NOT EXISTS idx_entity_history_entity ON entity_history(entity_type, entity_name);

-- Operator action audit trail
CREATE TABLE IF NOT EXISTS audit_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    actor_user_id INTEGER,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id INTEGER,
    metadata TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);

-- Executor jobs. correlation_id is the idempotency key: a retried request
-- with the same id must return the original job.
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id INTEGER NOT NULL,
    cluster_id INTEGER NOT NULL,
    actor_user_id INTEGER NOT NULL DEFAULT 0,
    correlation_id TEXT NOT NULL UNIQUE,
    mode TEXT NOT NULL CHECK(mode IN ('dry_run', 'apply')),
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_proposal ON jobs(proposal_id);

CREATE TABLE IF NOT EXISTS job_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id INTEGER NOT NULL,
    step_index INTEGER NOT NULL,
    operation_type TEXT NOT NULL,
    sql_statement TEXT NOT NULL DEFAULT '',
    compensation_sql TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    result_message TEXT NOT NULL DEFAULT '',
    executed_at DATETIME,
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_job_steps_job ON job_steps(job_id, step_index);
`
