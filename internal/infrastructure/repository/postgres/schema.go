package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS document_types (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	type_id TEXT NOT NULL DEFAULT '',
	access_groups JSONB NOT NULL DEFAULT '[]'::jsonb,
	file_key TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	file_mime TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL,
	is_public BOOLEAN NOT NULL DEFAULT FALSE,
	approved_at TIMESTAMPTZ,
	approved_by TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS document_versions (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	version TEXT NOT NULL,
	file JSONB,
	previous_file JSONB,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_versions_document ON document_versions(document_id, created_at);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	author_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_document ON comments(document_id, created_at);

CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	old_file JSONB,
	new_file JSONB,
	before_state JSONB,
	after_state JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_document ON audit_entries(document_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS roles (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS role_capabilities (
	role TEXT NOT NULL REFERENCES roles(name),
	capability TEXT NOT NULL,
	PRIMARY KEY (role, capability)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	actor_id TEXT NOT NULL,
	role TEXT NOT NULL REFERENCES roles(name),
	active BOOLEAN NOT NULL DEFAULT TRUE,
	granted_by TEXT NOT NULL DEFAULT '',
	granted_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	PRIMARY KEY (actor_id, role)
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	document_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	read_at TIMESTAMPTZ
);

ALTER TABLE notifications ADD COLUMN IF NOT EXISTS data JSONB NOT NULL DEFAULT '{}'::jsonb;

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
`

// EnsureSchema creates the tables and seeds default capabilities for roles
// that do not exist yet. Roles already present keep their stored capabilities.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	defaults := workflow.DefaultRoleCapabilities()
	roles := make([]string, 0, len(defaults))
	for role := range defaults {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		result, err := tx.ExecContext(ctx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT DO NOTHING`, role)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
		if inserted, err := result.RowsAffected(); err != nil || inserted == 0 {
			continue
		}
		for _, capability := range defaults[domain.RoleName(role)] {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO role_capabilities (role, capability) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, role, string(capability)); err != nil {
				return fmt.Errorf("seed capability %s/%s: %w", role, capability, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
