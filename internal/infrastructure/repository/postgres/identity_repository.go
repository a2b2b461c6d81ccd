package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// IdentityRepository stores roles, their capabilities and actor assignments.
type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) ResolveRoles(ctx context.Context, actorID string) ([]domain.RoleName, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT role
FROM role_assignments
WHERE actor_id = $1 AND active AND revoked_at IS NULL
ORDER BY role
`, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoleName, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, domain.RoleName(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}

// ResolveCapabilities drops stored tokens outside the known capability set.
func (r *IdentityRepository) ResolveCapabilities(ctx context.Context, role domain.RoleName) ([]domain.Capability, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT capability
FROM role_capabilities
WHERE role = $1
ORDER BY capability
`, string(role))
	if err != nil {
		return nil, fmt.Errorf("resolve capabilities: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Capability, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		if c := domain.Capability(raw); c.Valid() {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capabilities: %w", err)
	}
	return out, nil
}

func (r *IdentityRepository) AssignRole(ctx context.Context, assignment domain.RoleAssignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT DO NOTHING`, string(assignment.Role)); err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO role_assignments (actor_id, role, active, granted_by, granted_at, revoked_at)
VALUES ($1, $2, TRUE, $3, $4, NULL)
ON CONFLICT (actor_id, role) DO UPDATE
SET active = TRUE, granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at, revoked_at = NULL
`, assignment.ActorID, string(assignment.Role), assignment.GrantedBy, assignment.GrantedAt); err != nil {
		return fmt.Errorf("upsert role assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign tx: %w", err)
	}
	return nil
}

func (r *IdentityRepository) RevokeRole(ctx context.Context, actorID string, role domain.RoleName, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE role_assignments
SET active = FALSE, revoked_at = $3
WHERE actor_id = $1 AND role = $2 AND active
`, actorID, string(role), at)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "revoke role", domain.NewValidationError(domain.FieldError{
			Field:   "role",
			Message: fmt.Sprintf("actor %s does not hold role %s", actorID, role),
		}))
	}
	return nil
}

func (r *IdentityRepository) SetRoleCapabilities(ctx context.Context, role domain.RoleName, caps []domain.Capability) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin capabilities tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT DO NOTHING`, string(role)); err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_capabilities WHERE role = $1`, string(role)); err != nil {
		return fmt.Errorf("clear role capabilities: %w", err)
	}
	for _, c := range caps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO role_capabilities (role, capability) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, string(role), string(c)); err != nil {
			return fmt.Errorf("insert role capability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit capabilities tx: %w", err)
	}
	return nil
}

func (r *IdentityRepository) ListAssignments(ctx context.Context, actorID string) ([]domain.RoleAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT actor_id, role, active, granted_by, granted_at, revoked_at
FROM role_assignments
WHERE actor_id = $1
ORDER BY granted_at, role
`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoleAssignment, 0)
	for rows.Next() {
		var a domain.RoleAssignment
		var role string
		if err := rows.Scan(&a.ActorID, &role, &a.Active, &a.GrantedBy, &a.GrantedAt, &a.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		a.Role = domain.RoleName(role)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role assignments: %w", err)
	}
	return out, nil
}
