package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// maxUnitDepth bounds an ancestry walk over a malformed hierarchy
const maxUnitDepth = 64

// DirectoryRepository is an OrgDirectory backed by the org_units,
// directory_users and user_roles tables. The engine only reads it; the
// Upsert methods exist for seeding and sync jobs.
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// LookupUser returns nil, nil when the user does not exist
func (r *DirectoryRepository) LookupUser(ctx context.Context, tenantID, userID string) (*entity.DirectoryUser, error) {
	query := `SELECT id, unit_id, level, active FROM directory_users WHERE tenant_id = ? AND id = ?`

	var u entity.DirectoryUser
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, userID).Scan(&u.ID, &u.UnitID, &u.Level, &u.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &u, nil
}

// ResolveUnitAncestry walks parent links from unitID. The walk stops at the
// root, at an unknown unit or at the first revisited unit.
func (r *DirectoryRepository) ResolveUnitAncestry(ctx context.Context, tenantID, unitID string) ([]string, error) {
	query := `SELECT parent_id FROM org_units WHERE tenant_id = ? AND id = ?`
	exec := sqlite.Executor(ctx, r.db)

	var ancestry []string
	seen := make(map[string]bool)
	for current := unitID; current != "" && !seen[current] && len(ancestry) < maxUnitDepth; {
		var parent string
		err := exec.QueryRowContext(ctx, query, tenantID, current).Scan(&parent)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			r.logger.Error("Failed to resolve unit parent", zap.String("unit_id", current), zap.Error(err))
			return nil, fmt.Errorf("failed to resolve unit %s: %w", current, err)
		}
		seen[current] = true
		ancestry = append(ancestry, current)
		current = parent
	}
	return ancestry, nil
}

// ResolveUnitHead returns "" when the unit is unknown or vacant
func (r *DirectoryRepository) ResolveUnitHead(ctx context.Context, tenantID, unitID string) (string, error) {
	query := `SELECT head_id FROM org_units WHERE tenant_id = ? AND id = ?`

	var head string
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, unitID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		r.logger.Error("Failed to resolve unit head", zap.String("unit_id", unitID), zap.Error(err))
		return "", fmt.Errorf("failed to resolve head of %s: %w", unitID, err)
	}
	return head, nil
}

// UsersAtOrAboveLevel returns active users of unitID ranked at minLevel or higher
func (r *DirectoryRepository) UsersAtOrAboveLevel(ctx context.Context, tenantID, unitID string, minLevel int) ([]string, error) {
	query := `
		SELECT id FROM directory_users
		WHERE tenant_id = ? AND unit_id = ? AND level >= ? AND active = 1
		ORDER BY id
	`
	return r.ids(ctx, query, tenantID, unitID, minLevel)
}

// UsersWithRole returns active holders of roleCode
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, tenantID, roleCode string) ([]string, error) {
	query := `
		SELECT u.id FROM user_roles ur
		JOIN directory_users u ON u.tenant_id = ur.tenant_id AND u.id = ur.user_id
		WHERE ur.tenant_id = ? AND ur.role_code = ? AND u.active = 1
		ORDER BY u.id
	`
	return r.ids(ctx, query, tenantID, roleCode)
}

func (r *DirectoryRepository) ids(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query directory", zap.Error(err))
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertUnit creates or replaces an organizational unit
func (r *DirectoryRepository) UpsertUnit(ctx context.Context, tenantID, unitID, parentID, headID string) error {
	query := `
		INSERT INTO org_units (tenant_id, id, parent_id, head_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET parent_id = excluded.parent_id, head_id = excluded.head_id
	`
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, tenantID, unitID, parentID, headID); err != nil {
		r.logger.Error("Failed to upsert unit", zap.String("unit_id", unitID), zap.Error(err))
		return fmt.Errorf("failed to upsert unit %s: %w", unitID, err)
	}
	return nil
}

// UpsertUser creates or replaces a directory user
func (r *DirectoryRepository) UpsertUser(ctx context.Context, tenantID string, user entity.DirectoryUser) error {
	query := `
		INSERT INTO directory_users (tenant_id, id, unit_id, level, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			unit_id = excluded.unit_id, level = excluded.level, active = excluded.active
	`
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, tenantID, user.ID, user.UnitID, user.Level, user.Active); err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

// GrantRole gives userID roleCode. Granting twice is a no-op.
func (r *DirectoryRepository) GrantRole(ctx context.Context, tenantID, roleCode, userID string) error {
	query := `INSERT OR IGNORE INTO user_roles (tenant_id, role_code, user_id) VALUES (?, ?, ?)`
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, tenantID, roleCode, userID); err != nil {
		r.logger.Error("Failed to grant role", zap.String("role", roleCode), zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to grant role %s: %w", roleCode, err)
	}
	return nil
}

// Verify interface compliance
var _ port.OrgDirectory = (*DirectoryRepository)(nil)
