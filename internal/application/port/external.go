package port

import (
	"context"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// OrgDirectory is the read-only organizational directory. The engine never
// mutates it.
type OrgDirectory interface {
	// LookupUser returns nil, nil when the user does not exist
	LookupUser(ctx context.Context, tenantID, userID string) (*entity.DirectoryUser, error)

	// ResolveUnitAncestry returns unitID followed by its ancestors, nearest first
	ResolveUnitAncestry(ctx context.Context, tenantID, unitID string) ([]string, error)

	// ResolveUnitHead returns the head user of a unit, "" when vacant
	ResolveUnitHead(ctx context.Context, tenantID, unitID string) (string, error)

	// UsersAtOrAboveLevel returns active users of a unit whose level >= minLevel
	UsersAtOrAboveLevel(ctx context.Context, tenantID, unitID string, minLevel int) ([]string, error)

	// UsersWithRole returns active users holding roleCode
	UsersWithRole(ctx context.Context, tenantID, roleCode string) ([]string, error)
}

// AdminAuthorizer decides administrative authority (skip, cancel, remediation)
type AdminAuthorizer interface {
	IsAdmin(ctx context.Context, tenantID, userID string) (bool, error)
}

// Notifier delivers notifications. Called fire-and-forget after commit.
type Notifier interface {
	Notify(ctx context.Context, n entity.Notification) error
}
