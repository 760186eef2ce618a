package service

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
)

// DefaultAdminRole is the directory role granting workflow administration
const DefaultAdminRole = "workflow_admin"

// RoleAdminAuthorizer grants admin authority to holders of a directory role
// and to an optional fixed list of users.
type RoleAdminAuthorizer struct {
	directory port.OrgDirectory
	role      string
	users     map[string]bool
}

var _ port.AdminAuthorizer = (*RoleAdminAuthorizer)(nil)

// NewRoleAdminAuthorizer creates an authorizer. An empty role falls back to
// DefaultAdminRole.
func NewRoleAdminAuthorizer(directory port.OrgDirectory, role string, users []string) *RoleAdminAuthorizer {
	if role == "" {
		role = DefaultAdminRole
	}
	set := make(map[string]bool, len(users))
	for _, u := range users {
		set[u] = true
	}
	return &RoleAdminAuthorizer{directory: directory, role: role, users: set}
}

func (a *RoleAdminAuthorizer) IsAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if a.users[userID] {
		return true, nil
	}
	if a.directory == nil {
		return false, nil
	}

	holders, err := a.directory.UsersWithRole(ctx, tenantID, a.role)
	if err != nil {
		return false, fmt.Errorf("resolve role %s: %w", a.role, err)
	}
	for _, h := range holders {
		if h == userID {
			return true, nil
		}
	}
	return false, nil
}
