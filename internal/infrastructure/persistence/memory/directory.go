package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

type unit struct {
	parentID string
	headID   string
}

// Directory is an in-memory organizational directory for one or more tenants
type Directory struct {
	mu    sync.RWMutex
	units map[string]*unit
	users map[string]*entity.DirectoryUser
	roles map[string][]string
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		units: make(map[string]*unit),
		users: make(map[string]*entity.DirectoryUser),
		roles: make(map[string][]string),
	}
}

// AddUnit registers a unit under parentID ("" for a root) headed by headID
func (d *Directory) AddUnit(tenantID, unitID, parentID, headID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[tenantKey(tenantID, unitID)] = &unit{parentID: parentID, headID: headID}
	return d
}

// AddUser registers an active user
func (d *Directory) AddUser(tenantID, userID, unitID string, level int) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[tenantKey(tenantID, userID)] = &entity.DirectoryUser{ID: userID, UnitID: unitID, Level: level, Active: true}
	return d
}

// SetActive toggles a user's active flag
func (d *Directory) SetActive(tenantID, userID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[tenantKey(tenantID, userID)]; ok {
		u.Active = active
	}
}

// GrantRole gives userID roleCode
func (d *Directory) GrantRole(tenantID, roleCode, userID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := tenantKey(tenantID, roleCode)
	d.roles[key] = append(d.roles[key], userID)
	return d
}

func (d *Directory) LookupUser(ctx context.Context, tenantID, userID string) (*entity.DirectoryUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[tenantKey(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// ResolveUnitAncestry stops at the first revisited unit
func (d *Directory) ResolveUnitAncestry(ctx context.Context, tenantID, unitID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for cur := unitID; cur != "" && !seen[cur]; {
		u, ok := d.units[tenantKey(tenantID, cur)]
		if !ok {
			break
		}
		seen[cur] = true
		out = append(out, cur)
		cur = u.parentID
	}
	return out, nil
}

func (d *Directory) ResolveUnitHead(ctx context.Context, tenantID, unitID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if u, ok := d.units[tenantKey(tenantID, unitID)]; ok {
		return u.headID, nil
	}
	return "", nil
}

func (d *Directory) UsersAtOrAboveLevel(ctx context.Context, tenantID, unitID string, minLevel int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefix := tenantID + "/"
	var out []string
	for key, u := range d.users {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && u.UnitID == unitID && u.Active && u.Level >= minLevel {
			out = append(out, u.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *Directory) UsersWithRole(ctx context.Context, tenantID, roleCode string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, id := range d.roles[tenantKey(tenantID, roleCode)] {
		if u, ok := d.users[tenantKey(tenantID, id)]; ok && u.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

var _ port.OrgDirectory = (*Directory)(nil)
