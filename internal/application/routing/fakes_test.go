package routing

import (
	"context"
	"sort"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// fakeDirectory is an in-memory org directory.
// parents maps unit -> parent unit ("" for root).
type fakeDirectory struct {
	users   map[string]*entity.DirectoryUser
	parents map[string]string
	heads   map[string]string
	roles   map[string][]string
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:   map[string]*entity.DirectoryUser{},
		parents: map[string]string{},
		heads:   map[string]string{},
		roles:   map[string][]string{},
	}
}

func (d *fakeDirectory) addUser(id, unit string, level int) {
	d.users[id] = &entity.DirectoryUser{ID: id, UnitID: unit, Level: level, Active: true}
}

func (d *fakeDirectory) LookupUser(ctx context.Context, tenantID, userID string) (*entity.DirectoryUser, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// ResolveUnitAncestry walks parents without cycle protection, capped so a
// malformed graph still terminates.
func (d *fakeDirectory) ResolveUnitAncestry(ctx context.Context, tenantID, unitID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []string
	for cur := unitID; cur != "" && len(out) < 16; cur = d.parents[cur] {
		out = append(out, cur)
	}
	return out, nil
}

func (d *fakeDirectory) ResolveUnitHead(ctx context.Context, tenantID, unitID string) (string, error) {
	return d.heads[unitID], d.err
}

func (d *fakeDirectory) UsersAtOrAboveLevel(ctx context.Context, tenantID, unitID string, minLevel int) ([]string, error) {
	var out []string
	for _, u := range d.users {
		if u.UnitID == unitID && u.Active && u.Level >= minLevel {
			out = append(out, u.ID)
		}
	}
	sort.Strings(out)
	return out, d.err
}

func (d *fakeDirectory) UsersWithRole(ctx context.Context, tenantID, roleCode string) ([]string, error) {
	return d.roles[roleCode], d.err
}

var _ port.OrgDirectory = (*fakeDirectory)(nil)

type mockFlowRepo struct {
	listActiveFunc func(ctx context.Context, tenantID, documentType string) ([]*entity.FlowDefinition, error)
}

func (m *mockFlowRepo) Create(ctx context.Context, def *entity.FlowDefinition) error { return nil }
func (m *mockFlowRepo) GetByID(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error) {
	return nil, nil
}
func (m *mockFlowRepo) ListActive(ctx context.Context, tenantID, documentType string) ([]*entity.FlowDefinition, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx, tenantID, documentType)
	}
	return nil, nil
}
func (m *mockFlowRepo) List(ctx context.Context, tenantID string, filter port.FlowDefinitionFilter) ([]*entity.FlowDefinition, error) {
	return nil, nil
}
func (m *mockFlowRepo) Update(ctx context.Context, def *entity.FlowDefinition) error { return nil }
func (m *mockFlowRepo) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	return nil
}

type recordingLogger struct {
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.errors = append(l.errors, msg) }
