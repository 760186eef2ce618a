package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// org builds root <- division <- team with heads ceo, vp, lead.
func org() *fakeDirectory {
	d := newFakeDirectory()
	d.parents["division"] = "root"
	d.parents["team"] = "division"
	d.heads["root"] = "ceo"
	d.heads["division"] = "vp"
	d.heads["team"] = "lead"
	d.addUser("ceo", "root", 9)
	d.addUser("vp", "division", 7)
	d.addUser("lead", "team", 5)
	d.addUser("alice", "team", 1)
	d.addUser("senior", "team", 4)
	return d
}

func TestChainBuilder_Build(t *testing.T) {
	tests := []struct {
		name  string
		rules []entity.ApproverRule
		setup func(d *fakeDirectory)
		want  []string
	}{
		{
			name:  "explicit user",
			rules: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "vp"}},
			want:  []string{"vp"},
		},
		{
			name:  "role",
			rules: []entity.ApproverRule{{Kind: entity.RuleRole, RoleCode: "finance"}},
			setup: func(d *fakeDirectory) { d.roles["finance"] = []string{"f1", "f2"} },
			want:  []string{"f1", "f2"},
		},
		{
			name:  "position level within requester unit",
			rules: []entity.ApproverRule{{Kind: entity.RulePositionLevel, MinLevel: 4}},
			want:  []string{"lead", "senior"},
		},
		{
			name:  "hierarchy one level up",
			rules: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 1}},
			want:  []string{"vp"},
		},
		{
			name:  "hierarchy clamped at root",
			rules: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 10}},
			want:  []string{"ceo"},
		},
		{
			name: "ordered by rule order and deduplicated",
			rules: []entity.ApproverRule{
				{Kind: entity.RuleUser, UserID: "ceo", Order: 3},
				{Kind: entity.RuleHierarchy, LevelsUp: 1, Order: 1},
				{Kind: entity.RuleUser, UserID: "vp", Order: 2},
			},
			want: []string{"vp", "ceo"},
		},
		{
			name: "equal orders keep declaration order",
			rules: []entity.ApproverRule{
				{Kind: entity.RuleUser, UserID: "lead"},
				{Kind: entity.RuleUser, UserID: "ceo"},
			},
			want: []string{"lead", "ceo"},
		},
		{
			name: "vacant rules are dropped",
			rules: []entity.ApproverRule{
				{Kind: entity.RuleRole, RoleCode: "nobody"},
				{Kind: entity.RuleUser, UserID: "ghost"},
				{Kind: entity.RuleUser, UserID: "lead"},
			},
			want: []string{"lead"},
		},
		{
			name:  "inactive user is dropped",
			rules: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "vp"}, {Kind: entity.RuleUser, UserID: "ceo"}},
			setup: func(d *fakeDirectory) { d.users["vp"].Active = false },
			want:  []string{"ceo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := org()
			if tt.setup != nil {
				tt.setup(dir)
			}
			b := NewChainBuilder(dir, nil)

			got, err := b.Build(context.Background(), "t1", entity.FlowStep{Approvers: tt.rules}, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainBuilder_HierarchyShorterThanLevels(t *testing.T) {
	// requester's unit has exactly one ancestor; two levels up clamps to the root head
	d := newFakeDirectory()
	d.parents["dept"] = "root"
	d.heads["root"] = "founder"
	d.heads["dept"] = "manager"
	d.addUser("req", "dept", 1)

	got, err := NewChainBuilder(d, nil).Build(context.Background(), "t1",
		entity.FlowStep{Approvers: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 2}}}, "req")

	require.NoError(t, err)
	assert.Equal(t, []string{"founder"}, got)
}

func TestChainBuilder_HierarchyCycle(t *testing.T) {
	d := newFakeDirectory()
	d.parents["a"] = "b"
	d.parents["b"] = "a"
	d.heads["a"] = "head-a"
	d.heads["b"] = "head-b"
	d.addUser("req", "a", 1)
	logger := &recordingLogger{}

	got, err := NewChainBuilder(d, logger).Build(context.Background(), "t1",
		entity.FlowStep{Approvers: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 5}}}, "req")

	require.NoError(t, err)
	assert.Equal(t, []string{"head-b"}, got)
	assert.Contains(t, logger.errors, "Cycle detected in unit hierarchy, truncating climb")
}

func TestChainBuilder_EmptyChain(t *testing.T) {
	d := org()
	_, err := NewChainBuilder(d, nil).Build(context.Background(), "t1",
		entity.FlowStep{StepNumber: 2, Approvers: []entity.ApproverRule{{Kind: entity.RuleRole, RoleCode: "vacant"}}}, "alice")

	assert.True(t, errors.Is(err, workflow.ErrEmptyChain))
}

func TestChainBuilder_UnknownRequester(t *testing.T) {
	b := NewChainBuilder(org(), nil)

	tests := []struct {
		name    string
		rules   []entity.ApproverRule
		want    []string
		wantErr error
	}{
		{
			name: "relative rules dropped, explicit user kept",
			rules: []entity.ApproverRule{
				{Kind: entity.RuleUser, UserID: "vp", Order: 1},
				{Kind: entity.RuleHierarchy, LevelsUp: 1, Order: 2},
				{Kind: entity.RulePositionLevel, MinLevel: 4, Order: 3},
			},
			want: []string{"vp"},
		},
		{
			name:    "only relative rules leave an empty chain",
			rules:   []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 1}},
			wantErr: workflow.ErrEmptyChain,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(context.Background(), "t1", entity.FlowStep{Approvers: tt.rules}, "stranger")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainBuilder_DirectoryError(t *testing.T) {
	d := org()
	d.err = errors.New("directory unavailable")

	_, err := NewChainBuilder(d, nil).Build(context.Background(), "t1",
		entity.FlowStep{Approvers: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "vp"}}}, "alice")

	assert.ErrorIs(t, err, d.err)
}

func TestChainBuilder_EscalationTargets(t *testing.T) {
	d := org()
	d.addUser("bob", "team", 1)
	b := NewChainBuilder(d, nil)

	tests := []struct {
		name      string
		approvers []string
		want      []string
	}{
		{"member escalates to own unit head", []string{"alice"}, []string{"lead"}},
		{"head escalates to parent head", []string{"lead"}, []string{"vp"}},
		{"root head clamps to self", []string{"ceo"}, []string{"ceo"}},
		{"targets are deduplicated", []string{"alice", "bob", "lead"}, []string{"lead", "vp"}},
		{"unknown approver clamps to self", []string{"ghost"}, []string{"ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.EscalationTargets(context.Background(), "t1", tt.approvers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
