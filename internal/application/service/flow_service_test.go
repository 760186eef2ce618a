package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
)

func validDefinition() *entity.FlowDefinition {
	return &entity.FlowDefinition{
		TenantID:     "t1",
		Name:         "Expense",
		DocumentType: "expense",
		IsActive:     true,
		Conditions: []entity.SelectionCondition{
			{Field: "amount", Operator: "gte", Value: 1000},
		},
		Steps: []entity.FlowStep{
			{ExecutionMode: entity.ExecutionSequential, RequiredApprovals: 4, Approvers: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "u1"}}},
			{ExecutionMode: entity.ExecutionParallel, Approvers: []entity.ApproverRule{{Kind: entity.RuleRole, RoleCode: "finance"}}},
			{Approvers: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 0}}},
		},
	}
}

func newFlowService(t *testing.T) (FlowService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewFlowService(store.FlowDefinitions(), store.Instances(), store, nil), store
}

func TestFlowService_CreateNormalizes(t *testing.T) {
	svc, _ := newFlowService(t)

	def, err := svc.Create(context.Background(), validDefinition())
	require.NoError(t, err)

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, 1, def.Version)
	assert.False(t, def.CreatedAt.IsZero())
	for i, step := range def.Steps {
		assert.Equal(t, i+1, step.StepNumber)
	}
	assert.Equal(t, 1, def.Steps[0].RequiredApprovals, "sequential quorum is forced to 1")
	assert.Equal(t, 1, def.Steps[1].RequiredApprovals, "parallel quorum defaults to 1")
	assert.Equal(t, entity.ExecutionSequential, def.Steps[2].ExecutionMode)

	stored, err := svc.Get(context.Background(), "t1", def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, stored.Name)
}

func TestFlowService_CreateOrdersStepsByNumber(t *testing.T) {
	svc, _ := newFlowService(t)

	def := validDefinition()
	def.Steps = []entity.FlowStep{
		{StepNumber: 20, Name: "director", Approvers: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "director"}}},
		{StepNumber: 10, Name: "manager", Approvers: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "manager"}}},
	}

	created, err := svc.Create(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, created.Steps, 2)
	assert.Equal(t, "manager", created.Steps[0].Name)
	assert.Equal(t, 10, created.Steps[0].StepNumber)
	assert.Equal(t, "director", created.Steps[1].Name)
	assert.Equal(t, 20, created.Steps[1].StepNumber)
}

func TestFlowService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entity.FlowDefinition)
	}{
		{"missing tenant", func(d *entity.FlowDefinition) { d.TenantID = "" }},
		{"missing name", func(d *entity.FlowDefinition) { d.Name = "  " }},
		{"missing document type", func(d *entity.FlowDefinition) { d.DocumentType = "" }},
		{"no steps", func(d *entity.FlowDefinition) { d.Steps = nil }},
		{"bad mode", func(d *entity.FlowDefinition) { d.Steps[0].ExecutionMode = "random" }},
		{"no rules", func(d *entity.FlowDefinition) { d.Steps[0].Approvers = nil }},
		{"user rule without user", func(d *entity.FlowDefinition) { d.Steps[0].Approvers[0].UserID = "" }},
		{"role rule without role", func(d *entity.FlowDefinition) { d.Steps[1].Approvers[0].RoleCode = "" }},
		{"negative levels", func(d *entity.FlowDefinition) { d.Steps[2].Approvers[0].LevelsUp = -1 }},
		{"position level without level", func(d *entity.FlowDefinition) {
			d.Steps[0].Approvers = []entity.ApproverRule{{Kind: entity.RulePositionLevel}}
		}},
		{"unknown rule kind", func(d *entity.FlowDefinition) { d.Steps[0].Approvers[0].Kind = "oracle" }},
		{"negative timeout", func(d *entity.FlowDefinition) { d.Steps[0].TimeoutHours = -2 }},
		{"unknown operator", func(d *entity.FlowDefinition) { d.Conditions[0].Operator = "like" }},
		{"duplicate step numbers", func(d *entity.FlowDefinition) {
			d.Steps[0].StepNumber, d.Steps[1].StepNumber, d.Steps[2].StepNumber = 1, 2, 2
		}},
		{"partially numbered steps", func(d *entity.FlowDefinition) { d.Steps[1].StepNumber = 2 }},
		{"negative step number", func(d *entity.FlowDefinition) {
			d.Steps[0].StepNumber, d.Steps[1].StepNumber, d.Steps[2].StepNumber = -1, 1, 2
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newFlowService(t)
			def := validDefinition()
			tt.mutate(def)

			_, err := svc.Create(context.Background(), def)
			assert.ErrorIs(t, err, workflow.ErrInvalidDefinition)
		})
	}
}

func TestFlowService_UpdateRefusedOnceBound(t *testing.T) {
	svc, store := newFlowService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)

	def.Name = "Expense v2"
	updated, err := svc.Update(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	require.NoError(t, store.Instances().Create(ctx, &entity.WorkflowInstance{
		ID: "i1", TenantID: "t1", RequestID: "r1", FlowDefinitionID: def.ID, Status: entity.StatusInProgress,
	}))

	def.Name = "Expense v3"
	_, err = svc.Update(ctx, def)
	assert.ErrorIs(t, err, workflow.ErrDefinitionInUse)

	stored, err := svc.Get(ctx, "t1", def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Expense v2", stored.Name)
}

func TestFlowService_UpdateMissing(t *testing.T) {
	svc, _ := newFlowService(t)
	def := validDefinition()
	def.ID = "ghost"

	_, err := svc.Update(context.Background(), def)
	assert.ErrorIs(t, err, workflow.ErrDefinitionNotFound)
}

func TestFlowService_DuplicateAndDeactivate(t *testing.T) {
	svc, _ := newFlowService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)

	dup, err := svc.Duplicate(ctx, "t1", src.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Expense (copy)", dup.Name)
	assert.Equal(t, src.Version+1, dup.Version)
	assert.Len(t, dup.Steps, len(src.Steps))

	require.NoError(t, svc.Deactivate(ctx, "t1", src.ID))

	active, err := svc.List(ctx, "t1", port.FlowDefinitionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, dup.ID, active[0].ID)

	all, err := svc.List(ctx, "t1", port.FlowDefinitionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Duplicate(ctx, "t1", "ghost", "x")
	assert.ErrorIs(t, err, workflow.ErrDefinitionNotFound)
	assert.ErrorIs(t, svc.Deactivate(ctx, "t1", "ghost"), workflow.ErrDefinitionNotFound)
}
