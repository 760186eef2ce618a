package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/condition"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// FlowService administers flow definitions
type FlowService interface {
	Create(ctx context.Context, def *entity.FlowDefinition) (*entity.FlowDefinition, error)
	// Update replaces a definition in place. Refused once an instance is bound to it.
	Update(ctx context.Context, def *entity.FlowDefinition) (*entity.FlowDefinition, error)
	// Duplicate copies a definition under a new ID so it can be edited freely
	Duplicate(ctx context.Context, tenantID, id, name string) (*entity.FlowDefinition, error)
	Deactivate(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error)
	List(ctx context.Context, tenantID string, filter port.FlowDefinitionFilter) ([]*entity.FlowDefinition, error)
}

type flowServiceImpl struct {
	flows     port.FlowDefinitionRepository
	instances port.InstanceRepository
	txManager port.TransactionManager
	logger    Logger
	now       port.Clock
}

// NewFlowService creates a new FlowService
func NewFlowService(
	flows port.FlowDefinitionRepository,
	instances port.InstanceRepository,
	txManager port.TransactionManager,
	logger Logger,
) FlowService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &flowServiceImpl{
		flows:     flows,
		instances: instances,
		txManager: txManager,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *flowServiceImpl) Create(ctx context.Context, def *entity.FlowDefinition) (*entity.FlowDefinition, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", workflow.ErrInvalidDefinition)
	}
	out := def.Clone()
	if err := NormalizeDefinition(out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Version == 0 {
		out.Version = 1
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt

	if err := s.flows.Create(ctx, out); err != nil {
		s.logger.Error("Failed to create flow definition", "error", err, "flow_id", out.ID)
		return nil, fmt.Errorf("create flow definition: %w", err)
	}

	s.logger.Info("Flow definition created",
		"tenant_id", out.TenantID,
		"flow_id", out.ID,
		"document_type", out.DocumentType,
		"steps", len(out.Steps),
	)
	return out, nil
}

func (s *flowServiceImpl) Update(ctx context.Context, def *entity.FlowDefinition) (*entity.FlowDefinition, error) {
	if def == nil || def.ID == "" {
		return nil, fmt.Errorf("%w: definition id is required", workflow.ErrInvalidDefinition)
	}
	out := def.Clone()
	if err := NormalizeDefinition(out); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.flows.GetByID(txCtx, out.TenantID, out.ID)
		if err != nil {
			return fmt.Errorf("get flow definition: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, out.ID)
		}

		bound, err := s.instances.CountByFlowDefinition(txCtx, out.TenantID, out.ID)
		if err != nil {
			return fmt.Errorf("count bound instances: %w", err)
		}
		if bound > 0 {
			return fmt.Errorf("%w: %d instances bound to %s", workflow.ErrDefinitionInUse, bound, out.ID)
		}

		out.Version = existing.Version + 1
		out.CreatedAt = existing.CreatedAt
		out.UpdatedAt = s.now()
		return s.flows.Update(txCtx, out)
	})
	if err != nil {
		s.logger.Error("Failed to update flow definition", "error", err, "flow_id", out.ID)
		return nil, err
	}

	s.logger.Info("Flow definition updated", "flow_id", out.ID, "version", out.Version)
	return out, nil
}

func (s *flowServiceImpl) Duplicate(ctx context.Context, tenantID, id, name string) (*entity.FlowDefinition, error) {
	src, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	dup := src.Clone()
	dup.ID = uuid.NewString()
	dup.Version = src.Version + 1
	if name != "" {
		dup.Name = name
	} else {
		dup.Name = src.Name + " (copy)"
	}

	created, err := s.Create(ctx, dup)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Flow definition duplicated", "source_id", id, "flow_id", created.ID)
	return created, nil
}

func (s *flowServiceImpl) Deactivate(ctx context.Context, tenantID, id string) error {
	if err := s.flows.SetActive(ctx, tenantID, id, false); err != nil {
		s.logger.Error("Failed to deactivate flow definition", "error", err, "flow_id", id)
		return fmt.Errorf("deactivate flow definition: %w", err)
	}
	s.logger.Info("Flow definition deactivated", "tenant_id", tenantID, "flow_id", id)
	return nil
}

func (s *flowServiceImpl) Get(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error) {
	def, err := s.flows.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get flow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrDefinitionNotFound, id)
	}
	return def, nil
}

func (s *flowServiceImpl) List(ctx context.Context, tenantID string, filter port.FlowDefinitionFilter) ([]*entity.FlowDefinition, error) {
	defs, err := s.flows.List(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list flow definitions: %w", err)
	}
	return defs, nil
}

// NormalizeDefinition validates def and normalizes it in place. Steps are
// put in step_number order; when no step is numbered they are numbered from
// 1 in listed order. Every step's quorum is clamped to what its execution
// mode allows.
func NormalizeDefinition(def *entity.FlowDefinition) error {
	var problems []string
	if def.TenantID == "" {
		problems = append(problems, "tenant_id is required")
	}
	if strings.TrimSpace(def.Name) == "" {
		problems = append(problems, "name is required")
	}
	if def.DocumentType == "" {
		problems = append(problems, "document_type is required")
	}
	if len(def.Steps) == 0 {
		problems = append(problems, "at least one step is required")
	}

	problems = append(problems, orderSteps(def.Steps)...)

	for i := range def.Steps {
		step := &def.Steps[i]

		switch step.ExecutionMode {
		case "":
			step.ExecutionMode = entity.ExecutionSequential
		case entity.ExecutionSequential, entity.ExecutionParallel:
		default:
			problems = append(problems, fmt.Sprintf("step %d: unknown execution_mode %q", i+1, step.ExecutionMode))
		}
		if step.ExecutionMode == entity.ExecutionParallel {
			if step.RequiredApprovals < 1 {
				step.RequiredApprovals = 1
			}
		} else {
			step.RequiredApprovals = 1
		}
		if step.TimeoutHours < 0 {
			problems = append(problems, fmt.Sprintf("step %d: timeout_hours must not be negative", i+1))
		}

		if len(step.Approvers) == 0 {
			problems = append(problems, fmt.Sprintf("step %d: at least one approver rule is required", i+1))
		}
		for j, rule := range step.Approvers {
			if msg := validateRule(rule); msg != "" {
				problems = append(problems, fmt.Sprintf("step %d rule %d: %s", i+1, j+1, msg))
			}
		}
	}

	for i, cond := range def.Conditions {
		if err := condition.Validate(cond); err != nil {
			problems = append(problems, fmt.Sprintf("condition %d: %v", i+1, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", workflow.ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// orderSteps sorts steps by step number. Numbers, once used, must be
// positive and unique; gaps are allowed.
func orderSteps(steps []entity.FlowStep) []string {
	numbered := 0
	for _, s := range steps {
		if s.StepNumber != 0 {
			numbered++
		}
	}
	if numbered == 0 {
		for i := range steps {
			steps[i].StepNumber = i + 1
		}
		return nil
	}
	if numbered != len(steps) {
		return []string{"step_number must be set on every step or on none"}
	}

	var problems []string
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		switch {
		case s.StepNumber < 0:
			problems = append(problems, fmt.Sprintf("step_number %d must be positive", s.StepNumber))
		case seen[s.StepNumber]:
			problems = append(problems, fmt.Sprintf("step_number %d is used more than once", s.StepNumber))
		}
		seen[s.StepNumber] = true
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	return problems
}

func validateRule(rule entity.ApproverRule) string {
	switch rule.Kind {
	case entity.RuleUser:
		if rule.UserID == "" {
			return "user_id is required"
		}
	case entity.RuleRole:
		if rule.RoleCode == "" {
			return "role_code is required"
		}
	case entity.RulePositionLevel:
		if rule.MinLevel < 1 {
			return "min_level must be positive"
		}
	case entity.RuleHierarchy:
		if rule.LevelsUp < 0 {
			return "levels_up must not be negative"
		}
	default:
		return fmt.Sprintf("unknown kind %q", rule.Kind)
	}
	return ""
}
