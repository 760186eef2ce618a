package entity

import "time"

// FlowDefinition is an administrator-authored approval template for one
// document type. Steps, rules and conditions are owned value slices so a
// definition can be copied without sharing state.
type FlowDefinition struct {
	ID           string               `json:"id" yaml:"id"`
	TenantID     string               `json:"tenant_id" yaml:"tenant_id"`
	Name         string               `json:"name" yaml:"name"`
	Version      int                  `json:"version" yaml:"version"`
	DocumentType string               `json:"document_type" yaml:"document_type"`
	Steps        []FlowStep           `json:"steps" yaml:"steps"`
	Conditions   []SelectionCondition `json:"conditions,omitempty" yaml:"conditions"`
	IsDefault    bool                 `json:"is_default" yaml:"is_default"`
	Priority     int                  `json:"priority" yaml:"priority"`
	IsActive     bool                 `json:"is_active" yaml:"-"`
	CreatedAt    time.Time            `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time            `json:"updated_at" yaml:"-"`
}

// FlowStep is one stage of a flow definition.
type FlowStep struct {
	StepNumber        int            `json:"step_number" yaml:"step_number"`
	Name              string         `json:"name,omitempty" yaml:"name"`
	ExecutionMode     string         `json:"execution_mode" yaml:"execution_mode"`
	RequiredApprovals int            `json:"required_approvals" yaml:"required_approvals"`
	TimeoutHours      int            `json:"timeout_hours,omitempty" yaml:"timeout_hours"`
	AllowDelegate     bool           `json:"allow_delegate" yaml:"allow_delegate"`
	AllowSkip         bool           `json:"allow_skip" yaml:"allow_skip"`
	Approvers         []ApproverRule `json:"approvers" yaml:"approvers"`
}

// ApproverRule selects candidate approvers for a step.
type ApproverRule struct {
	Kind     string `json:"kind" yaml:"kind"`
	UserID   string `json:"user_id,omitempty" yaml:"user_id"`
	RoleCode string `json:"role_code,omitempty" yaml:"role_code"`
	MinLevel int    `json:"min_level,omitempty" yaml:"min_level"`
	LevelsUp int    `json:"levels_up,omitempty" yaml:"levels_up"`
	Order    int    `json:"order" yaml:"order"`
}

// SelectionCondition is one field/operator/value predicate of a definition.
type SelectionCondition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// EffectiveQuorum returns the number of approvals that completes the step.
// Sequential steps always complete on a single approval.
func (s FlowStep) EffectiveQuorum() int {
	if s.ExecutionMode != ExecutionParallel {
		return 1
	}
	if s.RequiredApprovals < 1 {
		return 1
	}
	return s.RequiredApprovals
}

// Timeout returns the step timeout, zero when the step never times out.
func (s FlowStep) Timeout() time.Duration {
	if s.TimeoutHours <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutHours) * time.Hour
}

// Step returns the step at index, or false when out of range.
func (d *FlowDefinition) Step(index int) (FlowStep, bool) {
	if d == nil || index < 0 || index >= len(d.Steps) {
		return FlowStep{}, false
	}
	return d.Steps[index], true
}

// IsLastStep reports whether index points at the final step.
func (d *FlowDefinition) IsLastStep(index int) bool {
	return d != nil && index == len(d.Steps)-1
}

// Clone returns a deep copy of the definition.
func (d *FlowDefinition) Clone() *FlowDefinition {
	if d == nil {
		return nil
	}
	out := *d
	out.Steps = make([]FlowStep, len(d.Steps))
	for i, step := range d.Steps {
		step.Approvers = append([]ApproverRule(nil), step.Approvers...)
		out.Steps[i] = step
	}
	out.Conditions = make([]SelectionCondition, len(d.Conditions))
	for i, cond := range d.Conditions {
		if list, ok := cond.Value.([]interface{}); ok {
			cond.Value = append([]interface{}(nil), list...)
		}
		out.Conditions[i] = cond
	}
	return &out
}
