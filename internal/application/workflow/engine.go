package workflow

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Engine drives workflow instances through their approval lifecycle.
// Every call names its tenant explicitly.
type Engine interface {
	// StartWorkflow creates and routes an instance. Idempotent on (TenantID, RequestID).
	StartWorkflow(ctx context.Context, req StartRequest) (*StartResult, error)

	// Approve records an approval by a current, undecided approver
	Approve(ctx context.Context, tenantID, instanceID, approverID, comment string) (*ActionResult, error)

	// Reject vetoes the whole instance
	Reject(ctx context.Context, tenantID, instanceID, approverID, reason string) (*ActionResult, error)

	// Delegate hands approverID's slot on the current step to delegateID
	Delegate(ctx context.Context, tenantID, instanceID, approverID, delegateID string) (*ActionResult, error)

	// Skip marks every undecided approver skipped and advances. Admin only.
	Skip(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error)

	// Cancel terminates the instance. Requester or admin only.
	Cancel(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error)

	// AssignApprovers installs a chain on a bound instance awaiting assignment. Admin only.
	AssignApprovers(ctx context.Context, tenantID, instanceID, actorID string, approverIDs []string) (*ActionResult, error)

	// RetryRouting re-resolves the flow and chain of an instance awaiting assignment. Admin only.
	RetryRouting(ctx context.Context, tenantID, instanceID, actorID string) (*ActionResult, error)

	// GetInstanceState returns the instance with its step records and timeline
	GetInstanceState(ctx context.Context, tenantID, instanceID string) (*InstanceState, error)

	// EscalateOverdue reroutes every in-progress step past its timeout
	EscalateOverdue(ctx context.Context) (*SweepResult, error)
}

// FlowResolver selects the flow definition for a request
type FlowResolver interface {
	Resolve(ctx context.Context, tenantID, documentType string, attrs map[string]interface{}) (*entity.FlowDefinition, error)
}

// ChainBuilder materializes approvers for a step
type ChainBuilder interface {
	Build(ctx context.Context, tenantID string, step entity.FlowStep, requesterID string) ([]string, error)
	EscalationTargets(ctx context.Context, tenantID string, approverIDs []string) ([]string, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StartRequest carries a business request entering the engine.
// An empty RequestID disables idempotence and a fresh one is generated.
type StartRequest struct {
	TenantID     string                 `json:"tenant_id"`
	RequestID    string                 `json:"request_id"`
	DocumentType string                 `json:"document_type"`
	RequesterID  string                 `json:"requester_id"`
	Attributes   map[string]interface{} `json:"attributes"`
}

// StartResult is returned by StartWorkflow
type StartResult struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	// Existing is true when the request had already started an instance
	Existing bool `json:"existing"`
}

// ActionResult is returned by every mutating action
type ActionResult struct {
	InstanceID       string   `json:"instance_id"`
	Status           string   `json:"status"`
	CurrentStepIndex int      `json:"current_step_index"`
	Approvers        []string `json:"approvers"`
}

// InstanceState is the read model of one instance
type InstanceState struct {
	Instance    *entity.WorkflowInstance `json:"instance"`
	StepRecords []*entity.StepRecord     `json:"step_records"`
	Timeline    []*entity.TimelineEntry  `json:"timeline"`
}

// SweepResult summarizes one escalation pass
type SweepResult struct {
	Scanned   int           `json:"scanned"`
	Escalated int           `json:"escalated"`
	Blocked   int           `json:"blocked"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func resultOf(inst *entity.WorkflowInstance) *ActionResult {
	return &ActionResult{
		InstanceID:       inst.ID,
		Status:           inst.Status,
		CurrentStepIndex: inst.CurrentStepIndex,
		Approvers:        inst.ChainApprovers(),
	}
}
