package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// FlowDefinitionFilter narrows ListDefinitions results
type FlowDefinitionFilter struct {
	DocumentType string
	ActiveOnly   bool
}

// FlowDefinitionRepository defines persistence operations for FlowDefinition
type FlowDefinitionRepository interface {
	Create(ctx context.Context, def *entity.FlowDefinition) error
	GetByID(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error)
	// ListActive returns active definitions for a tenant and document type
	ListActive(ctx context.Context, tenantID, documentType string) ([]*entity.FlowDefinition, error)
	List(ctx context.Context, tenantID string, filter FlowDefinitionFilter) ([]*entity.FlowDefinition, error)
	Update(ctx context.Context, def *entity.FlowDefinition) error
	SetActive(ctx context.Context, tenantID, id string, active bool) error
}

// InstanceCursor is a keyset position in the (created_at, id) ordering
type InstanceCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor positioned after inst
func CursorAfter(inst *entity.WorkflowInstance) *InstanceCursor {
	return &InstanceCursor{CreatedAt: inst.CreatedAt, ID: inst.ID}
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, tenantID, id string) (*entity.WorkflowInstance, error)
	GetByRequestID(ctx context.Context, tenantID, requestID string) (*entity.WorkflowInstance, error)
	// Update writes instance if the stored version equals instance.Version and
	// bumps the version. A mismatch returns workflow.ErrConcurrentModification.
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	// ListByStatus pages through instances across tenants ordered by
	// (created_at, id), starting after the cursor when one is given.
	// A limit <= 0 returns every remaining instance.
	ListByStatus(ctx context.Context, status string, after *InstanceCursor, limit int) ([]*entity.WorkflowInstance, error)
	// CountByFlowDefinition counts instances bound to a definition
	CountByFlowDefinition(ctx context.Context, tenantID, flowDefinitionID string) (int, error)
}

// StepRecordRepository defines persistence operations for StepRecord
type StepRecordRepository interface {
	Create(ctx context.Context, record *entity.StepRecord) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.StepRecord, error)
	GetByStep(ctx context.Context, instanceID string, stepIndex int) ([]*entity.StepRecord, error)
}

// TimelineRepository is append-only
type TimelineRepository interface {
	Append(ctx context.Context, entry *entity.TimelineEntry) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.TimelineEntry, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// InstanceLocker serializes mutations of one workflow instance
type InstanceLocker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// Clock abstracts wall-clock time for escalation checks
type Clock func() time.Time
