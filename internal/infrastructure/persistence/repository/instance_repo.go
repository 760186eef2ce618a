package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `tenant_id, id, request_id, document_type, flow_definition_id, requester_id,
	attributes, current_step_index, status, chain, chain_generation, chain_materialized_at,
	version, created_at, updated_at, completed_at`

// Create inserts a new workflow instance at version 1
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	attrs, chain, err := marshalInstanceBody(instance)
	if err != nil {
		return err
	}
	instance.Version = 1

	query := `INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		instance.TenantID,
		instance.ID,
		instance.RequestID,
		instance.DocumentType,
		instance.FlowDefinitionID,
		instance.RequesterID,
		attrs,
		instance.CurrentStepIndex,
		instance.Status,
		chain,
		instance.ChainGeneration,
		nullTime(instance.ChainMaterializedAt),
		instance.Version,
		instance.CreatedAt.UTC(),
		instance.UpdatedAt.UTC(),
		nullTime(instance.CompletedAt),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("request %s already has an instance", instance.RequestID)
		}
		r.logger.Error("Failed to create instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance, nil when absent
func (r *InstanceRepository) GetByID(ctx context.Context, tenantID, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE tenant_id = ? AND id = ?`

	instance, err := scanInstance(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// GetByRequestID retrieves the instance started for a business request
func (r *InstanceRepository) GetByRequestID(ctx context.Context, tenantID, requestID string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE tenant_id = ? AND request_id = ?`

	instance, err := scanInstance(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by request ID", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// Update writes the instance when the stored version still matches
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	attrs, chain, err := marshalInstanceBody(instance)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances
		SET flow_definition_id = ?, attributes = ?, current_step_index = ?, status = ?,
			chain = ?, chain_generation = ?, chain_materialized_at = ?,
			version = version + 1, updated_at = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?
	`
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		instance.FlowDefinitionID,
		attrs,
		instance.CurrentStepIndex,
		instance.Status,
		chain,
		instance.ChainGeneration,
		nullTime(instance.ChainMaterializedAt),
		instance.UpdatedAt.UTC(),
		nullTime(instance.CompletedAt),
		instance.TenantID,
		instance.ID,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		existing, err := r.GetByID(ctx, instance.TenantID, instance.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, instance.ID)
		}
		return fmt.Errorf("%w: instance %s at version %d, write based on %d",
			workflow.ErrConcurrentModification, instance.ID, existing.Version, instance.Version)
	}

	instance.Version++
	return nil
}

// ListByStatus pages through instances across tenants, oldest first
func (r *InstanceRepository) ListByStatus(ctx context.Context, status string, after *port.InstanceCursor, limit int) ([]*entity.WorkflowInstance, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE status = ?`
	args := []interface{}{status}
	if after != nil {
		createdAt := after.CreatedAt.UTC()
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, createdAt, createdAt, after.ID)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.String("status", status), zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// CountByFlowDefinition counts instances bound to a definition
func (r *InstanceRepository) CountByFlowDefinition(ctx context.Context, tenantID, flowDefinitionID string) (int, error) {
	query := `SELECT COUNT(*) FROM workflow_instances WHERE tenant_id = ? AND flow_definition_id = ?`

	var n int
	if err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, flowDefinitionID).Scan(&n); err != nil {
		r.logger.Error("Failed to count instances", zap.String("flow_definition_id", flowDefinitionID), zap.Error(err))
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

func marshalInstanceBody(instance *entity.WorkflowInstance) (string, string, error) {
	attrs := instance.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	chain := instance.Chain
	if chain == nil {
		chain = []entity.ChainMember{}
	}
	chainJSON, err := json.Marshal(chain)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode chain: %w", err)
	}
	return string(attrJSON), string(chainJSON), nil
}

func scanInstance(row scanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var attrs, chain string
	var materializedAt, completedAt sql.NullTime

	err := row.Scan(
		&instance.TenantID,
		&instance.ID,
		&instance.RequestID,
		&instance.DocumentType,
		&instance.FlowDefinitionID,
		&instance.RequesterID,
		&attrs,
		&instance.CurrentStepIndex,
		&instance.Status,
		&chain,
		&instance.ChainGeneration,
		&materializedAt,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(attrs), &instance.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes of %s: %w", instance.ID, err)
	}
	if err := json.Unmarshal([]byte(chain), &instance.Chain); err != nil {
		return nil, fmt.Errorf("failed to decode chain of %s: %w", instance.ID, err)
	}
	if materializedAt.Valid {
		instance.ChainMaterializedAt = &materializedAt.Time
	}
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
