package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// FlowDefinitionRepository implements port.FlowDefinitionRepository
type FlowDefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFlowDefinitionRepository creates a new flow definition repository
func NewFlowDefinitionRepository(db *sql.DB, logger *zap.Logger) port.FlowDefinitionRepository {
	return &FlowDefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const flowColumns = `tenant_id, id, name, version, document_type, steps, conditions,
	is_default, priority, is_active, created_at, updated_at`

// Create inserts a flow definition
func (r *FlowDefinitionRepository) Create(ctx context.Context, def *entity.FlowDefinition) error {
	steps, conditions, err := marshalFlowBody(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `INSERT INTO flow_definitions (` + flowColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		def.TenantID,
		def.ID,
		def.Name,
		def.Version,
		def.DocumentType,
		steps,
		conditions,
		def.IsDefault,
		def.Priority,
		def.IsActive,
		def.CreatedAt.UTC(),
		def.UpdatedAt,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("flow definition %s already exists", def.ID)
		}
		r.logger.Error("Failed to create flow definition", zap.String("id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to create flow definition: %w", err)
	}
	return nil
}

// GetByID retrieves a flow definition, nil when absent
func (r *FlowDefinitionRepository) GetByID(ctx context.Context, tenantID, id string) (*entity.FlowDefinition, error) {
	query := `SELECT ` + flowColumns + ` FROM flow_definitions WHERE tenant_id = ? AND id = ?`

	def, err := scanFlow(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get flow definition", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get flow definition: %w", err)
	}
	return def, nil
}

// ListActive returns active definitions for a document type
func (r *FlowDefinitionRepository) ListActive(ctx context.Context, tenantID, documentType string) ([]*entity.FlowDefinition, error) {
	return r.List(ctx, tenantID, port.FlowDefinitionFilter{DocumentType: documentType, ActiveOnly: true})
}

// List returns a tenant's definitions matching filter
func (r *FlowDefinitionRepository) List(ctx context.Context, tenantID string, filter port.FlowDefinitionFilter) ([]*entity.FlowDefinition, error) {
	where := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}
	if filter.DocumentType != "" {
		where = append(where, "document_type = ?")
		args = append(args, filter.DocumentType)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + flowColumns + ` FROM flow_definitions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY document_type, priority, id`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list flow definitions", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list flow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.FlowDefinition
	for rows.Next() {
		def, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Update replaces a stored definition
func (r *FlowDefinitionRepository) Update(ctx context.Context, def *entity.FlowDefinition) error {
	steps, conditions, err := marshalFlowBody(def)
	if err != nil {
		return err
	}
	def.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE flow_definitions
		SET name = ?, version = ?, document_type = ?, steps = ?, conditions = ?,
			is_default = ?, priority = ?, is_active = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		def.Name,
		def.Version,
		def.DocumentType,
		steps,
		conditions,
		def.IsDefault,
		def.Priority,
		def.IsActive,
		def.UpdatedAt,
		def.TenantID,
		def.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update flow definition", zap.String("id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to update flow definition: %w", err)
	}
	return requireAffected(result, workflow.ErrDefinitionNotFound, def.ID)
}

// SetActive toggles a definition's availability for new instances
func (r *FlowDefinitionRepository) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	query := `UPDATE flow_definitions SET is_active = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, active, time.Now().UTC(), tenantID, id)
	if err != nil {
		r.logger.Error("Failed to set flow definition active flag", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to update flow definition: %w", err)
	}
	return requireAffected(result, workflow.ErrDefinitionNotFound, id)
}

func marshalFlowBody(def *entity.FlowDefinition) (string, string, error) {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode steps: %w", err)
	}
	conds := def.Conditions
	if conds == nil {
		conds = []entity.SelectionCondition{}
	}
	conditions, err := json.Marshal(conds)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode conditions: %w", err)
	}
	return string(steps), string(conditions), nil
}

func scanFlow(row scanner) (*entity.FlowDefinition, error) {
	var def entity.FlowDefinition
	var steps, conditions string

	err := row.Scan(
		&def.TenantID,
		&def.ID,
		&def.Name,
		&def.Version,
		&def.DocumentType,
		&steps,
		&conditions,
		&def.IsDefault,
		&def.Priority,
		&def.IsActive,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &def.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of %s: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(conditions), &def.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of %s: %w", def.ID, err)
	}
	return &def, nil
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func requireAffected(result sql.Result, notFound error, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

// Verify interface compliance
var _ port.FlowDefinitionRepository = (*FlowDefinitionRepository)(nil)
