package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// StepRecordRepository implements port.StepRecordRepository
type StepRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRecordRepository creates a new step record repository
func NewStepRecordRepository(db *sql.DB, logger *zap.Logger) port.StepRecordRepository {
	return &StepRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a decision record
func (r *StepRecordRepository) Create(ctx context.Context, record *entity.StepRecord) error {
	query := `
		INSERT INTO step_records (
			instance_id, step_index, generation, approver_id, decision, comment, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		record.InstanceID,
		record.StepIndex,
		record.Generation,
		record.ApproverID,
		record.Decision,
		record.Comment,
		record.DecidedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create step record", zap.String("instance_id", record.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create step record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// GetByInstanceID returns every record of an instance in insertion order
func (r *StepRecordRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.StepRecord, error) {
	return r.query(ctx, `WHERE instance_id = ? ORDER BY id`, instanceID)
}

// GetByStep returns the records of one step across chain generations
func (r *StepRecordRepository) GetByStep(ctx context.Context, instanceID string, stepIndex int) ([]*entity.StepRecord, error) {
	return r.query(ctx, `WHERE instance_id = ? AND step_index = ? ORDER BY id`, instanceID, stepIndex)
}

func (r *StepRecordRepository) query(ctx context.Context, clause string, args ...interface{}) ([]*entity.StepRecord, error) {
	query := `SELECT id, instance_id, step_index, generation, approver_id, decision, comment, decided_at
		FROM step_records ` + clause

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query step records", zap.Error(err))
		return nil, fmt.Errorf("failed to query step records: %w", err)
	}
	defer rows.Close()

	var records []*entity.StepRecord
	for rows.Next() {
		var rec entity.StepRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.InstanceID,
			&rec.StepIndex,
			&rec.Generation,
			&rec.ApproverID,
			&rec.Decision,
			&rec.Comment,
			&rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.StepRecordRepository = (*StepRecordRepository)(nil)
