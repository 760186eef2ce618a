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

// TimelineRepository implements port.TimelineRepository
type TimelineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTimelineRepository creates a new timeline repository
func NewTimelineRepository(db *sql.DB, logger *zap.Logger) port.TimelineRepository {
	return &TimelineRepository{
		db:     db,
		logger: logger,
	}
}

// Append records one transition
func (r *TimelineRepository) Append(ctx context.Context, entry *entity.TimelineEntry) error {
	query := `
		INSERT INTO timeline_entries (
			instance_id, actor, action, from_status, to_status, step_index, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		entry.InstanceID,
		entry.Actor,
		entry.Action,
		entry.FromStatus,
		entry.ToStatus,
		entry.StepIndex,
		entry.Detail,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append timeline entry", zap.String("instance_id", entry.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetByInstanceID returns an instance's timeline oldest first
func (r *TimelineRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.TimelineEntry, error) {
	query := `
		SELECT id, instance_id, actor, action, from_status, to_status, step_index, detail, created_at
		FROM timeline_entries
		WHERE instance_id = ?
		ORDER BY id
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get timeline", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	var entries []*entity.TimelineEntry
	for rows.Next() {
		var e entity.TimelineEntry
		if err := rows.Scan(
			&e.ID,
			&e.InstanceID,
			&e.Actor,
			&e.Action,
			&e.FromStatus,
			&e.ToStatus,
			&e.StepIndex,
			&e.Detail,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Verify interface compliance
var _ port.TimelineRepository = (*TimelineRepository)(nil)
