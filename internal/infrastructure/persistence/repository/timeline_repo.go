package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// TimelineRepository implements port.TimelineRepository.
// Rows cannot be updated or deleted; the schema rejects both.
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

// Append writes one event and sets its ID
func (r *TimelineRepository) Append(ctx context.Context, evt *entity.TimelineEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO timeline_events (request_id, event_type, description, actor, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		evt.RequestID,
		evt.EventType,
		evt.Description,
		nullString(evt.Actor),
		evt.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to append timeline event",
			zap.String("request_id", evt.RequestID),
			zap.String("event_type", evt.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to append timeline event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	evt.ID = id
	return nil
}

// ListByRequest returns the newest events first
func (r *TimelineRepository) ListByRequest(ctx context.Context, requestID string, limit int) ([]*entity.TimelineEvent, error) {
	query := `
		SELECT id, request_id, event_type, description, actor, timestamp
		FROM timeline_events
		WHERE request_id = ?
		ORDER BY id DESC
	`
	args := []interface{}{requestID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list timeline", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list timeline: %w", err)
	}
	defer rows.Close()

	var events []*entity.TimelineEvent
	for rows.Next() {
		var (
			evt   entity.TimelineEvent
			actor sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.RequestID, &evt.EventType, &evt.Description, &actor, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		evt.Actor = actor.String
		events = append(events, &evt)
	}
	return events, rows.Err()
}

// Verify interface compliance
var _ port.TimelineRepository = (*TimelineRepository)(nil)
