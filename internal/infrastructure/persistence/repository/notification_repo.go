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

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one delivery attempt
func (r *NotificationRepository) Create(ctx context.Context, n *entity.NotificationLog) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notification_logs (
			request_id, approval_id, recipient, channel, subject,
			status, error_message, sent_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var approvalID sql.NullInt64
	if n.ApprovalID != 0 {
		approvalID = sql.NullInt64{Int64: n.ApprovalID, Valid: true}
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		n.RequestID,
		approvalID,
		n.Recipient,
		n.Channel,
		n.Subject,
		n.Status,
		nullString(n.ErrorMessage),
		n.SentAt,
		n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification log",
			zap.String("request_id", n.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	return nil
}

// ListByRequest returns delivery attempts oldest first
func (r *NotificationRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.NotificationLog, error) {
	query := `
		SELECT id, request_id, approval_id, recipient, channel, subject,
			status, error_message, sent_at, created_at
		FROM notification_logs
		WHERE request_id = ?
		ORDER BY id
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list notification logs", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.NotificationLog
	for rows.Next() {
		var (
			n          entity.NotificationLog
			approvalID sql.NullInt64
			errMsg     sql.NullString
			sentAt     sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.RequestID, &approvalID, &n.Recipient, &n.Channel, &n.Subject,
			&n.Status, &errMsg, &sentAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		n.ApprovalID = approvalID.Int64
		n.ErrorMessage = errMsg.String
		if sentAt.Valid {
			t := sentAt.Time
			n.SentAt = &t
		}
		logs = append(logs, &n)
	}
	return logs, rows.Err()
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
