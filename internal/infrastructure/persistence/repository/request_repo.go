package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `id, type, status, stage, fields, created_by, created_at, updated_at, completed_at`

// Create inserts a new request
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	fields, err := encodeFields(req.Fields)
	if err != nil {
		return err
	}

	query := `INSERT INTO requests (` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		req.ID,
		string(req.Type),
		string(req.Status),
		nullString(string(req.Stage)),
		fields,
		nullString(req.CreatedBy),
		req.CreatedAt,
		req.UpdatedAt,
		req.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("request_id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the request does not exist
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = ?`
	req, err := scanRequest(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.String("request_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// Update writes status, stage, fields and timestamps
func (r *RequestRepository) Update(ctx context.Context, req *entity.Request) error {
	fields, err := encodeFields(req.Fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE requests
		SET status = ?, stage = ?, fields = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(req.Status),
		nullString(string(req.Stage)),
		fields,
		req.UpdatedAt,
		req.CompletedAt,
		req.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.String("request_id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("request not found: %s", req.ID)
	}
	return nil
}

// List returns requests newest first
func (r *RequestRepository) List(ctx context.Context, limit, offset int) ([]*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.Request, error) {
	var (
		req         entity.Request
		reqType     string
		status      string
		stage       sql.NullString
		fields      string
		createdBy   sql.NullString
		completedAt sql.NullTime
	)

	if err := row.Scan(&req.ID, &reqType, &status, &stage, &fields, &createdBy,
		&req.CreatedAt, &req.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}

	req.Type = entity.RequestType(reqType)
	req.Status = entity.RequestStatus(status)
	req.Stage = workflow.State(stage.String)
	req.CreatedBy = createdBy.String
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}

	req.Fields = entity.Fields{}
	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &req.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields: %w", err)
		}
	}
	return &req, nil
}

func encodeFields(f entity.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
