package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
)

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, request_id, stage_level, stage, role, approver_contact, approver_name,
	status, decision, decided_by, decision_at, comment, action_token, activated_at, created_at`

// Create inserts a new approval and sets its ID
func (r *ApprovalRepository) Create(ctx context.Context, a *entity.Approval) error {
	query := `
		INSERT INTO approvals (
			request_id, stage_level, stage, role, approver_contact, approver_name,
			status, action_token, activated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		a.RequestID,
		a.StageLevel,
		string(a.Stage),
		a.Role,
		a.ApproverContact,
		nullString(a.ApproverName),
		string(a.Status),
		nullString(a.ActionToken),
		a.ActivatedAt,
		a.CreatedAt,
	)
	if err != nil {
		if isTokenConflict(err) {
			return port.ErrTokenConflict
		}
		r.logger.Error("Failed to create approval",
			zap.String("request_id", a.RequestID),
			zap.String("stage", a.Stage.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID returns nil, nil when not found
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*entity.Approval, error) {
	return r.getOne(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
}

// GetByToken returns nil, nil when no approval carries the token
func (r *ApprovalRepository) GetByToken(ctx context.Context, token string) (*entity.Approval, error) {
	if token == "" {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE action_token = ?`, token)
}

// GetByStage returns the approval of one stage of a request
func (r *ApprovalRepository) GetByStage(ctx context.Context, requestID string, stage workflow.State) (*entity.Approval, error) {
	return r.getOne(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE request_id = ? AND stage = ?`,
		requestID, string(stage))
}

// GetByRequestID returns all approvals of a request in stage order
func (r *ApprovalRepository) GetByRequestID(ctx context.Context, requestID string) ([]*entity.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = ? ORDER BY stage_level`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// Activate moves a Waiting approval to Pending with a fresh token
func (r *ApprovalRepository) Activate(ctx context.Context, id int64, token string, at time.Time) (bool, error) {
	query := `
		UPDATE approvals
		SET status = ?, action_token = ?, activated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(entity.ApprovalPending), token, at, id, string(entity.ApprovalWaiting))
	if err != nil {
		if isTokenConflict(err) {
			return false, port.ErrTokenConflict
		}
		r.logger.Error("Failed to activate approval", zap.Int64("approval_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to activate approval: %w", err)
	}
	return affectedOne(result)
}

// Decide records a decision on a Pending approval
func (r *ApprovalRepository) Decide(ctx context.Context, id int64, status entity.ApprovalStatus, decision, decidedBy, comment string, at time.Time) (bool, error) {
	query := `
		UPDATE approvals
		SET status = ?, decision = ?, decided_by = ?, comment = ?, decision_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(status), decision, nullString(decidedBy), nullString(comment), at,
		id, string(entity.ApprovalPending))
	if err != nil {
		r.logger.Error("Failed to record decision", zap.Int64("approval_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to record decision: %w", err)
	}
	return affectedOne(result)
}

func (r *ApprovalRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.Approval, error) {
	a, err := scanApproval(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval", zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

func scanApproval(row rowScanner) (*entity.Approval, error) {
	var (
		a            entity.Approval
		stage        string
		status       string
		approverName sql.NullString
		decision     sql.NullString
		decidedBy    sql.NullString
		decisionAt   sql.NullTime
		comment      sql.NullString
		token        sql.NullString
		activatedAt  sql.NullTime
	)

	if err := row.Scan(&a.ID, &a.RequestID, &a.StageLevel, &stage, &a.Role, &a.ApproverContact,
		&approverName, &status, &decision, &decidedBy, &decisionAt, &comment, &token,
		&activatedAt, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.Stage = workflow.State(stage)
	a.Status = entity.ApprovalStatus(status)
	a.ApproverName = approverName.String
	a.Decision = decision.String
	a.DecidedBy = decidedBy.String
	a.Comment = comment.String
	a.ActionToken = token.String
	if decisionAt.Valid {
		t := decisionAt.Time
		a.DecisionAt = &t
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		a.ActivatedAt = &t
	}
	return &a, nil
}

func affectedOne(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// isTokenConflict reports a collision on the action_token column only;
// other unique indexes on approvals are integrity failures.
func isTokenConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(sqliteErr.Error(), "action_token")
	}
	return false
}

// Verify interface compliance
var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
