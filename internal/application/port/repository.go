package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// ErrTokenConflict is returned when an action token collides with an existing one
var ErrTokenConflict = errors.New("action token already in use")

// RequestRepository defines persistence operations for Request
type RequestRepository interface {
	Create(ctx context.Context, req *entity.Request) error
	GetByID(ctx context.Context, id string) (*entity.Request, error)
	// Update writes status, stage, fields and timestamps
	Update(ctx context.Context, req *entity.Request) error
	List(ctx context.Context, limit, offset int) ([]*entity.Request, error)
}

// ApprovalRepository defines persistence operations for Approval
type ApprovalRepository interface {
	Create(ctx context.Context, approval *entity.Approval) error
	GetByID(ctx context.Context, id int64) (*entity.Approval, error)
	GetByToken(ctx context.Context, token string) (*entity.Approval, error)
	GetByRequestID(ctx context.Context, requestID string) ([]*entity.Approval, error)
	GetByStage(ctx context.Context, requestID string, stage workflow.State) (*entity.Approval, error)

	// Activate moves a Waiting approval to Pending with a fresh token.
	// Returns false if the row was not Waiting.
	Activate(ctx context.Context, id int64, token string, at time.Time) (bool, error)

	// Decide records a decision on a Pending approval. Returns false if the
	// row was no longer Pending, which is how a lost race is detected.
	Decide(ctx context.Context, id int64, status entity.ApprovalStatus, decision, decidedBy, comment string, at time.Time) (bool, error)
}

// TimelineRepository is the append-only audit log
type TimelineRepository interface {
	Append(ctx context.Context, evt *entity.TimelineEvent) error
	// ListByRequest returns the newest events first; limit <= 0 means all
	ListByRequest(ctx context.Context, requestID string, limit int) ([]*entity.TimelineEvent, error)
}

// NotificationRepository records notification delivery attempts
type NotificationRepository interface {
	Create(ctx context.Context, log *entity.NotificationLog) error
	ListByRequest(ctx context.Context, requestID string) ([]*entity.NotificationLog, error)
}

// TransactionManager runs a function inside one database transaction.
// Repositories pick the transaction up from the context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
