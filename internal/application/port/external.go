package port

import (
	"context"

	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
)

// Link is an action link placed in a notification
type Link struct {
	Label string
	URL   string
}

// Notification is a message to one approver
type Notification struct {
	Recipient string
	Subject   string
	Body      string
	Links     []Link
}

// Notifier delivers notifications. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, msg *Notification) error
	Channel() string
}

// Directory looks up people in the organisation directory
type Directory interface {
	// LookupByEmail returns nil, nil when the person is unknown
	LookupByEmail(ctx context.Context, email string) (*entity.Contact, error)
	// LookupManager returns the direct leader of the person
	LookupManager(ctx context.Context, email string) (*entity.Contact, error)
	// Search lists people whose name or email contains query, up to limit.
	// An empty query lists everyone.
	Search(ctx context.Context, query string, limit int) ([]*entity.Contact, error)
}

// RuleEvaluator evaluates boolean edge-selection rules against request fields
type RuleEvaluator interface {
	// Compile checks an expression without evaluating it
	Compile(expression string) error
	Evaluate(expression string, fields map[string]interface{}) (bool, error)
}

// TokenIssuer mints action tokens
type TokenIssuer interface {
	Issue() (string, error)
}

// RequestSnapshot is a completed request with its decision trail
type RequestSnapshot struct {
	Request   *entity.Request
	Approvals []*entity.Approval
	Timeline  []*entity.TimelineEvent
}

// ArtifactRenderer renders a document from a request snapshot
type ArtifactRenderer interface {
	Render(ctx context.Context, snapshot *RequestSnapshot) ([]byte, error)
	Extension() string
}

// MetricsRecorder receives workflow counters
type MetricsRecorder interface {
	ObserveTransition(requestType, stage, action, outcome string)
	ObserveDecisionFailure(reason string)
	ObserveNotification(channel, result string)
}
