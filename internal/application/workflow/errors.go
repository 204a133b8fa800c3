package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

var (
	// ErrInvalidToken means the token does not resolve to any approval
	ErrInvalidToken = errors.New("invalid action token")

	// ErrAlreadyProcessed means the approval already left Pending
	ErrAlreadyProcessed = errors.New("approval already processed")

	// ErrInvalidAction means the action is not declared for the stage
	ErrInvalidAction = errors.New("action not permitted at this stage")

	// ErrTokenExpired means the approval has been pending longer than the token TTL
	ErrTokenExpired = errors.New("action token expired")

	// ErrFieldNotOwned means a submitted field belongs to another stage
	ErrFieldNotOwned = errors.New("field not owned by the acting stage")

	// ErrInvalidFieldValue means a field failed value validation
	ErrInvalidFieldValue = errors.New("invalid field value")

	// ErrRequestNotFound means no request has the given ID
	ErrRequestNotFound = errors.New("request not found")

	// ErrUnknownRequestType means no graph is registered for the type
	ErrUnknownRequestType = errors.New("unknown request type")

	// ErrMissingAssignment means a stage has no resolved approver
	ErrMissingAssignment = errors.New("stage has no approver assigned")
)

// AlreadyProcessedError carries the decision that was already recorded
type AlreadyProcessedError struct {
	RequestID string
	Stage     domainwf.State
	Status    entity.ApprovalStatus
	Decision  string
	DecidedBy string
	DecidedAt *time.Time
}

func (e *AlreadyProcessedError) Error() string {
	if e.Decision == "" {
		return fmt.Sprintf("%s: %s approval is %s", ErrAlreadyProcessed, e.Stage, e.Status)
	}
	return fmt.Sprintf("%s: %s was already decided (%s)", ErrAlreadyProcessed, e.Stage, e.Decision)
}

// Is makes errors.Is(err, ErrAlreadyProcessed) match
func (e *AlreadyProcessedError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}

func alreadyProcessed(a *entity.Approval) *AlreadyProcessedError {
	return &AlreadyProcessedError{
		RequestID: a.RequestID,
		Stage:     a.Stage,
		Status:    a.Status,
		Decision:  a.Decision,
		DecidedBy: a.DecidedBy,
		DecidedAt: a.DecisionAt,
	}
}

// FieldNotOwnedError lists the submitted fields the stage may not write
type FieldNotOwnedError struct {
	Stage  domainwf.State
	Fields []string
}

func (e *FieldNotOwnedError) Error() string {
	return fmt.Sprintf("%s: %s cannot write %s", ErrFieldNotOwned, e.Stage, strings.Join(e.Fields, ", "))
}

// Is makes errors.Is(err, ErrFieldNotOwned) match
func (e *FieldNotOwnedError) Is(target error) bool {
	return target == ErrFieldNotOwned
}

// FailureReason names an error for metrics labels
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrFieldNotOwned):
		return "field_not_owned"
	case errors.Is(err, ErrInvalidFieldValue):
		return "invalid_field_value"
	default:
		return "internal"
	}
}
