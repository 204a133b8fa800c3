package entity

import (
	"time"

	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// Request is the subject of a workflow: an access request or an onboarding form
type Request struct {
	ID          string         `json:"id"`
	Type        RequestType    `json:"type"`
	Status      RequestStatus  `json:"status"`
	Stage       workflow.State `json:"stage,omitempty"` // empty once terminal
	Fields      Fields         `json:"fields"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsOpen returns true while a stage still owns the request
func (r *Request) IsOpen() bool {
	return !r.Status.IsTerminal() && r.Stage != ""
}
