package entity

import (
	"time"

	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// Approval is one human decision point of a request. Rows for every stage
// are created up front in Waiting; the token is minted when the stage
// becomes Pending.
type Approval struct {
	ID              int64          `json:"id"`
	RequestID       string         `json:"request_id"`
	StageLevel      int            `json:"stage_level"`
	Stage           workflow.State `json:"stage"`
	Role            string         `json:"role"`
	ApproverContact string         `json:"approver_contact"`
	ApproverName    string         `json:"approver_name,omitempty"`
	Status          ApprovalStatus `json:"status"`
	Decision        string         `json:"decision,omitempty"`
	DecidedBy       string         `json:"decided_by,omitempty"`
	DecisionAt      *time.Time     `json:"decision_at,omitempty"`
	Comment         string         `json:"comment,omitempty"`
	ActionToken     string         `json:"-"`
	ActivatedAt     *time.Time     `json:"activated_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
