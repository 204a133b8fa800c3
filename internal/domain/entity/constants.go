package entity

// RequestType identifies which stage graph drives a request
type RequestType string

const (
	RequestTypeAccess     RequestType = "AccessRequest"
	RequestTypeOnboarding RequestType = "Onboarding"
)

// RequestStatus is the lifecycle status of a Request
type RequestStatus string

const (
	StatusDraft     RequestStatus = "Draft"
	StatusPending   RequestStatus = "Pending"
	StatusApproved  RequestStatus = "Approved"
	StatusRejected  RequestStatus = "Rejected"
	StatusCompleted RequestStatus = "Completed"
	StatusCancelled RequestStatus = "Cancelled"
)

// IsTerminal returns true once the request can no longer change
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ApprovalStatus is the lifecycle status of an Approval
type ApprovalStatus string

const (
	ApprovalWaiting  ApprovalStatus = "Waiting"
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// IsTerminal returns true once a decision has been recorded
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Notification status constants
const (
	NotificationStatusSent   = "SENT"
	NotificationStatusFailed = "FAILED"
)

// Timeline event types that are not derived from a stage decision
const (
	EventRequestCreated = "REQUEST_CREATED"
)
