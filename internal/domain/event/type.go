package event

// Type identifies the type of workflow event
type Type string

const (
	TypeRequestCreated   Type = "request.created"
	TypeStageActivated   Type = "stage.activated"
	TypeDecisionApplied  Type = "decision.applied"
	TypeRequestCompleted Type = "request.completed"
	TypeRequestRejected  Type = "request.rejected"
	TypeRequestCancelled Type = "request.cancelled"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeStageActivated,
		TypeDecisionApplied,
		TypeRequestCompleted,
		TypeRequestRejected,
		TypeRequestCancelled:
		return true
	default:
		return false
	}
}
