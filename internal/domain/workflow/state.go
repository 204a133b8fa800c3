package workflow

// State is a position in a stage graph: an approval stage waiting on a
// human decision, or one of the terminal outcomes.
type State string

// Access-request stages
const (
	StateManager        State = "Manager"
	StateDepartmentHead State = "DepartmentHead"
)

// Onboarding stages
const (
	StateHR                 State = "HR"
	StateITOperations       State = "ITOperations"
	StateHeadOfDepartment   State = "HeadOfDepartment"
	StateSecurityConfig     State = "SecurityConfig"
	StateSecurityManager    State = "SecurityManager"
	StateITHeadOfDepartment State = "ITHeadOfDepartment"
	StateImplementer        State = "Implementer"
	StateOperations         State = "Operations"
)

// Terminal outcomes
const (
	StateCompleted State = "COMPLETED"
	StateRejected  State = "REJECTED"
	StateCancelled State = "CANCELLED"
)

var validStates = map[State]bool{
	StateManager:            true,
	StateDepartmentHead:     true,
	StateHR:                 true,
	StateITOperations:       true,
	StateHeadOfDepartment:   true,
	StateSecurityConfig:     true,
	StateSecurityManager:    true,
	StateITHeadOfDepartment: true,
	StateImplementer:        true,
	StateOperations:         true,
	StateCompleted:          true,
	StateRejected:           true,
	StateCancelled:          true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateRejected:  true,
	StateCancelled: true,
}

// stageRoles maps each stage to the role that must decide it
var stageRoles = map[State]string{
	StateManager:            "Manager",
	StateDepartmentHead:     "DeptHead",
	StateHR:                 "HR",
	StateITOperations:       "IT",
	StateHeadOfDepartment:   "HOD",
	StateSecurityConfig:     "DSI",
	StateSecurityManager:    "DSIManager",
	StateITHeadOfDepartment: "ITHOD",
	StateImplementer:        "DCI",
	StateOperations:         "OPS",
}

// IsTerminal returns true if no further decisions are possible
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known stage or outcome
func (s State) IsValid() bool {
	return validStates[s]
}

// Role returns the approver role for a stage, empty for terminal states
func (s State) Role() string {
	return stageRoles[s]
}
