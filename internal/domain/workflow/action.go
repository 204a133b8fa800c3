package workflow

import (
	"fmt"
	"strings"
)

// Action is a decision an approver can take on the stage they own
type Action string

const (
	ActionApprove Action = "Approve"
	ActionReject  Action = "Reject"
	ActionCancel  Action = "Cancel"
)

// actionAliases covers the past-tense spellings used in emailed links
var actionAliases = map[string]Action{
	"approve":   ActionApprove,
	"approved":  ActionApprove,
	"reject":    ActionReject,
	"rejected":  ActionReject,
	"cancel":    ActionCancel,
	"cancelled": ActionCancel,
	"canceled":  ActionCancel,
}

// ParseAction normalizes user input into an Action
func ParseAction(s string) (Action, error) {
	if a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true for the three known actions
func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject || a == ActionCancel
}
