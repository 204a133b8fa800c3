package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// Fields is the free-form form data of a request, accumulated stage by stage
type Fields map[string]interface{}

// Clone returns a shallow copy
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge overwrites keys from other onto f. Keys are never removed.
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}

// String returns the value for key rendered as text
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// Bool interprets checkbox-style values: true, "on", "yes", "1", non-zero numbers
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "yes", "y", "1", "checked":
			return true
		}
		return false
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	}
	return false
}

// Keys returns the sorted keys
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field groups owned by each onboarding stage. Only the stage currently
// holding the request may write its group.
var fieldGroups = map[workflow.State][]string{
	workflow.StateHR: {
		"employeeId", "fullName", "department", "designation", "joiningDate",
		"officeExtension", "homePhone", "mobilePhone", "requestMode", "hod",
		"hodEmail", "projectUnit",
		"intranetAccess", "internetAccess", "specificWebsites", "internetPurpose",
		"emailIncoming", "emailOutgoing", "emailPurpose",
		"laserPrinter", "laserPrinterLocation", "dotMatrixPrinter", "dotMatrixPrinterLocation",
	},
	workflow.StateITOperations: {
		"deptSharePath", "homeFolderPath", "iflPortalLink",
	},
	workflow.StateHeadOfDepartment: {
		"hodRemarks",
	},
	workflow.StateSecurityConfig: {
		"ntUserName", "exchangeDisplayName", "smtpAddress", "memberOf", "dgMembers",
		"mailSizeLimit", "recipientLimit", "mailboxStorageLimit", "extraFacility",
		"groupPolicyLevel",
	},
	workflow.StateSecurityManager: {
		"dsiRemarks",
	},
	workflow.StateITHeadOfDepartment: {
		"itHodRemarks",
	},
	workflow.StateImplementer: {
		"dciImplementer", "dciProofAttachments",
	},
	workflow.StateOperations: {
		"opsCompletedBy", "opsChecklist",
	},
}

// stageTimestampKeys name the field that records when a stage was decided
var stageTimestampKeys = map[workflow.State]string{
	workflow.StateHR:                 "hrSubmittedAt",
	workflow.StateITOperations:       "itSubmittedAt",
	workflow.StateHeadOfDepartment:   "hodApprovedAt",
	workflow.StateSecurityConfig:     "dsiSubmittedAt",
	workflow.StateSecurityManager:    "dsiManagerDecidedAt",
	workflow.StateITHeadOfDepartment: "itHodDecidedAt",
	workflow.StateImplementer:        "dciImplementedAt",
	workflow.StateOperations:         "opsCompletedAt",
}

// GroupPolicyLevels are the accepted values of groupPolicyLevel
var GroupPolicyLevels = []string{"Highly Managed", "Lightly Managed", "IT User"}

// FieldGroup returns the fields a stage may write
func FieldGroup(stage workflow.State) []string {
	return append([]string{}, fieldGroups[stage]...)
}

// ForeignFields returns the submitted keys the stage does not own, sorted
func ForeignFields(stage workflow.State, submitted Fields) []string {
	owned := make(map[string]bool, len(fieldGroups[stage]))
	for _, name := range fieldGroups[stage] {
		owned[name] = true
	}

	var foreign []string
	for key := range submitted {
		if !owned[key] {
			foreign = append(foreign, key)
		}
	}
	sort.Strings(foreign)
	return foreign
}

// ValidateFieldValues checks the few fields with a closed value set
func ValidateFieldValues(submitted Fields) error {
	if _, ok := submitted["groupPolicyLevel"]; ok {
		level := submitted.String("groupPolicyLevel")
		for _, allowed := range GroupPolicyLevels {
			if level == allowed {
				return nil
			}
		}
		return fmt.Errorf("groupPolicyLevel must be one of %s, got %q", strings.Join(GroupPolicyLevels, ", "), level)
	}
	return nil
}

// StampStage records the decision time of a stage into the fields
func (f Fields) StampStage(stage workflow.State, at time.Time) {
	if key, ok := stageTimestampKeys[stage]; ok {
		f[key] = at.UTC().Format(time.RFC3339)
	}
}
