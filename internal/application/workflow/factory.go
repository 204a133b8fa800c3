package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// EmailServicesRule selects the IT head-of-department stage after security
// manager approval. It only applies when mail services were requested.
const EmailServicesRule = `flag("emailIncoming") || flag("emailOutgoing")`

// BuildAccessRequestGraph returns the two-level access-request chain:
// Manager -> DepartmentHead -> COMPLETED
func BuildAccessRequestGraph() (*domainwf.Graph, error) {
	b := domainwf.NewBuilder("access-request")

	b.Configure(domainwf.StateManager).
		Permit(domainwf.ActionApprove, domainwf.StateDepartmentHead).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateDepartmentHead).
		Permit(domainwf.ActionApprove, domainwf.StateCompleted).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	return b.Build(domainwf.StateManager)
}

// BuildOnboardingGraph returns the onboarding pipeline. rule decides the
// branch after SecurityManager; an empty rule uses EmailServicesRule.
func BuildOnboardingGraph(rules port.RuleEvaluator, rule string) (*domainwf.Graph, error) {
	if rule == "" {
		rule = EmailServicesRule
	}
	if err := rules.Compile(rule); err != nil {
		return nil, fmt.Errorf("onboarding rule: %w", err)
	}
	needsITHead := func(ctx context.Context, fields map[string]interface{}) (bool, error) {
		return rules.Evaluate(rule, fields)
	}

	b := domainwf.NewBuilder("onboarding")

	b.Configure(domainwf.StateHR).
		Permit(domainwf.ActionApprove, domainwf.StateITOperations).
		Permit(domainwf.ActionCancel, domainwf.StateCancelled)

	b.Configure(domainwf.StateITOperations).
		Permit(domainwf.ActionApprove, domainwf.StateHeadOfDepartment).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateHeadOfDepartment).
		Permit(domainwf.ActionApprove, domainwf.StateSecurityConfig).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateSecurityConfig).
		Permit(domainwf.ActionApprove, domainwf.StateSecurityManager).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateSecurityManager).
		PermitIf(domainwf.ActionApprove, domainwf.StateITHeadOfDepartment, needsITHead).
		Permit(domainwf.ActionApprove, domainwf.StateImplementer).
		Permit(domainwf.ActionReject, domainwf.StateRejected).
		Permit(domainwf.ActionCancel, domainwf.StateCancelled)

	b.Configure(domainwf.StateITHeadOfDepartment).
		Permit(domainwf.ActionApprove, domainwf.StateImplementer).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateImplementer).
		Permit(domainwf.ActionApprove, domainwf.StateOperations).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	b.Configure(domainwf.StateOperations).
		Permit(domainwf.ActionApprove, domainwf.StateCompleted).
		Permit(domainwf.ActionReject, domainwf.StateRejected)

	return b.Build(domainwf.StateHR)
}

// Graphs builds the registry of both request types
func Graphs(rules port.RuleEvaluator, onboardingRule string) (map[entity.RequestType]*domainwf.Graph, error) {
	access, err := BuildAccessRequestGraph()
	if err != nil {
		return nil, err
	}
	onboarding, err := BuildOnboardingGraph(rules, onboardingRule)
	if err != nil {
		return nil, err
	}
	return map[entity.RequestType]*domainwf.Graph{
		entity.RequestTypeAccess:     access,
		entity.RequestTypeOnboarding: onboarding,
	}, nil
}
