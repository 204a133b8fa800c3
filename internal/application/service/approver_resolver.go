package service

import (
	"context"
	"strings"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/pkg/utils"
)

// ApproverConfig holds fixed role contacts and the fallback contact
type ApproverConfig struct {
	// Fallback receives any stage whose approver cannot be resolved
	Fallback string
	// Roles maps a stage role (IT, DSI, DSIManager, ITHOD, DCI, OPS, ...) to a
	// contact. Role names are case-insensitive.
	Roles map[string]string
}

// ApproverResolver resolves the approver of each stage of a request.
// Resolution never fails: unresolved stages go to the fallback contact.
type ApproverResolver interface {
	Resolve(ctx context.Context, stage domainwf.State, req *entity.Request, hint string) workflow.Assignment
	ResolveAll(ctx context.Context, graph *domainwf.Graph, req *entity.Request, hints map[domainwf.State]string) map[domainwf.State]workflow.Assignment
}

type approverResolverImpl struct {
	config    ApproverConfig
	directory port.Directory
	logger    Logger
}

// NewApproverResolver creates a resolver. directory may be nil.
func NewApproverResolver(config ApproverConfig, directory port.Directory, logger Logger) ApproverResolver {
	roles := make(map[string]string, len(config.Roles))
	for role, contact := range config.Roles {
		roles[strings.ToLower(role)] = contact
	}
	config.Roles = roles

	return &approverResolverImpl{
		config:    config,
		directory: directory,
		logger:    logger,
	}
}

// ResolveAll resolves every stage of graph
func (r *approverResolverImpl) ResolveAll(ctx context.Context, graph *domainwf.Graph, req *entity.Request, hints map[domainwf.State]string) map[domainwf.State]workflow.Assignment {
	out := make(map[domainwf.State]workflow.Assignment, len(graph.Stages()))
	for _, stage := range graph.Stages() {
		out[stage] = r.Resolve(ctx, stage, req, hints[stage])
	}
	return out
}

// Resolve picks, in order: the caller's hint, the stage's dynamic source,
// the configured role contact, then the fallback
func (r *approverResolverImpl) Resolve(ctx context.Context, stage domainwf.State, req *entity.Request, hint string) workflow.Assignment {
	if contact := utils.NormalizeEmail(hint); contact != "" {
		return r.enrich(ctx, contact)
	}

	switch stage {
	case domainwf.StateHR:
		if req.CreatedBy != "" {
			return r.enrich(ctx, utils.NormalizeEmail(req.CreatedBy))
		}
	case domainwf.StateHeadOfDepartment:
		if hod := utils.NormalizeEmail(req.Fields.String("hodEmail")); hod != "" {
			return r.enrich(ctx, hod)
		}
		if a, ok := r.managerOf(ctx, req.Fields.String("employeeEmail")); ok {
			return a
		}
	case domainwf.StateManager:
		if a, ok := r.managerOf(ctx, req.Fields.String("employeeEmail")); ok {
			return a
		}
	}

	if contact := r.config.Roles[strings.ToLower(stage.Role())]; contact != "" {
		return r.enrich(ctx, utils.NormalizeEmail(contact))
	}

	r.logger.Error("Approver unresolved, using fallback contact",
		"request_id", req.ID,
		"stage", stage.String(),
		"fallback", r.config.Fallback,
	)
	return workflow.Assignment{Contact: r.config.Fallback}
}

func (r *approverResolverImpl) managerOf(ctx context.Context, email string) (workflow.Assignment, bool) {
	if r.directory == nil || email == "" {
		return workflow.Assignment{}, false
	}
	manager, err := r.directory.LookupManager(ctx, utils.NormalizeEmail(email))
	if err != nil {
		r.logger.Error("Directory manager lookup failed", "email", email, "error", err)
		return workflow.Assignment{}, false
	}
	if manager == nil || manager.Email == "" {
		return workflow.Assignment{}, false
	}
	return workflow.Assignment{Contact: utils.NormalizeEmail(manager.Email), Name: manager.Name}, true
}

// enrich adds the display name when the directory knows the contact
func (r *approverResolverImpl) enrich(ctx context.Context, contact string) workflow.Assignment {
	a := workflow.Assignment{Contact: contact}
	if r.directory == nil {
		return a
	}
	person, err := r.directory.LookupByEmail(ctx, contact)
	if err != nil {
		r.logger.Error("Directory lookup failed", "email", contact, "error", err)
		return a
	}
	if person != nil {
		a.Name = person.Name
	}
	return a
}
