package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrValidation marks malformed intake input
var ErrValidation = errors.New("validation failed")

// StatusTimelineLimit is the number of timeline events returned by GetStatus
const StatusTimelineLimit = 10

// AccessRequestInput is a new two-level access request
type AccessRequestInput struct {
	EmployeeID      string `json:"employee_id"`
	EmployeeEmail   string `json:"employee_email"`
	RequestType     string `json:"request_type"`
	Justification   string `json:"justification"`
	ManagerContact  string `json:"manager_contact"`
	DeptHeadContact string `json:"dept_head_contact"`
	CreatedBy       string `json:"-"`
}

// OnboardingInput is a new onboarding form filled in by HR
type OnboardingInput struct {
	Fields    entity.Fields `json:"fields"`
	Submit    bool          `json:"submit"`
	CreatedBy string        `json:"-"`
}

// CreatedRequest is the outcome of intake
type CreatedRequest struct {
	Request   *entity.Request    `json:"request"`
	Approvals []*entity.Approval `json:"approvals"`
	// DraftToken lets the originator submit a draft later. Empty once submitted.
	DraftToken string `json:"draft_token,omitempty"`
}

// RequestService is the entry point for creating and inspecting requests
type RequestService interface {
	CreateAccessRequest(ctx context.Context, in AccessRequestInput) (*CreatedRequest, error)
	CreateOnboarding(ctx context.Context, in OnboardingInput) (*CreatedRequest, error)
	GetStatus(ctx context.Context, requestID string) (*port.RequestSnapshot, error)
	Inspect(ctx context.Context, token string) (*workflow.TokenView, error)
	Decide(ctx context.Context, cmd workflow.DecisionCommand) (*workflow.DecisionResult, error)
}

type requestServiceImpl struct {
	engine   workflow.Engine
	resolver ApproverResolver
	logger   Logger
}

// NewRequestService creates a new RequestService
func NewRequestService(engine workflow.Engine, resolver ApproverResolver, logger Logger) RequestService {
	return &requestServiceImpl{
		engine:   engine,
		resolver: resolver,
		logger:   logger,
	}
}

// CreateAccessRequest starts the Manager -> DepartmentHead chain
func (s *requestServiceImpl) CreateAccessRequest(ctx context.Context, in AccessRequestInput) (*CreatedRequest, error) {
	var problems []string
	if strings.TrimSpace(in.EmployeeID) == "" {
		problems = append(problems, "employee_id is required")
	}
	if strings.TrimSpace(in.RequestType) == "" {
		problems = append(problems, "request_type is required")
	}
	for name, contact := range map[string]string{
		"manager_contact":   in.ManagerContact,
		"dept_head_contact": in.DeptHeadContact,
		"employee_email":    in.EmployeeEmail,
	} {
		if contact != "" {
			if err := utils.ValidateEmail(strings.TrimSpace(contact)); err != nil {
				problems = append(problems, name+": "+err.Error())
			}
		}
	}
	if err := validationError(problems); err != nil {
		return nil, err
	}

	req := &entity.Request{
		Type: entity.RequestTypeAccess,
		Fields: entity.Fields{
			"employeeId":    utils.SanitizeString(in.EmployeeID),
			"requestType":   utils.SanitizeString(in.RequestType),
			"justification": utils.SanitizeString(in.Justification),
		},
		CreatedBy: in.CreatedBy,
	}
	if in.EmployeeEmail != "" {
		req.Fields["employeeEmail"] = utils.NormalizeEmail(in.EmployeeEmail)
	}

	graph, err := s.engine.Graph(entity.RequestTypeAccess)
	if err != nil {
		return nil, err
	}
	assignments := s.resolver.ResolveAll(ctx, graph, req, map[domainwf.State]string{
		domainwf.StateManager:        in.ManagerContact,
		domainwf.StateDepartmentHead: in.DeptHeadContact,
	})

	res, err := s.engine.Start(ctx, workflow.StartCommand{Request: req, Assignments: assignments})
	if err != nil {
		s.logger.Error("Failed to create access request", "employee_id", in.EmployeeID, "error", err)
		return nil, err
	}

	s.logger.Info("Access request created",
		"request_id", res.Request.ID,
		"manager", assignments[domainwf.StateManager].Contact,
	)
	return &CreatedRequest{Request: res.Request, Approvals: res.Approvals}, nil
}

// CreateOnboarding stores the HR part of the form as a draft and, when
// asked, submits it straight away through the HR approval
func (s *requestServiceImpl) CreateOnboarding(ctx context.Context, in OnboardingInput) (*CreatedRequest, error) {
	var problems []string
	if in.CreatedBy == "" {
		problems = append(problems, "originator identity is required")
	}
	if in.Fields.String("fullName") == "" {
		problems = append(problems, "fullName is required")
	}
	if foreign := entity.ForeignFields(domainwf.StateHR, in.Fields); len(foreign) > 0 {
		problems = append(problems, "fields not owned by HR: "+strings.Join(foreign, ", "))
	}
	if err := entity.ValidateFieldValues(in.Fields); err != nil {
		problems = append(problems, err.Error())
	}
	if hod := in.Fields.String("hodEmail"); hod != "" {
		if err := utils.ValidateEmail(hod); err != nil {
			problems = append(problems, "hodEmail: "+err.Error())
		}
	}
	if err := validationError(problems); err != nil {
		return nil, err
	}

	req := &entity.Request{
		Type:      entity.RequestTypeOnboarding,
		Status:    entity.StatusDraft,
		Fields:    in.Fields.Clone(),
		CreatedBy: in.CreatedBy,
	}

	graph, err := s.engine.Graph(entity.RequestTypeOnboarding)
	if err != nil {
		return nil, err
	}
	assignments := s.resolver.ResolveAll(ctx, graph, req, nil)

	res, err := s.engine.Start(ctx, workflow.StartCommand{
		Request:     req,
		Assignments: assignments,
		Quiet:       in.Submit,
	})
	if err != nil {
		s.logger.Error("Failed to create onboarding request", "created_by", in.CreatedBy, "error", err)
		return nil, err
	}

	created := &CreatedRequest{Request: res.Request, Approvals: res.Approvals, DraftToken: res.InitialToken}
	if !in.Submit {
		s.logger.Info("Onboarding draft created", "request_id", res.Request.ID)
		return created, nil
	}

	if _, err := s.engine.ApplyDecision(ctx, workflow.DecisionCommand{
		Token:  res.InitialToken,
		Action: domainwf.ActionApprove.String(),
		Actor:  in.CreatedBy,
	}); err != nil {
		s.logger.Error("Failed to submit onboarding draft", "request_id", res.Request.ID, "error", err)
		return nil, fmt.Errorf("request %s saved as draft but not submitted: %w", res.Request.ID, err)
	}

	snap, err := s.engine.Snapshot(ctx, res.Request.ID, 0)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Onboarding request submitted", "request_id", res.Request.ID, "stage", snap.Request.Stage.String())
	return &CreatedRequest{Request: snap.Request, Approvals: snap.Approvals}, nil
}

// GetStatus returns the request, its approvals and the newest timeline events
func (s *requestServiceImpl) GetStatus(ctx context.Context, requestID string) (*port.RequestSnapshot, error) {
	return s.engine.Snapshot(ctx, requestID, StatusTimelineLimit)
}

// Inspect shows a token holder what they are about to decide
func (s *requestServiceImpl) Inspect(ctx context.Context, token string) (*workflow.TokenView, error) {
	return s.engine.Inspect(ctx, token)
}

// Decide applies a token presentation and logs the outcome
func (s *requestServiceImpl) Decide(ctx context.Context, cmd workflow.DecisionCommand) (*workflow.DecisionResult, error) {
	res, err := s.engine.ApplyDecision(ctx, cmd)
	if err != nil {
		if workflow.FailureReason(err) == "internal" {
			s.logger.Error("Decision failed", "action", cmd.Action, "error", err)
		} else {
			s.logger.Info("Decision refused", "action", cmd.Action, "reason", workflow.FailureReason(err))
		}
		return nil, err
	}

	s.logger.Info("Decision applied",
		"request_id", res.RequestID,
		"stage", res.Stage.String(),
		"action", res.Action.String(),
		"status", string(res.Status),
		"next_stage", res.NextStage.String(),
	)
	return res, nil
}

func validationError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}
