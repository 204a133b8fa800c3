// Package workflow hosts the Stage Transition Engine: the single place where
// approval decisions are validated and applied to a request.
package workflow

import (
	"context"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// Engine applies approval decisions to requests
type Engine interface {
	// Start creates a request with one approval per stage of its graph.
	// The initial stage is activated with a fresh token.
	Start(ctx context.Context, cmd StartCommand) (*StartResult, error)

	// ApplyDecision validates a token presentation and applies the action.
	// Exactly one caller can win a given token.
	ApplyDecision(ctx context.Context, cmd DecisionCommand) (*DecisionResult, error)

	// Inspect checks a token without consuming it. It fails like
	// ApplyDecision does for unknown, processed or expired tokens.
	Inspect(ctx context.Context, token string) (*TokenView, error)

	// Snapshot loads a request with its approvals and newest timeline
	// events. timelineLimit <= 0 loads the full timeline.
	Snapshot(ctx context.Context, requestID string, timelineLimit int) (*port.RequestSnapshot, error)

	// Graph returns the stage graph driving a request type
	Graph(requestType entity.RequestType) (*domainwf.Graph, error)
}

// Assignment is the resolved approver of one stage
type Assignment struct {
	Contact string
	Name    string
}

// StartCommand describes a new request entering its workflow
type StartCommand struct {
	Request     *entity.Request
	Assignments map[domainwf.State]Assignment
	// Quiet skips the stage.activated event for the initial stage
	Quiet bool
}

// StartResult is the created request and its approvals in stage order
type StartResult struct {
	Request      *entity.Request
	Approvals    []*entity.Approval
	InitialToken string
}

// DecisionCommand is one token presentation.
// Action is parsed by the engine so token errors take precedence.
type DecisionCommand struct {
	Token   string
	Action  string
	Comment string
	Actor   string
	Fields  entity.Fields
}

// DecisionResult describes the committed transition
type DecisionResult struct {
	RequestID   string
	RequestType entity.RequestType
	Stage       domainwf.State
	Action      domainwf.Action
	Status      entity.RequestStatus
	NextStage   domainwf.State
	Terminal    bool
	// NextApproval is set when a stage was activated
	NextApproval *entity.Approval
}

// TokenView is what a token holder may see before deciding
type TokenView struct {
	Request   *entity.Request
	Approval  *entity.Approval
	Permitted []domainwf.Action
	// Fields the stage may submit
	Fields []string
}
