package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/event"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// tokenAttempts bounds retries when a freshly minted token collides
const tokenAttempts = 3

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requests  port.RequestRepository
	approvals port.ApprovalRepository
	timeline  port.TimelineRepository
	txManager port.TransactionManager
	tokens    port.TokenIssuer
	graphs    map[entity.RequestType]*domainwf.Graph

	dispatcher dispatcher.Dispatcher
	metrics    port.MetricsRecorder
	tokenTTL   time.Duration
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithMetrics records transitions and decision failures
func WithMetrics(m port.MetricsRecorder) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithTokenTTL expires tokens that have been pending longer than ttl. Zero disables.
func WithTokenTTL(ttl time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.tokenTTL = ttl
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	timeline port.TimelineRepository,
	txManager port.TransactionManager,
	tokens port.TokenIssuer,
	graphs map[entity.RequestType]*domainwf.Graph,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requests:  requests,
		approvals: approvals,
		timeline:  timeline,
		txManager: txManager,
		tokens:    tokens,
		graphs:    graphs,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Graph returns the stage graph driving a request type
func (e *engineImpl) Graph(requestType entity.RequestType) (*domainwf.Graph, error) {
	graph, ok := e.graphs[requestType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequestType, requestType)
	}
	return graph, nil
}

// Start creates the request, pre-creates every approval in Waiting and
// activates the initial stage
func (e *engineImpl) Start(ctx context.Context, cmd StartCommand) (*StartResult, error) {
	if cmd.Request == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	graph, err := e.Graph(cmd.Request.Type)
	if err != nil {
		return nil, err
	}

	stages := graph.Stages()
	for _, stage := range stages {
		if cmd.Assignments[stage].Contact == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingAssignment, stage)
		}
	}

	now := e.now()
	req := cmd.Request
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = entity.StatusPending
	}
	if req.Fields == nil {
		req.Fields = entity.Fields{}
	}
	req.Stage = graph.Initial()
	req.CreatedAt = now
	req.UpdatedAt = now

	result := &StartResult{Request: req}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.requests.Create(txCtx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		approvals := make([]*entity.Approval, 0, len(stages))
		for _, stage := range stages {
			assignee := cmd.Assignments[stage]
			approval := &entity.Approval{
				RequestID:       req.ID,
				StageLevel:      graph.Level(stage),
				Stage:           stage,
				Role:            stage.Role(),
				ApproverContact: assignee.Contact,
				ApproverName:    assignee.Name,
				Status:          entity.ApprovalWaiting,
				CreatedAt:       now,
			}
			if err := e.approvals.Create(txCtx, approval); err != nil {
				return fmt.Errorf("failed to create %s approval: %w", stage, err)
			}
			approvals = append(approvals, approval)
		}

		initial := approvals[0]
		if err := e.activate(txCtx, initial, now); err != nil {
			return err
		}

		result.Approvals = approvals
		result.InitialToken = initial.ActionToken

		return e.timeline.Append(txCtx, &entity.TimelineEvent{
			RequestID:   req.ID,
			EventType:   entity.EventRequestCreated,
			Description: fmt.Sprintf("%s request created, awaiting %s", req.Type, initial.Stage),
			Actor:       req.CreatedBy,
			Timestamp:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	created := event.NewEvent(event.TypeRequestCreated, req.ID, map[string]interface{}{
		event.KeyRequestType: string(req.Type),
		event.KeyActor:       req.CreatedBy,
	})
	e.publish(ctx, created)
	if !cmd.Quiet {
		e.publish(ctx, activatedEvent(req, result.Approvals[0], created.CorrelationID))
	}

	return result, nil
}

// ApplyDecision runs the whole read-validate-write sequence in one
// transaction. The approval row is updated only while still Pending, so a
// concurrent caller that read it first still loses cleanly.
func (e *engineImpl) ApplyDecision(ctx context.Context, cmd DecisionCommand) (*DecisionResult, error) {
	var (
		result *DecisionResult
		req    *entity.Request
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		now := e.now()
		approval, loaded, err := e.loadPending(txCtx, cmd.Token, now)
		if err != nil {
			return err
		}
		req = loaded

		graph, err := e.Graph(req.Type)
		if err != nil {
			return err
		}
		action, err := domainwf.ParseAction(cmd.Action)
		if err != nil || !graph.CanFire(approval.Stage, action) {
			return fmt.Errorf("%w: %q at %s (permitted: %v)", ErrInvalidAction, cmd.Action, approval.Stage, graph.Permitted(approval.Stage))
		}

		if foreign := entity.ForeignFields(approval.Stage, cmd.Fields); len(foreign) > 0 {
			return &FieldNotOwnedError{Stage: approval.Stage, Fields: foreign}
		}
		if err := entity.ValidateFieldValues(cmd.Fields); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
		}

		fields := req.Fields.Clone()
		fields.Merge(cmd.Fields)
		fields.StampStage(approval.Stage, now)

		next, err := graph.Next(txCtx, approval.Stage, action, fields)
		if err != nil {
			return fmt.Errorf("failed to resolve next stage: %w", err)
		}

		decided := entity.ApprovalApproved
		if action != domainwf.ActionApprove {
			decided = entity.ApprovalRejected
		}
		ok, err := e.approvals.Decide(txCtx, approval.ID, decided, action.String(), cmd.Actor, cmd.Comment, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race after the read; report what the winner recorded
			current, err := e.approvals.GetByID(txCtx, approval.ID)
			if err != nil || current == nil {
				return &AlreadyProcessedError{RequestID: approval.RequestID, Stage: approval.Stage}
			}
			return alreadyProcessed(current)
		}

		result = &DecisionResult{
			RequestID:   req.ID,
			RequestType: req.Type,
			Stage:       approval.Stage,
			Action:      action,
			NextStage:   next,
			Terminal:    next.IsTerminal(),
		}

		req.Fields = fields
		req.UpdatedAt = now
		if next.IsTerminal() {
			req.Stage = ""
			req.Status = terminalStatus(next)
			req.CompletedAt = &now
		} else {
			nextApproval, err := e.approvals.GetByStage(txCtx, req.ID, next)
			if err != nil {
				return fmt.Errorf("failed to load %s approval: %w", next, err)
			}
			if nextApproval == nil {
				return fmt.Errorf("request %s has no approval for stage %s", req.ID, next)
			}
			if err := e.activate(txCtx, nextApproval, now); err != nil {
				return err
			}
			req.Stage = next
			req.Status = entity.StatusPending
			result.NextApproval = nextApproval
		}
		result.Status = req.Status

		if err := e.requests.Update(txCtx, req); err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}

		return e.timeline.Append(txCtx, &entity.TimelineEvent{
			RequestID:   req.ID,
			EventType:   timelineEventType(approval.Stage, action),
			Description: describe(approval, action, next, cmd.Comment),
			Actor:       firstNonEmpty(cmd.Actor, approval.ApproverContact),
			Timestamp:   now,
		})
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveDecisionFailure(FailureReason(err))
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveTransition(string(result.RequestType), result.Stage.String(), result.Action.String(), string(result.Status))
	}
	e.publishDecision(ctx, req, result, cmd)

	return result, nil
}

// Inspect runs the token checks of ApplyDecision without writing anything
func (e *engineImpl) Inspect(ctx context.Context, token string) (*TokenView, error) {
	approval, req, err := e.loadPending(ctx, token, e.now())
	if err != nil {
		return nil, err
	}
	graph, err := e.Graph(req.Type)
	if err != nil {
		return nil, err
	}
	return &TokenView{
		Request:   req,
		Approval:  approval,
		Permitted: graph.Permitted(approval.Stage),
		Fields:    entity.FieldGroup(approval.Stage),
	}, nil
}

// loadPending resolves a token to its Pending approval and open request,
// in precondition order: unknown, already processed, expired
func (e *engineImpl) loadPending(ctx context.Context, token string, now time.Time) (*entity.Approval, *entity.Request, error) {
	approval, err := e.approvals.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load approval: %w", err)
	}
	if approval == nil {
		return nil, nil, ErrInvalidToken
	}
	if approval.Status != entity.ApprovalPending {
		return nil, nil, alreadyProcessed(approval)
	}

	req, err := e.requests.GetByID(ctx, approval.RequestID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRequestNotFound, approval.RequestID)
	}
	if !req.IsOpen() || req.Stage != approval.Stage {
		return nil, nil, alreadyProcessed(approval)
	}

	if e.tokenTTL > 0 && approval.ActivatedAt != nil && now.Sub(*approval.ActivatedAt) > e.tokenTTL {
		return nil, nil, ErrTokenExpired
	}
	return approval, req, nil
}

// Snapshot loads a request with approvals and timeline
func (e *engineImpl) Snapshot(ctx context.Context, requestID string, timelineLimit int) (*port.RequestSnapshot, error) {
	req, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	approvals, err := e.approvals.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approvals: %w", err)
	}

	timeline, err := e.timeline.ListByRequest(ctx, requestID, timelineLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}

	return &port.RequestSnapshot{Request: req, Approvals: approvals, Timeline: timeline}, nil
}

// activate mints a token for a Waiting approval and moves it to Pending
func (e *engineImpl) activate(ctx context.Context, approval *entity.Approval, at time.Time) error {
	for attempt := 1; ; attempt++ {
		token, err := e.tokens.Issue()
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		ok, err := e.approvals.Activate(ctx, approval.ID, token, at)
		if errors.Is(err, port.ErrTokenConflict) && attempt < tokenAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to activate %s approval: %w", approval.Stage, err)
		}
		if !ok {
			return fmt.Errorf("%s approval of request %s is not waiting", approval.Stage, approval.RequestID)
		}

		approval.Status = entity.ApprovalPending
		approval.ActionToken = token
		approval.ActivatedAt = &at
		return nil
	}
}

func (e *engineImpl) publishDecision(ctx context.Context, req *entity.Request, result *DecisionResult, cmd DecisionCommand) {
	applied := event.NewEvent(event.TypeDecisionApplied, req.ID, map[string]interface{}{
		event.KeyRequestType: string(req.Type),
		event.KeyStage:       result.Stage.String(),
		event.KeyAction:      result.Action.String(),
		event.KeyActor:       cmd.Actor,
		event.KeyStatus:      string(result.Status),
	})
	e.publish(ctx, applied)

	if result.NextApproval != nil {
		e.publish(ctx, activatedEvent(req, result.NextApproval, applied.CorrelationID))
		return
	}

	var outcome event.Type
	switch {
	case result.Action == domainwf.ActionCancel:
		outcome = event.TypeRequestCancelled
	case result.Status == entity.StatusCompleted:
		outcome = event.TypeRequestCompleted
	default:
		outcome = event.TypeRequestRejected
	}
	e.publish(ctx, event.NewEventWithCorrelation(outcome, req.ID, map[string]interface{}{
		event.KeyRequestType: string(req.Type),
		event.KeyStage:       result.Stage.String(),
		event.KeyStatus:      string(result.Status),
		event.KeyActor:       cmd.Actor,
	}, applied.CorrelationID))
}

// publish hands an event to the dispatcher after commit. Handlers run
// asynchronously and their failures never reach the caller.
func (e *engineImpl) publish(ctx context.Context, evt *event.Event) {
	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

func activatedEvent(req *entity.Request, a *entity.Approval, correlationID string) *event.Event {
	return event.NewEventWithCorrelation(event.TypeStageActivated, req.ID, map[string]interface{}{
		event.KeyApprovalID:  a.ID,
		event.KeyStage:       a.Stage.String(),
		event.KeyRole:        a.Role,
		event.KeyContact:     a.ApproverContact,
		event.KeyToken:       a.ActionToken,
		event.KeyRequestType: string(req.Type),
	}, correlationID)
}

// terminalStatus maps a terminal graph state to the request status.
// Cancel ends the request as Rejected; the timeline keeps the action.
func terminalStatus(s domainwf.State) entity.RequestStatus {
	if s == domainwf.StateCompleted {
		return entity.StatusCompleted
	}
	return entity.StatusRejected
}

func timelineEventType(stage domainwf.State, action domainwf.Action) string {
	return strings.ToUpper(stage.String()) + "_" + strings.ToUpper(action.String())
}

func describe(a *entity.Approval, action domainwf.Action, next domainwf.State, comment string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) %s", a.Stage, a.Role, pastTense(action))
	if next.IsTerminal() {
		fmt.Fprintf(&b, "; request %s", strings.ToLower(next.String()))
	} else {
		fmt.Fprintf(&b, "; forwarded to %s", next)
	}
	if comment != "" {
		fmt.Fprintf(&b, ": %s", comment)
	}
	return b.String()
}

func pastTense(a domainwf.Action) string {
	switch a {
	case domainwf.ActionApprove:
		return "approved"
	case domainwf.ActionReject:
		return "rejected"
	case domainwf.ActionCancel:
		return "cancelled"
	}
	return strings.ToLower(a.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Verify interface compliance
var _ Engine = (*engineImpl)(nil)
