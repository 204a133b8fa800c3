package workflow

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/rule"
	"github.com/garyjia/onboarding-workflow/internal/application/token"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/event"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/onboarding-workflow/pkg/database"
)

// recordingDispatcher captures published events
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *recordingDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *recordingDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *recordingDispatcher) Close() error { return nil }

func (m *recordingDispatcher) ofType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// recordingMetrics captures metric observations
type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	failures    []string
}

func (m *recordingMetrics) ObserveTransition(requestType, stage, action, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, stage+":"+action+":"+outcome)
}

func (m *recordingMetrics) ObserveDecisionFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, reason)
}

func (m *recordingMetrics) ObserveNotification(channel, result string) {}

type harness struct {
	engine     Engine
	approvals  port.ApprovalRepository
	requests   port.RequestRepository
	timeline   port.TimelineRepository
	dispatcher *recordingDispatcher
	metrics    *recordingMetrics
	now        time.Time
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	return newHarnessWithIssuer(t, token.NewIssuer(), opts...)
}

func newHarnessWithIssuer(t *testing.T, issuer port.TokenIssuer, opts ...EngineOption) *harness {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "engine.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(database.Migrations, database.EmbeddedDir))

	graphs, err := Graphs(rule.NewExprEvaluator(), "")
	require.NoError(t, err)

	h := &harness{
		approvals:  repository.NewApprovalRepository(db.DB, logger),
		requests:   repository.NewRequestRepository(db.DB, logger),
		timeline:   repository.NewTimelineRepository(db.DB, logger),
		dispatcher: &recordingDispatcher{},
		metrics:    &recordingMetrics{},
		now:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	base := []EngineOption{
		WithDispatcher(h.dispatcher),
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return h.now }),
	}
	h.engine = NewEngine(h.requests, h.approvals, h.timeline,
		sqlite.NewDB(db.DB, logger), issuer, graphs, append(base, opts...)...)
	return h
}

func (h *harness) startAccess(t *testing.T) *StartResult {
	t.Helper()
	res, err := h.engine.Start(context.Background(), StartCommand{
		Request: &entity.Request{
			Type:      entity.RequestTypeAccess,
			Fields:    entity.Fields{"employeeId": "E100", "requestType": "VPN", "justification": "remote work"},
			CreatedBy: "emp@example.com",
		},
		Assignments: map[domainwf.State]Assignment{
			domainwf.StateManager:        {Contact: "a@example.com", Name: "A"},
			domainwf.StateDepartmentHead: {Contact: "b@example.com", Name: "B"},
		},
	})
	require.NoError(t, err)
	return res
}

func (h *harness) startOnboarding(t *testing.T, fields entity.Fields) *StartResult {
	t.Helper()
	graph, err := h.engine.Graph(entity.RequestTypeOnboarding)
	require.NoError(t, err)

	assignments := make(map[domainwf.State]Assignment)
	for _, stage := range graph.Stages() {
		assignments[stage] = Assignment{Contact: stage.String() + "@example.com"}
	}

	res, err := h.engine.Start(context.Background(), StartCommand{
		Request: &entity.Request{
			Type:      entity.RequestTypeOnboarding,
			Status:    entity.StatusDraft,
			Fields:    fields,
			CreatedBy: "HR@example.com",
		},
		Assignments: assignments,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) decide(t *testing.T, tok, action string, fields entity.Fields) *DecisionResult {
	t.Helper()
	res, err := h.engine.ApplyDecision(context.Background(), DecisionCommand{
		Token: tok, Action: action, Actor: "tester@example.com", Fields: fields,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) pendingStages(t *testing.T, requestID string) []domainwf.State {
	t.Helper()
	approvals, err := h.approvals.GetByRequestID(context.Background(), requestID)
	require.NoError(t, err)
	var stages []domainwf.State
	for _, a := range approvals {
		if a.Status == entity.ApprovalPending {
			stages = append(stages, a.Stage)
		}
	}
	return stages
}

func TestStart_PreCreatesApprovals(t *testing.T) {
	h := newHarness(t)
	res := h.startAccess(t)

	require.Len(t, res.Approvals, 2)
	assert.Equal(t, entity.StatusPending, res.Request.Status)
	assert.Equal(t, domainwf.StateManager, res.Request.Stage)
	assert.NotEmpty(t, res.InitialToken)

	assert.Equal(t, 1, res.Approvals[0].StageLevel)
	assert.Equal(t, entity.ApprovalPending, res.Approvals[0].Status)
	assert.Equal(t, "Manager", res.Approvals[0].Role)
	assert.Equal(t, 2, res.Approvals[1].StageLevel)
	assert.Equal(t, entity.ApprovalWaiting, res.Approvals[1].Status)
	assert.Empty(t, res.Approvals[1].ActionToken)

	activated := h.dispatcher.ofType(event.TypeStageActivated)
	require.Len(t, activated, 1)
	assert.Equal(t, "a@example.com", activated[0].GetPayloadString(event.KeyContact))
	assert.Equal(t, res.InitialToken, activated[0].GetPayloadString(event.KeyToken))

	events, err := h.timeline.ListByRequest(context.Background(), res.Request.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entity.EventRequestCreated, events[0].EventType)
}

func TestStart_MissingAssignment(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Start(context.Background(), StartCommand{
		Request: &entity.Request{Type: entity.RequestTypeAccess},
		Assignments: map[domainwf.State]Assignment{
			domainwf.StateManager: {Contact: "a@example.com"},
		},
	})
	assert.ErrorIs(t, err, ErrMissingAssignment)

	_, err = h.engine.Start(context.Background(), StartCommand{
		Request: &entity.Request{Type: "Leave"},
	})
	assert.ErrorIs(t, err, ErrUnknownRequestType)
}

func TestApplyDecision_InvalidToken(t *testing.T) {
	h := newHarness(t)
	h.startAccess(t)

	for _, tok := range []string{"", "does-not-exist"} {
		_, err := h.engine.ApplyDecision(context.Background(), DecisionCommand{Token: tok, Action: "Approve"})
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Contains(t, h.metrics.failures, "invalid_token")
}

func TestApplyDecision_AccessRequestTwoLevels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startAccess(t)
	id := start.Request.ID

	res := h.decide(t, start.InitialToken, "Approve", nil)
	assert.Equal(t, domainwf.StateDepartmentHead, res.NextStage)
	assert.Equal(t, entity.StatusPending, res.Status)
	require.NotNil(t, res.NextApproval)
	assert.Equal(t, "b@example.com", res.NextApproval.ApproverContact)

	req, err := h.requests.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDepartmentHead, req.Stage)
	assert.Equal(t, []domainwf.State{domainwf.StateDepartmentHead}, h.pendingStages(t, id))

	res = h.decide(t, res.NextApproval.ActionToken, "approved", nil)
	assert.True(t, res.Terminal)
	assert.Equal(t, entity.StatusCompleted, res.Status)

	req, err = h.requests.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, req.Status)
	assert.Equal(t, domainwf.State(""), req.Stage)
	assert.NotNil(t, req.CompletedAt)
	assert.Empty(t, h.pendingStages(t, id))

	assert.Len(t, h.dispatcher.ofType(event.TypeRequestCompleted), 1)
	assert.Len(t, h.dispatcher.ofType(event.TypeDecisionApplied), 2)

	events, err := h.timeline.ListByRequest(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "DEPARTMENTHEAD_APPROVE", events[0].EventType)
	assert.Equal(t, "MANAGER_APPROVE", events[1].EventType)
}

func TestApplyDecision_AlreadyProcessedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startAccess(t)

	h.decide(t, start.InitialToken, "Approve", nil)
	before, err := h.engine.Snapshot(ctx, start.Request.ID, 0)
	require.NoError(t, err)

	for _, action := range []string{"Approve", "Reject", "bogus"} {
		_, err := h.engine.ApplyDecision(ctx, DecisionCommand{Token: start.InitialToken, Action: action})
		require.ErrorIs(t, err, ErrAlreadyProcessed)

		var processed *AlreadyProcessedError
		require.True(t, errors.As(err, &processed))
		assert.Equal(t, "Approve", processed.Decision)
		assert.Equal(t, entity.ApprovalApproved, processed.Status)
		assert.NotNil(t, processed.DecidedAt)
	}

	after, err := h.engine.Snapshot(ctx, start.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, before.Request.Status, after.Request.Status)
	assert.Equal(t, before.Request.Stage, after.Request.Stage)
	assert.Len(t, after.Timeline, len(before.Timeline))
	for i := range before.Approvals {
		assert.Equal(t, before.Approvals[i].Status, after.Approvals[i].Status)
	}
}

func TestApplyDecision_InvalidActionChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startAccess(t)

	for _, action := range []string{"Cancel", "escalate", ""} {
		_, err := h.engine.ApplyDecision(ctx, DecisionCommand{Token: start.InitialToken, Action: action})
		assert.ErrorIs(t, err, ErrInvalidAction, action)
	}

	snap, err := h.engine.Snapshot(ctx, start.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateManager, snap.Request.Stage)
	assert.Equal(t, entity.ApprovalPending, snap.Approvals[0].Status)
	assert.Len(t, snap.Timeline, 1)
}

func TestApplyDecision_DeclaredTransitions(t *testing.T) {
	tests := []struct {
		name   string
		action string
		want   domainwf.State
		status entity.RequestStatus
	}{
		{"manager approve", "Approve", domainwf.StateDepartmentHead, entity.StatusPending},
		{"manager reject", "Reject", domainwf.StateRejected, entity.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			start := h.startAccess(t)
			res := h.decide(t, start.InitialToken, tt.action, nil)
			assert.Equal(t, tt.want, res.NextStage)
			assert.Equal(t, tt.status, res.Status)
		})
	}
}

func walkToSecurityManager(t *testing.T, h *harness, start *StartResult) string {
	t.Helper()
	res := h.decide(t, start.InitialToken, "Approve", nil)
	require.Equal(t, domainwf.StateITOperations, res.NextStage)
	assert.Equal(t, entity.StatusPending, res.Status, "HR submission moves the draft to pending")

	res = h.decide(t, res.NextApproval.ActionToken, "Approve", entity.Fields{"deptSharePath": `\\fs\dept`})
	require.Equal(t, domainwf.StateHeadOfDepartment, res.NextStage)

	res = h.decide(t, res.NextApproval.ActionToken, "Approve", entity.Fields{"hodRemarks": "ok"})
	require.Equal(t, domainwf.StateSecurityConfig, res.NextStage)

	res = h.decide(t, res.NextApproval.ActionToken, "Approve", entity.Fields{
		"ntUserName": "jdoe", "groupPolicyLevel": "IT User",
	})
	require.Equal(t, domainwf.StateSecurityManager, res.NextStage)
	return res.NextApproval.ActionToken
}

func TestOnboarding_SkipsITHeadWithoutEmailServices(t *testing.T) {
	h := newHarness(t)
	start := h.startOnboarding(t, entity.Fields{
		"fullName": "Jane Doe", "emailIncoming": false, "emailOutgoing": "",
	})
	assert.Equal(t, entity.StatusDraft, start.Request.Status)

	tok := walkToSecurityManager(t, h, start)
	res := h.decide(t, tok, "Approve", nil)
	assert.Equal(t, domainwf.StateImplementer, res.NextStage)

	itHead, err := h.approvals.GetByStage(context.Background(), start.Request.ID, domainwf.StateITHeadOfDepartment)
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalWaiting, itHead.Status)

	res = h.decide(t, res.NextApproval.ActionToken, "Approve", entity.Fields{"dciImplementer": "Bob"})
	require.Equal(t, domainwf.StateOperations, res.NextStage)
	res = h.decide(t, res.NextApproval.ActionToken, "Approve", entity.Fields{"opsCompletedBy": "Ops"})
	assert.Equal(t, entity.StatusCompleted, res.Status)

	req, err := h.requests.GetByID(context.Background(), start.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", req.Fields.String("fullName"))
	assert.Equal(t, `\\fs\dept`, req.Fields.String("deptSharePath"))
	assert.Equal(t, "jdoe", req.Fields.String("ntUserName"))
	assert.NotEmpty(t, req.Fields.String("opsCompletedAt"))
	assert.NotEmpty(t, req.Fields.String("hrSubmittedAt"))
}

func TestOnboarding_RoutesToITHeadWithEmailServices(t *testing.T) {
	h := newHarness(t)
	start := h.startOnboarding(t, entity.Fields{"fullName": "Jane Doe", "emailOutgoing": "on"})

	tok := walkToSecurityManager(t, h, start)
	res := h.decide(t, tok, "Approve", nil)
	assert.Equal(t, domainwf.StateITHeadOfDepartment, res.NextStage)
	assert.Equal(t, "ITHeadOfDepartment@example.com", res.NextApproval.ApproverContact)
}

func TestOnboarding_RejectAtHeadOfDepartment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startOnboarding(t, entity.Fields{"fullName": "Jane Doe"})

	res := h.decide(t, start.InitialToken, "Approve", nil)
	res = h.decide(t, res.NextApproval.ActionToken, "Approve", nil)
	require.Equal(t, domainwf.StateHeadOfDepartment, res.NextStage)

	res = h.decide(t, res.NextApproval.ActionToken, "Reject", entity.Fields{"hodRemarks": "not approved"})
	assert.True(t, res.Terminal)
	assert.Equal(t, entity.StatusRejected, res.Status)

	snap, err := h.engine.Snapshot(ctx, start.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, snap.Request.Status)
	assert.Equal(t, domainwf.State(""), snap.Request.Stage)
	assert.Empty(t, h.pendingStages(t, start.Request.ID))

	for _, a := range snap.Approvals {
		switch a.Stage {
		case domainwf.StateSecurityConfig, domainwf.StateSecurityManager, domainwf.StateITHeadOfDepartment,
			domainwf.StateImplementer, domainwf.StateOperations:
			assert.Equal(t, entity.ApprovalWaiting, a.Status, a.Stage)
			assert.Nil(t, a.ActivatedAt, a.Stage)
		}
	}
	assert.Len(t, h.dispatcher.ofType(event.TypeRequestRejected), 1)
}

func TestOnboarding_CancelAtHR(t *testing.T) {
	h := newHarness(t)
	start := h.startOnboarding(t, entity.Fields{"fullName": "Jane Doe"})

	res := h.decide(t, start.InitialToken, "cancelled", nil)
	assert.Equal(t, entity.StatusRejected, res.Status)
	assert.Equal(t, domainwf.StateCancelled, res.NextStage)
	assert.Len(t, h.dispatcher.ofType(event.TypeRequestCancelled), 1)

	events, err := h.timeline.ListByRequest(context.Background(), start.Request.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "HR_CANCEL", events[0].EventType)
}

func TestApplyDecision_FieldOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startOnboarding(t, entity.Fields{"fullName": "Jane Doe"})

	res := h.decide(t, start.InitialToken, "Approve", nil)
	itToken := res.NextApproval.ActionToken

	_, err := h.engine.ApplyDecision(ctx, DecisionCommand{
		Token: itToken, Action: "Approve", Fields: entity.Fields{"fullName": "Mallory", "deptSharePath": "x"},
	})
	require.ErrorIs(t, err, ErrFieldNotOwned)
	var notOwned *FieldNotOwnedError
	require.True(t, errors.As(err, &notOwned))
	assert.Equal(t, []string{"fullName"}, notOwned.Fields)

	req, err := h.requests.GetByID(ctx, start.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", req.Fields.String("fullName"))
	assert.Equal(t, domainwf.StateITOperations, req.Stage)

	// Access-request stages own no fields
	access := h.startAccess(t)
	_, err = h.engine.ApplyDecision(ctx, DecisionCommand{
		Token: access.InitialToken, Action: "Approve", Fields: entity.Fields{"justification": "changed"},
	})
	assert.ErrorIs(t, err, ErrFieldNotOwned)
}

func TestApplyDecision_InvalidFieldValue(t *testing.T) {
	h := newHarness(t)
	start := h.startOnboarding(t, nil)

	res := h.decide(t, start.InitialToken, "Approve", nil)
	res = h.decide(t, res.NextApproval.ActionToken, "Approve", nil)
	res = h.decide(t, res.NextApproval.ActionToken, "Approve", nil)
	require.Equal(t, domainwf.StateSecurityConfig, res.NextStage)

	_, err := h.engine.ApplyDecision(context.Background(), DecisionCommand{
		Token: res.NextApproval.ActionToken, Action: "Approve",
		Fields: entity.Fields{"groupPolicyLevel": "Unmanaged"},
	})
	assert.ErrorIs(t, err, ErrInvalidFieldValue)
}

func TestApplyDecision_TokenExpiry(t *testing.T) {
	h := newHarness(t, WithTokenTTL(48*time.Hour))
	start := h.startAccess(t)

	h.now = h.now.Add(49 * time.Hour)
	_, err := h.engine.ApplyDecision(context.Background(), DecisionCommand{Token: start.InitialToken, Action: "Approve"})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Contains(t, h.metrics.failures, "token_expired")
}

func TestApplyDecision_ConcurrentDoubleSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.startAccess(t)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		processed int
		other     []error
	)

	gate := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := h.engine.ApplyDecision(ctx, DecisionCommand{Token: start.InitialToken, Action: "Approve"})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyProcessed):
				processed++
			default:
				other = append(other, err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, processed)

	events, err := h.timeline.ListByRequest(ctx, start.Request.ID, 0)
	require.NoError(t, err)
	var transitions int
	for _, e := range events {
		if e.EventType == "MANAGER_APPROVE" {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)
	assert.Equal(t, []domainwf.State{domainwf.StateDepartmentHead}, h.pendingStages(t, start.Request.ID))
}

func TestInspect(t *testing.T) {
	h := newHarness(t, WithTokenTTL(48*time.Hour))
	ctx := context.Background()
	start := h.startOnboarding(t, entity.Fields{"fullName": "Jane"})

	view, err := h.engine.Inspect(ctx, start.InitialToken)
	require.NoError(t, err)
	assert.Equal(t, start.Request.ID, view.Request.ID)
	assert.Equal(t, domainwf.StateHR, view.Approval.Stage)
	assert.Equal(t, []domainwf.Action{domainwf.ActionApprove, domainwf.ActionCancel}, view.Permitted)
	assert.Contains(t, view.Fields, "hodEmail")

	// Inspecting consumes nothing
	h.decide(t, start.InitialToken, "Approve", nil)

	_, err = h.engine.Inspect(ctx, start.InitialToken)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = h.engine.Inspect(ctx, "unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)

	snap, err := h.engine.Snapshot(ctx, start.Request.ID, 0)
	require.NoError(t, err)
	h.now = h.now.Add(49 * time.Hour)
	_, err = h.engine.Inspect(ctx, snap.Approvals[1].ActionToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSnapshot_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Snapshot(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "already_processed", FailureReason(&AlreadyProcessedError{}))
	assert.Equal(t, "field_not_owned", FailureReason(&FieldNotOwnedError{}))
	assert.Equal(t, "internal", FailureReason(errors.New("disk full")))
}

func TestGraphs_RejectsMalformedRule(t *testing.T) {
	for _, expr := range []string{`flag(`, `flag("emailIncoming") ||`, `str("department")`} {
		_, err := Graphs(rule.NewExprEvaluator(), expr)
		assert.Error(t, err, expr)
	}

	graphs, err := Graphs(rule.NewExprEvaluator(), `has("smtpAddress")`)
	require.NoError(t, err)
	assert.Contains(t, graphs, entity.RequestTypeOnboarding)
}

func TestActivate_RetriesTokenCollision(t *testing.T) {
	// One-byte tokens: the manager gets 01, then the department head
	// collides twice before 02 is accepted.
	source := bytes.NewReader([]byte{0x01, 0x01, 0x01, 0x02})
	h := newHarnessWithIssuer(t, token.NewIssuer(token.WithSize(1), token.WithSource(source)))

	started := h.startAccess(t)
	require.Equal(t, "01", started.InitialToken)

	res := h.decide(t, "01", "Approve", nil)
	require.NotNil(t, res.NextApproval)
	assert.Equal(t, "02", res.NextApproval.ActionToken)
	assert.Equal(t, []domainwf.State{domainwf.StateDepartmentHead}, h.pendingStages(t, started.Request.ID))
}

func TestActivate_TokenCollisionIsBounded(t *testing.T) {
	source := bytes.NewReader([]byte{0x07, 0x07, 0x07, 0x07})
	h := newHarnessWithIssuer(t, token.NewIssuer(token.WithSize(1), token.WithSource(source)))

	started := h.startAccess(t)

	_, err := h.engine.ApplyDecision(context.Background(), DecisionCommand{
		Token: "07", Action: "Approve", Actor: "tester@example.com",
	})
	require.ErrorIs(t, err, port.ErrTokenConflict)

	// The decision rolled back: the manager is still the only pending stage.
	assert.Equal(t, []domainwf.State{domainwf.StateManager}, h.pendingStages(t, started.Request.ID))
	assert.Equal(t, 0, source.Len())
}
