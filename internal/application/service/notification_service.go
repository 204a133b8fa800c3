package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/event"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
)

// summaryFields are shown in approver emails when present
var summaryFields = []string{
	"fullName", "employeeId", "employeeEmail", "department", "designation", "joiningDate",
	"requestType", "justification",
}

// NotificationService tells approvers and originators about workflow progress.
// Delivery failures are logged and recorded, never returned to the engine.
type NotificationService interface {
	// Register subscribes the service to the workflow events it handles
	Register(d dispatcher.Dispatcher)

	HandleStageActivated(ctx context.Context, evt *event.Event) error
	HandleRequestClosed(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	requests      port.RequestRepository
	notifications port.NotificationRepository
	notifier      port.Notifier
	engine        workflow.Engine
	metrics       port.MetricsRecorder
	baseURL       string
	logger        Logger
	now           func() time.Time
}

// NewNotificationService creates a new NotificationService. metrics may be nil.
func NewNotificationService(
	requests port.RequestRepository,
	notifications port.NotificationRepository,
	notifier port.Notifier,
	engine workflow.Engine,
	metrics port.MetricsRecorder,
	baseURL string,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		requests:      requests,
		notifications: notifications,
		notifier:      notifier,
		engine:        engine,
		metrics:       metrics,
		baseURL:       strings.TrimRight(baseURL, "/"),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes to stage activation and request closure
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeStageActivated, "notify-approver", s.HandleStageActivated)
	for _, t := range []event.Type{event.TypeRequestCompleted, event.TypeRequestRejected, event.TypeRequestCancelled} {
		d.SubscribeNamed(t, "notify-originator", s.HandleRequestClosed)
	}
}

// HandleStageActivated emails the new approver their action links
func (s *notificationServiceImpl) HandleStageActivated(ctx context.Context, evt *event.Event) error {
	req, err := s.requests.GetByID(ctx, evt.RequestID)
	if err != nil || req == nil {
		s.logger.Error("Cannot notify approver, request not loaded", "request_id", evt.RequestID, "error", err)
		return nil
	}

	stage := domainwf.State(evt.GetPayloadString(event.KeyStage))
	token := evt.GetPayloadString(event.KeyToken)

	var actions []domainwf.Action
	if graph, err := s.engine.Graph(req.Type); err == nil {
		actions = graph.Permitted(stage)
	}

	msg := &port.Notification{
		Recipient: evt.GetPayloadString(event.KeyContact),
		Subject:   fmt.Sprintf("[%s] Action required: %s", req.Type, stage),
		Body:      s.approverBody(req, stage, evt.GetPayloadString(event.KeyRole)),
		Links:     s.actionLinks(token, actions),
	}

	s.deliver(ctx, req.ID, evt.GetPayloadInt(event.KeyApprovalID), msg)
	return nil
}

// HandleRequestClosed tells the originator how the request ended
func (s *notificationServiceImpl) HandleRequestClosed(ctx context.Context, evt *event.Event) error {
	req, err := s.requests.GetByID(ctx, evt.RequestID)
	if err != nil || req == nil {
		s.logger.Error("Cannot notify originator, request not loaded", "request_id", evt.RequestID, "error", err)
		return nil
	}
	if req.CreatedBy == "" {
		return nil
	}

	outcome := strings.ToLower(string(req.Status))
	if evt.Type == event.TypeRequestCancelled {
		outcome = "cancelled"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Your %s request %s was %s", req.Type, req.ID, outcome)
	if stage := evt.GetPayloadString(event.KeyStage); stage != "" && req.Status != entity.StatusCompleted {
		fmt.Fprintf(&body, " at the %s stage", stage)
	}
	if actor := evt.GetPayloadString(event.KeyActor); actor != "" {
		fmt.Fprintf(&body, " by %s", actor)
	}
	body.WriteString(".\n\n")
	s.writeSummary(&body, req)

	s.deliver(ctx, req.ID, 0, &port.Notification{
		Recipient: req.CreatedBy,
		Subject:   fmt.Sprintf("[%s] Request %s", req.Type, outcome),
		Body:      body.String(),
		Links:     []port.Link{{Label: "View status", URL: s.baseURL + "/api/requests/" + url.PathEscape(req.ID) + "/status"}},
	})
	return nil
}

// deliver sends one message and records the attempt
func (s *notificationServiceImpl) deliver(ctx context.Context, requestID string, approvalID int64, msg *port.Notification) {
	log := &entity.NotificationLog{
		RequestID:  requestID,
		ApprovalID: approvalID,
		Recipient:  msg.Recipient,
		Channel:    s.notifier.Channel(),
		Subject:    msg.Subject,
		CreatedAt:  s.now(),
	}

	if err := s.notifier.Notify(ctx, msg); err != nil {
		log.Status = entity.NotificationStatusFailed
		log.ErrorMessage = err.Error()
		s.logger.Error("Notification delivery failed",
			"request_id", requestID,
			"recipient", msg.Recipient,
			"channel", log.Channel,
			"error", err,
		)
	} else {
		sent := s.now()
		log.Status = entity.NotificationStatusSent
		log.SentAt = &sent
		s.logger.Info("Notification sent",
			"request_id", requestID,
			"recipient", msg.Recipient,
			"channel", log.Channel,
		)
	}

	if s.metrics != nil {
		s.metrics.ObserveNotification(log.Channel, strings.ToLower(log.Status))
	}
	if err := s.notifications.Create(ctx, log); err != nil {
		s.logger.Error("Failed to record notification", "request_id", requestID, "error", err)
	}
}

func (s *notificationServiceImpl) approverBody(req *entity.Request, stage domainwf.State, role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s is waiting for the %s stage", req.ID, stage)
	if role != "" {
		fmt.Fprintf(&b, " (%s)", role)
	}
	b.WriteString(".\n\n")
	s.writeSummary(&b, req)
	if group := entity.FieldGroup(stage); len(group) > 0 {
		fmt.Fprintf(&b, "\nFields for this stage: %s\n", strings.Join(group, ", "))
	}
	return b.String()
}

func (s *notificationServiceImpl) writeSummary(b *strings.Builder, req *entity.Request) {
	for _, key := range summaryFields {
		if v := req.Fields.String(key); v != "" {
			fmt.Fprintf(b, "%s: %s\n", key, v)
		}
	}
}

func (s *notificationServiceImpl) actionLinks(token string, actions []domainwf.Action) []port.Link {
	if token == "" {
		return nil
	}
	if len(actions) == 0 {
		actions = []domainwf.Action{domainwf.ActionApprove, domainwf.ActionReject}
	}

	links := make([]port.Link, 0, len(actions))
	for _, a := range actions {
		q := url.Values{}
		q.Set("token", token)
		q.Set("action", a.String())
		links = append(links, port.Link{
			Label: a.String(),
			URL:   s.baseURL + "/api/approvals/handle?" + q.Encode(),
		})
	}
	return links
}
