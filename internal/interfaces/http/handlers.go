package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/onboarding-workflow/internal/application/service"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/pkg/utils"
)

// linkInvalidMessage is shown for unknown and expired tokens alike
const linkInvalidMessage = "link invalid or expired"

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps            Dependencies
	identityHeaders []string
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, identityHeaders []string, logger Logger) *Handlers {
	return &Handlers{
		deps:            deps,
		identityHeaders: identityHeaders,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// IdentityResponse is the caller as seen by the SSO front end
type IdentityResponse struct {
	User    string          `json:"user"`
	Contact *entity.Contact `json:"contact,omitempty"`
}

// DirectoryResponse lists people found in the organisation directory
type DirectoryResponse struct {
	Count int               `json:"count"`
	Users []*entity.Contact `json:"users"`
}

// Directory search bounds
const (
	defaultDirectoryLimit = 100
	maxDirectoryLimit     = 500
)

// DecisionRequest is the programmatic decision body
type DecisionRequest struct {
	Token   string        `json:"token"`
	Action  string        `json:"action"`
	Comment string        `json:"comment"`
	Actor   string        `json:"actor"`
	Fields  entity.Fields `json:"fields"`
}

// DecisionResponse describes an applied decision
type DecisionResponse struct {
	RequestID string `json:"request_id"`
	Stage     string `json:"stage"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	NextStage string `json:"next_stage"`
	Terminal  bool   `json:"terminal"`
}

// PriorDecisionResponse is returned when a token was already used
type PriorDecisionResponse struct {
	AlreadyProcessed bool       `json:"already_processed"`
	RequestID        string     `json:"request_id"`
	Stage            string     `json:"stage"`
	Status           string     `json:"status"`
	Decision         string     `json:"decision,omitempty"`
	DecidedBy        string     `json:"decided_by,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// StatusResponse is a request with its approvals and recent timeline
type StatusResponse struct {
	Request   *entity.Request         `json:"request"`
	Approvals []*entity.Approval      `json:"approvals"`
	Timeline  []*entity.TimelineEvent `json:"timeline"`
}

type summaryRow struct {
	Key   string
	Value string
}

type confirmPage struct {
	RequestID   string
	RequestType string
	Stage       string
	Role        string
	Summary     []summaryRow
	Fields      []string
	Actions     []string
	Selected    string
	Token       string
	Ticket      string
}

type resultPage struct {
	Title   string
	Message string
	Detail  string
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.deps.Version,
		},
	})
}

// Me handles GET /auth/me. Directory failures still return the bare identity.
func (h *Handlers) Me(c *gin.Context) {
	user := h.identity(c)
	if user == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "no authenticated user"})
		return
	}

	resp := IdentityResponse{User: user}
	if h.deps.Directory != nil && strings.Contains(user, "@") {
		contact, err := h.deps.Directory.LookupByEmail(c.Request.Context(), user)
		if err != nil {
			h.logger.Error("Directory lookup failed", "user", user, "error", err)
		} else {
			resp.Contact = contact
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// SearchDirectory handles GET /api/directory/users?q=&limit=
func (h *Handlers) SearchDirectory(c *gin.Context) {
	if h.identity(c) == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "no authenticated user"})
		return
	}
	if h.deps.Directory == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "directory is not configured"})
		return
	}

	limit := defaultDirectoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxDirectoryLimit)
	}

	users, err := h.deps.Directory.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.logger.Error("Directory search failed", "error", err)
		c.JSON(http.StatusBadGateway, Response{Success: false, Error: "directory search failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: DirectoryResponse{Count: len(users), Users: users}})
}

// CreateAccessRequest handles POST /api/access-requests
func (h *Handlers) CreateAccessRequest(c *gin.Context) {
	var in service.AccessRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	in.CreatedBy = firstNonEmpty(h.identity(c), utils.NormalizeEmail(in.EmployeeEmail))

	created, err := h.deps.Requests.CreateAccessRequest(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// CreateOnboarding handles POST /api/onboarding
func (h *Handlers) CreateOnboarding(c *gin.Context) {
	var in service.OnboardingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	in.CreatedBy = h.identity(c)

	created, err := h.deps.Requests.CreateOnboarding(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// GetStatus handles GET /api/requests/:id/status
func (h *Handlers) GetStatus(c *gin.Context) {
	snap, err := h.deps.Requests.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: StatusResponse{
			Request:   snap.Request,
			Approvals: snap.Approvals,
			Timeline:  snap.Timeline,
		},
	})
}

// GenerateReport handles POST /api/requests/:id/report
func (h *Handlers) GenerateReport(c *gin.Context) {
	if h.deps.Reports == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "reports are disabled"})
		return
	}

	result, err := h.deps.Reports.GenerateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ConfirmDecision handles GET /api/approvals/handle. It renders the
// confirmation form without consuming the token.
func (h *Handlers) ConfirmDecision(c *gin.Context) {
	tok := c.Query("token")
	view, err := h.deps.Requests.Inspect(c.Request.Context(), tok)
	if err != nil {
		h.renderError(c, err)
		return
	}

	page := confirmPage{
		RequestID:   view.Request.ID,
		RequestType: string(view.Request.Type),
		Stage:       view.Approval.Stage.String(),
		Role:        view.Approval.Role,
		Fields:      view.Fields,
		Token:       tok,
		Ticket:      h.deps.Tickets.Sign(tok),
	}
	for _, key := range view.Request.Fields.Keys() {
		if v := view.Request.Fields.String(key); v != "" {
			page.Summary = append(page.Summary, summaryRow{Key: key, Value: v})
		}
	}
	for _, a := range view.Permitted {
		page.Actions = append(page.Actions, a.String())
	}
	if a, err := domainwf.ParseAction(c.Query("action")); err == nil {
		page.Selected = a.String()
	}

	c.HTML(http.StatusOK, "confirm.html", page)
}

// SubmitDecisionForm handles POST /api/approvals/handle
func (h *Handlers) SubmitDecisionForm(c *gin.Context) {
	tok := c.PostForm("token")
	if err := h.deps.Tickets.Verify(tok, c.PostForm("ticket")); err != nil {
		h.logger.Info("Form ticket refused", "error", err)
		c.HTML(http.StatusBadRequest, "result.html", resultPage{
			Title:   "Confirmation expired",
			Message: "Open the link from your notification again to confirm the decision.",
		})
		return
	}

	fields := entity.Fields{}
	for key, value := range c.PostFormMap("fields") {
		if v := strings.TrimSpace(value); v != "" {
			fields[key] = v
		}
	}

	res, err := h.deps.Requests.Decide(c.Request.Context(), workflow.DecisionCommand{
		Token:   tok,
		Action:  c.PostForm("action"),
		Comment: strings.TrimSpace(c.PostForm("comment")),
		Actor:   h.identity(c),
		Fields:  fields,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	detail := fmt.Sprintf("The request moved to %s.", res.NextStage)
	if res.Terminal {
		detail = fmt.Sprintf("The request is now %s.", strings.ToLower(string(res.Status)))
	}
	c.HTML(http.StatusOK, "result.html", resultPage{
		Title:   "Decision recorded",
		Message: fmt.Sprintf("%s recorded for request %s at the %s stage.", res.Action, res.RequestID, res.Stage),
		Detail:  detail,
	})
}

// SubmitDecision handles POST /api/approvals/decision
func (h *Handlers) SubmitDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	res, err := h.deps.Requests.Decide(c.Request.Context(), workflow.DecisionCommand{
		Token:   req.Token,
		Action:  req.Action,
		Comment: req.Comment,
		Actor:   firstNonEmpty(h.identity(c), req.Actor),
		Fields:  req.Fields,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: DecisionResponse{
			RequestID: res.RequestID,
			Stage:     res.Stage.String(),
			Action:    res.Action.String(),
			Status:    string(res.Status),
			NextStage: res.NextStage.String(),
			Terminal:  res.Terminal,
		},
	})
}

// writeError maps an application error onto a JSON response
func (h *Handlers) writeError(c *gin.Context, err error) {
	var processed *workflow.AlreadyProcessedError
	if errors.As(err, &processed) {
		c.JSON(http.StatusOK, Response{
			Success: false,
			Data: PriorDecisionResponse{
				AlreadyProcessed: true,
				RequestID:        processed.RequestID,
				Stage:            processed.Stage.String(),
				Status:           string(processed.Status),
				Decision:         processed.Decision,
				DecidedBy:        processed.DecidedBy,
				DecidedAt:        processed.DecidedAt,
			},
			Error: "already processed",
		})
		return
	}

	code, msg := h.classify(err)
	c.JSON(code, Response{Success: false, Error: msg})
}

// renderError maps an application error onto the result page
func (h *Handlers) renderError(c *gin.Context, err error) {
	var processed *workflow.AlreadyProcessedError
	if errors.As(err, &processed) {
		page := resultPage{
			Title:   "Already processed",
			Message: fmt.Sprintf("The %s stage of request %s has already been decided.", processed.Stage, processed.RequestID),
		}
		if processed.Decision != "" {
			page.Detail = fmt.Sprintf("Decision: %s by %s", processed.Decision, processed.DecidedBy)
			if processed.DecidedAt != nil {
				page.Detail += " on " + processed.DecidedAt.Format("2006-01-02 15:04")
			}
		}
		c.HTML(http.StatusOK, "result.html", page)
		return
	}

	code, msg := h.classify(err)
	title := "Decision not recorded"
	if code == http.StatusNotFound {
		title = "Link not valid"
	}
	c.HTML(code, "result.html", resultPage{Title: title, Message: msg})
}

// classify returns the status code and user-facing message of an error
func (h *Handlers) classify(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrInvalidToken), errors.Is(err, workflow.ErrTokenExpired):
		return http.StatusNotFound, linkInvalidMessage
	case errors.Is(err, workflow.ErrRequestNotFound):
		return http.StatusNotFound, "request not found"
	case errors.Is(err, workflow.ErrFieldNotOwned):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, workflow.ErrInvalidAction),
		errors.Is(err, workflow.ErrInvalidFieldValue),
		errors.Is(err, workflow.ErrUnknownRequestType),
		errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotCompleted):
		return http.StatusConflict, err.Error()
	}

	h.logger.Error("Request failed", "error", err)
	return http.StatusInternalServerError, "internal error"
}

// identity returns the SSO user name without any DOMAIN\ prefix
func (h *Handlers) identity(c *gin.Context) string {
	for _, header := range h.identityHeaders {
		if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
			return strings.ToLower(utils.StripDomain(v))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
