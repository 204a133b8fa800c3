package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/rule"
	"github.com/garyjia/onboarding-workflow/internal/application/service"
	"github.com/garyjia/onboarding-workflow/internal/application/token"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/onboarding-workflow/internal/domain/workflow"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/onboarding-workflow/pkg/database"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type stubDirectory struct {
	err error
}

func (d stubDirectory) LookupByEmail(ctx context.Context, email string) (*entity.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &entity.Contact{Email: email, Name: "Jane Doe"}, nil
}

func (d stubDirectory) LookupManager(ctx context.Context, email string) (*entity.Contact, error) {
	return nil, nil
}

func (d stubDirectory) Search(ctx context.Context, query string, limit int) ([]*entity.Contact, error) {
	if d.err != nil {
		return nil, d.err
	}
	people := []*entity.Contact{
		{Email: "jane@example.com", Name: "Jane Doe"},
		{Email: "john@example.com", Name: "John Roe"},
		{Email: "ops@example.com", Name: "Ops"},
	}
	var out []*entity.Contact
	for _, p := range people {
		if strings.Contains(p.Email, query) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type testServer struct {
	server    *Server
	approvals port.ApprovalRepository
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "http.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(database.Migrations, database.EmbeddedDir))

	graphs, err := workflow.Graphs(rule.NewExprEvaluator(), "")
	require.NoError(t, err)

	approvals := repository.NewApprovalRepository(db.DB, logger)
	engine := workflow.NewEngine(
		repository.NewRequestRepository(db.DB, logger),
		approvals,
		repository.NewTimelineRepository(db.DB, logger),
		sqlite.NewDB(db.DB, logger),
		token.NewIssuer(),
		graphs,
	)
	resolver := service.NewApproverResolver(service.ApproverConfig{Fallback: "fallback@example.com"}, nil, nopLogger{})

	deps := Dependencies{
		Requests: service.NewRequestService(engine, resolver, nopLogger{}),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := NewServer(DefaultServerConfig(), deps, nopLogger{})
	require.NoError(t, err)
	return &testServer{server: srv, approvals: approvals}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) postForm(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/handle", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (Response, map[string]interface{}) {
	t.Helper()
	var raw struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   string                 `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	return Response{Success: raw.Success, Error: raw.Error}, raw.Data
}

// createAccessRequest returns the request ID and the manager's token
func (ts *testServer) createAccessRequest(t *testing.T) (string, string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/access-requests", map[string]string{
		"employee_id":     "E1",
		"employee_email":  "emp@example.com",
		"request_type":    "VPN",
		"justification":   "remote",
		"manager_contact": "a@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	id := data["request"].(map[string]interface{})["id"].(string)
	approval, err := ts.approvals.GetByStage(context.Background(), id, domainwf.StateManager)
	require.NoError(t, err)
	return id, approval.ActionToken
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "test", data["version"])
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("metric 1\n"))
		})
	})
	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metric 1\n", rec.Body.String())

	plain := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, plain.do(t, http.MethodGet, "/metrics", nil, nil).Code)
}

func TestMe(t *testing.T) {
	t.Run("strips the domain prefix", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"X-Remote-User": `CORP\JDoe`})
		require.Equal(t, http.StatusOK, rec.Code)
		_, data := decode(t, rec)
		assert.Equal(t, "jdoe", data["user"])
	})

	t.Run("enriches through the directory", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{} })
		rec := ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"X-Forwarded-User": "jane@example.com"})
		_, data := decode(t, rec)
		assert.Equal(t, "Jane Doe", data["contact"].(map[string]interface{})["name"])
	})

	t.Run("directory failure returns the bare identity", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{err: errors.New("down")} })
		rec := ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"X-Remote-User": "jane@example.com"})
		require.Equal(t, http.StatusOK, rec.Code)
		_, data := decode(t, rec)
		assert.Equal(t, "jane@example.com", data["user"])
		assert.Nil(t, data["contact"])
	})

	t.Run("anonymous", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/auth/me", nil, nil).Code)
	})
}

func TestSearchDirectory(t *testing.T) {
	user := map[string]string{"X-Remote-User": "jane@example.com"}

	t.Run("filters and caps", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{} })

		rec := ts.do(t, http.MethodGet, "/api/directory/users?q=jo", nil, user)
		require.Equal(t, http.StatusOK, rec.Code)
		_, data := decode(t, rec)
		assert.EqualValues(t, 1, data["count"])
		assert.Equal(t, "John Roe", data["users"].([]interface{})[0].(map[string]interface{})["name"])

		rec = ts.do(t, http.MethodGet, "/api/directory/users?limit=2", nil, user)
		_, data = decode(t, rec)
		assert.EqualValues(t, 2, data["count"])
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{} })
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/directory/users?limit=x", nil, user).Code)
	})

	t.Run("directory failure", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{err: errors.New("down")} })
		assert.Equal(t, http.StatusBadGateway, ts.do(t, http.MethodGet, "/api/directory/users", nil, user).Code)
	})

	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/api/directory/users", nil, user).Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		ts := newTestServer(t, func(d *Dependencies) { d.Directory = stubDirectory{} })
		assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/directory/users", nil, nil).Code)
	})
}

func TestCreateAccessRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/access-requests", map[string]string{"manager_contact": "nope"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp, _ := decode(t, rec)
	assert.Contains(t, resp.Error, "employee_id is required")
}

func TestCreateOnboarding(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/onboarding", map[string]interface{}{
		"fields": map[string]interface{}{"fullName": "Jane"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "originator identity is required")

	rec = ts.do(t, http.MethodPost, "/api/onboarding", map[string]interface{}{
		"fields": map[string]interface{}{"fullName": "Jane", "emailIncoming": "on"},
		"submit": true,
	}, map[string]string{"X-Remote-User": "hr@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	req := data["request"].(map[string]interface{})
	assert.Equal(t, "ITOperations", req["stage"])
	assert.Equal(t, "Pending", req["status"])
	assert.Nil(t, data["draft_token"])
}

func TestDecisionJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	id, tok := ts.createAccessRequest(t)

	rec := ts.do(t, http.MethodPost, "/api/approvals/decision", DecisionRequest{Token: tok, Action: "Approve", Comment: "ok"},
		map[string]string{"X-Remote-User": "a@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp, data := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "DepartmentHead", data["next_stage"])

	// Replaying the same token is informational, not an error
	rec = ts.do(t, http.MethodPost, "/api/approvals/decision", DecisionRequest{Token: tok, Action: "Reject"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp, data = decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, true, data["already_processed"])
	assert.Equal(t, "Approve", data["decision"])
	assert.Equal(t, "a@example.com", data["decided_by"])

	rec = ts.do(t, http.MethodGet, "/api/requests/"+id+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = decode(t, rec)
	assert.Equal(t, "DepartmentHead", data["request"].(map[string]interface{})["stage"])
	assert.Len(t, data["approvals"], 2)
	assert.NotContains(t, rec.Body.String(), tok, "tokens are never exposed")
}

func TestDecisionJSONErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	_, tok := ts.createAccessRequest(t)

	tests := []struct {
		name string
		body DecisionRequest
		code int
		msg  string
	}{
		{"unknown token", DecisionRequest{Token: "nope", Action: "Approve"}, http.StatusNotFound, linkInvalidMessage},
		{"empty token", DecisionRequest{Action: "Approve"}, http.StatusNotFound, linkInvalidMessage},
		{"undeclared action", DecisionRequest{Token: tok, Action: "Cancel"}, http.StatusBadRequest, "not permitted"},
		{"foreign field", DecisionRequest{Token: tok, Action: "Approve", Fields: entity.Fields{"ntUserName": "x"}}, http.StatusForbidden, "ntUserName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/approvals/decision", tt.body, nil)
			assert.Equal(t, tt.code, rec.Code)
			resp, _ := decode(t, rec)
			assert.Contains(t, resp.Error, tt.msg)
		})
	}

	rec := ts.do(t, http.MethodGet, "/api/requests/missing/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

var ticketPattern = regexp.MustCompile(`name="ticket" value="([^"]+)"`)

func TestDecisionForm(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.Tickets = token.NewTicketSigner("secret", 0) })
	_, tok := ts.createAccessRequest(t)

	rec := ts.do(t, http.MethodGet, "/api/approvals/handle?action=approved&token="+tok, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, "Manager")
	assert.Contains(t, page, `value="Approve" checked`)
	match := ticketPattern.FindStringSubmatch(page)
	require.Len(t, match, 2)

	// A post without the page's ticket is refused and changes nothing
	rec = ts.postForm(t, url.Values{"token": {tok}, "action": {"Approve"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.postForm(t, url.Values{"token": {tok}, "action": {"Approve"}, "ticket": {match[1]}, "comment": {"fine"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Decision recorded")
	assert.Contains(t, rec.Body.String(), "DepartmentHead")

	rec = ts.do(t, http.MethodGet, "/api/approvals/handle?token="+tok, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Already processed")

	rec = ts.do(t, http.MethodGet, "/api/approvals/handle?token=unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), linkInvalidMessage)
}

func TestGenerateReportDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/requests/x/report", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
