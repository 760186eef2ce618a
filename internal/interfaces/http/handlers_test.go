package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/routing"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/lock"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type staticAdmins map[string]bool

func (a staticAdmins) IsAdmin(ctx context.Context, tenantID, userID string) (bool, error) {
	return a[userID], nil
}

type testServer struct {
	router *gin.Engine
	flows  service.FlowService
}

func newTestServer(t *testing.T, healthy bool) *testServer {
	t.Helper()

	store := memory.NewStore()
	dir := memory.NewDirectory().
		AddUnit("t1", "root", "", "boss").
		AddUnit("t1", "team", "root", "lead").
		AddUser("t1", "req", "team", 1).
		AddUser("t1", "lead", "team", 3).
		AddUser("t1", "boss", "root", 5)
	admins := staticAdmins{"admin": true}

	engine := workflow.NewEngine(workflow.Repositories{
		Flows:       store.FlowDefinitions(),
		Instances:   store.Instances(),
		StepRecords: store.StepRecords(),
		Timeline:    store.Timeline(),
		TxManager:   store,
	}, routing.NewFlowResolver(store.FlowDefinitions(), nil), routing.NewChainBuilder(dir, nil),
		workflow.WithLocker(lock.NewLocal()),
		workflow.WithAdminAuthorizer(admins),
	)
	flows := service.NewFlowService(store.FlowDefinitions(), store.Instances(), store, nil)

	_, err := flows.Create(context.Background(), &entity.FlowDefinition{
		ID:           "expense",
		TenantID:     "t1",
		Name:         "Expense",
		DocumentType: "expense",
		IsDefault:    true,
		IsActive:     true,
		Steps: []entity.FlowStep{
			{Approvers: []entity.ApproverRule{{Kind: entity.RuleHierarchy, LevelsUp: 0}}},
		},
	})
	require.NoError(t, err)

	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	srv := NewServer(cfg, Deps{
		Engine: engine,
		Flows:  flows,
		Admins: admins,
		Health: func(ctx context.Context) (bool, interface{}) {
			return healthy, map[string]bool{"database": healthy}
		},
		Metrics: metrics.Handler(metrics.NewRegistry()),
	}, nopLogger{})

	return &testServer{router: srv.Router(), flows: flows}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp Response
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataField(t *testing.T, resp Response, key string) interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m[key]
}

func (s *testServer) start(t *testing.T, requestID string) string {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/v1/tenants/t1/instances", StartWorkflowRequest{
		RequestID:    requestID,
		DocumentType: "expense",
		RequesterID:  "req",
		Attributes:   map[string]interface{}{"amount": 120},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return dataField(t, resp, "instance_id").(string)
}

func TestHealthCheck(t *testing.T) {
	w, resp := newTestServer(t, true).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", dataField(t, resp, "status"))

	w, resp = newTestServer(t, false).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", dataField(t, resp, "status"))
}

func TestMetricsRoute(t *testing.T) {
	w, _ := newTestServer(t, true).do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestStartAndApprove(t *testing.T) {
	s := newTestServer(t, true)
	id := s.start(t, "r1")

	// same request id returns the existing instance
	w, resp := s.do(t, http.MethodPost, "/api/v1/tenants/t1/instances", StartWorkflowRequest{
		RequestID: "r1", DocumentType: "expense", RequesterID: "req",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, dataField(t, resp, "instance_id"))
	assert.Equal(t, true, dataField(t, resp, "existing"))

	path := fmt.Sprintf("/api/v1/tenants/t1/instances/%s", id)

	w, _ = s.do(t, http.MethodPost, path+"/approve", ActionRequest{ActorID: "boss"})
	assert.Equal(t, http.StatusConflict, w.Code, "boss is not on the chain")

	w, resp = s.do(t, http.MethodPost, path+"/approve", ActionRequest{ActorID: "lead", Comment: "fine"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.StatusApproved, dataField(t, resp, "status"))

	w, _ = s.do(t, http.MethodPost, path+"/reject", ActionRequest{ActorID: "lead"})
	assert.Equal(t, http.StatusConflict, w.Code, "terminal")

	w, resp = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	inst := dataField(t, resp, "instance").(map[string]interface{})
	assert.Equal(t, entity.StatusApproved, inst["status"])
	assert.NotEmpty(t, dataField(t, resp, "timeline"))
}

func TestInstanceActionErrors(t *testing.T) {
	s := newTestServer(t, true)
	id := s.start(t, "r2")
	path := "/api/v1/tenants/t1/instances/" + id

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{name: "missing actor", path: path + "/approve", body: map[string]string{}, status: http.StatusBadRequest},
		{name: "unknown instance", path: "/api/v1/tenants/t1/instances/nope/approve", body: ActionRequest{ActorID: "lead"}, status: http.StatusNotFound},
		{name: "skip not allowed", path: path + "/skip", body: ActionRequest{ActorID: "admin"}, status: http.StatusUnprocessableEntity},
		{name: "delegation not allowed", path: path + "/delegate", body: ActionRequest{ActorID: "lead", DelegateTo: "boss"}, status: http.StatusUnprocessableEntity},
		{name: "cancel by stranger", path: path + "/cancel", body: ActionRequest{ActorID: "boss"}, status: http.StatusForbidden},
		{name: "assign while in progress", path: path + "/assign", body: ActionRequest{ActorID: "admin", Approvers: []string{"boss"}}, status: http.StatusUnprocessableEntity},
		{name: "malformed tenant", path: "/api/v1/tenants/bad%20tenant/instances/" + id + "/approve", body: ActionRequest{ActorID: "lead"}, status: http.StatusBadRequest},
		{name: "other tenant", path: "/api/v1/tenants/t2/instances/" + id + "/approve", body: ActionRequest{ActorID: "lead"}, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}

	w, resp := s.do(t, http.MethodPost, path+"/cancel", ActionRequest{ActorID: "req"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.StatusCancelled, dataField(t, resp, "status"))
}

func TestStartValidation(t *testing.T) {
	s := newTestServer(t, true)
	w, _ := s.do(t, http.MethodPost, "/api/v1/tenants/t1/instances", map[string]string{"document_type": "expense"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlowAdministration(t *testing.T) {
	s := newTestServer(t, true)
	base := "/api/v1/tenants/t1/flows"
	def := entity.FlowDefinition{
		Name:         "Travel",
		DocumentType: "travel",
		IsActive:     true,
		Steps: []entity.FlowStep{
			{Approvers: []entity.ApproverRule{{Kind: entity.RuleUser, UserID: "boss"}}},
		},
	}

	w, _ := s.do(t, http.MethodPost, base, def)
	assert.Equal(t, http.StatusForbidden, w.Code, "no actor")

	w, _ = s.do(t, http.MethodPost, base, def, ActorHeader, "req")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := s.do(t, http.MethodPost, base, def, ActorHeader, "admin")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := dataField(t, resp, "id").(string)

	w, _ = s.do(t, http.MethodPost, base, entity.FlowDefinition{Name: "Empty", DocumentType: "x"}, ActorHeader, "admin")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, resp = s.do(t, http.MethodGet, base+"?document_type=travel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = s.do(t, http.MethodGet, base+"/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// the expense flow is bound once an instance starts
	s.start(t, "r3")
	w, _ = s.do(t, http.MethodPut, base+"/expense", def, ActorHeader, "admin")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = s.do(t, http.MethodPost, base+"/expense/duplicate", nil, ActorHeader, "admin")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Expense (copy)", dataField(t, resp, "name"))

	w, _ = s.do(t, http.MethodDelete, base+"/"+id, nil, ActorHeader, "admin")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, base+"/missing", nil, ActorHeader, "admin")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = s.do(t, http.MethodGet, base+"?document_type=travel&active_only=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Data)
}

func TestSweepRoute(t *testing.T) {
	s := newTestServer(t, true)
	s.start(t, "r4")

	w, resp := s.do(t, http.MethodPost, "/api/v1/escalations/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, dataField(t, resp, "scanned"))
	assert.EqualValues(t, 0, dataField(t, resp, "escalated"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domainwf.ErrInstanceNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domainwf.ErrDefinitionNotFound), http.StatusNotFound},
		{domainwf.ErrInstanceAlreadyTerminal, http.StatusConflict},
		{domainwf.ErrConcurrentModification, http.StatusConflict},
		{domainwf.ErrDefinitionInUse, http.StatusConflict},
		{domainwf.ErrNotCurrentApprover, http.StatusConflict},
		{domainwf.ErrNotAuthorized, http.StatusForbidden},
		{domainwf.ErrInvalidRequest, http.StatusUnprocessableEntity},
		{domainwf.ErrInvalidDefinition, http.StatusUnprocessableEntity},
		{domainwf.ErrDelegationNotAllowed, http.StatusUnprocessableEntity},
		{domainwf.ErrSkipNotAllowed, http.StatusUnprocessableEntity},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
