package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// ActorHeader names the acting user on admin routes
const ActorHeader = "X-Actor-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine workflow.Engine
	flows  service.FlowService
	health HealthFunc
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Engine, flows service.FlowService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		engine: engine,
		flows:  flows,
		health: health,
		logger: logger,
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
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// StartWorkflowRequest is the body of POST /instances
type StartWorkflowRequest struct {
	RequestID    string                 `json:"request_id"`
	DocumentType string                 `json:"document_type" binding:"required"`
	RequesterID  string                 `json:"requester_id" binding:"required"`
	Attributes   map[string]interface{} `json:"attributes"`
}

// ActionRequest is the body shared by instance actions
type ActionRequest struct {
	ActorID    string   `json:"actor_id" binding:"required"`
	Comment    string   `json:"comment"`
	Reason     string   `json:"reason"`
	DelegateTo string   `json:"delegate_to"`
	Approvers  []string `json:"approvers"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if h.health != nil {
		ok, detail := h.health(c.Request.Context())
		response.Components = detail
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// StartWorkflow handles POST /api/v1/tenants/:tenant/instances
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.engine.StartWorkflow(c.Request.Context(), workflow.StartRequest{
		TenantID:     c.Param("tenant"),
		RequestID:    req.RequestID,
		DocumentType: req.DocumentType,
		RequesterID:  req.RequesterID,
		Attributes:   req.Attributes,
	})
	if err != nil {
		h.fail(c, "Failed to start workflow", err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Data: result})
}

// GetInstance handles GET /api/v1/tenants/:tenant/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	state, err := h.engine.GetInstanceState(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: state})
}

// Approve handles POST .../instances/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.Approve(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID, req.Comment)
	})
}

// Reject handles POST .../instances/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.Reject(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID, req.Reason)
	})
}

// Delegate handles POST .../instances/:id/delegate
func (h *Handlers) Delegate(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.Delegate(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID, req.DelegateTo)
	})
}

// Skip handles POST .../instances/:id/skip
func (h *Handlers) Skip(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.Skip(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID)
	})
}

// Cancel handles POST .../instances/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.Cancel(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID)
	})
}

// AssignApprovers handles POST .../instances/:id/assign
func (h *Handlers) AssignApprovers(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.AssignApprovers(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID, req.Approvers)
	})
}

// RetryRouting handles POST .../instances/:id/retry-routing
func (h *Handlers) RetryRouting(c *gin.Context) {
	h.action(c, func(req ActionRequest) (*workflow.ActionResult, error) {
		return h.engine.RetryRouting(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.ActorID)
	})
}

// Sweep handles POST /api/v1/escalations/sweep
func (h *Handlers) Sweep(c *gin.Context) {
	result, err := h.engine.EscalateOverdue(c.Request.Context())
	if err != nil {
		h.fail(c, "Escalation sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func (h *Handlers) action(c *gin.Context, run func(req ActionRequest) (*workflow.ActionResult, error)) {
	var req ActionRequest
	if !h.bind(c, &req) {
		return
	}
	req.Comment = utils.SanitizeText(req.Comment)
	req.Reason = utils.SanitizeText(req.Reason)

	result, err := run(req)
	if err != nil {
		h.fail(c, "Workflow action failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// fail maps engine errors onto HTTP status codes
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor returns the HTTP status for an engine or service error
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrInstanceNotFound),
		errors.Is(err, domainwf.ErrDefinitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrInstanceAlreadyTerminal),
		errors.Is(err, domainwf.ErrConcurrentModification),
		errors.Is(err, domainwf.ErrDefinitionInUse),
		errors.Is(err, domainwf.ErrNotCurrentApprover),
		errors.Is(err, domainwf.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrInvalidRequest),
		errors.Is(err, domainwf.ErrInvalidDefinition),
		errors.Is(err, domainwf.ErrDelegationNotAllowed),
		errors.Is(err, domainwf.ErrSkipNotAllowed),
		errors.Is(err, domainwf.ErrFlowNotFound),
		errors.Is(err, domainwf.ErrEmptyChain):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
