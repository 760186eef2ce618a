package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// ListFlowsRequest represents query parameters for listing flows
type ListFlowsRequest struct {
	DocumentType string `form:"document_type"`
	ActiveOnly   bool   `form:"active_only"`
}

// DuplicateFlowRequest is the body of POST /flows/:id/duplicate
type DuplicateFlowRequest struct {
	Name string `json:"name"`
}

// ListFlows handles GET /api/v1/tenants/:tenant/flows
func (h *Handlers) ListFlows(c *gin.Context) {
	var req ListFlowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	flows, err := h.flows.List(c.Request.Context(), c.Param("tenant"), port.FlowDefinitionFilter{
		DocumentType: req.DocumentType,
		ActiveOnly:   req.ActiveOnly,
	})
	if err != nil {
		h.fail(c, "Failed to list flows", err)
		return
	}
	if flows == nil {
		flows = []*entity.FlowDefinition{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: flows})
}

// GetFlow handles GET /api/v1/tenants/:tenant/flows/:id
func (h *Handlers) GetFlow(c *gin.Context) {
	def, err := h.flows.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get flow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// CreateFlow handles POST /api/v1/tenants/:tenant/flows
func (h *Handlers) CreateFlow(c *gin.Context) {
	var def entity.FlowDefinition
	if !h.bind(c, &def) {
		return
	}
	def.TenantID = c.Param("tenant")

	created, err := h.flows.Create(c.Request.Context(), &def)
	if err != nil {
		h.fail(c, "Failed to create flow", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// UpdateFlow handles PUT /api/v1/tenants/:tenant/flows/:id
func (h *Handlers) UpdateFlow(c *gin.Context) {
	var def entity.FlowDefinition
	if !h.bind(c, &def) {
		return
	}
	def.TenantID = c.Param("tenant")
	def.ID = c.Param("id")

	updated, err := h.flows.Update(c.Request.Context(), &def)
	if err != nil {
		h.fail(c, "Failed to update flow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DuplicateFlow handles POST /api/v1/tenants/:tenant/flows/:id/duplicate
func (h *Handlers) DuplicateFlow(c *gin.Context) {
	var req DuplicateFlowRequest
	// an empty body keeps the default name
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	dup, err := h.flows.Duplicate(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.Name)
	if err != nil {
		h.fail(c, "Failed to duplicate flow", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: dup})
}

// DeactivateFlow handles DELETE /api/v1/tenants/:tenant/flows/:id
func (h *Handlers) DeactivateFlow(c *gin.Context) {
	if err := h.flows.Deactivate(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		h.fail(c, "Failed to deactivate flow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}
