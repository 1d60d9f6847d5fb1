package incidents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smartsure/smartsure/internal/validation"
)

// Handler provides HTTP endpoints for incident operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new incident handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up incident routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/incidents", h.ReportIncident)
	r.GET("/incidents/:id", h.GetIncident)
	r.POST("/incidents/:id/verify", h.VerifyIncident)
	r.POST("/incidents/:id/dismiss", h.DismissIncident)
	r.GET("/policies/:id/incidents", h.ListPolicyIncidents)
	r.GET("/devices/:id/incidents", h.ListDeviceIncidents)
}

// ReportIncident handles POST /v1/incidents
func (h *Handler) ReportIncident(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("policyId", req.PolicyID),
		validation.OneOf("type", string(req.Type),
			string(TypeCrash), string(TypeLeak), string(TypeDamage)),
		validation.MaxLength("description", req.Description, 2000),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	req.Description = validation.SanitizeString(req.Description, 2000)

	incident, err := h.service.Report(c.Request.Context(), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"incident": incident})
}

// GetIncident handles GET /v1/incidents/:id
func (h *Handler) GetIncident(c *gin.Context) {
	incident, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": incident})
}

// VerifyIncident handles POST /v1/incidents/:id/verify
func (h *Handler) VerifyIncident(c *gin.Context) {
	incident, err := h.service.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": incident})
}

// DismissIncident handles POST /v1/incidents/:id/dismiss
func (h *Handler) DismissIncident(c *gin.Context) {
	incident, err := h.service.Dismiss(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": incident})
}

// ListPolicyIncidents handles GET /v1/policies/:id/incidents
func (h *Handler) ListPolicyIncidents(c *gin.Context) {
	status := c.Query("status")
	limit := parseLimit(c, 50, 200)

	incidents, err := h.service.ListByPolicy(c.Request.Context(), c.Param("id"), status, limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// ListDeviceIncidents handles GET /v1/devices/:id/incidents
func (h *Handler) ListDeviceIncidents(c *gin.Context) {
	limit := parseLimit(c, 50, 200)

	incidents, err := h.service.ListByDevice(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > max {
				limit = max
			}
		}
	}
	return limit
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrIncidentNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
		code = "already_resolved"
	case errors.Is(err, ErrEmptyBatch):
		status = http.StatusBadRequest
		code = "invalid_request"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
