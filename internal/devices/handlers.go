package devices

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartsure/smartsure/internal/validation"
)

// Handler provides HTTP endpoints for device registry operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new device handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up device routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/devices", h.RegisterDevice)
	r.GET("/devices/:id", h.GetDevice)
	r.GET("/devices/:id/health", h.GetHealth)
	r.POST("/devices/:id/status", h.SetStatus)
	r.POST("/devices/:id/firmware", h.UpdateFirmware)
	r.POST("/devices/:id/retire", h.RetireDevice)
	r.GET("/policies/:id/devices", h.ListPolicyDevices)
}

// RegisterDevice handles POST /v1/devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("uid", req.UID),
		validation.MaxLength("uid", req.UID, 128),
		validation.ValidID("policyId", req.PolicyID),
		validation.OneOf("type", string(req.Type),
			string(TypeVehicleTracker), string(TypeSmartHome), string(TypeWearable),
			string(TypeCargoSensor), string(TypeGeneric)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	device, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"device": device})
}

// GetDevice handles GET /v1/devices/:id
func (h *Handler) GetDevice(c *gin.Context) {
	device, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// GetHealth handles GET /v1/devices/:id/health
func (h *Handler) GetHealth(c *gin.Context) {
	health, err := h.service.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"health": health})
}

// SetStatus handles POST /v1/devices/:id/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Status is required",
		})
		return
	}

	device, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// UpdateFirmware handles POST /v1/devices/:id/firmware
func (h *Handler) UpdateFirmware(c *gin.Context) {
	var req struct {
		Version string `json:"version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Version is required",
		})
		return
	}

	device, err := h.service.UpdateFirmware(c.Request.Context(), c.Param("id"), req.Version)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// RetireDevice handles POST /v1/devices/:id/retire
func (h *Handler) RetireDevice(c *gin.Context) {
	device, err := h.service.Retire(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// ListPolicyDevices handles GET /v1/policies/:id/devices
func (h *Handler) ListPolicyDevices(c *gin.Context) {
	devices, err := h.service.ListByPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrDuplicateUID):
		status = http.StatusConflict
		code = "duplicate_uid"
	case errors.Is(err, ErrDeviceRetired), errors.Is(err, ErrDeviceInactive), errors.Is(err, ErrInvalidStatus):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrPolicyNotEligible):
		status = http.StatusConflict
		code = "not_eligible"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
