package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartsure/smartsure/internal/ratelimit"
)

// Handler provides HTTP endpoints for telemetry ingestion and queries.
type Handler struct {
	service *Service
	limiter *ratelimit.Limiter
}

// NewHandler creates a new telemetry handler. limiter may be nil; ingestion
// is then not rate limited per device.
func NewHandler(service *Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// RegisterRoutes sets up telemetry routes. Ingestion is rate limited per
// device UID.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	ingest := []gin.HandlerFunc{h.IngestBatch}
	if h.limiter != nil {
		ingest = append([]gin.HandlerFunc{h.limiter.DeviceMiddleware("deviceUid")}, ingest...)
	}
	r.POST("/telemetry/:deviceUid", ingest...)
	r.GET("/devices/:id/readings", h.ListReadings)
	r.GET("/devices/:id/anomalies", h.ListAnomalies)
	r.GET("/devices/:id/stats", h.DeviceStats)
}

// IngestBatch handles POST /v1/telemetry/:deviceUid
func (h *Handler) IngestBatch(c *gin.Context) {
	var req struct {
		Readings []ReadingInput `json:"readings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Readings are required",
		})
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), c.Param("deviceUid"), req.Readings)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"result": result})
}

// ListReadings handles GET /v1/devices/:id/readings
func (h *Handler) ListReadings(c *gin.Context) {
	deviceID := c.Param("id")

	var from, to time.Time
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "from must be RFC 3339",
			})
			return
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "to must be RFC 3339",
			})
			return
		}
		to = parsed
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	readings, err := h.service.ListByDevice(c.Request.Context(), deviceID, c.Query("metric"), from, to, limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"readings": readings,
		"count":    len(readings),
	})
}

// ListAnomalies handles GET /v1/devices/:id/anomalies
func (h *Handler) ListAnomalies(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	readings, err := h.service.ListRecentAnomalies(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"anomalies": readings,
		"count":     len(readings),
	})
}

// DeviceStats handles GET /v1/devices/:id/stats
func (h *Handler) DeviceStats(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	stats, err := h.service.Stats(c.Request.Context(), c.Param("id"), c.Query("metric"), since)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrUnknownDevice):
		status = http.StatusNotFound
		code = "unknown_device"
	case errors.Is(err, ErrDeviceNotAllowed):
		status = http.StatusForbidden
		code = "device_not_allowed"
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrMissingMetric):
		status = http.StatusBadRequest
		code = "invalid_batch"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
