package payments

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a payments HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers payment routes on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", h.getPayment)
	r.GET("/claims/:id/payments", h.listByClaim)
	r.GET("/policies/:id/payments", h.listByPolicy)
}

// getPayment handles GET /v1/payments/:id
func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// listByClaim handles GET /v1/claims/:id/payments
func (h *Handler) listByClaim(c *gin.Context) {
	payments, err := h.service.ListByClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

// listByPolicy handles GET /v1/policies/:id/payments
func (h *Handler) listByPolicy(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	payments, err := h.service.ListByPolicy(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

func (h *Handler) mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "an unexpected error occurred"})
	}
}
