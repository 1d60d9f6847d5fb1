package claims

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smartsure/smartsure/internal/scoring"
	"github.com/smartsure/smartsure/internal/validation"
)

// Handler provides HTTP endpoints for claim operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new claim handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up claim routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/claims", h.FileClaim)
	r.GET("/claims", h.LookupClaim)
	r.GET("/claims/:id", h.GetClaim)
	r.POST("/claims/:id/evaluate", h.EvaluateClaim)
	r.POST("/claims/:id/review", h.ReviewClaim)
	r.GET("/policies/:id/claims", h.ListPolicyClaims)
}

// FileClaim handles POST /v1/claims
func (h *Handler) FileClaim(c *gin.Context) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("policyId", req.PolicyID),
		validation.PositiveCents("amountCents", req.AmountCents),
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

	claim, err := h.service.File(c.Request.Context(), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"claim": claim})
}

// LookupClaim handles GET /v1/claims?number=CLM-2026-00042
func (h *Handler) LookupClaim(c *gin.Context) {
	number := c.Query("number")
	if !validation.IsValidClaimNumber(number) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "number must be a claim number (CLM-YYYY-NNNNN)",
		})
		return
	}

	claim, err := h.service.GetByNumber(c.Request.Context(), number)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// GetClaim handles GET /v1/claims/:id
func (h *Handler) GetClaim(c *gin.Context) {
	claim, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// EvaluateClaim handles POST /v1/claims/:id/evaluate
func (h *Handler) EvaluateClaim(c *gin.Context) {
	claim, err := h.service.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// ReviewClaim handles POST /v1/claims/:id/review
func (h *Handler) ReviewClaim(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Decision is required",
		})
		return
	}

	claim, err := h.service.Review(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claim": claim})
}

// ListPolicyClaims handles GET /v1/policies/:id/claims
func (h *Handler) ListPolicyClaims(c *gin.Context) {
	status := c.Query("status")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	claims, err := h.service.ListByPolicy(c.Request.Context(), c.Param("id"), status, limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"claims": claims,
		"count":  len(claims),
	})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrClaimNotFound), errors.Is(err, ErrPolicyNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrPolicyInactive), errors.Is(err, ErrIncidentMismatch):
		status = http.StatusConflict
		code = "not_eligible"
	case errors.Is(err, ErrAlreadyDecided), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrInvalidApprovalAmount):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, scoring.ErrUnavailable):
		status = http.StatusServiceUnavailable
		code = "scoring_unavailable"
	case errors.Is(err, scoring.ErrInvalidScore):
		status = http.StatusBadGateway
		code = "scoring_invalid"
	case errors.Is(err, ErrNumberGenExhausted):
		status = http.StatusServiceUnavailable
		code = "number_generation_failed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
