package policies

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smartsure/smartsure/internal/validation"
)

// Handler provides HTTP endpoints for policy operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up policy and customer routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/policies", h.CreatePolicy)
	r.GET("/policies", h.LookupPolicy)
	r.GET("/policies/:id", h.GetPolicy)
	r.POST("/policies/:id/activate", h.ActivatePolicy)
	r.POST("/policies/:id/cancel", h.CancelPolicy)
	r.POST("/policies/:id/renew", h.RenewPolicy)
	r.POST("/policies/:id/premium/recompute", h.RecomputePremium)
	r.POST("/customers", h.CreateCustomer)
	r.GET("/customers/:id/policies", h.ListCustomerPolicies)
}

// CreatePolicy handles POST /v1/policies
func (h *Handler) CreatePolicy(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("customerId", req.CustomerID),
		validation.OneOf("insuranceType", string(req.InsuranceType),
			string(TypeVehicle), string(TypeHome), string(TypeHealth), string(TypeCargo), string(TypeOther)),
		validation.PositiveCents("premiumCents", req.PremiumCents),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	policy, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"policy": policy})
}

// LookupPolicy handles GET /v1/policies?number=VEH-2026-0042
func (h *Handler) LookupPolicy(c *gin.Context) {
	number := c.Query("number")
	if !validation.IsValidPolicyNumber(number) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "number must be a policy number (XXX-YYYY-NNNN)",
		})
		return
	}

	policy, err := h.service.GetByNumber(c.Request.Context(), number)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// GetPolicy handles GET /v1/policies/:id
func (h *Handler) GetPolicy(c *gin.Context) {
	id := c.Param("id")

	policy, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// ActivatePolicy handles POST /v1/policies/:id/activate
func (h *Handler) ActivatePolicy(c *gin.Context) {
	id := c.Param("id")

	policy, err := h.service.Activate(c.Request.Context(), id)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// CancelPolicy handles POST /v1/policies/:id/cancel
func (h *Handler) CancelPolicy(c *gin.Context) {
	id := c.Param("id")

	policy, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// RenewPolicy handles POST /v1/policies/:id/renew
func (h *Handler) RenewPolicy(c *gin.Context) {
	id := c.Param("id")

	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "newEndDate is required",
		})
		return
	}

	policy, err := h.service.Renew(c.Request.Context(), id, req.NewEndDate)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// RecomputePremium handles POST /v1/policies/:id/premium/recompute
func (h *Handler) RecomputePremium(c *gin.Context) {
	id := c.Param("id")

	change, err := h.service.RecomputePremium(c.Request.Context(), id)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"premium": change})
}

// CreateCustomer handles POST /v1/customers
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Email       string `json:"email"`
		RiskProfile string `json:"riskProfile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Name is required",
		})
		return
	}

	if req.RiskProfile != "" {
		if errs := validation.Validate(
			validation.OneOf("riskProfile", req.RiskProfile,
				string(RiskLow), string(RiskMedium), string(RiskHigh), string(RiskCritical)),
		); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": errs.Error(),
				"details": errs,
			})
			return
		}
	}

	customer, err := h.service.CreateCustomer(c.Request.Context(), req.Name, req.Email, RiskLevel(req.RiskProfile))
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"customer": customer})
}

// ListCustomerPolicies handles GET /v1/customers/:id/policies
func (h *Handler) ListCustomerPolicies(c *gin.Context) {
	customerID := c.Param("id")
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

	policies, err := h.service.ListByCustomer(c.Request.Context(), customerID, status, limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policies": policies,
		"count":    len(policies),
	})
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrPolicyNotFound), errors.Is(err, ErrCustomerNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrPolicyInactive):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrDynamicPremiumDisabled), errors.Is(err, ErrIoTDisabled):
		status = http.StatusConflict
		code = "not_eligible"
	case errors.Is(err, ErrInvalidCoverageInterval):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, ErrNumberGenExhausted):
		status = http.StatusServiceUnavailable
		code = "number_generation_failed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
