package policies

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
)

// maxNumberAttempts bounds how many times number generation retries on a
// collision before giving up with ErrNumberGenExhausted.
const maxNumberAttempts = 10

// Service implements policy business logic.
type Service struct {
	store     Store
	devices   DeviceSource
	telemetry TelemetrySource
	broadcast Broadcaster
}

// NewService creates a new policy service. devices and telemetry may be nil;
// premium recalculation then fails with ErrIoTDisabled semantics at call time.
// broadcast may be nil.
func NewService(store Store, devices DeviceSource, telemetry TelemetrySource, broadcast Broadcaster) *Service {
	return &Service{
		store:     store,
		devices:   devices,
		telemetry: telemetry,
		broadcast: broadcast,
	}
}

// Create creates a new policy in pending_activation for an existing customer.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Policy, error) {
	if !req.EndDate.After(req.StartDate) {
		return nil, ErrInvalidCoverageInterval
	}
	if req.PremiumCents <= 0 {
		return nil, fmt.Errorf("premium must be positive")
	}

	if _, err := s.store.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	now := time.Now()
	policy := &Policy{
		ID:               generatePolicyID(),
		CustomerID:       req.CustomerID,
		InsuranceType:    req.InsuranceType,
		Status:           StatusPendingActivation,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		BasePremiumCents: req.PremiumCents,
		PremiumCents:     req.PremiumCents,
		DynamicPremium:   req.DynamicPremium,
		IoTEnabled:       req.IoTEnabled,
		RiskLevel:        RiskLow,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		policy.PolicyNumber = formatPolicyNumber(req.InsuranceType, now.Year(), randDigits(4))
		err := s.store.Create(ctx, policy)
		if err == nil {
			return policy, nil
		}
		if !errors.Is(err, ErrDuplicatePolicyNumber) {
			return nil, fmt.Errorf("failed to create policy: %w", err)
		}
	}

	return nil, ErrNumberGenExhausted
}

// CreateCustomer registers a new customer.
func (s *Service) CreateCustomer(ctx context.Context, name, email string, riskProfile RiskLevel) (*Customer, error) {
	switch riskProfile {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	case "":
		riskProfile = RiskMedium
	default:
		return nil, fmt.Errorf("invalid risk profile: %s", riskProfile)
	}

	customer := &Customer{
		ID:          generateCustomerID(),
		Name:        name,
		Email:       email,
		RiskProfile: riskProfile,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// Activate moves a pending policy into active coverage.
func (s *Service) Activate(ctx context.Context, id string) (*Policy, error) {
	policy, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if policy.Status != StatusPendingActivation {
		return nil, ErrInvalidStatus
	}

	policy.Status = StatusActive
	policy.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to activate policy: %w", err)
	}
	return policy, nil
}

// Cancel cancels a policy. Terminal policies cannot be canceled again.
func (s *Service) Cancel(ctx context.Context, id string) (*Policy, error) {
	policy, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if policy.IsTerminal() {
		return nil, ErrInvalidStatus
	}

	policy.Status = StatusCanceled
	policy.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to cancel policy: %w", err)
	}
	return policy, nil
}

// Renew extends coverage to a new end date. Expired policies become active
// again; canceled policies cannot be renewed.
func (s *Service) Renew(ctx context.Context, id string, newEndDate time.Time) (*Policy, error) {
	policy, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if policy.Status == StatusCanceled {
		return nil, ErrInvalidStatus
	}
	if !newEndDate.After(time.Now()) {
		return nil, ErrInvalidCoverageInterval
	}

	policy.EndDate = newEndDate
	policy.Status = StatusActive
	policy.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to renew policy: %w", err)
	}
	return policy, nil
}

// Get returns a policy by ID.
func (s *Service) Get(ctx context.Context, id string) (*Policy, error) {
	return s.store.Get(ctx, id)
}

// GetByNumber returns a policy by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Policy, error) {
	return s.store.GetByNumber(ctx, number)
}

// ListByCustomer returns a customer's policies.
func (s *Service) ListByCustomer(ctx context.Context, customerID, status string, limit int) ([]*Policy, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByCustomer(ctx, customerID, status, limit)
}

// CheckExpired sweeps active policies whose coverage window has ended.
func (s *Service) CheckExpired(ctx context.Context) {
	expired, err := s.store.ListExpiring(ctx, time.Now(), 100)
	if err != nil {
		logging.L(ctx).Warn("failed to list expiring policies", "error", err)
		return
	}

	for _, policy := range expired {
		// Re-read before writing; the sweep races with cancel/renew.
		fresh, err := s.store.Get(ctx, policy.ID)
		if err != nil || fresh.Status != StatusActive || fresh.EndDate.After(time.Now()) {
			continue
		}
		fresh.Status = StatusExpired
		fresh.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, fresh); err != nil {
			logging.L(ctx).Error("failed to expire policy", "policyId", fresh.ID, "error", err)
		} else {
			logging.L(ctx).Info("policy expired", "policyId", fresh.ID, "policyNumber", fresh.PolicyNumber)
		}
	}
}

// Timer periodically sweeps for policies past their end date.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new policy expiry timer.
func NewTimer(service *Service, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: 60 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the expiry check loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.service.CheckExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

// randDigits returns a random integer with at most n digits (0 to 10^n-1).
func randDigits(n int) int {
	max := 1
	for i := 0; i < n; i++ {
		max *= 10
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:])
	return int(v % uint64(max)) //nolint:gosec // max > 0, result < max
}
