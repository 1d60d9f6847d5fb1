// Package policies provides insurance policy lifecycle management and
// telemetry-driven premium recalculation.
//
// Flow:
//  1. Policy created for a customer → status: pending_activation
//  2. Activation → status: active, coverage window starts
//  3. IoT-enabled policies accumulate device telemetry
//  4. Premium recalculation derives risk and behavior scores from telemetry
//     and rewrites the premium from the base amount fixed at creation
//  5. Expiry sweep moves active policies past their end date → expired
//  6. Cancellation or renewal can happen at any point before expiry
package policies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	ErrPolicyNotFound          = errors.New("policy not found")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrPolicyInactive          = errors.New("policy is not active")
	ErrInvalidStatus           = errors.New("invalid policy status for this operation")
	ErrDynamicPremiumDisabled  = errors.New("policy does not have dynamic premium enabled")
	ErrIoTDisabled             = errors.New("policy does not have IoT coverage enabled")
	ErrNumberGenExhausted      = errors.New("could not generate a unique policy number")
	ErrDuplicatePolicyNumber   = errors.New("policy number already exists")
	ErrInvalidCoverageInterval = errors.New("policy end date must be after start date")
)

// Status represents the state of a policy.
type Status string

const (
	StatusPendingActivation Status = "pending_activation"
	StatusActive            Status = "active"
	StatusExpired           Status = "expired"
	StatusCanceled          Status = "canceled"
)

// InsuranceType enumerates the supported lines of business.
type InsuranceType string

const (
	TypeVehicle InsuranceType = "vehicle"
	TypeHome    InsuranceType = "home"
	TypeHealth  InsuranceType = "health"
	TypeCargo   InsuranceType = "cargo"
	TypeOther   InsuranceType = "other"
)

// RiskLevel buckets a policy's risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Policy represents an insurance policy. Monetary amounts are integer cents.
// BasePremiumCents is fixed at creation; PremiumCents is what the customer
// currently pays and is rewritten by premium recalculation.
type Policy struct {
	ID               string        `json:"id"`
	PolicyNumber     string        `json:"policyNumber"`
	CustomerID       string        `json:"customerId"`
	InsuranceType    InsuranceType `json:"insuranceType"`
	Status           Status        `json:"status"`
	StartDate        time.Time     `json:"startDate"`
	EndDate          time.Time     `json:"endDate"`
	BasePremiumCents int64         `json:"basePremiumCents"`
	PremiumCents     int64         `json:"premiumCents"`
	DynamicPremium   bool          `json:"dynamicPremium"`
	IoTEnabled       bool          `json:"iotEnabled"`
	RiskLevel        RiskLevel     `json:"riskLevel"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// IsActive returns true if the policy currently provides coverage.
func (p *Policy) IsActive() bool {
	return p.Status == StatusActive
}

// IsTerminal returns true if the policy is in a final state.
func (p *Policy) IsTerminal() bool {
	switch p.Status {
	case StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Customer is the policyholder. RiskProfile is set by underwriting and seeds
// the telemetry-derived risk score.
type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	RiskProfile RiskLevel `json:"riskProfile"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists policy and customer data.
type Store interface {
	Create(ctx context.Context, policy *Policy) error
	Get(ctx context.Context, id string) (*Policy, error)
	GetByNumber(ctx context.Context, number string) (*Policy, error)
	Update(ctx context.Context, policy *Policy) error
	UpdatePremium(ctx context.Context, id string, premiumCents int64, riskLevel RiskLevel, updatedAt time.Time) error
	ListByCustomer(ctx context.Context, customerID string, status string, limit int) ([]*Policy, error)
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Policy, error)

	CreateCustomer(ctx context.Context, customer *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}

// DeviceSource lists the devices covered by a policy. Implemented by the
// device registry; wired in at startup.
type DeviceSource interface {
	ListDeviceIDsByPolicy(ctx context.Context, policyID string) ([]string, error)
}

// TelemetrySource exposes the per-device telemetry aggregates premium
// recalculation needs.
type TelemetrySource interface {
	// RecentAnomalyCount returns how many of the device's most recent lastN
	// readings were anomalous.
	RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error)
	// AnomalyRate returns the fraction of anomalous readings since the given
	// time, and the total number of readings observed in that window.
	AnomalyRate(ctx context.Context, deviceID string, since time.Time) (rate float64, readings int, err error)
}

// Broadcaster pushes premium updates to connected clients. Satisfied by the
// realtime hub.
type Broadcaster interface {
	BroadcastPremiumUpdate(data map[string]interface{})
}

// CreateRequest contains the parameters for creating a policy.
type CreateRequest struct {
	CustomerID     string        `json:"customerId" binding:"required"`
	InsuranceType  InsuranceType `json:"insuranceType" binding:"required"`
	StartDate      time.Time     `json:"startDate" binding:"required"`
	EndDate        time.Time     `json:"endDate" binding:"required"`
	PremiumCents   int64         `json:"premiumCents" binding:"required"`
	DynamicPremium bool          `json:"dynamicPremium"`
	IoTEnabled     bool          `json:"iotEnabled"`
}

// RenewRequest contains the parameters for renewing a policy.
type RenewRequest struct {
	NewEndDate time.Time `json:"newEndDate" binding:"required"`
}

func generatePolicyID() string {
	return idgen.WithPrefix("pol_")
}

func generateCustomerID() string {
	return idgen.WithPrefix("cus_")
}

// numberPrefix maps an insurance type to its policy number prefix.
func numberPrefix(t InsuranceType) string {
	switch t {
	case TypeVehicle:
		return "VEH"
	case TypeHome:
		return "HOM"
	case TypeHealth:
		return "HLT"
	case TypeCargo:
		return "CRG"
	default:
		return "POL"
	}
}

// formatPolicyNumber builds a human-readable policy number like VEH-2026-0042.
func formatPolicyNumber(t InsuranceType, year int, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", numberPrefix(t), year, seq)
}
