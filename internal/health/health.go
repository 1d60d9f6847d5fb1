// Package health aggregates readiness checks for the subsystems the claims
// platform depends on, such as the database and the scoring backend.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout caps how long a single checker may run. A hung dependency
// must not stall the readiness endpoint.
const checkTimeout = 3 * time.Second

// Status is the outcome of one subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK builds a healthy status for a subsystem.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Unhealthy builds a failed status with a detail message.
func Unhealthy(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Checker probes one subsystem. It must honor ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named checker. Checkers run in registration order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every registered checker under a per-check timeout and
// reports the aggregate along with individual results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		statuses[i] = nc.check(checkCtx)
		cancel()
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
