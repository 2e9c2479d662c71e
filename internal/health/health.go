// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK builds a healthy status.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Unhealthy builds a failed status with its reason.
func Unhealthy(name string, err error) Status {
	return Status{Name: name, Healthy: false, Detail: err.Error()}
}

// Checker is a function that checks the health of a subsystem. Each check
// runs with a bounded per-check timeout.
type Checker func(ctx context.Context) Status

// CheckTimeout bounds a single checker's run.
const CheckTimeout = 5 * time.Second

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results, in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		statuses[i] = nc.check(checkCtx)
		cancel()
		if statuses[i].Healthy {
			continue
		}
		healthy = false
	}

	return healthy, statuses
}
