package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A non-nil error marks the process
// unhealthy.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name    string
	check   CheckFunc
	timeout time.Duration
}

// HealthChecker aggregates dependency probes behind the /health endpoint.
type HealthChecker struct {
	checks []healthCheck
	mu     sync.RWMutex
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check CheckFunc, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, healthCheck{
		name:    name,
		check:   check,
		timeout: timeout,
	})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.timeout)
		err := check.check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.name] = err.Error()
		} else {
			status.Checks[check.name] = "healthy"
		}
	}

	return status
}
