package observability

import (
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness flips on only
// after recovery is complete and the database and broker are connected.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// Uptime reports how long the process has been running.
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}
