// v0
// internal/httpapi/health.go
package httpapi

import "sync"

// HealthState tracks readiness. Liveness is always true while the process
// runs; readiness flips on once the service is wired and off during shutdown.
type HealthState struct {
	mu    sync.RWMutex
	ready bool
}

func NewHealthState() *HealthState {
	return &HealthState{}
}

func (h *HealthState) SetReady(value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = value
}

func (h *HealthState) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}
