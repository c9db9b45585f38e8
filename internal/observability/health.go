package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker backs the /healthz and /readyz endpoints. Liveness reports
// process uptime; readiness flips true once startup recovery has finished and
// Postgres/NATS are connected, and can flip back with a reason on shutdown.
type HealthChecker struct {
	mu        sync.RWMutex
	ready     bool
	reason    string
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		reason:    "starting",
		startTime: time.Now(),
	}
}

// SetReady marks the service ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	if ready {
		h.reason = ""
	}
	h.mu.Unlock()
}

// SetNotReady marks the service not ready with a human-readable reason.
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	h.ready = false
	h.reason = reason
	h.mu.Unlock()
}

func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// LivenessHandler always returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with a reason otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready, reason := h.ready, h.reason
	h.mu.RUnlock()

	if ready {
		writeHealth(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	body := map[string]string{"status": "not_ready"}
	if reason != "" {
		body["reason"] = reason
	}
	writeHealth(w, http.StatusServiceUnavailable, body)
}

func writeHealth(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
