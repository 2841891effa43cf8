package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/cadence/pkg/types"
)

// Component names reported by the cadence daemon
const (
	ComponentScheduler = "scheduler"
	ComponentPool      = "pool"
	ComponentStore     = "store"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "degraded", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Targets    map[string]string `json:"targets,omitempty"` // target phase
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker tracks component health for the process
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	targets    map[string]types.Phase
	critical   []string
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker whose readiness depends on the given
// components
func NewHealthChecker(critical ...string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		targets:    make(map[string]types.Phase),
		critical:   critical,
		startTime:  time.Now(),
	}
}

var healthChecker = NewHealthChecker(ComponentScheduler, ComponentPool)

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// UpdateComponent records the health of a component
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.update(name, healthy, message)
}

// UpdateTarget records the phase of a target. A degraded target makes the
// process report "degraded" without failing the health check.
func UpdateTarget(target string, phase types.Phase) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.targets[target] = phase
}

// GetHealth returns the overall health status
func GetHealth() HealthStatus {
	return healthChecker.health()
}

// GetReadiness reports whether every critical component is healthy
func GetReadiness() HealthStatus {
	return healthChecker.readiness()
}

func (h *HealthChecker) update(name string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

func (h *HealthChecker) health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(h.components))
	for name, comp := range h.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
			continue
		}
		components[name] = "healthy"
	}

	var targets map[string]string
	if len(h.targets) > 0 {
		targets = make(map[string]string, len(h.targets))
	}
	for name, phase := range h.targets {
		targets[name] = string(phase)
		if phase == types.PhaseDegraded && status == "healthy" {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Targets:    targets,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

func (h *HealthChecker) readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	critical := append([]string(nil), h.critical...)
	sort.Strings(critical)

	status := "ready"
	message := ""
	components := make(map[string]string, len(critical))
	for _, name := range critical {
		comp, exists := h.components[name]
		switch {
		case !exists:
			components[name] = "not registered"
		case !comp.Healthy:
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
			continue
		}
		if status == "ready" {
			status = "not_ready"
			message = "waiting for " + name
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

func writeStatus(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeStatus(w, health.Status != "unhealthy", health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeStatus(w, readiness.Status == "ready", readiness)
	}
}

// LivenessHandler answers 200 while the process is running
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, true, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
