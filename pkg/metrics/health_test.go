package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/types"
)

func resetHealth(t *testing.T) {
	t.Helper()
	prev := healthChecker
	healthChecker = NewHealthChecker(ComponentScheduler, ComponentPool)
	t.Cleanup(func() { healthChecker = prev })
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "all healthy",
			components: map[string]bool{ComponentScheduler: true, ComponentPool: true},
			wantStatus: "healthy",
		},
		{
			name:       "one unhealthy",
			components: map[string]bool{ComponentScheduler: false, ComponentPool: true},
			wantStatus: "unhealthy",
		},
		{
			name:       "nothing registered",
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			for name, healthy := range tt.components {
				UpdateComponent(name, healthy, "stopped")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
		})
	}
}

func TestUnhealthyComponentMessage(t *testing.T) {
	resetHealth(t)
	UpdateComponent(ComponentScheduler, false, "protocol violation")

	health := GetHealth()
	assert.Equal(t, "unhealthy: protocol violation", health.Components[ComponentScheduler])
}

func TestDegradedTarget(t *testing.T) {
	resetHealth(t)
	UpdateComponent(ComponentScheduler, true, "")
	UpdateTarget("joesguns", types.PhaseSteadyState)
	UpdateTarget("foodnstuff", types.PhaseDegraded)

	health := GetHealth()
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, map[string]string{"joesguns": "steady", "foodnstuff": "degraded"}, health.Targets)

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	UpdateComponent(ComponentScheduler, false, "stopped")
	assert.Equal(t, "unhealthy", GetHealth().Status)
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{
			name:       "all critical ready",
			components: map[string]bool{ComponentScheduler: true, ComponentPool: true},
			wantStatus: "ready",
		},
		{
			name:        "pool missing",
			components:  map[string]bool{ComponentScheduler: true},
			wantStatus:  "not_ready",
			wantMessage: "waiting for pool",
		},
		{
			name:        "scheduler unhealthy",
			components:  map[string]bool{ComponentScheduler: false, ComponentPool: true},
			wantStatus:  "not_ready",
			wantMessage: "waiting for scheduler",
		},
		{
			name:       "non critical component ignored",
			components: map[string]bool{ComponentScheduler: true, ComponentPool: true, ComponentStore: false},
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			for name, healthy := range tt.components {
				UpdateComponent(name, healthy, "")
			}

			readiness := GetReadiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			assert.Equal(t, tt.wantMessage, readiness.Message)
		})
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		path     string
		healthy  bool
		wantCode int
		wantBody string
	}{
		{name: "health ok", handler: HealthHandler(), path: "/health", healthy: true, wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "health failing", handler: HealthHandler(), path: "/health", healthy: false, wantCode: http.StatusServiceUnavailable, wantBody: "unhealthy"},
		{name: "ready ok", handler: ReadyHandler(), path: "/ready", healthy: true, wantCode: http.StatusOK, wantBody: "ready"},
		{name: "ready failing", handler: ReadyHandler(), path: "/ready", healthy: false, wantCode: http.StatusServiceUnavailable, wantBody: "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			SetVersion("test")
			UpdateComponent(ComponentScheduler, tt.healthy, "")
			UpdateComponent(ComponentPool, true, "")

			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var status HealthStatus
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
			assert.Equal(t, tt.wantBody, status.Status)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealth(t)

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}
