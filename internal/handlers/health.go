package handlers

import (
	"net/http"
	"time"

	"github.com/stitchline/api/internal/platform/httpx"
	"github.com/stitchline/api/internal/services"
)

var startTime = time.Now()

// HealthHandlers serves the liveness and readiness probes. Readiness consults
// the system service so a broken dependency takes the instance out of
// rotation.
type HealthHandlers struct {
	system services.SystemService
	now    func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithSystemService wires the dependency health reporter used by Readyz.
func WithSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthClock overrides the clock used in probe payloads.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness only.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Readyz probes downstream dependencies and fails when any is unhealthy.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "dependency health check failed", http.StatusServiceUnavailable))
		return
	}

	components := make(map[string]map[string]any, len(report.Components))
	for name, component := range report.Components {
		entry := map[string]any{
			"healthy": component.Healthy,
			"latency": component.Latency.String(),
		}
		if component.Detail != "" {
			entry["detail"] = component.Detail
		}
		components[name] = entry
	}

	status := http.StatusOK
	state := "ok"
	if !report.Healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSONResponse(w, status, map[string]any{
		"status":     state,
		"components": components,
		"checked_at": formatTime(report.CheckedAt),
	})
}
