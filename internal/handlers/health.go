package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck reports whether a downstream dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the /healthz and /readyz probes.
type HealthHandlers struct {
	version  string
	revision string
	now      func() time.Time
	checks   map[string]ReadinessCheck
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to probe responses.
func WithHealthBuildInfo(version, revision string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
		h.revision = revision
	}
}

// WithHealthClock overrides the clock used for probe timestamps.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReadinessCheck registers a named dependency check evaluated by /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// NewHealthHandlers constructs health handlers with optional overrides.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now:    time.Now,
		checks: make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.probePayload("ok", nil))
}

// Readyz evaluates every registered dependency check and reports aggregate
// readiness. A single failing check flips the status to 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, code, h.probePayload(status, results))
}

func (h *HealthHandlers) probePayload(status string, checks map[string]string) map[string]any {
	payload := map[string]any{
		"status": status,
		"time":   formatTime(h.now()),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	if h.revision != "" {
		payload["revision"] = h.revision
	}
	if len(checks) > 0 {
		payload["checks"] = checks
	}
	return payload
}
