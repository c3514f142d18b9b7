package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dorrio/shopify-ucp-bridge/internal/platform/httpx"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"

	readinessCheckTimeout = 2 * time.Second
)

// BuildInfo describes the running binary for health reporting.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessCheck probes one dependency. A nil error means the dependency is
// reachable.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	build  BuildInfo
	now    func() time.Time
	checks map[string]ReadinessCheck
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to health responses.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// WithReadinessCheck registers a named dependency probe run by /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// NewHealthHandlers constructs health handlers with sensible defaults.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now:    time.Now,
		checks: make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// Healthz reports process liveness with build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	payload := healthzResponse{
		Status:      healthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).String(),
		Timestamp:   now.Format(time.RFC3339),
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// Readyz runs every registered dependency probe and reports aggregate
// readiness. Any failing probe degrades the response to 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now().UTC()

	status := healthStatusOK
	checks := make(map[string]readinessCheckResult, len(h.checks))
	details := make([]string, 0)

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := h.runCheck(ctx, h.checks[name])
		checks[name] = result
		if result.Status != healthStatusOK {
			status = healthStatusDegraded
			details = append(details, name+": "+result.Error)
		}
	}

	payload := readyzResponse{
		Status:    status,
		Checks:    checks,
		Details:   details,
		Timestamp: now.Format(time.RFC3339),
	}

	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, payload)
}

func (h *HealthHandlers) runCheck(ctx context.Context, check ReadinessCheck) readinessCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, readinessCheckTimeout)
	defer cancel()

	start := h.now()
	err := check(checkCtx)
	latency := h.now().Sub(start)

	result := readinessCheckResult{
		Status:    healthStatusOK,
		LatencyMS: latency.Milliseconds(),
	}
	if err != nil {
		result.Status = healthStatusDegraded
		result.Error = err.Error()
	}
	return result
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzResponse struct {
	Status    string                          `json:"status"`
	Checks    map[string]readinessCheckResult `json:"checks"`
	Details   []string                        `json:"details"`
	Timestamp string                          `json:"timestamp"`
}

type readinessCheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
