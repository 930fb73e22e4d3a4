package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/llm"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness across the service's dependencies:
// the session/audit database, the report warehouse, and the model
// provider.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
	now    func() time.Time
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error message on failure.
	LatencyMs int64  `json:"latency_ms"`
}

// Pinger is a connection-backed dependency that can verify itself.
// Both storage backends and the warehouse executor satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger for readiness checks.
func PingCheck(p Pinger) func(ctx context.Context) error {
	return p.Ping
}

// ProviderCheck verifies a model provider is configured. It never calls
// the model; readiness must stay cheap.
func ProviderCheck(p llm.Provider) func(ctx context.Context) error {
	return func(context.Context) error {
		if p == nil {
			return errors.New("no model provider configured")
		}
		return nil
	}
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger, now: time.Now}
}

// AddCheck registers a named health check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness status. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered check under a shared timeout and
// returns aggregate readiness: "ok" only when all pass, "degraded"
// otherwise. Individual latencies are reported per check.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for _, c := range h.checks {
		result := h.runCheck(checkCtx, c)
		if result.Status != "ok" {
			status.Status = "degraded"
		}
		status.Checks[c.Name] = result
	}
	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, c HealthCheck) CheckResult {
	begin := h.now()
	err := c.Check(ctx)
	latency := h.now().Sub(begin).Milliseconds()

	if err != nil {
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", err.Error()),
			)
		}
		return CheckResult{Status: "fail", Message: err.Error(), LatencyMs: latency}
	}
	return CheckResult{Status: "ok", LatencyMs: latency}
}
