package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/chart"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/tools"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// CounterVec members only appear in Gather after first use.
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.ToolExecutionsTotal.WithLabelValues("get_revenue", "success").Inc()
	m.ChatTurnsTotal.WithLabelValues("success").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"finsight_llm_requests_total",
		"finsight_tool_executions_total",
		"finsight_chat_turns_total",
		"finsight_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.LLMRequestsTotal.WithLabelValues("gemini", "gemini-2.0-flash", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("gemini", "gemini-2.0-flash", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("gemini", "gemini-2.0-flash", "error").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "finsight_llm_requests_total" {
			found = true
			for _, metric := range f.GetMetric() {
				labels := labelMap(metric.GetLabel())
				if labels["status"] == "success" {
					if got := metric.GetCounter().GetValue(); got != 2 {
						t.Errorf("success count = %v, want 2", got)
					}
				}
				if labels["status"] == "error" {
					if got := metric.GetCounter().GetValue(); got != 1 {
						t.Errorf("error count = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("finsight_llm_requests_total not found")
	}
}

func TestRecordTurn(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordTurn(&agent.Result{Success: true, ProcessingTime: 1200, Chart: &chart.Descriptor{Type: chart.TypeBar}})
	m.RecordTurn(&agent.Result{Success: false, ProcessingTime: 300})

	if got := counterValue(t, m.Registry, "finsight_chat_turns_total", prometheus.Labels{"status": "success"}); got != 1 {
		t.Errorf("success turns = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "finsight_chat_turns_total", prometheus.Labels{"status": "error"}); got != 1 {
		t.Errorf("error turns = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "finsight_chat_charts_emitted_total", prometheus.Labels{"chart_type": "bar"}); got != 1 {
		t.Errorf("charts emitted = %v, want 1", got)
	}
}

func TestRecordTurn_NilSafe(t *testing.T) {
	var m *MetricsCollector
	m.RecordTurn(&agent.Result{Success: true})
	m.RecordTurn(nil)
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return nil })
	h.AddCheck("warehouse", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["db"].Status != "ok" {
		t.Errorf("db check = %q, want ok", status.Checks["db"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("warehouse", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "fail" {
		t.Errorf("db check = %q, want fail", status.Checks["db"].Status)
	}
	if status.Checks["warehouse"].Status != "ok" {
		t.Errorf("warehouse check = %q, want ok", status.Checks["warehouse"].Status)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_PingCheck(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("database", PingCheck(stubPinger{}))
	h.AddCheck("warehouse", PingCheck(stubPinger{err: errors.New("dial tcp: refused")}))

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["database"].Status != "ok" {
		t.Errorf("database check = %q, want ok", status.Checks["database"].Status)
	}
	if got := status.Checks["warehouse"]; got.Status != "fail" || got.Message != "dial tcp: refused" {
		t.Errorf("warehouse check = %+v", got)
	}
}

func TestHealthChecker_ProviderCheck(t *testing.T) {
	if err := ProviderCheck(nil)(context.Background()); err == nil {
		t.Error("nil provider should fail the check")
	}
	if err := ProviderCheck(&mockProvider{})(context.Background()); err != nil {
		t.Errorf("configured provider failed the check: %v", err)
	}
}

func TestHealthChecker_ReportsLatency(t *testing.T) {
	h := NewHealthChecker(nil)
	ticks := []int64{0, 40}
	h.now = func() time.Time {
		ms := ticks[0]
		ticks = ticks[1:]
		return time.UnixMilli(ms)
	}
	h.AddCheck("database", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if got := status.Checks["database"].LatencyMs; got != 40 {
		t.Errorf("latency = %d, want 40", got)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- InstrumentedProvider (wrapper) ---

type mockProvider struct {
	name   string
	resp   *llm.Response
	err    error
	called int
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return "test-model" }
func (m *mockProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.called++
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "test",
		resp: &llm.Response{
			Content: "hello",
			Usage:   llm.Usage{InputTokens: 10, OutputTokens: 20},
		},
	}

	p := NewInstrumentedProvider(inner, metrics, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Content)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}

	val := counterValue(t, metrics.Registry, "finsight_llm_requests_total", prometheus.Labels{"provider": "test", "model": "test-model", "status": "success"})
	if val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
	tokens := counterValue(t, metrics.Registry, "finsight_llm_tokens_used_total", prometheus.Labels{"provider": "test", "model": "test-model", "direction": "input"})
	if tokens != 10 {
		t.Errorf("input tokens = %v, want 10", tokens)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "test",
		err:  errors.New("api error"),
	}

	p := NewInstrumentedProvider(inner, metrics, nil)
	_, err := p.SendMessage(context.Background(), &llm.Request{})
	if err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "finsight_llm_requests_total", prometheus.Labels{"provider": "test", "model": "test-model", "status": "error"})
	if val != 1 {
		t.Errorf("error requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		resp: &llm.Response{Content: "ok"},
	}

	// nil metrics, should not panic.
	p := NewInstrumentedProvider(inner, nil, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Content)
	}
}

// --- InstrumentedTool (wrapper) ---

type mockTool struct {
	output string
	err    error
}

func (m *mockTool) Name() string                { return "get_revenue" }
func (m *mockTool) Description() string         { return "revenue" }
func (m *mockTool) Resource() string            { return "Sales Invoice" }
func (m *mockTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (m *mockTool) Execute(context.Context, map[string]any, tools.Invocation) (string, error) {
	return m.output, m.err
}

func TestInstrumentedTool_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	wrapped := NewInstrumentedTool(&mockTool{output: "data"}, metrics, nil)

	out, err := wrapped.Execute(context.Background(), nil, tools.Invocation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "data" {
		t.Errorf("output = %q, want data", out)
	}
	if wrapped.Resource() != "Sales Invoice" {
		t.Errorf("resource = %q", wrapped.Resource())
	}

	val := counterValue(t, metrics.Registry, "finsight_tool_executions_total", prometheus.Labels{"tool": "get_revenue", "status": "success"})
	if val != 1 {
		t.Errorf("executions_total = %v, want 1", val)
	}
}

func TestInstrumentedTool_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	wrapped := NewInstrumentedTool(&mockTool{err: errors.New("boom")}, metrics, nil)

	_, err := wrapped.Execute(context.Background(), nil, tools.Invocation{})
	if err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "finsight_tool_executions_total", prometheus.Labels{"tool": "get_revenue", "status": "error"})
	if val != 1 {
		t.Errorf("error executions_total = %v, want 1", val)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "finsight_http_requests_total", prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
