package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/fundi/internal/config"
)

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
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestAccessors_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
}

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize some metrics so they appear in Gather (CounterVec only appears after first use).
	m.RequestsTotal.WithLabelValues("claude", "success").Inc()
	m.RateLimitRetries.WithLabelValues("claude").Inc()
	m.ToolExecutionsTotal.WithLabelValues("read_editor", "success").Inc()
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
		"fundi_api_requests_total",
		"fundi_api_rate_limit_retries_total",
		"fundi_tool_executions_total",
		"fundi_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.RequestsTotal.WithLabelValues("claude", "success").Inc()
	m.RequestsTotal.WithLabelValues("claude", "success").Inc()
	m.RequestsTotal.WithLabelValues("claude", "error").Inc()

	if got := counterValue(t, m.Registry, "fundi_api_requests_total", prometheus.Labels{"model": "claude", "status": "success"}); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := counterValue(t, m.Registry, "fundi_api_requests_total", prometheus.Labels{"model": "claude", "status": "error"}); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestTokenCounters(t *testing.T) {
	m := NewMetricsCollector()

	m.TokensUsed.WithLabelValues("claude", "input").Add(100)
	m.TokensUsed.WithLabelValues("claude", "output").Add(25)

	if got := counterValue(t, m.Registry, "fundi_api_tokens_used_total", prometheus.Labels{"model": "claude", "direction": "input"}); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := counterValue(t, m.Registry, "fundi_api_tokens_used_total", prometheus.Labels{"model": "claude", "direction": "output"}); got != 25 {
		t.Errorf("output tokens = %v, want 25", got)
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
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
