package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive should not be nil")
	}
	if m.FramesTotal == nil {
		t.Error("FramesTotal should not be nil")
	}
	if m.AIRequestTotal == nil {
		t.Error("AIRequestTotal should not be nil")
	}
	if m.AIRequestDurationMs == nil {
		t.Error("AIRequestDurationMs should not be nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if m.RateLimitHitsTotal == nil {
		t.Error("RateLimitHitsTotal should not be nil")
	}
	if m.BroadcastDropped == nil {
		t.Error("BroadcastDropped should not be nil")
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordAIRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAIRequest(AIRequestLabels{
		Scope:            "ws:ai.chat",
		Status:           "ok",
		Model:            "doubao-pro",
		DurationMs:       150.5,
		PromptTokens:     100,
		CompletionTokens: 50,
	})

	if got := counterValue(t, m.AIRequestTotal, "ws:ai.chat", "ok"); got != 1 {
		t.Errorf("expected request_total=1, got %f", got)
	}
	if got := counterValue(t, m.TokensTotal, "doubao-pro", "prompt"); got != 100 {
		t.Errorf("expected prompt tokens=100, got %f", got)
	}
	if got := counterValue(t, m.TokensTotal, "doubao-pro", "completion"); got != 50 {
		t.Errorf("expected completion tokens=50, got %f", got)
	}

	var metric dto.Metric
	h, err := m.AIRequestDurationMs.GetMetricWithLabelValues("ws:ai.chat")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := h.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected 1 duration sample, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestRecordAIRequest_ZeroTokensNotRecorded(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAIRequest(AIRequestLabels{Scope: "http:chat", Status: "provider_error", Model: "m"})

	if got := counterValue(t, m.TokensTotal, "m", "prompt"); got != 0 {
		t.Errorf("expected no prompt tokens, got %f", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	var metric dto.Metric
	if err := m.ConnectionsActive.Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 1 {
		t.Errorf("expected 1 active connection, got %f", metric.GetGauge().GetValue())
	}
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRateLimitHit("ws:ai.stream")
	m.RecordRateLimitFallback()
	m.RecordBroadcastDrop()
	m.RecordBroadcastDrop()
	m.RecordFrame("in", "ping")
	m.RecordConfigReload("ok")

	if got := counterValue(t, m.RateLimitHitsTotal, "ws:ai.stream"); got != 1 {
		t.Errorf("expected 1 rate limit hit, got %f", got)
	}
	if got := plainCounterValue(t, m.RateLimitFallback); got != 1 {
		t.Errorf("expected 1 fallback, got %f", got)
	}
	if got := plainCounterValue(t, m.BroadcastDropped); got != 2 {
		t.Errorf("expected 2 dropped broadcasts, got %f", got)
	}
	if got := counterValue(t, m.FramesTotal, "in", "ping"); got != 1 {
		t.Errorf("expected 1 inbound ping frame, got %f", got)
	}
	if got := counterValue(t, m.ConfigReloadTotal, "ok"); got != 1 {
		t.Errorf("expected 1 reload, got %f", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordAIRequest(AIRequestLabels{Scope: "x"})
	m.RecordRateLimitHit("x")
	m.RecordRateLimitFallback()
	m.RecordFrame("in", "ping")
	m.RecordBroadcastDrop()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordConfigReload("ok")
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	return plainCounterValue(t, c)
}

func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}
