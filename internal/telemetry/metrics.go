package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the persona gateway. A nil *Metrics
// records nothing, so components can run without a registry in tests.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	FramesTotal         *prometheus.CounterVec
	AIRequestTotal      *prometheus.CounterVec
	AIRequestDurationMs *prometheus.HistogramVec
	TokensTotal         *prometheus.CounterVec
	RateLimitHitsTotal  *prometheus.CounterVec
	RateLimitFallback   prometheus.Counter
	BroadcastDropped    prometheus.Counter
	ConfigReloadTotal   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "persona_ws_connections_active",
			Help: "Number of open WebSocket connections.",
		}),

		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_ws_frames_total",
			Help: "WebSocket frames handled, by direction and op.",
		}, []string{"direction", "op"}),

		AIRequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_ai_request_total",
			Help: "AI requests by scope and outcome.",
		}, []string{"scope", "status"}),

		AIRequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "persona_ai_request_duration_ms",
			Help:    "AI request duration in milliseconds, including the whole stream for streaming scopes.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"scope"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_tokens_total",
			Help: "Tokens reported by providers.",
		}, []string{"model", "direction"}),

		RateLimitHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"scope"}),

		RateLimitFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "persona_rate_limit_fallback_total",
			Help: "Rate limit checks served by the in-process window because Redis was unavailable.",
		}),

		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "persona_ws_broadcast_dropped_total",
			Help: "Room broadcasts dropped for a slow or closed peer.",
		}),

		ConfigReloadTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "persona_config_reload_total",
			Help: "Configuration reloads by result.",
		}, []string{"result"}),
	}
}

// RecordAIRequest records one completed AI request.
func (m *Metrics) RecordAIRequest(labels AIRequestLabels) {
	if m == nil {
		return
	}
	m.AIRequestTotal.WithLabelValues(labels.Scope, labels.Status).Inc()
	m.AIRequestDurationMs.WithLabelValues(labels.Scope).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.CompletionTokens))
	}
}

func (m *Metrics) RecordRateLimitHit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) RecordRateLimitFallback() {
	if m == nil {
		return
	}
	m.RateLimitFallback.Inc()
}

func (m *Metrics) RecordFrame(direction, op string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, op).Inc()
}

func (m *Metrics) RecordBroadcastDrop() {
	if m == nil {
		return
	}
	m.BroadcastDropped.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) RecordConfigReload(result string) {
	if m == nil {
		return
	}
	m.ConfigReloadTotal.WithLabelValues(result).Inc()
}

// AIRequestLabels holds the label values for recording an AI request.
type AIRequestLabels struct {
	Scope            string
	Status           string
	Model            string
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
}
