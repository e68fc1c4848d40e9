package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the subsystems this runtime
// actually drives: the ReAct loop, the LLM client, tool execution, the HTTP
// surface, and the per-request streamer. The teacher's pkg/observability.Metrics additionally
// tracks memory/session/RAG/gRPC subsystems this runtime has no equivalent
// of (no vector index, no gRPC transport) — trimmed accordingly.
type Metrics struct {
	registry *prometheus.Registry

	agentCalls        *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	agentErrors       *prometheus.CounterVec
	agentActiveRuns   prometheus.Gauge

	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	streamerFramesSent  *prometheus.CounterVec
	streamerIdleTimeout *prometheus.CounterVec
}

// NewMetrics builds a Metrics instance registered against its own registry,
// namespaced by cfg.Namespace. Returns nil if metrics are disabled, mirroring
// every Record* method's nil-receiver no-op so callers never need a feature
// check before recording.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initAgentMetrics(cfg.Namespace)
	m.initLLMMetrics(cfg.Namespace)
	m.initToolMetrics(cfg.Namespace)
	m.initHTTPMetrics(cfg.Namespace)
	m.initStreamerMetrics(cfg.Namespace)
	return m
}

func (m *Metrics) initAgentMetrics(ns string) {
	m.agentCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "agent", Name: "calls_total",
		Help: "Total number of agent Run invocations",
	}, []string{"agent_id"})

	m.agentCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "agent", Name: "call_duration_seconds",
		Help:    "Agent Run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"agent_id"})

	m.agentErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "agent", Name: "errors_total",
		Help: "Total number of agent Run invocations that returned an error",
	}, []string{"agent_id"})

	m.agentActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "agent", Name: "active_runs",
		Help: "Number of agent runs currently in flight",
	})

	m.registry.MustRegister(m.agentCalls, m.agentCallDuration, m.agentErrors, m.agentActiveRuns)
}

func (m *Metrics) initLLMMetrics(ns string) {
	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "llm", Name: "calls_total",
		Help: "Total number of LLM backend calls",
	}, []string{"model"})

	m.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "llm", Name: "call_duration_seconds",
		Help:    "LLM backend call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model"})

	m.llmTokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "llm", Name: "tokens_input_total",
		Help: "Total number of input tokens consumed",
	}, []string{"model"})

	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "llm", Name: "tokens_output_total",
		Help: "Total number of output tokens generated",
	}, []string{"model"})

	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "llm", Name: "errors_total",
		Help: "Total number of LLM backend errors",
	}, []string{"model", "error_type"})

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initToolMetrics(ns string) {
	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool invocations",
	}, []string{"tool_name", "status"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool execution batch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool errors by error type",
	}, []string{"tool_name", "error_type"})

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initHTTPMetrics(ns string) {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

func (m *Metrics) initStreamerMetrics(ns string) {
	m.streamerFramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "streamer", Name: "frames_sent_total",
		Help: "Total number of SSE frames sent to a streamer's consumer",
	}, []string{"model"})

	m.streamerIdleTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "streamer", Name: "idle_timeouts_total",
		Help: "Total number of streamer sessions that terminated on the idle timeout",
	}, []string{"model"})

	m.registry.MustRegister(m.streamerFramesSent, m.streamerIdleTimeout)
}

// RecordAgentCall records one completed agent Run.
func (m *Metrics) RecordAgentCall(agentID string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(agentID).Inc()
	m.agentCallDuration.WithLabelValues(agentID).Observe(duration.Seconds())
	if err != nil {
		m.agentErrors.WithLabelValues(agentID).Inc()
	}
}

// IncAgentActiveRuns increments the in-flight agent run gauge.
func (m *Metrics) IncAgentActiveRuns() {
	if m == nil {
		return
	}
	m.agentActiveRuns.Inc()
}

// DecAgentActiveRuns decrements the in-flight agent run gauge.
func (m *Metrics) DecAgentActiveRuns() {
	if m == nil {
		return
	}
	m.agentActiveRuns.Dec()
}

// RecordLLMCall records one LLM backend call.
func (m *Metrics) RecordLLMCall(model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model).Inc()
	m.llmCallDuration.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.llmTokensInput.WithLabelValues(model).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokensOutput.WithLabelValues(model).Add(float64(outputTokens))
	}
	if err != nil {
		m.llmErrors.WithLabelValues(model, errorTypeOf(err)).Inc()
	}
}

// RecordToolCall records one tool invocation's outcome and the batch
// duration it executed within (the executor runs a batch of calls, serially
// or concurrently, and emits one before/after pair per batch, not per call).
func (m *Metrics) RecordToolCall(toolName, status string, duration time.Duration, errorType string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName, status).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	if errorType != "" {
		m.toolErrors.WithLabelValues(toolName, errorType).Inc()
	}
}

// RecordHTTPRequest records one HTTP request handled by pkg/httpapi.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStreamerFrame records one frame sent by a streamer.Streamer.
func (m *Metrics) RecordStreamerFrame(model string) {
	if m == nil {
		return
	}
	m.streamerFramesSent.WithLabelValues(model).Inc()
}

// RecordStreamerIdleTimeout records a streamer session ending on its idle
// timeout rather than an explicit Stop.
func (m *Metrics) RecordStreamerIdleTimeout(model string) {
	if m == nil {
		return
	}
	m.streamerIdleTimeout.WithLabelValues(model).Inc()
}

// Handler returns the Prometheus scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// errorTypeOf labels an error by its concrete Go type, the same coarse
// grouping promhttp users expect from an error_type label without needing a
// bespoke taxonomy per call site.
func errorTypeOf(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
