package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/tool"
)

func TestNewMetrics_DisabledReturnsNilAndEveryRecordIsANoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	require.Nil(t, m)

	assert.NotPanics(t, func() {
		m.RecordAgentCall("a", time.Millisecond, nil)
		m.IncAgentActiveRuns()
		m.DecAgentActiveRuns()
		m.RecordLLMCall("gpt", time.Millisecond, 1, 1, nil)
		m.RecordToolCall("search", "success", time.Millisecond, "")
		m.RecordHTTPRequest("GET", "/v1/chat/completions", "2xx", time.Millisecond)
		m.RecordStreamerFrame("gpt")
		m.RecordStreamerIdleTimeout("gpt")
	})
}

func TestNewMetrics_HandlerExposesRegisteredSeries(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "alphora_test"})
	require.NotNil(t, m)

	m.RecordAgentCall("agent-1", 10*time.Millisecond, nil)
	m.RecordLLMCall("gpt-test", 20*time.Millisecond, 5, 7, nil)
	m.RecordToolCall("search", "success", 5*time.Millisecond, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "alphora_test_agent_calls_total")
	assert.Contains(t, body, "alphora_test_llm_calls_total")
	assert.Contains(t, body, "alphora_test_tool_calls_total")
}

func TestRegisterHooks_RecordsAgentAndToolMetrics(t *testing.T) {
	bus := hook.New(0, nil)
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "alphora_hooks"})
	RegisterHooks(bus, m)

	ctx := context.Background()
	require.NoError(t, bus.Emit(ctx, hook.AgentBeforeRun, hook.Context{
		Event: hook.AgentBeforeRun, Data: map[string]any{"agent_id": "a1"},
	}))
	require.NoError(t, bus.Emit(ctx, hook.AgentAfterRun, hook.Context{
		Event: hook.AgentAfterRun, Data: map[string]any{"agent_id": "a1", "result": "done"},
	}))
	require.NoError(t, bus.Emit(ctx, hook.ToolsAfterExecute, hook.Context{
		Event: hook.ToolsAfterExecute,
		Data: map[string]any{
			"results":  []tool.Result{{ToolName: "search", Status: tool.StatusSuccess}},
			"duration": 3 * time.Millisecond,
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `alphora_hooks_agent_calls_total{agent_id="a1"} 1`)
	assert.Contains(t, body, `alphora_hooks_tool_calls_total{status="success",tool_name="search"} 1`)
}

func TestRegisterHooks_NilBusOrMetricsIsANoop(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterHooks(nil, NewMetrics(MetricsConfig{Enabled: true}))
		RegisterHooks(hook.New(0, nil), nil)
	})
}

func TestMiddleware_RecordsRequestAndPreservesRoutePattern(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "alphora_mw"})

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/v1/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, metricsReq)
	assert.Contains(t, metricsRec.Body.String(), `alphora_mw_http_requests_total{method="GET",path="/v1/chat/completions",status="2xx"} 1`)
}

func TestNewTracer_DisabledInstallsNoopProvider(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracingConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, tr)
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewManager_DisabledConfigStillServesA503MetricsHandler(t *testing.T) {
	mgr, err := NewManager(context.Background(), Config{}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, DefaultMetricsPath, mgr.MetricsPath())

	require.NoError(t, mgr.Shutdown(context.Background()))
}
