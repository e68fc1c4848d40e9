package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/internal/httpclient"
	"github.com/opencmit/alphora/pkg/agent"
	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/tool"
)

func sentinelLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hello, world. TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n"))
	}))
}

func newTestAgent(t *testing.T, llmSrv *httptest.Server) *agent.Agent {
	t.Helper()
	client := llm.New([]llm.Backend{{Endpoint: llmSrv.URL, Model: "test-model"}}, httpclient.DefaultConfig())
	a, err := agent.New(agent.Config{
		ID:           "base",
		SystemPrompt: "you are a test agent",
		LLM:          client,
		Memory:       memory.NewManager(),
		Registry:     tool.NewRegistry(),
	})
	require.NoError(t, err)
	return a
}

func TestHandleChatCompletions_NonStreamReturnsConcatenatedContent(t *testing.T) {
	llmSrv := sentinelLLMServer(t)
	defer llmSrv.Close()

	base := newTestAgent(t, llmSrv)
	srv := NewServer(base, Config{Model: "test-model"})

	body := `{"messages":[{"role":"user","content":"hi"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatCompletionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello, world. ", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestHandleChatCompletions_StreamEmitsSSEFrames(t *testing.T) {
	llmSrv := sentinelLLMServer(t)
	defer llmSrv.Close()

	base := newTestAgent(t, llmSrv)
	srv := NewServer(base, Config{Model: "test-model"})

	body := `{"messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), "Hello, world.")
	assert.NotContains(t, rec.Body.String(), "TASK_FINISHED")
}

func TestHandleChatCompletions_MissingUserMessageReturns500WithErrorBody(t *testing.T) {
	llmSrv := sentinelLLMServer(t)
	defer llmSrv.Close()

	base := newTestAgent(t, llmSrv)
	srv := NewServer(base, Config{Model: "test-model"})

	body := `{"messages":[{"role":"system","content":"no user turn here"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var errResp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Error, "validation_error")
	assert.NotEmpty(t, errResp.Timestamp)
}

func TestHandleChatCompletions_MalformedJSONReturns500(t *testing.T) {
	llmSrv := sentinelLLMServer(t)
	defer llmSrv.Close()

	base := newTestAgent(t, llmSrv)
	srv := NewServer(base, Config{Model: "test-model"})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz_ReturnsOK(t *testing.T) {
	llmSrv := sentinelLLMServer(t)
	defer llmSrv.Close()

	base := newTestAgent(t, llmSrv)
	srv := NewServer(base, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestClassify_MapsRequestErrorToValidationKind(t *testing.T) {
	kind := classify(context.Background(), newRequestError("bad shape"))
	assert.Equal(t, "validation_error", kind)
}
