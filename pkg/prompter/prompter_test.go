package prompter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/internal/httpclient"
	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/streamer"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func TestNew_RejectsLegacyModeWithMemory(t *testing.T) {
	_, err := New(Config{
		Mode:           ModeLegacy,
		LegacyTemplate: NewTemplate("{{query}}"),
		Memory:         memory.NewManager(),
	})
	require.Error(t, err)
	var target *ConfigurationError
	assert.ErrorAs(t, err, &target)
}

func TestTemplate_RendersPlaceholdersAndIfBlocks(t *testing.T) {
	tmpl := NewTemplate("Hello {{name}}.{% if extra %} Extra: {{extra}}.{% endif %} Query: {{query}}")
	out := tmpl.Render(map[string]string{"name": "Ada", "extra": "note"}, "what time is it?")
	assert.Equal(t, "Hello Ada. Extra: note. Query: what time is it?", out)
}

func TestTemplate_IfBlockOmittedWhenConditionAbsent(t *testing.T) {
	tmpl := NewTemplate("A{% if extra %}B{% endif %}C")
	out := tmpl.Render(map[string]string{}, "")
	assert.Equal(t, "AC", out)
}

func TestCall_LegacyMode_RendersQueryIntoTemplate(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	client := llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
	p, err := New(Config{
		Mode:           ModeLegacy,
		LegacyTemplate: NewTemplate("Answer this: {{query}}"),
		LLM:            client,
	})
	require.NoError(t, err)

	text, toolResp, gen, err := p.Call(context.Background(), CallOptions{Query: "what is 2+2?"})
	require.NoError(t, err)
	assert.Nil(t, toolResp)
	assert.Nil(t, gen)
	require.NotNil(t, text)
	assert.Equal(t, "ok", text.Content)
	assert.Equal(t, "stop", text.FinishReason)
}

func TestCall_NewMode_BuildsHistoryAndAutoSaves(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"hi there\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	mem := memory.NewManager()
	client := llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
	p, err := New(Config{
		Mode:           ModeNew,
		SystemTemplate: NewTemplate("You are a helpful bot."),
		LLM:            client,
		Memory:         mem,
		AutoSave:       true,
	})
	require.NoError(t, err)

	s := streamer.New("test", 8, 0)
	text, _, _, err := p.Call(context.Background(), CallOptions{Session: "s1", Query: "hello", Streamer: s})
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, "hi there", text.Content)

	got, err := mem.BuildHistory("s1", memory.FormatMessages, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 2) // user + assistant
}

func TestCall_AccumulatesToolCallDeltasAcrossFrames(t *testing.T) {
	body := "" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"add\",\"arguments\":\"{\\\"a\\\":\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"1,\\\"b\\\":2}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"
	srv := sseServer(t, body)
	defer srv.Close()

	client := llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
	p, err := New(Config{Mode: ModeLegacy, LegacyTemplate: NewTemplate("{{query}}"), LLM: client})
	require.NoError(t, err)

	text, toolResp, _, err := p.Call(context.Background(), CallOptions{Query: "add 1 and 2"})
	require.NoError(t, err)
	assert.Nil(t, text)
	require.NotNil(t, toolResp)
	require.Len(t, toolResp.ToolCalls, 1)
	assert.Equal(t, "add", toolResp.ToolCalls[0].Name)
	assert.Equal(t, float64(1), toolResp.ToolCalls[0].Arguments["a"])
	assert.Equal(t, float64(2), toolResp.ToolCalls[0].Arguments["b"])
}

func TestCall_ForceJSON_RepairsTrailingComma(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"{\\\"a\\\":1,}\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	client := llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
	p, err := New(Config{Mode: ModeLegacy, LegacyTemplate: NewTemplate("{{query}}"), LLM: client})
	require.NoError(t, err)

	text, _, _, err := p.Call(context.Background(), CallOptions{Query: "x", ForceJSON: true})
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, `{"a":1}`, text.Content)
}

func TestCall_ReturnGenerator_SkipsDraining(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	client := llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
	p, err := New(Config{Mode: ModeLegacy, LegacyTemplate: NewTemplate("{{query}}"), LLM: client})
	require.NoError(t, err)

	text, toolResp, gen, err := p.Call(context.Background(), CallOptions{Query: "x", ReturnGenerator: true})
	require.NoError(t, err)
	assert.Nil(t, text)
	assert.Nil(t, toolResp)
	require.NotNil(t, gen)
}
