package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/internal/httpclient"
	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/sandbox"
	"github.com/opencmit/alphora/pkg/skill"
	"github.com/opencmit/alphora/pkg/streamer"
	"github.com/opencmit/alphora/pkg/tool"
)

type noopCapability struct{}

func (noopCapability) RunPythonCode(ctx context.Context, code string, timeout time.Duration) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Success: true}, nil
}
func (noopCapability) RunPythonFile(ctx context.Context, path string, args []string, timeout time.Duration) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Success: true}, nil
}
func (noopCapability) RunShellCommand(ctx context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{Success: true}, nil
}
func (noopCapability) SaveFile(ctx context.Context, path, content string) error   { return nil }
func (noopCapability) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (noopCapability) DeleteFile(ctx context.Context, path string) error         { return nil }
func (noopCapability) ListFiles(ctx context.Context, path string, recursive bool) ([]sandbox.FileInfo, error) {
	return nil, nil
}
func (noopCapability) FileExists(ctx context.Context, path string) (bool, error) { return false, nil }
func (noopCapability) CopyFile(ctx context.Context, src, dst string) error       { return nil }
func (noopCapability) MoveFile(ctx context.Context, src, dst string) error       { return nil }
func (noopCapability) InstallPipPackage(ctx context.Context, pkg, version string) error { return nil }
func (noopCapability) ListInstalledPackages(ctx context.Context) ([]string, error)      { return nil, nil }
func (noopCapability) CheckPackageInstalled(ctx context.Context, pkg string) (bool, error) {
	return false, nil
}
func (noopCapability) SetEnvironmentVariable(ctx context.Context, key, value string) error { return nil }
func (noopCapability) GetEnvironmentVariable(ctx context.Context, key string) (string, error) {
	return "", nil
}

// sequencedServer replays one SSE body per call, in order; the last body
// repeats once exhausted.
func sequencedServer(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	var n int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt64(&n, 1) - 1
		body := bodies[len(bodies)-1]
		if int(i) < len(bodies) {
			body = bodies[i]
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func newClient(srv *httptest.Server) *llm.Client {
	return llm.New([]llm.Backend{{Endpoint: srv.URL}}, httpclient.DefaultConfig())
}

func TestRun_RespondsImmediatelyWhenTaskFinishedSentinelAppears(t *testing.T) {
	srv := sequencedServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	mem := memory.NewManager()
	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "You are a helpful agent.",
		LLM:          newClient(srv),
		Memory:       mem,
		Streamer:     streamer.New("test", 8, 0),
		Registry:     tool.NewRegistry(),
	})
	require.NoError(t, err)

	result, err := a.Run(context.Background(), "s1", "are we done?")
	require.NoError(t, err)
	assert.Equal(t, "", result)

	history, err := mem.BuildHistory("s1", memory.FormatMessages, 0, false)
	require.NoError(t, err)
	assert.Len(t, history, 2) // user query + assistant sentinel response
}

func TestRun_ExecutesToolThenRespondsOnSecondIteration(t *testing.T) {
	toolCallBody := "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"add\",\"arguments\":\"{\\\"a\\\":1,\\\"b\\\":2}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n\ndata: [DONE]\n\n"
	finalBody := "data: {\"choices\":[{\"delta\":{\"content\":\"the sum is 3. TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n"
	srv := sequencedServer(t, toolCallBody, finalBody)
	defer srv.Close()

	reg := tool.NewRegistry()
	type addArgs struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	require.NoError(t, reg.Register(tool.Descriptor{
		Name:   "add",
		Schema: tool.ToSchema(addArgs{}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return a + b, nil
		},
	}, ""))

	mem := memory.NewManager()
	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "You are a calculator agent.",
		LLM:          newClient(srv),
		Memory:       mem,
		Streamer:     streamer.New("test", 8, 0),
		Registry:     reg,
	})
	require.NoError(t, err)

	result, err := a.Run(context.Background(), "s1", "what is 1+2?")
	require.NoError(t, err)
	assert.Equal(t, "", result)

	history, err := mem.BuildHistory("s1", memory.FormatMessages, 0, false)
	require.NoError(t, err)
	// user, assistant(tool_call), tool(result), assistant(final)
	assert.Len(t, history, 4)
}

func TestRun_ReachesMaxIterationsAndEmitsMessage(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"still thinking\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n"
	srv := sequencedServer(t, body)
	defer srv.Close()

	mem := memory.NewManager()
	s := streamer.New("test", 16, 0)
	a, err := New(Config{
		ID:            "a1",
		SystemPrompt:  "loop forever",
		LLM:           newClient(srv),
		Memory:        mem,
		Streamer:      s,
		Registry:      tool.NewRegistry(),
		MaxIterations: 2,
	})
	require.NoError(t, err)

	result, err := a.Run(context.Background(), "s1", "never finish")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I could not complete the task within the iteration budget.", result)
}

func TestRun_LLMErrorAbortsLoopAndStopsStreamer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mem := memory.NewManager()
	s := streamer.New("test", 8, 0)
	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "x",
		LLM:          newClient(srv),
		Memory:       mem,
		Streamer:     s,
		Registry:     tool.NewRegistry(),
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "s1", "hello")
	require.Error(t, err)

	frames := s.Frames(context.Background())
	var last streamer.Frame
	for f := range frames {
		last = f
	}
	require.NotNil(t, last.Choices[0].FinishReason)
}

func TestRunSteps_YieldsRespondStepWithoutSentinelCheck(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"done, no sentinel here\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n"
	srv := sequencedServer(t, body)
	defer srv.Close()

	mem := memory.NewManager()
	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "x",
		LLM:          newClient(srv),
		Memory:       mem,
		Streamer:     streamer.New("test", 8, 0),
		Registry:     tool.NewRegistry(),
	})
	require.NoError(t, err)

	var steps []Step
	for step := range a.RunSteps(context.Background(), "s1", "hi") {
		steps = append(steps, step)
	}
	require.Len(t, steps, 1)
	assert.Equal(t, "respond", steps[0].Action)
	assert.True(t, steps[0].IsFinal)
}

func TestNew_RegistersSandboxAndSkillToolsAndFoldsCatalogueIntoSystemPrompt(t *testing.T) {
	srv := sequencedServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	reg := tool.NewRegistry()
	skills := skill.NewManager(skill.ModeActivation, []*skill.Skill{
		{Manifest: skill.Manifest{Name: "weather", Description: "reports the weather"}, Dir: "/tmp/weather", Body: "check the forecast"},
	})

	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "You are an assistant.",
		LLM:          newClient(srv),
		Memory:       memory.NewManager(),
		Streamer:     streamer.New("test", 8, 0),
		Registry:     reg,
		Sandbox:      noopCapability{},
		Skills:       skills,
	})
	require.NoError(t, err)
	require.NotNil(t, a)

	_, ok := reg.Get("run_shell_command")
	assert.True(t, ok, "expected sandbox tools to be registered")
	_, ok = reg.Get("list_skills")
	assert.True(t, ok, "expected skill catalogue tools to be registered")
}

func TestDerive_SharesMemoryAndStreamerByReference(t *testing.T) {
	srv := sequencedServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	mem := memory.NewManager()
	s := streamer.New("test", 8, 0)
	parent, err := New(Config{
		ID:           "parent",
		SystemPrompt: "x",
		LLM:          newClient(srv),
		Memory:       mem,
		Streamer:     s,
		Registry:     tool.NewRegistry(),
	})
	require.NoError(t, err)

	child, err := parent.Derive(func(c *Config) {
		c.ID = "child"
		c.SystemPrompt = "y"
	})
	require.NoError(t, err)

	assert.Same(t, mem, child.cfg.Memory)
	assert.Same(t, s, child.cfg.Streamer)
	assert.Equal(t, "child", child.cfg.ID)
}

func TestHooks_BeforeRunFailCloseAbortsLoop(t *testing.T) {
	srv := sequencedServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"TASK_FINISHED\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	defer srv.Close()

	hooks := hook.New(0, nil)
	hooks.Register(hook.AgentBeforeRun, func(ctx hook.Context) (hook.Result, error) {
		return hook.Result{}, assert.AnError
	}, hook.WithErrorPolicy(hook.FailClose))

	a, err := New(Config{
		ID:           "a1",
		SystemPrompt: "x",
		LLM:          newClient(srv),
		Memory:       memory.NewManager(),
		Streamer:     streamer.New("test", 8, 0),
		Registry:     tool.NewRegistry(),
		Hooks:        hooks,
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "s1", "hi")
	require.Error(t, err)
}
