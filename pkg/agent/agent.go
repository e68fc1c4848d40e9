// Package agent implements the ReAct tool-calling loop: an agent owns an
// LLM-backed prompter, a shared memory session, a streamer, and a tool
// registry, and drives iterations of call-then-act until the model signals
// completion, exhausts its iteration budget, or fails.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/prompter"
	"github.com/opencmit/alphora/pkg/sandbox"
	"github.com/opencmit/alphora/pkg/skill"
	"github.com/opencmit/alphora/pkg/stream"
	"github.com/opencmit/alphora/pkg/streamer"
	"github.com/opencmit/alphora/pkg/tool"
)

// taskFinished is the terminal sentinel the model is instructed to emit when
// it considers the user's request complete.
const taskFinished = "TASK_FINISHED"

const runtimeFinishInstruction = "If you believe the user's task is fully complete, respond with the literal text " + taskFinished + " and nothing else."

const defaultMaxIterations = 100

// maxIterationsMessage is the literal text returned (and streamed) when an
// agent exhausts its iteration budget without the model signaling completion.
const maxIterationsMessage = "Sorry, I could not complete the task within the iteration budget."

// Config is an agent's construction-time wiring. Tools, Sandbox, and Skills
// are all optional; whichever are set are folded into one Registry and one
// system prompt before the first iteration ever runs.
type Config struct {
	ID           string
	SystemPrompt string

	LLM      *llm.Client
	Memory   *memory.Manager
	Streamer *streamer.Streamer
	Registry *tool.Registry
	Executor *tool.Executor
	Hooks    *hook.Bus

	Sandbox sandbox.Capability // optional: auto-registers sandbox tools
	Skills  *skill.Manager     // optional: catalogue + skill-access tools

	MaxIterations int
	ContentType   string
	ParallelTools bool
	Logger        *slog.Logger
}

// Agent drives the ReAct loop described by Config against one shared
// memory/streamer/registry triple.
type Agent struct {
	cfg      Config
	prompter *prompter.Prompter
}

// New constructs an Agent, registering sandbox and skill tools into
// cfg.Registry and folding the skill catalogue into the system prompt.
func New(cfg Config) (*Agent, error) {
	if cfg.Registry == nil {
		cfg.Registry = tool.NewRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = tool.NewExecutor(cfg.Registry, cfg.Hooks, 0, cfg.Logger)
	}

	if cfg.Sandbox != nil {
		if err := sandbox.RegisterTools(cfg.Registry, cfg.Sandbox); err != nil {
			return nil, fmt.Errorf("agent: register sandbox tools: %w", err)
		}
	}

	systemPrompt := cfg.SystemPrompt
	if cfg.Skills != nil {
		if err := cfg.Skills.RegisterTools(cfg.Registry); err != nil {
			return nil, fmt.Errorf("agent: register skill tools: %w", err)
		}
		if cat := cfg.Skills.Catalogue(); cat != "" {
			systemPrompt = systemPrompt + "\n\n" + cat
		}
	}

	p, err := prompter.New(prompter.Config{
		Mode:           prompter.ModeNew,
		SystemTemplate: prompter.NewTemplate(systemPrompt),
		LLM:            cfg.LLM,
		Memory:         cfg.Memory, // read for history; the agent appends explicitly, so AutoSave stays off
		AutoSave:       false,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: build prompter: %w", err)
	}

	return &Agent{cfg: cfg, prompter: p}, nil
}

// Derive produces a related Agent sharing this one's LLM, memory, streamer,
// registry, and hooks by reference (not deep copy); the system prompt and
// ID may be overridden. A derived agent contributes to the same memory
// session its parent does whenever callers pass the same session id.
func (a *Agent) Derive(overrides func(*Config)) (*Agent, error) {
	cfg := a.cfg
	if overrides != nil {
		overrides(&cfg)
	}
	return New(cfg)
}

// Step is one iteration's outcome, yielded by RunSteps.
type Step struct {
	Iteration   int
	Action      string // "tool_call" | "respond" | "max_iterations"
	Content     string
	ToolCalls   []message.ToolCall
	ToolResults []tool.Result
	IsFinal     bool
}

// Run executes the full ReAct loop for query against session. It returns ""
// once a response contains the TASK_FINISHED sentinel (the response text
// itself reaches the caller through the streamer), or maxIterationsMessage
// when the iteration budget runs out.
func (a *Agent) Run(ctx context.Context, session, query string) (string, error) {
	if err := a.emit(ctx, hook.AgentBeforeRun, map[string]any{"query": query, "agent_id": a.cfg.ID}); err != nil {
		return "", err
	}

	a.cfg.Memory.AddUser(session, query)
	toolsSchema := openAIToolsMap(a.cfg.Registry)

	for i := 0; i < a.cfg.MaxIterations; i++ {
		iteration := i + 1

		if err := a.emit(ctx, hook.AgentBeforeIteration, map[string]any{"iteration": iteration, "session": session}); err != nil {
			return "", err
		}

		text, toolResp, _, err := a.prompter.Acall(ctx, a.callOptions(session, "", toolsSchema))
		if err != nil {
			a.sendStreamer(ctx, err.Error())
			a.stopStreamer(terminalReason(ctx, err))
			return "", fmt.Errorf("agent: llm call failed at iteration %d: %w", iteration, err)
		}

		if toolResp != nil {
			a.cfg.Memory.AddAssistant(session, toolResp.Content, toolResp.ToolCalls)

			results, execErr := a.cfg.Executor.Execute(ctx, toolResp.ToolCalls, a.cfg.ParallelTools, a.cfg.Memory, session)
			if execErr != nil {
				return "", fmt.Errorf("agent: tool execution failed at iteration %d: %w", iteration, execErr)
			}

			if err := a.emit(ctx, hook.AgentAfterIteration, map[string]any{
				"iteration": iteration, "tool_calls": toolResp.ToolCalls, "tool_results": results,
			}); err != nil {
				return "", err
			}
			continue
		}

		a.cfg.Memory.AddAssistant(session, text.Content, nil)

		if containsSentinel(text.Content) {
			a.stopStreamer("stop")
			if err := a.emit(ctx, hook.AgentAfterRun, map[string]any{"result": "", "iteration": iteration, "agent_id": a.cfg.ID}); err != nil {
				return "", err
			}
			return "", nil
		}

		if err := a.emit(ctx, hook.AgentAfterIteration, map[string]any{
			"iteration": iteration, "content": text.Content, "tool_results": nil,
		}); err != nil {
			return "", err
		}
	}

	result := maxIterationsMessage
	a.sendStreamer(ctx, result)
	a.stopStreamer("stop")
	if err := a.emit(ctx, hook.AgentAfterRun, map[string]any{"result": result, "iteration": a.cfg.MaxIterations, "agent_id": a.cfg.ID}); err != nil {
		return result, err
	}
	return result, nil
}

// RunSteps is the step-wise counterpart of Run: it drives the same loop on a
// background goroutine and yields one Step per iteration over the returned
// channel, closing it when the loop terminates (success, max iterations, or
// error — the latter surfaced as a final Step with Action "max_iterations"
// and the error text as Content, since channel send has no error return).
func (a *Agent) RunSteps(ctx context.Context, session, query string) <-chan Step {
	out := make(chan Step)

	go func() {
		defer close(out)

		if err := a.emit(ctx, hook.AgentBeforeRun, map[string]any{"query": query, "agent_id": a.cfg.ID}); err != nil {
			out <- Step{Action: "max_iterations", Content: err.Error(), IsFinal: true}
			return
		}

		a.cfg.Memory.AddUser(session, query)
		toolsSchema := openAIToolsMap(a.cfg.Registry)

		for i := 0; i < a.cfg.MaxIterations; i++ {
			iteration := i + 1

			if err := a.emit(ctx, hook.AgentBeforeIteration, map[string]any{"iteration": iteration, "session": session}); err != nil {
				out <- Step{Iteration: iteration, Action: "max_iterations", Content: err.Error(), IsFinal: true}
				return
			}

			text, toolResp, _, err := a.prompter.Acall(ctx, a.callOptions(session, "", toolsSchema))
			if err != nil {
				out <- Step{Iteration: iteration, Action: "max_iterations", Content: err.Error(), IsFinal: true}
				return
			}

			if toolResp != nil {
				a.cfg.Memory.AddAssistant(session, toolResp.Content, toolResp.ToolCalls)
				results, execErr := a.cfg.Executor.Execute(ctx, toolResp.ToolCalls, a.cfg.ParallelTools, a.cfg.Memory, session)
				if execErr != nil {
					out <- Step{Iteration: iteration, Action: "max_iterations", Content: execErr.Error(), IsFinal: true}
					return
				}
				_ = a.emit(ctx, hook.AgentAfterIteration, map[string]any{"iteration": iteration, "tool_results": results})

				select {
				case out <- Step{Iteration: iteration, Action: "tool_call", Content: toolResp.Content, ToolCalls: toolResp.ToolCalls, ToolResults: results}:
				case <-ctx.Done():
					return
				}
				continue
			}

			a.cfg.Memory.AddAssistant(session, text.Content, nil)
			_ = a.emit(ctx, hook.AgentAfterIteration, map[string]any{"iteration": iteration, "content": text.Content})
			_ = a.emit(ctx, hook.AgentAfterRun, map[string]any{"result": text.Content, "iteration": iteration, "agent_id": a.cfg.ID})

			select {
			case out <- Step{Iteration: iteration, Action: "respond", Content: text.Content, IsFinal: true}:
			case <-ctx.Done():
			}
			return
		}

		result := maxIterationsMessage
		_ = a.emit(ctx, hook.AgentAfterRun, map[string]any{"result": result, "iteration": a.cfg.MaxIterations, "agent_id": a.cfg.ID})
		select {
		case out <- Step{Iteration: a.cfg.MaxIterations, Action: "max_iterations", Content: result, IsFinal: true}:
		case <-ctx.Done():
		}
	}()

	return out
}

func (a *Agent) callOptions(session, query string, toolsSchema []map[string]any) prompter.CallOptions {
	return prompter.CallOptions{
		Session:             session,
		Query:               query,
		IsStream:            true,
		ContentType:         a.contentType(),
		RuntimeSystemPrompt: runtimeFinishInstruction,
		Tools:               toolsSchema,
		Streamer:            a.cfg.Streamer,
		Postprocessor:       sentinelSuppressor{marker: taskFinished},
	}
}

func (a *Agent) stopStreamer(reason string) {
	if a.cfg.Streamer != nil {
		a.cfg.Streamer.Stop(reason)
	}
}

func (a *Agent) sendStreamer(ctx context.Context, content string) {
	if a.cfg.Streamer != nil {
		a.cfg.Streamer.Send(ctx, a.contentType(), content)
	}
}

func (a *Agent) contentType() string {
	if a.cfg.ContentType != "" {
		return a.cfg.ContentType
	}
	return stream.CharType
}

func (a *Agent) emit(ctx context.Context, event hook.Event, data map[string]any) error {
	if a.cfg.Hooks == nil {
		return nil
	}
	return a.cfg.Hooks.Emit(ctx, event, hook.Context{Event: event, Component: "agent", Data: data})
}

// terminalReason maps an aborting error to the SSE finish_reason §7 requires:
// "cancelled" when the request context itself was cancelled or timed out,
// "error" for every other LLM/transport failure.
func terminalReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "error"
}

func containsSentinel(content string) bool {
	return strings.Contains(content, taskFinished)
}

func openAIToolsMap(reg *tool.Registry) []map[string]any {
	schema := reg.GetOpenAIToolsSchema()
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
