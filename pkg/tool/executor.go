package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/message"
)

// Status is the outcome of one tool invocation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
	StatusTimeout         Status = "timeout"
	StatusCancelled       Status = "cancelled"
	StatusNotFound        Status = "not_found"
	StatusValidationError Status = "validation_error"
)

// Result is the outcome of executing one ToolCall, ready to be folded back
// into memory as a tool-role message.
type Result struct {
	CallID    string
	ToolName  string
	Status    Status
	Content   string
	ErrorType string
}

// MemoryAppender is the subset of the memory manager the executor needs to
// fold results back into a session transcript. Implemented by
// *memory.Manager.
type MemoryAppender interface {
	AddToolResult(session string, results []Result) error
}

// Executor dispatches tool_calls against a Registry.
type Executor struct {
	registry       *Registry
	hooks          *hook.Bus
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewExecutor constructs an Executor over reg. defaultTimeout bounds every
// handler invocation (zero means no bound); hooks, if non-nil,
// is emitted TOOLS_BEFORE_EXECUTE/TOOLS_AFTER_EXECUTE around each batch.
func NewExecutor(reg *Registry, hooks *hook.Bus, defaultTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: reg, hooks: hooks, defaultTimeout: defaultTimeout, logger: logger}
}

// Execute runs every call in tool_calls, in order. If parallel, handlers run
// concurrently via errgroup; the result slice still preserves input order.
// If memoryManager and session are non-empty, results are appended as
// tool-role messages linked by call_id.
func (e *Executor) Execute(ctx context.Context, calls []message.ToolCall, parallel bool, memoryManager MemoryAppender, session string) ([]Result, error) {
	if e.hooks != nil {
		_ = e.hooks.Emit(ctx, hook.ToolsBeforeExecute, hook.Context{
			Event: hook.ToolsBeforeExecute, Component: "tool",
			Data: map[string]any{"tool_calls": calls},
		})
	}

	results := make([]Result, len(calls))
	start := time.Now()

	run := func(i int) {
		results[i] = e.executeOne(ctx, calls[i])
	}

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		_ = gctx
		for i := range calls {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	if e.hooks != nil {
		_ = e.hooks.Emit(ctx, hook.ToolsAfterExecute, hook.Context{
			Event: hook.ToolsAfterExecute, Component: "tool",
			Data: map[string]any{"results": results, "duration": time.Since(start)},
		})
	}

	if memoryManager != nil && session != "" {
		if err := memoryManager.AddToolResult(session, results); err != nil {
			return results, fmt.Errorf("tool executor: append results to memory: %w", err)
		}
	}

	return results, nil
}

func (e *Executor) executeOne(ctx context.Context, call message.ToolCall) Result {
	base := Result{CallID: call.ID, ToolName: call.Name}

	descriptor, ok := e.registry.Get(call.Name)
	if !ok {
		base.Status = StatusNotFound
		base.Content = fmt.Sprintf("tool %q is not registered", call.Name)
		return base
	}

	if msg, ok := validateArgs(descriptor.Schema, call.Arguments); !ok {
		base.Status = StatusValidationError
		base.Content = msg
		return base
	}

	timeout := e.defaultTimeout
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := descriptor.Handler(callCtx, call.Arguments)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			base.Status = StatusError
			base.ErrorType = errorType(o.err)
			base.Content = o.err.Error()
			return base
		}
		base.Status = StatusSuccess
		base.Content = normalizeContent(o.value)
		return base
	case <-callCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			base.Status = StatusCancelled
			base.Content = "tool invocation cancelled"
			return base
		}
		base.Status = StatusTimeout
		base.Content = fmt.Sprintf("tool %q exceeded its %s timeout", call.Name, timeout)
		return base
	}
}

func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}

func normalizeContent(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// validateArgs compiles schema (if present) with santhosh-tekuri/jsonschema
// and validates args against it. A nil or empty schema always passes.
func validateArgs(schema map[string]any, args map[string]any) (string, bool) {
	if len(schema) == 0 {
		return "", true
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Sprintf("invalid schema: %v", err), false
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return fmt.Sprintf("invalid schema: %v", err), false
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Sprintf("invalid schema: %v", err), false
	}

	var argsAny any = args
	if args == nil {
		argsAny = map[string]any{}
	}
	if err := compiled.Validate(argsAny); err != nil {
		return fmt.Sprintf("argument validation failed: %v", err), false
	}
	return "", true
}
