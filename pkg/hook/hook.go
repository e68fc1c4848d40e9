// Package hook implements the typed lifecycle event bus that agent, tool, and
// prompter components emit into. Handlers are registered per event with a
// priority, an optional predicate, a timeout, and an error policy.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Event identifies one point in the agent/tool/prompt lifecycle.
type Event string

const (
	AgentBeforeRun       Event = "AGENT_BEFORE_RUN"
	AgentAfterRun        Event = "AGENT_AFTER_RUN"
	AgentBeforeIteration Event = "AGENT_BEFORE_ITERATION"
	AgentAfterIteration  Event = "AGENT_AFTER_ITERATION"
	ToolsBeforeExecute   Event = "TOOLS_BEFORE_EXECUTE"
	ToolsAfterExecute    Event = "TOOLS_AFTER_EXECUTE"
	ToolRegisterBefore   Event = "TOOL_REGISTER_BEFORE"
	ToolRegisterAfter    Event = "TOOL_REGISTER_AFTER"
	PromptBeforeCall     Event = "PROMPT_BEFORE_CALL"
	PromptAfterCall      Event = "PROMPT_AFTER_CALL"
	LLMBeforeInvoke      Event = "LLM_BEFORE_INVOKE"
	LLMAfterInvoke       Event = "LLM_AFTER_INVOKE"
)

// ErrorPolicy governs what happens when a handler panics, returns an error,
// or exceeds its timeout.
type ErrorPolicy int

const (
	// FailOpen logs the failure and continues emission to remaining handlers.
	FailOpen ErrorPolicy = iota
	// FailClose aborts the emission and surfaces the failure to the caller.
	FailClose
)

// Context is passed to every handler for a single emission.
type Context struct {
	Event     Event
	Component string
	Data      map[string]any
}

// Result is a handler's return value. The zero Result lets the emission
// continue to the next handler.
type Result struct {
	StopPropagation bool
}

// Handler observes or reacts to an emitted Context. A non-nil error or a
// panic is treated as a failure, subject to the registration's ErrorPolicy.
type Handler func(ctx Context) (Result, error)

// Predicate decides, given the emission Context, whether a registered
// handler runs at all.
type Predicate func(ctx Context) bool

type registration struct {
	handler     Handler
	priority    int
	when        Predicate
	timeout     time.Duration
	errorPolicy ErrorPolicy
	seq         int // registration order, used to break priority ties
}

// Bus dispatches emissions to the handlers registered against each Event.
type Bus struct {
	mu             sync.RWMutex
	handlers       map[Event][]registration
	defaultTimeout time.Duration
	logger         *slog.Logger
	seq            int
}

// New constructs an empty Bus. defaultTimeout applies to registrations that
// don't specify one explicitly (zero means no timeout).
func New(defaultTimeout time.Duration, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers:       make(map[Event][]registration),
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Option configures a single Register call.
type Option func(*registration)

// WithPriority sets the handler's priority; handlers run in descending
// priority order, ties broken by registration order.
func WithPriority(p int) Option {
	return func(r *registration) { r.priority = p }
}

// WithWhen attaches a predicate gating whether the handler runs for a given
// emission.
func WithWhen(pred Predicate) Option {
	return func(r *registration) { r.when = pred }
}

// WithTimeout overrides the bus's default timeout for this registration.
func WithTimeout(d time.Duration) Option {
	return func(r *registration) { r.timeout = d }
}

// WithErrorPolicy sets how a failure in this handler is treated.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(r *registration) { r.errorPolicy = p }
}

// Register attaches handler to event, applying any options.
func (b *Bus) Register(event Event, handler Handler, opts ...Option) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := registration{handler: handler, timeout: b.defaultTimeout, seq: b.seq}
	b.seq++
	for _, opt := range opts {
		opt(&r)
	}

	list := append(b.handlers[event], r)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.handlers[event] = list
}

// Emit runs every registered handler for event in descending-priority order.
// A handler whose predicate returns false is skipped. A handler returning
// Result.StopPropagation halts subsequent handlers for this emission. A
// FailClose handler that errors, panics, or times out aborts the emission
// and Emit returns that error; a FailOpen failure is logged and emission
// continues.
func (b *Bus) Emit(ctx context.Context, event Event, data Context) error {
	b.mu.RLock()
	handlers := append([]registration(nil), b.handlers[event]...)
	b.mu.RUnlock()

	for _, r := range handlers {
		if r.when != nil && !r.when(data) {
			continue
		}

		result, err := b.runHandler(ctx, r, data)
		if err != nil {
			if r.errorPolicy == FailClose {
				return fmt.Errorf("hook %s: %w", event, err)
			}
			b.logger.Warn("hook handler failed, continuing (fail-open)",
				"event", event, "component", data.Component, "error", err)
			continue
		}
		if result.StopPropagation {
			break
		}
	}
	return nil
}

func (b *Bus) runHandler(ctx context.Context, r registration, data Context) (res Result, err error) {
	done := make(chan struct{})
	go func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panicked: %v", p)
			}
			close(done)
		}()
		res, err = r.handler(data)
	}()

	if r.timeout <= 0 {
		<-done
		return res, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case <-done:
		return res, err
	case <-timer.C:
		return Result{}, fmt.Errorf("handler exceeded timeout %s", r.timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
