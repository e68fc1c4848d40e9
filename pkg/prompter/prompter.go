// Package prompter assembles LLM requests from templates and memory,
// arbitrates between legacy single-message and new system+history+user
// modes, drives the streaming call, and routes chunks per their content
// type sentinel.
package prompter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/stream"
	"github.com/opencmit/alphora/pkg/streamer"
)

// Mode selects how a Prompter assembles its request.
type Mode int

const (
	// ModeLegacy renders a single template to a user-role string.
	ModeLegacy Mode = iota
	// ModeNew renders system_prompt + history + user(query).
	ModeNew
)

// ConfigurationError is raised when a Prompter's construction-time options
// are mutually exclusive (legacy mode with memory, or both modes at once).
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("prompter: %s", e.Message) }

// Config is a Prompter's construction-time, immutable configuration.
type Config struct {
	Mode Mode

	LegacyTemplate *Template // required when Mode == ModeLegacy
	SystemTemplate *Template // required when Mode == ModeNew

	LLM    *llm.Client
	Memory *memory.Manager // only legal with ModeNew; nil disables auto memory binding

	DefaultContentType           string
	HistoryMaxRound              int
	LongResponseMaxContinuations int
	AutoSave                     bool
	Logger                       *slog.Logger
}

// Prompter turns templates + memory + a query into a backend-ready message
// list (or single legacy string) and drives the resulting streaming call.
type Prompter struct {
	cfg Config

	mu   sync.RWMutex
	vars map[string]string
}

// New validates cfg and constructs a Prompter. Mixing legacy mode with a
// non-nil Memory, setting both templates, or leaving the selected mode's
// template unset is a ConfigurationError.
func New(cfg Config) (*Prompter, error) {
	if cfg.LegacyTemplate != nil && cfg.SystemTemplate != nil {
		return nil, &ConfigurationError{Message: "legacy and new mode templates cannot both be set"}
	}
	if cfg.Mode == ModeLegacy && cfg.Memory != nil {
		return nil, &ConfigurationError{Message: "legacy mode does not support memory binding"}
	}
	if cfg.Mode == ModeLegacy && cfg.LegacyTemplate == nil {
		return nil, &ConfigurationError{Message: "legacy mode requires a LegacyTemplate"}
	}
	if cfg.Mode == ModeNew && cfg.SystemTemplate == nil {
		return nil, &ConfigurationError{Message: "new mode requires a SystemTemplate"}
	}
	if cfg.DefaultContentType == "" {
		cfg.DefaultContentType = stream.CharType
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prompter{cfg: cfg, vars: map[string]string{}}, nil
}

// UpdatePlaceholder merges kv into the Prompter's render-time variables.
// Keys not referenced by either template log a warning but are kept
// (a later template swap may reference them); this never blocks rendering.
func (p *Prompter) UpdatePlaceholder(kv map[string]string) {
	known := map[string]bool{}
	if p.cfg.LegacyTemplate != nil {
		for _, n := range p.cfg.LegacyTemplate.Placeholders() {
			known[n] = true
		}
	}
	if p.cfg.SystemTemplate != nil {
		for _, n := range p.cfg.SystemTemplate.Placeholders() {
			known[n] = true
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range kv {
		if !known[k] {
			p.cfg.Logger.Warn("prompter: update_placeholder key not referenced by any template", "key", k)
		}
		p.vars[k] = v
	}
}

func (p *Prompter) snapshotVars() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.vars))
	for k, v := range p.vars {
		out[k] = v
	}
	return out
}

// TextResponse is returned when the model's turn produced no tool_calls.
type TextResponse struct {
	Content           string
	Reasoning         string
	FinishReason      string
	ContinuationCount int
}

// ToolCallResponse is returned when the model's turn produced tool_calls.
type ToolCallResponse struct {
	Content      string
	Reasoning    string
	FinishReason string
	ToolCalls    []message.ToolCall
}

// CallOptions parameterizes one Prompter.Call/Acall invocation.
type CallOptions struct {
	Session string // memory key; required for history/auto-save in new mode

	Query               string
	IsStream            bool
	ReturnGenerator     bool
	ContentType         string
	Postprocessor       stream.Postprocessor
	EnableThinking      bool
	ForceJSON           bool
	LongResponse        bool
	RuntimeSystemPrompt string // one-shot system prompt override/amendment
	Tools               []map[string]any
	SaveToMemory        *bool // nil defers to cfg.AutoSave

	// Streamer, if set, receives forwarded chunks as the call streams.
	// If nil, chunks are still accumulated but not forwarded.
	Streamer *streamer.Streamer
}

func (p *Prompter) buildMessages(opts CallOptions) ([]message.Message, error) {
	vars := p.snapshotVars()

	if p.cfg.Mode == ModeLegacy {
		rendered := p.cfg.LegacyTemplate.Render(vars, opts.Query)
		return []message.Message{*message.New(message.RoleUser, rendered)}, nil
	}

	var msgs []message.Message

	if opts.ForceJSON {
		msgs = append(msgs, *message.New(message.RoleSystem, "Respond only with a single valid JSON object. Do not include any text outside the JSON."))
	}

	systemPrompt := p.cfg.SystemTemplate.Render(vars, opts.Query)
	if opts.RuntimeSystemPrompt != "" {
		systemPrompt = systemPrompt + "\n\n" + opts.RuntimeSystemPrompt
	}
	msgs = append(msgs, *message.New(message.RoleSystem, systemPrompt))

	if p.cfg.Memory != nil && opts.Session != "" {
		history, err := p.cfg.Memory.BuildHistory(opts.Session, memory.FormatMessages, p.cfg.HistoryMaxRound, false)
		if err != nil {
			return nil, fmt.Errorf("prompter: build history: %w", err)
		}
		msgs = append(msgs, history.([]message.Message)...)
	}

	if opts.Query != "" {
		msgs = append(msgs, *message.New(message.RoleUser, opts.Query))
	}
	return msgs, nil
}

// Call performs the full request/response cycle described in the
// component's streaming semantics. If opts.ReturnGenerator, it returns the
// raw postprocessed ChunkStream and both response pointers are nil;
// otherwise it drains the stream itself and returns exactly one of
// *TextResponse / *ToolCallResponse.
func (p *Prompter) Call(ctx context.Context, opts CallOptions) (*TextResponse, *ToolCallResponse, *stream.Stream, error) {
	msgs, err := p.buildMessages(opts)
	if err != nil {
		return nil, nil, nil, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = p.cfg.DefaultContentType
	}

	s, err := p.cfg.LLM.Stream(ctx, msgs, llm.Params{Tools: opts.Tools}, contentType)
	if err != nil {
		return nil, nil, nil, err
	}

	if opts.Postprocessor != nil {
		s = opts.Postprocessor.Apply(s)
	}

	if opts.ReturnGenerator {
		return nil, nil, s, nil
	}

	text, reasoning, toolCalls, finishReason, err := p.drain(ctx, s, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	continuations := 0
	if opts.LongResponse {
		text, finishReason, continuations, err = p.continueIfTruncated(ctx, opts, msgs, text, finishReason)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if opts.ForceJSON {
		if repaired, ok := repairJSON(text); ok {
			text = repaired
		} else {
			p.cfg.Logger.Warn("prompter: force_json repair failed, returning raw text")
		}
	}

	if p.cfg.Mode == ModeNew && p.shouldAutoSave(opts) {
		p.cfg.Memory.AddUser(opts.Session, opts.Query)
		p.cfg.Memory.AddAssistant(opts.Session, text, toolCalls)
	}

	if len(toolCalls) > 0 {
		return nil, &ToolCallResponse{Content: text, Reasoning: reasoning, FinishReason: finishReason, ToolCalls: toolCalls}, nil, nil
	}
	return &TextResponse{Content: text, Reasoning: reasoning, FinishReason: finishReason, ContinuationCount: continuations}, nil, nil, nil
}

// Acall is the async counterpart of Call; Go's goroutine model means
// callers wanting concurrency simply invoke Call on its own goroutine.
func (p *Prompter) Acall(ctx context.Context, opts CallOptions) (*TextResponse, *ToolCallResponse, *stream.Stream, error) {
	return p.Call(ctx, opts)
}

func (p *Prompter) shouldAutoSave(opts CallOptions) bool {
	if opts.Session == "" || p.cfg.Memory == nil {
		return false
	}
	if opts.SaveToMemory != nil {
		return *opts.SaveToMemory
	}
	return p.cfg.AutoSave
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// drain iterates s per §4.5 step 5's sentinel routing contract, forwarding
// to opts.Streamer (unless nil) and accumulating the returned content.
func (p *Prompter) drain(ctx context.Context, s *stream.Stream, opts CallOptions) (text, reasoning string, toolCalls []message.ToolCall, finishReason string, err error) {
	var content strings.Builder
	var think strings.Builder
	accumulators := map[string]*toolCallAccumulator{}
	var order []string

	forward := func(contentType, c string) {
		if opts.Streamer != nil {
			opts.Streamer.Send(ctx, contentType, c)
		}
	}

	err = s.ForEach(ctx, func(c stream.Chunk) bool {
		switch {
		case c.ContentType == stream.ThinkType:
			think.WriteString(c.Content)
			if opts.EnableThinking {
				forward(stream.ThinkType, c.Content)
			}
		case c.ContentType == stream.ToolType:
			acc, ok := accumulators[c.ToolCallID]
			if !ok {
				acc = &toolCallAccumulator{id: c.ToolCallID, name: c.ToolName}
				accumulators[c.ToolCallID] = acc
				order = append(order, c.ToolCallID)
			}
			if c.ToolName != "" {
				acc.name = c.ToolName
			}
			acc.args.WriteString(c.Content)
		case c.ContentType == stream.StreamIgnore:
			content.WriteString(c.Content)
		case c.ContentType == stream.ResponseIgnore:
			forward(opts.ContentType, c.Content)
		case c.ContentType == stream.BothIgnore:
			// dropped from both channels
		default:
			content.WriteString(c.Content)
			forward(c.ContentType, c.Content)
		}
		return true
	})
	if err != nil {
		return "", "", nil, "error", err
	}

	finishReason = s.FinishReason()

	for _, id := range order {
		acc := accumulators[id]
		var args map[string]any
		raw := strings.TrimSpace(acc.args.String())
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		toolCalls = append(toolCalls, message.ToolCall{ID: acc.id, Name: acc.name, Arguments: args})
	}

	return content.String(), think.String(), toolCalls, finishReason, nil
}

// continueIfTruncated issues follow-up "continue" turns while finishReason
// is "length", up to cfg.LongResponseMaxContinuations, concatenating each
// continuation's text onto the accumulated result.
func (p *Prompter) continueIfTruncated(ctx context.Context, opts CallOptions, msgs []message.Message, text, finishReason string) (string, string, int, error) {
	count := 0
	for finishReason == "length" && count < p.cfg.LongResponseMaxContinuations {
		msgs = append(msgs,
			*message.New(message.RoleAssistant, text),
			*message.New(message.RoleUser, "continue"),
		)

		contentType := opts.ContentType
		if contentType == "" {
			contentType = p.cfg.DefaultContentType
		}
		s, err := p.cfg.LLM.Stream(ctx, msgs, llm.Params{Tools: opts.Tools}, contentType)
		if err != nil {
			return text, finishReason, count, err
		}
		if opts.Postprocessor != nil {
			s = opts.Postprocessor.Apply(s)
		}

		more, _, _, fr, err := p.drain(ctx, s, opts)
		if err != nil {
			return text, finishReason, count, err
		}

		text += more
		finishReason = fr
		count++
	}
	return text, finishReason, count, nil
}
