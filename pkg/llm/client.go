// Package llm implements the OpenAI-compatible chat-completion client: a
// round-robin pool of backends with multimodal-capability filtering, and
// streaming/non-streaming request execution.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/opencmit/alphora/internal/httpclient"
	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/stream"
)

// TransportError wraps an HTTP-layer failure talking to the LLM backend.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: transport error (status %d): %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is raised when a response is well-formed HTTP but doesn't
// satisfy the chat-completion contract (e.g. missing `choices`).
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("llm: protocol error: %s", e.Message) }

// NoCompatibleBackendError is raised when a request requires multimodal
// support and no backend in the pool is marked multimodal.
type NoCompatibleBackendError struct{}

func (e *NoCompatibleBackendError) Error() string {
	return "llm: no backend in the pool supports the request's multimodal attachments"
}

// Backend is one configured chat-completion endpoint.
type Backend struct {
	Endpoint   string
	APIKey     string
	Model      string
	Multimodal bool
}

// Params carries the per-call request knobs forwarded to the backend.
type Params struct {
	Temperature  *float64
	MaxTokens    *int
	TopP         *float64
	Model        string // overrides Backend.Model when set
	ExtraBody    map[string]any
	Tools        []map[string]any
	SystemPrompt string // overrides/injects the leading system message when set
}

// Client is a round-robin pool of Backends. Selection is guarded by an
// atomic counter so concurrent callers don't race on a shared index.
type Client struct {
	backends []Backend
	counter  uint64
	http     *httpclient.Client
}

// New constructs a Client over the given backends.
func New(backends []Backend, httpConfig httpclient.Config) *Client {
	return &Client{backends: backends, http: httpclient.New(httpConfig)}
}

// Plus composes two clients' backend pools into a single new Client,
// mirroring spec's `+` operator on LLM clients.
func (c *Client) Plus(other *Client) *Client {
	merged := make([]Backend, 0, len(c.backends)+len(other.backends))
	merged = append(merged, c.backends...)
	merged = append(merged, other.backends...)
	return &Client{backends: merged, http: c.http}
}

func (c *Client) selectBackend(requireMultimodal bool) (Backend, error) {
	eligible := c.backends
	if requireMultimodal {
		eligible = nil
		for _, b := range c.backends {
			if b.Multimodal {
				eligible = append(eligible, b)
			}
		}
	}
	if len(eligible) == 0 {
		return Backend{}, &NoCompatibleBackendError{}
	}
	idx := atomic.AddUint64(&c.counter, 1) - 1
	return eligible[idx%uint64(len(eligible))], nil
}

// wireMessage is the OpenAI wire shape for one request message.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func toWireMessages(msgs []message.Message) ([]wireMessage, error) {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		bm, err := m.ToBackend()
		if err != nil {
			return nil, err
		}
		wm := wireMessage{Role: bm.Role, ToolCallID: bm.ToolCallID}
		if len(bm.Parts) > 0 {
			parts := make([]map[string]any, 0, len(bm.Parts))
			for _, p := range bm.Parts {
				part := map[string]any{"type": p.Type}
				if p.Type == "text" {
					part["text"] = p.Text
				} else {
					part["image_url"] = map[string]string{"url": p.ImageURL}
				}
				parts = append(parts, part)
			}
			wm.Content = parts
		} else {
			wm.Content = bm.Content
		}
		for _, tc := range bm.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID: tc.ID, Type: "function",
				Function: wireToolCallFunc{Name: tc.Name, Arguments: string(args)},
			})
		}
		out = append(out, wm)
	}
	return out, nil
}

func requiresMultimodal(msgs []message.Message) bool {
	for _, m := range msgs {
		if m.HasMultimodalAttachment() {
			return true
		}
	}
	return false
}

func (c *Client) buildRequestBody(backend Backend, msgs []message.Message, p Params, streamMode bool) ([]byte, error) {
	if p.SystemPrompt != "" {
		withSystem := make([]message.Message, 0, len(msgs)+1)
		if len(msgs) > 0 && msgs[0].Role == message.RoleSystem {
			overridden := msgs[0]
			overridden.Content = p.SystemPrompt
			withSystem = append(withSystem, overridden)
			withSystem = append(withSystem, msgs[1:]...)
		} else {
			withSystem = append(withSystem, *message.New(message.RoleSystem, p.SystemPrompt))
			withSystem = append(withSystem, msgs...)
		}
		msgs = withSystem
	}

	wire, err := toWireMessages(msgs)
	if err != nil {
		return nil, err
	}

	model := backend.Model
	if p.Model != "" {
		model = p.Model
	}

	body := map[string]any{
		"model":    model,
		"messages": wire,
		"stream":   streamMode,
	}
	if p.Temperature != nil {
		body["temperature"] = *p.Temperature
	}
	if p.MaxTokens != nil {
		body["max_tokens"] = *p.MaxTokens
	}
	if p.TopP != nil {
		body["top_p"] = *p.TopP
	}
	if len(p.Tools) > 0 {
		body["tools"] = p.Tools
	}
	for k, v := range p.ExtraBody {
		body[k] = v
	}
	return json.Marshal(body)
}

func (c *Client) newRequest(ctx context.Context, backend Backend, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}
	return req, nil
}

// wireResponse is the shape of a non-streaming chat-completion response.
type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke performs a non-streaming chat-completion call and returns the
// first choice's content.
func (c *Client) Invoke(ctx context.Context, msgs []message.Message, p Params) (string, error) {
	backend, err := c.selectBackend(requiresMultimodal(msgs))
	if err != nil {
		return "", err
	}

	payload, err := c.buildRequestBody(backend, msgs, p, false)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, backend, payload)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if rerr, ok := asRetryable(err); ok {
			return "", &TransportError{StatusCode: rerr.StatusCode, Body: rerr.Message, Err: err}
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var parsed wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &ProtocolError{Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProtocolError{Message: "response has no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// AInvoke is the asynchronous counterpart spec.md names alongside Invoke.
// Go's unified goroutine model means callers that want async behavior
// simply run Invoke on its own goroutine; AInvoke exists so the two named
// operations both have a concrete symbol, and forwards to Invoke directly.
func (c *Client) AInvoke(ctx context.Context, msgs []message.Message, p Params) (string, error) {
	return c.Invoke(ctx, msgs, p)
}

// sseDelta is one decoded `data: {...}` line from the backend's stream.
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream performs a streaming chat-completion call. content_type for
// regular text is contentType; `reasoning_content` deltas are tagged
// stream.ThinkType. tool_call argument fragments are emitted as
// stream.ToolType chunks (see decodeSSEStream); they are not accumulated
// here.
func (c *Client) Stream(ctx context.Context, msgs []message.Message, p Params, contentType string) (*stream.Stream, error) {
	backend, err := c.selectBackend(requiresMultimodal(msgs))
	if err != nil {
		return nil, err
	}

	payload, err := c.buildRequestBody(backend, msgs, p, true)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, backend, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if rerr, ok := asRetryable(err); ok {
			return nil, &TransportError{StatusCode: rerr.StatusCode, Body: rerr.Message, Err: err}
		}
		return nil, &TransportError{Err: err}
	}

	return decodeSSEStream(resp.Body, contentType), nil
}

// AStream is the asynchronous counterpart of Stream; see AInvoke.
func (c *Client) AStream(ctx context.Context, msgs []message.Message, p Params, contentType string) (*stream.Stream, error) {
	return c.Stream(ctx, msgs, p, contentType)
}

// decodeSSEStream turns a backend's `data: {...}\n\n` SSE body into a
// stream.Stream. Regular content is tagged contentType, reasoning_content
// deltas are tagged stream.ThinkType, and tool_call argument fragments are
// tagged stream.ToolType. Every fragment carries the ToolCallID and ToolName
// the backend sent with the first fragment of its call, remembered by the
// call's streaming index, so downstream accumulation can concatenate by id
// per spec.md §4.4/§6.
func decodeSSEStream(body io.ReadCloser, contentType string) *stream.Stream {
	ch := make(chan stream.Chunk)
	finishReason := ""
	idByIndex := make(map[int]string)
	nameByIndex := make(map[int]string)

	go func() {
		defer close(ch)
		defer body.Close()

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
				if data == "[DONE]" {
					break
				}
				if data != "" {
					var delta sseDelta
					if jerr := json.Unmarshal([]byte(data), &delta); jerr == nil && len(delta.Choices) > 0 {
						choice := delta.Choices[0]
						if choice.Delta.ReasoningContent != "" {
							ch <- stream.Chunk{Content: choice.Delta.ReasoningContent, ContentType: stream.ThinkType}
						}
						if choice.Delta.Content != "" {
							ch <- stream.Chunk{Content: choice.Delta.Content, ContentType: contentType}
						}
						for _, tc := range choice.Delta.ToolCalls {
							id := tc.ID
							if id == "" {
								id = idByIndex[tc.Index]
							} else {
								idByIndex[tc.Index] = id
							}
							name := tc.Function.Name
							if name == "" {
								name = nameByIndex[tc.Index]
							} else {
								nameByIndex[tc.Index] = name
							}
							ch <- stream.Chunk{
								Content:     tc.Function.Arguments,
								ContentType: stream.ToolType,
								ToolCallID:  id,
								ToolName:    name,
							}
						}
						if choice.FinishReason != nil {
							finishReason = *choice.FinishReason
						}
					}
				}
			}
			if err != nil {
				if finishReason == "" {
					finishReason = "error"
				}
				break
			}
		}
	}()

	return stream.New(func(ctx context.Context) (stream.Chunk, bool, error) {
		select {
		case c, ok := <-ch:
			return c, ok, nil
		case <-ctx.Done():
			return stream.Chunk{}, false, ctx.Err()
		}
	}).WithFinishReason(func() string { return finishReason })
}

func asRetryable(err error) (*httpclient.RetryableError, bool) {
	e, ok := err.(*httpclient.RetryableError)
	return e, ok
}
