// Package httpapi exposes an agent's ReAct loop over an OpenAI-compatible
// chat-completions HTTP endpoint: one POST route, streamed as SSE or
// returned as a single JSON body depending on the request's stream flag.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/opencmit/alphora/pkg/agent"
	"github.com/opencmit/alphora/pkg/observability"
	"github.com/opencmit/alphora/pkg/streamer"
)

// Config is the HTTP surface's construction-time wiring.
type Config struct {
	BasePath      string // default "/v1"
	Model         string // echoed into SSE frames and the non-streamed response
	StreamBuffer  int    // per-request streamer channel capacity, default 32
	IdleTimeout   time.Duration
	Logger        *slog.Logger
	Observability *observability.Manager // optional: nil disables tracing/metrics middleware
}

// Server routes chat-completions requests to a base Agent, deriving one
// child agent per request so each gets its own streamer and memory-session
// writes stay attributable to that request's session id.
type Server struct {
	cfg  Config
	base *agent.Agent
}

// NewServer builds a Server around base. base's own Streamer field is
// unused by the HTTP surface — every request derives a fresh one.
func NewServer(base *agent.Agent, cfg Config) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = "/v1"
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, base: base}
}

// Routes builds the chi router: POST {base}/chat/completions plus a
// liveness probe at /healthz.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cfg.Observability.HTTPMiddleware())
	r.Use(s.loggingMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Get(s.cfg.Observability.MetricsPath(), func(w http.ResponseWriter, r *http.Request) {
		s.cfg.Observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Route(s.cfg.BasePath, func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletions)
	})
	return r
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	SessionID string        `json:"session_id,omitempty"`
}

type chatCompletionsResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []responseChoice `json:"choices"`
}

type responseChoice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type responseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type errorBody struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(r, w, "", newRequestError("invalid request body: "+err.Error()))
		return
	}

	query, err := lastUserMessage(req.Messages)
	if err != nil {
		s.writeError(r, w, req.SessionID, err)
		return
	}

	session := req.SessionID
	if session == "" {
		session = uuid.NewString()
	}

	sess := streamer.New(s.cfg.Model, s.cfg.StreamBuffer, s.cfg.IdleTimeout)
	child, err := s.base.Derive(func(c *agent.Config) {
		c.ID = uuid.NewString()
		c.Streamer = sess
	})
	if err != nil {
		s.writeError(r, w, session, err)
		return
	}

	if req.Stream {
		s.serveStream(w, r, child, sess, session, query)
		return
	}
	s.serveNonStream(w, r, child, sess, session, query)
}

func lastUserMessage(messages []chatMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content, nil
		}
	}
	return "", newRequestError("messages must contain at least one user-role entry")
}

// serveStream writes headers, starts the agent loop on a goroutine, and
// relays every frame the loop's streamer produces as an SSE `data: ...`
// line until the streamer terminates.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, child *agent.Agent, sess *streamer.Streamer, session, query string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(r, w, session, errors.New("response writer does not support flushing"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	go func() {
		if _, err := child.Run(ctx, session, query); err != nil {
			s.cfg.Logger.Error("agent run failed", "session", session, "error", err)
		}
	}()

	for f := range sess.Frames(ctx) {
		data, err := streamer.Encode(f)
		if err != nil {
			s.cfg.Logger.Error("encode sse frame", "session", session, "error", err)
			continue
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		flusher.Flush()
		s.recordFrameMetrics(f)
	}
}

// recordFrameMetrics feeds the streamer metrics observability.Manager exposes
// from the SSE frames this handler already iterates, rather than threading a
// Metrics reference into pkg/streamer itself.
func (s *Server) recordFrameMetrics(f streamer.Frame) {
	if s.cfg.Observability == nil {
		return
	}
	metrics := s.cfg.Observability.Metrics()
	if len(f.Choices) == 0 {
		return
	}
	if reason := f.Choices[0].FinishReason; reason != nil && *reason == "timeout" {
		metrics.RecordStreamerIdleTimeout(f.Model)
		return
	}
	metrics.RecordStreamerFrame(f.Model)
}

// serveNonStream drains the loop's streamer into a single string while the
// agent runs concurrently, then returns it as one chat.completion body.
func (s *Server) serveNonStream(w http.ResponseWriter, r *http.Request, child *agent.Agent, sess *streamer.Streamer, session, query string) {
	ctx := r.Context()

	runErrCh := make(chan error, 1)
	go func() {
		_, err := child.Run(ctx, session, query)
		runErrCh <- err
	}()

	content, collectErr := sess.Collect(ctx)
	if runErr := <-runErrCh; runErr != nil {
		s.writeError(r, w, session, runErr)
		return
	}
	if collectErr != nil {
		s.writeError(r, w, session, collectErr)
		return
	}

	resp := chatCompletionsResponse{
		ID:      session,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.cfg.Model,
		Choices: []responseChoice{{
			Index:        0,
			Message:      responseMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError always answers 500, per §6/§7: the client-facing surface
// distinguishes failure kinds in the body, not the status code.
func (s *Server) writeError(r *http.Request, w http.ResponseWriter, sessionID string, err error) {
	kind := classify(r.Context(), err)
	s.cfg.Logger.Error("chat completions request failed", "session", sessionID, "kind", kind, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     kind + ": " + err.Error(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.cfg.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
