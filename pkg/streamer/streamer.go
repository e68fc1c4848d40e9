// Package streamer implements the per-request SSE multiplexer: a bounded
// channel producers send ChunkEvents into, and a single consumer that
// serializes them into OpenAI chat.completion.chunk frames.
package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencmit/alphora/pkg/stream"
)

// Delta is the OpenAI-shaped delta object, extended with the Alphora
// content_type field.
type Delta struct {
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Choice is one element of a chunk frame's choices array. Alphora agents
// only ever populate index 0.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Frame is one `data: {...}\n\n` SSE payload, shaped like an OpenAI
// chat.completion.chunk.
type Frame struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created string   `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

const frameObject = "chat.completion.chunk"

// Streamer is a single-use, per-request multiplexer: any number of
// producers call Send concurrently; a single consumer drains frames via
// Frames (for SSE transport) or Collect (for a non-streamed response).
type Streamer struct {
	id    string
	model string

	mu        sync.Mutex
	ch        chan Frame
	closed    bool
	idleAfter time.Duration
}

// New constructs a Streamer for one request. idleTimeout, if > 0, causes
// Frames to emit a terminal timeout frame if no Send/Stop arrives within
// that window. bufferSize bounds the channel so a slow consumer applies
// back-pressure to producers rather than growing memory unbounded.
func New(model string, bufferSize int, idleTimeout time.Duration) *Streamer {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Streamer{
		id:        uuid.NewString(),
		model:     model,
		ch:        make(chan Frame, bufferSize),
		idleAfter: idleTimeout,
	}
}

func (s *Streamer) frame(contentType, content string, finishReason *string) Frame {
	return Frame{
		ID:      s.id,
		Object:  frameObject,
		Created: time.Now().UTC().Format(time.RFC3339),
		Model:   s.model,
		Choices: []Choice{{Index: 0, Delta: Delta{Content: content, ContentType: contentType}, FinishReason: finishReason}},
	}
}

// Send enqueues one content chunk. A no-op once Stop has been called.
// Send blocks while the channel is full, applying back-pressure, but never
// blocks past ctx's cancellation. The streamer's lock is held for the
// duration of the enqueue so a concurrent Stop can't close the channel out
// from under an in-flight send.
func (s *Streamer) Send(ctx context.Context, contentType, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- s.frame(contentType, content, nil):
	case <-ctx.Done():
	}
}

// Stop enqueues the terminal frame carrying reason and closes the
// underlying channel. Any Send after Stop is a no-op. Stop itself is
// idempotent: only the first call emits a frame.
func (s *Streamer) Stop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.ch <- s.frame("status", "", &reason)
	close(s.ch)
}

// Frames returns a channel of Frame the HTTP transport can range over to
// emit `data: {...}\n\n` SSE lines. It closes once the streamer is
// terminated, either via Stop or the idle timeout (which emits a
// finish_reason="timeout" frame itself).
func (s *Streamer) Frames(ctx context.Context) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)
		for {
			var timer *time.Timer
			var timeoutC <-chan time.Time
			if s.idleAfter > 0 {
				timer = time.NewTimer(s.idleAfter)
				timeoutC = timer.C
			}

			select {
			case f, ok := <-s.ch:
				if timer != nil {
					timer.Stop()
				}
				if !ok {
					return
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
				if f.Choices[0].FinishReason != nil {
					return
				}
			case <-timeoutC:
				reason := "timeout"
				select {
				case out <- s.frame("status", "", &reason):
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()
	return out
}

// Collect drains every non-terminal frame into a single concatenated
// content string, used for non-streamed requests. It blocks until the
// streamer is terminated or ctx is cancelled.
func (s *Streamer) Collect(ctx context.Context) (string, error) {
	var content string
	for f := range s.Frames(ctx) {
		if f.Choices[0].FinishReason != nil {
			if *f.Choices[0].FinishReason != "stop" {
				return content, fmt.Errorf("streamer: terminated with reason %q", *f.Choices[0].FinishReason)
			}
			return content, nil
		}
		content += f.Choices[0].Delta.Content
	}
	return content, ctx.Err()
}

// Encode serializes a Frame as an SSE `data: ...\n\n` line.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(append([]byte("data: "), body...), '\n', '\n'), nil
}

// Forward pumps every non-sentinel Chunk of s into the streamer tagged with
// its own content_type, stopping with reason derived from s.FinishReason()
// once s is exhausted. Sentinel routing types are never forwarded raw;
// callers that need §4.5 sentinel routing semantics use the prompter's own
// chunk loop instead of Forward.
func Forward(ctx context.Context, streamer *Streamer, s *stream.Stream) error {
	err := s.ForEach(ctx, func(c stream.Chunk) bool {
		if c.IsRoutingSentinel() {
			return true
		}
		streamer.Send(ctx, c.ContentType, c.Content)
		return true
	})
	reason := s.FinishReason()
	if reason == "" {
		reason = "stop"
	}
	if err != nil {
		reason = "error"
	}
	streamer.Stop(reason)
	return err
}
