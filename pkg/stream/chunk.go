// Package stream implements the ChunkStream abstraction and the composable
// stateful postprocessors that transform LLM token streams before they reach
// the SSE streamer and the prompter's aggregation logic.
package stream

import "context"

// Content type sentinels. CharType is the default type the LLM adapter tags
// regular output with; ThinkType tags reasoning_content deltas. The three
// routing markers are internal: in this package only JsonKeyExtractorPP
// (see json_key_extractor.go) produces them, as StreamIgnore or BothIgnore,
// and pkg/agent's sentinel suppressor tags the text it withholds
// StreamIgnore.
const (
	CharType   = "char"
	ThinkType  = "think"
	ToolType   = "tool"
	StatusType = "status"

	StreamIgnore   = "[STREAM_IGNORE]"
	ResponseIgnore = "[RESPONSE_IGNORE]"
	BothIgnore     = "[BOTH_IGNORE]"
)

// Chunk is one quantum of a ChunkStream: a content_type-tagged slice of
// output plus optional per-chunk tool-call deltas accumulated by the LLM
// adapter.
type Chunk struct {
	Content     string
	ContentType string
	ToolCallID  string // set on tool-call argument deltas, fragment id to concatenate by
	ToolName    string
}

// IsRoutingSentinel reports whether ContentType is one of the three internal
// stream-routing markers rather than a semantic tag the caller should act on.
func (c Chunk) IsRoutingSentinel() bool {
	switch c.ContentType {
	case StreamIgnore, ResponseIgnore, BothIgnore:
		return true
	default:
		return false
	}
}

// Stream is a lazy, single-consumption sequence of Chunks, optionally
// terminated with a finish reason. A Stream may only be consumed once; both
// synchronous (ForEach) and asynchronous (Recv) consumption are supported by
// the same implementation.
type Stream struct {
	next        func(ctx context.Context) (Chunk, bool, error)
	finishOnce  func() string
	instruction string
}

// New wraps a pull function into a Stream. next returns (chunk, true, nil)
// for each element, and (zero, false, err) — err may be nil — on exhaustion.
func New(next func(ctx context.Context) (Chunk, bool, error)) *Stream {
	return &Stream{next: next}
}

// WithFinishReason attaches a terminal finish-reason accessor, called only
// after the underlying sequence is exhausted.
func (s *Stream) WithFinishReason(f func() string) *Stream {
	s.finishOnce = f
	return s
}

// WithInstruction attaches the ChunkStream's optional instruction metadata
// slot.
func (s *Stream) WithInstruction(instr string) *Stream {
	s.instruction = instr
	return s
}

// Instruction returns the Stream's instruction metadata.
func (s *Stream) Instruction() string { return s.instruction }

// FinishReason returns the terminal finish reason, or "" if none was set or
// the stream has not yet been exhausted.
func (s *Stream) FinishReason() string {
	if s.finishOnce == nil {
		return ""
	}
	return s.finishOnce()
}

// ForEach synchronously drains the Stream, invoking fn for each Chunk in
// order. It stops early, without error, if fn returns false.
func (s *Stream) ForEach(ctx context.Context, fn func(Chunk) bool) error {
	for {
		chunk, ok, err := s.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(chunk) {
			return nil
		}
	}
}

// Recv pulls the next Chunk for asynchronous (goroutine-driven) consumption.
// ok is false once the stream is exhausted.
func (s *Stream) Recv(ctx context.Context) (Chunk, bool, error) {
	return s.next(ctx)
}

// FromSlice builds a Stream over a fixed slice of chunks, as used by tests
// and by postprocessors composing a new Stream from buffered output.
func FromSlice(chunks []Chunk) *Stream {
	i := 0
	return New(func(ctx context.Context) (Chunk, bool, error) {
		if i >= len(chunks) {
			return Chunk{}, false, nil
		}
		c := chunks[i]
		i++
		return c, true, nil
	})
}

// FromConstant builds a synthetic Stream that yields a single string split
// into chunks of size chunkSize (all chunks but possibly the last are
// exactly chunkSize runes), each tagged contentType. chunkSize <= 0 yields
// the whole string as one chunk.
func FromConstant(text string, contentType string, chunkSize int) *Stream {
	runes := []rune(text)
	if chunkSize <= 0 {
		chunkSize = len(runes)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	i := 0
	return New(func(ctx context.Context) (Chunk, bool, error) {
		if i >= len(runes) {
			return Chunk{}, false, nil
		}
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		c := Chunk{Content: string(runes[i:end]), ContentType: contentType}
		i = end
		return c, true, nil
	}).WithFinishReason(func() string { return "stop" })
}
