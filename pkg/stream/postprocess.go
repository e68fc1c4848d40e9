package stream

import "context"

// Postprocessor transforms one Stream into another. A Postprocessor is
// applied exactly once, lazily, at consumption time — never eagerly — and
// any state it holds must not outlive a single consumption, so every
// Postprocessor implementation below is a factory that builds fresh state
// per Apply call rather than holding state on the Postprocessor value
// itself.
type Postprocessor interface {
	Apply(*Stream) *Stream
}

// Func adapts a plain function to the Postprocessor interface.
type Func func(*Stream) *Stream

func (f Func) Apply(s *Stream) *Stream { return f(s) }

// Chain composes postprocessors left-to-right: Chain(A, B).Apply(s) is
// B.Apply(A.Apply(s)).
func Chain(pps ...Postprocessor) Postprocessor {
	return Func(func(s *Stream) *Stream {
		for _, pp := range pps {
			s = pp.Apply(s)
		}
		return s
	})
}

// stepFunc consumes one upstream Chunk (or the upstream's exhaustion, when
// ok is false) and pushes zero-or-more Chunks downstream via emit. It
// returns done=true once no further upstream pulls are needed (e.g. a
// postprocessor that stops early after finding its target).
type stepFunc func(emit func(Chunk), in Chunk, ok bool) (done bool)

// fanout builds a Stream that pulls from upstream one chunk at a time,
// feeding each through step, and buffering any chunks step emits for
// delivery on subsequent Recv calls. This is the shared engine behind every
// stateful Postprocessor below: no goroutines, so early consumer
// termination never leaks a pending send.
func fanout(upstream *Stream, step stepFunc) *Stream {
	var pending []Chunk
	exhausted := false
	stopped := false

	return New(func(ctx context.Context) (Chunk, bool, error) {
		for {
			if len(pending) > 0 {
				c := pending[0]
				pending = pending[1:]
				return c, true, nil
			}
			if stopped {
				return Chunk{}, false, nil
			}
			if exhausted {
				stopped = true
				return Chunk{}, false, nil
			}

			in, ok, err := upstream.Recv(ctx)
			if err != nil {
				return Chunk{}, false, err
			}
			if !ok {
				exhausted = true
			}

			done := step(func(c Chunk) { pending = append(pending, c) }, in, ok)
			if done {
				stopped = !ok // if upstream already exhausted, finalize next pass; else drain remaining pending then stop pulling more
				if ok {
					exhausted = true
				}
			}
		}
	}).WithFinishReason(upstream.FinishReason)
}
