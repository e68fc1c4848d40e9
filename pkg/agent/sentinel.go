package agent

import (
	"context"
	"strings"

	"github.com/opencmit/alphora/pkg/stream"
)

// sentinelSuppressor withholds the literal taskFinished marker, and
// anything the model emits once it starts, from the client-facing stream
// while still letting prompter.drain accumulate it into the text the agent
// checks for completion (drain never forwards stream.StreamIgnore chunks,
// only folds them into the returned text). It uses the same cross-chunk
// buffering technique as stream.PatternMatcherPP — a possible marker prefix
// at the tail of the buffer is held back until it either completes into a
// match or enough trailing bytes rule it out.
type sentinelSuppressor struct {
	marker string
}

func (p sentinelSuppressor) Apply(s *stream.Stream) *stream.Stream {
	var buf strings.Builder
	var pending []stream.Chunk
	found := false
	exhausted := false

	return stream.New(func(ctx context.Context) (stream.Chunk, bool, error) {
		for {
			if len(pending) > 0 {
				c := pending[0]
				pending = pending[1:]
				return c, true, nil
			}
			if exhausted {
				return stream.Chunk{}, false, nil
			}

			in, ok, err := s.Recv(ctx)
			if err != nil {
				return stream.Chunk{}, false, err
			}
			if !ok {
				exhausted = true
				if tail := buf.String(); tail != "" {
					buf.Reset()
					pending = append(pending, p.tag(tail, found))
				}
				continue
			}

			if found || p.isRouted(in.ContentType) {
				if found && !p.isRouted(in.ContentType) {
					in = stream.Chunk{Content: in.Content, ContentType: stream.StreamIgnore}
				}
				pending = append(pending, in)
				continue
			}

			buf.WriteString(in.Content)
			text := buf.String()
			if idx := strings.Index(text, p.marker); idx >= 0 {
				found = true
				if idx > 0 {
					pending = append(pending, stream.Chunk{Content: text[:idx], ContentType: in.ContentType})
				}
				pending = append(pending, stream.Chunk{Content: text[idx:], ContentType: stream.StreamIgnore})
				buf.Reset()
				continue
			}

			hold := longestSuffixPrefixOverlap(text, p.marker)
			safe := text[:len(text)-hold]
			if safe != "" {
				pending = append(pending, stream.Chunk{Content: safe, ContentType: in.ContentType})
			}
			buf.Reset()
			buf.WriteString(text[len(text)-hold:])
		}
	}).WithFinishReason(s.FinishReason)
}

func (p sentinelSuppressor) tag(content string, found bool) stream.Chunk {
	if found {
		return stream.Chunk{Content: content, ContentType: stream.StreamIgnore}
	}
	return stream.Chunk{Content: content, ContentType: stream.CharType}
}

// isRouted reports whether a chunk is reasoning, a tool-call fragment, or
// already one of the internal routing markers — none of these ever carry
// the sentinel and pass through unexamined.
func (p sentinelSuppressor) isRouted(contentType string) bool {
	switch contentType {
	case stream.ThinkType, stream.ToolType, stream.StreamIgnore, stream.ResponseIgnore, stream.BothIgnore:
		return true
	default:
		return false
	}
}

// longestSuffixPrefixOverlap returns the length of the longest suffix of s
// that is also a prefix of marker (and shorter than marker itself).
func longestSuffixPrefixOverlap(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, marker[:l]) {
			return l
		}
	}
	return 0
}
