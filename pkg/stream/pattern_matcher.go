package stream

import (
	"math/rand"
	"strings"
)

// PatternMode controls which regions PatternMatcherPP emits.
type PatternMode string

const (
	PatternAll            PatternMode = "all"
	PatternOnlyMatched    PatternMode = "only_matched"
	PatternExcludeMatched PatternMode = "exclude_matched"
)

// patternState tracks only the two states that matter to the scanner below:
// outside a matched region, or inside one. The spec's BOS/EOS-split case
// (NOT_MATCHING -> PARTIAL_START -> INSIDE -> PARTIAL_END -> NOT_MATCHING)
// is handled without dedicated partial states — longestSuffixPrefixOverlap
// holds back a possible marker prefix at the tail of the buffer until either
// the marker completes or enough non-matching bytes arrive to rule it out,
// which is behaviorally equivalent to an explicit PARTIAL_START/PARTIAL_END
// state without the extra bookkeeping.
type patternState int

const (
	stateNotMatching patternState = iota
	stateInside
)

// PatternMatcherPP detects regions delimited by a literal BOS/EOS marker
// pair, buffering across chunk boundaries so a marker split across two
// input chunks is still recognized. Matched content is tagged MatchedType;
// unmatched content is tagged UnmatchedType (or left with its original
// content_type if UnmatchedType is empty).
type PatternMatcherPP struct {
	BOS            string
	EOS            string
	Mode           PatternMode
	IncludeBOS     bool
	IncludeEOS     bool
	MatchedType    string
	UnmatchedType  string
	MinBufferSize  int // 0 disables coalescing (emit as soon as content is safe)
	MaxBufferSize  int
}

// patternMatcherState is fresh per Apply call, per the Postprocessor
// contract: state must not outlive a single stream consumption.
type patternMatcherState struct {
	buf       strings.Builder
	st        patternState
	coalesce  strings.Builder
	coalesceT string
	threshold int
}

func (p PatternMatcherPP) flushThreshold() int {
	if p.MinBufferSize <= 0 || p.MaxBufferSize < p.MinBufferSize {
		return 0
	}
	return p.MinBufferSize + rand.Intn(p.MaxBufferSize-p.MinBufferSize+1)
}

// longestSuffixPrefixOverlap returns the length of the longest suffix of s
// that is also a prefix of marker (and shorter than marker itself) — the
// amount of trailing text that must be held back because it might be the
// start of a marker split across a chunk boundary.
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

func (p PatternMatcherPP) emitsUnmatched() bool {
	return p.Mode == PatternAll || p.Mode == PatternExcludeMatched
}

func (p PatternMatcherPP) emitsMatched() bool {
	return p.Mode == PatternAll || p.Mode == PatternOnlyMatched
}

func (p PatternMatcherPP) Apply(s *Stream) *Stream {
	st := &patternMatcherState{st: stateNotMatching, threshold: p.flushThreshold()}

	flush := func(emit func(Chunk)) {
		if st.coalesce.Len() == 0 {
			return
		}
		emit(Chunk{Content: st.coalesce.String(), ContentType: st.coalesceT})
		st.coalesce.Reset()
	}

	push := func(emit func(Chunk), content, contentType string) {
		if content == "" {
			return
		}
		if p.MinBufferSize <= 0 {
			emit(Chunk{Content: content, ContentType: contentType})
			return
		}
		if st.coalesce.Len() > 0 && st.coalesceT != contentType {
			flush(emit)
		}
		st.coalesceT = contentType
		st.coalesce.WriteString(content)
		if st.coalesce.Len() >= st.threshold {
			flush(emit)
			st.threshold = p.flushThreshold()
		}
	}

	unmatchedType := func(original string) string {
		if p.UnmatchedType != "" {
			return p.UnmatchedType
		}
		return original
	}
	matchedType := func() string {
		if p.MatchedType != "" {
			return p.MatchedType
		}
		return CharType
	}

	// process drains as much of st.buf as can be safely classified given
	// the current state, leaving only an undecidable marker-prefix tail.
	process := func(emit func(Chunk), originalType string, final bool) {
		for {
			b := st.buf.String()
			switch st.st {
			case stateNotMatching:
				if idx := strings.Index(b, p.BOS); idx >= 0 {
					if p.emitsUnmatched() {
						push(emit, b[:idx], unmatchedType(originalType))
					}
					rest := b[idx+len(p.BOS):]
					st.buf.Reset()
					st.buf.WriteString(rest)
					st.st = stateInside
					if p.IncludeBOS && p.emitsMatched() {
						push(emit, p.BOS, matchedType())
					}
					continue
				}
				if final {
					if p.emitsUnmatched() {
						push(emit, b, unmatchedType(originalType))
					}
					st.buf.Reset()
					return
				}
				hold := longestSuffixPrefixOverlap(b, p.BOS)
				safe := b[:len(b)-hold]
				if safe != "" {
					if p.emitsUnmatched() {
						push(emit, safe, unmatchedType(originalType))
					}
					st.buf.Reset()
					st.buf.WriteString(b[len(b)-hold:])
				}
				return
			case stateInside:
				if idx := strings.Index(b, p.EOS); idx >= 0 {
					if p.emitsMatched() {
						push(emit, b[:idx], matchedType())
					}
					rest := b[idx+len(p.EOS):]
					st.buf.Reset()
					st.buf.WriteString(rest)
					st.st = stateNotMatching
					if p.IncludeEOS && p.emitsMatched() {
						push(emit, p.EOS, matchedType())
					}
					continue
				}
				if final {
					if p.emitsMatched() {
						push(emit, b, matchedType())
					}
					st.buf.Reset()
					return
				}
				hold := longestSuffixPrefixOverlap(b, p.EOS)
				safe := b[:len(b)-hold]
				if safe != "" {
					if p.emitsMatched() {
						push(emit, safe, matchedType())
					}
					st.buf.Reset()
					st.buf.WriteString(b[len(b)-hold:])
				}
				return
			default:
				return
			}
		}
	}

	lastType := ""
	return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
		if !ok {
			process(emit, lastType, true)
			flush(emit)
			return false
		}
		lastType = in.ContentType
		st.buf.WriteString(in.Content)
		process(emit, in.ContentType, false)
		return false
	})
}
