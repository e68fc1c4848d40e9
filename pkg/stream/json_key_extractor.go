package stream

import "strings"

// JsonKeyExtractorPP locates a single key within a streamed JSON object and
// splits the stream into two logical channels: the bytes of that key's
// value, and everything else. TargetKey is a dot-path with optional
// "[index]" array segments (e.g. "result.answer" or "items[0].text"), a
// superset of the single flat key the sentinel mechanism was originally
// built around.
//
// OutputMode controls how the two channels are tagged:
//   - "raw": the stream passes through completely untouched; no search is
//     performed. Use this to disable extraction without removing the
//     postprocessor from a chain.
//   - "target_only": only the target value's bytes are visible downstream;
//     everything else is tagged BothIgnore and is dropped from both the
//     aggregate and the response.
//   - "both": the target value passes through with its original visibility,
//     while everything outside it is tagged StreamIgnore — kept in the
//     aggregated transcript but never forwarded to the response channel.
//
// A string-typed value is emitted inclusive of its surrounding quotes; any
// other value type is emitted exclusive of the comma or closing brace/
// bracket that terminates it. JsonKeyExtractorPP is the only postprocessor
// in this package that produces routing sentinels (StreamIgnore or
// BothIgnore; it never produces ResponseIgnore).
type JsonKeyExtractorPP struct {
	TargetKey  string
	OutputMode string // "raw" | "target_only" | "both"
	TargetType string // content_type applied to the extracted value; defaults to the upstream chunk's own type
}

type jkePhase int

const (
	jkeSearching jkePhase = iota
	jkeStringValue
	jkeOtherValue
	jkeAfterValue
	jkeAbsent
)

type jsonKeyExtractorState struct {
	buf          strings.Builder
	lastType     string
	phase        jkePhase
	emittedOuter int // bytes of buf already flushed as "outer"
	valueStart   int
	valueScanned int // bytes of the value already classified (string phase: includes opening quote)
	strEscaped   bool
}

func (p JsonKeyExtractorPP) outerTag(original string) string {
	switch p.OutputMode {
	case "target_only":
		return BothIgnore
	case "both":
		return StreamIgnore
	default:
		return original
	}
}

func (p JsonKeyExtractorPP) valueTag(original string) string {
	if p.TargetType != "" {
		return p.TargetType
	}
	return original
}

func (p JsonKeyExtractorPP) Apply(s *Stream) *Stream {
	if p.OutputMode == "raw" || p.OutputMode == "" {
		return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
			if !ok {
				return false
			}
			emit(in)
			return false
		})
	}

	segs := parsePath(p.TargetKey)
	st := &jsonKeyExtractorState{phase: jkeSearching}

	emitOuter := func(emit func(Chunk), text string) {
		if text == "" {
			return
		}
		emit(Chunk{Content: text, ContentType: p.outerTag(st.lastType)})
	}
	emitValue := func(emit func(Chunk), text string) {
		if text == "" {
			return
		}
		emit(Chunk{Content: text, ContentType: p.valueTag(st.lastType)})
	}

	search := func(emit func(Chunk), final bool) {
		b := st.buf.String()
		pos, status := locateValueStart(b, segs)
		switch status {
		case locateFound:
			emitOuter(emit, b[st.emittedOuter:pos])
			st.emittedOuter = pos
			st.valueStart = pos
			if pos < len(b) && b[pos] == '"' {
				st.phase = jkeStringValue
				st.valueScanned = 0
			} else {
				st.phase = jkeOtherValue
			}
		case locateAbsent:
			st.phase = jkeAbsent
		case locateNeedMore:
			if final {
				st.phase = jkeAbsent
			}
		}
	}

	// advanceString consumes newly-buffered bytes of a string-typed value and
	// emits them as they arrive. A backslash at the end of the buffer is
	// emitted too; strEscaped carries its pending escape into the next call
	// so the escaped byte is never taken for the closing quote.
	advanceString := func(emit func(Chunk)) {
		b := st.buf.String()
		value := b[st.valueStart:]
		start := st.valueScanned
		i := start
		if i == 0 && len(value) > 0 {
			// the opening quote is itself part of the emitted value.
			i = 1
		}
		for i < len(value) {
			ch := value[i]
			if st.strEscaped {
				st.strEscaped = false
				i++
				continue
			}
			if ch == '\\' {
				st.strEscaped = true
				i++
				continue
			}
			if ch == '"' {
				i++
				emitValue(emit, value[start:i])
				st.valueScanned = i
				st.phase = jkeAfterValue
				return
			}
			i++
		}
		// Emit everything scanned so far, a trailing backslash included; its
		// pending escape stays recorded in strEscaped.
		emitValue(emit, value[start:i])
		st.valueScanned = i
	}

	advanceOther := func(emit func(Chunk), final bool) {
		b := st.buf.String()
		value := b[st.valueStart:]
		c := &jsonCursor{s: value}
		if err := c.skipValue(); err != nil {
			if final {
				emitValue(emit, value)
				st.valueScanned = len(value)
				st.phase = jkeAfterValue
			}
			return
		}
		emitValue(emit, value[:c.pos])
		st.valueScanned = c.pos
		st.phase = jkeAfterValue
	}

	return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
		if ok {
			st.buf.WriteString(in.Content)
			st.lastType = in.ContentType
		}

		if st.phase == jkeSearching {
			search(emit, !ok)
		}
		if st.phase == jkeStringValue {
			advanceString(emit)
		}
		if st.phase == jkeOtherValue {
			advanceOther(emit, !ok)
		}
		if st.phase == jkeAfterValue && st.emittedOuter < st.valueStart+st.valueScanned {
			// First call after the value completed: emittedOuter still
			// points at the value's start, so fast-forward it past the
			// value before flushing whatever tail arrived in this chunk.
			st.emittedOuter = st.valueStart + st.valueScanned
		}
		if st.phase == jkeAfterValue || st.phase == jkeAbsent {
			b := st.buf.String()
			emitOuter(emit, b[st.emittedOuter:])
			st.emittedOuter = len(b)
		}

		if !ok {
			return true
		}
		return false
	})
}
