package stream

import "strings"

// TriggerType pairs a trigger character with the content_type it retags a
// chunk with.
type TriggerType struct {
	Trigger     rune
	ContentType string
}

// DynamicTypePP retags a chunk with the configured type of the first
// trigger character (in Triggers iteration order) found in its content. If
// no trigger matches, DefaultContentType is applied when non-empty;
// otherwise the chunk's content_type is left unchanged.
type DynamicTypePP struct {
	Triggers           []TriggerType
	DefaultContentType string
}

func (p DynamicTypePP) Apply(s *Stream) *Stream {
	return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
		if !ok {
			return false
		}
		out := in
		for _, t := range p.Triggers {
			if strings.ContainsRune(in.Content, t.Trigger) {
				out.ContentType = t.ContentType
				emit(out)
				return false
			}
		}
		if p.DefaultContentType != "" {
			out.ContentType = p.DefaultContentType
		}
		emit(out)
		return false
	})
}
