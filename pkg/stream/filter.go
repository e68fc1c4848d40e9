package stream

import "strings"

// FilterPP drops characters in FilterChars from every chunk's content, and
// optionally restricts processing to a set of content types via
// IncludeTypes or ExcludeTypes (mutually exclusive). A chunk whose content
// becomes empty after filtering is dropped entirely.
type FilterPP struct {
	FilterChars  string
	IncludeTypes map[string]bool
	ExcludeTypes map[string]bool
}

func (p FilterPP) applies(contentType string) bool {
	if p.IncludeTypes != nil && p.ExcludeTypes != nil {
		panic("stream: FilterPP.IncludeTypes and ExcludeTypes are mutually exclusive")
	}
	if p.IncludeTypes != nil {
		return p.IncludeTypes[contentType]
	}
	if p.ExcludeTypes != nil {
		return !p.ExcludeTypes[contentType]
	}
	return true
}

func (p FilterPP) Apply(s *Stream) *Stream {
	return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
		if !ok {
			return false
		}
		if p.FilterChars == "" || !p.applies(in.ContentType) {
			emit(in)
			return false
		}
		filtered := strings.Map(func(r rune) rune {
			if strings.ContainsRune(p.FilterChars, r) {
				return -1
			}
			return r
		}, in.Content)
		if filtered == "" {
			return false
		}
		out := in
		out.Content = filtered
		emit(out)
		return false
	})
}
