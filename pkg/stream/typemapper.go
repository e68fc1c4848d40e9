package stream

// TypeMapperPP rewrites content_type according to a {from -> to} map,
// leaving content untouched. Types not present in the map pass through
// unchanged.
type TypeMapperPP struct {
	Map map[string]string
}

func (p TypeMapperPP) Apply(s *Stream) *Stream {
	return fanout(s, func(emit func(Chunk), in Chunk, ok bool) bool {
		if !ok {
			return false
		}
		out := in
		if to, found := p.Map[in.ContentType]; found {
			out.ContentType = to
		}
		emit(out)
		return false
	})
}

// Invert returns the pointwise-inverse mapping, such that
// TypeMapperPP{Map: m}.Apply composed with TypeMapperPP{Map: m.Invert()}.Apply
// is the identity on content_type, provided m is itself injective.
func (p TypeMapperPP) Invert() TypeMapperPP {
	inv := make(map[string]string, len(p.Map))
	for k, v := range p.Map {
		inv[v] = k
	}
	return TypeMapperPP{Map: inv}
}
