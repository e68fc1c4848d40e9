package stream

import (
	"errors"
	"strconv"
	"strings"
)

// errIncomplete signals that the buffer ended before a JSON value or token
// could be fully classified; the caller should wait for more input and
// retry the same scan from the start of the buffer.
var errIncomplete = errors.New("stream: incomplete json")

// pathSegment is either a named object key or a zero-based array index.
type pathSegment struct {
	key      string
	index    int
	isIndex  bool
}

// parsePath splits a dot-path with optional trailing "[N]" index segments,
// e.g. "result.items[2].value" -> [{key:"result"},{key:"items"},{index:2},{key:"value"}].
func parsePath(path string) []pathSegment {
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			if part[0] == '[' {
				end := strings.IndexByte(part, ']')
				if end < 0 {
					break
				}
				n, err := strconv.Atoi(part[1:end])
				if err == nil {
					segs = append(segs, pathSegment{index: n, isIndex: true})
				}
				part = part[end+1:]
				continue
			}
			end := strings.IndexByte(part, '[')
			if end < 0 {
				segs = append(segs, pathSegment{key: part})
				part = ""
			} else {
				if end > 0 {
					segs = append(segs, pathSegment{key: part[:end]})
				}
				part = part[end:]
			}
		}
	}
	return segs
}

// locateStatus reports the outcome of scanning the buffer for the target
// path.
type locateStatus int

const (
	locateFound locateStatus = iota
	locateNeedMore
	locateAbsent
)

// locateValueStart scans buf from the root for the value addressed by segs.
// On locateFound, pos is the index into buf of the first byte of the target
// value (not yet consumed). On locateNeedMore, the buffer did not contain
// enough data to determine the outcome and the caller should retry once
// more input has arrived. On locateAbsent, the enclosing object/array closed
// within buf without ever containing the next required segment — the key
// will never appear at that position.
func locateValueStart(buf string, segs []pathSegment) (int, locateStatus) {
	p := &jsonCursor{s: buf}
	p.skipWS()
	return navigate(p, segs)
}

func navigate(p *jsonCursor, segs []pathSegment) (int, locateStatus) {
	if len(segs) == 0 {
		p.skipWS()
		if p.eof() {
			return 0, locateNeedMore
		}
		return p.pos, locateFound
	}

	p.skipWS()
	if p.eof() {
		return 0, locateNeedMore
	}

	seg := segs[0]
	if seg.isIndex {
		if p.peek() != '[' {
			return 0, locateAbsent
		}
		p.advance()
		idx := 0
		for {
			p.skipWS()
			if p.eof() {
				return 0, locateNeedMore
			}
			if p.peek() == ']' {
				return 0, locateAbsent
			}
			if idx == seg.index {
				return navigate(p, segs[1:])
			}
			if err := p.skipValue(); err != nil {
				return 0, locateNeedMore
			}
			p.skipWS()
			if p.eof() {
				return 0, locateNeedMore
			}
			if p.peek() == ',' {
				p.advance()
				idx++
				continue
			}
			if p.peek() == ']' {
				return 0, locateAbsent
			}
			return 0, locateNeedMore
		}
	}

	if p.peek() != '{' {
		return 0, locateAbsent
	}
	p.advance()
	for {
		p.skipWS()
		if p.eof() {
			return 0, locateNeedMore
		}
		if p.peek() == '}' {
			return 0, locateAbsent
		}
		key, err := p.readString()
		if err != nil {
			return 0, locateNeedMore
		}
		p.skipWS()
		if p.eof() {
			return 0, locateNeedMore
		}
		if p.peek() != ':' {
			return 0, locateAbsent
		}
		p.advance()
		p.skipWS()
		if p.eof() {
			return 0, locateNeedMore
		}

		if key == seg.key {
			// Must navigate *into* this value for the remaining segments.
			// A snapshot lets us fall back to skip-and-continue if the
			// remaining path doesn't match this value's shape (e.g. target
			// is an index but this value isn't an array).
			snapshot := *p
			pos, status := navigate(p, segs[1:])
			if status == locateFound || status == locateNeedMore {
				return pos, status
			}
			*p = snapshot
		}

		if err := p.skipValue(); err != nil {
			return 0, locateNeedMore
		}
		p.skipWS()
		if p.eof() {
			return 0, locateNeedMore
		}
		if p.peek() == ',' {
			p.advance()
			continue
		}
		if p.peek() == '}' {
			return 0, locateAbsent
		}
		return 0, locateNeedMore
	}
}

// jsonCursor is a minimal forward-only byte scanner over a (possibly
// truncated) JSON document.
type jsonCursor struct {
	s   string
	pos int
}

func (c *jsonCursor) eof() bool   { return c.pos >= len(c.s) }
func (c *jsonCursor) peek() byte  { return c.s[c.pos] }
func (c *jsonCursor) advance()    { c.pos++ }

func (c *jsonCursor) skipWS() {
	for !c.eof() {
		switch c.s[c.pos] {
		case ' ', '\t', '\n', '\r':
			c.pos++
		default:
			return
		}
	}
}

func (c *jsonCursor) readString() (string, error) {
	if c.eof() || c.peek() != '"' {
		return "", errIncomplete
	}
	c.advance()
	var sb strings.Builder
	for {
		if c.eof() {
			return "", errIncomplete
		}
		ch := c.s[c.pos]
		if ch == '\\' {
			c.advance()
			if c.eof() {
				return "", errIncomplete
			}
			sb.WriteByte(c.s[c.pos])
			c.advance()
			continue
		}
		if ch == '"' {
			c.advance()
			return sb.String(), nil
		}
		sb.WriteByte(ch)
		c.advance()
	}
}

// skipValue advances past one complete JSON value (string, number, object,
// array, true/false/null). Returns errIncomplete if the buffer ends before
// the value is fully formed.
func (c *jsonCursor) skipValue() error {
	c.skipWS()
	if c.eof() {
		return errIncomplete
	}
	switch c.peek() {
	case '"':
		_, err := c.readString()
		return err
	case '{':
		c.advance()
		for {
			c.skipWS()
			if c.eof() {
				return errIncomplete
			}
			if c.peek() == '}' {
				c.advance()
				return nil
			}
			if _, err := c.readString(); err != nil {
				return err
			}
			c.skipWS()
			if c.eof() || c.peek() != ':' {
				return errIncomplete
			}
			c.advance()
			if err := c.skipValue(); err != nil {
				return err
			}
			c.skipWS()
			if c.eof() {
				return errIncomplete
			}
			if c.peek() == ',' {
				c.advance()
				continue
			}
			if c.peek() == '}' {
				c.advance()
				return nil
			}
			return errIncomplete
		}
	case '[':
		c.advance()
		for {
			c.skipWS()
			if c.eof() {
				return errIncomplete
			}
			if c.peek() == ']' {
				c.advance()
				return nil
			}
			if err := c.skipValue(); err != nil {
				return err
			}
			c.skipWS()
			if c.eof() {
				return errIncomplete
			}
			if c.peek() == ',' {
				c.advance()
				continue
			}
			if c.peek() == ']' {
				c.advance()
				return nil
			}
			return errIncomplete
		}
	default:
		start := c.pos
		for !c.eof() {
			switch c.peek() {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				if c.pos == start {
					return errIncomplete
				}
				return nil
			default:
				c.advance()
			}
		}
		return errIncomplete
	}
}
