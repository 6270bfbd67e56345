// Package patch holds the normalized change stream exchanged between the
// normalizer and the model updater: addresses (Path) and the closed set of
// operations applied at them.
package patch

import (
	"strconv"
	"strings"
)

// Segment is one step of a Path: a map key or a sequence index.
type Segment struct {
	key   string
	index int
	isIdx bool
}

// Key returns a map-key segment.
func Key(k string) Segment { return Segment{key: k} }

// Index returns a sequence-index segment.
func Index(i int) Segment { return Segment{index: i, isIdx: true} }

// IsIndex reports whether the segment addresses a sequence element.
func (s Segment) IsIndex() bool { return s.isIdx }

// Key returns the map key; empty for index segments.
func (s Segment) Key() string { return s.key }

// Index returns the sequence index; 0 for key segments.
func (s Segment) Index() int { return s.index }

func (s Segment) String() string {
	if s.isIdx {
		return strconv.Itoa(s.index)
	}
	return s.key
}

func (s Segment) compare(o Segment) int {
	switch {
	case s.isIdx != o.isIdx:
		if !s.isIdx {
			return -1
		}
		return 1
	case s.isIdx:
		return compareInt(s.index, o.index)
	default:
		return strings.Compare(s.key, o.key)
	}
}

// Path addresses a location inside a nested document, and the matching
// location inside the model tree. The empty Path is the root.
type Path []Segment

// Root is the empty path.
var Root = Path(nil)

// NewPath builds a path from string keys, int indices and Segments.
// Any other element type panics.
func NewPath(elems ...any) Path {
	p := make(Path, 0, len(elems))
	for _, e := range elems {
		switch v := e.(type) {
		case string:
			p = append(p, Key(v))
		case int:
			p = append(p, Index(v))
		case Segment:
			p = append(p, v)
		default:
			panic("patch: path element must be string, int or Segment")
		}
	}
	return p
}

// Append returns a new path with segs added; p is not modified.
func (p Path) Append(segs ...Segment) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Concat returns p followed by q.
func (p Path) Concat(q Path) Path {
	return p.Append(q...)
}

// IsRoot reports whether p is the document root.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Parent returns p without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final segment; ok is false for the root.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// Equal reports whether p and q address the same location.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p is a strict prefix of q.
func (p Path) IsPrefixOf(q Path) bool {
	if len(p) >= len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Compare orders paths segment by segment; a prefix sorts first.
func (p Path) Compare(q Path) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if c := p[i].compare(q[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(p), len(q))
}

// String renders the path JSON-pointer style, e.g. "/tags/0". The root is "/".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		k := s.String()
		if !s.isIdx {
			k = strings.ReplaceAll(strings.ReplaceAll(k, "~", "~0"), "/", "~1")
		}
		b.WriteString(k)
	}
	return b.String()
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
