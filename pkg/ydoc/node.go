package ydoc

import (
	"fmt"

	"github.com/shinyes/yep_model/pkg/hlc"
)

// Kind identifies the shape of a shared type.
type Kind uint8

const (
	KindMap Kind = iota + 1
	KindArray
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// mapEntry is one LWW slot of a map. A delete leaves a tombstone entry so
// that older concurrent writes stay ordered behind it.
type mapEntry struct {
	opID    string
	ts      hlc.Timestamp
	value   any // scalar or *node
	deleted bool
}

// elem is one RGA vertex of an array or text. Deleted vertices stay in
// place as tombstones so that later inserts can still anchor on them.
type elem struct {
	id      string
	origin  string
	ts      hlc.Timestamp
	value   any // scalar or *node
	deleted bool
	attrs   map[string]*attrEntry
}

// attrEntry is one LWW formatting attribute of a text vertex. A nil value
// removes the attribute and keeps its stamp.
type attrEntry struct {
	opID  string
	ts    hlc.Timestamp
	value any
}

// setAttr writes one attribute if (ts, opID) is newer than the current one.
func (e *elem) setAttr(key string, value any, ts hlc.Timestamp, opID string) {
	if cur := e.attrs[key]; cur != nil && (ts < cur.ts || (ts == cur.ts && opID <= cur.opID)) {
		return
	}
	if e.attrs == nil {
		e.attrs = make(map[string]*attrEntry)
	}
	e.attrs[key] = &attrEntry{opID: opID, ts: ts, value: value}
}

// attributes returns a copy of the set attributes, or nil.
func (e *elem) attributes() map[string]any {
	var out map[string]any
	for k, a := range e.attrs {
		if a.value == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(e.attrs))
		}
		out[k] = clonePlain(a.value)
	}
	return out
}

// after reports whether e sorts before a sibling inserted with (ts, id):
// newer inserts at the same origin go first.
func (e *elem) after(ts hlc.Timestamp, id string) bool {
	if e.ts != ts {
		return e.ts > ts
	}
	return e.id > id
}

type node struct {
	doc  *Doc
	id   string
	kind Kind
	root string // root name; empty for nested types

	parent     *node
	parentKey  string // slot in a map parent
	parentElem string // vertex in a sequence parent

	entries map[string]*mapEntry
	elems   []*elem
	byID    map[string]*elem

	observers     []*Subscription
	deepObservers []*Subscription

	handle Shared
}

func newNode(doc *Doc, id string, kind Kind) *node {
	n := &node{doc: doc, id: id, kind: kind}
	switch kind {
	case KindMap:
		n.entries = make(map[string]*mapEntry)
		n.handle = &Map{sharedBase{n}}
	case KindArray:
		n.byID = make(map[string]*elem)
		n.handle = &Array{sharedBase{n}}
	case KindText:
		n.byID = make(map[string]*elem)
		n.handle = &Text{sharedBase{n}}
	}
	return n
}

func (n *node) liveEntry(key string) (*mapEntry, bool) {
	e, ok := n.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e, true
}

func (n *node) visible() []*elem {
	out := make([]*elem, 0, len(n.elems))
	for _, e := range n.elems {
		if !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

func (n *node) visibleAt(index int) (*elem, bool) {
	i := 0
	for _, e := range n.elems {
		if e.deleted {
			continue
		}
		if i == index {
			return e, true
		}
		i++
	}
	return nil, false
}

func (n *node) visibleLen() int {
	count := 0
	for _, e := range n.elems {
		if !e.deleted {
			count++
		}
	}
	return count
}

// visibleIndex returns the position of vertex id among live vertices.
func (n *node) visibleIndex(id string) (int, bool) {
	i := 0
	for _, e := range n.elems {
		if e.id == id {
			return i, !e.deleted
		}
		if !e.deleted {
			i++
		}
	}
	return 0, false
}

// integrateElem places v by RGA order: right after its origin, skipping
// any run of vertices that sort ahead of it.
func (n *node) integrateElem(v *elem) {
	pos := 0
	if v.origin != "" {
		for i, e := range n.elems {
			if e.id == v.origin {
				pos = i + 1
				break
			}
		}
	}
	for pos < len(n.elems) && n.elems[pos].after(v.ts, v.id) {
		pos++
	}
	n.elems = append(n.elems, nil)
	copy(n.elems[pos+1:], n.elems[pos:])
	n.elems[pos] = v
	n.byID[v.id] = v
}

// path returns the location of n relative to the document root, or false
// when n has been detached from the tree.
func (n *node) path() ([]any, bool) {
	var rev []any
	cur := n
	for cur.parent != nil {
		p := cur.parent
		switch p.kind {
		case KindMap:
			e, ok := p.liveEntry(cur.parentKey)
			if !ok || e.value != cur {
				return nil, false
			}
			rev = append(rev, cur.parentKey)
		default:
			idx, ok := p.visibleIndex(cur.parentElem)
			if !ok {
				return nil, false
			}
			rev = append(rev, idx)
		}
		cur = p
	}
	if cur.root == "" {
		return nil, false
	}
	out := make([]any, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out, true
}

func (n *node) reachable() bool {
	_, ok := n.path()
	return ok
}

func (n *node) depth() int {
	d := 0
	for cur := n.parent; cur != nil; cur = cur.parent {
		d++
	}
	return d
}

// exported converts a stored value to what readers see: scalars as-is,
// nested nodes as their Shared handle.
func exported(v any) any {
	if child, ok := v.(*node); ok {
		return child.handle
	}
	return v
}
