package ydoc

import "reflect"

// Event describes the net change one transaction made to one shared type.
// Concrete types are *MapEvent, *ArrayEvent and *TextEvent.
type Event interface {
	// Target is the shared type that changed.
	Target() Shared
	// Path locates Target relative to the observed type: string keys for
	// map slots, int indices for sequence positions, both taken after the
	// transaction committed.
	Path() []any
	// Version is the document version the transaction committed as.
	Version() uint64

	withPath(path []any) Event
}

// Action is what happened to a map key.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// KeyChange is the change of one map key. Old and New hold scalars, or
// for nested types their content as of the commit: map[string]any, []any
// or TextContent.
type KeyChange struct {
	Key    string
	Action Action
	Old    any
	New    any
}

// Delta is one run of a sequence change. Exactly one of Insert ([]any for
// arrays; a string or a single embed for texts), Retain or Delete is set.
// On texts, Attributes is the formatting of inserted items, or on a retain
// the attributes the transaction changed, nil values marking removals.
type Delta struct {
	Insert     any
	Retain     int
	Delete     int
	Attributes map[string]any
}

// TextContent is a nested text captured as insert runs.
type TextContent []Delta

type eventBase struct {
	path    []any
	version uint64
}

func (e eventBase) Path() []any { return append([]any(nil), e.path...) }

func (e eventBase) Version() uint64 { return e.version }

// MapEvent lists changed keys in the order the transaction first touched them.
type MapEvent struct {
	eventBase
	target *Map
	Keys   []KeyChange
}

func (e *MapEvent) Target() Shared { return e.target }

func (e *MapEvent) withPath(path []any) Event {
	cp := *e
	cp.path = path
	return &cp
}

// ArrayEvent is a retain/insert/delete delta over the array.
type ArrayEvent struct {
	eventBase
	target *Array
	Delta  []Delta
}

func (e *ArrayEvent) Target() Shared { return e.target }

func (e *ArrayEvent) withPath(path []any) Event {
	cp := *e
	cp.path = path
	return &cp
}

// TextEvent is a retain/insert/delete delta over the text.
type TextEvent struct {
	eventBase
	target *Text
	Delta  []Delta
}

func (e *TextEvent) Target() Shared { return e.target }

func (e *TextEvent) withPath(path []any) Event {
	cp := *e
	cp.path = path
	return &cp
}

func (tx *Txn) mapEvent(n *node, path []any) Event {
	before := tx.mapBefore[n]
	var keys []KeyChange
	for _, key := range tx.mapOrder[n] {
		old := before[key]
		cur, present := n.liveEntry(key)
		switch {
		case old == nil && present:
			keys = append(keys, KeyChange{Key: key, Action: ActionAdd, New: content(cur.value)})
		case old != nil && !present:
			keys = append(keys, KeyChange{Key: key, Action: ActionDelete, Old: content(old.value)})
		case old != nil && present && old != cur:
			keys = append(keys, KeyChange{Key: key, Action: ActionUpdate, Old: content(old.value), New: content(cur.value)})
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &MapEvent{eventBase: eventBase{path: path, version: tx.version}, target: n.handle.(*Map), Keys: keys}
}

// content copies a stored value for an event. Nested types are read while
// the document lock is held, so later transactions cannot leak into an
// event that is delivered after them.
func content(v any) any {
	child, ok := v.(*node)
	if !ok {
		return clonePlain(v)
	}
	switch child.kind {
	case KindMap:
		out := make(map[string]any, len(child.entries))
		for k, e := range child.entries {
			if !e.deleted {
				out[k] = content(e.value)
			}
		}
		return out
	case KindArray:
		vis := child.visible()
		out := make([]any, len(vis))
		for i, e := range vis {
			out[i] = content(e.value)
		}
		return out
	}
	return TextContent(textDelta(child))
}

type seqItem struct {
	value any
	attrs map[string]any
}

// seqDelta walks every vertex, tombstones included, comparing liveness
// and formatting before and after the transaction.
func (tx *Txn) seqDelta(n *node, text bool) []Delta {
	before := tx.seqBefore[n]
	var out []Delta
	var retain, del int
	var retainAttrs map[string]any
	var ins []seqItem

	flushIns := func() {
		if len(ins) == 0 {
			return
		}
		if text {
			out = append(out, textInserts(ins)...)
		} else {
			values := make([]any, len(ins))
			for i, item := range ins {
				values[i] = item.value
			}
			out = append(out, Delta{Insert: values})
		}
		ins = nil
	}
	flush := func() {
		if retain > 0 {
			out = append(out, Delta{Retain: retain, Attributes: retainAttrs})
			retain, retainAttrs = 0, nil
		}
		if del > 0 {
			out = append(out, Delta{Delete: del})
			del = 0
		}
		flushIns()
	}

	for _, e := range n.elems {
		was, is := before[e.id], !e.deleted
		switch {
		case was && is:
			var changed map[string]any
			if text {
				changed = tx.formatChange(n, e)
			}
			if del > 0 || len(ins) > 0 || (retain > 0 && !reflect.DeepEqual(retainAttrs, changed)) {
				flush()
			}
			retain++
			retainAttrs = changed
		case was && !is:
			if retain > 0 || len(ins) > 0 {
				flush()
			}
			del++
		case !was && is:
			if retain > 0 || del > 0 {
				flush()
			}
			item := seqItem{value: content(e.value)}
			if text {
				item.attrs = e.attributes()
			}
			ins = append(ins, item)
		}
	}
	// A trailing plain retain carries no information.
	if retainAttrs == nil {
		retain = 0
	}
	flush()
	return out
}

// formatChange lists the attributes of e that tx changed, mapping removed
// ones to nil. It is nil when nothing changed.
func (tx *Txn) formatChange(n *node, e *elem) map[string]any {
	before, ok := tx.attrBefore[n][e.id]
	if !ok {
		return nil
	}
	after := e.attributes()
	var out map[string]any
	note := func(k string, v any) {
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	for k, v := range after {
		if old, had := before[k]; !had || !reflect.DeepEqual(old, v) {
			note(k, v)
		}
	}
	for k := range before {
		if _, kept := after[k]; !kept {
			note(k, nil)
		}
	}
	return out
}

// textDelta renders the live content of a text node as insert runs.
func textDelta(n *node) []Delta {
	vis := n.visible()
	items := make([]seqItem, len(vis))
	for i, e := range vis {
		items[i] = seqItem{value: clonePlain(e.value), attrs: e.attributes()}
	}
	return textInserts(items)
}

// textInserts merges consecutive characters with equal attributes into one
// string insert and keeps each embed as its own insert.
func textInserts(items []seqItem) []Delta {
	var out []Delta
	var run []byte
	var runAttrs map[string]any
	flush := func() {
		if len(run) > 0 {
			out = append(out, Delta{Insert: string(run), Attributes: runAttrs})
			run, runAttrs = nil, nil
		}
	}
	for _, item := range items {
		if s, ok := item.value.(string); ok {
			if len(run) > 0 && !reflect.DeepEqual(runAttrs, item.attrs) {
				flush()
			}
			run = append(run, s...)
			runAttrs = item.attrs
			continue
		}
		flush()
		out = append(out, Delta{Insert: item.value, Attributes: item.attrs})
	}
	flush()
	return out
}

func (tx *Txn) arrayEvent(n *node, path []any) Event {
	delta := tx.seqDelta(n, false)
	if len(delta) == 0 {
		return nil
	}
	return &ArrayEvent{eventBase: eventBase{path: path, version: tx.version}, target: n.handle.(*Array), Delta: delta}
}

func (tx *Txn) textEvent(n *node, path []any) Event {
	delta := tx.seqDelta(n, true)
	if len(delta) == 0 {
		return nil
	}
	return &TextEvent{eventBase: eventBase{path: path, version: tx.version}, target: n.handle.(*Text), Delta: delta}
}
