package ydoc

import (
	"sort"
	"strings"
)

// Shared is a replicated type living in a Doc: *Map, *Array or *Text.
type Shared interface {
	// ID is stable across replicas.
	ID() string
	Kind() Kind
	Doc() *Doc
	// Alive is false once the document is destroyed or the type has been
	// removed from the document tree.
	Alive() bool
	// Observe delivers one event per transaction that changed this type
	// itself.
	Observe(fn func(Event)) *Subscription
	// ObserveDeep delivers, per transaction, the events of this type and
	// every type nested below it, parents first, with paths relative to
	// this type.
	ObserveDeep(fn func([]Event)) *Subscription
}

type sharedBase struct {
	n *node
}

func (s sharedBase) ID() string { return s.n.id }

func (s sharedBase) Kind() Kind { return s.n.kind }

func (s sharedBase) Doc() *Doc { return s.n.doc }

func (s sharedBase) Alive() bool { return !s.n.doc.destroyed.Load() && s.n.reachable() }

func (s sharedBase) String() string { return s.n.kind.String() + "(" + s.n.id + ")" }

func (s sharedBase) Observe(fn func(Event)) *Subscription { return s.n.observe(fn) }

func (s sharedBase) ObserveDeep(fn func([]Event)) *Subscription { return s.n.observeDeep(fn) }

// Map is a replicated string-keyed map.
type Map struct{ sharedBase }

// Array is a replicated list.
type Array struct{ sharedBase }

// Text is a replicated sequence of characters and embedded values.
type Text struct{ sharedBase }

// Set writes a scalar, list or plain-map value under key.
func (m *Map) Set(tx *Txn, key string, value any) error {
	if err := tx.check(m.n); err != nil {
		return err
	}
	v, err := normalizeValue(value, key)
	if err != nil {
		return err
	}
	_, err = tx.emit(wireOp{Kind: opMapSet, Target: m.n.id, Key: key, Value: v})
	return err
}

func (m *Map) setChild(tx *Txn, key string, kind Kind) (Shared, error) {
	if err := tx.check(m.n); err != nil {
		return nil, err
	}
	v, err := tx.emit(wireOp{Kind: opMapSet, Target: m.n.id, Key: key, Child: &childRef{ID: newID(), Kind: kind}})
	if err != nil {
		return nil, err
	}
	return exported(v).(Shared), nil
}

// SetMap stores a new empty map under key and returns it.
func (m *Map) SetMap(tx *Txn, key string) (*Map, error) {
	s, err := m.setChild(tx, key, KindMap)
	if err != nil {
		return nil, err
	}
	return s.(*Map), nil
}

// SetArray stores a new empty array under key and returns it.
func (m *Map) SetArray(tx *Txn, key string) (*Array, error) {
	s, err := m.setChild(tx, key, KindArray)
	if err != nil {
		return nil, err
	}
	return s.(*Array), nil
}

// SetText stores a new empty text under key and returns it.
func (m *Map) SetText(tx *Txn, key string) (*Text, error) {
	s, err := m.setChild(tx, key, KindText)
	if err != nil {
		return nil, err
	}
	return s.(*Text), nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *Map) Delete(tx *Txn, key string) error {
	if err := tx.check(m.n); err != nil {
		return err
	}
	if _, ok := m.n.liveEntry(key); !ok {
		return nil
	}
	_, err := tx.emit(wireOp{Kind: opMapDelete, Target: m.n.id, Key: key})
	return err
}

// Get returns the value under key; nested types come back as Shared.
func (m *Map) Get(key string) (any, bool) {
	e, ok := m.n.liveEntry(key)
	if !ok {
		return nil, false
	}
	return exported(e.value), true
}

func (m *Map) Has(key string) bool {
	_, ok := m.n.liveEntry(key)
	return ok
}

// Keys returns the live keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.n.entries))
	for k, e := range m.n.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) Len() int {
	count := 0
	for _, e := range m.n.entries {
		if !e.deleted {
			count++
		}
	}
	return count
}

// insertRun inserts one vertex per op at the visible index, chaining each
// vertex's origin to the previous one.
func insertRun(tx *Txn, n *node, index int, ops []wireOp) ([]any, error) {
	if err := tx.check(n); err != nil {
		return nil, err
	}
	if length := n.visibleLen(); index < 0 || index > length {
		return nil, rangeError(index, length)
	}
	origin := ""
	if index > 0 {
		prev, _ := n.visibleAt(index - 1)
		origin = prev.id
	}
	out := make([]any, 0, len(ops))
	for _, op := range ops {
		op.ID = newID()
		op.Kind = opSeqInsert
		op.Target = n.id
		op.Origin = origin
		v, err := tx.emit(op)
		if err != nil {
			return out, err
		}
		out = append(out, v)
		origin = op.ID
	}
	return out, nil
}

func deleteRun(tx *Txn, n *node, index, count int) error {
	if err := tx.check(n); err != nil {
		return err
	}
	length := n.visibleLen()
	if index < 0 || count < 0 || index+count > length {
		return rangeError(index+count, length)
	}
	victims := n.visible()[index : index+count]
	for _, e := range victims {
		if _, err := tx.emit(wireOp{Kind: opSeqDelete, Target: n.id, Elem: e.id}); err != nil {
			return err
		}
	}
	return nil
}

// Insert places values at index, in order.
func (a *Array) Insert(tx *Txn, index int, values ...any) error {
	ops := make([]wireOp, len(values))
	for i, value := range values {
		v, err := normalizeValue(value, "")
		if err != nil {
			return err
		}
		ops[i] = wireOp{Value: v}
	}
	_, err := insertRun(tx, a.n, index, ops)
	return err
}

// Push appends values.
func (a *Array) Push(tx *Txn, values ...any) error {
	return a.Insert(tx, a.n.visibleLen(), values...)
}

func (a *Array) insertChild(tx *Txn, index int, kind Kind) (Shared, error) {
	out, err := insertRun(tx, a.n, index, []wireOp{{Child: &childRef{ID: newID(), Kind: kind}}})
	if err != nil {
		return nil, err
	}
	return exported(out[0]).(Shared), nil
}

// InsertMap inserts a new empty map at index and returns it.
func (a *Array) InsertMap(tx *Txn, index int) (*Map, error) {
	s, err := a.insertChild(tx, index, KindMap)
	if err != nil {
		return nil, err
	}
	return s.(*Map), nil
}

// InsertArray inserts a new empty array at index and returns it.
func (a *Array) InsertArray(tx *Txn, index int) (*Array, error) {
	s, err := a.insertChild(tx, index, KindArray)
	if err != nil {
		return nil, err
	}
	return s.(*Array), nil
}

// InsertText inserts a new empty text at index and returns it.
func (a *Array) InsertText(tx *Txn, index int) (*Text, error) {
	s, err := a.insertChild(tx, index, KindText)
	if err != nil {
		return nil, err
	}
	return s.(*Text), nil
}

// Delete removes count items starting at index.
func (a *Array) Delete(tx *Txn, index, count int) error {
	return deleteRun(tx, a.n, index, count)
}

func (a *Array) Get(index int) (any, bool) {
	e, ok := a.n.visibleAt(index)
	if !ok {
		return nil, false
	}
	return exported(e.value), true
}

func (a *Array) Len() int { return a.n.visibleLen() }

// Values returns the live items; nested types come back as Shared.
func (a *Array) Values() []any {
	vis := a.n.visible()
	out := make([]any, len(vis))
	for i, e := range vis {
		out[i] = exported(e.value)
	}
	return out
}

// Insert places s at index, one item per rune.
func (t *Text) Insert(tx *Txn, index int, s string) error {
	return t.InsertWithAttributes(tx, index, s, nil)
}

// InsertWithAttributes inserts s with the given formatting attributes on
// every inserted character.
func (t *Text) InsertWithAttributes(tx *Txn, index int, s string, attrs map[string]any) error {
	a, err := normalizeAttrs(attrs, "text")
	if err != nil {
		return err
	}
	ops := make([]wireOp, 0, len(s))
	for _, r := range s {
		ops = append(ops, wireOp{Value: string(r), Attrs: a})
	}
	_, err = insertRun(tx, t.n, index, ops)
	return err
}

// InsertEmbed places a single non-character item at index. attrs may be
// nil.
func (t *Text) InsertEmbed(tx *Txn, index int, value any, attrs map[string]any) error {
	v, err := normalizeValue(value, "")
	if err != nil {
		return err
	}
	if _, isString := v.(string); isString {
		return &ValueError{Value: value, Where: "text embed"}
	}
	a, err := normalizeAttrs(attrs, "text embed")
	if err != nil {
		return err
	}
	_, err = insertRun(tx, t.n, index, []wireOp{{Value: v, Attrs: a}})
	return err
}

// Format sets attrs on length items starting at index. A nil attribute
// value removes the attribute.
func (t *Text) Format(tx *Txn, index, length int, attrs map[string]any) error {
	if err := tx.check(t.n); err != nil {
		return err
	}
	size := t.n.visibleLen()
	if index < 0 || length < 0 || index+length > size {
		return rangeError(index+length, size)
	}
	a, err := normalizeAttrs(attrs, "text format")
	if err != nil || len(a) == 0 {
		return err
	}
	for _, e := range t.n.visible()[index : index+length] {
		if _, err := tx.emit(wireOp{Kind: opSeqFormat, Target: t.n.id, Elem: e.id, Attrs: a}); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes count items starting at index.
func (t *Text) Delete(tx *Txn, index, count int) error {
	return deleteRun(tx, t.n, index, count)
}

// String joins the character items, skipping embeds.
func (t *Text) String() string {
	var b strings.Builder
	for _, e := range t.n.elems {
		if s, ok := e.value.(string); ok && !e.deleted {
			b.WriteString(s)
		}
	}
	return b.String()
}

// Items returns every live item: one-rune strings and embeds.
func (t *Text) Items() []any {
	vis := t.n.visible()
	out := make([]any, len(vis))
	for i, e := range vis {
		out[i] = e.value
	}
	return out
}

// Attributes returns the formatting of the item at index, or nil.
func (t *Text) Attributes(index int) map[string]any {
	e, ok := t.n.visibleAt(index)
	if !ok {
		return nil
	}
	return e.attributes()
}

// Delta returns the content as insert runs: characters sharing the same
// attributes are joined, embeds stand alone.
func (t *Text) Delta() []Delta {
	return textDelta(t.n)
}

// Len counts items, embeds included.
func (t *Text) Len() int { return t.n.visibleLen() }
