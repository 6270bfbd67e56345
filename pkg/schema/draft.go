package schema

import (
	"errors"
	"fmt"

	"github.com/shinyes/yep_model/pkg/patch"
)

var (
	errNoParent    = errors.New("parent location does not exist")
	errNotSequence = errors.New("location is not a sequence")
	errBadIndex    = errors.New("sequence index out of range")
)

// Draft is a mutable working copy of an Instance. Paths are relative to
// the instance root. A Draft is single-use: after Commit it must not be
// edited again.
type Draft struct {
	root *dobj
}

// dobj is an object under edit.
type dobj struct {
	model  *Model
	values map[string]any
}

// dseq is a list or text under edit.
type dseq struct {
	text  bool
	items []any
}

func toDraft(v any) any {
	switch x := v.(type) {
	case *Instance:
		o := &dobj{model: x.model, values: make(map[string]any, len(x.values))}
		for k, item := range x.values {
			o.values[k] = toDraft(item)
		}
		return o
	case Text:
		s := &dseq{text: true, items: make([]any, len(x))}
		for i, item := range x {
			s.items[i] = toDraft(item)
		}
		return s
	case []any:
		s := &dseq{items: make([]any, len(x))}
		for i, item := range x {
			s.items[i] = toDraft(item)
		}
		return s
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toDraft(item)
		}
		return out
	case []byte:
		return append([]byte{}, x...)
	}
	return v
}

func fromDraft(v any) any {
	switch x := v.(type) {
	case *dobj:
		inst := &Instance{model: x.model, values: make(map[string]any, len(x.values))}
		for k, item := range x.values {
			inst.values[k] = fromDraft(item)
		}
		return inst
	case *dseq:
		if x.text {
			out := make(Text, len(x.items))
			for i, item := range x.items {
				out[i] = fromDraft(item)
			}
			return out
		}
		out := make([]any, len(x.items))
		for i, item := range x.items {
			out[i] = fromDraft(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = fromDraft(item)
		}
		return out
	}
	return v
}

// Commit freezes the draft into a new Instance.
func (d *Draft) Commit() *Instance {
	return fromDraft(d.root).(*Instance)
}

// Value returns the committed form of the value at path.
func (d *Draft) Value(path patch.Path) (any, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return nil, false
	}
	return fromDraft(v), true
}

func (d *Draft) lookup(path patch.Path) (any, bool) {
	var cur any = d.root
	for _, seg := range path {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(container any, seg patch.Segment) (any, bool) {
	switch c := container.(type) {
	case *dobj:
		if seg.IsIndex() {
			return nil, false
		}
		v, ok := c.values[seg.Key()]
		return v, ok
	case map[string]any:
		if seg.IsIndex() {
			return nil, false
		}
		v, ok := c[seg.Key()]
		return v, ok
	case *dseq:
		i := seg.Index()
		if !seg.IsIndex() || i < 0 || i >= len(c.items) {
			return nil, false
		}
		return c.items[i], true
	}
	return nil, false
}

func (d *Draft) parent(path patch.Path) (any, patch.Segment, error) {
	last, ok := path.Last()
	if !ok {
		return nil, patch.Segment{}, fmt.Errorf("%w: root", errNoParent)
	}
	container, ok := d.lookup(path.Parent())
	if !ok {
		return nil, last, fmt.Errorf("%w: %s", errNoParent, path.Parent())
	}
	return container, last, nil
}

// Set writes value at path: a key of an object or map, or an existing
// index of a sequence. Writing nil to a key clears it.
func (d *Draft) Set(path patch.Path, value any) error {
	container, last, err := d.parent(path)
	if err != nil {
		return err
	}
	value = toDraft(value)
	switch c := container.(type) {
	case *dobj:
		if last.IsIndex() {
			return fmt.Errorf("%w: index into object at %s", errNoParent, path)
		}
		if value == nil {
			delete(c.values, last.Key())
		} else {
			c.values[last.Key()] = value
		}
	case map[string]any:
		if last.IsIndex() {
			return fmt.Errorf("%w: index into map at %s", errNoParent, path)
		}
		c[last.Key()] = value
	case *dseq:
		i := last.Index()
		if !last.IsIndex() || i < 0 || i >= len(c.items) {
			return fmt.Errorf("%w: %s", errBadIndex, path)
		}
		c.items[i] = value
	default:
		return fmt.Errorf("%w: %s", errNoParent, path)
	}
	return nil
}

// InsertAt inserts value at an index of a sequence, shifting later items.
// For object and map keys it behaves like Set.
func (d *Draft) InsertAt(path patch.Path, value any) error {
	container, last, err := d.parent(path)
	if err != nil {
		return err
	}
	s, ok := container.(*dseq)
	if !ok {
		return d.Set(path, value)
	}
	i := last.Index()
	if !last.IsIndex() || i < 0 || i > len(s.items) {
		return fmt.Errorf("%w: %s", errBadIndex, path)
	}
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = toDraft(value)
	return nil
}

// Remove deletes a key or a sequence item. Removing an absent key is a
// no-op.
func (d *Draft) Remove(path patch.Path) error {
	container, last, err := d.parent(path)
	if err != nil {
		return err
	}
	switch c := container.(type) {
	case *dobj:
		delete(c.values, last.Key())
	case map[string]any:
		delete(c, last.Key())
	case *dseq:
		i := last.Index()
		if !last.IsIndex() || i < 0 || i >= len(c.items) {
			return fmt.Errorf("%w: %s", errBadIndex, path)
		}
		c.items = append(c.items[:i], c.items[i+1:]...)
	default:
		return fmt.Errorf("%w: %s", errNoParent, path)
	}
	return nil
}

// Move repositions one item inside a sequence. to is the item's index
// after the move.
func (d *Draft) Move(from, to patch.Path) error {
	if !from.Parent().Equal(to.Parent()) {
		return fmt.Errorf("%w: move across sequences %s -> %s", errNotSequence, from, to)
	}
	container, last, err := d.parent(from)
	if err != nil {
		return err
	}
	s, ok := container.(*dseq)
	if !ok {
		return fmt.Errorf("%w: %s", errNotSequence, from.Parent())
	}
	dst, _ := to.Last()
	i, j := last.Index(), dst.Index()
	if !last.IsIndex() || !dst.IsIndex() || i < 0 || i >= len(s.items) || j < 0 || j >= len(s.items) {
		return fmt.Errorf("%w: move %s -> %s", errBadIndex, from, to)
	}
	item := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.items = append(s.items, nil)
	copy(s.items[j+1:], s.items[j:])
	s.items[j] = item
	return nil
}
