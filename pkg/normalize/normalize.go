// Package normalize turns document change events into batches of patch
// operations addressed by absolute path, and shared types into plain
// values.
package normalize

import (
	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/ydoc"
)

// Event translates one change event into one batch. Operation paths are
// the event path joined with the changed key or index, so they are
// relative to whatever the event path is relative to.
func Event(ev ydoc.Event) (patch.Batch, error) {
	prefix, err := toPath(ev.Path())
	if err != nil {
		return patch.Batch{}, err
	}
	b := patch.Batch{Prefix: prefix}

	switch e := ev.(type) {
	case *ydoc.MapEvent:
		b.Ops, err = mapOps(prefix, e.Keys)
	case *ydoc.ArrayEvent:
		b.Ops, err = seqOps(prefix, e.Delta, false)
	case *ydoc.TextEvent:
		b.Ops, err = seqOps(prefix, e.Delta, true)
	default:
		return patch.Batch{}, unrecognized(prefix, "event %T", ev)
	}
	if err != nil {
		return patch.Batch{}, err
	}
	return b, nil
}

// Events translates the events of one deep delivery. Each event stays its
// own batch, in delivery order.
func Events(evs []ydoc.Event) ([]patch.Batch, error) {
	out := make([]patch.Batch, 0, len(evs))
	for _, ev := range evs {
		b, err := Event(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func toPath(elems []any) (patch.Path, error) {
	p := make(patch.Path, 0, len(elems))
	for _, el := range elems {
		switch v := el.(type) {
		case string:
			p = append(p, patch.Key(v))
		case int:
			p = append(p, patch.Index(v))
		default:
			return nil, unrecognized(p, "path segment %T", el)
		}
	}
	return p, nil
}

func mapOps(prefix patch.Path, keys []ydoc.KeyChange) ([]patch.Op, error) {
	ops := make([]patch.Op, 0, len(keys))
	for _, kc := range keys {
		at := prefix.Append(patch.Key(kc.Key))
		switch kc.Action {
		case ydoc.ActionAdd:
			v, err := resolve(kc.New, at)
			if err != nil {
				return nil, err
			}
			ops = append(ops, patch.Insert{At: at, Value: v})
		case ydoc.ActionUpdate:
			oldV, err := resolve(kc.Old, at)
			if err != nil {
				return nil, err
			}
			newV, err := resolve(kc.New, at)
			if err != nil {
				return nil, err
			}
			ops = append(ops, patch.Replace{At: at, Old: oldV, New: newV})
		case ydoc.ActionDelete:
			ops = append(ops, patch.Delete{At: at})
		default:
			return nil, unrecognized(at, "map action %q", kc.Action)
		}
	}
	return ops, nil
}

func seqOps(prefix patch.Path, delta []ydoc.Delta, text bool) ([]patch.Op, error) {
	var ops []patch.Op
	cursor := 0
	for _, d := range delta {
		set := 0
		if d.Insert != nil {
			set++
		}
		if d.Retain != 0 {
			set++
		}
		if d.Delete != 0 {
			set++
		}
		if set != 1 || d.Retain < 0 || d.Delete < 0 {
			return nil, unrecognized(prefix.Append(patch.Index(cursor)), "delta %+v", d)
		}

		if d.Attributes != nil && (!text || d.Delete > 0) {
			return nil, unrecognized(prefix.Append(patch.Index(cursor)), "attributes on %+v", d)
		}

		switch {
		case d.Retain > 0 && d.Attributes != nil:
			for i := 0; i < d.Retain; i++ {
				ops = append(ops, patch.Replace{At: prefix.Append(patch.Index(cursor)), New: format(d.Attributes)})
				cursor++
			}
		case d.Retain > 0:
			cursor += d.Retain
		case d.Delete > 0:
			for i := 0; i < d.Delete; i++ {
				ops = append(ops, patch.Delete{At: prefix.Append(patch.Index(cursor))})
			}
		default:
			items, err := insertItems(prefix, cursor, d.Insert, d.Attributes, text)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				ops = append(ops, patch.Insert{At: prefix.Append(patch.Index(cursor)), Value: item})
				cursor++
			}
		}
	}
	return ops, nil
}

func insertItems(prefix patch.Path, cursor int, insert any, attrs map[string]any, text bool) ([]any, error) {
	at := prefix.Append(patch.Index(cursor))
	if text {
		var items []any
		if s, ok := insert.(string); ok {
			items = make([]any, 0, len(s))
			for _, r := range s {
				items = append(items, string(r))
			}
		} else {
			v, err := resolve(insert, at)
			if err != nil {
				return nil, err
			}
			items = []any{v}
		}
		if len(attrs) > 0 {
			for i, item := range items {
				items[i] = format(attrs).Apply(item)
			}
		}
		return items, nil
	}

	list, ok := insert.([]any)
	if !ok {
		return nil, unrecognized(at, "array insert %T", insert)
	}
	out := make([]any, len(list))
	for i, item := range list {
		v, err := resolve(item, prefix.Append(patch.Index(cursor+i)))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// textContent turns the insert runs of a whole text into its items.
func textContent(delta []ydoc.Delta, at patch.Path) (patch.Text, error) {
	out := patch.Text{}
	for _, d := range delta {
		if d.Insert == nil || d.Retain != 0 || d.Delete != 0 {
			return nil, unrecognized(at.Append(patch.Index(len(out))), "text content %+v", d)
		}
		items, err := insertItems(at, len(out), d.Insert, d.Attributes, true)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// format copies attributes into a patch.Format, resolving their values.
func format(attrs map[string]any) patch.Format {
	out := make(patch.Format, len(attrs))
	for k, v := range attrs {
		if r, err := resolve(v, patch.Root); err == nil {
			out[k] = r
		}
	}
	return out
}
