package normalize

import (
	"math"

	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/ydoc"
)

// Snapshot returns the current value of s as plain data: maps become
// map[string]any, arrays []any and texts patch.Text.
func Snapshot(s ydoc.Shared) (any, error) {
	return resolve(s, patch.Root)
}

// Value resolves one value read from a shared type.
func Value(v any) (any, error) {
	return resolve(v, patch.Root)
}

func resolve(v any, at patch.Path) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return fromUint(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return fromUint(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return append([]byte{}, x...), nil

	case *ydoc.Map:
		out := make(map[string]any, x.Len())
		for _, k := range x.Keys() {
			item, _ := x.Get(k)
			r, err := resolve(item, at.Append(patch.Key(k)))
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case *ydoc.Array:
		items := x.Values()
		out := make([]any, len(items))
		for i, item := range items {
			r, err := resolve(item, at.Append(patch.Index(i)))
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case *ydoc.Text:
		return textContent(x.Delta(), at)
	case ydoc.TextContent:
		return textContent(x, at)

	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			r, err := resolve(item, at.Append(patch.Key(k)))
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			r, err := resolve(item, at.Append(patch.Index(i)))
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return nil, unrecognized(at, "value %T", v)
}

func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}
