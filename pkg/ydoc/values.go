package ydoc

import (
	"math"
	"strconv"
)

// normalizeValue validates a value written into a shared type and converts
// it to the canonical form replicas agree on: signed integers become int64,
// unsigned integers int64 when they fit (uint64 otherwise), floats float64,
// and byte slices, slices and maps are copied.
func normalizeValue(v any, where string) (any, error) {
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
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := normalizeValue(item, where+"/"+strconv.Itoa(i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			n, err := normalizeValue(item, where+"/"+k)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		// yaml and loosely decoded msgpack produce interface-keyed maps.
		out := make(map[string]any, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, &ValueError{Value: k, Where: where}
			}
			n, err := normalizeValue(item, where+"/"+ks)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	}
	return nil, &ValueError{Value: v, Where: where}
}

func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// clonePlain copies the slices and maps of a normalized value.
func clonePlain(v any) any {
	switch x := v.(type) {
	case []byte:
		return append([]byte{}, x...)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = clonePlain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = clonePlain(item)
		}
		return out
	}
	return v
}

// normalizeAttrs validates formatting attributes. A nil value removes the
// attribute.
func normalizeAttrs(attrs map[string]any, where string) (map[string]any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		n, err := normalizeValue(v, where+"@"+k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}
