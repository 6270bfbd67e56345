package schema

import (
	"encoding/json"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/shinyes/yep_model/pkg/patch"
)

// Text is the model value of a TypeText field: one item per rune, plus
// embeds.
type Text = patch.Text

// Instance is an immutable, validated model value. Accessors return
// copies; nothing reachable from an Instance is shared with a Draft.
type Instance struct {
	model  *Model
	values map[string]any
}

func (i *Instance) Model() *Model { return i.model }

// Get returns a copy of the value of field name. Object fields come back
// as *Instance.
func (i *Instance) Get(name string) (any, bool) {
	v, ok := i.values[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Has reports whether field name is set.
func (i *Instance) Has(name string) bool {
	_, ok := i.values[name]
	return ok
}

func (i *Instance) String(name string) string {
	s, _ := i.values[name].(string)
	return s
}

func (i *Instance) Int(name string) int64 {
	n, _ := i.values[name].(int64)
	return n
}

func (i *Instance) Float(name string) float64 {
	f, _ := i.values[name].(float64)
	return f
}

func (i *Instance) Bool(name string) bool {
	b, _ := i.values[name].(bool)
	return b
}

func (i *Instance) Bytes(name string) []byte {
	b, _ := i.values[name].([]byte)
	return append([]byte(nil), b...)
}

// Object returns the nested instance of an object field, or nil.
func (i *Instance) Object(name string) *Instance {
	o, _ := i.values[name].(*Instance)
	return o
}

func (i *Instance) List(name string) []any {
	l, _ := i.values[name].([]any)
	if l == nil {
		return nil
	}
	return cloneValue(l).([]any)
}

func (i *Instance) Text(name string) Text {
	t, _ := i.values[name].(Text)
	if t == nil {
		return nil
	}
	return cloneValue(t).(Text)
}

// At returns a copy of the value at path.
func (i *Instance) At(path patch.Path) (any, bool) {
	var cur any = i
	for _, seg := range path {
		switch c := cur.(type) {
		case *Instance:
			if seg.IsIndex() {
				return nil, false
			}
			v, ok := c.values[seg.Key()]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]any:
			if seg.IsIndex() {
				return nil, false
			}
			v, ok := c[seg.Key()]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= len(c) {
				return nil, false
			}
			cur = c[seg.Index()]
		case Text:
			if !seg.IsIndex() || seg.Index() < 0 || seg.Index() >= len(c) {
				return nil, false
			}
			cur = c[seg.Index()]
		default:
			return nil, false
		}
	}
	return cloneValue(cur), true
}

// Map exports the instance as plain data: nested objects as maps and
// texts as strings.
func (i *Instance) Map() map[string]any {
	if i == nil {
		return nil
	}
	out := make(map[string]any, len(i.values))
	for k, v := range i.values {
		out[k] = export(v)
	}
	return out
}

func export(v any) any {
	switch x := v.(type) {
	case *Instance:
		return x.Map()
	case Text:
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = export(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = export(item)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

func (i *Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Map())
}

// Decode fills out, a pointer to an application struct, from the
// exported instance. Struct fields are matched by their json tag.
func (i *Instance) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(i.Map())
}

// Equal reports whether two instances hold the same model and values.
func (i *Instance) Equal(o *Instance) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.model == o.model && reflect.DeepEqual(i.values, o.values)
}

// Draft returns a mutable deep copy.
func (i *Instance) Draft() *Draft {
	return &Draft{root: toDraft(i).(*dobj)}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case Text:
		out := make(Text, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case patch.Styled:
		return patch.Styled{Value: cloneValue(x.Value), Attributes: cloneValue(x.Attributes).(map[string]any)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte{}, x...)
	}
	// *Instance is immutable and shared as-is.
	return v
}
