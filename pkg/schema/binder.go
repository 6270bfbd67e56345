package schema

import (
	"bytes"
	"fmt"
	"math"

	"github.com/shinyes/yep_model/pkg/patch"
)

// Options are the per-binding schema policies.
type Options struct {
	// StrictUnknownFields turns document keys the model does not declare
	// into validation errors instead of ignoring them.
	StrictUnknownFields bool
}

// Binder resolves, coerces and validates document values for one model.
type Binder struct {
	model *Model
	opts  Options
}

func NewBinder(m *Model, opts Options) *Binder {
	return &Binder{model: m, opts: opts}
}

func (b *Binder) Model() *Model { return b.model }

func (b *Binder) Options() Options { return b.opts }

// textItem stands for one character or embed of a text field.
var textItem = &Field{Name: "text item", Type: TypeAny}

// Resolve walks the model along path and returns the field declared
// there. Keys select object fields, or keys inside any-typed values;
// indices select list elements and text items. The root itself is not a
// field.
func (b *Binder) Resolve(path patch.Path) (*Field, error) {
	if path.IsRoot() {
		return nil, &UnknownFieldError{Path: path}
	}
	model := b.model
	var f *Field
	for i, seg := range path {
		switch {
		case f == nil || f.Type == TypeObject:
			if f != nil {
				model = f.Object
			}
			if seg.IsIndex() {
				return nil, &UnknownFieldError{Path: path[:i+1]}
			}
			next, ok := model.byName[seg.Key()]
			if !ok {
				return nil, &UnknownFieldError{Path: path[:i+1]}
			}
			f = next
		case f.Type == TypeList && seg.IsIndex():
			f = f.Elem
		case f.Type == TypeText && seg.IsIndex():
			f = textItem
		case f.Type == TypeAny && f != textItem:
			f = &Field{Name: seg.String(), Type: TypeAny}
		default:
			return nil, &UnknownFieldError{Path: path[:i+1]}
		}
	}
	return f, nil
}

// Coerce converts a plain document value into the model value of f and
// validates it. A nil value clears an optional field and is an
// ErrRequired violation for a required one.
func (b *Binder) Coerce(path patch.Path, f *Field, value any) (any, error) {
	if value == nil {
		if f.Required {
			return nil, &ValidationError{Path: path, Field: f.Name, Err: ErrRequired}
		}
		return nil, nil
	}

	var (
		v   any
		err error
	)
	if f.Coerce != nil {
		v, err = f.Coerce(value)
		if err != nil {
			return nil, &ValidationError{Path: path, Field: f.Name, Message: err.Error(), Err: err}
		}
	} else if v, err = b.convert(path, f, value); err != nil {
		return nil, err
	}

	if err := b.Check(path, f, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (b *Binder) convert(path patch.Path, f *Field, value any) (any, error) {
	switch f.Type {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := value.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
				return int64(n), nil
			}
		}
	case TypeFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeBytes:
		if v, ok := value.([]byte); ok {
			return bytes.Clone(v), nil
		}
	case TypeAny:
		return cloneValue(value), nil
	case TypeObject:
		if m, ok := value.(map[string]any); ok {
			return b.buildObject(path, f.Object, m)
		}
	case TypeList:
		if list, ok := value.([]any); ok {
			out := make([]any, len(list))
			for i, item := range list {
				v, err := b.Coerce(path.Append(patch.Index(i)), f.Elem, item)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}
	case TypeText:
		switch t := value.(type) {
		case Text:
			return cloneValue(t), nil
		case string:
			return patch.TextFromString(t), nil
		}
	}
	return nil, invalid(path, f, "cannot use %T as %s", value, f.Type)
}

// Check runs the rules and custom validator of f against a model value.
func (b *Binder) Check(path patch.Path, f *Field, v any) error {
	if f.Rules != "" {
		subject := v
		if t, ok := v.(Text); ok {
			subject = t.String()
		}
		if verr := runRules(subject, f.Rules); verr != nil {
			return &ValidationError{Path: path, Field: f.Name, Message: verr.Error(), Err: verr}
		}
	}
	if f.Validate != nil {
		if verr := f.Validate(v); verr != nil {
			return &ValidationError{Path: path, Field: f.Name, Message: verr.Error(), Err: verr}
		}
	}
	return nil
}

func runRules(v any, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules %q: %v", rules, r)
		}
	}()
	return validate.Var(v, rules)
}

// Build coerces a whole snapshot into an instance of the model.
func (b *Binder) Build(snapshot any) (*Instance, error) {
	m, ok := snapshot.(map[string]any)
	if !ok {
		return nil, invalid(patch.Root, nil, "snapshot is %T, want a map", snapshot)
	}
	return b.buildObject(patch.Root, b.model, m)
}

func (b *Binder) buildObject(path patch.Path, model *Model, m map[string]any) (*Instance, error) {
	inst := &Instance{model: model, values: make(map[string]any, len(model.fields))}
	for _, f := range model.fields {
		at := path.Append(patch.Key(f.Name))
		raw, present := m[f.Name]
		if !present || raw == nil {
			if f.Required {
				return nil, &ValidationError{Path: at, Field: f.Name, Err: ErrRequired}
			}
			continue
		}
		v, err := b.Coerce(at, f, raw)
		if err != nil {
			return nil, err
		}
		inst.values[f.Name] = v
	}
	if b.opts.StrictUnknownFields {
		for _, key := range sortedKeys(m) {
			if _, ok := model.byName[key]; !ok {
				at := path.Append(patch.Key(key))
				unknown := &UnknownFieldError{Path: at}
				return nil, &ValidationError{Path: at, Field: key, Message: "field not declared", Err: unknown}
			}
		}
	}
	return inst, nil
}

// CheckShape reports the first declared field whose document value has a
// structure the field cannot bind to. Absent fields are not checked.
func (b *Binder) CheckShape(snapshot any) error {
	if actual := ShapeOf(snapshot); actual != ShapeMap {
		return &SchemaIncompatibilityError{Path: patch.Root, Field: b.model.name, Expected: ShapeMap, Actual: actual}
	}
	return checkShape(patch.Root, b.model, snapshot.(map[string]any))
}

func checkShape(path patch.Path, model *Model, m map[string]any) error {
	for _, f := range model.fields {
		raw, ok := m[f.Name]
		if !ok || raw == nil {
			continue
		}
		if err := checkFieldShape(path.Append(patch.Key(f.Name)), f, raw); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldShape(at patch.Path, f *Field, raw any) error {
	actual := ShapeOf(raw)
	if !f.Type.Shape().Accepts(actual) {
		return &SchemaIncompatibilityError{Path: at, Field: f.Name, Expected: f.Type.Shape(), Actual: actual}
	}
	switch f.Type {
	case TypeObject:
		return checkShape(at, f.Object, raw.(map[string]any))
	case TypeList:
		for i, item := range raw.([]any) {
			if item == nil {
				continue
			}
			if err := checkFieldShape(at.Append(patch.Index(i)), f.Elem, item); err != nil {
				return err
			}
		}
	}
	return nil
}
