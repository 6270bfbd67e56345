// Package schema binds plain document values to typed model instances.
//
// A Model is an explicit field table built once with NewModel. A Binder
// resolves document paths to fields, coerces and validates values, builds
// whole instances from snapshots and checks that a document's structure
// fits the model. Instances are immutable; a Draft is the mutable working
// copy that the updater edits and commits.
package schema

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field declares one model field, or the element of a list.
type Field struct {
	Name     string
	Type     Type
	Required bool

	// Rules are go-playground/validator tags checked against the coerced
	// value, e.g. "min=1,max=80". Texts are checked as strings.
	Rules string
	// Validate runs after Rules.
	Validate func(v any) error
	// Coerce replaces the built-in conversion for this field.
	Coerce func(v any) (any, error)

	// Object is the nested model of a TypeObject field.
	Object *Model
	// Elem describes the items of a TypeList field.
	Elem *Field
}

// Model is an immutable field table.
type Model struct {
	name   string
	fields []*Field
	byName map[string]*Field
}

var validate = validator.New()

// NewModel checks and freezes a field table.
func NewModel(name string, fields ...Field) (*Model, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidModel)
	}
	m := &Model{name: name, byName: make(map[string]*Field, len(fields))}
	for i := range fields {
		f := fields[i]
		if err := checkField(name, &f); err != nil {
			return nil, err
		}
		if _, dup := m.byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: model %q: duplicate field %q", ErrInvalidModel, name, f.Name)
		}
		m.fields = append(m.fields, &f)
		m.byName[f.Name] = &f
	}
	return m, nil
}

// MustModel is NewModel for package-level model tables.
func MustModel(name string, fields ...Field) *Model {
	m, err := NewModel(name, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

func checkField(model string, f *Field) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: model %q: field name cannot be empty", ErrInvalidModel, model)
	}
	if _, ok := typeNames[f.Type]; !ok {
		return fmt.Errorf("%w: model %q: field %q has unknown type %d", ErrInvalidModel, model, f.Name, f.Type)
	}
	switch f.Type {
	case TypeObject:
		if f.Object == nil {
			return fmt.Errorf("%w: model %q: object field %q needs a model", ErrInvalidModel, model, f.Name)
		}
	case TypeList:
		if f.Elem == nil {
			return fmt.Errorf("%w: model %q: list field %q needs an element", ErrInvalidModel, model, f.Name)
		}
		elem := *f.Elem
		if elem.Name == "" {
			elem.Name = f.Name + "[]"
		}
		if err := checkField(model, &elem); err != nil {
			return err
		}
		f.Elem = &elem
	}
	if f.Rules != "" {
		if err := checkRules(f); err != nil {
			return fmt.Errorf("%w: model %q: field %q: %v", ErrInvalidModel, model, f.Name, err)
		}
	}
	return nil
}

// checkRules runs the tags once against the zero value of the field type
// so unknown tags fail at model construction instead of at apply time.
func checkRules(f *Field) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bad rules %q: %v", f.Rules, r)
		}
	}()
	var zero any
	switch f.Type {
	case TypeString, TypeText:
		zero = ""
	case TypeInt:
		zero = int64(0)
	case TypeFloat:
		zero = float64(0)
	case TypeBool:
		zero = false
	case TypeBytes:
		zero = []byte{}
	case TypeList:
		zero = []any{}
	default:
		return nil
	}
	_ = validate.Var(zero, f.Rules)
	return nil
}

func (m *Model) Name() string { return m.name }

// Fields returns copies of the declared fields in declaration order.
func (m *Model) Fields() []Field {
	out := make([]Field, len(m.fields))
	for i, f := range m.fields {
		out[i] = *f
	}
	return out
}

// Field looks a field up by name.
func (m *Model) Field(name string) (Field, bool) {
	f, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}
