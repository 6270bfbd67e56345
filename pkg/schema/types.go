package schema

import (
	"fmt"

	"github.com/shinyes/yep_model/pkg/patch"
)

// Type is the declared model type of a field.
type Type uint8

const (
	TypeString Type = iota + 1
	TypeInt
	TypeFloat
	TypeBool
	TypeBytes
	TypeAny
	TypeObject
	TypeList
	TypeText
)

var typeNames = map[Type]string{
	TypeString: "string",
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeBool:   "bool",
	TypeBytes:  "bytes",
	TypeAny:    "any",
	TypeObject: "object",
	TypeList:   "list",
	TypeText:   "text",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a declared type name to its Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("schema: unknown type %q", name)
}

// Shape is the shared-type structure a field expects in the document.
type Shape uint8

const (
	ShapeAny Shape = iota
	ShapeScalar
	ShapeMap
	ShapeArray
	ShapeText
)

func (s Shape) String() string {
	switch s {
	case ShapeAny:
		return "any"
	case ShapeScalar:
		return "scalar"
	case ShapeMap:
		return "map"
	case ShapeArray:
		return "array"
	case ShapeText:
		return "text"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// Shape derives the expected document shape from the type.
func (t Type) Shape() Shape {
	switch t {
	case TypeObject:
		return ShapeMap
	case TypeList:
		return ShapeArray
	case TypeText:
		return ShapeText
	case TypeAny:
		return ShapeAny
	}
	return ShapeScalar
}

// Accepts reports whether a value of shape actual can be bound to s.
func (s Shape) Accepts(actual Shape) bool {
	return s == ShapeAny || s == actual
}

// ShapeOf classifies a plain snapshot value.
func ShapeOf(v any) Shape {
	switch v.(type) {
	case map[string]any:
		return ShapeMap
	case []any:
		return ShapeArray
	case patch.Text:
		return ShapeText
	}
	return ShapeScalar
}
