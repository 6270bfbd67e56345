package schema

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Declaration is a model table written in YAML:
//
//	name: Note
//	fields:
//	  - name: title
//	    type: string
//	    required: true
//	    rules: min=1,max=80
//	  - name: tags
//	    type: list
//	    elem: {type: string}
//	  - name: meta
//	    type: object
//	    fields:
//	      - {name: author, type: string}
type Declaration struct {
	Name   string             `yaml:"name"`
	Fields []FieldDeclaration `yaml:"fields"`
}

// FieldDeclaration declares one field. Fields is the nested model of an
// object field; Elem the element of a list field.
type FieldDeclaration struct {
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Required bool               `yaml:"required"`
	Rules    string             `yaml:"rules"`
	Elem     *FieldDeclaration  `yaml:"elem"`
	Fields   []FieldDeclaration `yaml:"fields"`
}

// ParseDeclaration reads a YAML model declaration.
func ParseDeclaration(in []byte) (*Declaration, error) {
	var d Declaration
	if err := yaml.UnmarshalStrict(in, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return &d, nil
}

// Model builds the declared model table.
func (d *Declaration) Model() (*Model, error) {
	fields := make([]Field, 0, len(d.Fields))
	for _, fd := range d.Fields {
		f, err := fd.field(d.Name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return NewModel(d.Name, fields...)
}

func (fd FieldDeclaration) field(model string) (Field, error) {
	t, err := ParseType(fd.Type)
	if err != nil {
		return Field{}, fmt.Errorf("%w: model %q: field %q: %v", ErrInvalidModel, model, fd.Name, err)
	}
	f := Field{Name: fd.Name, Type: t, Required: fd.Required, Rules: fd.Rules}
	switch t {
	case TypeObject:
		nested := Declaration{Name: model + "." + fd.Name, Fields: fd.Fields}
		if f.Object, err = nested.Model(); err != nil {
			return Field{}, err
		}
	case TypeList:
		if fd.Elem == nil {
			return Field{}, fmt.Errorf("%w: model %q: list field %q needs an element", ErrInvalidModel, model, fd.Name)
		}
		elem := *fd.Elem
		if elem.Name == "" {
			elem.Name = fd.Name + "[]"
		}
		ef, err := elem.field(model)
		if err != nil {
			return Field{}, err
		}
		f.Elem = &ef
	}
	return f, nil
}
