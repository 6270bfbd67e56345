package schema

import (
	"errors"
	"testing"
)

var (
	metaModel = MustModel("Meta",
		Field{Name: "author", Type: TypeString, Required: true},
		Field{Name: "stars", Type: TypeInt, Rules: "gte=0,lte=5"},
	)
	noteModel = MustModel("Note",
		Field{Name: "title", Type: TypeString, Required: true, Rules: "min=1,max=20"},
		Field{Name: "count", Type: TypeInt},
		Field{Name: "ratio", Type: TypeFloat},
		Field{Name: "done", Type: TypeBool},
		Field{Name: "blob", Type: TypeBytes},
		Field{Name: "tags", Type: TypeList, Elem: &Field{Type: TypeString}, Rules: "max=3"},
		Field{Name: "meta", Type: TypeObject, Object: metaModel},
		Field{Name: "body", Type: TypeText},
		Field{Name: "extra", Type: TypeAny},
	)
)

func TestNewModelRejectsMalformedTables(t *testing.T) {
	cases := []struct {
		name   string
		model  string
		fields []Field
	}{
		{"empty model name", " ", nil},
		{"empty field name", "M", []Field{{Type: TypeString}}},
		{"duplicate", "M", []Field{{Name: "a", Type: TypeInt}, {Name: "a", Type: TypeString}}},
		{"unknown type", "M", []Field{{Name: "a"}}},
		{"object without model", "M", []Field{{Name: "a", Type: TypeObject}}},
		{"list without elem", "M", []Field{{Name: "a", Type: TypeList}}},
		{"bad rules", "M", []Field{{Name: "a", Type: TypeString, Rules: "no_such_rule"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewModel(tc.model, tc.fields...)
			if !errors.Is(err, ErrInvalidModel) {
				t.Fatalf("expected ErrInvalidModel, got %v", err)
			}
		})
	}
}

func TestModelIntrospection(t *testing.T) {
	fields := noteModel.Fields()
	if len(fields) != 9 || fields[0].Name != "title" || !fields[0].Required {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	tags, ok := noteModel.Field("tags")
	if !ok || tags.Elem == nil || tags.Elem.Name != "tags[]" {
		t.Fatalf("list element not named: %+v", tags)
	}
	if _, ok := noteModel.Field("missing"); ok {
		t.Fatal("unexpected field")
	}
	if TypeObject.Shape() != ShapeMap || TypeText.Shape() != ShapeText || TypeInt.Shape() != ShapeScalar {
		t.Fatal("unexpected shapes")
	}
}
