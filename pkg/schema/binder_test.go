package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shinyes/yep_model/pkg/patch"
)

func validSnapshot() map[string]any {
	return map[string]any{
		"title": "hello",
		"count": int64(2),
		"ratio": int64(1),
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"author": "ann", "stars": int64(4)},
		"body":  patch.Text{"h", "i"},
		"extra": map[string]any{"k": []any{int64(1)}},
	}
}

func TestResolve(t *testing.T) {
	b := NewBinder(noteModel, Options{})
	cases := []struct {
		path patch.Path
		want string
		typ  Type
	}{
		{patch.NewPath("title"), "title", TypeString},
		{patch.NewPath("tags", 3), "tags[]", TypeString},
		{patch.NewPath("meta", "author"), "author", TypeString},
		{patch.NewPath("body", 0), "text item", TypeAny},
		{patch.NewPath("extra", "k", 0), "0", TypeAny},
	}
	for _, tc := range cases {
		f, err := b.Resolve(tc.path)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.path, err)
		}
		if f.Name != tc.want || f.Type != tc.typ {
			t.Fatalf("resolve %s = %s/%s", tc.path, f.Name, f.Type)
		}
	}

	for _, p := range []patch.Path{
		patch.Root,
		patch.NewPath("nope"),
		patch.NewPath(0),
		patch.NewPath("title", "x"),
		patch.NewPath("tags", "x"),
		patch.NewPath("meta", "nope"),
		patch.NewPath("body", 0, 1),
	} {
		_, err := b.Resolve(p)
		var uf *UnknownFieldError
		if !errors.As(err, &uf) || !errors.Is(err, ErrNotFound) {
			t.Fatalf("resolve %s: expected UnknownFieldError, got %v", p, err)
		}
	}
}

func TestCoerce(t *testing.T) {
	b := NewBinder(noteModel, Options{})
	field := func(name string) *Field {
		f, err := b.Resolve(patch.NewPath(name))
		if err != nil {
			t.Fatal(err)
		}
		return f
	}

	v, err := b.Coerce(patch.NewPath("ratio"), field("ratio"), int64(3))
	if err != nil || v != float64(3) {
		t.Fatalf("ratio = %#v, %v", v, err)
	}
	v, err = b.Coerce(patch.NewPath("count"), field("count"), float64(4))
	if err != nil || v != int64(4) {
		t.Fatalf("count = %#v, %v", v, err)
	}
	v, err = b.Coerce(patch.NewPath("body"), field("body"), "hé")
	if err != nil || !reflect.DeepEqual(v, Text{"h", "é"}) {
		t.Fatalf("body = %#v, %v", v, err)
	}
	v, err = b.Coerce(patch.NewPath("count"), field("count"), nil)
	if err != nil || v != nil {
		t.Fatalf("optional nil = %#v, %v", v, err)
	}

	_, err = b.Coerce(patch.NewPath("title"), field("title"), nil)
	if !errors.Is(err, ErrRequired) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrRequired, got %v", err)
	}
	_, err = b.Coerce(patch.NewPath("count"), field("count"), "three")
	var ve *ValidationError
	if !errors.As(err, &ve) || !ve.Path.Equal(patch.NewPath("count")) {
		t.Fatalf("expected ValidationError at /count, got %v", err)
	}
	_, err = b.Coerce(patch.NewPath("title"), field("title"), "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected rule failure, got %v", err)
	}
	_, err = b.Coerce(patch.NewPath("tags"), field("tags"), []any{"a", "b", "c", "d"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected max=3 failure, got %v", err)
	}
	_, err = b.Coerce(patch.NewPath("tags"), field("tags"), []any{"a", int64(1)})
	if !errors.As(err, &ve) || !ve.Path.Equal(patch.NewPath("tags", 1)) {
		t.Fatalf("expected element error at /tags/1, got %v", err)
	}
}

func TestCustomCoerceAndValidate(t *testing.T) {
	errOdd := errors.New("odd")
	m := MustModel("M",
		Field{Name: "even", Type: TypeInt, Validate: func(v any) error {
			if v.(int64)%2 != 0 {
				return errOdd
			}
			return nil
		}},
		Field{Name: "upper", Type: TypeString, Coerce: func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("not a string")
			}
			return s + "!", nil
		}},
	)
	b := NewBinder(m, Options{})
	inst, err := b.Build(map[string]any{"even": int64(2), "upper": "hi"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if inst.String("upper") != "hi!" {
		t.Fatalf("upper = %q", inst.String("upper"))
	}
	_, err = b.Build(map[string]any{"even": int64(3)})
	if !errors.Is(err, errOdd) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected errOdd, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	b := NewBinder(noteModel, Options{})
	inst, err := b.Build(validSnapshot())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if inst.String("title") != "hello" || inst.Int("count") != 2 || inst.Float("ratio") != 1 {
		t.Fatalf("unexpected scalars: %v", inst.Map())
	}
	if inst.Object("meta").String("author") != "ann" {
		t.Fatalf("meta = %v", inst.Object("meta").Map())
	}
	if inst.Text("body").String() != "hi" {
		t.Fatalf("body = %v", inst.Text("body"))
	}

	snap := validSnapshot()
	delete(snap, "title")
	if _, err := b.Build(snap); !errors.Is(err, ErrRequired) {
		t.Fatalf("expected ErrRequired, got %v", err)
	}
	if _, err := b.Build([]any{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuildUnknownFieldPolicy(t *testing.T) {
	snap := validSnapshot()
	snap["surprise"] = "x"

	lenient := NewBinder(noteModel, Options{})
	inst, err := lenient.Build(snap)
	if err != nil {
		t.Fatalf("lenient build failed: %v", err)
	}
	if inst.Has("surprise") {
		t.Fatal("unknown key must be ignored")
	}

	strict := NewBinder(noteModel, Options{StrictUnknownFields: true})
	_, err = strict.Build(snap)
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected strict failure, got %v", err)
	}
}

func TestCheckShape(t *testing.T) {
	counter := MustModel("Counter", Field{Name: "count", Type: TypeInt, Required: true})
	b := NewBinder(counter, Options{})

	err := b.CheckShape(map[string]any{"count": []any{int64(1)}})
	var se *SchemaIncompatibilityError
	if !errors.As(err, &se) || !errors.Is(err, ErrSchemaIncompatible) {
		t.Fatalf("expected SchemaIncompatibilityError, got %v", err)
	}
	if se.Field != "count" || se.Expected != ShapeScalar || se.Actual != ShapeArray {
		t.Fatalf("unexpected error detail: %+v", se)
	}

	if err := b.CheckShape(map[string]any{}); err != nil {
		t.Fatalf("absent field must pass shape check: %v", err)
	}
	if err := b.CheckShape(patch.Text{}); !errors.Is(err, ErrSchemaIncompatible) {
		t.Fatalf("expected root mismatch, got %v", err)
	}

	nb := NewBinder(noteModel, Options{})
	snap := validSnapshot()
	snap["meta"] = map[string]any{"author": []any{}}
	if err := nb.CheckShape(snap); !errors.As(err, &se) || !se.Path.Equal(patch.NewPath("meta", "author")) {
		t.Fatalf("expected nested mismatch, got %v", err)
	}
	if err := nb.CheckShape(validSnapshot()); err != nil {
		t.Fatalf("valid snapshot failed: %v", err)
	}
}
