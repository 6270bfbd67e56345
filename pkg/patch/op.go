package patch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind tags an operation.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindDelete
	KindReplace
	KindMove
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindReplace:
		return "replace"
	case KindMove:
		return "move"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Op is one normalized change. The set of implementations is closed:
// Insert, Delete, Replace and Move.
type Op interface {
	Kind() Kind
	// Path is the location the operation addresses; for Move, the source.
	Path() Path
	String() string
	sealed()
}

// Insert adds Value at At. On a sequence it shifts later elements right;
// on a map it adds the key.
type Insert struct {
	At    Path
	Value any
}

// Delete removes the value at At. On a sequence it shifts later elements left.
type Delete struct {
	At Path
}

// Replace overwrites the value at At.
type Replace struct {
	At  Path
	Old any
	New any
}

// Move repositions a sequence element so that it ends at index To within
// the same sequence. From and To share a parent.
type Move struct {
	From Path
	To   Path
}

func (Insert) Kind() Kind  { return KindInsert }
func (Delete) Kind() Kind  { return KindDelete }
func (Replace) Kind() Kind { return KindReplace }
func (Move) Kind() Kind    { return KindMove }

func (o Insert) Path() Path  { return o.At }
func (o Delete) Path() Path  { return o.At }
func (o Replace) Path() Path { return o.At }
func (o Move) Path() Path    { return o.From }

func (Insert) sealed()  {}
func (Delete) sealed()  {}
func (Replace) sealed() {}
func (Move) sealed()    {}

func (o Insert) String() string  { return fmt.Sprintf("insert %s = %v", o.At, o.Value) }
func (o Delete) String() string  { return fmt.Sprintf("delete %s", o.At) }
func (o Replace) String() string { return fmt.Sprintf("replace %s: %v -> %v", o.At, o.Old, o.New) }
func (o Move) String() string    { return fmt.Sprintf("move %s -> %s", o.From, o.To) }

// Batch is the unit of atomic application: the operations one change
// event produced, in emission order, all addressed below Prefix.
type Batch struct {
	Prefix Path
	Ops    []Op
}

// Len returns the number of operations.
func (b Batch) Len() int { return len(b.Ops) }

func (b Batch) String() string {
	parts := make([]string, len(b.Ops))
	for i, op := range b.Ops {
		parts[i] = op.String()
	}
	return fmt.Sprintf("batch@%s[%s]", b.Prefix, strings.Join(parts, "; "))
}

// Text is the normalized value of a text node: one item per character
// (a one-rune string) or per embedded value. Items with formatting
// attributes are wrapped in Styled.
type Text []any

// Styled is a text item with formatting attributes.
type Styled struct {
	Value      any
	Attributes map[string]any
}

// Unstyled returns the character or embed of a text item.
func Unstyled(item any) any {
	if s, ok := item.(Styled); ok {
		return s.Value
	}
	return item
}

// Format is the New value of a Replace that restyles a text item: listed
// attributes are set, those mapped to nil are removed.
type Format map[string]any

// Apply returns item restyled by f. An item left without attributes comes
// back bare.
func (f Format) Apply(item any) any {
	attrs := make(map[string]any)
	if s, ok := item.(Styled); ok {
		for k, v := range s.Attributes {
			attrs[k] = v
		}
	}
	for k, v := range f {
		if v == nil {
			delete(attrs, k)
		} else {
			attrs[k] = v
		}
	}
	value := Unstyled(item)
	if len(attrs) == 0 {
		return value
	}
	return Styled{Value: value, Attributes: attrs}
}

// TextFromString splits s into one item per rune.
func TextFromString(s string) Text {
	t := make(Text, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		t = append(t, string(r))
	}
	return t
}

// String joins the string items, skipping embeds.
func (t Text) String() string {
	var b strings.Builder
	for _, item := range t {
		if s, ok := Unstyled(item).(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}
