// Package updater applies batches of patch operations to model instances.
package updater

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/schema"
)

// ErrHookPanic wraps a panic raised by a field's custom coercer or
// validator.
var ErrHookPanic = errors.New("updater: field hook panicked")

// RejectedBatch reports the first operation of a batch that could not be
// applied. The live instance is left as it was.
type RejectedBatch struct {
	Index int
	Op    patch.Op
	Err   error
}

func (r *RejectedBatch) Error() string {
	return fmt.Sprintf("batch rejected at op %d (%s): %v", r.Index, r.Op, r.Err)
}

func (r *RejectedBatch) Unwrap() error { return r.Err }

// Updater applies batches through one Binder.
type Updater struct {
	binder *schema.Binder
}

func New(b *schema.Binder) *Updater {
	return &Updater{binder: b}
}

func (u *Updater) Binder() *schema.Binder { return u.binder }

// Rebuild builds a fresh instance from a full snapshot.
func (u *Updater) Rebuild(snapshot any) (inst *schema.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	return u.binder.Build(snapshot)
}

// Apply applies ops in order to a working copy of live and returns the
// committed copy. If any op fails the whole batch is rejected with a
// *RejectedBatch and live is returned unchanged. A batch that changes
// nothing returns live itself.
func (u *Updater) Apply(live *schema.Instance, ops []patch.Op) (*schema.Instance, error) {
	if len(ops) == 0 {
		return live, nil
	}
	if live == nil {
		return nil, &RejectedBatch{Op: ops[0], Err: errors.New("no live instance")}
	}

	draft := live.Draft()
	effective := 0
	for i, op := range ops {
		changed, err := u.applyOp(draft, op)
		if err != nil {
			return live, &RejectedBatch{Index: i, Op: op, Err: err}
		}
		if changed {
			effective++
		}
	}
	if effective == 0 {
		return live, nil
	}
	return draft.Commit(), nil
}

func (u *Updater) applyOp(d *schema.Draft, op patch.Op) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed, err = false, fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	return u.apply(d, op)
}

func (u *Updater) apply(d *schema.Draft, op patch.Op) (bool, error) {
	switch o := op.(type) {
	case patch.Insert:
		return u.write(d, o.At, o.Value, true)
	case patch.Replace:
		return u.write(d, o.At, o.New, false)
	case patch.Delete:
		return u.remove(d, o.At)
	case patch.Move:
		return u.move(d, o.From, o.To)
	default:
		return false, &schema.ValidationError{Message: fmt.Sprintf("unsupported operation %T", op)}
	}
}

// resolve looks the field up and applies the unknown-field policy: skip
// is true when a lenient binder ignores the path.
func (u *Updater) resolve(at patch.Path) (f *schema.Field, skip bool, err error) {
	f, err = u.binder.Resolve(at)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, schema.ErrNotFound) && !u.binder.Options().StrictUnknownFields {
		return nil, true, nil
	}
	return nil, false, &schema.ValidationError{Path: at, Message: "field not declared", Err: err}
}

func (u *Updater) write(d *schema.Draft, at patch.Path, value any, insert bool) (bool, error) {
	f, skip, err := u.resolve(at)
	if skip || err != nil {
		return false, err
	}
	last, _ := at.Last()
	if format, ok := value.(patch.Format); ok {
		cur, present := d.Value(at)
		if !present || !last.IsIndex() {
			return false, draftError(at, f, errors.New("no text item to format"))
		}
		if value = format.Apply(cur); reflect.DeepEqual(value, cur) {
			return false, nil
		}
	}
	v, err := u.binder.Coerce(at, f, value)
	if err != nil {
		return false, err
	}

	if last.IsIndex() && insert {
		err = d.InsertAt(at, v)
	} else {
		err = d.Set(at, v)
	}
	if err != nil {
		return false, draftError(at, f, err)
	}
	if last.IsIndex() {
		return true, u.recheck(d, at.Parent())
	}
	return true, nil
}

func (u *Updater) remove(d *schema.Draft, at patch.Path) (bool, error) {
	f, skip, err := u.resolve(at)
	if skip || err != nil {
		return false, err
	}
	last, _ := at.Last()
	if !last.IsIndex() {
		if f.Required {
			return false, &schema.ValidationError{Path: at, Field: f.Name, Err: schema.ErrRequired}
		}
		if _, present := d.Value(at); !present {
			return false, nil
		}
	}
	if err := d.Remove(at); err != nil {
		return false, draftError(at, f, err)
	}
	if last.IsIndex() {
		return true, u.recheck(d, at.Parent())
	}
	return true, nil
}

func (u *Updater) move(d *schema.Draft, from, to patch.Path) (bool, error) {
	f, skip, err := u.resolve(from)
	if skip || err != nil {
		return false, err
	}
	if _, err := u.binder.Resolve(to); err != nil {
		return false, &schema.ValidationError{Path: to, Message: "move target not declared", Err: err}
	}
	if from.Equal(to) {
		return false, nil
	}
	if err := d.Move(from, to); err != nil {
		return false, draftError(from, f, err)
	}
	return true, nil
}

// recheck re-runs the rules of a sequence field after one of its items
// changed, so length constraints hold for the whole sequence.
func (u *Updater) recheck(d *schema.Draft, seq patch.Path) error {
	f, err := u.binder.Resolve(seq)
	if err != nil {
		return nil
	}
	v, ok := d.Value(seq)
	if !ok {
		return nil
	}
	return u.binder.Check(seq, f, v)
}

func draftError(at patch.Path, f *schema.Field, err error) error {
	return &schema.ValidationError{Path: at, Field: f.Name, Message: err.Error(), Err: err}
}
