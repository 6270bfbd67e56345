package bridge

import (
	"errors"
	"testing"

	"github.com/shinyes/yep_model/pkg/normalize"
	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/schema"
	"github.com/shinyes/yep_model/pkg/store"
	"github.com/shinyes/yep_model/pkg/updater"
	"github.com/shinyes/yep_model/pkg/ydoc"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var noteModel = schema.MustModel("Note",
	schema.Field{Name: "title", Type: schema.TypeString, Required: true},
	schema.Field{Name: "count", Type: schema.TypeInt, Rules: "gte=0"},
	schema.Field{Name: "tags", Type: schema.TypeList, Elem: &schema.Field{Type: schema.TypeString}},
	schema.Field{Name: "body", Type: schema.TypeText},
	schema.Field{Name: "meta", Type: schema.TypeObject, Object: schema.MustModel("Meta",
		schema.Field{Name: "author", Type: schema.TypeString, Required: true},
	)},
)

func newRegistry(t *testing.T) (*Registry, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewRegistry(logrus.NewEntry(logger)), hook
}

func transact(t *testing.T, d *ydoc.Doc, fn func(tx *ydoc.Txn) error) {
	t.Helper()
	require.NoError(t, d.Transact(fn))
}

// seeded returns a document whose "note" map already satisfies noteModel.
func seeded(t *testing.T) (*ydoc.Doc, *ydoc.Map) {
	t.Helper()
	d := ydoc.NewDoc()
	root := d.Map("note")
	transact(t, d, func(tx *ydoc.Txn) error {
		if err := root.Set(tx, "title", "t"); err != nil {
			return err
		}
		tags, err := root.SetArray(tx, "tags")
		if err != nil {
			return err
		}
		return tags.Push(tx, "a", "b", "c")
	})
	return d, root
}

func current(t *testing.T, b *Binding) *schema.Instance {
	t.Helper()
	inst, err := b.Current()
	require.NoError(t, err)
	return inst
}

// requireMatchesDocument checks that the bound model equals a rebuild of
// the document's current state.
func requireMatchesDocument(t *testing.T, b *Binding, root *ydoc.Map) {
	t.Helper()
	snap, err := normalize.Snapshot(root)
	require.NoError(t, err)
	want, err := schema.NewBinder(noteModel, schema.Options{}).Build(snap)
	require.NoError(t, err)
	got := current(t, b)
	require.True(t, got.Equal(want), "model %v != document %v", got.Map(), want.Map())
}

func getArray(t *testing.T, m *ydoc.Map, key string) *ydoc.Array {
	t.Helper()
	v, ok := m.Get(key)
	require.True(t, ok)
	return v.(*ydoc.Array)
}

func TestAttachBuildsFromSnapshot(t *testing.T) {
	reg, hook := newRegistry(t)
	_, root := seeded(t)

	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, b.ID())
	require.Same(t, noteModel, b.Model())
	require.Equal(t, "t", current(t, b).String("title"))
	require.Equal(t, []*Binding{b}, reg.Bindings())
	require.Equal(t, "binding attached", hook.LastEntry().Message)
	require.Equal(t, b.ID(), hook.LastEntry().Data["binding"])
}

func TestSnapshotEquivalence(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	tags := getArray(t, root, "tags")

	steps := []func(tx *ydoc.Txn) error{
		func(tx *ydoc.Txn) error { return root.Set(tx, "count", 1) },
		func(tx *ydoc.Txn) error { return tags.Insert(tx, 1, "x", "y") },
		func(tx *ydoc.Txn) error {
			meta, err := root.SetMap(tx, "meta")
			if err != nil {
				return err
			}
			return meta.Set(tx, "author", "ann")
		},
		func(tx *ydoc.Txn) error {
			body, err := root.SetText(tx, "body")
			if err != nil {
				return err
			}
			return body.Insert(tx, 0, "hello")
		},
		func(tx *ydoc.Txn) error {
			v, _ := root.Get("body")
			body := v.(*ydoc.Text)
			if err := body.Delete(tx, 0, 1); err != nil {
				return err
			}
			return body.Insert(tx, 4, "!")
		},
		func(tx *ydoc.Txn) error {
			if err := tags.Delete(tx, 0, 2); err != nil {
				return err
			}
			v, _ := root.Get("meta")
			if err := v.(*ydoc.Map).Set(tx, "author", "bob"); err != nil {
				return err
			}
			return root.Set(tx, "title", "renamed")
		},
		func(tx *ydoc.Txn) error { return root.Delete(tx, "count") },
	}
	for _, step := range steps {
		transact(t, d, step)
		requireMatchesDocument(t, b, root)
	}
	require.Equal(t, "ello!", current(t, b).Text("body").String())
	require.Equal(t, uint64(len(steps)+2), b.Stats().Applied)
}

func TestDeleteThenInsertAtSameIndex(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	tags := getArray(t, root, "tags")

	transact(t, d, func(tx *ydoc.Txn) error {
		if err := tags.Delete(tx, 0, 1); err != nil {
			return err
		}
		return tags.Insert(tx, 0, "x")
	})
	require.Equal(t, []any{"x", "b", "c"}, current(t, b).List("tags"))
}

func TestEmptyBatchKeepsInstance(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	before := current(t, b)
	calls := 0
	b.OnUpdate(func(*schema.Instance) { calls++ })

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "surprise", "x") })
	require.Same(t, before, current(t, b))
	require.Zero(t, calls)
	require.Equal(t, uint64(1), b.Stats().Empty)
}

func TestStrictUnknownFieldsRejects(t *testing.T) {
	reg, hook := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{StrictUnknownFields: true})
	require.NoError(t, err)

	var rejected []*updater.RejectedBatch
	b.OnRejected(func(rb *updater.RejectedBatch) { rejected = append(rejected, rb) })

	before := current(t, b)
	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "surprise", "x") })
	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0], schema.ErrNotFound)
	require.Same(t, before, current(t, b))
	require.True(t, b.Diverged())
	require.Equal(t, "batch rejected", hook.LastEntry().Message)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRejectedBatchIsAtomic(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	var rejected *updater.RejectedBatch
	b.OnRejected(func(rb *updater.RejectedBatch) { rejected = rb })

	transact(t, d, func(tx *ydoc.Txn) error {
		if err := root.Set(tx, "title", "changed"); err != nil {
			return err
		}
		return root.Set(tx, "count", -1)
	})
	require.NotNil(t, rejected)
	require.Equal(t, 1, rejected.Index)
	require.ErrorIs(t, rejected, schema.ErrValidation)
	require.Equal(t, "t", current(t, b).String("title"))
	require.True(t, b.Diverged())

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "count", 3) })
	require.False(t, b.Diverged())
	require.Equal(t, int64(3), current(t, b).Int("count"))
	require.Equal(t, "t", current(t, b).String("title"))

	require.NoError(t, b.Resync())
	requireMatchesDocument(t, b, root)
	require.Equal(t, "changed", current(t, b).String("title"))
}

func TestReentrantDeliveryWaitsForSwap(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	var seen []string
	b.OnUpdate(func(inst *schema.Instance) {
		seen = append(seen, inst.String("title"))
		if inst.String("title") != "first" {
			return
		}
		require.Same(t, inst, current(t, b))
		require.NoError(t, d.Transact(func(tx *ydoc.Txn) error {
			return root.Set(tx, "title", "second")
		}))
		// Held by the document until this callback returns.
		require.Equal(t, "first", current(t, b).String("title"))
		require.Zero(t, b.Stats().Pending)
	})

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "first") })
	require.Equal(t, []string{"first", "second"}, seen)
	require.Equal(t, "second", current(t, b).String("title"))
	require.Zero(t, b.Stats().Pending)
}

func TestAttachRejectsIncompatibleShape(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("counter")
	transact(t, d, func(tx *ydoc.Txn) error {
		arr, err := root.SetArray(tx, "count")
		if err != nil {
			return err
		}
		return arr.Push(tx, 1)
	})
	counter := schema.MustModel("Counter", schema.Field{Name: "count", Type: schema.TypeInt, Required: true})

	b, err := reg.Attach(root, counter, Options{})
	require.Nil(t, b)
	var se *schema.SchemaIncompatibilityError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "count", se.Field)
	require.Empty(t, reg.Bindings())

	_, err = reg.Attach(d.Array("list"), counter, Options{})
	require.ErrorIs(t, err, schema.ErrSchemaIncompatible)
}

func TestAttachBeforeRequiredFieldsStartsOutOfSync(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("note")

	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	inst, err := b.Current()
	require.Nil(t, inst)
	require.ErrorIs(t, err, ErrOutOfSync)
	require.ErrorIs(t, err, schema.ErrRequired)

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "late") })
	_, err = b.Current()
	require.ErrorIs(t, err, ErrOutOfSync, "deliveries are dropped while out of sync")
	require.Equal(t, uint64(1), b.Stats().Dropped)

	require.NoError(t, b.Resync())
	require.Equal(t, "late", current(t, b).String("title"))
	require.Equal(t, uint64(1), b.Stats().Resyncs)
}

func TestAutoResync(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("note")

	b, err := reg.Attach(root, noteModel, Options{AutoResync: true})
	require.NoError(t, err)
	_, err = b.Current()
	require.ErrorIs(t, err, ErrOutOfSync)

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "late") })
	require.Equal(t, "late", current(t, b).String("title"))
}

func TestTranslationFailureMarksOutOfSync(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	var reasons []error
	b.OnOutOfSync(func(reason error) { reasons = append(reasons, reason) })

	b.process(delivery{err: &normalize.TranslationError{Shape: "event *mystery"}})
	require.Len(t, reasons, 1)
	require.ErrorIs(t, reasons[0], normalize.ErrTranslation)
	_, err = b.Current()
	require.ErrorIs(t, err, ErrOutOfSync)
	require.ErrorIs(t, err, normalize.ErrTranslation)

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "skipped") })
	require.Equal(t, uint64(2), b.Stats().Dropped)
	require.Len(t, reasons, 1, "out-of-sync fires once per transition")

	require.NoError(t, b.Resync())
	require.Equal(t, "skipped", current(t, b).String("title"))
}

func TestQueueOverflowMarksOutOfSync(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{MaxPendingBatches: 1})
	require.NoError(t, err)

	once := false
	b.OnUpdate(func(*schema.Instance) {
		if once {
			return
		}
		once = true
		// Deliveries arriving mid-drain queue on the binding.
		b.deliver(nil)
		require.Equal(t, 1, b.Stats().Pending)
		b.deliver(nil)
	})

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "go") })
	_, err = b.Current()
	require.ErrorIs(t, err, ErrOutOfSync)
	require.Zero(t, b.Stats().Pending)

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "count", 2) })
	require.NoError(t, b.Resync())
	require.Equal(t, "go", current(t, b).String("title"))
	require.Equal(t, int64(2), current(t, b).Int("count"))
}

func TestDetachInsideCallback(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	first, second := 0, 0
	b.OnUpdate(func(*schema.Instance) {
		first++
		require.NoError(t, d.Transact(func(tx *ydoc.Txn) error { return root.Set(tx, "count", 9) }))
		require.NoError(t, reg.Detach(b))
	})
	b.OnUpdate(func(*schema.Instance) { second++ })

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "x") })
	require.Equal(t, 1, first)
	require.Zero(t, second)
	require.Zero(t, b.Stats().Pending)

	inst, err := b.Current()
	require.ErrorIs(t, err, ErrDetached)
	require.Equal(t, "x", inst.String("title"))
	require.False(t, inst.Has("count"))

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "y") })
	require.Equal(t, 1, first)
	require.ErrorIs(t, reg.Detach(b), ErrDetached)
	require.ErrorIs(t, b.Resync(), ErrDetached)
	require.Empty(t, reg.Bindings())
}

func TestDestroyedSource(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	var reasons []error
	b.OnOutOfSync(func(reason error) { reasons = append(reasons, reason) })

	d.Destroy()
	_, err = b.Current()
	require.ErrorIs(t, err, ErrOutOfSync)
	require.ErrorIs(t, err, ErrSourceDisposed)
	require.ErrorIs(t, b.Resync(), ErrSourceDisposed)
	require.Len(t, reasons, 1)

	_, err = reg.Attach(root, noteModel, Options{})
	require.ErrorIs(t, err, ErrSourceDisposed)
}

func TestCallbackPanicIsContained(t *testing.T) {
	reg, hook := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	calls := 0
	b.OnUpdate(func(*schema.Instance) { panic("boom") })
	b.OnUpdate(func(*schema.Instance) { calls++ })

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "x") })
	require.Equal(t, 1, calls)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["callback"] == "update" {
			found = true
		}
	}
	require.True(t, found, "panic must be logged")
}

func TestCancelHook(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	calls := 0
	cancel := reg.OnModelUpdated(b, func(*schema.Instance) { calls++ })
	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "x") })
	cancel()
	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "title", "y") })
	require.Equal(t, 1, calls)
}

func TestTextFollowsDocument(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	var body *ydoc.Text
	transact(t, d, func(tx *ydoc.Txn) error {
		var err error
		body, err = root.SetText(tx, "body")
		return err
	})
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	transact(t, d, func(tx *ydoc.Txn) error { return body.Insert(tx, 0, "héllo wörld") })
	transact(t, d, func(tx *ydoc.Txn) error { return body.Delete(tx, 5, 6) })
	transact(t, d, func(tx *ydoc.Txn) error { return body.Insert(tx, 5, ", 世界") })

	require.Equal(t, body.String(), current(t, b).Text("body").String())
	require.Equal(t, "héllo, 世界", body.String())
}

func TestPoolPeersConverge(t *testing.T) {
	reg, _ := newRegistry(t)
	pool := ydoc.NewPool()
	a, err := pool.NewPeer()
	require.NoError(t, err)
	root := a.Map("note")
	transact(t, a, func(tx *ydoc.Txn) error {
		if err := root.Set(tx, "title", "shared"); err != nil {
			return err
		}
		_, err := root.SetArray(tx, "tags")
		return err
	})
	c, err := pool.NewPeer()
	require.NoError(t, err)

	rootA, rootC := root, c.Map("note")
	ba, err := reg.Attach(rootA, noteModel, Options{})
	require.NoError(t, err)
	bc, err := reg.Attach(rootC, noteModel, Options{})
	require.NoError(t, err)

	transact(t, a, func(tx *ydoc.Txn) error { return getArray(t, rootA, "tags").Push(tx, "from-a") })
	transact(t, c, func(tx *ydoc.Txn) error { return getArray(t, rootC, "tags").Insert(tx, 0, "from-c") })
	transact(t, c, func(tx *ydoc.Txn) error {
		meta, err := rootC.SetMap(tx, "meta")
		if err != nil {
			return err
		}
		return meta.Set(tx, "author", "carol")
	})
	transact(t, a, func(tx *ydoc.Txn) error { return rootA.Set(tx, "count", 7) })

	requireMatchesDocument(t, ba, rootA)
	requireMatchesDocument(t, bc, rootC)
	require.True(t, current(t, ba).Equal(current(t, bc)))
	require.Equal(t, []any{"from-c", "from-a"}, current(t, bc).List("tags"))
	require.Equal(t, "carol", current(t, ba).Object("meta").String("author"))
}

func TestSavedDocumentRebuildsEqualModel(t *testing.T) {
	s, err := store.OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	transact(t, d, func(tx *ydoc.Txn) error {
		body, err := root.SetText(tx, "body")
		if err != nil {
			return err
		}
		return body.Insert(tx, 0, "persisted")
	})
	require.NoError(t, ydoc.Save(s, "note-1", d))

	loaded, err := ydoc.Load(s, "note-1")
	require.NoError(t, err)
	lb, err := reg.Attach(loaded.Map("note"), noteModel, Options{})
	require.NoError(t, err)
	require.True(t, current(t, b).Equal(current(t, lb)))
}

func TestRegistryClose(t *testing.T) {
	reg, _ := newRegistry(t)
	_, root := seeded(t)
	b1, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	b2, err := reg.Attach(root, noteModel, Options{StrictUnknownFields: true})
	require.NoError(t, err)

	reg.Close()
	require.Empty(t, reg.Bindings())
	for _, b := range []*Binding{b1, b2} {
		_, err := b.Current()
		require.True(t, errors.Is(err, ErrDetached))
	}

	other := NewRegistry(nil)
	require.Error(t, other.Detach(b1))
}

func TestResyncInsideCallbackReadsQueuedChangesOnce(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	tags := getArray(t, root, "tags")

	pushed := false
	b.OnUpdate(func(*schema.Instance) {
		if pushed {
			return
		}
		pushed = true
		require.NoError(t, d.Transact(func(tx *ydoc.Txn) error { return tags.Push(tx, "y") }))
		require.NoError(t, b.Resync())
	})

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "count", 1) })
	requireMatchesDocument(t, b, root)
	require.Equal(t, []any{"a", "b", "c", "y"}, current(t, b).List("tags"))
	stats := b.Stats()
	require.Equal(t, uint64(1), stats.Resyncs)
	require.Equal(t, uint64(1), stats.Covered)
	require.Zero(t, stats.Pending)

	transact(t, d, func(tx *ydoc.Txn) error { return tags.Push(tx, "z") })
	requireMatchesDocument(t, b, root)
}

func TestResyncWhenIdle(t *testing.T) {
	reg, hook := newRegistry(t)
	d, root := seeded(t)
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	before := current(t, b)
	require.NoError(t, b.Resync())
	after := current(t, b)
	require.NotSame(t, before, after)
	require.True(t, before.Equal(after))
	require.Equal(t, d.Version(), hook.LastEntry().Data["version"])

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "count", 4) })
	requireMatchesDocument(t, b, root)
	require.Zero(t, b.Stats().Covered)
}

var listModel = schema.MustModel("List",
	schema.Field{Name: "items", Type: schema.TypeList, Elem: &schema.Field{
		Type: schema.TypeObject,
		Object: schema.MustModel("Item",
			schema.Field{Name: "name", Type: schema.TypeString, Required: true},
		),
	}},
)

func itemNames(t *testing.T, b *Binding) []string {
	t.Helper()
	var names []string
	for _, item := range current(t, b).List("items") {
		names = append(names, item.(*schema.Instance).String("name"))
	}
	return names
}

func TestBatchesBelowRejectedParentAreSkipped(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("list")
	var items *ydoc.Array
	transact(t, d, func(tx *ydoc.Txn) error {
		var err error
		if items, err = root.SetArray(tx, "items"); err != nil {
			return err
		}
		for i, name := range []string{"a", "b"} {
			item, err := items.InsertMap(tx, i)
			if err != nil {
				return err
			}
			if err := item.Set(tx, "name", name); err != nil {
				return err
			}
		}
		return nil
	})
	b, err := reg.Attach(root, listModel, Options{})
	require.NoError(t, err)
	var rejected []*updater.RejectedBatch
	b.OnRejected(func(rb *updater.RejectedBatch) { rejected = append(rejected, rb) })

	v, ok := items.Get(0)
	require.True(t, ok)
	first := v.(*ydoc.Map)
	var fresh *ydoc.Map
	transact(t, d, func(tx *ydoc.Txn) error {
		var err error
		if fresh, err = items.InsertMap(tx, 0); err != nil {
			return err
		}
		// first now sits at items/1.
		return first.Set(tx, "name", "A")
	})

	require.Equal(t, []string{"a", "b"}, itemNames(t, b))
	require.True(t, b.Diverged())
	require.Len(t, rejected, 2)
	require.ErrorIs(t, rejected[0], schema.ErrRequired)
	require.ErrorIs(t, rejected[1], ErrParentRejected)
	require.Equal(t, uint64(2), b.Stats().Rejected)

	transact(t, d, func(tx *ydoc.Txn) error { return fresh.Set(tx, "name", "z") })
	require.NoError(t, b.Resync())
	require.Equal(t, []string{"z", "A", "b"}, itemNames(t, b))
	require.False(t, b.Diverged())
}

func TestPanickingValidatorRejectsBatch(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("counter")
	counter := schema.MustModel("Counter", schema.Field{Name: "n", Type: schema.TypeInt, Validate: func(v any) error {
		if v == int64(7) {
			panic("unlucky")
		}
		return nil
	}})
	b, err := reg.Attach(root, counter, Options{})
	require.NoError(t, err)
	var rejected []*updater.RejectedBatch
	b.OnRejected(func(rb *updater.RejectedBatch) { rejected = append(rejected, rb) })

	require.NotPanics(t, func() {
		transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "n", 7) })
	})
	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0], updater.ErrHookPanic)
	require.True(t, b.Diverged())

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "n", 8) })
	require.Equal(t, int64(8), current(t, b).Int("n"))
	require.Zero(t, b.Stats().Pending)
	require.False(t, b.Diverged())
}

func TestPanickingValidatorDuringResync(t *testing.T) {
	reg, _ := newRegistry(t)
	d := ydoc.NewDoc()
	root := d.Map("counter")
	counter := schema.MustModel("Counter", schema.Field{Name: "n", Type: schema.TypeInt, Validate: func(v any) error {
		if v == int64(7) {
			panic("unlucky")
		}
		return nil
	}})
	b, err := reg.Attach(root, counter, Options{})
	require.NoError(t, err)
	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "n", 7) })

	err = b.Resync()
	require.ErrorIs(t, err, updater.ErrHookPanic)
	require.ErrorIs(t, b.OutOfSync(), updater.ErrHookPanic)

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "n", 1) })
	require.NoError(t, b.Resync())
	require.Equal(t, int64(1), current(t, b).Int("n"))
}

func TestBindingsSeeNestedChangesInCommitOrder(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	first, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)
	second, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	first.OnUpdate(func(inst *schema.Instance) {
		if inst.Int("count") == 1 {
			require.NoError(t, d.Transact(func(tx *ydoc.Txn) error { return root.Set(tx, "count", 2) }))
		}
	})
	var seen []int64
	second.OnUpdate(func(inst *schema.Instance) { seen = append(seen, inst.Int("count")) })

	transact(t, d, func(tx *ydoc.Txn) error { return root.Set(tx, "count", 1) })
	require.Equal(t, []int64{1, 2}, seen)
	requireMatchesDocument(t, first, root)
	requireMatchesDocument(t, second, root)
}

func TestDetachNil(t *testing.T) {
	reg, _ := newRegistry(t)
	require.ErrorIs(t, reg.Detach(nil), ErrDetached)
}

func TestTextFormattingFollowsDocument(t *testing.T) {
	reg, _ := newRegistry(t)
	d, root := seeded(t)
	var body *ydoc.Text
	transact(t, d, func(tx *ydoc.Txn) error {
		var err error
		if body, err = root.SetText(tx, "body"); err != nil {
			return err
		}
		return body.Insert(tx, 0, "hello")
	})
	b, err := reg.Attach(root, noteModel, Options{})
	require.NoError(t, err)

	transact(t, d, func(tx *ydoc.Txn) error {
		return body.Format(tx, 1, 2, map[string]any{"bold": true})
	})
	text := current(t, b).Text("body")
	require.Equal(t, "hello", text.String())
	require.Equal(t, patch.Styled{Value: "e", Attributes: map[string]any{"bold": true}}, text[1])
	require.Equal(t, "o", text[4])
	requireMatchesDocument(t, b, root)

	transact(t, d, func(tx *ydoc.Txn) error {
		if err := body.Format(tx, 1, 1, map[string]any{"bold": nil}); err != nil {
			return err
		}
		return body.InsertWithAttributes(tx, 5, "!", map[string]any{"italic": true})
	})
	text = current(t, b).Text("body")
	require.Equal(t, "e", text[1])
	require.Equal(t, patch.Styled{Value: "!", Attributes: map[string]any{"italic": true}}, text[5])
	requireMatchesDocument(t, b, root)
}
