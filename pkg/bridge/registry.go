// Package bridge keeps validated model instances in step with shared
// document types. A Registry attaches a model to a shared type, rebuilds
// the model from a snapshot, then applies every change delivered by the
// document as an atomic batch.
package bridge

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shinyes/yep_model/pkg/metrics"
	"github.com/shinyes/yep_model/pkg/normalize"
	"github.com/shinyes/yep_model/pkg/schema"
	"github.com/shinyes/yep_model/pkg/updater"
	"github.com/shinyes/yep_model/pkg/ydoc"
	"github.com/sirupsen/logrus"
)

// SharedType is the part of a document type a binding relies on.
// *ydoc.Map, *ydoc.Array and *ydoc.Text implement it.
type SharedType interface {
	ID() string
	Doc() *ydoc.Doc
	Alive() bool
	ObserveDeep(fn func([]ydoc.Event)) *ydoc.Subscription
}

// Registry owns a set of bindings.
type Registry struct {
	log *logrus.Entry

	mu       sync.Mutex
	bindings []*Binding
}

// NewRegistry creates a registry logging to log, or to the standard logrus
// logger when log is nil.
func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{log: log}
}

// snapshot reads src under the document lock, together with the version
// the read reflects.
func snapshot(src SharedType) (snap any, version uint64, err error) {
	err = src.Doc().View(func(v uint64) error {
		version = v
		var verr error
		snap, verr = normalize.Value(src)
		return verr
	})
	return snap, version, err
}

// Attach binds model to src. The model is rebuilt from a snapshot before
// the binding subscribes, so it always reflects some point-in-time state
// of the document. A document shape the model cannot describe fails with
// *schema.SchemaIncompatibilityError and creates no binding. A snapshot
// that does not validate yet still creates the binding, out of sync.
func (r *Registry) Attach(src SharedType, model *schema.Model, opts Options) (*Binding, error) {
	if src == nil || !src.Alive() {
		return nil, ErrSourceDisposed
	}
	snap, version, err := snapshot(src)
	if err != nil {
		return nil, err
	}
	binder := schema.NewBinder(model, schema.Options{StrictUnknownFields: opts.StrictUnknownFields})
	if err := binder.CheckShape(snap); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("binding id: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = r.log
	}
	b := &Binding{
		id:     id.String(),
		reg:    r,
		src:    src,
		model:  model,
		upd:    updater.New(binder),
		opts:   opts,
		synced: version,
	}
	b.log = log.WithFields(logrus.Fields{"binding": b.id, "model": model.Name()})

	live, err := b.upd.Rebuild(snap)
	if err != nil {
		b.outOfSync = err
		b.log.WithError(err).Warn("initial rebuild failed, binding starts out of sync")
	}
	b.live = live
	b.sub = src.ObserveDeep(b.deliver)

	r.mu.Lock()
	r.bindings = append(r.bindings, b)
	r.mu.Unlock()
	metrics.BindingAttached()
	b.log.WithField("source", src.ID()).Info("binding attached")
	return b, nil
}

// Detach releases b. A batch already running finishes; queued batches are
// discarded and no callback fires afterwards.
func (r *Registry) Detach(b *Binding) error {
	if b == nil {
		return ErrDetached
	}
	if b.reg != r {
		return fmt.Errorf("bridge: binding %s belongs to another registry", b.id)
	}
	if !b.detach() {
		return ErrDetached
	}
	r.mu.Lock()
	for i, other := range r.bindings {
		if other == b {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	metrics.BindingDetached()
	b.log.Info("binding detached")
	return nil
}

// OnModelUpdated registers fn to run after every successful swap of b.
func (r *Registry) OnModelUpdated(b *Binding, fn func(*schema.Instance)) (cancel func()) {
	return b.OnUpdate(fn)
}

// Bindings returns the attached bindings in attach order.
func (r *Registry) Bindings() []*Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Binding(nil), r.bindings...)
}

// Close detaches every binding. It is called when the owning document is
// torn down.
func (r *Registry) Close() {
	for _, b := range r.Bindings() {
		_ = r.Detach(b)
	}
}
