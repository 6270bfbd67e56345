package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shinyes/yep_model/pkg/metrics"
	"github.com/shinyes/yep_model/pkg/normalize"
	"github.com/shinyes/yep_model/pkg/patch"
	"github.com/shinyes/yep_model/pkg/schema"
	"github.com/shinyes/yep_model/pkg/updater"
	"github.com/shinyes/yep_model/pkg/ydoc"
	"github.com/sirupsen/logrus"
)

// Stats counts what happened to the deliveries of one binding. Covered
// counts deliveries skipped because a rebuild had already read them.
type Stats struct {
	Applied   uint64
	Rejected  uint64
	Empty     uint64
	Dropped   uint64
	Covered   uint64
	Resyncs   uint64
	OutOfSync uint64
	Pending   int
}

// delivery is one observer call, already translated, or a queued resync.
type delivery struct {
	version uint64
	batches []patch.Batch
	err     error
	resync  bool
}

type updateHook struct{ fn func(*schema.Instance) }

type rejectedHook struct{ fn func(*updater.RejectedBatch) }

type outOfSyncHook struct{ fn func(error) }

// Binding keeps one model instance in step with one shared type.
type Binding struct {
	id    string
	reg   *Registry
	src   SharedType
	model *schema.Model
	upd   *updater.Updater
	opts  Options
	log   *logrus.Entry
	sub   *ydoc.Subscription

	mu        sync.Mutex
	live      *schema.Instance
	queue     []delivery
	draining  bool
	detached  bool
	outOfSync error
	diverged  bool
	synced    uint64 // document version read by the last rebuild
	seq       uint64
	stats     Stats

	onUpdate    []*updateHook
	onRejected  []*rejectedHook
	onOutOfSync []*outOfSyncHook
}

func (b *Binding) ID() string { return b.id }

func (b *Binding) Model() *schema.Model { return b.model }

// Current returns the live instance. When the binding is out of sync the
// error wraps ErrOutOfSync and the reason, and the instance, possibly nil,
// is stale.
func (b *Binding) Current() (*schema.Instance, error) {
	if !b.src.Alive() {
		b.markOutOfSync(ErrSourceDisposed)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return b.live, ErrDetached
	}
	if b.outOfSync != nil {
		return b.live, fmt.Errorf("%w: %w", ErrOutOfSync, b.outOfSync)
	}
	return b.live, nil
}

// Diverged reports whether the model is behind the document because a
// batch was rejected. The next delivery applied in full clears it.
func (b *Binding) Diverged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.diverged
}

// OutOfSync returns the reason the binding is out of sync, or nil.
func (b *Binding) OutOfSync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outOfSync
}

func (b *Binding) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.queue)
	return s
}

// OnUpdate registers fn to run after each successful swap with the new
// instance.
func (b *Binding) OnUpdate(fn func(*schema.Instance)) (cancel func()) {
	h := &updateHook{fn: fn}
	b.mu.Lock()
	b.onUpdate = append(b.onUpdate, h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.onUpdate = removeHook(b.onUpdate, h)
	}
}

// OnRejected registers fn to run after a batch is rejected.
func (b *Binding) OnRejected(fn func(*updater.RejectedBatch)) (cancel func()) {
	h := &rejectedHook{fn: fn}
	b.mu.Lock()
	b.onRejected = append(b.onRejected, h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.onRejected = removeHook(b.onRejected, h)
	}
}

// OnOutOfSync registers fn to run when the binding goes out of sync.
func (b *Binding) OnOutOfSync(fn func(reason error)) (cancel func()) {
	h := &outOfSyncHook{fn: fn}
	b.mu.Lock()
	b.onOutOfSync = append(b.onOutOfSync, h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.onOutOfSync = removeHook(b.onOutOfSync, h)
	}
}

func removeHook[T comparable](list []T, h T) []T {
	for i, other := range list {
		if other == h {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Resync discards the live instance and rebuilds it from the current
// document state, clearing the out-of-sync and diverged flags. Called
// while a delivery is being applied, from a callback or another
// goroutine, the rebuild is queued behind that delivery and Resync
// returns nil.
func (b *Binding) Resync() error {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return ErrDetached
	}
	b.queue = append(b.queue, delivery{resync: true})
	busy := b.draining
	b.draining = true
	b.mu.Unlock()
	metrics.PendingInc()

	if busy {
		return nil
	}
	return b.drain()
}

// rebuild runs on the draining goroutine only.
func (b *Binding) rebuild() error {
	if !b.src.Alive() {
		b.markOutOfSync(ErrSourceDisposed)
		return ErrSourceDisposed
	}
	snap, version, err := snapshot(b.src)
	if err == nil {
		err = b.upd.Binder().CheckShape(snap)
	}
	var next *schema.Instance
	if err == nil {
		next, err = b.upd.Rebuild(snap)
	}
	if err != nil {
		b.markOutOfSync(err)
		return err
	}

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return ErrDetached
	}
	b.live = next
	b.synced = version
	b.outOfSync = nil
	b.diverged = false
	b.stats.Resyncs++
	b.mu.Unlock()

	metrics.Resync()
	b.log.WithField("version", version).Info("binding rebuilt from snapshot")
	b.fireUpdate(next)
	return nil
}

// deliver is the document observer. Deliveries that arrive while a batch
// is being applied are queued and applied by the goroutine already
// draining.
func (b *Binding) deliver(evs []ydoc.Event) {
	d := delivery{}
	if len(evs) > 0 {
		d.version = evs[0].Version()
	}
	d.batches, d.err = normalize.Events(evs)

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	if limit := b.opts.MaxPendingBatches; limit > 0 && len(b.queue) >= limit {
		dropped := len(b.queue)
		b.queue = nil
		b.stats.Dropped += uint64(dropped + 1)
		b.mu.Unlock()
		metrics.PendingDec(dropped)
		metrics.Batch(metrics.ResultDropped)
		b.markOutOfSync(fmt.Errorf("pending queue overflow: %d batches queued", dropped))
		return
	}
	b.queue = append(b.queue, d)
	metrics.PendingInc()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	_ = b.drain()
}

// drain applies queued deliveries until the queue is empty. The caller has
// set b.draining. It returns the result of the first queued resync.
// Callbacks recover their own panics; any other panic marks the binding
// out of sync and releases the queue.
func (b *Binding) drain() (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			pending := len(b.queue)
			b.queue = nil
			b.draining = false
			b.mu.Unlock()
			metrics.PendingDec(pending)
			err = fmt.Errorf("panic while applying a delivery: %v", r)
			b.log.WithError(err).Error("recovered panic")
			b.markOutOfSync(err)
		}
	}()

	resynced := false
	for {
		b.mu.Lock()
		if b.detached || len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return err
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		metrics.PendingDec(1)

		if perr := b.process(next); next.resync && !resynced {
			err, resynced = perr, true
		}
	}
}

func (b *Binding) process(d delivery) error {
	if d.resync {
		return b.rebuild()
	}

	b.mu.Lock()
	covered := d.version != 0 && d.version <= b.synced
	if covered {
		b.stats.Covered++
	}
	b.mu.Unlock()
	if covered {
		b.log.WithField("version", d.version).Debug("delivery already read by rebuild")
		return nil
	}

	if !b.src.Alive() {
		b.drop()
		b.markOutOfSync(ErrSourceDisposed)
		return nil
	}
	if d.err != nil {
		b.drop()
		b.markOutOfSync(d.err)
		return nil
	}

	if b.OutOfSync() != nil {
		if b.opts.AutoResync {
			// The snapshot already contains this delivery.
			_ = b.rebuild()
			return nil
		}
		b.drop()
		return nil
	}

	// Paths of nested batches are taken after the transaction, so they are
	// meaningless below a rejected batch.
	var rejected []patch.Path
	for _, batch := range d.batches {
		if parent, ok := under(batch.Prefix, rejected); ok {
			b.reject(batch, &updater.RejectedBatch{
				Op:  firstOp(batch),
				Err: fmt.Errorf("%w at %s", ErrParentRejected, parent),
			})
			continue
		}
		live, accepted := b.applyBatch(batch, len(rejected) == 0)
		if !live {
			return nil
		}
		if !accepted {
			rejected = append(rejected, batch.Prefix)
		}
	}
	return nil
}

func under(p patch.Path, prefixes []patch.Path) (patch.Path, bool) {
	for _, prefix := range prefixes {
		if prefix.Equal(p) || prefix.IsPrefixOf(p) {
			return prefix, true
		}
	}
	return nil, false
}

func firstOp(batch patch.Batch) patch.Op {
	if len(batch.Ops) == 0 {
		return nil
	}
	return batch.Ops[0]
}

func (b *Binding) drop() {
	b.mu.Lock()
	b.stats.Dropped++
	b.mu.Unlock()
	metrics.Batch(metrics.ResultDropped)
}

// applyBatch applies one batch and runs its callbacks. live is false when
// the binding was detached and the rest of the delivery must be
// discarded; accepted is false when the batch was rejected. A swap clears
// the diverged flag only when clearDiverged is set.
func (b *Binding) applyBatch(batch patch.Batch, clearDiverged bool) (live, accepted bool) {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return false, false
	}
	b.seq++
	seq := b.seq
	cur := b.live
	b.mu.Unlock()

	log := b.log.WithField("batch", seq)
	start := time.Now()
	next, err := b.upd.Apply(cur, batch.Ops)
	metrics.ApplySince(start)

	if err != nil {
		var rejected *updater.RejectedBatch
		if !errors.As(err, &rejected) {
			rejected = &updater.RejectedBatch{Err: err}
		}
		log.WithError(err).Warn("batch rejected")
		b.reject(batch, rejected)
		return true, false
	}

	if next == cur {
		b.mu.Lock()
		b.stats.Empty++
		b.mu.Unlock()
		metrics.Batch(metrics.ResultEmpty)
		log.WithField("prefix", batch.Prefix.String()).Debug("batch changed nothing")
		return true, true
	}

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return false, false
	}
	b.live = next
	if clearDiverged {
		b.diverged = false
	}
	b.stats.Applied++
	b.mu.Unlock()

	metrics.Batch(metrics.ResultApplied)
	log.WithField("ops", batch.Len()).Debug("batch applied")
	b.fireUpdate(next)
	return true, true
}

func (b *Binding) reject(batch patch.Batch, rb *updater.RejectedBatch) {
	b.mu.Lock()
	b.diverged = true
	b.stats.Rejected++
	b.mu.Unlock()
	metrics.Batch(metrics.ResultRejected)
	if errors.Is(rb.Err, ErrParentRejected) {
		b.log.WithField("prefix", batch.Prefix.String()).WithError(rb.Err).Warn("batch skipped")
	}
	b.fireRejected(rb)
}

func (b *Binding) markOutOfSync(reason error) {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	already := b.outOfSync != nil
	b.outOfSync = reason
	if !already {
		b.stats.OutOfSync++
	}
	b.mu.Unlock()

	if already {
		return
	}
	b.log.WithError(reason).Warn("binding out of sync")
	b.fireOutOfSync(reason)
}

func (b *Binding) detach() bool {
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return false
	}
	b.detached = true
	pending := len(b.queue)
	b.queue = nil
	b.onUpdate = nil
	b.onRejected = nil
	b.onOutOfSync = nil
	sub := b.sub
	b.mu.Unlock()

	metrics.PendingDec(pending)
	if sub != nil {
		sub.Unsubscribe()
	}
	return true
}

// Callbacks are looked up one at a time so that a callback which detaches
// the binding or cancels a later hook is honored immediately.

func (b *Binding) fireUpdate(inst *schema.Instance) {
	b.mu.Lock()
	hooks := append([]*updateHook(nil), b.onUpdate...)
	b.mu.Unlock()
	for _, h := range hooks {
		if !b.hookLive(func() bool { return containsHook(b.onUpdate, h) }) {
			continue
		}
		b.safeCall("update", func() { h.fn(inst) })
	}
}

func (b *Binding) fireRejected(rb *updater.RejectedBatch) {
	b.mu.Lock()
	hooks := append([]*rejectedHook(nil), b.onRejected...)
	b.mu.Unlock()
	for _, h := range hooks {
		if !b.hookLive(func() bool { return containsHook(b.onRejected, h) }) {
			continue
		}
		b.safeCall("rejected", func() { h.fn(rb) })
	}
}

func (b *Binding) fireOutOfSync(reason error) {
	b.mu.Lock()
	hooks := append([]*outOfSyncHook(nil), b.onOutOfSync...)
	b.mu.Unlock()
	for _, h := range hooks {
		if !b.hookLive(func() bool { return containsHook(b.onOutOfSync, h) }) {
			continue
		}
		b.safeCall("out-of-sync", func() { h.fn(reason) })
	}
}

func (b *Binding) hookLive(registered func() bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.detached && registered()
}

func containsHook[T comparable](list []T, h T) bool {
	for _, other := range list {
		if other == h {
			return true
		}
	}
	return false
}

func (b *Binding) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("callback", kind).Errorf("recovered callback panic: %v", r)
		}
	}()
	fn()
}
