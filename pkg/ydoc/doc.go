// Package ydoc is a small replicated document engine: named root maps,
// arrays and texts that nest inside each other, mutated in transactions,
// observed through change events, and replicated between peers as
// idempotent msgpack-encoded updates.
//
// Maps resolve concurrent writes last-writer-wins by hybrid logical clock;
// arrays and texts are RGA sequences. A Doc serializes writers with a
// mutex. Reads are not synchronized against writes, so a document should
// be read from the goroutine that mutates it or from inside its observers.
package ydoc

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shinyes/yep_model/pkg/hlc"
)

// Doc is one replica of a replicated document.
type Doc struct {
	mu       sync.Mutex
	clientID string
	clock    *hlc.Clock

	nodes map[string]*node
	roots map[string]*node

	seen    map[string]struct{}
	log     []wireOp
	pending []wireOp

	destroyed atomic.Bool
	version   atomic.Uint64

	obsMu     sync.Mutex
	onUpdates []*updateHook

	// Committed transactions wait here for their observers, in commit
	// order. Only one goroutine dispatches at a time.
	queueMu     sync.Mutex
	queue       []*delivery
	dispatching bool
}

type updateHook struct {
	fn func(update []byte)
}

// Option configures a Doc.
type Option func(*Doc)

// WithClientID fixes the replica identifier (a v7 uuid by default).
func WithClientID(id string) Option {
	return func(d *Doc) { d.clientID = id }
}

// WithClock replaces the document clock.
func WithClock(c *hlc.Clock) Option {
	return func(d *Doc) { d.clock = c }
}

// NewDoc creates an empty document.
func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		clock: hlc.New(),
		nodes: make(map[string]*node),
		roots: make(map[string]*node),
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clientID == "" {
		d.clientID = newID()
	}
	return d
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ClientID returns the replica identifier.
func (d *Doc) ClientID() string { return d.clientID }

// Map returns the root map called name, creating it on first use. Root ids
// are derived from the name so every replica resolves the same node.
func (d *Doc) Map(name string) *Map {
	return d.rootNode(name, KindMap).handle.(*Map)
}

// Array returns the root array called name.
func (d *Doc) Array(name string) *Array {
	return d.rootNode(name, KindArray).handle.(*Array)
}

// Text returns the root text called name.
func (d *Doc) Text(name string) *Text {
	return d.rootNode(name, KindText).handle.(*Text)
}

func rootID(name string, kind Kind) string {
	return "root:" + kind.String() + ":" + name
}

func (d *Doc) rootNode(name string, kind Kind) *node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rootNodeLocked(name, kind)
}

func (d *Doc) rootNodeLocked(name string, kind Kind) *node {
	id := rootID(name, kind)
	if n, ok := d.roots[id]; ok {
		return n
	}
	n := newNode(d, id, kind)
	n.root = name
	d.roots[id] = n
	d.nodes[id] = n
	return n
}

// Transact runs fn as one transaction. Changes made by fn are committed
// even when fn returns an error, which is then returned. Observers and
// update hooks run after the document lock is released, transaction by
// transaction in commit order: a transaction started from an observer, or
// while another goroutine is dispatching, is delivered once the deliveries
// ahead of it finish. fn must not call Transact on the same document.
func (d *Doc) Transact(fn func(tx *Txn) error) error {
	d.mu.Lock()
	if d.destroyed.Load() {
		d.mu.Unlock()
		return ErrDestroyed
	}
	tx := newTxn(d, true)
	fnErr := fn(tx)
	out := d.commitLocked(tx)
	var encErr error
	if len(tx.ops) > 0 {
		out.update, encErr = encodeOps(tx.ops)
	}
	d.enqueueLocked(out)
	d.mu.Unlock()

	d.flush()
	if fnErr != nil {
		return fnErr
	}
	return encErr
}

// enqueueLocked queues a committed delivery. The caller holds d.mu, which
// fixes the queue order to the commit order.
func (d *Doc) enqueueLocked(out *delivery) {
	d.queueMu.Lock()
	d.queue = append(d.queue, out)
	d.queueMu.Unlock()
}

// flush dispatches queued deliveries unless another call is already doing
// so, in which case that call picks them up.
func (d *Doc) flush() {
	d.queueMu.Lock()
	if d.dispatching {
		d.queueMu.Unlock()
		return
	}
	d.dispatching = true
	d.queueMu.Unlock()

	finished := false
	defer func() {
		if !finished {
			d.queueMu.Lock()
			d.dispatching = false
			d.queueMu.Unlock()
		}
	}()
	for {
		d.queueMu.Lock()
		if len(d.queue) == 0 {
			d.dispatching = false
			finished = true
			d.queueMu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.queueMu.Unlock()

		d.dispatch(next)
	}
}

// Version counts the transactions committed so far, local and remote.
func (d *Doc) Version() uint64 { return d.version.Load() }

// View runs fn while holding the writer lock, so what fn reads is exactly
// the state at the version it is given. fn must not start a transaction
// or look up a root type.
func (d *Doc) View(fn func(version uint64) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.version.Load())
}

// OnUpdate registers fn to receive the encoded ops of every local
// transaction. The returned func removes the hook.
func (d *Doc) OnUpdate(fn func(update []byte)) (cancel func()) {
	hook := &updateHook{fn: fn}
	d.obsMu.Lock()
	d.onUpdates = append(d.onUpdates, hook)
	d.obsMu.Unlock()
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		for i, h := range d.onUpdates {
			if h == hook {
				d.onUpdates = append(d.onUpdates[:i], d.onUpdates[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) emitUpdate(update []byte) {
	d.obsMu.Lock()
	hooks := append([]*updateHook(nil), d.onUpdates...)
	d.obsMu.Unlock()
	for _, h := range hooks {
		h.fn(update)
	}
}

// Destroy tears the document down: observers and hooks are dropped, every
// shared type reports Alive() == false, and further transactions fail.
func (d *Doc) Destroy() {
	d.mu.Lock()
	d.destroyed.Store(true)
	nodes := make([]*node, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	d.mu.Unlock()

	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.onUpdates = nil
	for _, n := range nodes {
		n.observers = nil
		n.deepObservers = nil
	}
}

// Destroyed reports whether Destroy has been called.
func (d *Doc) Destroyed() bool { return d.destroyed.Load() }
