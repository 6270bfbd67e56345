package bridge

import "errors"

var (
	// ErrOutOfSync marks a binding whose model is known to be stale. It is
	// a state, reported by Current, not raised from delivery.
	ErrOutOfSync = errors.New("bridge: binding out of sync")
	// ErrSourceDisposed reports a shared type whose document was destroyed
	// or that was removed from its document.
	ErrSourceDisposed = errors.New("bridge: shared type disposed")
	// ErrDetached is returned by operations on a detached binding.
	ErrDetached = errors.New("bridge: binding detached")
	// ErrParentRejected rejects a batch nested under a batch of the same
	// transaction that was rejected.
	ErrParentRejected = errors.New("bridge: enclosing batch rejected")
)
