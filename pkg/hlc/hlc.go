// Package hlc implements the hybrid logical clock that orders writes in a
// replicated document.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

const (
	logicalBits = 16
	logicalMask = 1<<logicalBits - 1
)

// Timestamp packs wall-clock milliseconds into the high 48 bits and a
// logical counter into the low 16 bits, so plain integer comparison
// matches causal order.
type Timestamp int64

// Physical returns the wall-clock part in Unix milliseconds.
func (t Timestamp) Physical() int64 { return int64(t) >> logicalBits }

// Logical returns the counter part.
func (t Timestamp) Logical() uint16 { return uint16(int64(t) & logicalMask) }

// Compare returns -1, 0 or 1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	}
	return 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Physical(), t.Logical())
}

func pack(phys int64, logical int64) Timestamp {
	if logical > logicalMask {
		phys++
		logical = 0
	}
	return Timestamp(phys<<logicalBits | logical)
}

// Clock hands out strictly increasing timestamps and absorbs timestamps
// observed from remote peers.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	wall func() time.Time
}

// New creates a clock backed by time.Now.
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource creates a clock reading wall time from src.
func NewWithSource(src func() time.Time) *Clock {
	return &Clock{wall: src}
}

// Now returns a timestamp greater than any previously returned or observed.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall().UnixMilli()
	if phys > c.last.Physical() {
		c.last = pack(phys, 0)
	} else {
		c.last = pack(c.last.Physical(), int64(c.last.Logical())+1)
	}
	return c.last
}

// Observe merges a remote timestamp so that subsequent calls to Now are
// ordered after it.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall().UnixMilli()
	local := c.last

	next := max(local.Physical(), remote.Physical(), phys)
	var logical int64
	switch {
	case next == local.Physical() && next == remote.Physical():
		logical = int64(max(local.Logical(), remote.Logical())) + 1
	case next == local.Physical():
		logical = int64(local.Logical()) + 1
	case next == remote.Physical():
		logical = int64(remote.Logical()) + 1
	}
	c.last = pack(next, logical)
}

// Last returns the latest timestamp handed out or observed.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
