package ydoc

import (
	"bytes"
	"fmt"

	"github.com/shinyes/yep_model/pkg/hlc"
	"github.com/vmihailenco/msgpack/v5"
)

type opKind uint8

const (
	opMapSet opKind = iota + 1
	opMapDelete
	opSeqInsert
	opSeqDelete
	opSeqFormat
)

// wireOp is the replicated unit. An update is a msgpack array of them.
type wireOp struct {
	Kind   opKind         `msgpack:"k"`
	ID     string         `msgpack:"id"`
	Target string         `msgpack:"t"`
	Key    string         `msgpack:"key,omitempty"`
	Origin string         `msgpack:"o,omitempty"`
	Elem   string         `msgpack:"e,omitempty"`
	TS     hlc.Timestamp  `msgpack:"ts"`
	Value  any            `msgpack:"v"`
	Child  *childRef      `msgpack:"c,omitempty"`
	Attrs  map[string]any `msgpack:"a,omitempty"`
}

type childRef struct {
	ID   string `msgpack:"id"`
	Kind Kind   `msgpack:"k"`
}

func encodeOps(ops []wireOp) ([]byte, error) {
	if ops == nil {
		ops = []wireOp{}
	}
	return msgpack.Marshal(ops)
}

func decodeOps(update []byte) ([]wireOp, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(update))
	dec.UseLooseInterfaceDecoding(true)

	var ops []wireOp
	if err := dec.Decode(&ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for i := range ops {
		if ops[i].ID == "" || ops[i].Target == "" {
			return nil, fmt.Errorf("%w: op %d lacks id or target", ErrMalformedUpdate, i)
		}
		v, err := normalizeValue(ops[i].Value, ops[i].ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		}
		ops[i].Value = v
		attrs, err := normalizeAttrs(ops[i].Attrs, ops[i].ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		}
		ops[i].Attrs = attrs
	}
	return ops, nil
}

// ApplyUpdate integrates a remote update. Ops already seen are ignored, so
// applying the same update twice is harmless. Ops whose dependencies have
// not arrived yet are held back and retried with every later update.
// Observers run after the document lock is released, in commit order
// with local transactions.
func (d *Doc) ApplyUpdate(update []byte) error {
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.destroyed.Load() {
		d.mu.Unlock()
		return ErrDestroyed
	}
	tx := newTxn(d, false)
	queue := append(d.pending, ops...)
	var firstErr error
	for progress := true; progress && len(queue) > 0; {
		progress = false
		rest := queue[:0:0]
		for _, op := range queue {
			_, ready, err := tx.integrate(op)
			switch {
			case err != nil:
				if firstErr == nil {
					firstErr = err
				}
			case ready:
				progress = true
			default:
				rest = append(rest, op)
			}
		}
		queue = rest
	}
	d.pending = queue
	d.enqueueLocked(d.commitLocked(tx))
	d.mu.Unlock()

	d.flush()
	return firstErr
}

// EncodeState returns an update carrying every op this replica holds,
// including ones still waiting for their dependencies. Applying it to an
// empty document reproduces this one.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	ops := make([]wireOp, 0, len(d.log)+len(d.pending))
	ops = append(ops, d.log...)
	ops = append(ops, d.pending...)
	d.mu.Unlock()
	return encodeOps(ops)
}

// Pending returns the number of ops held back for missing dependencies.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
