package ydoc

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Txn is an open transaction. It records the state each touched type had
// before its first change so that commit can describe the net effect.
type Txn struct {
	doc     *Doc
	local   bool
	closed  bool
	version uint64
	ops     []wireOp

	touched    []*node
	touchedSet map[*node]bool
	mapBefore  map[*node]map[string]*mapEntry
	mapOrder   map[*node][]string
	seqBefore  map[*node]map[string]bool
	attrBefore map[*node]map[string]map[string]any
	created    map[*node]bool
}

func newTxn(d *Doc, local bool) *Txn {
	return &Txn{
		doc:        d,
		local:      local,
		touchedSet: make(map[*node]bool),
		mapBefore:  make(map[*node]map[string]*mapEntry),
		mapOrder:   make(map[*node][]string),
		seqBefore:  make(map[*node]map[string]bool),
		attrBefore: make(map[*node]map[string]map[string]any),
		created:    make(map[*node]bool),
	}
}

// Local reports whether the transaction was started by Transact rather
// than by applying a remote update.
func (tx *Txn) Local() bool { return tx.local }

func (tx *Txn) check(n *node) error {
	if tx.closed {
		return ErrTxnClosed
	}
	if tx.doc != n.doc {
		return ErrForeignTxn
	}
	if !n.reachable() {
		return ErrUnreachable
	}
	return nil
}

func (tx *Txn) markTouched(n *node) {
	if !tx.touchedSet[n] {
		tx.touchedSet[n] = true
		tx.touched = append(tx.touched, n)
	}
}

func (tx *Txn) touchKey(n *node, key string) {
	before, ok := tx.mapBefore[n]
	if !ok {
		before = make(map[string]*mapEntry)
		tx.mapBefore[n] = before
		tx.markTouched(n)
	}
	if _, seen := before[key]; seen {
		return
	}
	e, _ := n.liveEntry(key)
	before[key] = e
	tx.mapOrder[n] = append(tx.mapOrder[n], key)
}

func (tx *Txn) touchSeq(n *node) {
	if _, ok := tx.seqBefore[n]; ok {
		return
	}
	ids := make(map[string]bool, len(n.elems))
	for _, e := range n.elems {
		if !e.deleted {
			ids[e.id] = true
		}
	}
	tx.seqBefore[n] = ids
	tx.markTouched(n)
}

// touchFormat records the attributes e had before its first format in tx.
func (tx *Txn) touchFormat(n *node, e *elem) {
	tx.touchSeq(n)
	before, ok := tx.attrBefore[n]
	if !ok {
		before = make(map[string]map[string]any)
		tx.attrBefore[n] = before
	}
	if _, seen := before[e.id]; !seen {
		before[e.id] = e.attributes()
	}
}

// emit stamps a locally generated op and integrates it.
func (tx *Txn) emit(op wireOp) (any, error) {
	if op.ID == "" {
		op.ID = newID()
	}
	op.TS = tx.doc.clock.Now()
	value, ready, err := tx.integrate(op)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, fmt.Errorf("%w: local op %s has unresolved dependencies", ErrMalformedUpdate, op.ID)
	}
	return value, nil
}

// integrate applies op to the document. ready is false when the op
// depends on a type or vertex this replica has not seen yet; value is the
// stored value (a *node for nested types) when the op wrote one.
func (tx *Txn) integrate(op wireOp) (value any, ready bool, err error) {
	d := tx.doc
	if _, dup := d.seen[op.ID]; dup {
		return nil, true, nil
	}

	target, ok := d.nodes[op.Target]
	if !ok {
		name, kind, isRoot := parseRootID(op.Target)
		if !isRoot {
			return nil, false, nil
		}
		target = d.rootNodeLocked(name, kind)
	}

	switch op.Kind {
	case opMapSet, opMapDelete:
		if target.kind != KindMap {
			return nil, true, fmt.Errorf("%w: map op on %s %s", ErrMalformedUpdate, target.kind, target.id)
		}
		cur := target.entries[op.Key]
		var stored any
		if op.Kind == opMapSet {
			// A losing nested type is still created, detached, so ops that
			// target it later integrate instead of waiting forever.
			stored = tx.materialize(op, target, op.Key, "")
		}
		if cur == nil || op.TS > cur.ts || (op.TS == cur.ts && op.ID > cur.opID) {
			tx.touchKey(target, op.Key)
			target.entries[op.Key] = &mapEntry{opID: op.ID, ts: op.TS, value: stored, deleted: op.Kind == opMapDelete}
			value = stored
		}

	case opSeqInsert:
		if target.kind == KindMap {
			return nil, true, fmt.Errorf("%w: sequence op on map %s", ErrMalformedUpdate, target.id)
		}
		if op.Origin != "" && target.byID[op.Origin] == nil {
			return nil, false, nil
		}
		if err := checkSeqItem(target, op); err != nil {
			return nil, true, err
		}
		tx.touchSeq(target)
		v := &elem{id: op.ID, origin: op.Origin, ts: op.TS}
		v.value = tx.materialize(op, target, "", op.ID)
		for k, a := range op.Attrs {
			v.setAttr(k, a, op.TS, op.ID)
		}
		target.integrateElem(v)
		value = v.value

	case opSeqDelete:
		if target.kind == KindMap {
			return nil, true, fmt.Errorf("%w: sequence op on map %s", ErrMalformedUpdate, target.id)
		}
		e := target.byID[op.Elem]
		if e == nil {
			return nil, false, nil
		}
		if !e.deleted {
			tx.touchSeq(target)
			e.deleted = true
		}

	case opSeqFormat:
		if target.kind != KindText {
			return nil, true, fmt.Errorf("%w: format op on %s %s", ErrMalformedUpdate, target.kind, target.id)
		}
		e := target.byID[op.Elem]
		if e == nil {
			return nil, false, nil
		}
		if !e.deleted {
			tx.touchFormat(target, e)
		}
		for k, a := range op.Attrs {
			e.setAttr(k, a, op.TS, op.ID)
		}

	default:
		return nil, true, fmt.Errorf("%w: unknown op kind %d", ErrMalformedUpdate, op.Kind)
	}

	d.seen[op.ID] = struct{}{}
	d.log = append(d.log, op)
	tx.ops = append(tx.ops, op)
	if !tx.local {
		d.clock.Observe(op.TS)
	}
	return value, true, nil
}

// checkSeqItem enforces what a sequence vertex may hold: text vertices are
// one-rune strings or non-string embeds, never nested types, and only they
// carry attributes.
func checkSeqItem(target *node, op wireOp) error {
	if target.kind != KindText {
		if len(op.Attrs) > 0 {
			return fmt.Errorf("%w: attributes on %s item %s", ErrMalformedUpdate, target.kind, op.ID)
		}
		return nil
	}
	if op.Child != nil {
		return fmt.Errorf("%w: nested type inside text %s", ErrMalformedUpdate, target.id)
	}
	if s, ok := op.Value.(string); ok && utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("%w: text item %q is not one character", ErrMalformedUpdate, s)
	}
	return nil
}

func (tx *Txn) materialize(op wireOp, parent *node, key, elemID string) any {
	if op.Child == nil {
		return op.Value
	}
	child := newNode(tx.doc, op.Child.ID, op.Child.Kind)
	child.parent = parent
	child.parentKey = key
	child.parentElem = elemID
	tx.doc.nodes[child.id] = child
	tx.created[child] = true
	return child
}

func parseRootID(id string) (string, Kind, bool) {
	rest, ok := strings.CutPrefix(id, "root:")
	if !ok {
		return "", 0, false
	}
	kindName, name, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, false
	}
	for _, k := range []Kind{KindMap, KindArray, KindText} {
		if k.String() == kindName {
			return name, k, true
		}
	}
	return "", 0, false
}

// bornIn reports whether n, or one of its ancestors, was created by tx.
// Such types raise no event: the insert of the outermost new type carries
// their content.
func (tx *Txn) bornIn(n *node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if tx.created[cur] {
			return true
		}
	}
	return false
}

// commitLocked closes tx, derives its events and resolves the observers
// that must see them. The caller holds d.mu.
func (d *Doc) commitLocked(tx *Txn) *delivery {
	tx.closed = true
	tx.version = d.version.Add(1)

	nodes := append([]*node(nil), tx.touched...)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].depth() < nodes[j].depth()
	})

	var events []Event
	for _, n := range nodes {
		if tx.bornIn(n) {
			continue
		}
		path, ok := n.path()
		if !ok {
			continue
		}
		var ev Event
		switch n.kind {
		case KindMap:
			ev = tx.mapEvent(n, path)
		case KindArray:
			ev = tx.arrayEvent(n, path)
		case KindText:
			ev = tx.textEvent(n, path)
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return d.plan(events)
}
