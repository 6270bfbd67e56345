package ydoc

import "sync/atomic"

// Subscription is the handle returned by Observe and ObserveDeep.
type Subscription struct {
	node   *node
	deep   bool
	fn     func(Event)
	deepFn func([]Event)
	active atomic.Bool
}

// Unsubscribe stops delivery. It is safe to call more than once, and from
// inside the subscription's own callback.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}
	d := s.node.doc
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	list := &s.node.observers
	if s.deep {
		list = &s.node.deepObservers
	}
	for i, sub := range *list {
		if sub == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

func (n *node) observe(fn func(Event)) *Subscription {
	s := &Subscription{node: n, fn: fn}
	s.active.Store(true)
	n.doc.obsMu.Lock()
	n.observers = append(n.observers, s)
	n.doc.obsMu.Unlock()
	return s
}

func (n *node) observeDeep(fn func([]Event)) *Subscription {
	s := &Subscription{node: n, deep: true, deepFn: fn}
	s.active.Store(true)
	n.doc.obsMu.Lock()
	n.deepObservers = append(n.deepObservers, s)
	n.doc.obsMu.Unlock()
	return s
}

type shallowCall struct {
	sub *Subscription
	ev  Event
}

type deepCall struct {
	sub *Subscription
	evs []Event
}

// delivery is the resolved set of observer calls for one transaction,
// plus its encoded ops when update hooks must see them.
type delivery struct {
	shallow []shallowCall
	deep    []deepCall
	update  []byte
}

// plan pairs events with observers while the document lock is still held,
// so paths reflect exactly the committed state.
func (d *Doc) plan(events []Event) *delivery {
	out := &delivery{}
	if len(events) == 0 {
		return out
	}

	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	type group struct {
		subs []*Subscription
		evs  []Event
	}
	groups := make(map[*node]*group)
	var order []*node

	for _, ev := range events {
		target := nodeOf(ev.Target())
		abs := ev.Path()

		for _, sub := range target.observers {
			out.shallow = append(out.shallow, shallowCall{sub: sub, ev: ev.withPath(nil)})
		}

		// Walk from the target up to the root; at each ancestor with deep
		// observers the event is re-rooted to that ancestor.
		depth := len(abs)
		for cur := target; cur != nil; cur = cur.parent {
			if len(cur.deepObservers) > 0 {
				g, ok := groups[cur]
				if !ok {
					g = &group{subs: append([]*Subscription(nil), cur.deepObservers...)}
					groups[cur] = g
					order = append(order, cur)
				}
				rel := append([]any(nil), abs[depth:]...)
				g.evs = append(g.evs, ev.withPath(rel))
			}
			depth--
		}
	}

	for _, n := range order {
		g := groups[n]
		for _, sub := range g.subs {
			out.deep = append(out.deep, deepCall{sub: sub, evs: g.evs})
		}
	}
	return out
}

func (d *Doc) dispatch(p *delivery) {
	for _, c := range p.shallow {
		if c.sub.Active() {
			c.sub.fn(c.ev)
		}
	}
	for _, c := range p.deep {
		if c.sub.Active() {
			c.sub.deepFn(c.evs)
		}
	}
	if p.update != nil {
		d.emitUpdate(p.update)
	}
}

func nodeOf(s Shared) *node {
	switch t := s.(type) {
	case *Map:
		return t.n
	case *Array:
		return t.n
	case *Text:
		return t.n
	}
	return nil
}
