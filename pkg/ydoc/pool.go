package ydoc

import "sync"

// Pool wires a set of in-process replicas together: every local update of
// one peer is applied to all peers. Updates are idempotent, so echoing an
// update back to its origin is harmless.
type Pool struct {
	mu    sync.Mutex
	peers []*Doc
	opts  []Option

	// OnError receives failures of ApplyUpdate during broadcast.
	OnError func(peer *Doc, err error)
}

// NewPool creates an empty pool; opts apply to every peer it creates.
func NewPool(opts ...Option) *Pool {
	return &Pool{opts: opts}
}

// NewPeer creates a replica, brings it up to date with the first peer and
// joins it to the pool.
func (p *Pool) NewPeer() (*Doc, error) {
	d := NewDoc(p.opts...)

	p.mu.Lock()
	var seed *Doc
	if len(p.peers) > 0 {
		seed = p.peers[0]
	}
	p.mu.Unlock()

	if seed != nil {
		state, err := seed.EncodeState()
		if err != nil {
			return nil, err
		}
		if err := d.ApplyUpdate(state); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.peers = append(p.peers, d)
	p.mu.Unlock()
	d.OnUpdate(p.broadcast)
	return d, nil
}

func (p *Pool) broadcast(update []byte) {
	for _, peer := range p.Peers() {
		if peer.Destroyed() {
			continue
		}
		if err := peer.ApplyUpdate(update); err != nil && p.OnError != nil {
			p.OnError(peer, err)
		}
	}
}

// Peers returns the pool members in join order.
func (p *Pool) Peers() []*Doc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Doc(nil), p.peers...)
}
