package ring

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory stand-in for internal/transport.Client,
// routing calls directly to other *Node instances registered under the same
// peer key. It lets the routing/membership/stabilize tests in this package
// exercise multi-node scenarios without opening real sockets.
type fakeTransport struct {
	mu    sync.Mutex
	nodes map[Peer]*Node
	down  map[Peer]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nodes: make(map[Peer]*Node), down: make(map[Peer]bool)}
}

func (f *fakeTransport) register(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.Self()] = n
}

func (f *fakeTransport) setDown(p Peer, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[p] = down
}

func (f *fakeTransport) lookup(p Peer) (*Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[p] {
		return nil, false
	}
	n, ok := f.nodes[p]
	return n, ok
}

func (f *fakeTransport) Ping(_ context.Context, peer Peer) bool {
	_, ok := f.lookup(peer)
	return ok
}

func (f *fakeTransport) RequestSuccessor(_ context.Context, peer Peer, key ID, _ Peer) (Peer, bool) {
	n, ok := f.lookup(peer)
	if !ok {
		return Peer{}, false
	}
	succ, err := n.Successor(key)
	if err != nil {
		return Peer{}, false
	}
	return succ, true
}

func (f *fakeTransport) NotifySuccessor(_ context.Context, peer Peer, source Peer) (Peer, bool) {
	n, ok := f.lookup(peer)
	if !ok {
		return Peer{}, false
	}
	return n.HandleNotifySuccessor(source), true
}

func (f *fakeTransport) NotifyPredecessor(_ context.Context, peer Peer, source Peer) bool {
	n, ok := f.lookup(peer)
	if !ok {
		return false
	}
	n.HandleNotifyPredecessor(source)
	return true
}

func (f *fakeTransport) RequestFingers(_ context.Context, peer Peer) ([]Peer, bool) {
	n, ok := f.lookup(peer)
	if !ok {
		return nil, false
	}
	fingers := n.FingerTable()
	out := make([]Peer, len(fingers))
	for i, fe := range fingers {
		out[i] = fe.Successor
	}
	return out, true
}
