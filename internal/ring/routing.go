package ring

import (
	"context"
	"time"
)

// Successor resolves the peer believed responsible for key k, following
// spec.md §4.3: a single index-order scan of the finger table, answering
// locally when this node owns k, otherwise forwarding exactly one hop to the
// closest preceding known candidate.
func (n *Node) Successor(k ID) (Peer, error) {
	selfID := n.ID()
	if k == selfID {
		return n.self, nil
	}

	n.mu.RLock()
	self := n.self
	selfSuccessor := n.fingers[0].Successor
	fingers := make([]FingerEntry, len(n.fingers))
	copy(fingers, n.fingers)
	n.mu.RUnlock()

	nearestKnown := self
	for _, finger := range fingers {
		c := finger.Successor
		cID := c.ID(n.space)

		if cID > selfID {
			if k > selfID && k <= cID {
				return c, nil
			}
			nearestKnown = c
			continue
		}

		// cID <= selfID: the finger wraps back on to or past this node.
		if cID == selfID {
			if selfSuccessor == self {
				// Singleton ring: every finger is self, so self owns k.
				return self, nil
			}
			break
		}
		if k > selfID || k <= cID {
			return c, nil
		}
		nearestKnown = c
	}

	if nearestKnown == self {
		// No finger improved on self and nothing claimed k outright: the
		// spec's documented safe fallback is this node's own successor
		// rather than the reference's unreachable/undefined branch.
		return selfSuccessor, nil
	}

	forwarded, ok := n.forwardSuccessor(k, nearestKnown)
	if !ok {
		// Best-effort fallback per spec.md §4.3: forwarding failed, so
		// return the last known candidate rather than erroring out.
		return nearestKnown, nil
	}
	return forwarded, nil
}

// forwardSuccessor implements spec.md §4.4: open a client connection to via,
// send REQUEST_SUCCESSOR{key, source}, and return the decoded peer. Ok is
// false on any network failure.
func (n *Node) forwardSuccessor(k ID, via Peer) (Peer, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	return n.transport.RequestSuccessor(ctx, via, k, n.self)
}

const forwardTimeout = 5 * time.Second
