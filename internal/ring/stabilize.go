package ring

import (
	"context"
	"time"
)

// Stabilize runs the periodic background task from spec.md §4.6 until ctx is
// canceled. Each iteration: fix the finger table, then probe the successor's
// liveness; on repeated ping failure, promote the next entry from the
// successor list instead of merely logging (resolving the "no replacement
// promoted" open question).
func (n *Node) Stabilize(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.StabilizeDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.stabilizeOnce(ctx)
		}
	}
}

func (n *Node) stabilizeOnce(ctx context.Context) {
	n.FixFingers()

	successor := n.CurrentSuccessor()
	if successor == n.self {
		return
	}

	if n.pingWithRetries(ctx, successor) {
		n.refreshSuccessorList(ctx, successor)
		return
	}

	n.logger.Sugar().Warnf("stabilize: successor %s is down, promoting replacement", successor.Addr())
	n.promoteSuccessor(successor)
}

// pingWithRetries probes peer up to PingMaxRetries times, waiting
// PingRetryDelay between attempts, matching original_source/node.py's ping
// loop exactly.
func (n *Node) pingWithRetries(ctx context.Context, peer Peer) bool {
	for attempt := 0; attempt < n.cfg.PingMaxRetries; attempt++ {
		if n.transport.Ping(ctx, peer) {
			return true
		}
		if attempt == n.cfg.PingMaxRetries-1 {
			break
		}
		n.logger.Sugar().Debugf("stabilize: no response from %s, retrying in %s", peer.Addr(), n.cfg.PingRetryDelay)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(n.cfg.PingRetryDelay):
		}
	}
	return false
}

// promoteSuccessor drops the dead successor from the cached list and
// installs the next remaining entry. That entry is not pinged first; if it
// is dead too, the next stabilization round drops it the same way. If the
// list is exhausted the node falls back to being its own successor rather
// than keeping a known-dead address.
func (n *Node) promoteSuccessor(dead Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var remaining []Peer
	for _, p := range n.successorList {
		if p != dead {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		remaining = []Peer{n.self}
	}
	n.successorList = remaining
	n.fingers[0].Successor = remaining[0]
	n.logger.Sugar().Infof("stabilize: promoted %s to successor", remaining[0].Addr())
}

// refreshSuccessorList asks the current successor for its own finger table
// (REQUEST_FINGERS) and rebuilds our successor list as that successor
// followed by the first SuccessorListSize-1 distinct entries of its table
// (skipping the successor and this node), keeping it populated without a
// dedicated wire tag.
func (n *Node) refreshSuccessorList(ctx context.Context, successor Peer) {
	peers, ok := n.transport.RequestFingers(ctx, successor)
	if !ok || len(peers) == 0 {
		return
	}

	list := []Peer{successor}
	seen := map[Peer]bool{successor: true, n.self: true}
	for _, p := range peers {
		if len(list) >= n.cfg.SuccessorListSize {
			break
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		list = append(list, p)
	}
	n.replaceSuccessorList(list)
}
