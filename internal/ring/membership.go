package ring

import (
	"context"
	"fmt"
)

// Join executes spec.md §4.5 steps 1-3 against bootstrap: resolve this
// node's successor, notify it (learning its old predecessor), then notify
// that predecessor in turn. Step 4 (pulling files into the new arc) and
// marking the node active are the caller's responsibility (internal/node),
// since file ownership is outside this package's concern.
func (n *Node) Join(ctx context.Context, bootstrap Peer) (Peer, error) {
	successor, ok := n.transport.RequestSuccessor(ctx, bootstrap, n.ID(), n.self)
	if !ok {
		return Peer{}, fmt.Errorf("ring: join failed: bootstrap %s unreachable for successor request: %w", bootstrap.Addr(), ErrUnknownPeer)
	}
	n.setSuccessor(successor)
	n.logger.Sugar().Infof("join: resolved successor %s", successor.Addr())

	oldPredecessor, ok := n.transport.NotifySuccessor(ctx, successor, n.self)
	if !ok {
		return Peer{}, fmt.Errorf("ring: join failed: successor %s did not respond to NOTIFY_SUCCESSOR: %w", successor.Addr(), ErrUnknownPeer)
	}
	n.SetPredecessor(oldPredecessor)
	n.logger.Sugar().Infof("join: received predecessor %s", oldPredecessor.Addr())

	if !oldPredecessor.IsZero() && oldPredecessor != n.self {
		if ok := n.transport.NotifyPredecessor(ctx, oldPredecessor, n.self); !ok {
			return Peer{}, fmt.Errorf("ring: join failed: predecessor %s did not accept NOTIFY_PREDECESSOR: %w", oldPredecessor.Addr(), ErrUnknownPeer)
		}
	}

	n.replaceSuccessorList([]Peer{successor})
	return successor, nil
}

// HandleNotifySuccessor implements the NOTIFY_SUCCESSOR handler: reply with
// the current predecessor, then adopt source as the new predecessor.
func (n *Node) HandleNotifySuccessor(source Peer) Peer {
	n.mu.Lock()
	old := n.predecessor
	n.predecessor = source
	n.mu.Unlock()
	n.logger.Sugar().Infof("%s is now my predecessor", source.Addr())
	return old
}

// HandleNotifyPredecessor implements the NOTIFY_PREDECESSOR handler: set
// finger_table[0].successor_addr to source.
func (n *Node) HandleNotifyPredecessor(source Peer) {
	n.setSuccessor(source)
	n.logger.Sugar().Infof("%s is now my successor", source.Addr())
}

// PrepareLeave returns the current successor and predecessor for the
// graceful-leave sequence (spec.md §4.5). The caller (internal/node) owns
// the network round trip and process exit.
func (n *Node) PrepareLeave() (successor, predecessor Peer) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fingers[0].Successor, n.predecessor
}

// HandleNotifyLeave implements the ring-state portion of the NOTIFY_LEAVE
// handler: adopt the leaver's predecessor as our own. File transfer and the
// forwarding NOTIFY_PREDECESSOR call are orchestrated by internal/node,
// which calls this first.
func (n *Node) HandleNotifyLeave(leaverPredecessor Peer) {
	n.SetPredecessor(leaverPredecessor)
	n.logger.Sugar().Infof("predecessor is leaving; new predecessor is %s", leaverPredecessor.Addr())
}

// Reset restores the node to a fresh singleton-ring state. internal/node
// calls this once NOTIFY_LEAVE is confirmed, so a process that stays alive
// after leaving (rather than exiting) is left holding no stale links to the
// ring it just departed.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.predecessor = n.self
	n.fingers = newFingerTable(n.self, n.space)
	n.successorList = []Peer{n.self}
}
