package ring

// FingerEntry is one row of the finger table: the key this entry is
// responsible for routing towards, and the peer currently believed to own it.
type FingerEntry struct {
	TargetKey ID
	Successor Peer
}

// newFingerTable builds the m-entry table for self, with every entry
// initialized to point at self (the singleton-ring starting state).
func newFingerTable(self Peer, space Space) []FingerEntry {
	selfID := self.ID(space)
	m := space.M()
	fingers := make([]FingerEntry, m)
	for i := uint(0); i < m; i++ {
		fingers[i] = FingerEntry{
			TargetKey: space.Add(selfID, uint64(1)<<i),
			Successor: self,
		}
	}
	return fingers
}

// FixFingers re-resolves every finger entry except entry 0, which is owned
// by the membership protocol (join/notify), not by maintenance. If the node
// is presently a singleton ring (successor == self) the refresh is skipped,
// since every entry already correctly points at self.
func (n *Node) FixFingers() {
	n.mu.RLock()
	singleton := n.fingers[0].Successor == n.self
	m := len(n.fingers)
	targets := make([]ID, m)
	for i := range n.fingers {
		targets[i] = n.fingers[i].TargetKey
	}
	n.mu.RUnlock()

	if singleton {
		return
	}

	for i := 1; i < m; i++ {
		peer, err := n.Successor(targets[i])
		if err != nil {
			n.logger.Sugar().Debugf("fix_fingers: entry %d resolution failed: %v", i, err)
			continue
		}
		n.mu.Lock()
		n.fingers[i].Successor = peer
		n.mu.Unlock()
	}
}
