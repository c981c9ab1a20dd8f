package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownPeer wraps the error Join returns when bootstrap, the resolved
// successor, or the successor's old predecessor does not answer; callers can
// errors.Is against it to detect "could not reach any peer" distinctly from
// other join failures.
var ErrUnknownPeer = errors.New("ring: no reachable peer")

// Transport is the set of outbound peer calls the ring package needs in
// order to route and maintain the ring. It is satisfied by
// internal/transport.Client; keeping it as an interface here (rather than
// importing the transport package) avoids a dependency cycle between the
// routing/membership logic and the wire layer.
type Transport interface {
	Ping(ctx context.Context, peer Peer) bool
	RequestSuccessor(ctx context.Context, peer Peer, key ID, source Peer) (Peer, bool)
	NotifySuccessor(ctx context.Context, peer Peer, source Peer) (Peer, bool)
	NotifyPredecessor(ctx context.Context, peer Peer, source Peer) bool
	RequestFingers(ctx context.Context, peer Peer) ([]Peer, bool)
}

// Config controls the timing constants and successor-list depth. Reference
// values come from original_source/node.py's module-level constants.
type Config struct {
	SuccessorListSize int
	StabilizeDelay    time.Duration
	PingMaxRetries    int
	PingRetryDelay    time.Duration
}

// DefaultConfig reproduces the reference implementation's constants
// (STABILIZE_DELAY=20s, PING_MAX_RETRIES=3, PING_RETRY_DELAY=20s, r=2).
// The space width m is not part of Config; it is passed to NewSpace.
func DefaultConfig() Config {
	return Config{
		SuccessorListSize: 2,
		StabilizeDelay:    20 * time.Second,
		PingMaxRetries:    3,
		PingRetryDelay:    20 * time.Second,
	}
}

// Node holds one Chord participant's identity and mutable ring state. All
// mutable fields are guarded by mu, which is never held across a network
// call — handlers and maintenance routines copy out what they need, release
// the lock, perform I/O, then re-acquire to commit a change.
type Node struct {
	mu sync.RWMutex

	self  Peer
	space Space
	cfg   Config

	predecessor   Peer // zero value means "unknown"
	fingers       []FingerEntry
	successorList []Peer // successorList[0] always mirrors fingers[0].Successor

	transport Transport
	logger    *zap.Logger
}

// New constructs a node as a singleton ring: its own successor and
// predecessor are itself, matching spec.md §3's "initially self" for both
// links, with no network I/O performed here.
func New(self Peer, space Space, cfg Config, transport Transport, logger *zap.Logger) *Node {
	if cfg.SuccessorListSize < 1 {
		cfg.SuccessorListSize = 1
	}
	return &Node{
		self:          self,
		space:         space,
		cfg:           cfg,
		predecessor:   self,
		fingers:       newFingerTable(self, space),
		successorList: []Peer{self},
		transport:     transport,
		logger:        logger,
	}
}

// Self returns this node's own peer identity.
func (n *Node) Self() Peer { return n.self }

// Space returns the identifier space this node operates in.
func (n *Node) Space() Space { return n.space }

// ID returns this node's identifier.
func (n *Node) ID() ID { return n.self.ID(n.space) }

// CurrentSuccessor returns the authoritative current successor
// (finger_table[0]), per invariant 1 in spec.md §3. It is the cached link;
// use Successor(k) to resolve the owner of an arbitrary key.
func (n *Node) CurrentSuccessor() Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fingers[0].Successor
}

// SuccessorList returns a copy of the cached successor list, used to
// promote a replacement when the immediate successor is detected dead.
func (n *Node) SuccessorList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, len(n.successorList))
	copy(out, n.successorList)
	return out
}

// Predecessor returns the current predecessor, or the zero Peer if unknown.
func (n *Node) Predecessor() Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.predecessor
}

// FingerTable returns a snapshot of the finger table for CLI/debug display.
func (n *Node) FingerTable() []FingerEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]FingerEntry, len(n.fingers))
	copy(out, n.fingers)
	return out
}

// IsSingleton reports whether this node currently believes it is alone in
// the ring (its own successor).
func (n *Node) IsSingleton() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.fingers[0].Successor == n.self
}

// setSuccessor installs peer as the authoritative successor (finger_table[0])
// and as the head of the successor list, maintaining invariant 1.
func (n *Node) setSuccessor(peer Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fingers[0].Successor = peer
	if len(n.successorList) == 0 {
		n.successorList = []Peer{peer}
		return
	}
	n.successorList[0] = peer
}

// SetPredecessor installs peer as the current predecessor.
func (n *Node) SetPredecessor(peer Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.predecessor = peer
}

// replaceSuccessorList overwrites the cached successor list wholesale,
// keeping fingers[0] in sync with the new head.
func (n *Node) replaceSuccessorList(list []Peer) {
	if len(list) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successorList = list
	n.fingers[0].Successor = list[0]
}

func (n *Node) String() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := fmt.Sprintf("id=%d addr=%s\n", n.self.ID(n.space), n.self.Addr())
	out += fmt.Sprintf("  successor:   %s (id=%d)\n", n.fingers[0].Successor.Addr(), n.fingers[0].Successor.ID(n.space))
	if n.predecessor.IsZero() {
		out += "  predecessor: unknown\n"
	} else {
		out += fmt.Sprintf("  predecessor: %s (id=%d)\n", n.predecessor.Addr(), n.predecessor.ID(n.space))
	}
	out += "  finger table:\n"
	for i, f := range n.fingers {
		out += fmt.Sprintf("    [%d] target=%d -> %s (id=%d)\n", i, f.TargetKey, f.Successor.Addr(), f.Successor.ID(n.space))
	}
	return out
}
