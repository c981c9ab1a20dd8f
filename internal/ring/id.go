// Package ring implements the Chord identifier space, finger table, routing,
// and membership state for a single node.
package ring

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// ID is a point in the circular key space [0, 2^m).
type ID uint64

// Space describes the circular key space of size 2^m.
type Space struct {
	m    uint
	size uint64
}

// NewSpace returns the key space of size 2^m. m must be in [1, 63] so the
// space fits in a uint64 without wraparound surprises.
func NewSpace(m uint) Space {
	if m == 0 || m > 63 {
		panic(fmt.Sprintf("ring: invalid space width m=%d", m))
	}
	return Space{m: m, size: uint64(1) << m}
}

// M returns the bit width of the space.
func (s Space) M() uint { return s.m }

// Size returns 2^m.
func (s Space) Size() uint64 { return s.size }

// Mod reduces x into [0, 2^m).
func (s Space) Mod(x uint64) ID { return ID(x % s.size) }

// Add returns (a + delta) mod 2^m.
func (s Space) Add(a ID, delta uint64) ID { return s.Mod(uint64(a) + delta) }

// Hash derives an identifier from arbitrary bytes using blake2b-256,
// truncating the digest to the space's bit width. This is the concrete
// instantiation of the opaque hash function the routing algebra depends on;
// any deterministic hash with codomain [0, 2^m) would satisfy the same
// contract, so peers just need to agree on one.
func (s Space) Hash(data []byte) ID {
	sum := blake2b.Sum256(data)
	v := binary.BigEndian.Uint64(sum[:8])
	return s.Mod(v)
}

// HashString hashes a UTF-8 string, e.g. a file name or peer address.
func (s Space) HashString(v string) ID { return s.Hash([]byte(v)) }

// InArc reports whether k lies in the half-open arc (a, b] on the ring.
// When a == b the arc covers the whole ring and every key matches.
func InArc(k, a, b ID) bool {
	if a == b {
		return true
	}
	if a < b {
		return a < k && k <= b
	}
	return k > a || k <= b
}

// Peer is a node's externally reachable address. The host is always carried
// explicitly alongside the port; nothing in this package assumes 127.0.0.1.
type Peer struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr renders the peer as a dialable "host:port" string.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsZero reports whether p is the unset/unknown peer.
func (p Peer) IsZero() bool { return p.Host == "" && p.Port == 0 }

// ID derives the peer's identifier from its address under the given space.
func (p Peer) ID(space Space) ID { return space.HashString(p.Addr()) }

// ParsePeer splits a "host:port" string into a Peer.
func ParsePeer(addr string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Peer{}, fmt.Errorf("ring: invalid peer address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Peer{}, fmt.Errorf("ring: invalid peer port in %q: %w", addr, err)
	}
	return Peer{Host: host, Port: port}, nil
}
