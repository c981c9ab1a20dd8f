// Package node composes the ring and store packages into the handler that
// the transport server dispatches to, and drives the top-level join/leave
// and CLI-facing operations.
package node

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"chordring/internal/ring"
	"chordring/internal/store"
	"chordring/internal/transport"
)

// Service is the single per-process object binding ring membership, local
// file storage, and the wire client together. It implements
// transport.Handler.
type Service struct {
	ring   *ring.Node
	store  *store.Store
	client *transport.Client
	logger *zap.Logger

	mu     sync.Mutex
	active bool
}

// Config bundles the construction parameters for a Service.
type Config struct {
	Self       ring.Peer
	Space      ring.Space
	RingConfig ring.Config
	StorageDir string
}

// New constructs a Service as a singleton ring with an empty/pre-populated
// local store (whatever StorageDir already contains on disk).
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	client := transport.NewClient(logger)
	ringNode := ring.New(cfg.Self, cfg.Space, cfg.RingConfig, client, logger)

	st, err := store.New(cfg.StorageDir, cfg.Space, cfg.Self, ringNode, client, logger)
	if err != nil {
		return nil, fmt.Errorf("node: build store: %w", err)
	}

	return &Service{
		ring:   ringNode,
		store:  st,
		client: client,
		logger: logger,
	}, nil
}

// Ring exposes the underlying ring node for the CLI's info/fingertable
// commands.
func (s *Service) Ring() *ring.Node { return s.ring }

// Store exposes the underlying file store for the CLI's files/get/put
// commands.
func (s *Service) Store() *store.Store { return s.store }

// Stabilize runs the background maintenance loop; callers run this in its
// own goroutine for the service's lifetime.
func (s *Service) Stabilize(ctx context.Context) {
	s.ring.Stabilize(ctx)
}

// Join implements spec.md §4.5 end to end: ring-level join (steps 1-3),
// pulling newly-owned files from the successor (step 4), then marking the
// node active. Any failure leaves the node inactive; the caller is expected
// to terminate the process per the spec's "any failure in steps 1-4
// terminates the process" directive.
func (s *Service) Join(ctx context.Context, bootstrap ring.Peer) error {
	successor, err := s.ring.Join(ctx, bootstrap)
	if err != nil {
		return fmt.Errorf("node: join via %s: %w", bootstrap.Addr(), err)
	}

	if err := s.store.RequestFiles(ctx, successor, false); err != nil {
		return fmt.Errorf("node: pull files from %s after join: %w", successor.Addr(), err)
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.logger.Sugar().Infof("node: joined ring via %s, successor is %s", bootstrap.Addr(), successor.Addr())
	return nil
}

// Bootstrap marks a freshly started singleton node active without
// contacting any peer, used when no --bootstrap address is given.
func (s *Service) Bootstrap() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

// Leave implements the graceful-leave protocol (spec.md §4.5 "stop"). If
// this node is the only member of the ring, there is nothing to hand off and
// the call returns immediately so the caller can exit.
func (s *Service) Leave(ctx context.Context) error {
	if s.ring.IsSingleton() {
		return nil
	}

	successor, predecessor := s.ring.PrepareLeave()
	if ok := s.client.NotifyLeave(ctx, successor, s.ring.Self(), predecessor); !ok {
		return fmt.Errorf("node: leave: successor %s did not confirm", successor.Addr())
	}
	s.ring.Reset()
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	return nil
}

// --- transport.Handler implementation ---

func (s *Service) HandlePing(context.Context, ring.Peer) string {
	return "Pong!"
}

func (s *Service) HandleRequestSuccessor(_ context.Context, _ ring.Peer, key ring.ID) (ring.Peer, bool) {
	peer, err := s.ring.Successor(key)
	if err != nil {
		return ring.Peer{}, false
	}
	return peer, true
}

func (s *Service) HandleNotifySuccessor(_ context.Context, source ring.Peer) ring.Peer {
	return s.ring.HandleNotifySuccessor(source)
}

func (s *Service) HandleNotifyPredecessor(_ context.Context, source ring.Peer) {
	s.ring.HandleNotifyPredecessor(source)
}

func (s *Service) HandleRequestFingers(context.Context) []ring.Peer {
	fingers := s.ring.FingerTable()
	out := make([]ring.Peer, len(fingers))
	for i, f := range fingers {
		out[i] = f.Successor
	}
	return out
}

func (s *Service) HandleRequestFilesList(context.Context) []string {
	return s.store.ServeFilesList()
}

func (s *Service) HandleRequestFile(_ context.Context, _ ring.Peer, filename string) (io.ReadCloser, int64, bool) {
	r, size, ok := s.store.ServeFile(filename)
	if !ok {
		return nil, 0, true
	}
	return r, size, false
}

// HandleNotifyLeave implements spec.md §4.5's handler side for NOTIFY_LEAVE:
// adopt the leaver's predecessor, pull every file the leaver still holds,
// then tell the new predecessor its successor moved to this node.
func (s *Service) HandleNotifyLeave(ctx context.Context, source, predecessor ring.Peer) error {
	s.ring.HandleNotifyLeave(predecessor)

	if err := s.store.RequestFiles(ctx, source, true); err != nil {
		s.logger.Sugar().Warnf("node: failed to pull files from departing %s: %v", source.Addr(), err)
	}

	if !predecessor.IsZero() && predecessor != s.ring.Self() {
		if ok := s.client.NotifyPredecessor(ctx, predecessor, s.ring.Self()); !ok {
			return fmt.Errorf("node: could not notify %s of new successor", predecessor.Addr())
		}
	}
	return nil
}

func (s *Service) HandleRequestPut(ctx context.Context, source ring.Peer, filename string) {
	if err := s.store.RequestFile(ctx, source, filename); err != nil {
		s.logger.Sugar().Warnf("node: request-put pull of %s from %s failed: %v", filename, source.Addr(), err)
	}
}

func (s *Service) HandleTransferAck(_ context.Context, filename string, success bool) {
	if success {
		s.store.TransferOut(filename)
	}
}
