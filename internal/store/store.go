// Package store tracks the file names a node holds locally and implements
// the request/put/get/transfer protocol from spec.md §4.7.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"chordring/internal/ring"
)

// ErrFileExists is returned when a transfer or put targets a name already
// held locally.
var ErrFileExists = errors.New("store: file already exists locally")

// ErrFileAbsent is returned when a peer has no file by the requested name.
var ErrFileAbsent = errors.New("store: requested file does not exist")

// Resolver answers "who owns this key", letting the store ask the ring for
// ownership without the ring package needing to know about file storage.
type Resolver interface {
	Successor(key ring.ID) (ring.Peer, error)
}

// Transport is the subset of outbound peer calls the store needs.
type Transport interface {
	RequestFilesList(ctx context.Context, peer ring.Peer) ([]string, bool)
	RequestFile(ctx context.Context, peer ring.Peer, name string) (size int64, absent bool, body io.ReadCloser, err error)
	SendTransferAck(ctx context.Context, peer ring.Peer, name string, success bool) bool
	RequestPut(ctx context.Context, peer ring.Peer, name string, source ring.Peer) bool
}

// Store holds the set of file names this node currently serves from dir.
type Store struct {
	mu    sync.RWMutex
	dir   string
	files map[string]struct{}

	space     ring.Space
	self      ring.Peer
	resolver  Resolver
	transport Transport
	logger    *zap.Logger
}

// New creates a store rooted at dir. Unlike the Python reference (which
// scavenges the script's own working directory for "files", excluding its
// own source), this implementation uses a dedicated storage directory, since
// a long-running Go service does not live beside interpretable source; dir
// is created if absent and scanned for its initial file set.
func New(dir string, space ring.Space, self ring.Peer, resolver Resolver, transport Transport, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create storage dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: read storage dir: %w", err)
	}
	files := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files[e.Name()] = struct{}{}
	}
	return &Store{
		dir:       dir,
		files:     files,
		space:     space,
		self:      self,
		resolver:  resolver,
		transport: transport,
		logger:    logger,
	}, nil
}

// Files returns the locally held file names, in no particular order.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	return out
}

// Has reports whether name is currently stored locally.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[name]
	return ok
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = struct{}{}
}

func (s *Store) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
}

// ServeFilesList answers REQUEST_FILES_LIST.
func (s *Store) ServeFilesList() []string { return s.Files() }

// ServeFile answers REQUEST_FILE: it opens the local file for streaming, or
// reports absence. The caller is responsible for closing the returned
// ReadCloser.
func (s *Store) ServeFile(name string) (r io.ReadCloser, size int64, ok bool) {
	s.mu.RLock()
	_, present := s.files[name]
	s.mu.RUnlock()
	if !present {
		return nil, 0, false
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, 0, false
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, false
	}
	return f, info.Size(), true
}

// ReceiveFile writes size bytes read from src under name, refusing to
// overwrite an existing local file per spec.md §4.7. RequestFile calls this
// with the peer's wire body once the transfer header is known; tests call it
// directly with an in-memory reader.
func (s *Store) ReceiveFile(name string, size int64, src io.Reader) error {
	if s.Has(name) {
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	f, err := os.Create(s.path(name))
	if err != nil {
		return fmt.Errorf("store: create %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.CopyN(f, src, size); err != nil {
		os.Remove(s.path(name))
		return fmt.Errorf("store: receive %s: %w", name, err)
	}
	s.add(name)
	return nil
}

// RequestFiles implements spec.md §4.7's request_files: pull the peer's file
// list and download either all of it (downloadAll, used for NOTIFY_LEAVE
// handoff) or just the names that now hash into this node's arc.
func (s *Store) RequestFiles(ctx context.Context, peer ring.Peer, downloadAll bool) error {
	names, ok := s.transport.RequestFilesList(ctx, peer)
	if !ok {
		return fmt.Errorf("store: could not list files from %s", peer.Addr())
	}

	var toFetch []string
	if downloadAll {
		toFetch = names
	} else {
		for _, name := range names {
			owner, err := s.resolver.Successor(s.space.HashString(name))
			if err == nil && owner == s.self {
				toFetch = append(toFetch, name)
			}
		}
	}

	if len(toFetch) == 0 {
		s.logger.Sugar().Debugf("store: no files to pull from %s", peer.Addr())
		return nil
	}
	for _, name := range toFetch {
		if err := s.RequestFile(ctx, peer, name); err != nil {
			s.logger.Sugar().Warnf("store: failed to pull %s from %s: %v", name, peer.Addr(), err)
		}
	}
	return nil
}

// RequestFile implements request_file: fetch a single named file from peer.
// On success it acknowledges the transfer so the sender can drop the name
// from its own file set (resolving spec.md §9's "senders don't remove
// handed-off files"). The
// actual write-to-disk step is shared with ReceiveFile.
func (s *Store) RequestFile(ctx context.Context, peer ring.Peer, name string) error {
	if s.Has(name) {
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}

	size, absent, body, err := s.transport.RequestFile(ctx, peer, name)
	if err != nil {
		return fmt.Errorf("store: transfer of %s from %s failed: %w", name, peer.Addr(), err)
	}
	if absent {
		return fmt.Errorf("%w: %s on %s", ErrFileAbsent, name, peer.Addr())
	}
	defer body.Close()

	if err := s.ReceiveFile(name, size, body); err != nil {
		return fmt.Errorf("store: transfer of %s from %s failed: %w", name, peer.Addr(), err)
	}

	s.logger.Sugar().Infof("store: received %s (%d bytes) from %s", name, size, peer.Addr())
	s.transport.SendTransferAck(ctx, peer, name, true)
	return nil
}

// TransferOut is called on the sending side once the receiver has
// acknowledged a complete transfer: only then is the name removed from the
// local file set. The file itself is left on disk.
func (s *Store) TransferOut(name string) {
	s.remove(name)
}

// PutFile implements put_file: require local availability, resolve the
// owner of H(name), and either keep it here or forward a REQUEST_PUT.
func (s *Store) PutFile(ctx context.Context, name string) error {
	if !s.Has(name) {
		return fmt.Errorf("%w: %s not held locally", ErrFileAbsent, name)
	}
	target, err := s.resolver.Successor(s.space.HashString(name))
	if err != nil {
		return fmt.Errorf("store: resolve owner of %s: %w", name, err)
	}
	if target == s.self {
		return nil
	}
	if ok := s.transport.RequestPut(ctx, target, name, s.self); !ok {
		return fmt.Errorf("store: failed to forward put of %s to %s", name, target.Addr())
	}
	return nil
}

// GetFile implements get_file: resolve the owner of H(name) and fetch it.
func (s *Store) GetFile(ctx context.Context, name string) error {
	owner, err := s.resolver.Successor(s.space.HashString(name))
	if err != nil {
		return fmt.Errorf("store: resolve owner of %s: %w", name, err)
	}
	return s.RequestFile(ctx, owner, name)
}
