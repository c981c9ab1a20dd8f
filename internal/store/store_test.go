package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chordring/internal/ring"
)

type fakeResolver struct {
	owner ring.Peer
}

func (f fakeResolver) Successor(ring.ID) (ring.Peer, error) { return f.owner, nil }

type fakeTransport struct {
	filesByPeer map[ring.Peer][]string
	dataByPeer  map[ring.Peer]map[string][]byte
	acked       []string
	putCalls    []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		filesByPeer: map[ring.Peer][]string{},
		dataByPeer:  map[ring.Peer]map[string][]byte{},
	}
}

func (f *fakeTransport) RequestFilesList(_ context.Context, peer ring.Peer) ([]string, bool) {
	names, ok := f.filesByPeer[peer]
	return names, ok
}

func (f *fakeTransport) RequestFile(_ context.Context, peer ring.Peer, name string) (int64, bool, io.ReadCloser, error) {
	data, ok := f.dataByPeer[peer][name]
	if !ok {
		return 0, true, nil, nil
	}
	return int64(len(data)), false, io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeTransport) SendTransferAck(_ context.Context, _ ring.Peer, name string, success bool) bool {
	if success {
		f.acked = append(f.acked, name)
	}
	return true
}

func (f *fakeTransport) RequestPut(_ context.Context, _ ring.Peer, name string, _ ring.Peer) bool {
	f.putCalls = append(f.putCalls, name)
	return true
}

func newTestStore(t *testing.T, self ring.Peer, transport *fakeTransport, resolver Resolver) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, ring.NewSpace(8), self, resolver, transport, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestRequestFileDownloadsAndAcks(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	peer := ring.Peer{Host: "127.0.0.1", Port: 2222}
	transport := newFakeTransport()
	transport.dataByPeer[peer] = map[string][]byte{"movie.mp4": []byte("hello world")}

	s := newTestStore(t, self, transport, fakeResolver{owner: self})

	err := s.RequestFile(context.Background(), peer, "movie.mp4")
	require.NoError(t, err)
	require.True(t, s.Has("movie.mp4"))
	require.Contains(t, transport.acked, "movie.mp4")
}

func TestRequestFileRefusesExistingName(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: self})

	require.NoError(t, os.WriteFile(s.path("dup.txt"), []byte("x"), 0o644))
	s.add("dup.txt")

	err := s.RequestFile(context.Background(), ring.Peer{Host: "127.0.0.1", Port: 2222}, "dup.txt")
	require.ErrorIs(t, err, ErrFileExists)
}

func TestRequestFileReportsAbsence(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	peer := ring.Peer{Host: "127.0.0.1", Port: 2222}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: self})

	err := s.RequestFile(context.Background(), peer, "ghost.txt")
	require.ErrorIs(t, err, ErrFileAbsent)
	require.False(t, s.Has("ghost.txt"))
}

func TestPutFileKeepsLocalWhenSelfOwnsIt(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: self})
	require.NoError(t, os.WriteFile(s.path("x"), []byte("data"), 0o644))
	s.add("x")

	require.NoError(t, s.PutFile(context.Background(), "x"))
	require.Empty(t, transport.putCalls)
}

func TestPutFileForwardsWhenPeerOwnsIt(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	owner := ring.Peer{Host: "127.0.0.1", Port: 2222}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: owner})
	require.NoError(t, os.WriteFile(s.path("x"), []byte("data"), 0o644))
	s.add("x")

	require.NoError(t, s.PutFile(context.Background(), "x"))
	require.Equal(t, []string{"x"}, transport.putCalls)
}

func TestTransferOutRemovesLocalCopyOnlyAfterCall(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: self})
	require.NoError(t, os.WriteFile(s.path("x"), []byte("data"), 0o644))
	s.add("x")

	require.True(t, s.Has("x"))
	s.TransferOut("x")
	require.False(t, s.Has("x"))
}

func TestReceiveFileWritesExactSize(t *testing.T) {
	self := ring.Peer{Host: "127.0.0.1", Port: 1111}
	transport := newFakeTransport()
	s := newTestStore(t, self, transport, fakeResolver{owner: self})

	payload := []byte("exact bytes")
	require.NoError(t, s.ReceiveFile("y", int64(len(payload)), bytes.NewReader(payload)))
	require.True(t, s.Has("y"))

	got, err := os.ReadFile(s.path("y"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
