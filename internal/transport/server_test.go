package transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chordring/internal/ring"
)

// stubHandler implements Handler with fixed responses for exercising the
// server/client round trip over a real loopback socket.
type stubHandler struct {
	pingReply    string
	successor    ring.Peer
	successorOK  bool
	oldPred      ring.Peer
	fingers      []ring.Peer
	files        []string
	fileContents map[string][]byte
	leaveErr     error
	putCalls     []string
	ackCalls     []string
}

func (h *stubHandler) HandlePing(context.Context, ring.Peer) string { return h.pingReply }
func (h *stubHandler) HandleRequestSuccessor(context.Context, ring.Peer, ring.ID) (ring.Peer, bool) {
	return h.successor, h.successorOK
}
func (h *stubHandler) HandleNotifySuccessor(context.Context, ring.Peer) ring.Peer { return h.oldPred }
func (h *stubHandler) HandleNotifyPredecessor(context.Context, ring.Peer)         {}
func (h *stubHandler) HandleRequestFingers(context.Context) []ring.Peer          { return h.fingers }
func (h *stubHandler) HandleRequestFilesList(context.Context) []string          { return h.files }
func (h *stubHandler) HandleRequestFile(_ context.Context, _ ring.Peer, name string) (io.ReadCloser, int64, bool) {
	data, ok := h.fileContents[name]
	if !ok {
		return nil, 0, true
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), false
}
func (h *stubHandler) HandleNotifyLeave(context.Context, ring.Peer, ring.Peer) error { return h.leaveErr }
func (h *stubHandler) HandleRequestPut(_ context.Context, _ ring.Peer, name string) {
	h.putCalls = append(h.putCalls, name)
}
func (h *stubHandler) HandleTransferAck(_ context.Context, name string, success bool) {
	if success {
		h.ackCalls = append(h.ackCalls, name)
	}
}

func startTestServer(t *testing.T, handler Handler) (addr ring.Peer, stop func()) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", handler, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	listening := make(chan string, 1)
	go func() {
		_ = srv.Serve(ctx)
	}()
	// Serve binds inside the goroutine and does not report its ephemeral
	// port, so poll the server's listener field until it is set and read
	// the bound address back from it.
	for i := 0; i < 100; i++ {
		srv.mu.Lock()
		ln := srv.listener
		srv.mu.Unlock()
		if ln != nil {
			listening <- ln.Addr().String()
			break
		}
		time.Sleep(time.Millisecond)
	}
	addrStr := <-listening
	peer, err := ring.ParsePeer(addrStr)
	require.NoError(t, err)

	return peer, func() {
		cancel()
		srv.Close()
	}
}

func TestPingRoundTrip(t *testing.T) {
	handler := &stubHandler{pingReply: "pong-from-node"}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	require.True(t, client.Ping(context.Background(), peer))
}

func TestRequestSuccessorRoundTrip(t *testing.T) {
	want := ring.Peer{Host: "127.0.0.1", Port: 9999}
	handler := &stubHandler{successor: want, successorOK: true}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	got, ok := client.RequestSuccessor(context.Background(), peer, ring.ID(7), ring.Peer{Host: "127.0.0.1", Port: 1})
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestRequestFileStreamsBody(t *testing.T) {
	handler := &stubHandler{fileContents: map[string][]byte{"a.txt": []byte("hello world")}}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	size, absent, body, err := client.RequestFile(context.Background(), peer, "a.txt")
	require.NoError(t, err)
	require.False(t, absent)
	require.EqualValues(t, 11, size)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestRequestFileReportsAbsence(t *testing.T) {
	handler := &stubHandler{fileContents: map[string][]byte{}}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	_, absent, body, err := client.RequestFile(context.Background(), peer, "missing.txt")
	require.NoError(t, err)
	require.True(t, absent)
	require.Nil(t, body)
}

func TestRequestPutAndTransferAckReachHandler(t *testing.T) {
	handler := &stubHandler{}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	require.True(t, client.RequestPut(context.Background(), peer, "x.bin", ring.Peer{Host: "127.0.0.1", Port: 1}))
	require.True(t, client.SendTransferAck(context.Background(), peer, "x.bin", true))

	require.Equal(t, []string{"x.bin"}, handler.putCalls)
	require.Equal(t, []string{"x.bin"}, handler.ackCalls)
}

func TestNotifyLeaveReachesHandler(t *testing.T) {
	handler := &stubHandler{}
	peer, stop := startTestServer(t, handler)
	defer stop()

	client := NewClient(zap.NewNop())
	source := ring.Peer{Host: "127.0.0.1", Port: 1}
	pred := ring.Peer{Host: "127.0.0.1", Port: 2}
	require.True(t, client.NotifyLeave(context.Background(), peer, source, pred))
}
