package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"chordring/internal/ring"
)

// Client dials peers and speaks the tagged envelope protocol. It mirrors the
// fast/slow timeout split the HTTP transport used: routing and liveness
// checks (ping, successor lookups) are cheap and must fail fast so
// stabilization isn't stalled by one wedged peer, while membership-changing
// calls get more room to complete.
type Client struct {
	fastTimeout time.Duration
	slowTimeout time.Duration
	dialer      net.Dialer
	logger      *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		fastTimeout: 500 * time.Millisecond,
		slowTimeout: 5 * time.Second,
		logger:      logger,
	}
}

func (c *Client) dial(ctx context.Context, peer ring.Peer, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", peer.Addr())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", peer.Addr(), err)
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, nil
}

func roundTrip[Req, Resp any](c *Client, ctx context.Context, peer ring.Peer, timeout time.Duration, tag Tag, req Req) (Resp, error) {
	var resp Resp
	conn, err := c.dial(ctx, peer, timeout)
	if err != nil {
		return resp, err
	}
	defer conn.Close()

	env, err := newEnvelope(tag, req)
	if err != nil {
		return resp, err
	}
	if err := writeFrame(conn, env); err != nil {
		return resp, err
	}
	replyEnv, err := readFrame(conn)
	if err != nil {
		return resp, fmt.Errorf("transport: read reply for %s from %s: %w", tag, peer.Addr(), err)
	}
	return decodeFields[Resp](replyEnv)
}

// Ping implements ring.Transport.
func (c *Client) Ping(ctx context.Context, peer ring.Peer) bool {
	_, err := roundTrip[pingFields, pongFields](c, ctx, peer, c.fastTimeout, Ping, pingFields{})
	if err != nil {
		c.logger.Sugar().Debugf("transport: ping %s failed: %v", peer.Addr(), err)
		return false
	}
	return true
}

// RequestSuccessor implements ring.Transport.
func (c *Client) RequestSuccessor(ctx context.Context, peer ring.Peer, key ring.ID, source ring.Peer) (ring.Peer, bool) {
	resp, err := roundTrip[requestSuccessorFields, successorFields](c, ctx, peer, c.fastTimeout, RequestSuccessor, requestSuccessorFields{Source: source, Key: key})
	if err != nil {
		c.logger.Sugar().Debugf("transport: request-successor on %s failed: %v", peer.Addr(), err)
		return ring.Peer{}, false
	}
	return resp.Peer, resp.Found
}

// NotifySuccessor implements ring.Transport: tells peer that source believes
// itself to be peer's predecessor, returning peer's prior predecessor.
func (c *Client) NotifySuccessor(ctx context.Context, peer ring.Peer, source ring.Peer) (ring.Peer, bool) {
	resp, err := roundTrip[notifyFields, predecessorFields](c, ctx, peer, c.slowTimeout, NotifySuccessor, notifyFields{Source: source})
	if err != nil {
		c.logger.Sugar().Debugf("transport: notify-successor on %s failed: %v", peer.Addr(), err)
		return ring.Peer{}, false
	}
	return resp.Peer, resp.Known
}

// NotifyPredecessor implements ring.Transport.
func (c *Client) NotifyPredecessor(ctx context.Context, peer ring.Peer, source ring.Peer) bool {
	_, err := roundTrip[notifyFields, struct{}](c, ctx, peer, c.slowTimeout, NotifyPredecessor, notifyFields{Source: source})
	if err != nil {
		c.logger.Sugar().Debugf("transport: notify-predecessor on %s failed: %v", peer.Addr(), err)
		return false
	}
	return true
}

// RequestFingers implements ring.Transport: used both for CLI/debug display
// and to refresh a stabilizing node's successor list.
func (c *Client) RequestFingers(ctx context.Context, peer ring.Peer) ([]ring.Peer, bool) {
	resp, err := roundTrip[struct{}, fingersFields](c, ctx, peer, c.fastTimeout, RequestFinger, struct{}{})
	if err != nil {
		c.logger.Sugar().Debugf("transport: request-fingers on %s failed: %v", peer.Addr(), err)
		return nil, false
	}
	return resp.Peers, true
}

// RequestFilesList implements store.Transport.
func (c *Client) RequestFilesList(ctx context.Context, peer ring.Peer) ([]string, bool) {
	resp, err := roundTrip[struct{}, filesListFields](c, ctx, peer, c.slowTimeout, RequestFilesList, struct{}{})
	if err != nil {
		c.logger.Sugar().Debugf("transport: request-files-list on %s failed: %v", peer.Addr(), err)
		return nil, false
	}
	return resp.Names, true
}

// RequestFile implements store.Transport: it reads the size/absent header
// frame itself, then hands back a reader over exactly size body bytes. The
// caller must Close the returned body, which releases the connection.
func (c *Client) RequestFile(ctx context.Context, peer ring.Peer, name string) (int64, bool, io.ReadCloser, error) {
	conn, err := c.dial(ctx, peer, c.slowTimeout)
	if err != nil {
		return 0, false, nil, err
	}

	env, err := newEnvelope(RequestFile, requestFileFields{Filename: name})
	if err != nil {
		conn.Close()
		return 0, false, nil, err
	}
	if err := writeFrame(conn, env); err != nil {
		conn.Close()
		return 0, false, nil, err
	}

	headerEnv, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return 0, false, nil, fmt.Errorf("transport: read file header from %s: %w", peer.Addr(), err)
	}
	header, err := decodeFields[fileHeaderFields](headerEnv)
	if err != nil {
		conn.Close()
		return 0, false, nil, err
	}
	if header.Absent {
		conn.Close()
		return 0, true, nil, nil
	}
	return header.Size, false, &fileBody{r: io.LimitReader(conn, header.Size), conn: conn}, nil
}

// fileBody streams a REQUEST_FILE body off the wire and closes the
// underlying connection once the caller is done reading it.
type fileBody struct {
	r    io.Reader
	conn net.Conn
}

func (b *fileBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *fileBody) Close() error               { return b.conn.Close() }

// SendTransferAck implements store.Transport.
func (c *Client) SendTransferAck(ctx context.Context, peer ring.Peer, name string, success bool) bool {
	_, err := roundTrip[transferAckFields, struct{}](c, ctx, peer, c.fastTimeout, TransferAck, transferAckFields{Filename: name, Success: success})
	if err != nil {
		c.logger.Sugar().Debugf("transport: transfer-ack to %s failed: %v", peer.Addr(), err)
		return false
	}
	return true
}

// RequestPut implements store.Transport.
func (c *Client) RequestPut(ctx context.Context, peer ring.Peer, name string, source ring.Peer) bool {
	_, err := roundTrip[requestPutFields, struct{}](c, ctx, peer, c.slowTimeout, RequestPut, requestPutFields{Source: source, Filename: name})
	if err != nil {
		c.logger.Sugar().Debugf("transport: request-put on %s failed: %v", peer.Addr(), err)
		return false
	}
	return true
}

// NotifyLeave tells peer that source is leaving the ring, handing off its
// predecessor so peer can splice the hole; it blocks for CONFIRM_LEAVE.
func (c *Client) NotifyLeave(ctx context.Context, peer ring.Peer, source, predecessor ring.Peer) bool {
	_, err := roundTrip[notifyLeaveFields, struct{}](c, ctx, peer, c.slowTimeout, NotifyLeave, notifyLeaveFields{Source: source, Predecessor: predecessor})
	if err != nil {
		c.logger.Sugar().Debugf("transport: notify-leave on %s failed: %v", peer.Addr(), err)
		return false
	}
	return true
}
