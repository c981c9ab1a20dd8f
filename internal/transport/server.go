package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chordring/internal/ring"
)

// Handler is implemented by the orchestrator (internal/node) that composes
// the ring and store state. The server decodes envelopes off the wire and
// dispatches to these methods; it never touches ring/store state directly.
type Handler interface {
	HandlePing(ctx context.Context, source ring.Peer) string
	HandleRequestSuccessor(ctx context.Context, source ring.Peer, key ring.ID) (ring.Peer, bool)
	HandleNotifySuccessor(ctx context.Context, source ring.Peer) ring.Peer
	HandleNotifyPredecessor(ctx context.Context, source ring.Peer)
	HandleRequestFingers(ctx context.Context) []ring.Peer
	HandleRequestFilesList(ctx context.Context) []string
	// HandleRequestFile returns the file content for streaming. When absent
	// is true, r and size are ignored and no body follows the header frame.
	// The server closes r once the body has been streamed.
	HandleRequestFile(ctx context.Context, source ring.Peer, filename string) (r io.ReadCloser, size int64, absent bool)
	HandleNotifyLeave(ctx context.Context, source, predecessor ring.Peer) error
	HandleRequestPut(ctx context.Context, source ring.Peer, filename string)
	HandleTransferAck(ctx context.Context, filename string, success bool)
}

// Server accepts connections and dispatches one envelope per connection.
// Each peer call opens a fresh TCP connection (grounded in
// original_source/node.py's per-request socket model); the server therefore
// reads exactly one request frame, replies, and closes.
type Server struct {
	listenAddr string
	handler    Handler
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(listenAddr string, handler Handler, logger *zap.Logger) *Server {
	return &Server{listenAddr: listenAddr, handler: handler, logger: logger}
}

// Serve listens and dispatches connections until ctx is canceled or Close is
// called. It blocks until the accept loop exits.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops the accept loop, unblocking a call to Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	env, err := readFrame(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Sugar().Debugf("transport: read frame from %s: %v", conn.RemoteAddr(), err)
		}
		return
	}

	logger := s.logger.With(zap.String("tag", env.Tag.String()), zap.String("remote", conn.RemoteAddr().String()))

	switch env.Tag {
	case Ping:
		fields, err := decodeFields[pingFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		msg := s.handler.HandlePing(ctx, fields.Source)
		writeReply(conn, env.ID, Ping, pongFields{Message: msg}, logger)

	case RequestSuccessor:
		fields, err := decodeFields[requestSuccessorFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		peer, found := s.handler.HandleRequestSuccessor(ctx, fields.Source, fields.Key)
		writeReply(conn, env.ID, RequestSuccessor, successorFields{Peer: peer, Found: found}, logger)

	case NotifySuccessor:
		fields, err := decodeFields[notifyFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		oldPredecessor := s.handler.HandleNotifySuccessor(ctx, fields.Source)
		writeReply(conn, env.ID, NotifySuccessor, predecessorFields{Peer: oldPredecessor, Known: !oldPredecessor.IsZero()}, logger)

	case NotifyPredecessor:
		fields, err := decodeFields[notifyFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		s.handler.HandleNotifyPredecessor(ctx, fields.Source)
		writeReply(conn, env.ID, NotifyPredecessor, struct{}{}, logger)

	case RequestFinger:
		peers := s.handler.HandleRequestFingers(ctx)
		writeReply(conn, env.ID, RequestFinger, fingersFields{Peers: peers}, logger)

	case RequestFilesList:
		names := s.handler.HandleRequestFilesList(ctx)
		writeReply(conn, env.ID, RequestFilesList, filesListFields{Names: names}, logger)

	case RequestFile:
		fields, err := decodeFields[requestFileFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		s.serveRequestFile(ctx, conn, env.ID, fields, logger)

	case NotifyLeave:
		fields, err := decodeFields[notifyLeaveFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		if err := s.handler.HandleNotifyLeave(ctx, fields.Source, fields.Predecessor); err != nil {
			logger.Warn("notify-leave handler failed", zap.Error(err))
		}
		writeReply(conn, env.ID, ConfirmLeave, struct{}{}, logger)

	case RequestPut:
		fields, err := decodeFields[requestPutFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		s.handler.HandleRequestPut(ctx, fields.Source, fields.Filename)
		writeReply(conn, env.ID, RequestPut, struct{}{}, logger)

	case TransferAck:
		fields, err := decodeFields[transferAckFields](env)
		if err != nil {
			logger.Debug("decode failed", zap.Error(err))
			return
		}
		s.handler.HandleTransferAck(ctx, fields.Filename, fields.Success)
		writeReply(conn, env.ID, TransferAck, struct{}{}, logger)

	default:
		logger.Debug("unknown tag, closing connection", zap.Error(ErrUnknownTag))
	}
}

// serveRequestFile writes the size/absent header frame, then — unless the
// file is absent — streams exactly size raw bytes after it on the same
// connection, with no further framing. The client reads the header first and
// only then reads the body, so header and body never race on the wire.
func (s *Server) serveRequestFile(ctx context.Context, conn net.Conn, id uuid.UUID, fields requestFileFields, logger *zap.Logger) {
	r, size, absent := s.handler.HandleRequestFile(ctx, fields.Source, fields.Filename)
	writeReply(conn, id, RequestFile, fileHeaderFields{Size: size, Absent: absent}, logger)
	if absent {
		if r != nil {
			r.Close()
		}
		return
	}
	defer r.Close()
	if _, err := io.CopyN(conn, r, size); err != nil {
		logger.Warn("stream file body failed", zap.Error(err))
	}
}

func writeReply(conn net.Conn, id uuid.UUID, tag Tag, fields any, logger *zap.Logger) {
	env, err := newEnvelopeWithID(id, tag, fields)
	if err != nil {
		logger.Debug("encode reply failed", zap.Error(err))
		return
	}
	if err := writeFrame(conn, env); err != nil {
		logger.Debug("write reply failed", zap.Error(err))
	}
}
