// Package transport implements the peer-to-peer wire protocol: a
// length-prefixed, JSON-encoded, tagged envelope over a TCP connection, and
// the accept-loop/dispatcher that serves it. The message tags and payload
// shapes below are fixed for wire compatibility (spec.md §4.8).
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"chordring/internal/ring"
)

// Tag identifies the kind of message carried by an Envelope.
type Tag uint8

const (
	Ping               Tag = 0
	RequestSuccessor   Tag = 1
	RequestPredecessor Tag = 2 // reserved, unused — kept for wire compatibility
	NotifySuccessor    Tag = 3
	NotifyPredecessor  Tag = 4
	RequestFinger      Tag = 5
	RequestFilesList   Tag = 6
	RequestFile        Tag = 7
	NotifyLeave        Tag = 8
	ConfirmLeave       Tag = 9
	RequestPut         Tag = 10
	TransferAck        Tag = 11 // extension: acknowledges a completed REQUEST_FILE transfer
)

func (t Tag) String() string {
	switch t {
	case Ping:
		return "PING"
	case RequestSuccessor:
		return "REQUEST_SUCCESSOR"
	case RequestPredecessor:
		return "REQUEST_PREDECESSOR"
	case NotifySuccessor:
		return "NOTIFY_SUCCESSOR"
	case NotifyPredecessor:
		return "NOTIFY_PREDECESSOR"
	case RequestFinger:
		return "REQUEST_FINGERS"
	case RequestFilesList:
		return "REQUEST_FILES_LIST"
	case RequestFile:
		return "REQUEST_FILE"
	case NotifyLeave:
		return "NOTIFY_LEAVE"
	case ConfirmLeave:
		return "CONFIRM_LEAVE"
	case RequestPut:
		return "REQUEST_PUT"
	case TransferAck:
		return "TRANSFER_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ErrUnknownTag is attached to the dispatcher's debug log entry for any tag
// it does not recognize; it is not returned to any caller. Per spec.md §4.8
// the connection is then closed silently rather than answered with an error
// response.
var ErrUnknownTag = errors.New("transport: unknown message tag")

// Envelope is the single record exchanged for every control message. ID is
// minted by the requester and echoed back so both ends can log a correlated
// request/response pair.
type Envelope struct {
	Tag    Tag             `json:"tag"`
	ID     uuid.UUID       `json:"id"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

func newEnvelope(tag Tag, fields any) (Envelope, error) {
	return newEnvelopeWithID(uuid.New(), tag, fields)
}

// newEnvelopeWithID builds an envelope carrying a caller-supplied ID, used to
// echo a request's ID back on its reply.
func newEnvelopeWithID(id uuid.UUID, tag Tag, fields any) (Envelope, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("transport: encode fields for %s: %w", tag, err)
	}
	return Envelope{Tag: tag, ID: id, Fields: raw}, nil
}

const maxFrameSize = 64 << 20 // generous ceiling for control-message frames; file bytes are streamed separately

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded envelope.
func writeFrame(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON envelope.
func readFrame(r io.Reader) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return Envelope{}, fmt.Errorf("transport: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("transport: read frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("transport: decode envelope: %w", err)
	}
	return env, nil
}

// Payload shapes, one per tag that carries fields.

type pingFields struct {
	Source ring.Peer `json:"source"`
}

type pongFields struct {
	Message string `json:"message"`
}

type requestSuccessorFields struct {
	Source ring.Peer `json:"source"`
	Key    ring.ID   `json:"key"`
}

type successorFields struct {
	Peer  ring.Peer `json:"peer"`
	Found bool      `json:"found"`
}

type notifyFields struct {
	Source ring.Peer `json:"source"`
}

type predecessorFields struct {
	Peer  ring.Peer `json:"peer"`
	Known bool      `json:"known"`
}

type fingersFields struct {
	Peers []ring.Peer `json:"peers"`
}

type filesListFields struct {
	Names []string `json:"names"`
}

type requestFileFields struct {
	Source   ring.Peer `json:"source"`
	Filename string    `json:"filename"`
}

type fileHeaderFields struct {
	Size   int64 `json:"size"`
	Absent bool  `json:"absent"`
}

type transferAckFields struct {
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
}

type notifyLeaveFields struct {
	Source      ring.Peer `json:"source"`
	Predecessor ring.Peer `json:"predecessor"`
}

type requestPutFields struct {
	Source   ring.Peer `json:"source"`
	Filename string    `json:"filename"`
}

func decodeFields[T any](env Envelope) (T, error) {
	var v T
	if len(env.Fields) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Fields, &v); err != nil {
		return v, fmt.Errorf("transport: decode %s fields: %w", env.Tag, err)
	}
	return v, nil
}
