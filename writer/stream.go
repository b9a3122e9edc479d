package writer

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/jackc/pgproto3/v2"

	"github.com/cdcstream/olr/builder"
)

// StreamSink frames output messages over a TCP connection using
// pgproto3's Backend, repurposing the CopyData message (normally a
// COPY stream's payload frame) as a generic length-prefixed carrier
// for JSON-encoded builder.Messages and control requests, instead of
// implementing a bespoke framing format.
type StreamSink struct {
	conn    net.Conn
	backend *pgproto3.Backend

	mu sync.Mutex
}

// NewStreamSink wraps an already-accepted connection.
func NewStreamSink(conn net.Conn) *StreamSink {
	return &StreamSink{
		conn:    conn,
		backend: pgproto3.NewBackend(conn, conn),
	}
}

// Listen opens a TCP listener for the stream sink; the Writer supports
// exactly one active sink connection at a time, matching spec.md §4.8.
func Listen(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

// Accept blocks for the one client connection a stream sink serves.
func Accept(l net.Listener) (*StreamSink, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamSink(conn), nil
}

// Send encodes msg as JSON and writes it as a CopyData frame.
func (s *StreamSink) Send(msg *builder.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.backend.Send(&pgproto3.CopyData{Data: data})
}

// Poll blocks for the next CopyData frame from the client and decodes
// it as a control Request.
func (s *StreamSink) Poll() (*Request, bool, error) {
	msg, err := s.backend.Receive()
	if err != nil {
		return nil, false, err
	}
	cd, ok := msg.(*pgproto3.CopyData)
	if !ok {
		return nil, false, fmt.Errorf("writer: unexpected frontend message %T", msg)
	}

	var req wireRequest
	if err := json.Unmarshal(cd.Data, &req); err != nil {
		return nil, false, err
	}
	return &Request{Kind: RequestKind(req.Kind), SCN: req.SCN, Idx: req.Idx, Seq: req.Seq}, true, nil
}

type wireRequest struct {
	Kind int    `json:"kind"`
	SCN  uint64 `json:"scn"`
	Idx  uint64 `json:"idx"`
	Seq  uint32 `json:"seq"`
}

func (s *StreamSink) Close() error {
	return s.conn.Close()
}
