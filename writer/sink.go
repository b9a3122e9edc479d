// Package writer drains the Builder's output queue in commit order and
// dispatches it to one active sink (stream socket, ZeroMQ, or Kafka),
// processing the control protocol and persisting checkpoints on ack.
package writer

import (
	"github.com/cdcstream/olr/builder"
)

// Request is a control-protocol message a client sends the Writer,
// per spec.md §4.8's control protocol table.
type Request struct {
	Kind RequestKind
	SCN  uint64
	Idx  uint64
	Seq  uint32
}

type RequestKind int

const (
	RequestInfo RequestKind = iota
	RequestStart
	RequestContinue
	RequestConfirm
)

// ResponseState is the state reported back for INFO/START/CONTINUE.
type ResponseState int

const (
	StateReady ResponseState = iota
	StateStarting
	StateReplicate
	StateFailedStart
)

// Sink is the capability set every output transport implements: send
// bytes, optionally poll for inbound control requests, and surface
// acknowledgment ranges. Modelled as a runtime-selected variant per
// SPEC_FULL's polymorphism-across-sinks redesign.
type Sink interface {
	Send(msg *builder.Message) error
	Poll() (*Request, bool, error)
	Close() error
}

// Ack is a confirmed position a sink has received from its peer,
// advancing the Writer's confirmedScn/confirmedIdx.
type Ack struct {
	SCN uint64
	Idx uint64
}
