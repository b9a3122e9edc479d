// Package builder turns committed transactions into output messages,
// queued in commit order for the Writer to drain and acknowledge.
package builder

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/xid"
)

// MessageFormat selects how a transaction's operations are grouped
// into output messages, per spec.md §4.7's format table.
type MessageFormat int

const (
	FormatFull MessageFormat = iota
	FormatShort
	FormatFullWithBeginCommit
	FormatSkipBegin
	FormatSkipCommit
	FormatAddOffset
)

// AttributesFormat selects when schema attributes are attached.
type AttributesFormat int

const (
	AttributesOnBegin AttributesFormat = iota
	AttributesOnCommit
	AttributesOnEveryDML
)

// Encoding selects the wire shape: plain JSON or the custom
// binary-schema format described in spec.md §4.7/§6.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingBinarySchema
)

// TimestampFormat selects how timestamps are rendered.
type TimestampFormat int

const (
	TimestampUnixNano TimestampFormat = iota
	TimestampUnixMicro
	TimestampUnixMilli
	TimestampUnix
	TimestampISO8601
)

// Config bundles every Builder formatting option spec.md §4.7 names.
type Config struct {
	TimestampFormat   TimestampFormat
	MessageFormat     MessageFormat
	AttributesFormat  AttributesFormat
	Encoding          Encoding
	Schemaless        bool
	AdaptiveSchema    bool
	KeyAsArray        bool
	AddDML            bool
	AddDDL            bool
}

// DefaultConfig matches the original's defaults: full messages, JSON,
// attributes on begin.
func DefaultConfig() Config {
	return Config{
		TimestampFormat:  TimestampUnixMilli,
		MessageFormat:    FormatFull,
		AttributesFormat: AttributesOnBegin,
		Encoding:         EncodingJSON,
		AddDML:           true,
	}
}

func init() {
	// ColumnOut.Value is an interface{}; gob requires every concrete
	// type it might hold to be registered up front. renderValue only
	// ever produces strings today.
	gob.Register("")
}

// Op is one operation inside an output message: a begin/commit marker
// or a decoded DML/DDL op with before/after column images.
type Op struct {
	Kind    record.Op    `json:"op"`
	Schema  string       `json:"schema,omitempty"`
	Object  uint32       `json:"object,omitempty"`
	Before  []ColumnOut  `json:"before,omitempty"`
	After   []ColumnOut  `json:"after,omitempty"`
	DDL     string       `json:"ddl,omitempty"`
	Tag     []byte       `json:"-"` // tag preamble, not serialized inline
}

// ColumnOut is one column's rendered value in an output op.
type ColumnOut struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	Null  bool        `json:"null,omitempty"`
}

// Message is one fully-built output unit: either a whole transaction
// (full format) or a single op (short format).
type Message struct {
	SCN      scn.SCN `json:"scn"`
	CommitSCN scn.SCN `json:"c_scn"`
	CommitIdx uint64  `json:"c_idx"`
	XID      xid.XID  `json:"xid"`
	Ops      []Op     `json:"payload"`
	TagSize  int      `json:"-"`
}

// queueNode is one node of the Builder's singly-linked output queue,
// per spec.md §4.7's BuilderQueue{id, start, confirmedSize, data, next}.
// The messages themselves live in the chunk-backed stream below; a node
// only tracks how many of them it contributed.
type queueNode struct {
	id            uint64
	start         uint64
	confirmedSize uint64
	count         int
	next          *queueNode
}

// Builder consumes committed transactions in commit order and produces
// Messages onto its output queue for the Writer to drain. The queue is
// backed by a chunk.StreamWriter stream drawing from the Builder quota, so a
// Writer that falls behind the Parser applies real back-pressure
// instead of growing an unbounded Go slice.
type Builder struct {
	cfg  Config
	meta *metadata.Metadata
	buf  *transaction.Buffer
	lobs *LobCtx
	pool *chunk.Pool
	log  interface {
		Warn(args ...interface{})
	}

	mu       sync.Mutex
	cond     *sync.Cond
	head     *queueNode
	tail     *queueNode
	nextID   uint64
	idx      uint64
	shutdown bool

	stream  *chunk.StreamWriter
	pending int
}

// New constructs a Builder using cfg for output formatting, meta for
// schema lookups, buf for commit-order drain and checkpoint min-probe,
// pool for its output queue's chunk quota, and a fresh LobCtx for LOB
// reassembly.
func New(cfg Config, meta *metadata.Metadata, buf *transaction.Buffer, pool *chunk.Pool) *Builder {
	b := &Builder{
		cfg:  cfg,
		meta: meta,
		buf:  buf,
		lobs: NewLobCtx(),
		pool: pool,
		log:  logging.ForDatabase("builder", meta.Database()),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Shutdown wakes every goroutine parked in Drain without any output
// pending, per spec.md §5/§7's hard-shutdown rule that no condition
// variable is left blocking a stage forever.
func (b *Builder) Shutdown() {
	b.mu.Lock()
	b.shutdown = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// enqueue gob-encodes msgs into the output stream, appends a new queue
// node recording how many landed, and wakes any Writer blocked waiting
// for output.
func (b *Builder) enqueue(msgs []*Message) {
	if len(msgs) == 0 {
		return
	}

	b.mu.Lock()
	if b.stream == nil {
		b.stream = chunk.NewStreamWriter(b.pool, chunk.Builder)
	}
	stream := b.stream
	b.mu.Unlock()

	for _, m := range msgs {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(m); err != nil {
			b.log.Warn("failed to encode output message: ", err)
			continue
		}
		stream.Append(buf.Bytes())
	}

	b.mu.Lock()
	node := &queueNode{id: b.nextID, count: len(msgs)}
	b.nextID++
	if b.tail == nil {
		b.head = node
	} else {
		b.tail.next = node
	}
	b.tail = node
	b.pending += len(msgs)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Drain waits until at least one queued node is available and returns
// every message queued since the last Drain call, decoding them back
// out of the chunk stream and releasing its chunks to the pool. Once
// Shutdown has been called, Drain stops waiting and returns whatever
// is queued (nil if nothing is), rather than blocking forever past a
// hard shutdown.
func (b *Builder) Drain() []*Message {
	b.mu.Lock()
	for b.head == nil && !b.shutdown {
		b.cond.Wait()
	}
	if b.head == nil {
		b.mu.Unlock()
		return nil
	}
	count := b.pending
	stream := b.stream
	b.head, b.tail = nil, nil
	b.stream = nil
	b.pending = 0
	b.mu.Unlock()

	if stream == nil || count == 0 {
		return nil
	}

	first, last, used := stream.Chain()
	r := chunk.NewStreamReader(first, last, used)
	out := make([]*Message, 0, count)
	for i := 0; i < count; i++ {
		p, err := r.Next()
		if err != nil {
			b.log.Warn("failed to decode queued output message: ", err)
			break
		}
		var m Message
		if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&m); err != nil {
			b.log.Warn("failed to decode queued output message: ", err)
			continue
		}
		out = append(out, &m)
	}
	stream.Release()
	return out
}

// ReleaseBuffers drops every queue node with id <= maxID, matching the
// original's releaseBuffers(maxId) once the Writer has confirmed them.
func (b *Builder) ReleaseBuffers(maxID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.head != nil && b.head.id <= maxID {
		b.head = b.head.next
	}
	if b.head == nil {
		b.tail = nil
	}
}
