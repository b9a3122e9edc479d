// Package transaction assembles per-XID transactions from interleaved
// records, handling commit/rollback resolution and in-order commit
// emission.
package transaction

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/xid"
)

// Status is a transaction's position in its lifecycle.
type Status int

const (
	StatusNew Status = iota
	StatusUpdated
	StatusPrepared
	StatusCommitted
	StatusRolledBack
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusUpdated:
		return "updated"
	case StatusPrepared:
		return "prepared"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled-back"
	case StatusBad:
		return "bad"
	default:
		return "unknown"
	}
}

// SwapManager evicts a transaction's resident chunks to disk and reads
// them back, letting a transaction keep growing past the Transactions
// chunk quota without ever blocking forever, per spec.md §8's "no
// permanent wait on chunksTransaction" boundary behavior. *memmgr.Manager
// satisfies this structurally; it lives here rather than being imported
// concretely so transaction never depends on memmgr.
type SwapManager interface {
	SwapOut(x xid.XID, chunks []*chunk.Chunk) error
	SwapIn(x xid.XID, count int) ([]*chunk.Chunk, error)
	Cleanup(x xid.XID) error
}

type savepoint struct {
	at          *chunk.Chunk
	used        int
	recordCount int
}

// Transaction is a single transaction's in-memory state, assembled
// from records as the Parser routes them by XID. Its records live in
// a chunk-backed stream (chunk.StreamWriter) rather than an unbounded
// Go slice, so the Transactions chunk quota is real back-pressure.
type Transaction struct {
	XID    xid.XID
	status Status

	mu sync.Mutex

	pool *chunk.Pool
	mm   SwapManager

	flags     uint32
	twoPhase  bool
	ddlStarts uint64
	ddlEnds   uint64
	objsUsed  map[uint32]struct{}
	lobDepend map[xid.XID]struct{}

	startSequence  scn.Sequence
	commitSequence scn.Sequence
	commitSCN      scn.SCN

	stream       *chunk.StreamWriter
	recordCount  int
	swappedCount int // chunks currently swapped out, oldest-first

	savepoints []savepoint
}

func newTransaction(x xid.XID, pool *chunk.Pool, mm SwapManager) *Transaction {
	return &Transaction{
		XID:       x,
		status:    StatusNew,
		pool:      pool,
		mm:        mm,
		objsUsed:  make(map[uint32]struct{}),
		lobDepend: make(map[xid.XID]struct{}),
	}
}

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// AddObj records object as touched by this transaction, used by the
// Builder to decide which schema entries a commit needs.
func (t *Transaction) AddObj(object uint32) {
	t.mu.Lock()
	t.objsUsed[object] = struct{}{}
	t.mu.Unlock()
}

// AddLobDepend records that this transaction's LOB write depends on a
// value staged by xid, so the Builder can sequence LOB assembly.
func (t *Transaction) AddLobDepend(x xid.XID) {
	t.mu.Lock()
	t.lobDepend[x] = struct{}{}
	t.mu.Unlock()
}

// LobDepends returns the set of XIDs this transaction's LOB writes
// depend on.
func (t *Transaction) LobDepends() []xid.XID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]xid.XID, 0, len(t.lobDepend))
	for x := range t.lobDepend {
		out = append(out, x)
	}
	return out
}

// MarkDDLStart and MarkDDLEnd bracket a DDL statement's constituent
// records, per SPEC_FULL's supplemented DDL start/end markers.
func (t *Transaction) MarkDDLStart() {
	t.mu.Lock()
	t.ddlStarts++
	t.mu.Unlock()
}

func (t *Transaction) MarkDDLEnd() {
	t.mu.Lock()
	t.ddlEnds++
	t.mu.Unlock()
}

// SetTwoPhase marks this transaction as an XA/two-phase-commit
// transaction, per SPEC_FULL's supplemented two-phase flag.
func (t *Transaction) SetTwoPhase() {
	t.mu.Lock()
	t.twoPhase = true
	t.mu.Unlock()
}

func (t *Transaction) IsTwoPhase() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.twoPhase
}

// Append gob-encodes rec as a self-contained, length-prefixed block
// and writes it into the transaction's chunk-backed record stream,
// acquiring chunks from the Transactions quota as lastChunk fills, per
// spec.md's append(bytes, len) contract. Each record is encoded with
// its own gob.Encoder so a savepoint rollback can truncate the stream
// at any record boundary without desyncing a shared encoder's type
// cache.
func (t *Transaction) Append(rec *record.RedoLogRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}

	t.mu.Lock()
	if t.stream == nil {
		t.stream = chunk.NewStreamWriter(t.pool, chunk.Transactions)
	}
	stream := t.stream
	t.mu.Unlock()

	// The write itself (and any blocking wait on the quota) happens
	// without t.mu held, so a concurrent swap-out can relieve the exact
	// pressure this append is waiting on; chunk.StreamWriter is safe for
	// that under its own internal lock.
	stream.Append(buf.Bytes())

	t.mu.Lock()
	t.recordCount++
	t.objsUsed[rec.Object] = struct{}{}
	if t.status == StatusNew {
		t.status = StatusUpdated
	}
	t.mu.Unlock()
	return nil
}

// Savepoint marks the current stream position as a rollback-to point,
// used to implement partial rollback.
func (t *Transaction) Savepoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	var at *chunk.Chunk
	var used int
	if t.stream != nil {
		at, used = t.stream.Snapshot()
	}
	t.savepoints = append(t.savepoints, savepoint{at: at, used: used, recordCount: t.recordCount})
}

// RollbackToLastSavepoint discards every record appended since the
// most recent Savepoint call, per spec.md's partial/savepoint
// rollback handling. No-op if no savepoint was set.
func (t *Transaction) RollbackToLastSavepoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.savepoints) == 0 {
		return
	}
	n := len(t.savepoints)
	sp := t.savepoints[n-1]
	t.savepoints = t.savepoints[:n-1]
	if t.stream != nil {
		t.stream.TruncateTo(sp.at, sp.used)
	}
	t.recordCount = sp.recordCount
}

// swapInLocked brings back any chunks the memory manager swapped out
// from under this transaction, relinking them ahead of the still-
// resident tail. Must be called with t.mu held.
func (t *Transaction) swapInLocked() {
	if t.swappedCount == 0 || t.mm == nil || t.stream == nil {
		return
	}
	chunks, err := t.mm.SwapIn(t.XID, t.swappedCount)
	if err != nil {
		return
	}
	t.stream.Prepend(chunks)
	t.swappedCount -= len(chunks)
	if t.swappedCount < 0 {
		t.swappedCount = 0
	}
}

// Records decodes and returns the transaction's accumulated records
// in append order, swapping any evicted chunks back in first.
func (t *Transaction) Records() []*record.RedoLogRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swapInLocked()
	if t.stream == nil || t.recordCount == 0 {
		return nil
	}

	first, last, used := t.stream.Chain()
	r := chunk.NewStreamReader(first, last, used)
	out := make([]*record.RedoLogRecord, 0, t.recordCount)
	for i := 0; i < t.recordCount; i++ {
		payload, err := r.Next()
		if err != nil {
			break
		}
		var rec record.RedoLogRecord
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out
}

func (t *Transaction) CommitSCN() scn.SCN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commitSCN
}

// chunkCount reports how many chunks are resident in the transaction's
// stream, used by the memory manager to pick swap victims with enough
// chunks to make swapping worthwhile.
func (t *Transaction) chunkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stream == nil {
		return 0
	}
	n := 0
	first, last, _ := t.stream.Chain()
	for c := first; c != nil; c = c.Next {
		n++
		if c == last {
			break
		}
	}
	return n
}

// swapOut detaches every chunk but the resident tail and asks mm to
// write them to disk, restoring residency if the write fails. Returns
// true if any chunks were actually swapped.
func (t *Transaction) swapOut(mm SwapManager) bool {
	t.mu.Lock()
	if t.status == StatusCommitted || t.status == StatusRolledBack || t.stream == nil {
		t.mu.Unlock()
		return false
	}
	stream := t.stream
	t.mu.Unlock()

	detached := stream.DetachHead()
	if len(detached) == 0 {
		return false
	}
	if err := mm.SwapOut(t.XID, detached); err != nil {
		stream.Prepend(detached)
		return false
	}

	t.mu.Lock()
	t.swappedCount += len(detached)
	t.mu.Unlock()
	return true
}
