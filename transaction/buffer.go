package transaction

import (
	"sync"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/xid"
)

// Buffer owns every in-flight transaction, keyed by XID, and the
// commit-order emission queue the Builder drains. It is the sole
// allocator of the Transactions chunk quota; Append suspends on
// chunk.Pool back-pressure rather than growing unbounded, and an
// attached SwapManager lets the memory manager relieve that pressure
// by evicting a growing transaction's oldest chunks to disk.
type Buffer struct {
	pool *chunk.Pool
	log  interface {
		Warn(args ...interface{})
	}

	mu           sync.Mutex
	transactions map[xid.XID]*Transaction
	minOffset    scn.FileOffset
	minSequence  scn.Sequence
	minXID       xid.XID
	mm           SwapManager

	ready []*Transaction // committed, awaiting in-order drain by Builder
}

// NewBuffer constructs an empty Buffer backed by pool.
func NewBuffer(pool *chunk.Pool, database string) *Buffer {
	return &Buffer{
		pool:         pool,
		log:          logging.ForDatabase("transaction", database),
		transactions: make(map[xid.XID]*Transaction),
	}
}

// SetSwapManager attaches mm so Append's back-pressure can be relieved
// by swap-out instead of blocking forever, per spec.md §8. Transactions
// already in flight pick it up lazily the next time they swap in.
func (b *Buffer) SetSwapManager(mm SwapManager) {
	b.mu.Lock()
	b.mm = mm
	b.mu.Unlock()
}

// Get returns the transaction for x, creating it lazily on first
// reference, per spec.md §4.4's transactionBuffer.get(xid).
func (b *Buffer) Get(x xid.XID) *Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.transactions[x]
	if !ok {
		t = newTransaction(x, b.pool, b.mm)
		b.transactions[x] = t
	}
	return t
}

// Append adds rec to x's transaction, writing it into the
// transaction's chunk-backed record stream.
func (b *Buffer) Append(x xid.XID, rec *record.RedoLogRecord) {
	t := b.Get(x)
	if err := t.Append(rec); err != nil {
		b.log.Warn("failed to encode record into transaction stream: ", err)
	}
}

// Commit transitions x's transaction to committed at commitSCN and
// enqueues it for in-order drain by the Builder.
func (b *Buffer) Commit(x xid.XID, commitSCN scn.SCN, commitSeq scn.Sequence) *Transaction {
	t := b.Get(x)
	t.mu.Lock()
	t.status = StatusCommitted
	t.commitSCN = commitSCN
	t.commitSequence = commitSeq
	t.mu.Unlock()

	b.mu.Lock()
	b.ready = append(b.ready, t)
	b.mu.Unlock()
	return t
}

// Rollback transitions x's transaction to rolled-back and releases its
// chunks without enqueuing it for the Builder.
func (b *Buffer) Rollback(x xid.XID) *Transaction {
	t := b.Get(x)
	t.setStatus(StatusRolledBack)
	b.release(t)
	return t
}

func (b *Buffer) release(t *Transaction) {
	t.mu.Lock()
	stream := t.stream
	t.stream = nil
	mm := t.mm
	swapped := t.swappedCount
	t.mu.Unlock()

	if stream != nil {
		stream.Release()
	}
	if mm != nil && swapped > 0 {
		mm.Cleanup(t.XID)
	}

	b.mu.Lock()
	delete(b.transactions, t.XID)
	b.mu.Unlock()
}

// DrainReady returns every committed transaction queued for emission,
// sorted by commit SCN, and clears the queue. The Builder is
// responsible for emitting them in this order and calling Release once
// each has been fully encoded.
func (b *Buffer) DrainReady() []*Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	ready := b.ready
	b.ready = nil

	for i := 1; i < len(ready); i++ {
		for j := i; j > 0 && ready[j].commitSCN.Less(ready[j-1].commitSCN); j-- {
			ready[j], ready[j-1] = ready[j-1], ready[j]
		}
	}
	return ready
}

// Release frees t's chunks back to the pool after the Builder has
// fully encoded it. Safe to call once per transaction.
func (b *Buffer) Release(t *Transaction) {
	b.release(t)
}

// SwapOldest evicts the oldest, still-open, multi-chunk transaction's
// non-tail chunks to disk via mm, relieving Transactions quota pressure
// without ever permanently blocking an appender, per spec.md §8.
// Transactions that are committed or rolled back are skipped: they are
// either already being drained by the Builder or already released, so
// their chunks must not move out from under a concurrent reader.
// Returns true if a transaction was actually swapped.
func (b *Buffer) SwapOldest(mm SwapManager) bool {
	b.mu.Lock()
	var victim *Transaction
	for _, t := range b.transactions {
		if t.Status() == StatusCommitted || t.Status() == StatusRolledBack {
			continue
		}
		if t.chunkCount() < 2 {
			continue
		}
		if victim == nil || t.startSequence < victim.startSequence {
			victim = t
		}
	}
	b.mu.Unlock()

	if victim == nil {
		return false
	}
	return victim.swapOut(mm)
}

// MinProbe returns the oldest not-yet-emitted transaction's starting
// position, the floor below which the Reader never needs to resume and
// below which parser checkpoints may be garbage collected, per
// spec.md §4.9.
func (b *Buffer) MinProbe() (scn.Sequence, scn.FileOffset, xid.XID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.transactions) == 0 {
		return 0, 0, xid.Zero, false
	}

	var best *Transaction
	for _, t := range b.transactions {
		if best == nil || t.startSequence < best.startSequence {
			best = t
		}
	}
	return best.startSequence, 0, best.XID, true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transactions)
}
