package transaction_test

import (
	"testing"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/xid"
)

func TestAppendAndCommitOrder(t *testing.T) {
	pool := chunk.NewPool(chunk.DefaultOptions())
	buf := transaction.NewBuffer(pool, "orcl")

	x1 := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}
	x2 := xid.XID{UndoSegment: 2, Slot: 1, Wrap: 1}

	buf.Append(x1, &record.RedoLogRecord{Op: record.OpInsert, Object: 10})
	buf.Append(x2, &record.RedoLogRecord{Op: record.OpInsert, Object: 11})

	buf.Commit(x2, 200, 1)
	buf.Commit(x1, 100, 1)

	ready := buf.DrainReady()
	if len(ready) != 2 {
		t.Fatalf("got %d ready transactions, want 2", len(ready))
	}
	if ready[0].XID != x1 || ready[1].XID != x2 {
		t.Fatalf("commit order wrong: %v, %v", ready[0].XID, ready[1].XID)
	}
}

func TestRollbackReleasesTransaction(t *testing.T) {
	pool := chunk.NewPool(chunk.DefaultOptions())
	buf := transaction.NewBuffer(pool, "orcl")

	x := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert})
	if buf.Len() != 1 {
		t.Fatalf("got %d transactions, want 1", buf.Len())
	}

	buf.Rollback(x)
	if buf.Len() != 0 {
		t.Fatalf("got %d transactions after rollback, want 0", buf.Len())
	}
}

func TestSavepointRollback(t *testing.T) {
	pool := chunk.NewPool(chunk.DefaultOptions())
	buf := transaction.NewBuffer(pool, "orcl")
	x := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}

	tr := buf.Get(x)
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert})
	tr.Savepoint()
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert})
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert})

	if len(tr.Records()) != 3 {
		t.Fatalf("got %d records, want 3", len(tr.Records()))
	}
	tr.RollbackToLastSavepoint()
	if len(tr.Records()) != 1 {
		t.Fatalf("got %d records after rollback, want 1", len(tr.Records()))
	}
}
