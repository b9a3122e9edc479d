package builder_test

import (
	"testing"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/xid"
)

func newMetadata(t *testing.T) *metadata.Metadata {
	t.Helper()
	dir := t.TempDir()
	store, err := metadata.NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return metadata.Open(store, "orcl")
}

func TestEmitFullMessage(t *testing.T) {
	meta := newMetadata(t)
	buf := newTestBuffer(t)
	b := builder.New(builder.DefaultConfig(), meta, buf, chunk.NewPool(chunk.DefaultOptions()))

	x := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}
	tr := buf.Get(x)
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert, Object: 5, Columns: []record.ColumnValue{
		{ColumnIndex: 0, After: []byte("hello")},
	}})
	buf.Commit(x, 100, 1)

	b.Emit(tr, 1)
	msgs := b.Drain()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if len(msgs[0].Ops) != 3 {
		t.Fatalf("got %d ops, want 3 (begin, insert, commit)", len(msgs[0].Ops))
	}
	if msgs[0].Ops[0].Kind != record.OpBegin || msgs[0].Ops[2].Kind != record.OpCommit {
		t.Fatalf("unexpected op order: %v", msgs[0].Ops)
	}
}

func TestEmitShortMessage(t *testing.T) {
	meta := newMetadata(t)
	cfg := builder.DefaultConfig()
	cfg.MessageFormat = builder.FormatShort
	buf := newTestBuffer(t)
	b := builder.New(cfg, meta, buf, chunk.NewPool(chunk.DefaultOptions()))

	x := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}
	tr := buf.Get(x)
	buf.Append(x, &record.RedoLogRecord{Op: record.OpInsert, Object: 5})
	buf.Commit(x, 100, 1)

	b.Emit(tr, 1)
	msgs := b.Drain()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (one per op in short format)", len(msgs))
	}
}

// TestEmitReadyOrdersByCommitSCN drives spec scenario S2: three
// transactions commit out of commit-SCN order, and EmitReady must
// still hand them to the output queue sorted by commit SCN rather than
// commit-call order.
func TestEmitReadyOrdersByCommitSCN(t *testing.T) {
	meta := newMetadata(t)
	buf := newTestBuffer(t)
	b := builder.New(builder.DefaultConfig(), meta, buf, chunk.NewPool(chunk.DefaultOptions()))

	x1 := xid.XID{UndoSegment: 1, Slot: 1, Wrap: 1}
	x2 := xid.XID{UndoSegment: 1, Slot: 2, Wrap: 1}
	x3 := xid.XID{UndoSegment: 1, Slot: 3, Wrap: 1}

	buf.Get(x1)
	buf.Get(x2)
	buf.Get(x3)
	buf.Commit(x1, 150, 1)
	buf.Commit(x2, 140, 1)
	buf.Commit(x3, 160, 1)

	b.EmitReady()
	msgs := b.Drain()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []xid.XID{x2, x1, x3}
	for i, m := range msgs {
		if m.XID != want[i] {
			t.Fatalf("message %d has xid %s, want %s", i, m.XID, want[i])
		}
	}
}

// TestProcessCheckpointMergesMinProbe exercises spec.md §4.4's
// checkpoint-emission step: the Min* fields come from the transaction
// buffer's oldest in-flight transaction, merged into the same
// ParserCheckpoint write as the Reader's position, not a separate
// pass.
func TestProcessCheckpointMergesMinProbe(t *testing.T) {
	meta := newMetadata(t)
	meta.SetIdentity(1, 2, 0)
	buf := newTestBuffer(t)
	b := builder.New(builder.DefaultConfig(), meta, buf, chunk.NewPool(chunk.DefaultOptions()))

	x := xid.XID{UndoSegment: 3, Slot: 1, Wrap: 1}
	buf.Get(x) // still open, so MinProbe reports its position

	if err := b.ProcessCheckpoint(1000, 7, 123456, 4096, false); err != nil {
		t.Fatal(err)
	}

	pc, ok, err := meta.LoadParserCheckpoint(1000)
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if pc.Sequence != 7 || pc.Offset != 4096 {
		t.Fatalf("got %+v, want Sequence=7 Offset=4096", pc)
	}
	if pc.MinXid != x {
		t.Fatalf("got MinXid %v, want %v", pc.MinXid, x)
	}
	if pc.Resetlogs != 1 || pc.Activation != 2 {
		t.Fatalf("got resetlogs=%v activation=%v, want 1,2", pc.Resetlogs, pc.Activation)
	}
}

func TestBinarySchemaRoundTrip(t *testing.T) {
	msg := &builder.Message{
		SCN:       10,
		CommitSCN: 20,
		CommitIdx: 3,
		Ops: []builder.Op{
			{Kind: record.OpInsert, After: []builder.ColumnOut{{Name: "id", Value: "1"}}},
		},
	}
	encoded := builder.EncodeBinarySchema(msg)
	decoded, err := builder.DecodeBinarySchema(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.SCN != msg.SCN || decoded.CommitSCN != msg.CommitSCN {
		t.Fatalf("got %+v, want %+v", decoded, msg)
	}
	if len(decoded.Ops) != 1 || decoded.Ops[0].After[0].Value != "1" {
		t.Fatalf("got ops %+v", decoded.Ops)
	}
}

func TestLobResolveMissingPageNull(t *testing.T) {
	lc := builder.NewLobCtx()
	lc.Stage(1, 0, []byte("abc"))
	data, err := lc.Resolve(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q, want %q", data, "abc")
	}
}

func newTestBuffer(t *testing.T) *transaction.Buffer {
	t.Helper()
	return transaction.NewBuffer(chunk.NewPool(chunk.DefaultOptions()), "orcl")
}
