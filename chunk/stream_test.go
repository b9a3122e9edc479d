package chunk_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/cdcstream/olr/chunk"
)

func TestWriterSpansMultipleChunks(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.ChunkSize = 16
	opts.Caps[chunk.Transactions] = 8
	pool := chunk.NewPool(opts)

	w := chunk.NewStreamWriter(pool, chunk.Transactions)
	records := [][]byte{
		[]byte("one"),
		[]byte("a much longer second record"),
		[]byte("three"),
	}
	for _, r := range records {
		w.Append(r)
	}

	first, last, used := w.Chain()
	r := chunk.NewStreamReader(first, last, used)
	for i, want := range records {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d = %q, want %q", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last record, got %v", err)
	}
}

func TestWriterTruncateToSavepoint(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.ChunkSize = 16
	opts.Caps[chunk.Transactions] = 8
	pool := chunk.NewPool(opts)

	w := chunk.NewStreamWriter(pool, chunk.Transactions)
	w.Append([]byte("kept"))
	at, used := w.Snapshot()

	w.Append([]byte("rolled back, part one"))
	w.Append([]byte("rolled back, part two"))

	before := pool.InUse(chunk.Transactions)
	w.TruncateTo(at, used)
	after := pool.InUse(chunk.Transactions)
	if after >= before {
		t.Fatalf("expected TruncateTo to release chunks: before=%d after=%d", before, after)
	}

	first, last, usedNow := w.Chain()
	r := chunk.NewStreamReader(first, last, usedNow)
	got, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "kept" {
		t.Fatalf("got %q, want %q", got, "kept")
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestWriterDetachHeadAndPrepend(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.ChunkSize = 8
	opts.Caps[chunk.Transactions] = 8
	pool := chunk.NewPool(opts)

	w := chunk.NewStreamWriter(pool, chunk.Transactions)
	w.Append([]byte("a"))
	w.Append([]byte("b"))
	w.Append([]byte("c"))

	detached := w.DetachHead()
	if len(detached) == 0 {
		t.Fatal("expected at least one detached chunk")
	}

	first, last, used := w.Chain()
	if first != last {
		t.Fatal("expected only the tail chunk to remain resident after DetachHead")
	}

	w.Prepend(detached)
	first, last, used = w.Chain()
	r := chunk.NewStreamReader(first, last, used)
	for _, want := range []string{"a", "b", "c"} {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}
