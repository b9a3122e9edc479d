package memmgr_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/memmgr"
	"github.com/cdcstream/olr/xid"
)

func TestSwapOutInRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pool := chunk.NewPool(chunk.DefaultOptions())
	m, err := memmgr.New(pool, dir, "orcl")
	if err != nil {
		t.Fatal(err)
	}

	x := xid.XID{UndoSegment: 1, Slot: 2, Wrap: 3}
	c1 := pool.Acquire(chunk.Transactions)
	c2 := pool.Acquire(chunk.Transactions)
	copy(c1.Data, []byte("first chunk"))
	copy(c2.Data, []byte("second chunk"))

	if err := m.SwapOut(x, []*chunk.Chunk{c1, c2}); err != nil {
		t.Fatal(err)
	}
	if !m.IsSwapped(x) {
		t.Fatal("expected transaction to be marked swapped")
	}

	back, err := m.SwapIn(x, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d chunks back, want 2", len(back))
	}
	if string(back[0].Data[:11]) != "first chunk" {
		t.Fatalf("got %q", back[0].Data[:11])
	}

	if err := m.Cleanup(x); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, x.String()+".swap")); !os.IsNotExist(err) {
		t.Fatal("swap file should be removed after cleanup")
	}
}

func TestCleanStaleSwapFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stale.swap"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	pool := chunk.NewPool(chunk.DefaultOptions())
	if _, err := memmgr.New(pool, dir, "orcl"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "stale.swap")); !os.IsNotExist(err) {
		t.Fatal("stale swap file should have been removed on startup")
	}
}
