package chunk_test

import (
	"testing"
	"time"

	"github.com/cdcstream/olr/chunk"
)

func TestAcquireRelease(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.ChunkSize = 16
	opts.Caps[chunk.Reader] = 1
	p := chunk.NewPool(opts)

	c1 := p.Acquire(chunk.Reader)
	if c1 == nil {
		t.Fatal("expected a chunk")
	}
	if len(c1.Data) != 16 {
		t.Fatalf("chunk size = %d, want 16", len(c1.Data))
	}

	if c2 := p.Acquire(chunk.Reader); c2 != nil {
		t.Fatal("expected quota exhaustion to return nil")
	}

	p.Release(chunk.Reader, c1)
	if c3 := p.Acquire(chunk.Reader); c3 == nil {
		t.Fatal("expected a chunk after release")
	}
}

func TestSubsystemsIndependent(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.Caps[chunk.Reader] = 1
	opts.Caps[chunk.Transactions] = 1
	p := chunk.NewPool(opts)

	if c := p.Acquire(chunk.Reader); c == nil {
		t.Fatal("expected a reader chunk")
	}
	if c := p.Acquire(chunk.Transactions); c == nil {
		t.Fatal("transactions quota should be independent of reader quota")
	}
}

func TestWaitWakesOnRelease(t *testing.T) {
	opts := chunk.DefaultOptions()
	opts.Caps[chunk.Builder] = 1
	opts.Deadlock = time.Second
	p := chunk.NewPool(opts)

	c := p.Acquire(chunk.Builder)
	if c == nil {
		t.Fatal("expected a chunk")
	}

	done := make(chan bool, 1)
	go func() {
		done <- p.Wait(chunk.Builder)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Release(chunk.Builder, c)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Wait should have returned true on release, not timed out")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after release")
	}
}
