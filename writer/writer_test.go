package writer_test

import (
	"testing"
	"time"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/writer"
)

type fakeSink struct {
	sent []*builder.Message
}

func (f *fakeSink) Send(msg *builder.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSink) Poll() (*writer.Request, bool, error) {
	return nil, false, nil
}

func (f *fakeSink) Close() error { return nil }

func newMetadata(t *testing.T) *metadata.Metadata {
	t.Helper()
	dir := t.TempDir()
	store, err := metadata.NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return metadata.Open(store, "orcl")
}

func TestConfirmUpdatesPositionAndReleases(t *testing.T) {
	meta := newMetadata(t)
	pool := chunk.NewPool(chunk.DefaultOptions())
	buf := transaction.NewBuffer(pool, "orcl")
	b := builder.New(builder.DefaultConfig(), meta, buf, pool)
	sink := &fakeSink{}
	w := writer.New(sink, b, meta, pool, time.Hour)

	// One queued output node, which Confirm's idx 7 covers.
	if err := b.ProcessCheckpoint(100, 1, 0, 0, false); err != nil {
		t.Fatal(err)
	}

	w.Confirm(500, 7)

	// Shutdown lets Drain return instead of waiting for new output.
	b.Shutdown()
	if msgs := b.Drain(); len(msgs) != 0 {
		t.Fatalf("got %d messages after Confirm, want 0 (released)", len(msgs))
	}

	// The first Run step persists the writer checkpoint.
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Run(stop) }()
	var wc metadata.WriterCheckpoint
	found := false
	for deadline := time.Now().Add(2 * time.Second); !found && time.Now().Before(deadline); time.Sleep(time.Millisecond) {
		got, ok, err := meta.LoadWriterCheckpoint()
		if err == nil && ok {
			wc, found = got, true
		}
	}
	close(stop)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("writer checkpoint was never persisted")
	}
	if wc.SCN != 500 || wc.Idx != 7 {
		t.Fatalf("got checkpoint scn=%v idx=%v, want 500, 7", wc.SCN, wc.Idx)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
