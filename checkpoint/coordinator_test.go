package checkpoint_test

import (
	"testing"

	"github.com/cdcstream/olr/checkpoint"
	"github.com/cdcstream/olr/metadata"
)

func TestResumeReadsWriterThenParserCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := metadata.NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	meta := metadata.Open(store, "orcl")
	meta.SetIdentity(1, 1, 1000)

	if err := meta.SaveWriterCheckpoint(metadata.WriterCheckpoint{Database: "orcl", SCN: 900, Idx: 1}); err != nil {
		t.Fatal(err)
	}
	if err := meta.SaveParserCheckpoint(metadata.ParserCheckpoint{SCN: 800}); err != nil {
		t.Fatal(err)
	}

	wc, pc, found, err := checkpoint.Resume(meta)
	if err != nil {
		t.Fatal(err)
	}
	if wc.SCN != 900 {
		t.Fatalf("got writer scn %v, want 900", wc.SCN)
	}
	if !found || pc.SCN != 800 {
		t.Fatalf("got parser checkpoint %+v found=%v", pc, found)
	}
}
