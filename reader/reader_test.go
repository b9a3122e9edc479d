package reader_test

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/reader"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
)

func writeTestHeader(t *testing.T, path string, blockSize uint32, resetlogs, activation uint32, firstScn, nextScn uint64) {
	t.Helper()
	buf := make([]byte, 4096)
	copy(buf[28:32], []byte{0x7D, 0x7C, 0x7B, 0x7A})
	binary.LittleEndian.PutUint32(buf[20:24], blockSize)
	binary.LittleEndian.PutUint32(buf[32:36], resetlogs)
	binary.LittleEndian.PutUint32(buf[36:40], activation)
	binary.LittleEndian.PutUint64(buf[40:48], firstScn)
	binary.LittleEndian.PutUint64(buf[48:56], nextScn)
	binary.LittleEndian.PutUint32(buf[56:60], 10)

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

// buildBlock constructs a self-consistent data block: block-type tag,
// block number and sequence at their ParseBlockHeader offsets, and a
// matching checksum. marker sets the leading 4 bytes checkOverwritten
// reads (byte 1 then holds the block-type tag, which checkOverwritten
// masks out); 0 never trips it.
func buildBlock(blockSize, blockNumber, sequence, marker uint32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], marker)
	if blockSize == 4096 {
		buf[1] = 0x82
	} else {
		buf[1] = 0x22
	}
	binary.LittleEndian.PutUint32(buf[4:8], blockNumber)
	binary.LittleEndian.PutUint32(buf[8:12], sequence)
	sum := record.Checksum(buf, blockSize)
	binary.LittleEndian.PutUint16(buf[14:16], sum)
	return buf
}

func writeBlockAt(t *testing.T, path string, blockSize uint32, blockNumber uint32, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, int64(blockNumber)*int64(blockSize)); err != nil {
		t.Fatal(err)
	}
}

func TestReaderCheckAcceptsValidHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()

	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("got %v, want ok", code)
	}

	resetlogs, activation, firstScn, nextScn := r.Identity()
	if uint32(resetlogs) != 1 || uint32(activation) != 2 {
		t.Fatalf("got resetlogs=%v activation=%v", resetlogs, activation)
	}
	if uint64(firstScn) != 1000 || uint64(nextScn) != 5000 {
		t.Fatalf("got firstScn=%v nextScn=%v", firstScn, nextScn)
	}
	if r.BlockSize() != 512 {
		t.Fatalf("got block size %d, want 512", r.BlockSize())
	}
}

func TestReaderCheckRejectsIdentityMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{
		Path:     path,
		Database: "orcl",
		Want:     reader.Identity{Resetlogs: 99, Activation: 2},
	}, pool)
	defer r.Close()

	if code := r.Check(); code != reader.CodeErrorBadData {
		t.Fatalf("got %v, want error-bad-data", code)
	}
}

func TestReaderCheckRejectsBadEndianness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	buf := make([]byte, 4096)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()

	if code := r.Check(); code != reader.CodeErrorBadData {
		t.Fatalf("got %v, want error-bad-data", code)
	}
}

// TestReadFillsRingReturnsOK drives the ring-full branch: with a pool
// chunk sized for exactly two blocks, Read stops handing more blocks
// to the ring once it holds that many, returning CodeOK for the caller
// to drain via Next before calling Read again.
func TestReadFillsRingReturnsOK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)
	writeBlockAt(t, path, 512, 2, buildBlock(512, 2, 7, 0))
	writeBlockAt(t, path, 512, 3, buildBlock(512, 3, 7, 0))
	writeBlockAt(t, path, 512, 4, buildBlock(512, 4, 7, 0))

	opts := chunk.DefaultOptions()
	opts.ChunkSize = 1024 // two 512-byte blocks per chunk
	pool := chunk.NewPool(opts)

	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != reader.CodeOK {
		t.Fatalf("got %v, want ok", code)
	}
	if r.BufferEnd() != 4 {
		t.Fatalf("got buffer end %d, want 4 (blocks 2 and 3 only)", r.BufferEnd())
	}
}

// TestReadRetriesCRCThenSucceeds writes a block with a deliberately
// wrong checksum, then fixes it in place a few retry cycles later;
// Read must retry rather than fail on the first bad checksum.
func TestReadRetriesCRCThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)

	good := buildBlock(512, 2, 7, 0)
	bad := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(bad[14:16], binary.LittleEndian.Uint16(bad[14:16])+1)
	writeBlockAt(t, path, 512, 2, bad)
	if err := os.Truncate(path, 1536); err != nil { // header + block 2 only, so block 3 hits real EOF
		t.Fatal(err)
	}

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	go func() {
		time.Sleep(15 * time.Millisecond)
		writeBlockAt(t, path, 512, 2, good)
	}()

	code, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != reader.CodeFinished {
		t.Fatalf("got %v, want finished", code)
	}
	if r.BufferEnd() != 3 {
		t.Fatalf("got buffer end %d, want 3 (block 2 committed after retry)", r.BufferEnd())
	}
}

// TestReadTwoPhaseVerifyCommitsAfterDelay exercises the VerifyDelay
// path: blocks land in the pending list before commitBlock runs.
func TestReadTwoPhaseVerifyCommitsAfterDelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)
	writeBlockAt(t, path, 512, 2, buildBlock(512, 2, 7, 0))
	writeBlockAt(t, path, 512, 3, buildBlock(512, 3, 7, 0))
	if err := os.Truncate(path, 2048); err != nil { // header + blocks 2,3 only, so block 4 hits real EOF
		t.Fatal(err)
	}

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl", VerifyDelay: time.Microsecond}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != reader.CodeFinished {
		t.Fatalf("got %v, want finished", code)
	}
	if r.BufferEnd() != 4 {
		t.Fatalf("got buffer end %d, want 4 (both blocks committed past verify delay)", r.BufferEnd())
	}
}

// TestReadDetectsOverwritten exercises the online-log-wrap heuristic:
// a later block's generation marker no longer matches the sequence
// the Reader locked onto.
func TestReadDetectsOverwritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)
	writeBlockAt(t, path, 512, 2, buildBlock(512, 2, 7, 0))
	writeBlockAt(t, path, 512, 3, buildBlock(512, 3, 7, 99))

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != reader.CodeOverwritten {
		t.Fatalf("got %v, want overwritten", code)
	}
	if r.BufferEnd() != 3 {
		t.Fatalf("got buffer end %d, want 3 (block 3 rejected, not committed)", r.BufferEnd())
	}
}

// TestReadDetectsSequenceMismatch exercises record.ParseBlockHeader's
// sequence validation: a Reader opened for an explicit sequence must
// reject a block stamped with a different one, ahead of the
// overwritten heuristic.
func TestReadDetectsSequenceMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 512, 1, 2, 1000, 5000)
	writeBlockAt(t, path, 512, 2, buildBlock(512, 2, 7, 0))

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl", Sequence: scn.Sequence(5)}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if code != reader.CodeErrorSequence {
		t.Fatalf("got %v, want error-sequence", code)
	}
	var mismatch *record.SequenceMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got err %v, want *record.SequenceMismatchError", err)
	}
	if mismatch.Got != 7 || mismatch.Want != 5 {
		t.Fatalf("got %+v, want Got=7 Want=5", mismatch)
	}
}

// TestReadReturnsFinishedAtEOFWithValidNextScn exercises the EOF
// branch when the header's nextScn is a real value: Read reports
// CodeFinished and no error, since a later log switch is expected.
func TestReadReturnsFinishedAtEOFWithValidNextScn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 4096, 1, 2, 1000, 5000)

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != reader.CodeFinished {
		t.Fatalf("got %v, want finished", code)
	}
}

// TestReadReturnsStoppedAtEOFWithoutNextScn exercises the EOF branch
// when the header carries no valid nextScn: Read reports CodeStopped
// and a non-nil error, since there is nowhere to resume from.
func TestReadReturnsStoppedAtEOFWithoutNextScn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redo01.log")
	writeTestHeader(t, path, 4096, 1, 2, 1000, uint64(math.MaxUint64))

	pool := chunk.NewPool(chunk.DefaultOptions())
	r := reader.New(reader.Options{Path: path, Database: "orcl"}, pool)
	defer r.Close()
	if code := r.Check(); code != reader.CodeOK {
		t.Fatalf("check: got %v, want ok", code)
	}

	code, err := r.Read()
	if err == nil {
		t.Fatal("expected an error for stopped code")
	}
	if code != reader.CodeStopped {
		t.Fatalf("got %v, want stopped", code)
	}
}
