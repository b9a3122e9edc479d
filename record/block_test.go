package record_test

import (
	"encoding/binary"
	"testing"

	"github.com/cdcstream/olr/record"
)

func TestDetectEndianness(t *testing.T) {
	header := make([]byte, 32)
	copy(header[28:32], []byte{0x7D, 0x7C, 0x7B, 0x7A})
	e, err := record.DetectEndianness(header)
	if err != nil || e != record.LittleEndian {
		t.Fatalf("got %v, %v, want LittleEndian", e, err)
	}

	copy(header[28:32], []byte{0x7A, 0x7B, 0x7C, 0x7D})
	e, err = record.DetectEndianness(header)
	if err != nil || e != record.BigEndian {
		t.Fatalf("got %v, %v, want BigEndian", e, err)
	}

	copy(header[28:32], []byte{1, 2, 3, 4})
	if _, err := record.DetectEndianness(header); err == nil {
		t.Fatal("expected error for garbage pattern")
	}
}

func TestValidBlockSize(t *testing.T) {
	for _, size := range []uint32{512, 1024, 4096} {
		if !record.ValidBlockSize(size) {
			t.Errorf("%d should be valid", size)
		}
	}
	if record.ValidBlockSize(2048) {
		t.Error("2048 should not be valid")
	}
}

func TestParseBlockHeader(t *testing.T) {
	buf := make([]byte, 512)
	buf[1] = 0x22
	binary.LittleEndian.PutUint32(buf[4:8], 5)
	binary.LittleEndian.PutUint32(buf[8:12], 42)

	h, err := record.ParseBlockHeader(buf, 512, record.LittleEndian, 5, 42)
	if err != nil {
		t.Fatal(err)
	}
	if h.BlockNumber != 5 {
		t.Fatalf("got %d, want 5", h.BlockNumber)
	}
	if h.Sequence != 42 {
		t.Fatalf("got sequence %d, want 42", h.Sequence)
	}

	if _, err := record.ParseBlockHeader(buf, 512, record.LittleEndian, 6, 42); err == nil {
		t.Fatal("expected block number mismatch error")
	}

	if _, err := record.ParseBlockHeader(buf, 512, record.LittleEndian, 5, 0); err != nil {
		t.Fatal("expectSequence 0 should skip the check")
	}

	_, err = record.ParseBlockHeader(buf, 512, record.LittleEndian, 5, 7)
	if err == nil {
		t.Fatal("expected sequence mismatch error")
	}
	mismatch, ok := err.(*record.SequenceMismatchError)
	if !ok {
		t.Fatalf("got %T, want *record.SequenceMismatchError", err)
	}
	if mismatch.Got != 42 || mismatch.Want != 7 {
		t.Fatalf("got %+v, want Got=42 Want=7", mismatch)
	}
}

func TestVerifyChecksum(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	buf[14], buf[15] = 0, 0
	sum := record.Checksum(buf, 512)
	binary.LittleEndian.PutUint16(buf[14:16], sum)

	if !record.VerifyChecksum(buf, 512, record.LittleEndian) {
		t.Fatal("checksum should verify")
	}

	buf[100] ^= 0xFF
	if record.VerifyChecksum(buf, 512, record.LittleEndian) {
		t.Fatal("corrupted block should not verify")
	}
}
