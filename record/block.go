// Package record implements the fixed-size log block and the
// log-write-network (LWN) group header that the Reader validates and
// the Parser assembles records from.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/cdcstream/olr/scn"
)

// Endianness selects how multi-byte integers in the block header are
// decoded. The byte pattern at offset 28..31 of a log file's header
// block names it: little-endian is 7D 7C 7B 7A, big-endian is the
// reverse, 7A 7B 7C 7D.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// DetectEndianness inspects the 4-byte pattern at offset 28 of a log
// file header block. Per spec.md's open question, only
// little-endian is exercised end-to-end by the original; big-endian
// detection is implemented here but callers should treat it as
// unverified against real big-endian files.
func DetectEndianness(header []byte) (Endianness, error) {
	if len(header) < 32 {
		return 0, fmt.Errorf("record: header too short to detect endianness: %d", len(header))
	}
	b := header[28:32]
	switch {
	case b[0] == 0x7D && b[1] == 0x7C && b[2] == 0x7B && b[3] == 0x7A:
		return LittleEndian, nil
	case b[0] == 0x7A && b[1] == 0x7B && b[2] == 0x7C && b[3] == 0x7D:
		return BigEndian, nil
	default:
		return 0, fmt.Errorf("record: unrecognized endianness pattern: %x", b)
	}
}

func (e Endianness) Order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ValidBlockSize reports whether size is one of the three block sizes
// the format supports.
func ValidBlockSize(size uint32) bool {
	return size == 512 || size == 1024 || size == 4096
}

// blockTypeTag is the byte at header offset 1 that distinguishes a
// 512/1024-byte block (0x22) from a 4096-byte block (0x82).
func blockTypeTag(blockSize uint32) byte {
	if blockSize == 4096 {
		return 0x82
	}
	return 0x22
}

// BlockHeader is the per-block header every redo block carries:
// sequence and block number for cross-checking against what the Reader
// expected, and the checksum for corruption detection.
type BlockHeader struct {
	Sequence    scn.Sequence
	BlockNumber uint32
	Checksum    uint16
}

// SequenceMismatchError is returned by ParseBlockHeader when a block's
// own sequence field no longer matches the sequence the Reader opened
// the file for, distinguishing that case from an ordinary block-number
// or marker corruption so the caller can surface reader.CodeErrorSequence.
type SequenceMismatchError struct {
	Got, Want scn.Sequence
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("record: block sequence mismatch: got %s want %s", e.Got, e.Want)
}

// ParseBlockHeader decodes and validates a block's header in place.
// blockNumber is the position the Reader expected this block to be at;
// a mismatch is a protocol violation (the file is corrupt or the
// caller miscounted), not a transient condition. expectSequence is the
// sequence the Reader opened this log file for; a zero value skips the
// check (the Reader passes zero until it has taken the sequence from
// the first block it verifies).
func ParseBlockHeader(buf []byte, blockSize uint32, endian Endianness, expectBlockNumber uint32, expectSequence scn.Sequence) (BlockHeader, error) {
	if uint32(len(buf)) < blockSize {
		return BlockHeader{}, fmt.Errorf("record: short block: %d < %d", len(buf), blockSize)
	}
	if buf[1] != blockTypeTag(blockSize) {
		return BlockHeader{}, fmt.Errorf("record: invalid block size marker: got %#x want %#x", buf[1], blockTypeTag(blockSize))
	}

	order := endian.Order()
	blockNumber := order.Uint32(buf[4:8])

	sequence := scn.Sequence(order.Uint32(buf[8:12]))
	if expectSequence != 0 && sequence != expectSequence {
		return BlockHeader{}, &SequenceMismatchError{Got: sequence, Want: expectSequence}
	}

	if blockNumber != expectBlockNumber {
		return BlockHeader{}, fmt.Errorf("record: block number mismatch: got %d want %d", blockNumber, expectBlockNumber)
	}

	h := BlockHeader{BlockNumber: blockNumber, Sequence: sequence, Checksum: order.Uint16(buf[14:16])}
	return h, nil
}

// Checksum computes the block's header checksum: an XOR-fold over the
// block's 16-bit words, per spec.md §3.
func Checksum(buf []byte, blockSize uint32) uint16 {
	var sum uint16
	n := int(blockSize)
	for i := 0; i+1 < n; i += 2 {
		sum ^= binary.LittleEndian.Uint16(buf[i : i+2])
	}
	if n%2 == 1 {
		sum ^= uint16(buf[n-1])
	}
	return sum
}

// VerifyChecksum recomputes the checksum over buf excluding the two
// checksum bytes themselves (conventionally at offset 14) and compares
// it to the stored value.
func VerifyChecksum(buf []byte, blockSize uint32, endian Endianness) bool {
	order := endian.Order()
	stored := order.Uint16(buf[14:16])

	saved0, saved1 := buf[14], buf[15]
	buf[14], buf[15] = 0, 0
	computed := Checksum(buf, blockSize)
	buf[14], buf[15] = saved0, saved1

	return computed == stored
}
