// Package scn defines the monotonic logical-time and log-position types
// shared across the whole pipeline: the System Change Number, the log
// file generation sequence, the database incarnation epochs, and the
// block-aligned file offset.
package scn

import (
	"fmt"
	"math"
)

// SCN is a 64-bit monotonic logical timestamp, totally ordered across the
// database. The all-ones value is the None sentinel.
type SCN uint64

// None is the sentinel SCN meaning "no value" (all bits set).
const None SCN = math.MaxUint64

// Zero is the smallest valid SCN. It is distinct from None: a field that
// has never been assigned should read None, not Zero.
const Zero SCN = 0

// IsNone reports whether s is the None sentinel.
func (s SCN) IsNone() bool {
	return s == None
}

// Less implements the strict happens-before comparison. None never
// compares less than anything and nothing compares less than None.
func (s SCN) Less(o SCN) bool {
	if s == None || o == None {
		return false
	}
	return s < o
}

// Equal reports whether two SCNs are the same value, including two Nones.
func (s SCN) Equal(o SCN) bool {
	return s == o
}

func (s SCN) String() string {
	if s == None {
		return "NONE"
	}
	return fmt.Sprintf("%d", uint64(s))
}

// Sequence is the 32-bit log-file generation counter. It strictly
// increases with every log switch within one incarnation.
type Sequence uint32

func (s Sequence) String() string {
	return fmt.Sprintf("%d", uint32(s))
}

// Resetlogs identifies a database incarnation created by an
// open-resetlogs event.
type Resetlogs uint32

// Activation identifies a database incarnation created by an
// activate-standby event. Together with Resetlogs and Sequence it forms
// the triple that uniquely names a log file.
type Activation uint32

// FileOffset is an unsigned byte position inside a log file. It must
// always be a multiple of the file's block size.
type FileOffset uint64

// Aligned reports whether the offset is a multiple of blockSize.
func (f FileOffset) Aligned(blockSize uint32) bool {
	return uint64(f)%uint64(blockSize) == 0
}

// Incarnation names a log file uniquely together with a Sequence.
type Incarnation struct {
	Resetlogs  Resetlogs
	Activation Activation
}

func (i Incarnation) String() string {
	return fmt.Sprintf("(resetlogs=%d,activation=%d)", i.Resetlogs, i.Activation)
}
