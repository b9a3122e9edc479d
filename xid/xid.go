// Package xid defines the transaction identifier used to key every
// in-flight transaction buffer and every commit/rollback record.
package xid

import "fmt"

// XID identifies a transaction by its undo-segment number, undo slot,
// and wrap counter, mirroring the on-disk transaction identifier.
type XID struct {
	UndoSegment uint16
	Slot        uint16
	Wrap        uint32
}

// Zero is the sentinel meaning "no transaction".
var Zero = XID{}

// IsZero reports whether x is the sentinel.
func (x XID) IsZero() bool {
	return x == Zero
}

func (x XID) String() string {
	return fmt.Sprintf("%d.%d.%d", x.UndoSegment, x.Slot, x.Wrap)
}

// Hash returns a value suitable for use as a map key; XID is already
// comparable so this just documents the intent of callers that used to
// need an explicit hash function.
func (x XID) Hash() uint64 {
	return uint64(x.UndoSegment)<<48 | uint64(x.Slot)<<32 | uint64(x.Wrap)
}
