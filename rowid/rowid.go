// Package rowid implements the physical row address used to identify
// the row a DML record applies to.
package rowid

import "fmt"

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// RowID is a physical row address: the data object, the block within
// the object's segment, and the row's slot within the block.
type RowID struct {
	Object uint32
	Block  uint32
	Slot   uint16
}

// String renders the row id in its conventional 18-character textual
// form: 6 base-64 chars for the object, 3 for the relative file/block
// tag (folded into Block here), 6 for the block, 3 for the slot.
func (r RowID) String() string {
	buf := make([]byte, 18)
	encodeBase64(buf[0:6], uint64(r.Object))
	encodeBase64(buf[6:9], 0)
	encodeBase64(buf[9:15], uint64(r.Block))
	encodeBase64(buf[15:18], uint64(r.Slot))
	return string(buf)
}

func encodeBase64(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = base64Chars[v&0x3f]
		v >>= 6
	}
}

// Parse reconstructs a RowID from its 18-character textual form.
func Parse(s string) (RowID, error) {
	if len(s) != 18 {
		return RowID{}, fmt.Errorf("rowid: wrong length: %d", len(s))
	}
	obj, err := decodeBase64(s[0:6])
	if err != nil {
		return RowID{}, err
	}
	blk, err := decodeBase64(s[9:15])
	if err != nil {
		return RowID{}, err
	}
	slot, err := decodeBase64(s[15:18])
	if err != nil {
		return RowID{}, err
	}
	return RowID{Object: uint32(obj), Block: uint32(blk), Slot: uint16(slot)}, nil
}

func decodeBase64(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		idx := indexByte(s[i])
		if idx < 0 {
			return 0, fmt.Errorf("rowid: invalid character: %q", s[i])
		}
		v = v<<6 | uint64(idx)
	}
	return v, nil
}

func indexByte(b byte) int {
	for i := 0; i < len(base64Chars); i++ {
		if base64Chars[i] == b {
			return i
		}
	}
	return -1
}
