package record_test

import (
	"encoding/binary"
	"testing"

	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/xid"
)

func buildRecord(layer, opcode byte, s scn.SCN, subScn uint32, fields [][]byte) []byte {
	var body []byte
	for _, f := range fields {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f)))
		body = append(body, lenBuf[:]...)
		body = append(body, f...)
		pad := (len(f) + 3) &^ 3
		for i := len(f); i < pad; i++ {
			body = append(body, 0)
		}
	}
	hdr := make([]byte, 20)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(20+len(body)))
	hdr[4] = layer
	hdr[5] = opcode
	binary.BigEndian.PutUint64(hdr[8:16], uint64(s))
	binary.BigEndian.PutUint32(hdr[16:20], subScn)
	return append(hdr, body...)
}

func TestDispatchCommit(t *testing.T) {
	buf := buildRecord(5, 2, 1000, 0, nil)
	rec, err := record.Dispatch(buf, binary.BigEndian, xid.Zero, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Op != record.OpCommit {
		t.Fatalf("got op %v, want commit", rec.Op)
	}
	if rec.SCN != 1000 {
		t.Fatalf("got scn %v, want 1000", rec.SCN)
	}
}

func TestDispatchInsert(t *testing.T) {
	rowField := make([]byte, 10)
	binary.BigEndian.PutUint32(rowField[0:4], 42)
	binary.BigEndian.PutUint32(rowField[4:8], 7)
	binary.BigEndian.PutUint16(rowField[8:10], 3)

	col := make([]byte, 2+4)
	binary.BigEndian.PutUint16(col[0:2], 1)
	copy(col[2:], []byte("data"))

	buf := buildRecord(11, 2, 2000, 0, [][]byte{rowField, col})
	rec, err := record.Dispatch(buf, binary.BigEndian, xid.Zero, 99)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Op != record.OpInsert {
		t.Fatalf("got op %v, want insert", rec.Op)
	}
	if rec.Row.Object != 42 || rec.Row.Block != 7 || rec.Row.Slot != 3 {
		t.Fatalf("got row %+v", rec.Row)
	}
	if len(rec.Columns) != 1 || string(rec.Columns[0].After) != "data" {
		t.Fatalf("got columns %+v", rec.Columns)
	}
}

func TestDispatchUnknownOpcode(t *testing.T) {
	buf := buildRecord(99, 99, 1, 0, nil)
	_, err := record.Dispatch(buf, binary.BigEndian, xid.Zero, 0)
	if err == nil {
		t.Fatal("expected error for unregistered opcode")
	}
}

func TestLwnQueueOrdering(t *testing.T) {
	q := record.NewLwnQueue()
	q.Add(&record.LwnMember{SCN: 100, SubSCN: 1, PageOffset: 50})
	q.Add(&record.LwnMember{SCN: 100, SubSCN: 0, PageOffset: 10})
	q.Add(&record.LwnMember{SCN: 50, SubSCN: 0, PageOffset: 999})

	var order []scn.SCN
	q.Drain(func(m *record.LwnMember) {
		order = append(order, m.SCN)
	})
	if order[0] != 50 || order[1] != 100 || order[2] != 100 {
		t.Fatalf("bad drain order: %v", order)
	}
}
