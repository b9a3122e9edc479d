package record

import (
	"encoding/binary"
	"fmt"

	"github.com/cdcstream/olr/olrerr"
	"github.com/cdcstream/olr/rowid"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/xid"
)

// Op is the operation a decoded record represents, independent of the
// physical (layer, opcode) pair that produced it.
type Op int

const (
	OpUnknown Op = iota
	OpBegin
	OpCommit
	OpRollback
	OpInsert
	OpUpdate
	OpDelete
	OpMultiInsert
	OpMultiDelete
	OpDDL
	OpLobWrite
	OpIndex
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "begin"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpMultiInsert:
		return "multi-insert"
	case OpMultiDelete:
		return "multi-delete"
	case OpDDL:
		return "ddl"
	case OpLobWrite:
		return "lob-write"
	case OpIndex:
		return "index"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Field is one length-prefixed, 4-byte-aligned field of a raw record,
// per spec.md §3's Record definition.
type Field []byte

// RedoLogRecord is the decoded, typed form of a record a Parser opcode
// handler builds from its raw fields. It is the unit the Transaction
// buffer and Builder operate on.
type RedoLogRecord struct {
	Op      Op
	Layer   byte
	Opcode  byte
	SCN     scn.SCN
	SubSCN  uint32
	XID     xid.XID
	Object  uint32
	Row     rowid.RowID
	Columns []ColumnValue
	DDLText string
	Flags   uint32
}

// ColumnValue is a single column's before/after image as captured off
// an insert/update/delete record.
type ColumnValue struct {
	ColumnIndex uint16
	Before      []byte
	After       []byte
	Null        bool
}

// ParseRecordHeader reads the 20-byte fixed header every record
// begins with: total size, opcode pair, scn, sub-scn, per spec.md §3.
func ParseRecordHeader(buf []byte, order binary.ByteOrder) (size uint32, layer, opcode byte, s scn.SCN, subScn uint32, err error) {
	if len(buf) < 20 {
		return 0, 0, 0, 0, 0, fmt.Errorf("record: header too short: %d", len(buf))
	}
	size = order.Uint32(buf[0:4])
	layer = buf[4]
	opcode = buf[5]
	s = scn.SCN(order.Uint64(buf[8:16]))
	subScn = order.Uint32(buf[16:20])
	return size, layer, opcode, s, subScn, nil
}

// fields4Align splits buf into a sequence of length-prefixed fields,
// each length followed by ceil(len/4)*4 bytes of payload.
func fields4Align(buf []byte, order binary.ByteOrder) ([]Field, error) {
	var fields []Field
	pos := 0
	for pos < len(buf) {
		if pos+2 > len(buf) {
			return nil, fmt.Errorf("record: truncated field length at offset %d", pos)
		}
		flen := int(order.Uint16(buf[pos : pos+2]))
		pos += 2
		padded := (flen + 3) &^ 3
		if pos+padded > len(buf) {
			return nil, fmt.Errorf("record: truncated field payload at offset %d", pos)
		}
		fields = append(fields, Field(buf[pos:pos+flen]))
		pos += padded
	}
	return fields, nil
}

// Handler decodes the fields of one record of a known (layer, opcode)
// into a RedoLogRecord. The dispatch table below wires a representative
// set; the hundreds of Oracle-specific physical decoders are an
// external collaborator, per spec.md §6.
type Handler func(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error)

type opKey struct {
	layer, opcode byte
}

var dispatch = map[opKey]Handler{}

// Register installs a decoder for (layer, opcode). Called from init()
// in the files that implement the representative handlers, mirroring
// the teacher's registration-by-init idiom.
func Register(layer, opcode byte, h Handler) {
	dispatch[opKey{layer, opcode}] = h
}

// Dispatch decodes buf, whose first 20 bytes are the record header,
// using the handler registered for the record's (layer, opcode). An
// unregistered opcode is a Data error, fatal unless IGNORE_DATA_ERRORS
// is set (the caller decides fatality via olrerr.Fatal).
func Dispatch(buf []byte, order binary.ByteOrder, x xid.XID, object uint32) (*RedoLogRecord, error) {
	size, layer, opcode, s, subScn, err := ParseRecordHeader(buf, order)
	if err != nil {
		return nil, olrerr.RedoError("record-header", err.Error())
	}
	if int(size) > len(buf) {
		return nil, olrerr.RedoError("record-size", fmt.Sprintf("declared size %d exceeds buffer %d", size, len(buf)))
	}

	h, ok := dispatch[opKey{layer, opcode}]
	if !ok {
		return nil, olrerr.DataError("unknown-opcode", fmt.Sprintf("no handler for (layer=%d, opcode=%d)", layer, opcode))
	}

	fields, err := fields4Align(buf[20:size], order)
	if err != nil {
		return nil, olrerr.RedoError("record-fields", err.Error())
	}

	base := RedoLogRecord{
		Layer:  layer,
		Opcode: opcode,
		SCN:    s,
		SubSCN: subScn,
		XID:    x,
		Object: object,
	}
	rec, err := h(base, fields)
	if err != nil {
		return nil, olrerr.DataError("decode", err.Error())
	}
	return rec, nil
}
