package record

import (
	"encoding/binary"
	"fmt"

	"github.com/cdcstream/olr/rowid"
	"github.com/cdcstream/olr/xid"
)

// The handlers below are a representative slice of the (layer, opcode)
// decoder table spec.md §6 calls out as an external collaborator: the
// hundreds of Oracle physical-layout decoders are out of scope, but
// the dispatch mechanism and a working sample of each Op kind are not.
// Layer numbers here are nominal, chosen to keep the table distinct
// rather than to match any particular database version.
const (
	layerTransaction = 5
	layerRow         = 11
	layerDDL         = 24
	layerLob         = 26
	layerIndex       = 10
	layerCheckpoint  = 0
)

const (
	opBegin    = 1
	opCommit   = 2
	opRollback = 3

	opInsert       = 2
	opDelete       = 3
	opUpdate       = 5
	opMultiInsert  = 11
	opMultiDelete  = 12

	opDDL = 1

	opLobWrite = 1

	opIndexInsert = 2

	opCheckpoint = 1
)

func init() {
	Register(layerTransaction, opBegin, decodeBegin)
	Register(layerTransaction, opCommit, decodeCommit)
	Register(layerTransaction, opRollback, decodeRollback)

	Register(layerRow, opInsert, decodeInsert)
	Register(layerRow, opDelete, decodeDelete)
	Register(layerRow, opUpdate, decodeUpdate)
	Register(layerRow, opMultiInsert, decodeMultiInsert)
	Register(layerRow, opMultiDelete, decodeMultiDelete)

	Register(layerDDL, opDDL, decodeDDL)
	Register(layerLob, opLobWrite, decodeLobWrite)
	Register(layerIndex, opIndexInsert, decodeIndex)
	Register(layerCheckpoint, opCheckpoint, decodeCheckpoint)
}

func rowIDFromFields(fields []Field) (rowid.RowID, error) {
	if len(fields) == 0 || len(fields[0]) < 10 {
		return rowid.RowID{}, fmt.Errorf("record: missing row-id field")
	}
	f := fields[0]
	return rowid.RowID{
		Object: binary.BigEndian.Uint32(f[0:4]),
		Block:  binary.BigEndian.Uint32(f[4:8]),
		Slot:   binary.BigEndian.Uint16(f[8:10]),
	}, nil
}

// ExtractXID reads the transaction identifier a record's own fields
// carry, ahead of dispatching to its (layer, opcode) handler: a
// begin/commit/rollback record's first field is the bare 8-byte XID
// (undo segment, slot, wrap, each big-endian); a row/index record's
// first field is its usual rowid.RowID prefix (object, block, slot)
// with the XID packed immediately after, at offset 10. Every other
// layer (DDL, LOB, checkpoint) has no XID convention here and routes
// as xid.Zero. Malformed or absent fields are not fatal: the caller
// already re-parses the header for dispatch, so this just falls back
// to the zero XID rather than failing the whole record.
func ExtractXID(buf []byte, order binary.ByteOrder) (xid.XID, uint32, error) {
	size, layer, opcode, _, _, err := ParseRecordHeader(buf, order)
	if err != nil {
		return xid.Zero, 0, err
	}
	if int(size) > len(buf) {
		size = uint32(len(buf))
	}
	fields, err := fields4Align(buf[20:size], order)
	if err != nil || len(fields) == 0 {
		return xid.Zero, 0, nil
	}
	f := fields[0]

	switch {
	case layer == layerTransaction && (opcode == opBegin || opcode == opCommit || opcode == opRollback):
		if len(f) < 8 {
			return xid.Zero, 0, nil
		}
		return xid.XID{
			UndoSegment: binary.BigEndian.Uint16(f[0:2]),
			Slot:        binary.BigEndian.Uint16(f[2:4]),
			Wrap:        binary.BigEndian.Uint32(f[4:8]),
		}, 0, nil

	case layer == layerRow || layer == layerIndex:
		if len(f) < 18 {
			return xid.Zero, 0, nil
		}
		object := binary.BigEndian.Uint32(f[0:4])
		return xid.XID{
			UndoSegment: binary.BigEndian.Uint16(f[10:12]),
			Slot:        binary.BigEndian.Uint16(f[12:14]),
			Wrap:        binary.BigEndian.Uint32(f[14:18]),
		}, object, nil

	default:
		return xid.Zero, 0, nil
	}
}

func decodeBegin(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpBegin
	return &hdr, nil
}

func decodeCommit(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpCommit
	return &hdr, nil
}

func decodeRollback(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpRollback
	return &hdr, nil
}

// decodeColumns reads one column per field: a big-endian colIndex
// uint16 followed by the column's data, which runs to the end of the
// field (an empty remainder marks a null).
func decodeColumns(fields []Field, withBefore bool) []ColumnValue {
	var cols []ColumnValue
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		colIdx := binary.BigEndian.Uint16(f[0:2])
		data := f[2:]
		cv := ColumnValue{ColumnIndex: colIdx, Null: len(data) == 0}
		if withBefore {
			cv.Before = data
		} else {
			cv.After = data
		}
		cols = append(cols, cv)
	}
	return cols
}

func decodeInsert(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	row, err := rowIDFromFields(fields)
	if err != nil {
		return nil, err
	}
	hdr.Op = OpInsert
	hdr.Row = row
	if len(fields) > 1 {
		hdr.Columns = decodeColumns(fields[1:], false)
	}
	return &hdr, nil
}

func decodeDelete(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	row, err := rowIDFromFields(fields)
	if err != nil {
		return nil, err
	}
	hdr.Op = OpDelete
	hdr.Row = row
	if len(fields) > 1 {
		hdr.Columns = decodeColumns(fields[1:], true)
	}
	return &hdr, nil
}

func decodeUpdate(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	row, err := rowIDFromFields(fields)
	if err != nil {
		return nil, err
	}
	hdr.Op = OpUpdate
	hdr.Row = row
	// update records carry before-images and after-images as two
	// consecutive runs of equal length, split at the midpoint.
	rest := fields[1:]
	half := len(rest) / 2
	before := decodeColumns(rest[:half], true)
	after := decodeColumns(rest[half:], false)
	merged := make(map[uint16]*ColumnValue)
	for i := range before {
		c := before[i]
		merged[c.ColumnIndex] = &c
	}
	for i := range after {
		c := after[i]
		if existing, ok := merged[c.ColumnIndex]; ok {
			existing.After = c.After
		} else {
			merged[c.ColumnIndex] = &c
		}
	}
	for _, c := range merged {
		hdr.Columns = append(hdr.Columns, *c)
	}
	return &hdr, nil
}

func decodeMultiInsert(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpMultiInsert
	if len(fields) > 0 {
		hdr.Columns = decodeColumns(fields, false)
	}
	return &hdr, nil
}

func decodeMultiDelete(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpMultiDelete
	if len(fields) > 0 {
		hdr.Columns = decodeColumns(fields, true)
	}
	return &hdr, nil
}

func decodeDDL(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpDDL
	if len(fields) > 0 {
		hdr.DDLText = string(fields[0])
	}
	return &hdr, nil
}

func decodeLobWrite(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpLobWrite
	if len(fields) > 0 {
		hdr.Columns = []ColumnValue{{ColumnIndex: 0, After: fields[0]}}
	}
	return &hdr, nil
}

func decodeIndex(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpIndex
	row, err := rowIDFromFields(fields)
	if err == nil {
		hdr.Row = row
	}
	return &hdr, nil
}

func decodeCheckpoint(hdr RedoLogRecord, fields []Field) (*RedoLogRecord, error) {
	hdr.Op = OpCheckpoint
	return &hdr, nil
}
