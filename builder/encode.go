package builder

import (
	"fmt"
	"time"

	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/xid"
)

// EmitReady drains every transaction the buffer has queued as
// committed, in commit-SCN order, and emits each one, per spec.md
// §4.5's "separate drainer... walks commitedXids in commit order"
// rule. It is the sole caller of Emit in the running pipeline, so a
// transaction that commits out of record order within or across LWNs
// still lands on the output queue in commit order. Each transaction's
// chunks are released back to the buffer once encoded.
func (b *Builder) EmitReady() {
	for _, t := range b.buf.DrainReady() {
		b.Emit(t, uint64(t.CommitSCN()))
		b.buf.Release(t)
	}
}

// Emit builds the output message(s) for a committed transaction and
// enqueues them, per spec.md §4.7's begin/commit emission rule: a
// begin op, the transaction's DML/DDL ops in order, a commit op,
// grouped according to cfg.MessageFormat.
func (b *Builder) Emit(t *transaction.Transaction, idx uint64) {
	ops := b.buildOps(t)

	switch b.cfg.MessageFormat {
	case FormatShort:
		for _, op := range ops {
			b.enqueue([]*Message{{
				CommitSCN: t.CommitSCN(),
				CommitIdx: idx,
				XID:       t.XID,
				Ops:       []Op{op},
			}})
		}
	case FormatSkipBegin:
		b.enqueue([]*Message{{
			CommitSCN: t.CommitSCN(),
			CommitIdx: idx,
			XID:       t.XID,
			Ops:       ops[1:],
		}})
	case FormatSkipCommit:
		b.enqueue([]*Message{{
			CommitSCN: t.CommitSCN(),
			CommitIdx: idx,
			XID:       t.XID,
			Ops:       ops[:len(ops)-1],
		}})
	default: // Full, FullWithBeginCommit, AddOffset
		b.enqueue([]*Message{{
			CommitSCN: t.CommitSCN(),
			CommitIdx: idx,
			XID:       t.XID,
			Ops:       ops,
		}})
	}
}

func (b *Builder) buildOps(t *transaction.Transaction) []Op {
	ops := make([]Op, 0, len(t.Records())+2)
	ops = append(ops, Op{Kind: record.OpBegin})
	for _, rec := range t.Records() {
		ops = append(ops, b.buildOp(rec))
	}
	ops = append(ops, Op{Kind: record.OpCommit})
	return ops
}

// buildOp renders one decoded record's column set into before/after
// images per its operation type, per spec.md §4.7's row-encoding rule:
// insert emits AFTER only, delete emits BEFORE only, update both.
func (b *Builder) buildOp(rec *record.RedoLogRecord) Op {
	op := Op{Kind: rec.Op, Object: rec.Object}

	if rec.Op == record.OpDDL {
		op.DDL = rec.DDLText
		return op
	}

	table, hasSchema := b.lookupTable(rec.Object)

	for _, c := range rec.Columns {
		name := fmt.Sprintf("col%d", c.ColumnIndex)
		if hasSchema && int(c.ColumnIndex) < len(table.Columns) {
			name = table.Columns[c.ColumnIndex].Name
		}
		switch rec.Op {
		case record.OpInsert, record.OpMultiInsert:
			if c.After != nil || c.Null {
				op.After = append(op.After, ColumnOut{Name: name, Value: b.renderValue(c.After), Null: c.Null})
			}
		case record.OpDelete, record.OpMultiDelete:
			if c.Before != nil || c.Null {
				op.Before = append(op.Before, ColumnOut{Name: name, Value: b.renderValue(c.Before), Null: c.Null})
			}
		default: // update
			if c.Before != nil {
				op.Before = append(op.Before, ColumnOut{Name: name, Value: b.renderValue(c.Before)})
			}
			if c.After != nil {
				op.After = append(op.After, ColumnOut{Name: name, Value: b.renderValue(c.After)})
			}
		}
	}

	if hasSchema {
		op.Tag = b.tagPreamble(table, rec)
	}
	return op
}

func (b *Builder) lookupTable(object uint32) (metadata.Table, bool) {
	if b.cfg.Schemaless {
		return metadata.Table{}, false
	}
	s, ok, err := b.meta.LoadSchema(b.meta.ClientScn())
	if err != nil || !ok {
		return metadata.Table{}, false
	}
	for _, tbl := range s.Tables {
		if tbl.Object == object {
			return tbl, true
		}
	}
	return metadata.Table{}, false
}

// tagPreamble captures the columns a table designates as a routing tag
// into a compact byte preamble, per spec.md §4.7's tag-data rule.
func (b *Builder) tagPreamble(table metadata.Table, rec *record.RedoLogRecord) []byte {
	var tag []byte
	for _, col := range table.Columns {
		if !col.Tag {
			continue
		}
		for _, c := range rec.Columns {
			if int(c.ColumnIndex) < len(table.Columns) && table.Columns[c.ColumnIndex].Name == col.Name {
				tag = append(tag, c.After...)
			}
		}
	}
	return tag
}

func (b *Builder) renderValue(data []byte) interface{} {
	return string(data)
}

// FormatTimestamp renders t per cfg.TimestampFormat, spec.md §4.7.
func (b *Builder) FormatTimestamp(t time.Time) interface{} {
	switch b.cfg.TimestampFormat {
	case TimestampUnixNano:
		return t.UnixNano()
	case TimestampUnixMicro:
		return t.UnixMicro()
	case TimestampUnixMilli:
		return t.UnixMilli()
	case TimestampUnix:
		return t.Unix()
	case TimestampISO8601:
		return t.Format(time.RFC3339Nano)
	default:
		return t.UnixMilli()
	}
}

// ProcessCheckpoint is called by the Parser after draining each LWN
// whose scn exceeds firstDataScn. Per spec.md §4.4's checkpoint-
// emission step, in order: it inserts a checkpoint boundary into the
// output queue, asks the transaction buffer for the oldest in-flight
// transaction's position (minSequence, minFileOffset, minXid), and
// persists all of it together as one ParserCheckpoint (§4.9), then
// garbage-collects the parser checkpoints whose SCN is below lwnScn.
func (b *Builder) ProcessCheckpoint(lwnScn scn.SCN, sequence scn.Sequence, timestamp int64, offset scn.FileOffset, switchRedo bool) error {
	b.enqueue([]*Message{{
		SCN: lwnScn,
		Ops: []Op{{Kind: record.OpCheckpoint}},
	}})

	resetlogs, activation, _ := b.meta.Identity()
	pc := metadata.ParserCheckpoint{
		SCN:        lwnScn,
		Sequence:   sequence,
		Offset:     offset,
		Timestamp:  timestamp,
		Resetlogs:  resetlogs,
		Activation: activation,
	}

	minSeq, minOffset, minXid, found := b.buf.MinProbe()
	if found {
		pc.MinSequence = minSeq
		pc.MinOffset = minOffset
		pc.MinXid = minXid
	} else {
		pc.MinXid = xid.Zero
	}

	if err := b.meta.SaveParserCheckpoint(pc); err != nil {
		return err
	}
	return b.meta.GCParserCheckpoints(pc.SCN)
}
