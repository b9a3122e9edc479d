// Package parser consumes a Reader's validated blocks, reassembles
// LWN groups, dispatches records to opcode handlers, and routes
// decoded records into the transaction buffer.
package parser

import (
	"encoding/binary"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/olrerr"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/transaction"
)

// Options configures one Parser instance.
type Options struct {
	Database        string
	IgnoreDataErrors bool
	FirstDataScn    scn.SCN
	Endian          record.Endianness
}

// Parser is single-threaded per active log file: it consumes blocks in
// file order, maintains the current LWN's heap, and on completion
// drains it into the transaction buffer and builder.
type Parser struct {
	opts Options
	buf  *transaction.Buffer
	bld  *builder.Builder
	log  interface {
		Warn(args ...interface{})
		Info(args ...interface{})
	}

	currentLWN      record.LWNHeader
	lwnBlocksSeen   uint32
	queue           *record.LwnQueue
	recordLeftToCopy []byte // partial record spanning a block boundary
	sequence        scn.Sequence
	offset          scn.FileOffset
}

// New constructs a Parser feeding buf and bld.
func New(opts Options, buf *transaction.Buffer, bld *builder.Builder) *Parser {
	return &Parser{
		opts:  opts,
		buf:   buf,
		bld:   bld,
		log:   logging.ForDatabase("parser", opts.Database),
		queue: record.NewLwnQueue(),
	}
}

// blockHeaderSize is the length of a block's fixed header; block data
// starts right after it.
const blockHeaderSize = 16

// ProcessBlock consumes one validated block (header already checked
// by the Reader). It extracts complete records, appending partial
// records into recordLeftToCopy across block boundaries, per spec.md
// §4.4's LWN assembly rule.
func (p *Parser) ProcessBlock(buf []byte, blockIdx uint32, lwnNum uint32, lwnSize uint32, lwnSCN scn.SCN, lwnTimestamp int64, sequence scn.Sequence, offset scn.FileOffset) error {
	order := p.opts.Endian.Order()

	p.sequence = sequence
	p.offset = offset

	if p.lwnBlocksSeen == 0 {
		p.currentLWN = record.LWNHeader{Number: lwnNum, BlockCount: lwnSize, SCN: lwnSCN, Timestamp: lwnTimestamp}
	} else if lwnNum != p.currentLWN.Number {
		return olrerr.RedoError("lwn-mismatch", "block carries a different lwn-num than the group in progress")
	}
	p.lwnBlocksSeen++

	payload := append(p.recordLeftToCopy, buf[blockHeaderSize:]...)
	p.recordLeftToCopy = nil

	pos := 0
	for pos+20 <= len(payload) {
		size, _, _, _, _, err := record.ParseRecordHeader(payload[pos:], order)
		if err != nil {
			break
		}
		if pos+int(size) > len(payload) {
			// record crosses this block's boundary; keep the partial
			// bytes for the next block.
			p.recordLeftToCopy = append([]byte(nil), payload[pos:]...)
			break
		}

		pageOffset := uint16(pos)
		if err := p.decodeAndQueue(payload[pos:pos+int(size)], order, pageOffset, blockIdx); err != nil {
			if !p.opts.IgnoreDataErrors {
				return err
			}
			p.log.Warn("skipping record decode error: ", err)
		}
		pos += int(size)
	}

	if p.lwnBlocksSeen == p.currentLWN.BlockCount {
		return p.drainLWN()
	}
	return nil
}

func (p *Parser) decodeAndQueue(buf []byte, order binary.ByteOrder, pageOffset uint16, blockIdx uint32) error {
	_, _, _, recScn, subScn, err := record.ParseRecordHeader(buf, order)
	if err != nil {
		return err
	}

	x, object, err := record.ExtractXID(buf, order)
	if err != nil {
		return err
	}
	rec, err := record.Dispatch(buf, order, x, object)
	if err != nil {
		return err
	}

	p.queue.Add(&record.LwnMember{
		PageOffset: pageOffset,
		SCN:        recScn,
		SubSCN:     subScn,
		Size:       uint32(len(buf)),
		Block:      blockIdx,
		Record:     rec,
	})
	return nil
}

// drainLWN drains the completed LWN's heap in (scn, subScn, pageOffset)
// order, routing each record to the transaction buffer, hands every
// transaction the drain committed off to the Builder's commit-order
// emission, then emits the LWN checkpoint if its scn exceeds
// firstDataScn, per spec.md §4.4.
func (p *Parser) drainLWN() error {
	lwnSCN := p.currentLWN.SCN

	p.queue.Drain(func(m *record.LwnMember) {
		p.route(m.Record)
	})
	p.lwnBlocksSeen = 0

	p.bld.EmitReady()

	if lwnSCN.Less(p.opts.FirstDataScn) || lwnSCN.Equal(p.opts.FirstDataScn) {
		return nil
	}
	return p.bld.ProcessCheckpoint(lwnSCN, p.sequence, p.currentLWN.Timestamp, p.offset, false)
}

// route appends a decoded record into its transaction, or applies the
// transaction-level state transition for begin/commit/rollback. A
// commit only marks the transaction ready; EmitReady is the sole
// caller of Builder.Emit, so transactions reach the output queue in
// commit-SCN order even when they commit out of that order within or
// across LWNs, per spec.md §4.5's drainer rule.
func (p *Parser) route(rec *record.RedoLogRecord) {
	switch rec.Op {
	case record.OpBegin:
		p.buf.Get(rec.XID) // lazily creates the transaction on first reference
	case record.OpCommit:
		p.buf.Commit(rec.XID, rec.SCN, p.sequence)
	case record.OpRollback:
		p.buf.Rollback(rec.XID)
	case record.OpDDL:
		t := p.buf.Get(rec.XID)
		t.MarkDDLStart()
		p.buf.Append(rec.XID, rec)
		t.MarkDDLEnd()
	default:
		p.buf.Append(rec.XID, rec)
	}
}
