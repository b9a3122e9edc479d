// Package reader implements the block-aligned, checksum-verified log
// reader: one instance per open redo log file, streaming validated
// blocks into a ring of chunks that the parser drains.
package reader

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
)

// Code is a terminal or transient result of a read cycle, mirroring
// the original's REDO_CODE enum.
type Code int

const (
	CodeOK Code = iota
	CodeOverwritten
	CodeFinished
	CodeStopped
	CodeEmpty
	CodeErrorRead
	CodeErrorCRC
	CodeErrorBlock
	CodeErrorBadData
	CodeErrorSequence
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeOverwritten:
		return "overwritten"
	case CodeFinished:
		return "finished"
	case CodeStopped:
		return "stopped"
	case CodeEmpty:
		return "empty"
	case CodeErrorRead:
		return "error-read"
	case CodeErrorCRC:
		return "error-crc"
	case CodeErrorBlock:
		return "error-block"
	case CodeErrorBadData:
		return "error-bad-data"
	case CodeErrorSequence:
		return "error-sequence"
	default:
		return "error"
	}
}

// state is the reader's internal state machine position, per spec.md
// §4.3: {sleeping, check, update, read}.
type state int

const (
	stateSleeping state = iota
	stateCheck
	stateUpdate
	stateRead
)

const (
	maxCRCRetries   = 20
	crcRetryBackoff = 10 * time.Millisecond
	headerBlocks    = 2
)

// Identity is the database incarnation a Reader's header check must
// match against Metadata's expectation.
type Identity struct {
	Resetlogs  scn.Resetlogs
	Activation scn.Activation
}

// Options configures one Reader instance.
type Options struct {
	Path               string
	BlockSize          uint32 // 0 = autodetect from header
	Want               Identity
	VerifyDelay        time.Duration // two-phase verify mode; 0 disables
	CopyPath           string        // if non-empty, mirror every read here
	Database           string
	Sequence           scn.Sequence
}

// Reader streams one redo log file's blocks forward, validating each
// block's header and checksum before handing it to the ring.
type Reader struct {
	opts Options
	pool *chunk.Pool
	log  *logEntry

	file *os.File

	mu          sync.Mutex
	st          state
	ret         Code
	endian      record.Endianness
	blockSize   uint32
	resetlogs   scn.Resetlogs
	activation  scn.Activation
	firstScn    scn.SCN
	nextScn     scn.SCN
	numBlocks   uint32
	seq         scn.Sequence // locked from the first verified block if opts.Sequence was unset

	bufferStart uint64 // block index Parser has confirmed
	bufferEnd   uint64 // block index made available
	bufferScan  uint64 // read-ahead cursor

	ring []*chunk.Chunk

	copyFile *os.File
	badCRC   int
}

type logEntry = struct {
	Warn func(args ...interface{})
	Info func(args ...interface{})
}

func newLogEntry(database string) *logEntry {
	e := logging.ForDatabase("reader", database)
	return &logEntry{Warn: e.Warn, Info: e.Info}
}

// New constructs a Reader bound to pool for chunk allocation. It does
// not open the file; call Check first.
func New(opts Options, pool *chunk.Pool) *Reader {
	return &Reader{
		opts:     opts,
		pool:     pool,
		log:      newLogEntry(opts.Database),
		st:       stateSleeping,
		firstScn: scn.None,
		nextScn:  scn.None,
		seq:      opts.Sequence,
	}
}

// Check implements the `check` transition: opens the file, reads and
// validates its header against Metadata's expected identity. Returns
// CodeErrorBadData on any mismatch, per spec.md §4.3.
func (r *Reader) Check() Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st = stateCheck

	f, err := os.Open(r.opts.Path)
	if err != nil {
		r.log.Warn("open failed: ", err)
		r.ret = CodeErrorRead
		return r.ret
	}
	r.file = f

	probe := make([]byte, maxHeaderProbe)
	n, err := io.ReadFull(f, probe)
	if err != nil && err != io.ErrUnexpectedEOF {
		r.log.Warn("header read failed: ", err)
		r.ret = CodeErrorRead
		return r.ret
	}
	probe = probe[:n]

	endian, err := record.DetectEndianness(probe)
	if err != nil {
		r.log.Warn("endianness detection failed: ", err)
		r.ret = CodeErrorBadData
		return r.ret
	}
	r.endian = endian

	blockSize := endian.Order().Uint32(probe[20:24])
	if !record.ValidBlockSize(blockSize) {
		r.log.Warn("invalid block size in header: ", blockSize)
		r.ret = CodeErrorBadData
		return r.ret
	}
	r.blockSize = blockSize

	if r.opts.BlockSize != 0 && r.opts.BlockSize != blockSize {
		r.log.Warn("block size mismatch: file=", blockSize, " expected=", r.opts.BlockSize)
		r.ret = CodeErrorBadData
		return r.ret
	}

	resetlogs := scn.Resetlogs(endian.Order().Uint32(probe[32:36]))
	activation := scn.Activation(endian.Order().Uint32(probe[36:40]))
	if r.opts.Want.Resetlogs != 0 && resetlogs != r.opts.Want.Resetlogs {
		r.log.Warn("resetlogs mismatch: file=", resetlogs, " expected=", r.opts.Want.Resetlogs)
		r.ret = CodeErrorBadData
		return r.ret
	}
	if r.opts.Want.Activation != 0 && activation != r.opts.Want.Activation {
		r.log.Warn("activation mismatch: file=", activation, " expected=", r.opts.Want.Activation)
		r.ret = CodeErrorBadData
		return r.ret
	}
	r.resetlogs = resetlogs
	r.activation = activation

	r.firstScn = scn.SCN(endian.Order().Uint64(probe[40:48]))
	r.nextScn = scn.SCN(endian.Order().Uint64(probe[48:56]))
	r.numBlocks = endian.Order().Uint32(probe[56:60])

	// The file's first headerBlocks blocks are the header itself, not
	// data; Read starts scanning just past them.
	r.bufferStart = uint64(headerBlocks)
	r.bufferScan = uint64(headerBlocks)

	if r.opts.CopyPath != "" {
		if err := r.openCopyFile(); err != nil {
			r.log.Warn("copy-out open failed: ", err)
		}
	}

	r.ret = CodeOK
	return r.ret
}

const maxHeaderProbe = 4096

func (r *Reader) openCopyFile() error {
	name := r.opts.CopyPath + "/" + r.opts.Database + "_" + r.opts.Sequence.String() + ".arc"
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.copyFile = f
	return nil
}

// Update implements the `update` transition: re-reads the header only,
// used at log switch to pick up a new nextScn without restarting the
// block stream.
func (r *Reader) Update() Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st = stateUpdate

	probe := make([]byte, maxHeaderProbe)
	if _, err := r.file.ReadAt(probe, 0); err != nil && err != io.ErrUnexpectedEOF {
		r.ret = CodeErrorRead
		return r.ret
	}
	r.nextScn = scn.SCN(r.endian.Order().Uint64(probe[48:56]))
	// A log switch means the next block's sequence is authoritative
	// again, same as the original's status==UPDATE re-adoption rule.
	r.seq = 0
	r.ret = CodeOK
	return r.ret
}

// Identity returns the resetlogs/activation/firstScn/nextScn read from
// the header, for Metadata.SetIdentity and checkpoint resume decisions.
func (r *Reader) Identity() (scn.Resetlogs, scn.Activation, scn.SCN, scn.SCN) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetlogs, r.activation, r.firstScn, r.nextScn
}

func (r *Reader) BlockSize() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockSize
}

func (r *Reader) BufferStart() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferStart
}

// Sequence returns the log sequence this Reader is validating blocks
// against, locked from the first verified block if Options.Sequence
// was left zero.
func (r *Reader) Sequence() scn.Sequence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Reader) BufferEnd() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferEnd
}

// Confirm records that the Parser has consumed everything below
// block index confirmed, freeing ring capacity for further reads.
func (r *Reader) Confirm(confirmed uint64) {
	r.mu.Lock()
	r.bufferStart = confirmed
	r.mu.Unlock()
}

// Next pops the oldest ring-resident block for the Parser to consume,
// releasing its chunk back to pool and advancing bufferStart. ok is
// false if the ring is currently empty.
func (r *Reader) Next(pool *chunk.Pool) (blockIdx uint32, data []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == 0 {
		return 0, nil, false
	}
	c := r.ring[0]
	r.ring = r.ring[1:]
	idx := uint32(r.bufferStart)
	out := append([]byte(nil), c.Data[:r.blockSize]...)
	pool.Release(chunk.Reader, c)
	r.bufferStart++
	return idx, out, true
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.copyFile != nil {
		r.copyFile.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
