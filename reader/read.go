package reader

import (
	"errors"
	"time"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/olrerr"
	"github.com/cdcstream/olr/record"
)

// pendingBlock is one read-ahead block awaiting verify-delay commit
// in two-phase verify mode.
type pendingBlock struct {
	index     uint32
	data      []byte
	timestamp time.Time
}

// Read implements the `read` transition: streams blocks forward into
// the ring, verifying each block's checksum and (sequence, block
// number), retrying CRC failures up to maxCRCRetries times with
// crcRetryBackoff between attempts before giving up.
//
// It returns when either the ring fills (CodeOK, caller should wait on
// Parser to confirm and call Read again), the file ends (CodeFinished
// or CodeStopped depending on header nextScn validity), or a newer
// sequence appears in the header (CodeOverwritten). err is non-nil for
// the error-* codes and for CodeStopped, categorized per the
// error-handling design so the caller can apply IGNORE_DATA_ERRORS.
func (r *Reader) Read() (Code, error) {
	r.mu.Lock()
	r.st = stateRead
	capacity := uint64(r.pool.ChunkSize()) / uint64(r.blockSize)
	r.mu.Unlock()

	var pending []pendingBlock

	for {
		r.mu.Lock()
		full := uint64(len(r.ring)) >= capacity
		r.mu.Unlock()
		if full {
			r.ret = CodeOK
			return r.ret, nil
		}

		buf := make([]byte, r.blockSize)
		blockIdx := r.nextBlockIndex()
		off := int64(blockIdx) * int64(r.blockSize)

		n, err := r.file.ReadAt(buf, off)
		if n == 0 && err != nil {
			// bufferScan has already moved past any pending blocks, so
			// they are committed here once the verify delay has passed.
			if len(pending) > 0 {
				time.Sleep(r.opts.VerifyDelay)
				pending = r.commitReady(pending)
			}
			code := r.handleEOF()
			if code == CodeStopped {
				return code, olrerr.RedoError("reader-eof", "reached end of file with no valid next-scn")
			}
			return code, nil
		}
		if n < int(r.blockSize) {
			r.ret = CodeEmpty
			return r.ret, nil
		}

		ok, seqErr := r.verifyWithRetry(buf, blockIdx)
		if seqErr != nil {
			r.ret = CodeErrorSequence
			return r.ret, seqErr
		}
		if !ok {
			r.ret = CodeErrorCRC
			return r.ret, olrerr.RedoError("block-crc", "checksum verify failed after retry budget exhausted")
		}

		if newerSeq, overwritten := r.checkOverwritten(buf); overwritten {
			r.log.Warn("log switch detected, newer sequence ", newerSeq)
			r.ret = CodeOverwritten
			return r.ret, nil
		}

		if r.copyFile != nil {
			r.copyFile.WriteAt(buf, off)
		}

		if r.opts.VerifyDelay > 0 {
			pending = append(pending, pendingBlock{index: blockIdx, data: buf, timestamp: time.Now()})
			pending = r.commitReady(pending)
		} else {
			r.commitBlock(blockIdx, buf)
		}
	}
}

func (r *Reader) nextBlockIndex() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := uint32(r.bufferScan)
	r.bufferScan++
	return idx
}

// verifyWithRetry checks the block's checksum and (sequence, block
// number), retrying up to maxCRCRetries times on checksum failure, per
// spec.md §4.3. A sequence mismatch is not retried: a stale CRC won't
// fix a block that genuinely belongs to a different log sequence, so
// it is returned immediately as seqErr for the caller to surface as
// CodeErrorSequence ahead of the overwritten-detection heuristic.
func (r *Reader) verifyWithRetry(buf []byte, blockIdx uint32) (ok bool, seqErr error) {
	r.mu.Lock()
	expectSeq := r.seq
	r.mu.Unlock()

	for attempt := 0; attempt < maxCRCRetries; attempt++ {
		if record.VerifyChecksum(buf, r.blockSize, r.endian) {
			h, err := record.ParseBlockHeader(buf, r.blockSize, r.endian, blockIdx, expectSeq)
			var mismatch *record.SequenceMismatchError
			if errors.As(err, &mismatch) {
				return false, mismatch
			}
			if err == nil {
				r.badCRC = 0
				if expectSeq == 0 {
					r.mu.Lock()
					r.seq = h.Sequence
					r.mu.Unlock()
				}
				return true, nil
			}
		}
		time.Sleep(crcRetryBackoff)
		r.file.ReadAt(buf, int64(blockIdx)*int64(r.blockSize))
	}
	r.badCRC++
	r.log.Warn("checksum verify failed after retries at block ", blockIdx)
	return false, nil
}

// checkOverwritten detects an online log wrap. A block that already
// passed verifyWithRetry has a sequence matching r.seq (that check is
// stricter and runs first, per ParseBlockHeader), so this looks at the
// block's leading generation marker instead (bytes 0..3 with byte 1,
// the block-type tag, masked out): online redo members get recycled in
// place, and a block whose marker has moved past what the header scan
// saw at Check/Update time means this file was reused by a newer
// sequence while we were still reading it.
func (r *Reader) checkOverwritten(buf []byte) (uint32, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	r.mu.Lock()
	expectSeq := uint32(r.seq)
	r.mu.Unlock()
	var marker [4]byte
	copy(marker[:], buf[0:4])
	marker[1] = 0
	seq := r.endian.Order().Uint32(marker[:])
	if seq != 0 && seq != expectSeq {
		return seq, true
	}
	return 0, false
}

func (r *Reader) handleEOF() Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nextScn.IsNone() {
		r.ret = CodeFinished
	} else {
		r.log.Warn("reached EOF with no valid nextScn")
		r.ret = CodeStopped
	}
	return r.ret
}

// commitReady advances bufferEnd for every pending block whose age has
// exceeded VerifyDelay, implementing two-phase verify mode.
func (r *Reader) commitReady(pending []pendingBlock) []pendingBlock {
	cutoff := time.Now().Add(-r.opts.VerifyDelay)
	i := 0
	for i < len(pending) && pending[i].timestamp.Before(cutoff) {
		r.commitBlock(pending[i].index, pending[i].data)
		i++
	}
	return pending[i:]
}

func (r *Reader) commitBlock(blockIdx uint32, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.pool.Acquire(chunk.Reader)
	if c == nil {
		if !r.pool.Wait(chunk.Reader) {
			r.log.Warn("deadlock waiting for reader chunk")
			return
		}
		c = r.pool.Acquire(chunk.Reader)
	}
	copy(c.Data, buf)
	r.ring = append(r.ring, c)
	r.bufferEnd = uint64(blockIdx) + 1
}
