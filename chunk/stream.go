package chunk

import (
	"encoding/binary"
	"io"
	"sync"
)

// StreamWriter appends length-prefixed blocks onto a singly-linked
// chain of Chunks drawn from a Pool subsystem, acquiring a fresh chunk
// (and blocking on the subsystem's quota) whenever the current one
// fills. It is the concrete shape every "chunk list" in the pipeline
// doc takes: a transaction's record stream, the Builder's output
// queue, the Writer's pending-send queue. Named apart from the
// Reader/Writer Subsystem constants above, which it is built on top
// of rather than equated with.
//
// A StreamWriter is safe for one writer goroutine calling Append
// concurrently with another goroutine calling
// DetachHead/Prepend/TruncateTo (the memory manager swapping chunks in
// and out from under an in-progress append): Append releases its
// internal lock before blocking in Pool.Wait so a concurrent detach
// can relieve the exact pressure the writer is waiting on.
type StreamWriter struct {
	pool *Pool
	sub  Subsystem

	mu    sync.Mutex
	first *Chunk
	last  *Chunk
	used  int
}

// NewStreamWriter constructs a StreamWriter drawing chunks from pool's
// sub quota.
func NewStreamWriter(pool *Pool, sub Subsystem) *StreamWriter {
	return &StreamWriter{pool: pool, sub: sub}
}

// Append writes one length-prefixed block, acquiring chunks from the
// pool as needed.
func (w *StreamWriter) Append(p []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
	w.writeAll(lenBuf[:])
	w.writeAll(p)
}

func (w *StreamWriter) writeAll(p []byte) {
	for len(p) > 0 {
		w.mu.Lock()
		if w.last == nil || w.used == len(w.last.Data) {
			c := w.pool.Acquire(w.sub)
			if c == nil {
				w.mu.Unlock()
				w.pool.Wait(w.sub)
				continue
			}
			if w.first == nil {
				w.first = c
			} else {
				w.last.Next = c
			}
			w.last = c
			w.used = 0
		}
		n := copy(w.last.Data[w.used:], p)
		w.used += n
		p = p[n:]
		w.mu.Unlock()
	}
}

// Snapshot returns the current tail chunk and its used-byte count, for
// a caller recording a savepoint to roll back to later.
func (w *StreamWriter) Snapshot() (at *Chunk, used int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.used
}

// TruncateTo discards every chunk after at (exclusive) and resets the
// write cursor to used bytes into at, releasing the discarded chunks
// back to the pool. at == nil truncates the whole stream to empty.
func (w *StreamWriter) TruncateTo(at *Chunk, used int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var from *Chunk
	if at == nil {
		from = w.first
		w.first, w.last, w.used = nil, nil, 0
	} else {
		from = at.Next
		at.Next = nil
		w.last = at
		w.used = used
	}
	for c := from; c != nil; {
		next := c.Next
		w.pool.Release(w.sub, c)
		c = next
	}
}

// DetachHead removes every chunk before the tail, returning them in
// original order and leaving the tail as the stream's sole resident
// chunk. Used by the memory manager to swap a transaction's earlier
// chunks to disk without touching the chunk still being appended to.
// Returns nil if fewer than two chunks are resident.
func (w *StreamWriter) DetachHead() []*Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.first == nil || w.first == w.last {
		return nil
	}
	var out []*Chunk
	for c := w.first; c != w.last; {
		next := c.Next
		out = append(out, c)
		c = next
	}
	w.first = w.last
	return out
}

// Prepend relinks chunks (read back from disk by the memory manager)
// in front of the stream's current chain.
func (w *StreamWriter) Prepend(chunks []*Chunk) {
	if len(chunks) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < len(chunks)-1; i++ {
		chunks[i].Next = chunks[i+1]
	}
	chunks[len(chunks)-1].Next = w.first
	w.first = chunks[0]
	if w.last == nil {
		w.last = chunks[len(chunks)-1]
	}
}

// Chain returns the stream's current head, tail, and the tail's used
// byte count, for a Reader to walk.
func (w *StreamWriter) Chain() (first, last *Chunk, used int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.first, w.last, w.used
}

// Release returns every resident chunk to the pool and resets the
// stream to empty.
func (w *StreamWriter) Release() {
	w.TruncateTo(nil, 0)
}

// StreamReader sequentially decodes length-prefixed blocks written
// by a StreamWriter, given a fixed snapshot of its chain.
type StreamReader struct {
	cur  *Chunk
	last *Chunk
	used int
	pos  int
}

// NewStreamReader builds a StreamReader over [first, last], where
// used bounds how much of last holds live data.
func NewStreamReader(first, last *Chunk, used int) *StreamReader {
	return &StreamReader{cur: first, last: last, used: used}
}

// Next returns the next length-prefixed block, or io.EOF once the
// chain is exhausted.
func (r *StreamReader) Next() ([]byte, error) {
	lenBuf, err := r.readN(4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	return r.readN(int(n))
}

func (r *StreamReader) readN(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.cur == nil {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		limit := len(r.cur.Data)
		if r.cur == r.last {
			limit = r.used
		}
		avail := limit - r.pos
		if avail <= 0 {
			r.cur = r.cur.Next
			r.pos = 0
			continue
		}
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, r.cur.Data[r.pos:r.pos+take]...)
		r.pos += take
	}
	return out, nil
}
