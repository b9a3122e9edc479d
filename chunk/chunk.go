// Package chunk implements the fixed-size buffer pool (C1) that every
// other component draws from. Every larger buffer in the pipeline —
// the Reader's ring, the Parser's LWN heap, a transaction's chunk
// list, the Builder's output queue — is a singly-linked list of
// Chunks handed out by a single Pool so the process never allocates
// log-sized buffers ad hoc.
package chunk

import (
	"sync"
	"time"

	"github.com/cdcstream/olr/logging"
)

// DefaultSize is the default fixed size of a chunk: 64 MiB.
const DefaultSize = 64 * 1024 * 1024

// Subsystem names a quota bucket. Each has an independent cap so a
// bloated transaction buffer cannot starve the Reader.
type Subsystem int

const (
	Reader Subsystem = iota
	Parser
	Transactions
	Builder
	Writer
	numSubsystems
)

func (s Subsystem) String() string {
	switch s {
	case Reader:
		return "reader"
	case Parser:
		return "parser"
	case Transactions:
		return "transactions"
	case Builder:
		return "builder"
	case Writer:
		return "writer"
	default:
		return "unknown"
	}
}

// Chunk is a fixed-size byte buffer with a Next pointer so every larger
// structure in the pipeline can be modeled as a singly-linked list of
// chunks. Ownership of a Chunk is exclusive: exactly one subsystem
// holds it at any moment and handoff between subsystems is explicit.
type Chunk struct {
	Data []byte
	Next *Chunk
}

type quota struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cap       int
	inUse     int
	free      []*Chunk
}

// Pool hands out and recycles fixed-size Chunks, enforcing a per-
// subsystem cap so back-pressure in one subsystem never steals memory
// from another.
type Pool struct {
	chunkSize int
	quotas    [numSubsystems]*quota
	deadlock  time.Duration
}

// Options configures a Pool.
type Options struct {
	ChunkSize int
	Caps      [numSubsystems]int
	// Deadlock is the wait timeout the deadlock detector uses before
	// surfacing an exhausted-everywhere condition as a runtime error.
	Deadlock time.Duration
}

// DefaultOptions returns the spec's default 64 MiB chunk size and a
// generous per-subsystem cap of 64 chunks (4 GiB) each, with a 10s
// deadlock-detection timeout.
func DefaultOptions() Options {
	var o Options
	o.ChunkSize = DefaultSize
	for i := range o.Caps {
		o.Caps[i] = 64
	}
	o.Deadlock = 10 * time.Second
	return o
}

// NewPool constructs a Pool. Chunks are allocated lazily on first
// Acquire, never preallocated, so an idle subsystem costs nothing.
func NewPool(opts Options) *Pool {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultSize
	}
	if opts.Deadlock <= 0 {
		opts.Deadlock = 10 * time.Second
	}
	p := &Pool{chunkSize: opts.ChunkSize, deadlock: opts.Deadlock}
	for i := range p.quotas {
		q := &quota{cap: opts.Caps[i]}
		if q.cap <= 0 {
			q.cap = 64
		}
		q.cond = sync.NewCond(&q.mu)
		p.quotas[i] = q
	}
	return p
}

func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// Acquire returns a free Chunk for subsystem sub, or nil if the
// subsystem's quota is exhausted. It never blocks: exhaustion is
// back-pressure, not an error, and the caller is expected to wait on
// Wait(sub) and retry.
func (p *Pool) Acquire(sub Subsystem) *Chunk {
	q := p.quotas[sub]
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.free); n > 0 {
		c := q.free[n-1]
		q.free = q.free[:n-1]
		q.inUse++
		return c
	}
	if q.inUse >= q.cap {
		return nil
	}
	q.inUse++
	return &Chunk{Data: make([]byte, p.chunkSize)}
}

// Release returns a chunk to the free list for reuse and wakes any
// waiter blocked on that subsystem's quota.
func (p *Pool) Release(sub Subsystem, c *Chunk) {
	q := p.quotas[sub]
	q.mu.Lock()
	c.Next = nil
	q.free = append(q.free, c)
	q.inUse--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait blocks until subsystem sub might have a free chunk, or until the
// deadlock-detection timeout elapses, whichever comes first. It returns
// false on timeout so the caller can decide whether every other
// subsystem is also blocked (true deadlock) or this is ordinary
// back-pressure that will clear shortly.
func (p *Pool) Wait(sub Subsystem) bool {
	q := p.quotas[sub]
	done := make(chan struct{})
	timer := time.AfterFunc(p.deadlock, func() {
		close(done)
		// Wake every waiter on this quota so our own parked goroutine
		// below can't outlive this call; a spurious wake just sends
		// everyone back through Acquire, which is the normal
		// back-pressure contract anyway.
		q.cond.Broadcast()
	})
	defer timer.Stop()

	woke := make(chan struct{})
	go func() {
		q.mu.Lock()
		q.cond.Wait()
		q.mu.Unlock()
		close(woke)
	}()

	select {
	case <-woke:
		return true
	case <-done:
		logging.Component("chunk").WithField("subsystem", sub.String()).
			Warn("wait on chunk quota timed out")
		return false
	}
}

// InUse reports how many chunks subsystem sub currently holds, for the
// SIGUSR1 diagnostic dump.
func (p *Pool) InUse(sub Subsystem) int {
	q := p.quotas[sub]
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inUse
}

// Cap reports the subsystem's configured quota.
func (p *Pool) Cap(sub Subsystem) int {
	return p.quotas[sub].cap
}
