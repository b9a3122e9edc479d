// Package pipeline binds the stages together: shutdown signaling and
// the per-wait-point wait/timeout counters reported by the SIGUSR1
// stat dump.
package pipeline

import (
	"sync"
	"time"

	"github.com/cdcstream/olr/logging"
)

// Signal is the shutdown mode threads test after every I/O call and
// every wait wake, per spec.md §5's cancellation model.
type Signal int32

const (
	SignalNone Signal = iota
	SignalSoft        // finish current LWN, flush, checkpoint, exit cleanly
	SignalHard        // abandon in-flight work immediately
)

// Pipeline holds the shutdown signal and the deadlock diagnostic
// counters shared across every stage goroutine.
type Pipeline struct {
	log interface {
		Warn(args ...interface{})
	}

	mu     sync.Mutex
	signal Signal

	deadlockTimeout time.Duration
	waitCounts      map[string]int
	timeoutCounts   map[string]int
}

// New constructs a Pipeline with the given deadlock wait timeout
// (spec.md §5 default: 10s).
func New(deadlockTimeout time.Duration) *Pipeline {
	return &Pipeline{
		log:             logging.Component("pipeline"),
		deadlockTimeout: deadlockTimeout,
		waitCounts:      make(map[string]int),
		timeoutCounts:   make(map[string]int),
	}
}

// SoftShutdown requests that every stage finish its current unit of
// work, flush, checkpoint, and exit cleanly.
func (p *Pipeline) SoftShutdown() {
	p.mu.Lock()
	if p.signal < SignalSoft {
		p.signal = SignalSoft
	}
	p.mu.Unlock()
}

// HardShutdown requests immediate abandonment of in-flight work.
func (p *Pipeline) HardShutdown() {
	p.mu.Lock()
	p.signal = SignalHard
	p.mu.Unlock()
}

// Check returns the current shutdown signal. Every stage calls this
// after each I/O call and each wait wake.
func (p *Pipeline) Check() Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal
}

// ShouldStop reports whether any shutdown has been requested.
func (p *Pipeline) ShouldStop() bool {
	return p.Check() != SignalNone
}

// RecordWait increments the diagnostic counter for a named wait point
// (e.g. "chunk.reader", "transaction.append"); Counters reports the
// totals.
func (p *Pipeline) RecordWait(name string) {
	p.mu.Lock()
	p.waitCounts[name]++
	p.mu.Unlock()
}

// RecordTimeout increments the timeout counter for a named wait point
// after its deadlockTimeout elapses without a wake.
func (p *Pipeline) RecordTimeout(name string) {
	p.mu.Lock()
	p.timeoutCounts[name]++
	p.mu.Unlock()
	p.log.Warn("wait on ", name, " exceeded deadlock timeout")
}

// DeadlockTimeout returns the wait timeout the Pipeline was
// constructed with.
func (p *Pipeline) DeadlockTimeout() time.Duration {
	return p.deadlockTimeout
}

// Counters returns a snapshot of wait/timeout counts for diagnostics
// (the SIGUSR1 stat dump, per SPEC_FULL §11).
func (p *Pipeline) Counters() (waits, timeouts map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	waits = make(map[string]int, len(p.waitCounts))
	for k, v := range p.waitCounts {
		waits[k] = v
	}
	timeouts = make(map[string]int, len(p.timeoutCounts))
	for k, v := range p.timeoutCounts {
		timeouts[k] = v
	}
	return waits, timeouts
}
