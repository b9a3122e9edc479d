package writer

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/scn"
)

// Writer drains the Builder's output queue in commit order, dispatches
// to the active Sink, processes acknowledgments, and periodically
// persists the writer checkpoint, per spec.md §4.8's main loop. Its own
// pending-send queue is backed by a chunk.StreamWriter stream drawing from
// the Writer quota, so a stalled Sink applies real back-pressure
// instead of an unbounded Go slice accumulating acked-but-unsent work.
type Writer struct {
	sink    Sink
	builder *builder.Builder
	meta    *metadata.Metadata
	pool    *chunk.Pool
	log     interface {
		Info(args ...interface{})
		Warn(args ...interface{})
	}

	checkpointInterval time.Duration

	mu             sync.Mutex
	confirmedSCN   scn.SCN
	confirmedIdx   uint64
	stream         *chunk.StreamWriter
	pendingCount   int
	lastCheckpoint time.Time
}

// New constructs a Writer bound to sink, draining b and persisting
// checkpoints via meta. pool backs the Writer's own pending-send queue.
func New(sink Sink, b *builder.Builder, meta *metadata.Metadata, pool *chunk.Pool, checkpointInterval time.Duration) *Writer {
	return &Writer{
		sink:               sink,
		builder:            b,
		meta:               meta,
		pool:               pool,
		log:                logging.ForDatabase("writer", meta.Database()),
		checkpointInterval: checkpointInterval,
	}
}

// enqueuePending gob-encodes msgs into the pending-send stream,
// acquiring chunks from the Writer quota as needed.
func (w *Writer) enqueuePending(msgs []*builder.Message) {
	if len(msgs) == 0 {
		return
	}

	w.mu.Lock()
	if w.stream == nil {
		w.stream = chunk.NewStreamWriter(w.pool, chunk.Writer)
	}
	stream := w.stream
	w.pendingCount += len(msgs)
	w.mu.Unlock()

	for _, m := range msgs {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(m); err != nil {
			w.log.Warn("failed to encode pending message: ", err)
			continue
		}
		stream.Append(buf.Bytes())
	}
}

// drainPending decodes every message currently resident in the
// pending-send stream, releasing its chunks back to the pool.
func (w *Writer) drainPending() []*builder.Message {
	w.mu.Lock()
	stream := w.stream
	count := w.pendingCount
	w.stream = nil
	w.pendingCount = 0
	w.mu.Unlock()

	if stream == nil || count == 0 {
		return nil
	}

	first, last, used := stream.Chain()
	r := chunk.NewStreamReader(first, last, used)
	out := make([]*builder.Message, 0, count)
	for i := 0; i < count; i++ {
		p, err := r.Next()
		if err != nil {
			w.log.Warn("failed to decode pending message: ", err)
			break
		}
		var m builder.Message
		if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&m); err != nil {
			w.log.Warn("failed to decode pending message: ", err)
			continue
		}
		out = append(out, &m)
	}
	stream.Release()
	return out
}

// Run executes the main loop until stop is closed. It is intended to
// run on its own goroutine, one per Writer.
func (w *Writer) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := w.step(); err != nil {
			return err
		}
	}
}

// step executes one iteration of the main loop's five numbered steps.
func (w *Writer) step() error {
	// 1. Poll the sink for inbound control messages.
	req, ok, err := w.sink.Poll()
	if err != nil {
		w.log.Warn("sink poll error: ", err)
	}
	if ok {
		w.handleRequest(req)
	}

	// 2. Copy any new messages from the builder's output queue.
	newMsgs := w.builder.Drain()
	w.enqueuePending(newMsgs)

	// 3. Dispatch unsent messages to the sink.
	pending := w.drainPending()
	for i, msg := range pending {
		if err := w.sink.Send(msg); err != nil {
			w.log.Warn("sink send error: ", err)
			w.enqueuePending(pending[i:])
			break
		}
	}

	// 5. Periodic checkpoint.
	if time.Since(w.lastCheckpoint) >= w.checkpointInterval {
		if err := w.persistCheckpoint(); err != nil {
			return err
		}
		w.lastCheckpoint = time.Now()
	}
	return nil
}

func (w *Writer) handleRequest(req *Request) {
	switch req.Kind {
	case RequestConfirm:
		w.Confirm(scn.SCN(req.SCN), req.Idx)
	case RequestContinue:
		w.mu.Lock()
		w.confirmedSCN = scn.SCN(req.SCN)
		w.confirmedIdx = req.Idx
		w.mu.Unlock()
	case RequestStart, RequestInfo:
		// handled by the caller's control-protocol layer, which owns
		// the reply; the Writer only tracks position.
	}
}

// Confirm processes an acknowledgment for everything up to (scn, idx):
// updates confirmedScn/confirmedIdx and releases the corresponding
// builder range, per spec.md §4.8 step 4.
func (w *Writer) Confirm(ackSCN scn.SCN, ackIdx uint64) {
	w.mu.Lock()
	w.confirmedSCN = ackSCN
	w.confirmedIdx = ackIdx
	w.mu.Unlock()
	w.builder.ReleaseBuffers(ackIdx)
}

func (w *Writer) persistCheckpoint() error {
	w.mu.Lock()
	wc := metadata.WriterCheckpoint{
		Database: w.meta.Database(),
		SCN:      w.confirmedSCN,
		Idx:      w.confirmedIdx,
	}
	w.mu.Unlock()

	resetlogs, activation, _ := w.meta.Identity()
	wc.Resetlogs = resetlogs
	wc.Activation = activation
	return w.meta.SaveWriterCheckpoint(wc)
}

func (w *Writer) Close() error {
	return w.sink.Close()
}
