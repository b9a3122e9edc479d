package record

import (
	"container/heap"

	"github.com/cdcstream/olr/scn"
)

// LWNHeader is the header carried by the first block of an LWN group:
// the number of blocks it spans, its SCN, and the wall-clock timestamp
// the database stamped it with. Every subsequent block in the group
// must carry the same Number.
type LWNHeader struct {
	Number    uint32
	BlockCount uint32
	SCN       scn.SCN
	Timestamp int64
}

// LwnMember is one fully-assembled record's position within an LWN
// group, used only to order records before dispatch; the record's
// actual bytes live in the parser's LWN heap chunks.
type LwnMember struct {
	PageOffset uint16
	SCN        scn.SCN
	SubSCN     uint32
	Size       uint32
	Block      uint32
	Record     *RedoLogRecord
}

// lwnHeap orders LwnMembers by (scn, subScn, pageOffset), the order
// records inside one LWN must be dispatched in.
type lwnHeap []*LwnMember

func (h lwnHeap) Len() int { return len(h) }

func (h lwnHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.SCN != b.SCN {
		return a.SCN.Less(b.SCN)
	}
	if a.SubSCN != b.SubSCN {
		return a.SubSCN < b.SubSCN
	}
	return a.PageOffset < b.PageOffset
}

func (h lwnHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *lwnHeap) Push(x any) { *h = append(*h, x.(*LwnMember)) }

func (h *lwnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// LwnQueue accumulates LwnMembers for one LWN group and drains them in
// dispatch order, per spec.md §4.4's "drains the heap in order" step.
type LwnQueue struct {
	h lwnHeap
}

func NewLwnQueue() *LwnQueue {
	return &LwnQueue{}
}

func (q *LwnQueue) Add(m *LwnMember) {
	heap.Push(&q.h, m)
}

func (q *LwnQueue) Len() int { return q.h.Len() }

// Drain pops every member in (scn, subScn, pageOffset) order, calling
// fn for each, and leaves the queue empty.
func (q *LwnQueue) Drain(fn func(*LwnMember)) {
	for q.h.Len() > 0 {
		m := heap.Pop(&q.h).(*LwnMember)
		fn(m)
	}
}
