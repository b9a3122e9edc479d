// Package memmgr implements the swap manager: when a transaction's
// resident chunk list grows past the Transactions quota, its oldest
// chunks are written to <swapPath>/<xid>.swap and released, to be read
// back when the transaction commits or rolls back.
package memmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/logging"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/xid"
)

// Manager owns the swap-file directory and tracks which transactions
// currently have chunks resident on disk.
type Manager struct {
	pool     *chunk.Pool
	swapPath string
	log      interface {
		Warn(args ...interface{})
		Info(args ...interface{})
	}

	mu     sync.Mutex
	swapped map[xid.XID]int // number of chunks currently swapped out, by xid
}

// New constructs a Manager rooted at swapPath, cleaning up any stale
// *.swap files left behind by a prior unclean shutdown.
func New(pool *chunk.Pool, swapPath, database string) (*Manager, error) {
	m := &Manager{
		pool:     pool,
		swapPath: swapPath,
		log:      logging.ForDatabase("memmgr", database),
		swapped:  make(map[xid.XID]int),
	}
	if swapPath == "" {
		return m, nil
	}
	if err := os.MkdirAll(swapPath, 0755); err != nil {
		return nil, err
	}
	if err := m.cleanStale(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) cleanStale() error {
	entries, err := os.ReadDir(m.swapPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".swap" {
			path := filepath.Join(m.swapPath, e.Name())
			if err := os.Remove(path); err != nil {
				m.log.Warn("failed to remove stale swap file ", path, ": ", err)
			}
		}
	}
	return nil
}

func (m *Manager) swapFilePath(x xid.XID) string {
	return filepath.Join(m.swapPath, fmt.Sprintf("%s.swap", x.String()))
}

// SwapOut writes chunks belonging to x to disk in order, releasing
// each back to pool's Transactions quota as it is written, maintaining
// the resident/swapped/resident contiguity invariant: chunks are
// always swapped out from the head of the list and swapped back in the
// same order.
func (m *Manager) SwapOut(x xid.XID, chunks []*chunk.Chunk) error {
	if m.swapPath == "" {
		return fmt.Errorf("memmgr: swap requested but no swap path configured")
	}
	f, err := os.OpenFile(m.swapFilePath(x), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, c := range chunks {
		if _, err := f.Write(c.Data); err != nil {
			return err
		}
		m.pool.Release(chunk.Transactions, c)
	}
	if err := f.Sync(); err != nil {
		return err
	}

	m.mu.Lock()
	m.swapped[x] += len(chunks)
	m.mu.Unlock()
	return nil
}

// SwapIn reads count chunks back from x's swap file in original order,
// acquiring fresh chunks from the pool's Transactions quota (waiting on
// back-pressure if necessary, same as a normal append).
func (m *Manager) SwapIn(x xid.XID, count int) ([]*chunk.Chunk, error) {
	f, err := os.Open(m.swapFilePath(x))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunkSize := m.pool.ChunkSize()
	out := make([]*chunk.Chunk, 0, count)
	for i := 0; i < count; i++ {
		c := m.pool.Acquire(chunk.Transactions)
		for c == nil {
			if !m.pool.Wait(chunk.Transactions) {
				return out, fmt.Errorf("memmgr: deadlock swapping in chunks for xid %s", x)
			}
			c = m.pool.Acquire(chunk.Transactions)
		}
		n, err := f.Read(c.Data[:chunkSize])
		if err != nil && n == 0 {
			m.pool.Release(chunk.Transactions, c)
			break
		}
		out = append(out, c)
	}

	m.mu.Lock()
	m.swapped[x] -= len(out)
	if m.swapped[x] <= 0 {
		delete(m.swapped, x)
	}
	m.mu.Unlock()
	return out, nil
}

// Cleanup removes x's swap file once the transaction has fully
// completed (committed or rolled back) and every chunk has been read
// back or discarded.
func (m *Manager) Cleanup(x xid.XID) error {
	m.mu.Lock()
	delete(m.swapped, x)
	m.mu.Unlock()

	err := os.Remove(m.swapFilePath(x))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsSwapped reports whether x currently has any chunks swapped to disk.
func (m *Manager) IsSwapped(x xid.XID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapped[x] > 0
}

// Run ticks every interval, asking buf to swap its oldest multi-chunk
// transaction's earlier chunks to disk whenever the Transactions quota
// is under pressure, until stop closes. This is the background
// goroutine spec.md §8 describes as relieving chunksTransaction
// pressure so an appender never waits on it forever; with no swap path
// configured it returns at once without ticking.
func (m *Manager) Run(stop <-chan struct{}, buf *transaction.Buffer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	if m.swapPath == "" {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.pool.InUse(chunk.Transactions) < m.pool.Cap(chunk.Transactions)*3/4 {
				continue
			}
			if buf.SwapOldest(m) {
				m.log.Info("swapped a transaction's chunks to relieve quota pressure")
			}
		}
	}
}
