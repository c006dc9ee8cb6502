// Package txn implements nested transactions over the live memtree and
// write-ahead log: Begin/Commit/Rollback each take a target depth,
// matching the public TransactionBegin/Commit/Rollback(level) calls —
// a stack of (wal pointer, tree mark) frames is pushed on Begin and
// popped on Commit or Rollback, and only Commit(0) — closing out the
// outermost transaction — appends a durable COMMIT record.
package txn

import (
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/walog"
)

type frame struct {
	wal  walog.Pointer
	mark memtree.Mark
}

// Manager tracks the currently open nested-transaction stack for one
// connection's writes against one memtree and log.
type Manager struct {
	wal    *walog.Writer
	tree   *memtree.Tree
	safety walog.Safety
	frames []frame
}

// New returns a Manager with no transaction open.
func New(wal *walog.Writer, tree *memtree.Tree, safety walog.Safety) *Manager {
	return &Manager{wal: wal, tree: tree, safety: safety}
}

// Depth reports how many nested levels are currently open.
func (m *Manager) Depth() int { return len(m.frames) }

// Begin opens nested levels until Depth() == n. Levels already open
// below n are left untouched — Begin(3) from depth 1 opens levels 2
// and 3, preserving level 1's frame.
func (m *Manager) Begin(n int) {
	for len(m.frames) < n {
		m.frames = append(m.frames, frame{wal: m.wal.Pointer(), mark: m.tree.Mark()})
	}
}

// Commit collapses the transaction stack down to depth n, keeping
// every write made at levels above n. Commit(0) is the only call that
// durably closes the transaction: it appends the log's COMMIT record
// and syncs per the configured Safety. At depth 0 it does so as well,
// closing the implicit autocommit transaction. Any other target depth
// at or above the current depth is a no-op: there is nothing open
// above n to collapse.
func (m *Manager) Commit(n int) error {
	if n == 0 && len(m.frames) == 0 {
		return m.wal.Commit()
	}
	if n >= len(m.frames) {
		return nil
	}
	m.frames = m.frames[:n]
	if n == 0 {
		return m.wal.Commit()
	}
	return nil
}

// Rollback discards every write made since level n was opened,
// restoring both the memtree and the log writer to exactly their
// state at that point, then collapses the stack to depth n. A target
// depth at or above the current depth is a no-op.
func (m *Manager) Rollback(n int) error {
	if n >= len(m.frames) {
		return nil
	}
	target := m.frames[n]
	m.tree.RollbackTo(target.mark)
	m.wal.Reset(target.wal)
	m.frames = m.frames[:n]
	return nil
}

// Write logs and applies a key/value write within the currently open
// transaction (depth 0, the implicit autocommit transaction, if none
// has been explicitly begun).
func (m *Manager) Write(key, val []byte) error {
	if _, err := m.wal.AppendWrite(key, val); err != nil {
		return err
	}
	m.tree.Insert(key, val)
	return nil
}

// Delete logs and applies a tombstone within the currently open
// transaction.
func (m *Manager) Delete(key []byte) error {
	if _, err := m.wal.AppendDelete(key); err != nil {
		return err
	}
	m.tree.Delete(key)
	return nil
}
