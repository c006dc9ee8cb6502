// Package snapshot defines the Snapshot: the ordered list of Levels plus
// the free-block list and log pointer that together describe a
// consistent, crash-publishable view of the database file.
package snapshot

import (
	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/segment"
	"github.com/nainya/lsmtree/internal/xsum"
)

// LogPointer names a position in the write-ahead log: the logical offset
// plus the rolling checksum seed in effect at that point, so replay can
// resume the checksum chain exactly.
type LogPointer struct {
	Offset   uint64
	Checksum xsum.Seed
}

// FreeList is the set of block numbers available for allocation. Levels
// free their rhs inputs' blocks into here when a merge completes;
// checkpoint serializes it (as a delta, or in full — internal/checkpoint
// decides which per record 9's Open Question).
type FreeList struct {
	Blocks []uint64
}

// Alloc pops one block number, or reports false if the list is empty.
func (f *FreeList) Alloc() (uint64, bool) {
	if len(f.Blocks) == 0 {
		return 0, false
	}
	n := len(f.Blocks) - 1
	b := f.Blocks[n]
	f.Blocks = f.Blocks[:n]
	return b, true
}

// Free returns a block number to the list.
func (f *FreeList) Free(block uint64) {
	f.Blocks = append(f.Blocks, block)
}

func (f FreeList) clone() FreeList {
	if f.Blocks == nil {
		return FreeList{}
	}
	cp := make([]uint64, len(f.Blocks))
	copy(cp, f.Blocks)
	return FreeList{Blocks: cp}
}

// Snapshot is the unit of crash-consistent publication: levels in
// most-recent-first (youngest-first) order, plus the bookkeeping needed
// to reopen the database from just this struct and the log.
type Snapshot struct {
	CheckpointID uint64
	TotalBlocks  uint64
	PageSize     int
	BlockSize    int
	LogPtr       LogPointer
	Free         FreeList
	Levels       []level.Level
}

// Clone deep-copies the snapshot. The worker always clones the
// currently-live snapshot before mutating it, so a pointer handed to a
// client reader is never mutated out from under it; the worker installs
// the clone as the new live snapshot only once it is fully built.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Free = s.Free.clone()
	cp.Levels = make([]level.Level, len(s.Levels))
	for i, l := range s.Levels {
		cp.Levels[i] = cloneLevel(l)
	}
	return &cp
}

func cloneLevel(l level.Level) level.Level {
	nl := l
	if l.Rhs != nil {
		nl.Rhs = append([]segment.Segment(nil), l.Rhs...)
	}
	if l.Cursor.InputPos != nil {
		nl.Cursor.InputPos = append([]level.PageCell(nil), l.Cursor.InputPos...)
	}
	return nl
}
