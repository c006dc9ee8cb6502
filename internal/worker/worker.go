// Package worker implements the background FLUSH/MERGE/CHECKPOINT
// pipeline: the only component that ever writes a Segment or mutates
// the published Snapshot. Every step builds its result against a clone
// of the live snapshot and installs it with a single pointer swap, so a
// reader holding the previous snapshot is never disturbed mid-read.
package worker

import (
	"bytes"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/lsmtree/internal/checkpoint"
	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/logger"
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/metrics"
	"github.com/nainya/lsmtree/internal/pager"
	"github.com/nainya/lsmtree/internal/segment"
	"github.com/nainya/lsmtree/internal/snapshot"
	"github.com/nainya/lsmtree/internal/walog"
)

// Flag is a bitmask of work requested from one Work call, matching
// pkg/lsmdb's public Work flags exactly.
type Flag uint32

const (
	Flush      Flag = 1 << 0
	Checkpoint Flag = 1 << 1
	Merge      Flag = 1 << 2
	// Optimize is only meaningful bitwise-ANDed with Merge: it waives
	// the segment_ratio eligibility threshold (never the younger-
	// shadows-older ordering) and keeps issuing merge steps against
	// the oldest eligible level pair until the budget is exhausted or
	// only one stable level remains.
	Optimize Flag = 1 << 3
)

// Config holds the worker's tunables.
type Config struct {
	// SegmentRatio is the minimum size ratio (>= 2) a level's lhs must
	// exceed the next level's lhs by to become eligible for merging.
	SegmentRatio int
	// MergeReadConcurrency bounds how many merge input cursors are
	// opened concurrently by one merge step.
	MergeReadConcurrency int
	// Safety is the database's configured durability level. checkpoint
	// skips both of its pager.Sync calls under SafetyOff, matching
	// spec.md §4.2's "off: no fsync; crash may corrupt the file".
	Safety walog.Safety
}

// Worker owns the live Snapshot and performs every FLUSH/MERGE/
// CHECKPOINT step against it. Reads of Live are lock-free on the
// common path; installs are serialized by mu.
type Worker struct {
	mu   sync.RWMutex
	live *snapshot.Snapshot

	pg   *pager.Pager
	wal  *walog.Writer
	tree *memtree.Tree
	cfg  Config
	log  *logger.Logger
	met  *metrics.Metrics
}

// New returns a Worker operating over pg/wal/tree, starting from live
// as the currently published snapshot. log and met may be nil.
func New(pg *pager.Pager, wal *walog.Writer, tree *memtree.Tree, live *snapshot.Snapshot, cfg Config, log *logger.Logger, met *metrics.Metrics) *Worker {
	return &Worker{pg: pg, wal: wal, tree: tree, live: live, cfg: cfg, log: log, met: met}
}

// Live returns the currently published snapshot. The caller must treat
// it as read-only; a cursor opened against it stays valid even after a
// later Work call installs a new one.
func (w *Worker) Live() *snapshot.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.live
}

func (w *Worker) publish(next *snapshot.Snapshot) {
	w.mu.Lock()
	w.live = next
	w.mu.Unlock()
	if w.met != nil {
		free := 0
		if next != nil {
			free = len(next.Free.Blocks)
		}
		w.met.LevelCount.Set(float64(len(next.Levels)))
		w.met.FreeBlocksTotal.Set(float64(free))
	}
}

// Work performs the requested steps in FLUSH, MERGE (bounded by
// nPage pages of output), CHECKPOINT order and returns the total
// number of pages written across all of them. The caller is
// responsible for the precondition that the client writer is
// quiescent for the duration of the call (spec.md §4.6): Work itself
// takes no writer-side lock.
func (w *Worker) Work(flags Flag, nPage int) (int, error) {
	var written int

	if flags&Flush != 0 {
		start := time.Now()
		n, err := w.flush()
		written += n
		if w.log != nil {
			w.log.LogFlush(uint64(n), time.Since(start), err)
		}
		if w.met != nil && err == nil {
			w.met.FlushesTotal.Inc()
		}
		if err != nil {
			return written, err
		}
	}

	if flags&Merge != 0 {
		optimize := flags&Optimize != 0
		budget := nPage
		for {
			start := time.Now()
			n, levelAge, more, err := w.mergeStep(optimize)
			written += n
			budget -= n
			if w.log != nil {
				w.log.LogMerge(levelAge, uint64(n), !more, time.Since(start), err)
			}
			if w.met != nil && err == nil {
				w.met.MergesTotal.Inc()
				w.met.MergePagesWritten.Add(float64(n))
			}
			if err != nil {
				return written, err
			}
			if !more {
				break
			}
			if !optimize {
				break
			}
			if budget <= 0 {
				break
			}
		}
	}

	if flags&Checkpoint != 0 {
		start := time.Now()
		err := w.checkpoint()
		if w.log != nil {
			id := w.Live().CheckpointID
			w.log.LogCheckpoint(id, w.metaSlot(id), time.Since(start), err)
		}
		if w.met != nil && err == nil {
			w.met.CheckpointsTotal.Inc()
			w.met.CheckpointDurationSeconds.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

func (w *Worker) metaSlot(checkpointID uint64) int {
	if checkpointID%2 == 0 {
		return 2
	}
	return 1
}

// allocator hands out page numbers in order, drawing whole blocks from
// the free list before growing the file, the way the free list's
// purpose (spec.md §3 "Free block list") is actually put to use.
type allocator struct {
	pg    *pager.Pager
	total *uint64
	free  *snapshot.FreeList
	block uint64
	pos   int
}

func newAllocator(pg *pager.Pager, snap *snapshot.Snapshot) *allocator {
	return &allocator{pg: pg, total: &snap.TotalBlocks, free: &snap.Free}
}

func (a *allocator) next() (uint64, error) {
	ppb := a.pg.PagesPerBlock()
	if a.block == 0 || a.pos >= ppb {
		b, ok := a.free.Alloc()
		if !ok {
			nb, err := a.pg.GrowBlock(*a.total)
			if err != nil {
				return 0, err
			}
			*a.total = nb
			b = nb
		}
		a.block = b
		a.pos = 0
	}
	pageNo := a.pg.FirstPageOfBlock(a.block) + uint64(a.pos)
	a.pos++
	return pageNo, nil
}

// renumberAges sets each level's Age to its position in the
// youngest-first list, keeping ages dense after a flush inserts a new
// level-0 or a merge collapses two levels into one.
func renumberAges(levels []level.Level) {
	for i := range levels {
		levels[i].Age = uint32(i)
	}
}

// flush drains the in-memory tree into a new level-0 segment. Per
// spec.md §4.6 the caller guarantees the client writer is quiescent;
// flush does not itself take any write-side lock.
func (w *Worker) flush() (int, error) {
	if w.tree.Len() == 0 {
		return 0, nil
	}

	snap := w.Live().Clone()
	alloc := newAllocator(w.pg, snap)
	wr := segment.NewWriter(w.pg, alloc.next)

	it := w.tree.NewIterator()
	for ok := it.First(w.tree); ok; ok = it.Next() {
		rec := it.Record()
		if err := wr.Append(it.Key(), rec.Value, rec.Tombstone); err != nil {
			return 0, err
		}
	}
	seg, err := wr.Finish()
	if err != nil {
		return 0, err
	}

	snap.Levels = append([]level.Level{{Lhs: seg}}, snap.Levels...)
	renumberAges(snap.Levels)

	w.publish(snap)
	w.tree.Clear()
	return int(seg.SizePages), nil
}

// pickMergePair returns the index i such that levels[i] should be
// folded into levels[i+1], or -1 if nothing is eligible. Under
// Optimize the segment_ratio threshold is waived and the oldest
// eligible pair is preferred, so repeated calls collapse the
// hierarchy from the bottom up.
func pickMergePair(levels []level.Level, ratio int, optimize bool) int {
	if optimize {
		for i := len(levels) - 2; i >= 0; i-- {
			if levels[i].State() == level.Stable && levels[i].Lhs.SizePages > 0 {
				return i
			}
		}
		return -1
	}
	for i := 0; i < len(levels)-1; i++ {
		if level.EligibleForMerge(&levels[i], &levels[i+1], ratio) {
			return i
		}
	}
	return -1
}

// mergeStep folds one eligible adjacent level pair fully into a new
// segment for the target level, in a single atomic step: it never
// publishes a partially-merged snapshot, so crash-safety comes from
// the old pair staying live until the new segment is durable, rather
// than from resuming a persisted MergeCursor mid-merge as spec.md's
// per-step description envisions. Once the new segment is installed,
// the old pair's blocks are returned to the free list (see
// freeSegmentBlocks) rather than leaked.
func (w *Worker) mergeStep(optimize bool) (pagesWritten int, levelAge uint32, more bool, err error) {
	snap := w.Live().Clone()

	idx := pickMergePair(snap.Levels, w.cfg.SegmentRatio, optimize)
	if idx < 0 {
		return 0, 0, false, nil
	}

	source := snap.Levels[idx]
	target := &snap.Levels[idx+1]
	oldTargetLhs := target.Lhs
	dropTombstones := idx+1 == len(snap.Levels)-1

	youngerRd := segment.Open(w.pg, source.Lhs).NewCursor()
	olderRd := segment.Open(w.pg, target.Lhs).NewCursor()

	limit := w.cfg.MergeReadConcurrency
	if limit <= 0 {
		limit = 2
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	g.Go(func() error { return youngerRd.First() })
	g.Go(func() error { return olderRd.First() })
	if err := g.Wait(); err != nil {
		return 0, 0, false, err
	}

	alloc := newAllocator(w.pg, snap)
	wr := segment.NewWriter(w.pg, alloc.next)
	if err := mergeTwo(wr, youngerRd, olderRd, dropTombstones); err != nil {
		return 0, 0, false, err
	}
	newSeg, err := wr.Finish()
	if err != nil {
		return 0, 0, false, err
	}

	target.Lhs = newSeg
	target.Rhs = nil
	snap.Levels = append(snap.Levels[:idx], snap.Levels[idx+1:]...)
	renumberAges(snap.Levels)

	if err := w.freeSegmentBlocks(&snap.Free, source.Lhs, oldTargetLhs); err != nil {
		return 0, 0, false, err
	}

	w.publish(snap)

	more = pickMergePair(snap.Levels, w.cfg.SegmentRatio, optimize) >= 0
	return int(newSeg.SizePages), target.Age, more, nil
}

// freeSegmentBlocks returns every block spanned by segs' data and
// separator page chains to free, once each segment is no longer
// referenced by any level in the snapshot about to be installed. A
// block is pulled whole by one allocator session and never shared
// across two different flush/merge outputs, so freeing the distinct
// blocks its pages fall in is safe even when a segment's last page
// only partially fills its block.
func (w *Worker) freeSegmentBlocks(free *snapshot.FreeList, segs ...segment.Segment) error {
	seen := make(map[uint64]bool)
	for _, seg := range segs {
		if seg.FirstPage == 0 && seg.RootPage == 0 {
			continue
		}
		pages, err := segment.Open(w.pg, seg).Pages()
		if err != nil {
			return err
		}
		for _, pageNo := range pages {
			block := w.pg.BlockOfPage(pageNo)
			if !seen[block] {
				seen[block] = true
				free.Free(block)
			}
		}
	}
	return nil
}

// mergeTwo streams the merge of younger (the source level's segment,
// which wins on a tied key) and older (the target level's previous
// segment) into wr in key order, dropping tombstones when
// dropTombstones is set — the last level never carries a shadowed
// delete marker forward.
func mergeTwo(wr *segment.Writer, younger, older *segment.Cursor, dropTombstones bool) error {
	yOk, oOk := younger.Valid(), older.Valid()
	for yOk || oOk {
		var takeYounger bool
		switch {
		case yOk && oOk:
			takeYounger = bytes.Compare(younger.Key(), older.Key()) <= 0
		case yOk:
			takeYounger = true
		default:
			takeYounger = false
		}

		cur := older
		if takeYounger {
			cur = younger
		}
		key, val, tomb := cur.Key(), cur.Value(), cur.Tombstone()

		if yOk && oOk && bytes.Equal(younger.Key(), older.Key()) {
			if err := older.Next(); err != nil {
				return err
			}
			oOk = older.Valid()
		}

		if !(tomb && dropTombstones) {
			if err := wr.Append(key, val, tomb); err != nil {
				return err
			}
		}

		if takeYounger {
			if err := younger.Next(); err != nil {
				return err
			}
			yOk = younger.Valid()
		} else {
			if err := older.Next(); err != nil {
				return err
			}
			oOk = older.Valid()
		}
	}
	return nil
}

// checkpoint serializes the live snapshot through the checkpoint
// codec and publishes it via the two-meta-page alternation: sync the
// data file, write the meta slot opposite the current checkpoint id's
// parity, sync again, only then install the new snapshot as live.
// Any reserved-key overflow the codec needs to spill is written
// durably to the log and applied to the tree before Encode returns,
// via the put closure below. Under SafetyOff neither pager.Sync call
// happens, per spec.md §4.2: no fsync, crash may corrupt the file.
func (w *Worker) checkpoint() error {
	snap := w.Live().Clone()
	snap.CheckpointID++
	snap.LogPtr = snapshot.LogPointer{Offset: w.wal.Pointer().Offset, Checksum: w.wal.Pointer().Seed}

	put := checkpoint.Put(func(key, val []byte) error {
		if _, err := w.wal.AppendWrite(key, val); err != nil {
			return err
		}
		if err := w.wal.Commit(); err != nil {
			return err
		}
		if err := w.wal.Sync(); err != nil {
			return err
		}
		w.tree.Insert(key, val)
		return nil
	})

	blob, err := checkpoint.Encode(snap, w.pg.PageSize(), put)
	if err != nil {
		return err
	}

	if w.cfg.Safety != walog.SafetyOff {
		if err := w.pg.Sync(); err != nil {
			return err
		}
	}
	slot := w.metaSlot(snap.CheckpointID)
	if err := w.pg.WriteMetaPage(slot, blob); err != nil {
		return err
	}
	if w.cfg.Safety != walog.SafetyOff {
		if err := w.pg.Sync(); err != nil {
			return err
		}
	}

	w.publish(snap)
	return nil
}
