package worker

import (
	"fmt"
	"testing"

	"github.com/nainya/lsmtree/internal/checkpoint"
	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/pager"
	"github.com/nainya/lsmtree/internal/snapshot"
	"github.com/nainya/lsmtree/internal/walog"
)

type testHarness struct {
	w    *Worker
	pg   *pager.Pager
	wal  *walog.Writer
	tree *memtree.Tree
	e    *env.MemEnv
}

func newHarness(t *testing.T, ratio int) *testHarness {
	t.Helper()
	return newHarnessWithSafety(t, ratio, walog.SafetyOff)
}

func newHarnessWithSafety(t *testing.T, ratio int, safety walog.Safety) *testHarness {
	t.Helper()
	e := env.NewMemEnv()
	pg, err := pager.Open(e, "worker.db", 256, 4096)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	w, err := walog.Open(e, "worker.wal", walog.Pointer{}, walog.SafetyNormal)
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	tree := memtree.New()
	snap := &snapshot.Snapshot{PageSize: pg.PageSize(), BlockSize: pg.BlockSize()}
	wk := New(pg, w, tree, snap, Config{SegmentRatio: ratio, MergeReadConcurrency: 2, Safety: safety}, nil, nil)
	return &testHarness{w: wk, pg: pg, wal: w, tree: tree, e: e}
}

func (h *testHarness) insertAndCommit(t *testing.T, kvs map[string]string) {
	t.Helper()
	for k, v := range kvs {
		if _, err := h.wal.AppendWrite([]byte(k), []byte(v)); err != nil {
			t.Fatalf("AppendWrite: %v", err)
		}
		h.tree.Insert([]byte(k), []byte(v))
	}
	if err := h.wal.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestFlushDrainsTreeIntoLevelZero(t *testing.T) {
	h := newHarness(t, 2)
	h.insertAndCommit(t, map[string]string{"a": "1", "b": "2", "c": "3"})

	n, err := h.w.Work(Flush, 0)
	if err != nil {
		t.Fatalf("Work(Flush): %v", err)
	}
	if n == 0 {
		t.Fatal("Work(Flush) should report pages written")
	}
	if h.tree.Len() != 0 {
		t.Fatalf("tree.Len() after flush = %d, want 0", h.tree.Len())
	}
	live := h.w.Live()
	if len(live.Levels) != 1 {
		t.Fatalf("Levels after flush = %d, want 1", len(live.Levels))
	}
	if live.Levels[0].Lhs.SizePages == 0 {
		t.Fatal("new level-0 segment should have at least one page")
	}
}

func TestFlushOnEmptyTreeIsNoop(t *testing.T) {
	h := newHarness(t, 2)
	n, err := h.w.Work(Flush, 0)
	if err != nil {
		t.Fatalf("Work(Flush) on empty tree: %v", err)
	}
	if n != 0 {
		t.Fatalf("Work(Flush) on empty tree wrote %d pages, want 0", n)
	}
	if len(h.w.Live().Levels) != 0 {
		t.Fatal("flushing an empty tree should not create a level")
	}
}

func TestMergeFoldsTwoEligibleLevels(t *testing.T) {
	h := newHarness(t, 1) // ratio 1: any bigger-than-next level is eligible

	// First flush: a small level that will end up as Levels[1] (older).
	h.insertAndCommit(t, map[string]string{"a": "1"})
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	// Second flush: a bigger level that becomes Levels[0] (younger).
	big := map[string]string{}
	for i := 0; i < 50; i++ {
		big[fmt.Sprintf("key-%03d", i)] = fmt.Sprintf("val-%d", i)
	}
	h.insertAndCommit(t, big)
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	if len(h.w.Live().Levels) != 2 {
		t.Fatalf("Levels before merge = %d, want 2", len(h.w.Live().Levels))
	}

	n, err := h.w.Work(Merge, 0)
	if err != nil {
		t.Fatalf("Work(Merge): %v", err)
	}
	if n == 0 {
		t.Fatal("merge should report pages written")
	}

	live := h.w.Live()
	if len(live.Levels) != 1 {
		t.Fatalf("Levels after merge = %d, want 1 (two levels folded into one)", len(live.Levels))
	}
	if live.Levels[0].Age != 0 {
		t.Fatalf("remaining level Age = %d, want 0 (renumbered)", live.Levels[0].Age)
	}
}

func TestMergeNoEligiblePairIsNoop(t *testing.T) {
	h := newHarness(t, 100) // huge ratio: nothing will ever qualify
	h.insertAndCommit(t, map[string]string{"a": "1"})
	h.w.Work(Flush, 0)
	h.insertAndCommit(t, map[string]string{"b": "2"})
	h.w.Work(Flush, 0)

	n, err := h.w.Work(Merge, 0)
	if err != nil {
		t.Fatalf("Work(Merge): %v", err)
	}
	if n != 0 {
		t.Fatalf("Work(Merge) with no eligible pair wrote %d pages, want 0", n)
	}
	if len(h.w.Live().Levels) != 2 {
		t.Fatal("levels should be untouched when nothing is eligible to merge")
	}
}

func TestMergeYoungerWinsOnDuplicateKey(t *testing.T) {
	h := newHarness(t, 1)
	h.insertAndCommit(t, map[string]string{"a": "old"})
	h.w.Work(Flush, 0)

	h.insertAndCommit(t, map[string]string{"a": "new", "z": "last"})
	h.w.Work(Flush, 0)

	if _, err := h.w.Work(Merge, 0); err != nil {
		t.Fatalf("Work(Merge): %v", err)
	}

	live := h.w.Live()
	if len(live.Levels) != 1 {
		t.Fatalf("Levels after merge = %d, want 1", len(live.Levels))
	}
}

func TestOptimizeWaivesRatioThreshold(t *testing.T) {
	h := newHarness(t, 1000) // normal merge would never trigger
	h.insertAndCommit(t, map[string]string{"a": "1"})
	h.w.Work(Flush, 0)
	h.insertAndCommit(t, map[string]string{"b": "2"})
	h.w.Work(Flush, 0)

	n, err := h.w.Work(Merge|Optimize, 0)
	if err != nil {
		t.Fatalf("Work(Merge|Optimize): %v", err)
	}
	if n == 0 {
		t.Fatal("Optimize should merge even when the ratio threshold is not met")
	}
	if len(h.w.Live().Levels) != 1 {
		t.Fatalf("Levels after optimize merge = %d, want 1", len(h.w.Live().Levels))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	h := newHarness(t, 2)
	h.insertAndCommit(t, map[string]string{"a": "1"})
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("flush: %v", err)
	}

	beforeID := h.w.Live().CheckpointID
	if err := h.w.checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	live := h.w.Live()
	if live.CheckpointID != beforeID+1 {
		t.Fatalf("CheckpointID after checkpoint = %d, want %d", live.CheckpointID, beforeID+1)
	}

	slot := h.w.metaSlot(live.CheckpointID)
	blob, err := h.pg.MetaPage(slot)
	if err != nil {
		t.Fatalf("MetaPage(%d): %v", slot, err)
	}
	get := checkpoint.Get(func(key []byte) ([]byte, bool, error) {
		rec, ok := h.tree.Get(key)
		if !ok {
			return nil, false, nil
		}
		return rec.Value, true, nil
	})
	decoded, err := checkpoint.Decode(blob, get)
	if err != nil {
		t.Fatalf("checkpoint.Decode: %v", err)
	}
	if decoded.CheckpointID != live.CheckpointID {
		t.Fatalf("decoded CheckpointID = %d, want %d", decoded.CheckpointID, live.CheckpointID)
	}
	if len(decoded.Levels) != len(live.Levels) {
		t.Fatalf("decoded Levels = %d, want %d", len(decoded.Levels), len(live.Levels))
	}
}

func TestWorkOrdersFlushMergeCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	h.insertAndCommit(t, map[string]string{"a": "1"})
	h.w.Work(Flush, 0)
	h.insertAndCommit(t, map[string]string{"b": "2", "c": "3", "d": "4", "e": "5"})

	n, err := h.w.Work(Flush|Merge|Checkpoint, 0)
	if err != nil {
		t.Fatalf("Work(Flush|Merge|Checkpoint): %v", err)
	}
	if n == 0 {
		t.Fatal("combined Work call should report pages written")
	}
	live := h.w.Live()
	if live.CheckpointID == 0 {
		t.Fatal("CheckpointID should have advanced after a Checkpoint step")
	}
	if h.tree.Len() != 0 {
		t.Fatal("tree should be empty after a flush step drains it (modulo any checkpoint overflow keys)")
	}
}

func TestCheckpointUnderSafetyOffSkipsSync(t *testing.T) {
	h := newHarnessWithSafety(t, 2, walog.SafetyOff)
	h.insertAndCommit(t, map[string]string{"a": "1"})
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("flush: %v", err)
	}

	h.e.Faults.FailNth("sync", 1)
	if err := h.w.checkpoint(); err != nil {
		t.Fatalf("checkpoint under SafetyOff should never call pager.Sync, got: %v", err)
	}
}

func TestCheckpointUnderSafetyNormalSyncsDataFile(t *testing.T) {
	h := newHarnessWithSafety(t, 2, walog.SafetyNormal)
	h.insertAndCommit(t, map[string]string{"a": "1"})
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("flush: %v", err)
	}

	h.e.Faults.FailNth("sync", 1)
	if err := h.w.checkpoint(); err == nil {
		t.Fatal("checkpoint under SafetyNormal should sync the data file and surface the armed fault")
	}
}

func TestMergeReclaimsDiscardedSegmentBlocks(t *testing.T) {
	h := newHarness(t, 1)
	h.insertAndCommit(t, map[string]string{"a": "1"})
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	big := map[string]string{}
	for i := 0; i < 50; i++ {
		big[fmt.Sprintf("key-%03d", i)] = fmt.Sprintf("val-%d", i)
	}
	h.insertAndCommit(t, big)
	if _, err := h.w.Work(Flush, 0); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	if _, err := h.w.Work(Merge, 0); err != nil {
		t.Fatalf("Work(Merge): %v", err)
	}

	live := h.w.Live()
	if len(live.Free.Blocks) == 0 {
		t.Fatal("merge should return the discarded pre-merge segments' blocks to the free list, not leak them")
	}
}
