package snapshot

import (
	"testing"

	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/segment"
)

func TestFreeListAllocFreeLIFO(t *testing.T) {
	f := FreeList{}
	if _, ok := f.Alloc(); ok {
		t.Fatal("Alloc on empty list should report false")
	}

	f.Free(1)
	f.Free(2)
	f.Free(3)

	b, ok := f.Alloc()
	if !ok || b != 3 {
		t.Fatalf("Alloc() = %d, %v; want 3, true (LIFO)", b, ok)
	}
	b, ok = f.Alloc()
	if !ok || b != 2 {
		t.Fatalf("Alloc() = %d, %v; want 2, true", b, ok)
	}
	b, ok = f.Alloc()
	if !ok || b != 1 {
		t.Fatalf("Alloc() = %d, %v; want 1, true", b, ok)
	}
	if _, ok := f.Alloc(); ok {
		t.Fatal("Alloc after draining the list should report false")
	}
}

func TestCloneIsDeepForLevelsAndFreeList(t *testing.T) {
	s := &Snapshot{
		CheckpointID: 7,
		TotalBlocks:  10,
		Free:         FreeList{Blocks: []uint64{1, 2, 3}},
		Levels: []level.Level{
			{
				Age: 0,
				Lhs: segment.Segment{SizePages: 5},
				Rhs: []segment.Segment{{SizePages: 2}},
				Cursor: level.MergeCursor{
					InputPos: []level.PageCell{{Page: 1, Cell: 0}},
				},
			},
		},
	}

	clone := s.Clone()

	// Mutate the clone; the original must be untouched.
	clone.Free.Blocks[0] = 999
	clone.Levels[0].Rhs[0].SizePages = 42
	clone.Levels[0].Cursor.InputPos[0].Page = 999
	clone.Levels = append(clone.Levels, level.Level{})

	if s.Free.Blocks[0] != 1 {
		t.Fatalf("mutating clone.Free leaked into original: %v", s.Free.Blocks)
	}
	if s.Levels[0].Rhs[0].SizePages != 2 {
		t.Fatalf("mutating clone.Levels[0].Rhs leaked into original: %+v", s.Levels[0].Rhs[0])
	}
	if s.Levels[0].Cursor.InputPos[0].Page != 1 {
		t.Fatalf("mutating clone.Levels[0].Cursor leaked into original: %+v", s.Levels[0].Cursor)
	}
	if len(s.Levels) != 1 {
		t.Fatalf("appending to clone.Levels leaked into original: len=%d", len(s.Levels))
	}
}

func TestCloneOfNilSlicesStaysNil(t *testing.T) {
	s := &Snapshot{}
	clone := s.Clone()
	if clone.Free.Blocks != nil {
		t.Fatalf("Clone of empty FreeList = %v, want nil", clone.Free.Blocks)
	}
	if len(clone.Levels) != 0 {
		t.Fatalf("Clone of no Levels = %v, want empty", clone.Levels)
	}
}

func TestCloneIndependentCheckpointID(t *testing.T) {
	s := &Snapshot{CheckpointID: 1}
	clone := s.Clone()
	clone.CheckpointID = 2
	if s.CheckpointID != 1 {
		t.Fatalf("mutating clone's scalar field leaked into original: %d", s.CheckpointID)
	}
}
