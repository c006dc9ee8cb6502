// Package level implements the per-level merge state machine: STABLE and
// MERGING (a finished merge empties Rhs, which returns the level straight
// to STABLE; there is no separate COMPLETE state), and the size-ratio
// merge policy that decides which adjacent levels to merge next.
package level

import "github.com/nainya/lsmtree/internal/segment"

// State is a Level's position in the merge state machine.
type State int

const (
	// Stable: Rhs is empty, Lhs holds the level's entire content.
	Stable State = iota
	// Merging: Rhs is a non-empty list of input segments being folded
	// into a new Lhs; Cursor tracks where the merge paused.
	Merging
)

// MergeCursor records exactly where a partial merge paused, so a crash
// mid-merge resumes at the same split key on next run.
type MergeCursor struct {
	// InputPos[i] is the (page, cell) position of input i's front record
	// not yet merged into the output.
	InputPos []PageCell
	// Split is the key at which the merge is currently positioned: the
	// smallest key not yet emitted to the output.
	Split PageCell
}

// PageCell addresses one record within a segment: a data page number and
// the index of the record within that page.
type PageCell struct {
	Page uint64
	Cell uint32
}

// Level is one stage of the LSM hierarchy: Age is a monotonic,
// non-negative "older is bigger" rank; Lhs is the level's single stable
// (or being-built) segment; Rhs, when non-empty, is the ordered list of
// input segments currently being merged into Lhs.
type Level struct {
	Age    uint32
	Lhs    segment.Segment
	Rhs    []segment.Segment
	Cursor MergeCursor
}

// State reports the level's current state.
func (l *Level) State() State {
	if len(l.Rhs) == 0 {
		return Stable
	}
	return Merging
}

// EligibleForMerge reports whether this level's Lhs is large enough,
// relative to next's Lhs, to be merged into next under the configured
// segment_ratio. Only STABLE levels are ever chosen as a merge source: a
// level already MERGING must finish before it can itself become a merge
// source into the level after it.
func EligibleForMerge(this, next *Level, segmentRatio int) bool {
	if this.State() != Stable || this.Lhs.SizePages == 0 {
		return false
	}
	if next.Lhs.SizePages == 0 {
		return this.Lhs.SizePages > 0
	}
	return this.Lhs.SizePages > uint64(segmentRatio)*next.Lhs.SizePages
}
