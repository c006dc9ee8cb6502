// Package cursor implements the merged read view over the live
// in-memory tree and every on-disk segment named by a Snapshot: a
// single ordered, de-duplicated, tombstone-aware iteration that is the
// read path behind every public Seek/First/Last/Next/Prev call.
package cursor

import (
	"bytes"

	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/pager"
	"github.com/nainya/lsmtree/internal/segment"
)

// Cursor merges one memtree source and N segment sources, all pinned
// to the snapshot it was opened against: later writes to the live
// memtree or live snapshot never become visible through an
// already-open Cursor, since the memtree's nodes are never mutated in
// place and segments are themselves immutable once written.
type Cursor struct {
	sources []source
	valid   bool
	key     []byte
	val     []byte
}

// Open builds a Cursor over tree and every segment named by levels.
// levels must be ordered youngest-first, matching Snapshot.Levels; a
// level currently MERGING contributes both its Lhs (the merge output
// so far) and its Rhs (the inputs not yet folded in), in that order,
// which keeps "newer data wins" correct for every key already merged
// into Lhs and falls back to Rhs for the remainder. Resolving exactly
// which of Lhs/Rhs governs a key at the in-progress split point would
// need the merge cursor's Split key consulted per key; this
// approximation is documented as a simplification.
func Open(tree *memtree.Tree, pg *pager.Pager, levels []level.Level) *Cursor {
	srcs := []source{newMemSource(tree)}
	for _, l := range levels {
		if l.Lhs.SizePages > 0 {
			srcs = append(srcs, newSegSource(segment.Open(pg, l.Lhs).NewCursor()))
		}
		for _, rhs := range l.Rhs {
			if rhs.SizePages > 0 {
				srcs = append(srcs, newSegSource(segment.Open(pg, rhs).NewCursor()))
			}
		}
	}
	return &Cursor{sources: srcs}
}

// First positions on the smallest key in the merged view.
func (c *Cursor) First() error {
	for _, s := range c.sources {
		if err := s.First(); err != nil {
			return err
		}
	}
	return c.settle(true)
}

// Last positions on the largest key in the merged view.
func (c *Cursor) Last() error {
	for _, s := range c.sources {
		if err := s.Last(); err != nil {
			return err
		}
	}
	return c.settle(false)
}

// SeekGE positions on the smallest key >= target.
func (c *Cursor) SeekGE(target []byte) error {
	for _, s := range c.sources {
		if err := s.SeekGE(target); err != nil {
			return err
		}
	}
	return c.settle(true)
}

// SeekLE positions on the largest key <= target.
func (c *Cursor) SeekLE(target []byte) error {
	for _, s := range c.sources {
		if err := s.SeekLE(target); err != nil {
			return err
		}
	}
	return c.settle(false)
}

// Next advances to the next non-tombstone key in ascending order.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	if err := c.advancePast(c.key, true); err != nil {
		return err
	}
	return c.settle(true)
}

// Prev retreats to the previous non-tombstone key in descending order.
func (c *Cursor) Prev() error {
	if !c.valid {
		return nil
	}
	if err := c.advancePast(c.key, false); err != nil {
		return err
	}
	return c.settle(false)
}

// advancePast moves every source currently sitting on key past it, so
// a repositioning settle call does not immediately re-pick it.
func (c *Cursor) advancePast(key []byte, forward bool) error {
	for _, s := range c.sources {
		if s.Valid() && bytes.Equal(s.Key(), key) {
			var err error
			if forward {
				err = s.Next()
			} else {
				err = s.Prev()
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// settle finds the winning record at the current position of every
// source — the extreme key in the scan direction, with ties broken in
// favor of the earlier (younger) source — skipping any that turn out
// to be tombstones, and advancing every source tied on a skipped key
// so the next settle call makes progress.
func (c *Cursor) settle(forward bool) error {
	for {
		bestKey, haveBest := []byte(nil), false
		for _, s := range c.sources {
			if !s.Valid() {
				continue
			}
			k := s.Key()
			if !haveBest {
				bestKey, haveBest = k, true
				continue
			}
			cmp := bytes.Compare(k, bestKey)
			if (forward && cmp < 0) || (!forward && cmp > 0) {
				bestKey = k
			}
		}
		if !haveBest {
			c.valid = false
			return nil
		}

		var tomb bool
		var val []byte
		found := false
		for _, s := range c.sources {
			if s.Valid() && bytes.Equal(s.Key(), bestKey) {
				if !found {
					tomb = s.Tombstone()
					val = s.Value()
					found = true
				}
			}
		}

		if err := c.advancePast(bestKey, forward); err != nil {
			return err
		}

		if !tomb {
			c.key = append([]byte(nil), bestKey...)
			c.val = val
			c.valid = true
			return nil
		}
	}
}

// Valid reports whether the cursor is positioned on a live record.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current key.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the current value.
func (c *Cursor) Value() []byte { return c.val }
