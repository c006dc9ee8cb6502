package segment

import (
	"bytes"
	"sort"

	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/pager"
)

// SeekMode selects the relation a Seek call positions on, matching the
// public cursor's EQ/GE/LE modes.
type SeekMode int

const (
	EQ SeekMode = 0
	GE SeekMode = 1
	LE SeekMode = -1
)

// Reader reads a Segment's sorted records.
type Reader struct {
	pg  *pager.Pager
	seg Segment
}

// Open wraps seg for reading through pg.
func Open(pg *pager.Pager, seg Segment) *Reader {
	return &Reader{pg: pg, seg: seg}
}

func (r *Reader) readData(pageNo uint64) (decodedDataPage, error) {
	raw, err := r.pg.ReadPage(pageNo)
	if err != nil {
		return decodedDataPage{}, err
	}
	return decodeDataPage(pageNo, raw), nil
}

func (r *Reader) readSep(pageNo uint64) (decodedSepPage, error) {
	raw, err := r.pg.ReadPage(pageNo)
	if err != nil {
		return decodedSepPage{}, err
	}
	return decodeSepPage(raw), nil
}

// findDataPage walks the separator chain and returns the data page that
// would contain target: the one whose separator key is the largest one
// <= target. If target is smaller than every separator key, it returns
// the segment's first data page (the whole segment is "ahead" of
// target).
func (r *Reader) findDataPage(target []byte) (uint64, error) {
	if r.seg.RootPage == 0 {
		return 0, lsmerr.New(lsmerr.Corrupt, "segment.findDataPage", nil)
	}
	best := r.seg.FirstPage
	pageNo := r.seg.RootPage
	for pageNo != 0 {
		sp, err := r.readSep(pageNo)
		if err != nil {
			return 0, err
		}
		done := false
		for _, e := range sp.entries {
			if bytes.Compare(e.key, target) <= 0 {
				best = e.page
			} else {
				done = true
				break
			}
		}
		if done {
			break
		}
		pageNo = sp.next
	}
	return best, nil
}

// Pages returns every page number belonging to the segment: its data
// page chain (FirstPage..LastPage via next) followed by its separator
// chain (rooted at RootPage). Used to return a discarded segment's
// blocks to the free list once it is no longer part of any level.
func (r *Reader) Pages() ([]uint64, error) {
	var pages []uint64

	for pageNo := r.seg.FirstPage; pageNo != 0; {
		pages = append(pages, pageNo)
		dp, err := r.readData(pageNo)
		if err != nil {
			return nil, err
		}
		pageNo = dp.next
	}

	for pageNo := r.seg.RootPage; pageNo != 0; {
		pages = append(pages, pageNo)
		sp, err := r.readSep(pageNo)
		if err != nil {
			return nil, err
		}
		pageNo = sp.next
	}

	return pages, nil
}

// Cursor iterates a single Segment's records in key order.
type Cursor struct {
	rd      *Reader
	page    decodedDataPage
	idx     int
	valid   bool
}

// NewCursor returns an unpositioned cursor over r.
func (r *Reader) NewCursor() *Cursor { return &Cursor{rd: r} }

func (c *Cursor) loadPage(pageNo uint64) error {
	if pageNo == 0 {
		c.valid = false
		return nil
	}
	dp, err := c.rd.readData(pageNo)
	if err != nil {
		return err
	}
	c.page = dp
	return nil
}

// First positions at the smallest key in the segment.
func (c *Cursor) First() error {
	if err := c.loadPage(c.rd.seg.FirstPage); err != nil {
		return err
	}
	c.idx = 0
	c.valid = len(c.page.records) > 0
	return nil
}

// Last positions at the largest key in the segment.
func (c *Cursor) Last() error {
	if err := c.loadPage(c.rd.seg.LastPage); err != nil {
		return err
	}
	c.idx = len(c.page.records) - 1
	c.valid = c.idx >= 0
	return nil
}

// Seek positions according to mode relative to key.
func (c *Cursor) Seek(key []byte, mode SeekMode) error {
	pageNo, err := c.rd.findDataPage(key)
	if err != nil {
		return err
	}
	if err := c.loadPage(pageNo); err != nil {
		return err
	}

	for {
		idx := sort.Search(len(c.page.records), func(i int) bool {
			return bytes.Compare(c.page.records[i].key, key) >= 0
		})

		switch mode {
		case EQ:
			if idx < len(c.page.records) && bytes.Equal(c.page.records[idx].key, key) {
				c.idx, c.valid = idx, true
				return nil
			}
			c.valid = false
			return nil
		case GE:
			if idx < len(c.page.records) {
				c.idx, c.valid = idx, true
				return nil
			}
			// fall through to next page
			if c.page.next == 0 {
				c.valid = false
				return nil
			}
			if err := c.loadPage(c.page.next); err != nil {
				return err
			}
			continue
		case LE:
			target := idx - 1
			if idx < len(c.page.records) && bytes.Equal(c.page.records[idx].key, key) {
				target = idx
			}
			if target >= 0 {
				c.idx, c.valid = target, true
				return nil
			}
			if c.page.prev == 0 {
				c.valid = false
				return nil
			}
			if err := c.loadPage(c.page.prev); err != nil {
				return err
			}
			continue
		}
	}
}

// Valid reports whether the cursor is positioned on a record.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current key.
func (c *Cursor) Key() []byte { return c.page.records[c.idx].key }

// Value returns the current value (nil for a tombstone).
func (c *Cursor) Value() []byte { return c.page.records[c.idx].val }

// Tombstone reports whether the current record is a delete marker.
func (c *Cursor) Tombstone() bool { return c.page.records[c.idx].tomb }

// Next advances to the next record in key order.
func (c *Cursor) Next() error {
	c.idx++
	if c.idx < len(c.page.records) {
		return nil
	}
	if c.page.next == 0 {
		c.valid = false
		return nil
	}
	if err := c.loadPage(c.page.next); err != nil {
		return err
	}
	c.idx = 0
	c.valid = len(c.page.records) > 0
	return nil
}

// Prev retreats to the previous record in key order.
func (c *Cursor) Prev() error {
	c.idx--
	if c.idx >= 0 {
		return nil
	}
	if c.page.prev == 0 {
		c.valid = false
		return nil
	}
	if err := c.loadPage(c.page.prev); err != nil {
		return err
	}
	c.idx = len(c.page.records) - 1
	c.valid = c.idx >= 0
	return nil
}
