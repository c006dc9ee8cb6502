package segment

import (
	"bytes"
	"fmt"

	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/pager"
)

// AllocPage allocates the next page number for a new segment page. The
// caller (the worker) is responsible for returning unused pages to the
// free-block list if the write is abandoned.
type AllocPage func() (uint64, error)

// Writer streams records in strictly increasing key order into a new
// Segment, emitting a separator entry at every data-page boundary.
type Writer struct {
	pg    *pager.Pager
	alloc AllocPage
	cap   int

	cur     *dataPage
	curSep  *sepPage
	firstD  uint64
	lastD   uint64
	firstS  uint64
	lastKey []byte
	haveKey bool
	n       uint64
	pages   uint64
}

// NewWriter creates a Writer that allocates pages via alloc and writes
// them through pg.
func NewWriter(pg *pager.Pager, alloc AllocPage) *Writer {
	return &Writer{pg: pg, alloc: alloc, cap: pg.PageSize() - 8}
}

// Append adds the next record. Keys must be strictly increasing; a
// tombstone is a record with val == nil and tomb == true.
func (w *Writer) Append(key, val []byte, tomb bool) error {
	if w.haveKey && bytes.Compare(key, w.lastKey) <= 0 {
		return lsmerr.New(lsmerr.Misuse, "segment.Writer.Append", fmt.Errorf("keys out of order: %q after %q", key, w.lastKey))
	}

	need := recordSize(key, val, tomb)
	if need > w.cap-dataHeaderSize {
		return lsmerr.New(lsmerr.Misuse, "segment.Writer.Append", fmt.Errorf("record of %d bytes exceeds page capacity", need))
	}

	if w.cur == nil || w.cur.free() < need {
		if err := w.rollData(); err != nil {
			return err
		}
	}
	w.cur.append(key, val, tomb)
	if w.cur.count == 1 {
		if err := w.appendSeparator(key, w.cur.pageNo); err != nil {
			return err
		}
	}
	w.lastKey = append([]byte(nil), key...)
	w.haveKey = true
	w.n++
	return nil
}

func (w *Writer) rollData() error {
	nextNo, err := w.alloc()
	if err != nil {
		return lsmerr.New(lsmerr.Full, "segment.Writer", err)
	}
	if w.cur != nil {
		w.cur.next = nextNo
		if err := w.pg.WritePage(w.cur.pageNo, w.cur.encode()); err != nil {
			return err
		}
		w.lastD = w.cur.pageNo
	} else {
		w.firstD = nextNo
	}
	prev := w.lastD
	w.cur = newDataPage(nextNo, prev, w.cap)
	w.pages++
	return nil
}

func (w *Writer) appendSeparator(key []byte, dataPageNo uint64) error {
	need := sepEntrySize(key)
	if w.curSep == nil || w.curSep.free() < need {
		nextNo, err := w.alloc()
		if err != nil {
			return lsmerr.New(lsmerr.Full, "segment.Writer", err)
		}
		if w.curSep != nil {
			w.curSep.next = nextNo
			if err := w.pg.WritePage(w.curSep.pageNo, w.curSep.encode()); err != nil {
				return err
			}
		} else {
			w.firstS = nextNo
		}
		w.curSep = newSepPage(nextNo, w.cap)
	}
	w.curSep.append(key, dataPageNo)
	return nil
}

// Finish flushes any buffered pages and returns the completed Segment.
// Calling Finish on a Writer that never received an Append returns a
// zero Segment.
func (w *Writer) Finish() (Segment, error) {
	if w.cur != nil {
		w.cur.next = 0
		if err := w.pg.WritePage(w.cur.pageNo, w.cur.encode()); err != nil {
			return Segment{}, err
		}
		w.lastD = w.cur.pageNo
	}
	if w.curSep != nil {
		w.curSep.next = 0
		if err := w.pg.WritePage(w.curSep.pageNo, w.curSep.encode()); err != nil {
			return Segment{}, err
		}
	}
	if w.n == 0 {
		return Segment{}, nil
	}
	return Segment{FirstPage: w.firstD, LastPage: w.lastD, RootPage: w.firstS, SizePages: w.pages}, nil
}
