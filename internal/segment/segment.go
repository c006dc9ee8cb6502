// ABOUTME: Immutable sorted on-disk run produced by a flush or a merge
// ABOUTME: Pages form a doubly-linked chain; a separator chain indexes them

package segment

// Segment is the record describing one immutable sorted run: the
// doubly-linked chain of data pages [FirstPage, LastPage], the chain of
// separator-index pages rooted at RootPage (0 if the segment has no
// separator chain, which never happens for a non-empty segment written
// by this package), and the data-page count.
type Segment struct {
	FirstPage uint64
	LastPage  uint64
	RootPage  uint64
	SizePages uint64
}

// recType tags an entry within a data page.
type recType byte

const (
	recWrite     recType = 0
	recTombstone recType = 1
)

const (
	dataHeaderSize = 24 // type(1)+pad(3)+next(8)+prev(8)+count(2)+pad(2)
	sepHeaderSize  = 16 // type(1)+pad(3)+next(8)+count(2)+pad(2)

	pageTypeData = 1
	pageTypeSep  = 2
)
