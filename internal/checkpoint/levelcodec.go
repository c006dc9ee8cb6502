package checkpoint

import (
	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/segment"
	"github.com/nainya/lsmtree/internal/snapshot"
)

const segmentRecordSize = 32 // FirstPage, LastPage, RootPage, SizePages
const pageCellSize = 16      // Page (8) + Cell (4) + 4 bytes padding

func encodeSegment(seg segment.Segment) []byte {
	buf := make([]byte, segmentRecordSize)
	putUint64(buf[0:8], seg.FirstPage)
	putUint64(buf[8:16], seg.LastPage)
	putUint64(buf[16:24], seg.RootPage)
	putUint64(buf[24:32], seg.SizePages)
	return buf
}

func decodeSegment(b []byte) segment.Segment {
	return segment.Segment{
		FirstPage: getUint64(b[0:8]),
		LastPage:  getUint64(b[8:16]),
		RootPage:  getUint64(b[16:24]),
		SizePages: getUint64(b[24:32]),
	}
}

func encodePageCell(c level.PageCell) []byte {
	buf := make([]byte, pageCellSize)
	putUint64(buf[0:8], c.Page)
	putUint32(buf[8:12], c.Cell)
	return buf
}

func decodePageCell(b []byte) level.PageCell {
	return level.PageCell{Page: getUint64(b[0:8]), Cell: getUint32(b[8:12])}
}

// encodeLevel serializes one Level: age, rhs count, lhs segment, each
// rhs segment, and — only when rhs is non-empty — the merge cursor.
func encodeLevel(l level.Level) []byte {
	buf := make([]byte, 0, 8+segmentRecordSize+len(l.Rhs)*segmentRecordSize+8+len(l.Cursor.InputPos)*pageCellSize+pageCellSize)
	head := make([]byte, 8)
	putUint32(head[0:4], l.Age)
	putUint32(head[4:8], uint32(len(l.Rhs)))
	buf = append(buf, head...)
	buf = append(buf, encodeSegment(l.Lhs)...)
	for _, seg := range l.Rhs {
		buf = append(buf, encodeSegment(seg)...)
	}
	if len(l.Rhs) > 0 {
		cnt := make([]byte, 4)
		putUint32(cnt, uint32(len(l.Cursor.InputPos)))
		buf = append(buf, cnt...)
		for _, c := range l.Cursor.InputPos {
			buf = append(buf, encodePageCell(c)...)
		}
		buf = append(buf, encodePageCell(l.Cursor.Split)...)
	}
	return buf
}

// decodeLevel reads one Level from b and returns the number of bytes
// consumed.
func decodeLevel(b []byte) (level.Level, int, error) {
	if len(b) < 8+segmentRecordSize {
		return level.Level{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeLevel", nil)
	}
	var l level.Level
	l.Age = getUint32(b[0:4])
	rhsCount := int(getUint32(b[4:8]))
	off := 8
	l.Lhs = decodeSegment(b[off : off+segmentRecordSize])
	off += segmentRecordSize

	if off+rhsCount*segmentRecordSize > len(b) {
		return level.Level{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeLevel", nil)
	}
	l.Rhs = make([]segment.Segment, rhsCount)
	for i := 0; i < rhsCount; i++ {
		l.Rhs[i] = decodeSegment(b[off : off+segmentRecordSize])
		off += segmentRecordSize
	}

	if rhsCount > 0 {
		if off+4 > len(b) {
			return level.Level{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeLevel", nil)
		}
		inputCount := int(getUint32(b[off : off+4]))
		off += 4
		if off+inputCount*pageCellSize+pageCellSize > len(b) {
			return level.Level{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeLevel", nil)
		}
		l.Cursor.InputPos = make([]level.PageCell, inputCount)
		for i := 0; i < inputCount; i++ {
			l.Cursor.InputPos[i] = decodePageCell(b[off : off+pageCellSize])
			off += pageCellSize
		}
		l.Cursor.Split = decodePageCell(b[off : off+pageCellSize])
		off += pageCellSize
	}

	return l, off, nil
}

// encodeFreeList serializes a FreeList as a count followed by 8-byte
// block numbers.
func encodeFreeList(f snapshot.FreeList) []byte {
	buf := make([]byte, 4+8*len(f.Blocks))
	putUint32(buf[0:4], uint32(len(f.Blocks)))
	off := 4
	for _, b := range f.Blocks {
		putUint64(buf[off:off+8], b)
		off += 8
	}
	return buf
}

func decodeFreeList(b []byte) (snapshot.FreeList, int, error) {
	if len(b) < 4 {
		return snapshot.FreeList{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeFreeList", nil)
	}
	count := int(getUint32(b[0:4]))
	off := 4
	if off+count*8 > len(b) {
		return snapshot.FreeList{}, 0, lsmerr.New(lsmerr.Corrupt, "checkpoint.decodeFreeList", nil)
	}
	blocks := make([]uint64, count)
	for i := 0; i < count; i++ {
		blocks[i] = getUint64(b[off : off+8])
		off += 8
	}
	return snapshot.FreeList{Blocks: blocks}, off, nil
}
