package segment

import (
	"encoding/binary"
)

// dataPage is the in-memory staging area for one data page before it is
// flushed through the pager; it mirrors the page's own on-disk layout so
// encode is a straight copy.
type dataPage struct {
	pageNo   uint64
	prev     uint64
	next     uint64
	capacity int
	body     []byte // encoded records, dataHeaderSize-relative
	count    int
}

func newDataPage(pageNo, prev uint64, capacity int) *dataPage {
	return &dataPage{pageNo: pageNo, prev: prev, capacity: capacity, body: make([]byte, 0, capacity-dataHeaderSize)}
}

func (p *dataPage) free() int { return p.capacity - dataHeaderSize - len(p.body) }

func recordSize(key, val []byte, tomb bool) int {
	n := 1 + uvarintLen(uint64(len(key))) + len(key)
	if !tomb {
		n += uvarintLen(uint64(len(val))) + len(val)
	}
	return n
}

func (p *dataPage) append(key, val []byte, tomb bool) {
	var hdr [1]byte
	if tomb {
		hdr[0] = byte(recTombstone)
	} else {
		hdr[0] = byte(recWrite)
	}
	p.body = append(p.body, hdr[0])
	p.body = appendUvarint(p.body, uint64(len(key)))
	p.body = append(p.body, key...)
	if !tomb {
		p.body = appendUvarint(p.body, uint64(len(val)))
		p.body = append(p.body, val...)
	}
	p.count++
}

func (p *dataPage) encode() []byte {
	buf := make([]byte, dataHeaderSize+len(p.body))
	buf[0] = pageTypeData
	binary.BigEndian.PutUint64(buf[4:12], p.next)
	binary.BigEndian.PutUint64(buf[12:20], p.prev)
	binary.BigEndian.PutUint16(buf[20:22], uint16(p.count))
	copy(buf[dataHeaderSize:], p.body)
	return buf
}

type decodedRecord struct {
	key  []byte
	val  []byte
	tomb bool
}

type decodedDataPage struct {
	pageNo  uint64
	next    uint64
	prev    uint64
	records []decodedRecord
}

func decodeDataPage(pageNo uint64, raw []byte) decodedDataPage {
	next := binary.BigEndian.Uint64(raw[4:12])
	prev := binary.BigEndian.Uint64(raw[12:20])
	count := int(binary.BigEndian.Uint16(raw[20:22]))

	out := decodedDataPage{pageNo: pageNo, next: next, prev: prev, records: make([]decodedRecord, 0, count)}
	off := dataHeaderSize
	for i := 0; i < count; i++ {
		t := recType(raw[off])
		off++
		klen, n := binary.Uvarint(raw[off:])
		off += n
		key := raw[off : off+int(klen)]
		off += int(klen)
		var val []byte
		if t == recTombstone {
			out.records = append(out.records, decodedRecord{key: key, tomb: true})
			continue
		}
		vlen, n := binary.Uvarint(raw[off:])
		off += n
		val = raw[off : off+int(vlen)]
		off += int(vlen)
		out.records = append(out.records, decodedRecord{key: key, val: val})
	}
	return out
}

// sepPage is the staging area for one separator-index page: an ordered
// list of (key, dataPageNo) pairs, one per data page boundary.
type sepPage struct {
	pageNo   uint64
	next     uint64
	capacity int
	body     []byte
	count    int
}

func newSepPage(pageNo uint64, capacity int) *sepPage {
	return &sepPage{pageNo: pageNo, capacity: capacity, body: make([]byte, 0, capacity-sepHeaderSize)}
}

func (p *sepPage) free() int { return p.capacity - sepHeaderSize - len(p.body) }

func sepEntrySize(key []byte) int { return uvarintLen(uint64(len(key))) + len(key) + 8 }

func (p *sepPage) append(key []byte, dataPageNo uint64) {
	p.body = appendUvarint(p.body, uint64(len(key)))
	p.body = append(p.body, key...)
	var pn [8]byte
	binary.BigEndian.PutUint64(pn[:], dataPageNo)
	p.body = append(p.body, pn[:]...)
	p.count++
}

func (p *sepPage) encode() []byte {
	buf := make([]byte, sepHeaderSize+len(p.body))
	buf[0] = pageTypeSep
	binary.BigEndian.PutUint64(buf[4:12], p.next)
	binary.BigEndian.PutUint16(buf[12:14], uint16(p.count))
	copy(buf[sepHeaderSize:], p.body)
	return buf
}

type sepEntry struct {
	key  []byte
	page uint64
}

type decodedSepPage struct {
	next    uint64
	entries []sepEntry
}

func decodeSepPage(raw []byte) decodedSepPage {
	next := binary.BigEndian.Uint64(raw[4:12])
	count := int(binary.BigEndian.Uint16(raw[12:14]))
	out := decodedSepPage{next: next, entries: make([]sepEntry, 0, count)}
	off := sepHeaderSize
	for i := 0; i < count; i++ {
		klen, n := binary.Uvarint(raw[off:])
		off += n
		key := raw[off : off+int(klen)]
		off += int(klen)
		page := binary.BigEndian.Uint64(raw[off : off+8])
		off += 8
		out.entries = append(out.entries, sepEntry{key: key, page: page})
	}
	return out
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
