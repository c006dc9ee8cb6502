// Package checkpoint encodes and decodes the fixed-size meta-page blob
// that publishes a Snapshot: the two alternating 4 KiB meta-page slots a
// reader consults on open, each holding a checkpoint id, the log
// pointer, the level list and free-block list, and a trailing two-word
// checksum.
//
// A snapshot with many levels or a large free list may not fit in one
// page. Rather than grow the meta page (which would break the
// fixed-slot layout the pager assumes), whatever does not fit is
// spilled into the reserved `\xFFLEVELS`/`\xFFFREELIST` keys of the
// engine's own keyspace — ordinary records written and read back
// through the same LSM read/write path as any user key, so they flush,
// merge and recover exactly like user data. The checkpoint blob itself
// only ever needs to say whether that spill happened.
package checkpoint

import (
	"encoding/binary"

	"github.com/nainya/lsmtree/internal/level"
	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/snapshot"
	"github.com/nainya/lsmtree/internal/xsum"
)

// LevelsKey and FreeListKey are the reserved system records a
// checkpoint spills its overflow into. They begin with a 0xFF byte;
// the public Write and Delete calls do not reject client keys that
// begin with 0xFF, so a client key equal to one of these shares its
// record.
var (
	LevelsKey   = []byte("\xFFLEVELS")
	FreeListKey = []byte("\xFFFREELIST")
)

const (
	checksumSize = 8
	headerSize   = 8 + 8 + 4 + 4 + 4 + 4 + 8 + 8 // see field comments in Encode
)

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }

const (
	flagLevelsOverflow   = 1 << 0
	flagFreeListOverflow = 1 << 1
)

// Put durably records a reserved system key's value before Encode
// returns, the same way a normal write would. The worker implements
// this as a write through internal/txn so the record participates in
// the next flush like any other key.
type Put func(key, value []byte) error

// Get reads a reserved system key back through the engine's normal
// merged read path (memtree + every segment), exactly as a client read
// would. ok is false if the key is entirely absent.
type Get func(key []byte) (value []byte, ok bool, err error)

// Encode serializes snap into a blob sized to fit one meta page
// (pageSize - checksumSize usable bytes). Levels are encoded newest
// (Age smallest) first; if the full list does not fit, the oldest
// levels are spilled via put to LevelsKey. The free list is spilled
// via put to FreeListKey, whole rather than as a delta against the
// previous checkpoint, whenever it does not fit alongside the levels:
// record 9 leaves the delta-vs-full choice as an open question, and a
// size-driven all-or-nothing split is the simplest policy that keeps
// every checkpoint self-describing without reference to the checkpoint
// before it.
func Encode(snap *snapshot.Snapshot, pageSize int, put Put) ([]byte, error) {
	budget := pageSize - checksumSize

	body := make([]byte, headerSize)
	putUint64(body[0:8], snap.CheckpointID)
	putUint64(body[8:16], snap.TotalBlocks)
	putUint32(body[16:20], uint32(snap.PageSize))
	putUint32(body[20:24], uint32(snap.BlockSize))
	// body[24:28] levelCountInline, body[28:32] flags — filled in below
	putUint64(body[32:40], snap.LogPtr.Offset)
	cksum := snap.LogPtr.Checksum.Encode()
	copy(body[40:48], cksum[:])

	levelsInline := 0
	levelsBuf := []byte{}
	for levelsInline < len(snap.Levels) {
		next := encodeLevel(snap.Levels[levelsInline])
		if len(body)+len(levelsBuf)+len(next) > budget {
			break
		}
		levelsBuf = append(levelsBuf, next...)
		levelsInline++
	}
	putUint32(body[24:28], uint32(levelsInline))

	var flags uint32
	if levelsInline < len(snap.Levels) {
		flags |= flagLevelsOverflow
		var tail []byte
		for _, l := range snap.Levels[levelsInline:] {
			tail = append(tail, encodeLevel(l)...)
		}
		tailBuf := make([]byte, 4+len(tail))
		putUint32(tailBuf[0:4], uint32(len(snap.Levels)-levelsInline))
		copy(tailBuf[4:], tail)
		if err := put(LevelsKey, tailBuf); err != nil {
			return nil, err
		}
	}

	freeBuf := encodeFreeList(snap.Free)
	if len(body)+len(levelsBuf)+len(freeBuf) > budget {
		flags |= flagFreeListOverflow
		if err := put(FreeListKey, freeBuf); err != nil {
			return nil, err
		}
		freeBuf = nil
	}

	putUint32(body[28:32], flags)

	blob := make([]byte, 0, pageSize)
	blob = append(blob, body...)
	blob = append(blob, levelsBuf...)
	if freeBuf != nil {
		blob = append(blob, freeBuf...)
	}
	if len(blob) > budget {
		return nil, lsmerr.New(lsmerr.Full, "checkpoint.Encode", nil)
	}

	out := make([]byte, pageSize)
	copy(out, blob)
	seed := xsum.Update(xsum.Zero, out[:len(out)-checksumSize])
	enc := seed.Encode()
	copy(out[len(out)-checksumSize:], enc[:])
	return out, nil
}

// Header is everything Decode can recover from the meta-page blob
// alone, before any overflow key has been resolved: enough to pick the
// newer of the two meta slots and to know where WAL replay must resume
// from. Snapshot.Levels holds only the inline levels and Snapshot.Free
// is the zero value when FreeListOverflow is set.
type Header struct {
	Snapshot         *snapshot.Snapshot
	LevelsOverflow   bool
	FreeListOverflow bool
}

// DecodeHeader verifies the blob's checksum and parses everything that
// does not require consulting the live keyspace. A caller that expects
// LevelsOverflow or FreeListOverflow must replay the log up to
// Snapshot.LogPtr before the reserved system keys those flags name are
// readable, then call ResolveOverflow.
func DecodeHeader(blob []byte) (*Header, error) {
	if len(blob) < headerSize+checksumSize {
		return nil, lsmerr.New(lsmerr.Corrupt, "checkpoint.DecodeHeader", nil)
	}
	want := xsum.Update(xsum.Zero, blob[:len(blob)-checksumSize])
	got := xsum.Decode(blob[len(blob)-checksumSize:])
	if want != got {
		return nil, lsmerr.New(lsmerr.Corrupt, "checkpoint.DecodeHeader", nil)
	}

	s := &snapshot.Snapshot{}
	s.CheckpointID = getUint64(blob[0:8])
	s.TotalBlocks = getUint64(blob[8:16])
	s.PageSize = int(getUint32(blob[16:20]))
	s.BlockSize = int(getUint32(blob[20:24]))
	levelCountInline := int(getUint32(blob[24:28]))
	flags := getUint32(blob[28:32])
	s.LogPtr.Offset = getUint64(blob[32:40])
	s.LogPtr.Checksum = xsum.Decode(blob[40:48])

	off := headerSize
	levels := make([]level.Level, 0, levelCountInline)
	for i := 0; i < levelCountInline; i++ {
		l, n, err := decodeLevel(blob[off:])
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
		off += n
	}
	s.Levels = levels

	h := &Header{
		Snapshot:         s,
		LevelsOverflow:   flags&flagLevelsOverflow != 0,
		FreeListOverflow: flags&flagFreeListOverflow != 0,
	}

	if !h.FreeListOverflow {
		free, _, err := decodeFreeList(blob[off:])
		if err != nil {
			return nil, err
		}
		s.Free = free
	}
	return h, nil
}

// ResolveOverflow fills in any levels and free list spilled to
// \xFFLEVELS/\xFFFREELIST, reading them via get — which must already
// be able to see every record up to h.Snapshot.LogPtr (the caller
// replays the log that far before calling this).
func ResolveOverflow(h *Header, get Get) (*snapshot.Snapshot, error) {
	s := h.Snapshot
	if h.LevelsOverflow {
		tail, ok, err := get(LevelsKey)
		if err != nil {
			return nil, err
		}
		if !ok || len(tail) < 4 {
			return nil, lsmerr.New(lsmerr.Corrupt, "checkpoint.ResolveOverflow", nil)
		}
		count := int(getUint32(tail[0:4]))
		toff := 4
		for i := 0; i < count; i++ {
			l, n, err := decodeLevel(tail[toff:])
			if err != nil {
				return nil, err
			}
			s.Levels = append(s.Levels, l)
			toff += n
		}
	}
	if h.FreeListOverflow {
		fb, ok, err := get(FreeListKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, lsmerr.New(lsmerr.Corrupt, "checkpoint.ResolveOverflow", nil)
		}
		free, _, err := decodeFreeList(fb)
		if err != nil {
			return nil, err
		}
		s.Free = free
	}
	return s, nil
}

// Decode is the single-call convenience form for callers that already
// have a get able to answer both reserved keys up front (tests, or any
// caller that knows in advance no overflow was written).
func Decode(blob []byte, get Get) (*snapshot.Snapshot, error) {
	h, err := DecodeHeader(blob)
	if err != nil {
		return nil, err
	}
	if !h.LevelsOverflow && !h.FreeListOverflow {
		return h.Snapshot, nil
	}
	return ResolveOverflow(h, get)
}
