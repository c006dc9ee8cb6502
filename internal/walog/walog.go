// Package walog implements the write-ahead log: a sequence of
// checksum-framed WRITE/DELETE/COMMIT/JUMP records giving every
// committed transaction durability independent of when its data is
// flushed into a segment. Records chain a rolling checksum (internal/xsum)
// seeded from the record before them, so a torn write or a stretch of
// stale bytes left over in a reused region of the file is detected as
// soon as replay reaches it rather than read as valid data.
//
// The log file is logically divided into reusable regions: once a
// checkpoint proves a stretch of the file is fully reflected in
// flushed segments, Rotate lets the writer jump back over it, leaving
// behind a JUMP record so forward replay knows to skip straight to the
// region currently in use instead of reading the stale bytes underneath.
package walog

import (
	"encoding/binary"
	"io"

	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/internal/xsum"
)

// Pointer names a position in the log: a byte offset plus the rolling
// checksum seed in effect there, so replay starting from it continues
// the same checksum chain a from-scratch scan would have reached.
type Pointer struct {
	Offset uint64
	Seed   xsum.Seed
}

// Writer appends records to an open log file.
type Writer struct {
	f      env.File
	offset uint64
	seed   xsum.Seed
	safety Safety
}

// Open opens (creating if needed) the log file at path and returns a
// Writer positioned to append after from — the log pointer carried by
// the most recent successfully applied checkpoint.
func Open(e env.Env, path string, from Pointer, safety Safety) (*Writer, error) {
	f, err := e.OpenFile(path, true)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, offset: from.Offset, seed: from.Seed, safety: safety}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error { return w.f.Close() }

// Pointer returns the current write position, suitable for embedding
// in the next checkpoint once every record up to here is durable.
func (w *Writer) Pointer() Pointer { return Pointer{Offset: w.offset, Seed: w.seed} }

// Reset rewinds the writer to p, so the next Append physically
// overwrites whatever (uncommitted) bytes follow p. Used by a
// savepoint rollback within a transaction that has not yet reached
// Commit — nothing durable is ever reset out from under a reader,
// since nothing before the enclosing transaction's own eventual Commit
// record is visible to replay in the first place.
func (w *Writer) Reset(p Pointer) {
	w.offset = p.Offset
	w.seed = p.Seed
}

func (w *Writer) appendFrame(typ RecordType, payload []byte) (uint64, error) {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(typ))
	buf = append(buf, payload...)

	newSeed := xsum.Update(w.seed, buf)
	trailer := newSeed.Encode()
	frame := append(buf, trailer[:]...)

	start := w.offset
	if _, err := w.f.WriteAt(frame, int64(start)); err != nil {
		return 0, err
	}
	w.offset += uint64(len(frame))
	w.seed = newSeed
	if w.safety == SafetyFull {
		if err := w.f.Sync(); err != nil {
			return 0, err
		}
	}
	return start, nil
}

// AppendWrite logs a key/value write. It is not durable until the
// enclosing transaction's Commit call returns.
func (w *Writer) AppendWrite(key, val []byte) (uint64, error) {
	payload := make([]byte, 0, binary.MaxVarintLen64*2+len(key)+len(val))
	var tmp [binary.MaxVarintLen64]byte
	n := putUvarint(tmp[:], uint64(len(key)))
	payload = append(payload, tmp[:n]...)
	n = putUvarint(tmp[:], uint64(len(val)))
	payload = append(payload, tmp[:n]...)
	payload = append(payload, key...)
	payload = append(payload, val...)
	return w.appendFrame(recWrite, payload)
}

// AppendDelete logs a tombstone for key.
func (w *Writer) AppendDelete(key []byte) (uint64, error) {
	payload := make([]byte, 0, binary.MaxVarintLen64+len(key))
	var tmp [binary.MaxVarintLen64]byte
	n := putUvarint(tmp[:], uint64(len(key)))
	payload = append(payload, tmp[:n]...)
	payload = append(payload, key...)
	return w.appendFrame(recDelete, payload)
}

// Commit writes the record that makes every WRITE/DELETE since the
// last Commit visible to replay as a single transaction, syncing only
// under SafetyFull: SafetyOff never syncs, and SafetyNormal relies on
// the next checkpoint's data-file sync for durability instead of
// paying an fsync on every commit.
func (w *Writer) Commit() error {
	if _, err := w.appendFrame(recCommit, nil); err != nil {
		return err
	}
	if w.safety != SafetyFull {
		return nil
	}
	return w.f.Sync()
}

// Sync forces every record appended so far to stable storage,
// regardless of the configured Safety. The worker calls this before
// encoding a checkpoint whose LogPtr names the current write position,
// since that pointer is only a safe recovery start once everything up
// to it is actually durable.
func (w *Writer) Sync() error { return w.f.Sync() }

// Rotate records a JUMP to target and resumes appending there. The
// caller (the worker, after a checkpoint) must guarantee every record
// between target and the log's logical start is already reflected in
// a durable checkpoint, so overwriting it loses nothing replay needs.
func (w *Writer) Rotate(target uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, target)
	if _, err := w.appendFrame(recJump, buf); err != nil {
		return err
	}
	w.offset = target
	return nil
}

// fileCursor is a forward-only byte reader over an env.File, used so
// encoding/binary.ReadUvarint can read directly off the log.
type fileCursor struct {
	f   env.File
	pos int64
}

func (c *fileCursor) ReadByte() (byte, error) {
	var b [1]byte
	n, err := c.f.ReadAt(b[:], c.pos)
	if n == 1 {
		c.pos++
		return b[0], nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

func (c *fileCursor) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	rn, err := c.f.ReadAt(buf, c.pos)
	c.pos += int64(rn)
	if rn < n {
		if err == nil {
			err = io.EOF
		}
		return buf[:rn], err
	}
	return buf, nil
}

// frameReader wraps a fileCursor and remembers every byte read since
// the last reset, so the checksum for the frame currently being parsed
// can be recomputed from exactly the bytes that made it up.
type frameReader struct {
	cur *fileCursor
	buf []byte
}

func (fr *frameReader) ReadByte() (byte, error) {
	b, err := fr.cur.ReadByte()
	if err == nil {
		fr.buf = append(fr.buf, b)
	}
	return b, err
}

func (fr *frameReader) readN(n int) ([]byte, error) {
	b, err := fr.cur.readN(n)
	fr.buf = append(fr.buf, b...)
	return b, err
}

func (fr *frameReader) reset() { fr.buf = fr.buf[:0] }

type pendingOp struct {
	key, val []byte
	tomb     bool
}

// Apply is called once per record of a fully-validated, committed
// transaction, in the order the records were originally appended.
type Apply func(key, val []byte, tomb bool)

// Recover replays the log starting at from, calling apply once per
// write/delete belonging to each fully committed transaction found,
// and returns the pointer recovery should resume appending at: the
// position right after the last valid COMMIT record. Anything after
// that — an incomplete transaction, a torn write, or stale bytes left
// in a reused region — is silently discarded, exactly as a crash
// before that COMMIT would have left it.
func Recover(e env.Env, path string, from Pointer, apply Apply) (Pointer, error) {
	f, err := e.OpenFile(path, true)
	if err != nil {
		return Pointer{}, err
	}
	defer f.Close()

	cur := &fileCursor{f: f, pos: int64(from.Offset)}
	fr := &frameReader{cur: cur}
	seed := from.Seed
	last := from

	var pending []pendingOp

	for {
		fr.reset()
		typByte, err := fr.ReadByte()
		if err != nil {
			break
		}

		switch RecordType(typByte) {
		case recWrite:
			keylen, err := binary.ReadUvarint(fr)
			if err != nil {
				goto done
			}
			vallen, err := binary.ReadUvarint(fr)
			if err != nil {
				goto done
			}
			key, err := fr.readN(int(keylen))
			if err != nil {
				goto done
			}
			val, err := fr.readN(int(vallen))
			if err != nil {
				goto done
			}
			trailer, err := cur.readN(8)
			if err != nil {
				goto done
			}
			want := xsum.Update(seed, fr.buf)
			if want != xsum.Decode(trailer) {
				goto done
			}
			seed = want
			pending = append(pending, pendingOp{key: key, val: val})

		case recDelete:
			keylen, err := binary.ReadUvarint(fr)
			if err != nil {
				goto done
			}
			key, err := fr.readN(int(keylen))
			if err != nil {
				goto done
			}
			trailer, err := cur.readN(8)
			if err != nil {
				goto done
			}
			want := xsum.Update(seed, fr.buf)
			if want != xsum.Decode(trailer) {
				goto done
			}
			seed = want
			pending = append(pending, pendingOp{key: key, tomb: true})

		case recCommit:
			trailer, err := cur.readN(8)
			if err != nil {
				goto done
			}
			want := xsum.Update(seed, fr.buf)
			if want != xsum.Decode(trailer) {
				goto done
			}
			seed = want
			for _, op := range pending {
				apply(op.key, op.val, op.tomb)
			}
			pending = pending[:0]
			last = Pointer{Offset: uint64(cur.pos), Seed: seed}

		case recJump:
			target, err := fr.readN(8)
			if err != nil {
				goto done
			}
			trailer, err := cur.readN(8)
			if err != nil {
				goto done
			}
			want := xsum.Update(seed, fr.buf)
			if want != xsum.Decode(trailer) {
				goto done
			}
			seed = want
			cur.pos = int64(binary.BigEndian.Uint64(target))

		default:
			goto done
		}
	}
done:
	return last, nil
}
