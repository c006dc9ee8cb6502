// Package xsum centralizes the on-disk byte-swap and checksum helpers
// shared by the write-ahead log, the paged file system, and the
// checkpoint codec, per the engine's design note that these concerns
// belong in one module rather than being duplicated per caller.
package xsum

import "encoding/binary"

// Seed is a two-word rolling Fletcher-style checksum accumulator. Its
// input is endian-normalized (every 4 bytes is read as a big-endian
// uint32 regardless of host byte order) so that a checksum computed on
// one architecture verifies on another; its on-disk encoding is always
// big-endian.
type Seed [2]uint32

// Zero is the seed used to start a fresh checksum chain (e.g. region R0
// at its very first record, or a checkpoint blob's own trailing sum).
var Zero = Seed{0, 0}

// Update folds data into seed, returning the new running value. data
// need not be a multiple of 4 bytes; a short final word is zero-padded
// in an internal scratch buffer only (the padding is never written to
// disk). Because of that padding, splitting data across chained calls
// gives the same result as one call only when every call but the last
// is given a multiple of 4 bytes.
func Update(seed Seed, data []byte) Seed {
	sum1, sum2 := seed[0], seed[1]

	n := len(data)
	full := n - n%4
	for i := 0; i < full; i += 4 {
		sum1 += binary.BigEndian.Uint32(data[i : i+4])
		sum2 += sum1
	}

	if rem := n - full; rem > 0 {
		var last [4]byte
		copy(last[:], data[full:])
		sum1 += binary.BigEndian.Uint32(last[:])
		sum2 += sum1
	}

	return Seed{sum1, sum2}
}

// Encode writes the seed as two big-endian words (8 bytes).
func (s Seed) Encode() [8]byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], s[0])
	binary.BigEndian.PutUint32(buf[4:8], s[1])
	return buf
}

// Decode reads a seed from its 8-byte big-endian encoding.
func Decode(buf []byte) Seed {
	return Seed{
		binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint32(buf[4:8]),
	}
}

// PutUint32 and Uint32 centralize the big-endian integer access used by
// every on-disk structure (pages, log frames, checkpoint words).
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func Uint32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func Uint64(b []byte) uint64       { return binary.BigEndian.Uint64(b) }
