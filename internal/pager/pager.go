// ABOUTME: Paged file system: page/block addressing, meta pages, checksums
// ABOUTME: Every blocking call here is a suspension point for the caller

package pager

import (
	"fmt"

	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/xsum"
)

const (
	// MetaPageSize is the fixed size of each of the two meta-page slots,
	// independent of the configured data page size.
	MetaPageSize = 4096

	// metaRegionSize is the total space reserved for both meta slots.
	metaRegionSize = 2 * MetaPageSize

	// pageChecksumSize is the trailing checksum carried by every data
	// page; the remaining pageSize-pageChecksumSize bytes are usable
	// payload.
	pageChecksumSize = 8
)

// Pager translates page numbers to file offsets and owns the two
// well-known meta-page slots at the start of the file.
type Pager struct {
	file      env.File
	pageSize  int
	blockSize int
	ppb       int // pages per block
}

// Open opens (creating if necessary) the database file and wraps it in a
// Pager using the given page and block sizes.
func Open(e env.Env, path string, pageSize, blockSize int) (*Pager, error) {
	if pageSize <= pageChecksumSize || blockSize%pageSize != 0 {
		return nil, lsmerr.New(lsmerr.Misuse, "pager.Open", fmt.Errorf("bad page/block size %d/%d", pageSize, blockSize))
	}
	f, err := e.OpenFile(path, true)
	if err != nil {
		return nil, lsmerr.New(lsmerr.CantOpen, "pager.Open", err)
	}
	sz, err := f.Size()
	if err != nil {
		return nil, lsmerr.New(lsmerr.IOErr, "pager.Open", err)
	}
	if sz < metaRegionSize {
		if err := f.Truncate(metaRegionSize); err != nil {
			return nil, lsmerr.New(lsmerr.IOErr, "pager.Open", err)
		}
	}
	return &Pager{file: f, pageSize: pageSize, blockSize: blockSize, ppb: blockSize / pageSize}, nil
}

func (p *Pager) PageSize() int      { return p.pageSize }
func (p *Pager) BlockSize() int     { return p.blockSize }
func (p *Pager) PagesPerBlock() int { return p.ppb }
func (p *Pager) Close() error       { return p.file.Close() }

func (p *Pager) offset(pageNo uint64) int64 {
	return metaRegionSize + int64(pageNo-1)*int64(p.pageSize)
}

// ReadPage reads the payload of page n, verifying its trailing checksum.
func (p *Pager) ReadPage(n uint64) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, p.offset(n)); err != nil {
		return nil, lsmerr.New(lsmerr.IOErr, "pager.ReadPage", err)
	}
	payload := buf[:p.pageSize-pageChecksumSize]
	want := xsum.Decode(buf[p.pageSize-pageChecksumSize:])
	got := xsum.Update(xsum.Zero, payload)
	if got != want {
		return nil, lsmerr.New(lsmerr.Corrupt, "pager.ReadPage", fmt.Errorf("checksum mismatch on page %d", n))
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// WritePage writes payload (at most PageSize()-8 bytes) to page n along
// with its trailing checksum.
func (p *Pager) WritePage(n uint64, payload []byte) error {
	if len(payload) > p.pageSize-pageChecksumSize {
		return lsmerr.New(lsmerr.Misuse, "pager.WritePage", fmt.Errorf("payload %d exceeds usable page size", len(payload)))
	}
	buf := make([]byte, p.pageSize)
	copy(buf, payload)
	sum := xsum.Update(xsum.Zero, buf[:p.pageSize-pageChecksumSize]).Encode()
	copy(buf[p.pageSize-pageChecksumSize:], sum[:])
	if _, err := p.file.WriteAt(buf, p.offset(n)); err != nil {
		return lsmerr.New(lsmerr.IOErr, "pager.WritePage", err)
	}
	return nil
}

// MetaPage reads one of the two fixed 4 KiB meta-page slots raw (the
// checkpoint codec owns its own internal checksum, so the pager does not
// impose one here).
func (p *Pager) MetaPage(slot int) ([]byte, error) {
	if slot != 1 && slot != 2 {
		return nil, lsmerr.New(lsmerr.Misuse, "pager.MetaPage", fmt.Errorf("bad slot %d", slot))
	}
	buf := make([]byte, MetaPageSize)
	off := int64(slot-1) * MetaPageSize
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, lsmerr.New(lsmerr.IOErr, "pager.MetaPage", err)
	}
	return buf, nil
}

// WriteMetaPage writes blob (padded/truncated to MetaPageSize) into slot.
func (p *Pager) WriteMetaPage(slot int, blob []byte) error {
	if slot != 1 && slot != 2 {
		return lsmerr.New(lsmerr.Misuse, "pager.WriteMetaPage", fmt.Errorf("bad slot %d", slot))
	}
	if len(blob) > MetaPageSize {
		return lsmerr.New(lsmerr.Misuse, "pager.WriteMetaPage", fmt.Errorf("blob too large: %d", len(blob)))
	}
	buf := make([]byte, MetaPageSize)
	copy(buf, blob)
	off := int64(slot-1) * MetaPageSize
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return lsmerr.New(lsmerr.IOErr, "pager.WriteMetaPage", err)
	}
	return nil
}

// Sync is the durability barrier used before swapping meta pages.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return lsmerr.New(lsmerr.IOErr, "pager.Sync", err)
	}
	return nil
}

// GrowBlock extends the file by one block and returns its 1-based block
// number, given the current total block count.
func (p *Pager) GrowBlock(curTotalBlocks uint64) (uint64, error) {
	newTotal := curTotalBlocks + 1
	size := metaRegionSize + int64(newTotal)*int64(p.blockSize)
	if err := p.file.Truncate(size); err != nil {
		return 0, lsmerr.New(lsmerr.Full, "pager.GrowBlock", err)
	}
	return newTotal, nil
}

// FirstPageOfBlock returns the 1-based page number of the first page in
// block b.
func (p *Pager) FirstPageOfBlock(b uint64) uint64 {
	return (b-1)*uint64(p.ppb) + 1
}

// BlockOfPage returns the 1-based block number containing page n.
func (p *Pager) BlockOfPage(n uint64) uint64 {
	return (n-1)/uint64(p.ppb) + 1
}
