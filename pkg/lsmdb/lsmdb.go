// Package lsmdb is the public façade over the engine: open/close,
// nested transactions, point writes, snapshot-pinned cursors, and the
// work(flags, nPage) call that drives the background worker. It binds
// internal/pager, internal/walog, internal/memtree, internal/cursor,
// internal/txn, internal/checkpoint and internal/worker into the
// single handle spec.md §6 describes.
package lsmdb

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/lsmtree/internal/checkpoint"
	"github.com/nainya/lsmtree/internal/cursor"
	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/internal/logger"
	"github.com/nainya/lsmtree/internal/lsmerr"
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/metrics"
	"github.com/nainya/lsmtree/internal/pager"
	"github.com/nainya/lsmtree/internal/snapshot"
	"github.com/nainya/lsmtree/internal/txn"
	"github.com/nainya/lsmtree/internal/walog"
	"github.com/nainya/lsmtree/internal/worker"
)

// SeekMode selects the relation a cursor Seek call positions on.
type SeekMode int

const (
	EQ SeekMode = 0
	GE SeekMode = 1
	LE SeekMode = -1
)

// Flag is the work(db, flags, nPage) bitmask.
type Flag = worker.Flag

const (
	FlagFlush      = worker.Flush
	FlagCheckpoint = worker.Checkpoint
	FlagMerge      = worker.Merge
	FlagOptimize   = worker.Optimize
)

// Config is the typed configuration surface backing the
// config(db, key, value) call of spec.md §6.
type Config struct {
	WriteBuffer          int // bytes; drives autowork's flush trigger
	PageSize             int
	BlockSize            int
	SegmentRatio         int
	Safety               walog.Safety
	Autowork             bool
	LogSize              int
	MergeReadConcurrency int
	Logger               *logger.Logger
	Metrics              *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.BlockSize == 0 {
		c.BlockSize = 256 * 1024
	}
	if c.SegmentRatio < 2 {
		c.SegmentRatio = 4
	}
	if c.WriteBuffer == 0 {
		c.WriteBuffer = 4 << 20
	}
	if c.MergeReadConcurrency == 0 {
		c.MergeReadConcurrency = 2
	}
}

// configSetters dispatches the stringly-typed config(db, key, value)
// call onto Config's typed fields, the Go analogue of lsm_config's C
// varargs switch (original_source/src/lsm.h).
var configSetters = map[string]func(*Config, any) error{
	"write_buffer": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.WriteBuffer = n
		return nil
	},
	"page_size": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.PageSize = n
		return nil
	},
	"block_size": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.BlockSize = n
		return nil
	},
	"segment_ratio": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.SegmentRatio = n
		return nil
	},
	"autowork": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.Autowork = n != 0
		return nil
	},
	"log_size": func(c *Config, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		c.LogSize = n
		return nil
	},
	"safety": func(c *Config, v any) error {
		s, ok := v.(string)
		if !ok {
			return lsmerr.New(lsmerr.Misuse, "lsmdb.Config", nil)
		}
		switch s {
		case "off":
			c.Safety = walog.SafetyOff
		case "normal":
			c.Safety = walog.SafetyNormal
		case "full":
			c.Safety = walog.SafetyFull
		default:
			return lsmerr.New(lsmerr.Misuse, "lsmdb.Config", nil)
		}
		return nil
	},
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, lsmerr.New(lsmerr.Misuse, "lsmdb.Config", nil)
	}
}

// ConfigSet applies one runtime configuration key, matching
// config(db, key, value).
func (db *DB) ConfigSet(key string, value any) error {
	setter, ok := configSetters[key]
	if !ok {
		return lsmerr.New(lsmerr.Misuse, "lsmdb.ConfigSet", nil)
	}
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return setter(&db.cfg, value)
}

// DB is an open database handle.
type DB struct {
	env     env.Env
	pg      *pager.Pager
	wal     *walog.Writer
	tree    *memtree.Tree
	txns    *txn.Manager
	work    *worker.Worker
	cfg     Config
	log     *logger.Logger
	met     *metrics.Metrics
	walPath string

	// writerMu serializes Begin/Commit/Rollback/Write/Delete and is
	// also held for the duration of a Work call, so FLUSH's "client
	// writer is quiescent" precondition (spec.md §4.6) always holds —
	// a simplification of the more fine-grained three-lock model of
	// spec.md §5, recorded in DESIGN.md.
	writerMu sync.Mutex

	readers       sync.Map // cursor id -> struct{}
	readersActive atomic.Int64
	nextReaderID  atomic.Int64
}

// Open creates or opens the database file at path (plus its
// "<path>.wal" write-ahead log) and recovers to the most recent
// consistent state.
func Open(e env.Env, path string, cfg Config) (*DB, error) {
	start := time.Now()
	cfg.setDefaults()

	pg, err := pager.Open(e, path, cfg.PageSize, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	header, err := readBestMeta(pg)
	if err != nil {
		pg.Close()
		return nil, err
	}

	tree := memtree.New()
	var replayed uint64
	apply := func(key, val []byte, tomb bool) {
		replayed++
		if tomb {
			tree.Delete(key)
		} else {
			tree.Insert(key, val)
		}
	}

	walPath := path + ".wal"
	fromPtr := walog.Pointer{}
	if header != nil {
		fromPtr = walog.Pointer{Offset: header.Snapshot.LogPtr.Offset, Seed: header.Snapshot.LogPtr.Checksum}
	}
	resumeAt, err := walog.Recover(e, walPath, fromPtr, apply)
	if err != nil {
		pg.Close()
		return nil, err
	}

	var snap *snapshot.Snapshot
	if header == nil {
		snap = &snapshot.Snapshot{PageSize: cfg.PageSize, BlockSize: cfg.BlockSize}
	} else {
		get := func(key []byte) ([]byte, bool, error) {
			view := tree.At(tree.Mark())
			c := cursor.Open(view, pg, header.Snapshot.Levels)
			if err := c.SeekGE(key); err != nil {
				return nil, false, err
			}
			if !c.Valid() || !bytes.Equal(c.Key(), key) {
				return nil, false, nil
			}
			return c.Value(), true, nil
		}
		resolved, err := checkpoint.ResolveOverflow(header, get)
		if err != nil {
			pg.Close()
			return nil, err
		}
		snap = resolved
	}

	wal, err := walog.Open(e, walPath, resumeAt, cfg.Safety)
	if err != nil {
		pg.Close()
		return nil, err
	}

	w := worker.New(pg, wal, tree, snap, worker.Config{
		SegmentRatio:         cfg.SegmentRatio,
		MergeReadConcurrency: cfg.MergeReadConcurrency,
		Safety:               cfg.Safety,
	}, cfg.Logger, cfg.Metrics)

	db := &DB{
		env:     e,
		pg:      pg,
		wal:     wal,
		tree:    tree,
		txns:    txn.New(wal, tree, cfg.Safety),
		work:    w,
		cfg:     cfg,
		log:     cfg.Logger,
		met:     cfg.Metrics,
		walPath: walPath,
	}

	if db.log != nil {
		db.log.LogRecovery(snap.CheckpointID, replayed, time.Since(start), nil)
	}
	return db, nil
}

func readBestMeta(pg *pager.Pager) (*checkpoint.Header, error) {
	var best *checkpoint.Header
	for _, slot := range []int{1, 2} {
		blob, err := pg.MetaPage(slot)
		if err != nil {
			return nil, err
		}
		h, err := checkpoint.DecodeHeader(blob)
		if err != nil {
			continue
		}
		if best == nil || h.Snapshot.CheckpointID > best.Snapshot.CheckpointID {
			best = h
		}
	}
	return best, nil
}

// Close releases the database's resources. It does not flush the
// in-memory tree; call Work(FlagFlush|FlagCheckpoint, ...) first if
// the caller wants an empty WAL to replay on next Open.
func (db *DB) Close() error {
	if err := db.wal.Close(); err != nil {
		return err
	}
	return db.pg.Close()
}

// Begin opens nested transaction levels up to level.
func (db *DB) Begin(level int) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	db.txns.Begin(level)
	db.updateTxnDepthMetric()
}

// Commit collapses the transaction stack to level, durably if level
// is 0, and runs autowork's flush trigger on a level-0 commit.
func (db *DB) Commit(level int) error {
	start := time.Now()
	db.writerMu.Lock()
	err := db.txns.Commit(level)
	db.updateTxnDepthMetric()
	db.writerMu.Unlock()

	if db.log != nil {
		db.log.LogDbOperation("commit", time.Since(start), err)
	}
	if err == nil && level == 0 && db.cfg.Autowork && db.tree.Len()*64 > db.cfg.WriteBuffer {
		_, werr := db.Work(FlagFlush, 0)
		if werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// Rollback discards every write made since level was opened.
func (db *DB) Rollback(level int) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	defer db.updateTxnDepthMetric()
	return db.txns.Rollback(level)
}

// Write records a point write within the currently open transaction.
func (db *DB) Write(key, val []byte) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	err := db.txns.Write(key, val)
	if err == nil && db.met != nil {
		db.met.WALAppendsTotal.Inc()
		db.met.WALBytesTotal.Add(float64(len(key) + len(val)))
	}
	return err
}

// Delete records a tombstone within the currently open transaction.
func (db *DB) Delete(key []byte) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	err := db.txns.Delete(key)
	if err == nil && db.met != nil {
		db.met.WALAppendsTotal.Inc()
		db.met.WALBytesTotal.Add(float64(len(key)))
	}
	return err
}

// Work requests FLUSH/MERGE/CHECKPOINT/OPTIMIZE work and returns the
// total number of pages written. It holds the writer lock for its
// entire duration (see writerMu's doc comment).
func (db *DB) Work(flags Flag, nPage int) (int, error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.work.Work(flags, nPage)
}

func (db *DB) updateTxnDepthMetric() {
	if db.met != nil {
		db.met.TxnDepth.Set(float64(db.txns.Depth()))
	}
}

// Stats reports a point-in-time snapshot of engine-level counters for
// the administrative surface (internal/server.AdminServer.Stats).
func (db *DB) Stats() map[string]any {
	live := db.work.Live()
	return map[string]any{
		"checkpoint_id":  int64(live.CheckpointID),
		"total_blocks":   int64(live.TotalBlocks),
		"free_blocks":    int64(len(live.Free.Blocks)),
		"level_count":    int64(len(live.Levels)),
		"txn_depth":      int64(db.txns.Depth()),
		"readers_active": db.readersActive.Load(),
		"memtree_len":    int64(db.tree.Len()),
	}
}

// Cursor is a snapshot-pinned iterator: writes and worker-driven
// flush/merge/checkpoint steps that happen after Open never become
// visible through it.
type Cursor struct {
	db *DB
	id int64
	c  *cursor.Cursor
}

// CursorOpen pins a new Cursor to the database's current state.
func (db *DB) CursorOpen() *Cursor {
	view := db.tree.At(db.tree.Mark())
	live := db.work.Live()
	cur := &Cursor{
		db: db,
		id: db.nextReaderID.Add(1),
		c:  cursor.Open(view, db.pg, live.Levels),
	}
	db.readers.Store(cur.id, struct{}{})
	n := db.readersActive.Add(1)
	if db.met != nil {
		db.met.ReadersActive.Set(float64(n))
	}
	return cur
}

// CursorClose releases a Cursor's registration. It is safe to call
// more than once.
func (c *Cursor) CursorClose() {
	if _, ok := c.db.readers.LoadAndDelete(c.id); ok {
		n := c.db.readersActive.Add(-1)
		if c.db.met != nil {
			c.db.met.ReadersActive.Set(float64(n))
		}
	}
}

// Seek positions the cursor relative to key per mode.
func (c *Cursor) Seek(key []byte, mode SeekMode) error {
	switch mode {
	case EQ:
		if err := c.c.SeekGE(key); err != nil {
			return err
		}
		if !c.c.Valid() || !bytes.Equal(c.c.Key(), key) {
			return lsmerr.New(lsmerr.NotFound, "lsmdb.Cursor.Seek", nil)
		}
		return nil
	case GE:
		return c.c.SeekGE(key)
	case LE:
		return c.c.SeekLE(key)
	default:
		return lsmerr.New(lsmerr.Misuse, "lsmdb.Cursor.Seek", nil)
	}
}

// First positions on the smallest key.
func (c *Cursor) First() error { return c.c.First() }

// Last positions on the largest key.
func (c *Cursor) Last() error { return c.c.Last() }

// Next advances to the next key in ascending order.
func (c *Cursor) Next() error { return c.c.Next() }

// Prev retreats to the previous key in descending order.
func (c *Cursor) Prev() error { return c.c.Prev() }

// Valid reports whether the cursor is positioned on a record.
func (c *Cursor) Valid() bool { return c.c.Valid() }

// Key returns the current key.
func (c *Cursor) Key() []byte { return c.c.Key() }

// Value returns the current value.
func (c *Cursor) Value() []byte { return c.c.Value() }
