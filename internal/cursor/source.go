package cursor

import (
	"github.com/nainya/lsmtree/internal/memtree"
	"github.com/nainya/lsmtree/internal/segment"
)

// source is the uniform positioning/reading interface a merged Cursor
// drives every input through, whether it is the live in-memory tree or
// an on-disk segment.
type source interface {
	First() error
	Last() error
	SeekGE(key []byte) error
	SeekLE(key []byte) error
	Valid() bool
	Key() []byte
	Value() []byte
	Tombstone() bool
	Next() error
	Prev() error
}

type memSource struct {
	tree *memtree.Tree
	it   *memtree.Iterator
}

func newMemSource(t *memtree.Tree) *memSource {
	return &memSource{tree: t, it: t.NewIterator()}
}

func (m *memSource) First() error             { m.it.First(m.tree); return nil }
func (m *memSource) Last() error              { m.it.Last(m.tree); return nil }
func (m *memSource) SeekGE(key []byte) error  { m.it.SeekGE(m.tree, key); return nil }
func (m *memSource) SeekLE(key []byte) error  { m.it.SeekLE(m.tree, key); return nil }
func (m *memSource) Valid() bool              { return m.it.Valid() }
func (m *memSource) Key() []byte              { return m.it.Key() }
func (m *memSource) Value() []byte            { return m.it.Record().Value }
func (m *memSource) Tombstone() bool          { return m.it.Record().Tombstone }
func (m *memSource) Next() error              { m.it.Next(); return nil }
func (m *memSource) Prev() error              { m.it.Prev(); return nil }

type segSource struct {
	c *segment.Cursor
}

func newSegSource(c *segment.Cursor) *segSource { return &segSource{c: c} }

func (s *segSource) First() error             { return s.c.First() }
func (s *segSource) Last() error              { return s.c.Last() }
func (s *segSource) SeekGE(key []byte) error  { return s.c.Seek(key, segment.GE) }
func (s *segSource) SeekLE(key []byte) error  { return s.c.Seek(key, segment.LE) }
func (s *segSource) Valid() bool              { return s.c.Valid() }
func (s *segSource) Key() []byte              { return s.c.Key() }
func (s *segSource) Value() []byte            { return s.c.Value() }
func (s *segSource) Tombstone() bool          { return s.c.Tombstone() }
func (s *segSource) Next() error              { return s.c.Next() }
func (s *segSource) Prev() error              { return s.c.Prev() }
