package segment

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mchaput/tessera/internal/postings"
)

// Multi composes several segment readers into one logical reader over a
// contiguous doc-id space: global id = segment base offset + local id,
// with bases assigned by prefix sum over segment doc counts.
type Multi struct {
	segs  []*Reader
	bases []uint32
	total uint32
}

// NewMulti builds the composition in TOC order.
func NewMulti(segs []*Reader) *Multi {
	m := &Multi{segs: segs, bases: make([]uint32, len(segs))}
	for i, s := range segs {
		m.bases[i] = m.total
		m.total += s.DocCount()
	}
	return m
}

// Segments returns the underlying readers in id-space order.
func (m *Multi) Segments() []*Reader { return m.segs }

// DocCount returns the total document count including deleted documents.
func (m *Multi) DocCount() uint32 { return m.total }

// LiveDocCount returns the count of non-deleted documents.
func (m *Multi) LiveDocCount() uint32 {
	var n uint32
	for _, s := range m.segs {
		n += s.LiveDocCount()
	}
	return n
}

// SubList is one segment's contribution to a term's postings: the
// iterator, the segment's base offset, and its deletions.
type SubList struct {
	It      *postings.Iterator
	Base    uint32
	Deleted *roaring.Bitmap
}

// PostingLists fans a term lookup across segments. Because segments occupy
// disjoint contiguous id ranges, concatenating the sub-lists in segment
// order yields the globally ascending postings sequence with no k-way
// merge.
func (m *Multi) PostingLists(field, term string) ([]SubList, error) {
	var lists []SubList
	for i, s := range m.segs {
		it, ok, err := s.Postings(field, term)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lists = append(lists, SubList{It: it, Base: m.bases[i], Deleted: s.Deleted()})
	}
	return lists, nil
}

// DocFreq sums the term's document frequency across segments. Counts
// include deleted documents; like the underlying per-segment statistics,
// they are exact only after deletions are merged away.
func (m *Multi) DocFreq(field, term string) (uint32, error) {
	var df uint32
	for _, s := range m.segs {
		v, ok, err := s.DictValue(field, term)
		if err != nil {
			return 0, err
		}
		if ok {
			df += v.DocFreq
		}
	}
	return df, nil
}

// locate resolves a global doc id to its segment and local id by binary
// search over the base offsets.
func (m *Multi) locate(global uint32) (int, uint32, error) {
	if global >= m.total {
		return 0, 0, fmt.Errorf("doc %d outside composed space of %d docs", global, m.total)
	}
	i := sort.Search(len(m.bases), func(i int) bool { return m.bases[i] > global }) - 1
	return i, global - m.bases[i], nil
}

// StoredDoc returns the stored record of a global doc id.
func (m *Multi) StoredDoc(global uint32) ([]byte, error) {
	i, local, err := m.locate(global)
	if err != nil {
		return nil, err
	}
	return m.segs[i].StoredDoc(local)
}

// CachedValue returns the cached field value of a global doc id.
func (m *Multi) CachedValue(field string, global uint32) ([]byte, bool, error) {
	i, local, err := m.locate(global)
	if err != nil {
		return nil, false, err
	}
	return m.segs[i].CachedValue(field, local)
}

// IsDeleted reports whether a global doc id is deleted.
func (m *Multi) IsDeleted(global uint32) bool {
	i, local, err := m.locate(global)
	if err != nil {
		return false
	}
	return m.segs[i].IsDeleted(local)
}

// Close closes every underlying segment reader.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.segs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
