package segment

import (
	"bytes"
	"container/heap"
	"encoding/binary"

	"github.com/mchaput/tessera/internal/postings"
	"github.com/mchaput/tessera/internal/sortpool"
	"github.com/mchaput/tessera/internal/table"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// remapper assigns merged-segment doc ids: deleted documents are dropped
// and the survivors packed densely, segment after segment.
type remapper struct {
	segs      []*Reader
	liveBases []uint32
}

func newRemapper(segs []*Reader) *remapper {
	rm := &remapper{segs: segs, liveBases: make([]uint32, len(segs))}
	var base uint32
	for i, s := range segs {
		rm.liveBases[i] = base
		base += s.LiveDocCount()
	}
	return rm
}

// remap converts a live local doc id to its merged id.
func (rm *remapper) remap(seg int, local uint32) uint32 {
	deletedBefore := uint32(0)
	if d := rm.segs[seg].Deleted(); d != nil {
		// local is live, so Rank counts exactly the deleted ids below it.
		deletedBefore = uint32(d.Rank(local))
	}
	return rm.liveBases[seg] + local - deletedBefore
}

// LiveDocCount returns the merged segment's document count.
func (rm *remapper) liveTotal() uint32 {
	var n uint32
	for _, s := range rm.segs {
		n += s.LiveDocCount()
	}
	return n
}

// MergeStream replays the live postings of several segments as one
// term-sorted tuple stream, exactly the shape the segment writer consumes
// from the sort pool. Dictionaries are strictly sorted by (field, term),
// so the merge is a single pass over per-segment cursors.
type MergeStream struct {
	rm *remapper
	h  dictHeap

	curKey []byte
	curSeg int
	curIt  *postings.Iterator
}

// NewMergeStream opens the merge over the given segments, in id-space
// order. It also returns the merged segment's live doc count.
func NewMergeStream(segs []*Reader) (*MergeStream, uint32, error) {
	m := &MergeStream{rm: newRemapper(segs)}
	for i, s := range segs {
		cur := s.AllTerms()
		if err := pushDictEntry(&m.h, cur, i); err != nil {
			return nil, 0, err
		}
	}
	return m, m.rm.liveTotal(), nil
}

// Next yields the next live posting as a sort-pool tuple.
func (m *MergeStream) Next() (sortpool.Tuple, bool, error) {
	for {
		if m.curIt != nil {
			for m.curIt.Next() {
				local := m.curIt.DocID()
				if m.rm.segs[m.curSeg].IsDeleted(local) {
					continue
				}
				return sortpool.Tuple{
					Key:     m.curKey,
					DocID:   m.rm.remap(m.curSeg, local),
					Payload: EncodeOccurrence(m.curIt.Freq(), m.curIt.Positions()),
				}, true, nil
			}
			if err := m.curIt.Err(); err != nil {
				return sortpool.Tuple{}, false, err
			}
			m.curIt = nil
		}
		if m.h.Len() == 0 {
			return sortpool.Tuple{}, false, nil
		}
		item := heap.Pop(&m.h).(dictItem)
		v, err := DecodeDictValue(item.val)
		if err != nil {
			return sortpool.Tuple{}, false, err
		}
		it, err := m.rm.segs[item.seg].postingsAt(v)
		if err != nil {
			return sortpool.Tuple{}, false, err
		}
		m.curKey = item.key
		m.curSeg = item.seg
		m.curIt = it
		if err := pushDictEntry(&m.h, item.cur, item.seg); err != nil {
			return sortpool.Tuple{}, false, err
		}
	}
}

type dictItem struct {
	key []byte
	val []byte
	seg int
	cur *table.Cursor
}

func pushDictEntry(h *dictHeap, cur *table.Cursor, seg int) error {
	if !cur.Next() {
		return cur.Err()
	}
	item := dictItem{
		key: append([]byte(nil), cur.Key()...),
		val: append([]byte(nil), cur.Value()...),
		seg: seg,
		cur: cur,
	}
	heap.Push(h, item)
	return nil
}

type dictHeap struct {
	items []dictItem
}

func (h dictHeap) Len() int { return len(h.items) }

func (h dictHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.items[i].key, h.items[j].key); c != 0 {
		return c < 0
	}
	return h.items[i].seg < h.items[j].seg
}

func (h dictHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *dictHeap) Push(x interface{}) {
	h.items = append(h.items, x.(dictItem))
}

func (h *dictHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// StoredMergeStream replays the live documents' stored records in merged
// doc-id order: segment after segment, deleted documents dropped.
type StoredMergeStream struct {
	segs  []*Reader
	seg   int
	local uint32
}

// NewStoredMergeStream opens the stored-record merge.
func NewStoredMergeStream(segs []*Reader) *StoredMergeStream {
	return &StoredMergeStream{segs: segs}
}

// Next returns the next live document's stored record.
func (s *StoredMergeStream) Next() ([]byte, bool, error) {
	for s.seg < len(s.segs) {
		seg := s.segs[s.seg]
		for s.local < seg.DocCount() {
			local := s.local
			s.local++
			if seg.IsDeleted(local) {
				continue
			}
			rec, err := seg.StoredDoc(local)
			if err != nil {
				return nil, false, err
			}
			return rec, true, nil
		}
		s.seg++
		s.local = 0
	}
	return nil, false, nil
}

// CacheMergeStream merges the segments' field caches. Cache keys are
// field-major, and within one field every remapped id of an earlier
// segment precedes every id of a later one, so a heap ordered by (field,
// segment, local id) yields the merged table's exact key order.
type CacheMergeStream struct {
	rm *remapper
	h  cacheHeap
}

// NewCacheMergeStream opens the cache merge.
func NewCacheMergeStream(segs []*Reader) (*CacheMergeStream, error) {
	m := &CacheMergeStream{rm: newRemapper(segs)}
	for i, s := range segs {
		cur := s.cache.Scan(nil)
		if err := m.pushCacheEntry(cur, i); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Next yields the next cache entry as a sort-pool tuple keyed for the
// merged segment.
func (m *CacheMergeStream) Next() (sortpool.Tuple, bool, error) {
	if m.h.Len() == 0 {
		return sortpool.Tuple{}, false, nil
	}
	item := heap.Pop(&m.h).(cacheItem)
	if err := m.pushCacheEntry(item.cur, item.seg); err != nil {
		return sortpool.Tuple{}, false, err
	}
	mapped := m.rm.remap(item.seg, item.local)
	return sortpool.Tuple{
		Key:     CacheKey(string(item.field), mapped),
		DocID:   mapped,
		Payload: item.val,
	}, true, nil
}

// pushCacheEntry advances a segment's cache cursor past deleted documents
// and pushes the next live entry.
func (m *CacheMergeStream) pushCacheEntry(cur *table.Cursor, seg int) error {
	for cur.Next() {
		field, rest, err := SplitKey(cur.Key())
		if err != nil {
			return err
		}
		if len(rest) != 4 {
			return apperrors.Corruptf("cache key doc id of %d bytes", len(rest))
		}
		local := binary.BigEndian.Uint32(rest)
		if m.rm.segs[seg].IsDeleted(local) {
			continue
		}
		item := cacheItem{
			field: append([]byte(nil), field...),
			local: local,
			val:   append([]byte(nil), cur.Value()...),
			seg:   seg,
			cur:   cur,
		}
		heap.Push(&m.h, item)
		return nil
	}
	return cur.Err()
}

type cacheItem struct {
	field []byte
	local uint32
	val   []byte
	seg   int
	cur   *table.Cursor
}

type cacheHeap struct {
	items []cacheItem
}

func (h cacheHeap) Len() int { return len(h.items) }

func (h cacheHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.items[i].field, h.items[j].field); c != 0 {
		return c < 0
	}
	if h.items[i].seg != h.items[j].seg {
		return h.items[i].seg < h.items[j].seg
	}
	return h.items[i].local < h.items[j].local
}

func (h cacheHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cacheHeap) Push(x interface{}) {
	h.items = append(h.items, x.(cacheItem))
}

func (h *cacheHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
