package sortpool

import (
	"container/heap"
	"io"
	"os"

	"github.com/mchaput/tessera/internal/fileio"
)

// cursor yields tuples in sorted order from one source (a run file or the
// in-memory remainder).
type cursor interface {
	next() (Tuple, bool, error)
	close() error
}

type memCursor struct {
	tuples []Tuple
	i      int
}

func (c *memCursor) next() (Tuple, bool, error) {
	if c.i >= len(c.tuples) {
		return Tuple{}, false, nil
	}
	t := c.tuples[c.i]
	c.i++
	return t, true, nil
}

func (c *memCursor) close() error { return nil }

type runCursor struct {
	s *fileio.StreamReader
}

func openRunCursor(path string) (*runCursor, error) {
	s, err := fileio.OpenStream(path)
	if err != nil {
		return nil, err
	}
	if err := s.CheckHeader(fileio.KindRun); err != nil {
		s.Close()
		return nil, err
	}
	return &runCursor{s: s}, nil
}

func (c *runCursor) next() (Tuple, bool, error) {
	payload, err := c.s.Record()
	if err == io.EOF {
		return Tuple{}, false, nil
	}
	if err != nil {
		return Tuple{}, false, err
	}
	t, err := decodeTuple(payload)
	if err != nil {
		return Tuple{}, false, err
	}
	return t, true, nil
}

func (c *runCursor) close() error { return c.s.Close() }

// Stream is the k-way merge of several cursors: tuples come out in
// (key, doc id) order, ties broken by ascending doc id.
type Stream struct {
	h    mergeHeap
	cs   []cursor
	runs []string
	err  error
}

func newStream(cs []cursor, runs []string) *Stream {
	s := &Stream{cs: cs, runs: runs}
	for _, c := range cs {
		t, ok, err := c.next()
		if err != nil {
			s.err = err
			continue
		}
		if ok {
			s.h = append(s.h, mergeItem{t: t, c: c})
		}
	}
	heap.Init(&s.h)
	return s
}

// Next returns the next tuple in sorted order; ok is false at the end of
// the stream.
func (s *Stream) Next() (Tuple, bool, error) {
	if s.err != nil {
		return Tuple{}, false, s.err
	}
	if s.h.Len() == 0 {
		return Tuple{}, false, nil
	}
	item := s.h[0]
	t, ok, err := item.c.next()
	if err != nil {
		s.err = err
		return Tuple{}, false, err
	}
	if ok {
		s.h[0] = mergeItem{t: t, c: item.c}
		heap.Fix(&s.h, 0)
	} else {
		heap.Pop(&s.h)
	}
	return item.t, true, nil
}

// Close closes every cursor and removes the run files, on both success and
// abort paths.
func (s *Stream) Close() error {
	var first error
	for _, c := range s.cs {
		if err := c.close(); err != nil && first == nil {
			first = err
		}
	}
	for _, path := range s.runs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

type mergeItem struct {
	t Tuple
	c cursor
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool { return h[i].t.Less(h[j].t) }

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(mergeItem))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
