package matcher

import (
	"github.com/mchaput/tessera/internal/segment"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Term is the leaf matcher: one term's postings across every segment that
// contains it, walked in global doc-id order with deleted documents
// skipped. The sub-lists occupy disjoint ascending id ranges, so the walk
// is plain concatenation.
type Term struct {
	lists []segment.SubList
	li    int

	cur       uint32
	freq      uint32
	positions []uint32
	active    bool

	w Weight
}

// NewTerm builds the leaf and positions it on its first live match.
func NewTerm(lists []segment.SubList, w Weight) (*Term, error) {
	if w == nil {
		w = TFWeight
	}
	t := &Term{lists: lists, w: w, active: true}
	if err := t.advance(); err != nil {
		return nil, err
	}
	return t, nil
}

// advance walks forward from the current list position to the next live
// posting, falling through exhausted lists.
func (t *Term) advance() error {
	for t.li < len(t.lists) {
		l := t.lists[t.li]
		for l.It.Next() {
			local := l.It.DocID()
			if l.Deleted != nil && l.Deleted.Contains(local) {
				continue
			}
			t.setCurrent(l, local)
			return nil
		}
		if err := l.It.Err(); err != nil {
			t.active = false
			return err
		}
		t.li++
	}
	t.active = false
	return nil
}

func (t *Term) setCurrent(l segment.SubList, local uint32) {
	t.cur = l.Base + local
	t.freq = l.It.Freq()
	t.positions = l.It.Positions()
}

// DocID returns the current global doc id.
func (t *Term) DocID() uint32 { return t.cur }

// IsActive reports whether the matcher has a current match.
func (t *Term) IsActive() bool { return t.active }

// Freq returns the term frequency at the current doc.
func (t *Term) Freq() uint32 { return t.freq }

// Positions returns the term's positions at the current doc, for phrase
// evaluation. Empty when the field was indexed without positions.
func (t *Term) Positions() []uint32 { return t.positions }

// Score returns the current match's weight.
func (t *Term) Score() float64 {
	if !t.active {
		return 0
	}
	return t.w(t.cur, t.freq)
}

// Next advances to the next live posting.
func (t *Term) Next() error {
	if !t.active {
		return apperrors.ErrInvalidState
	}
	return t.advance()
}

// SkipTo advances to the first live posting at or past target, using the
// postings iterator's block skipping within a list and the base offsets to
// jump over whole lists.
func (t *Term) SkipTo(target uint32) error {
	if !t.active {
		return apperrors.ErrInvalidState
	}
	if target <= t.cur {
		return nil
	}
	for t.li+1 < len(t.lists) && t.lists[t.li+1].Base <= target {
		t.li++
	}
	l := t.lists[t.li]
	var local uint32
	if target > l.Base {
		local = target - l.Base
	}
	if l.It.SkipTo(local) {
		got := l.It.DocID()
		if l.Deleted == nil || !l.Deleted.Contains(got) {
			t.setCurrent(l, got)
			return nil
		}
		return t.advance()
	}
	if err := l.It.Err(); err != nil {
		t.active = false
		return err
	}
	t.li++
	return t.advance()
}
