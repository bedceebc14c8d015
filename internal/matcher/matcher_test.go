package matcher

import (
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mchaput/tessera/internal/postings"
	"github.com/mchaput/tessera/internal/segment"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// doc is one posting of a fixture list: local id plus term positions.
type doc struct {
	id  uint32
	pos []uint32
}

func encodeList(t *testing.T, docs []doc) *postings.Iterator {
	t.Helper()
	enc := postings.NewEncoder(8, true, false)
	for _, d := range docs {
		pos := d.pos
		if pos == nil {
			pos = []uint32{0}
		}
		err := enc.Add(postings.Posting{DocID: d.id, Freq: uint32(len(pos)), Positions: pos})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	it, err := postings.NewIterator(enc.Finish())
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	return it
}

func newTerm(t *testing.T, docs []doc) *Term {
	t.Helper()
	return newTermLists(t, []segment.SubList{{It: encodeList(t, docs)}})
}

func newTermLists(t *testing.T, lists []segment.SubList) *Term {
	t.Helper()
	tm, err := NewTerm(lists, nil)
	if err != nil {
		t.Fatalf("NewTerm: %v", err)
	}
	return tm
}

func docs(ids ...uint32) []doc {
	out := make([]doc, len(ids))
	for i, id := range ids {
		out[i] = doc{id: id}
	}
	return out
}

func collect(t *testing.T, m Matcher) []uint32 {
	t.Helper()
	var out []uint32
	for m.IsActive() {
		out = append(out, m.DocID())
		if err := m.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return out
}

func equalIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTermAcrossSegments(t *testing.T) {
	del := roaring.New()
	del.Add(1)
	lists := []segment.SubList{
		{It: encodeList(t, docs(0, 1, 3)), Base: 0, Deleted: del},
		{It: encodeList(t, docs(0, 2)), Base: 10},
	}
	got := collect(t, newTermLists(t, lists))
	// Local 1 of the first segment is deleted; the second segment's locals
	// shift by its base.
	if want := []uint32{0, 3, 10, 12}; !equalIDs(got, want) {
		t.Fatalf("term docs = %v, want %v", got, want)
	}
}

func TestTermSkipToJumpsLists(t *testing.T) {
	lists := []segment.SubList{
		{It: encodeList(t, docs(0, 1, 2)), Base: 0},
		{It: encodeList(t, docs(5, 7)), Base: 100},
	}
	tm := newTermLists(t, lists)
	if err := tm.SkipTo(106); err != nil {
		t.Fatalf("SkipTo: %v", err)
	}
	if !tm.IsActive() || tm.DocID() != 107 {
		t.Fatalf("after SkipTo(106): active=%v doc=%d", tm.IsActive(), tm.DocID())
	}
	// Targets at or below the current doc are no-ops.
	if err := tm.SkipTo(50); err != nil {
		t.Fatalf("SkipTo back: %v", err)
	}
	if tm.DocID() != 107 {
		t.Fatalf("SkipTo regressed to %d", tm.DocID())
	}
}

func TestAndIntersection(t *testing.T) {
	a := newTerm(t, docs(1, 3, 5, 7, 9))
	b := newTerm(t, docs(2, 3, 7, 8))
	and, err := NewAnd(a, b)
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}
	if got := collect(t, and); !equalIDs(got, []uint32{3, 7}) {
		t.Fatalf("and docs = %v, want [3 7]", got)
	}
}

func TestOrUnionAndScores(t *testing.T) {
	a := newTerm(t, []doc{{id: 1, pos: []uint32{0, 5}}, {id: 4}})
	b := newTerm(t, docs(1, 2))
	or, err := NewOr(a, b)
	if err != nil {
		t.Fatalf("NewOr: %v", err)
	}
	if !or.IsActive() || or.DocID() != 1 {
		t.Fatalf("or at %d active=%v", or.DocID(), or.IsActive())
	}
	// Doc 1 matches both children: freq 2 from a, freq 1 from b.
	if s := or.Score(); s != 3 {
		t.Fatalf("score at doc 1 = %v, want 3", s)
	}
	if got := collect(t, or); !equalIDs(got, []uint32{1, 2, 4}) {
		t.Fatalf("or docs = %v, want [1 2 4]", got)
	}
}

func TestAndNotDifference(t *testing.T) {
	pos := newTerm(t, docs(1, 2, 3, 4, 5))
	neg := newTerm(t, docs(2, 4, 9))
	an, err := NewAndNot(pos, neg)
	if err != nil {
		t.Fatalf("NewAndNot: %v", err)
	}
	if got := collect(t, an); !equalIDs(got, []uint32{1, 3, 5}) {
		t.Fatalf("andnot docs = %v, want [1 3 5]", got)
	}
}

func TestNotComplement(t *testing.T) {
	neg := newTerm(t, docs(0, 2, 3))
	not, err := NewNot(neg, 6)
	if err != nil {
		t.Fatalf("NewNot: %v", err)
	}
	if got := collect(t, not); !equalIDs(got, []uint32{1, 4, 5}) {
		t.Fatalf("not docs = %v, want [1 4 5]", got)
	}
}

func TestSkipToMonotone(t *testing.T) {
	a := newTerm(t, docs(1, 3, 5, 7, 9, 11, 13))
	b := newTerm(t, docs(3, 5, 9, 13))
	and, err := NewAnd(a, b)
	if err != nil {
		t.Fatalf("NewAnd: %v", err)
	}
	targets := []uint32{0, 4, 4, 2, 10, 8, 13}
	last := and.DocID()
	for _, target := range targets {
		if err := and.SkipTo(target); err != nil {
			t.Fatalf("SkipTo(%d): %v", target, err)
		}
		if !and.IsActive() {
			t.Fatalf("SkipTo(%d) exhausted", target)
		}
		if and.DocID() < last {
			t.Fatalf("SkipTo(%d) regressed %d -> %d", target, last, and.DocID())
		}
		last = and.DocID()
	}
	if last != 13 {
		t.Fatalf("final doc = %d, want 13", last)
	}
}

func TestExhaustionIsTerminal(t *testing.T) {
	tm := newTerm(t, docs(1, 2))
	for tm.IsActive() {
		if err := tm.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if err := tm.Next(); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("Next after exhaustion = %v, want ErrInvalidState", err)
	}
	if err := tm.SkipTo(99); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("SkipTo after exhaustion = %v, want ErrInvalidState", err)
	}
}

func TestPhraseAdjacency(t *testing.T) {
	// "red car": doc 0 has them adjacent, doc 1 reversed, doc 2 one apart.
	red := newTerm(t, []doc{
		{id: 0, pos: []uint32{2}},
		{id: 1, pos: []uint32{4}},
		{id: 2, pos: []uint32{1}},
	})
	car := newTerm(t, []doc{
		{id: 0, pos: []uint32{3}},
		{id: 1, pos: []uint32{3}},
		{id: 2, pos: []uint32{3}},
	})
	p, err := NewPhrase([]*Term{red, car}, 1)
	if err != nil {
		t.Fatalf("NewPhrase: %v", err)
	}
	if got := collect(t, p); !equalIDs(got, []uint32{0}) {
		t.Fatalf("phrase docs = %v, want [0]", got)
	}
}

func TestPhraseSlop(t *testing.T) {
	a := newTerm(t, []doc{
		{id: 0, pos: []uint32{1}},
		{id: 1, pos: []uint32{1}},
	})
	b := newTerm(t, []doc{
		{id: 0, pos: []uint32{3}},
		{id: 1, pos: []uint32{5}},
	})
	p, err := NewPhrase([]*Term{a, b}, 2)
	if err != nil {
		t.Fatalf("NewPhrase: %v", err)
	}
	// Gap of 2 is within slop 2; gap of 4 is not.
	if got := collect(t, p); !equalIDs(got, []uint32{0}) {
		t.Fatalf("phrase docs = %v, want [0]", got)
	}
}

func TestPhraseThreeTerms(t *testing.T) {
	one := newTerm(t, []doc{{id: 5, pos: []uint32{0, 7}}})
	two := newTerm(t, []doc{{id: 5, pos: []uint32{1, 4}}})
	three := newTerm(t, []doc{{id: 5, pos: []uint32{2, 9}}})
	p, err := NewPhrase([]*Term{one, two, three}, 1)
	if err != nil {
		t.Fatalf("NewPhrase: %v", err)
	}
	if got := collect(t, p); !equalIDs(got, []uint32{5}) {
		t.Fatalf("phrase docs = %v, want [5]", got)
	}
}

func TestComposedTree(t *testing.T) {
	// (a OR b) AND NOT c over a shared doc space.
	a := newTerm(t, docs(1, 4, 6))
	b := newTerm(t, docs(2, 4, 8))
	c := newTerm(t, docs(4, 8))
	or, err := NewOr(a, b)
	if err != nil {
		t.Fatalf("NewOr: %v", err)
	}
	tree, err := NewAndNot(or, c)
	if err != nil {
		t.Fatalf("NewAndNot: %v", err)
	}
	if got := collect(t, tree); !equalIDs(got, []uint32{1, 2, 6}) {
		t.Fatalf("tree docs = %v, want [1 2 6]", got)
	}
}
