package postings

import (
	"testing"
)

func encodeDocs(t *testing.T, blockSize int, docs []uint32) []byte {
	t.Helper()
	enc := NewEncoder(blockSize, false, false)
	for _, d := range docs {
		if err := enc.Add(Posting{DocID: d, Freq: 1}); err != nil {
			t.Fatalf("Add(%d): %v", d, err)
		}
	}
	return enc.Finish()
}

func TestIterateAll(t *testing.T) {
	docs := []uint32{0, 3, 7, 8, 100, 101, 5000}
	data := encodeDocs(t, 4, docs)

	it, err := NewIterator(data)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var got []uint32
	for it.Next() {
		got = append(got, it.DocID())
		if it.Freq() != 1 {
			t.Fatalf("Freq(%d) = %d, want 1", it.DocID(), it.Freq())
		}
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
	if len(got) != len(docs) {
		t.Fatalf("decoded %v, want %v", got, docs)
	}
	for i := range docs {
		if got[i] != docs[i] {
			t.Fatalf("decoded %v, want %v", got, docs)
		}
	}
}

func TestStrictlyIncreasingInvariant(t *testing.T) {
	enc := NewEncoder(4, false, false)
	if err := enc.Add(Posting{DocID: 5, Freq: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := enc.Add(Posting{DocID: 5, Freq: 1}); err == nil {
		t.Fatal("duplicate doc id accepted")
	}
	if err := enc.Add(Posting{DocID: 4, Freq: 1}); err == nil {
		t.Fatal("regressing doc id accepted")
	}
}

func TestSkipToBlockSkipping(t *testing.T) {
	// 1000 postings in blocks of 8: skipping far ahead must not decode
	// intermediate blocks (observable only as correctness here).
	docs := make([]uint32, 1000)
	for i := range docs {
		docs[i] = uint32(i * 3)
	}
	data := encodeDocs(t, 8, docs)

	it, err := NewIterator(data)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	if !it.SkipTo(1500) {
		t.Fatal("SkipTo(1500) exhausted")
	}
	if it.DocID() != 1500 {
		t.Fatalf("SkipTo(1500) landed on %d", it.DocID())
	}
	// Target between postings lands on the next one.
	if !it.SkipTo(1501) || it.DocID() != 1503 {
		t.Fatalf("SkipTo(1501) landed on %d, want 1503", it.DocID())
	}
	// Never regresses.
	if !it.SkipTo(10) || it.DocID() != 1503 {
		t.Fatalf("SkipTo(10) moved to %d, want to stay at 1503", it.DocID())
	}
	// Past the end exhausts.
	if it.SkipTo(uint32(999*3) + 1) {
		t.Fatalf("SkipTo past end still active at %d", it.DocID())
	}
	if it.Err() != nil {
		t.Fatalf("iterator error: %v", it.Err())
	}
}

func TestSkipToFromStart(t *testing.T) {
	docs := []uint32{2, 4, 9, 12}
	it, err := NewIterator(encodeDocs(t, 2, docs))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	if !it.SkipTo(0) || it.DocID() != 2 {
		t.Fatalf("SkipTo(0) landed on %d, want 2", it.DocID())
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	enc := NewEncoder(2, true, false)
	want := []Posting{
		{DocID: 1, Freq: 3, Positions: []uint32{0, 4, 9}},
		{DocID: 2, Freq: 1, Positions: []uint32{7}},
		{DocID: 9, Freq: 2, Positions: []uint32{1, 2}},
	}
	for _, p := range want {
		if err := enc.Add(p); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	it, err := NewIterator(enc.Finish())
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	for _, w := range want {
		if !it.Next() {
			t.Fatalf("exhausted before doc %d", w.DocID)
		}
		if it.DocID() != w.DocID || it.Freq() != w.Freq {
			t.Fatalf("doc %d freq %d, want %d/%d", it.DocID(), it.Freq(), w.DocID, w.Freq)
		}
		ps := it.Positions()
		if len(ps) != len(w.Positions) {
			t.Fatalf("doc %d positions %v, want %v", w.DocID, ps, w.Positions)
		}
		for i := range ps {
			if ps[i] != w.Positions[i] {
				t.Fatalf("doc %d positions %v, want %v", w.DocID, ps, w.Positions)
			}
		}
	}
	if it.Next() {
		t.Fatal("iterator past final posting")
	}
}

func TestRestartable(t *testing.T) {
	docs := []uint32{1, 5, 6}
	data := encodeDocs(t, 2, docs)

	for pass := 0; pass < 2; pass++ {
		it, err := NewIterator(data)
		if err != nil {
			t.Fatalf("NewIterator pass %d: %v", pass, err)
		}
		n := 0
		for it.Next() {
			if it.DocID() != docs[n] {
				t.Fatalf("pass %d: doc %d, want %d", pass, it.DocID(), docs[n])
			}
			n++
		}
		if n != len(docs) {
			t.Fatalf("pass %d decoded %d postings", pass, n)
		}
	}
}
