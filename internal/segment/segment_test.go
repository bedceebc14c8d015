package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mchaput/tessera/internal/sortpool"
	apperrors "github.com/mchaput/tessera/pkg/errors"
	"github.com/mchaput/tessera/pkg/logger"
	"github.com/mchaput/tessera/pkg/metrics"
)

// testDoc is one document of the fixture corpus: tokens per field plus a
// stored record and an optional cached value.
type testDoc struct {
	tokens map[string][]string
	stored string
	cached string
}

func positional(string) bool { return true }

// buildSegment indexes docs into segment id under dir and returns its doc
// count.
func buildSegment(t *testing.T, dir string, id uint64, docs []testDoc) uint32 {
	t.Helper()
	pool := sortpool.New(dir, fmt.Sprintf("test%d", id), 1<<20, logger.Discard(), metrics.New(nil))
	spill, err := NewStoredSpill(dir, fmt.Sprintf("test%d.sto.tmp", id))
	if err != nil {
		t.Fatalf("NewStoredSpill: %v", err)
	}
	cache := sortpool.New(dir, fmt.Sprintf("testc%d", id), 1<<20, logger.Discard(), metrics.New(nil))

	for docID, doc := range docs {
		for field, terms := range doc.tokens {
			occ := map[string][]uint32{}
			for pos, term := range terms {
				occ[term] = append(occ[term], uint32(pos))
			}
			for term, positions := range occ {
				err := pool.Add(sortpool.Tuple{
					Key:     TermKey(field, term),
					DocID:   uint32(docID),
					Payload: EncodeOccurrence(uint32(len(positions)), positions),
				})
				if err != nil {
					t.Fatalf("Add: %v", err)
				}
			}
		}
		if err := spill.Append([]byte(doc.stored)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if doc.cached != "" {
			err := cache.Add(sortpool.Tuple{
				Key:     CacheKey("sortkey", uint32(docID)),
				DocID:   uint32(docID),
				Payload: []byte(doc.cached),
			})
			if err != nil {
				t.Fatalf("cache Add: %v", err)
			}
		}
	}

	terms, err := pool.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	defer terms.Close()
	stored, err := spill.Stream()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stored.Close()
	cacheStream, err := cache.Finalize()
	if err != nil {
		t.Fatalf("cache Finalize: %v", err)
	}
	defer cacheStream.Close()

	w := NewWriter(dir, 4, positional, logger.Discard(), metrics.New(nil))
	info, err := w.Write(id, uint32(len(docs)), terms, stored, cacheStream)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if info.DocCount != uint32(len(docs)) {
		t.Fatalf("info.DocCount = %d, want %d", info.DocCount, len(docs))
	}
	return info.DocCount
}

func iterateDocs(t *testing.T, r *Reader, field, term string) []uint32 {
	t.Helper()
	it, ok, err := r.Postings(field, term)
	if err != nil {
		t.Fatalf("Postings(%s,%s): %v", field, term, err)
	}
	if !ok {
		return nil
	}
	var docs []uint32
	for it.Next() {
		docs = append(docs, it.DocID())
	}
	if it.Err() != nil {
		t.Fatalf("postings iteration: %v", it.Err())
	}
	return docs
}

var carDocs = []testDoc{
	{tokens: map[string][]string{"body": {"red", "car"}}, stored: "doc0: red car", cached: "red"},
	{tokens: map[string][]string{"body": {"blue", "car"}}, stored: "doc1: blue car", cached: "blue"},
	{tokens: map[string][]string{"body": {"fast", "red", "bike"}}, stored: "doc2: fast red bike", cached: "fast"},
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, 1, carDocs)

	r, err := Open(dir, 1, 3, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := iterateDocs(t, r, "body", "car"); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("car docs = %v, want [0 1]", got)
	}
	if got := iterateDocs(t, r, "body", "red"); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("red docs = %v, want [0 2]", got)
	}
	if got := iterateDocs(t, r, "body", "missing"); got != nil {
		t.Fatalf("missing term docs = %v", got)
	}

	// Stored-field fidelity: what went in comes back by doc id.
	for i, doc := range carDocs {
		rec, err := r.StoredDoc(uint32(i))
		if err != nil {
			t.Fatalf("StoredDoc(%d): %v", i, err)
		}
		if string(rec) != doc.stored {
			t.Fatalf("StoredDoc(%d) = %q, want %q", i, rec, doc.stored)
		}
	}
	if _, err := r.StoredDoc(3); err == nil {
		t.Fatal("StoredDoc past end succeeded")
	}

	for i, doc := range carDocs {
		v, ok, err := r.CachedValue("sortkey", uint32(i))
		if err != nil || !ok {
			t.Fatalf("CachedValue(%d): ok=%v err=%v", i, ok, err)
		}
		if string(v) != doc.cached {
			t.Fatalf("CachedValue(%d) = %q, want %q", i, v, doc.cached)
		}
	}

	// Dictionary statistics.
	v, ok, err := r.DictValue("body", "red")
	if err != nil || !ok {
		t.Fatalf("DictValue: ok=%v err=%v", ok, err)
	}
	if v.DocFreq != 2 || v.TotalTermFreq != 2 {
		t.Fatalf("red stats = %+v", v)
	}
}

// failingTuples errors after its first tuple, exercising the writer's
// abort path.
type failingTuples struct{ n int }

func (f *failingTuples) Next() (sortpool.Tuple, bool, error) {
	if f.n == 0 {
		f.n++
		return sortpool.Tuple{Key: TermKey("body", "car"), Payload: EncodeOccurrence(1, []uint32{0})}, true, nil
	}
	return sortpool.Tuple{}, false, errors.New("tuple stream broke")
}

func TestWriteFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 4, positional, logger.Discard(), metrics.New(nil))
	if _, err := w.Write(7, 1, &failingTuples{}, nil, nil); err == nil {
		t.Fatal("Write succeeded on a failing tuple stream")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Fatalf("leftover file %s after failed write", e.Name())
	}
}

func TestOpenMissingSegment(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, 9, 1, ""); !errors.Is(err, apperrors.ErrMissingSegment) {
		t.Fatalf("Open absent = %v, want ErrMissingSegment", err)
	}

	buildSegment(t, dir, 2, carDocs)
	// Truncate the dictionary: corrupt files are as fatal as absent ones.
	path := filepath.Join(dir, Filename(2, ExtDict))
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, 2, 3, ""); !errors.Is(err, apperrors.ErrMissingSegment) {
		t.Fatalf("Open corrupt = %v, want ErrMissingSegment", err)
	}
}

func TestDeletions(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, 1, carDocs)

	del := roaring.New()
	del.Add(0)
	delFile := DelFilename(1, 2)
	if err := WriteDeletionFile(filepath.Join(dir, delFile), del); err != nil {
		t.Fatalf("WriteDeletionFile: %v", err)
	}

	r, err := Open(dir, 1, 3, delFile)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if !r.IsDeleted(0) || r.IsDeleted(1) {
		t.Fatal("deletion bitmap wrong")
	}
	if r.LiveDocCount() != 2 {
		t.Fatalf("LiveDocCount = %d, want 2", r.LiveDocCount())
	}
}

func TestMultiComposition(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, 1, carDocs[:2])
	buildSegment(t, dir, 2, carDocs[2:])

	r1, err := Open(dir, 1, 2, "")
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	r2, err := Open(dir, 2, 1, "")
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	m := NewMulti([]*Reader{r1, r2})
	defer m.Close()

	if m.DocCount() != 3 {
		t.Fatalf("DocCount = %d", m.DocCount())
	}
	lists, err := m.PostingLists("body", "red")
	if err != nil {
		t.Fatalf("PostingLists: %v", err)
	}
	var global []uint32
	for _, l := range lists {
		for l.It.Next() {
			global = append(global, l.Base+l.It.DocID())
		}
	}
	if len(global) != 2 || global[0] != 0 || global[1] != 2 {
		t.Fatalf("red global docs = %v, want [0 2]", global)
	}

	// Global stored lookup crosses the segment boundary.
	rec, err := m.StoredDoc(2)
	if err != nil {
		t.Fatalf("StoredDoc(2): %v", err)
	}
	if string(rec) != carDocs[2].stored {
		t.Fatalf("StoredDoc(2) = %q", rec)
	}
	v, ok, err := m.CachedValue("sortkey", 2)
	if err != nil || !ok || string(v) != "fast" {
		t.Fatalf("CachedValue(2) = %q ok=%v err=%v", v, ok, err)
	}
}

func TestMergeReclaimsDeletions(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, 1, carDocs[:2])
	buildSegment(t, dir, 2, carDocs[2:])

	// Delete doc 0 ("red car") from segment 1.
	del := roaring.New()
	del.Add(0)
	delFile := DelFilename(1, 2)
	if err := WriteDeletionFile(filepath.Join(dir, delFile), del); err != nil {
		t.Fatalf("WriteDeletionFile: %v", err)
	}

	r1, err := Open(dir, 1, 2, delFile)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	r2, err := Open(dir, 2, 1, "")
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	inputs := []*Reader{r1, r2}

	terms, liveCount, err := NewMergeStream(inputs)
	if err != nil {
		t.Fatalf("NewMergeStream: %v", err)
	}
	if liveCount != 2 {
		t.Fatalf("liveCount = %d, want 2", liveCount)
	}
	stored := NewStoredMergeStream(inputs)
	cache, err := NewCacheMergeStream(inputs)
	if err != nil {
		t.Fatalf("NewCacheMergeStream: %v", err)
	}

	w := NewWriter(dir, 4, positional, logger.Discard(), metrics.New(nil))
	info, err := w.Write(3, liveCount, terms, stored, cache)
	if err != nil {
		t.Fatalf("merge Write: %v", err)
	}
	r1.Close()
	r2.Close()

	merged, err := Open(dir, info.ID, info.DocCount, "")
	if err != nil {
		t.Fatalf("Open merged: %v", err)
	}
	defer merged.Close()

	// Live docs packed densely: doc1 ("blue car") -> 0, doc2 -> 1.
	if got := iterateDocs(t, merged, "body", "car"); len(got) != 1 || got[0] != 0 {
		t.Fatalf("merged car docs = %v, want [0]", got)
	}
	if got := iterateDocs(t, merged, "body", "red"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("merged red docs = %v, want [1]", got)
	}
	rec, err := merged.StoredDoc(0)
	if err != nil || string(rec) != carDocs[1].stored {
		t.Fatalf("merged StoredDoc(0) = %q, %v", rec, err)
	}
	v, ok, err := merged.CachedValue("sortkey", 1)
	if err != nil || !ok || string(v) != "fast" {
		t.Fatalf("merged CachedValue(1) = %q ok=%v err=%v", v, ok, err)
	}
}
