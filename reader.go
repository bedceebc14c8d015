package tessera

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mchaput/tessera/internal/matcher"
	"github.com/mchaput/tessera/internal/segment"
	"github.com/mchaput/tessera/internal/toc"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Matcher is the cursor interface query trees evaluate through. Trees are
// built from a Reader's Term and Phrase leaves and the package-level
// combinators.
type Matcher = matcher.Matcher

// Weight scores a term occurrence by (global doc id, in-doc frequency).
type Weight = matcher.Weight

// TFWeight is the default weighting: raw term frequency.
var TFWeight Weight = matcher.TFWeight

// Reader is a point-in-time snapshot of the index. It pins the TOC
// generation current at open time: commits and merges after that are
// invisible to it, and the files it maps stay readable even if a later
// sweep unlinks them.
type Reader struct {
	ix     *Index
	toc    *toc.TOC
	multi  *segment.Multi
	log    *slog.Logger
	closed bool
}

// openAttempts bounds the load-and-open retries in OpenReader. A merge
// can sweep a generation's files between the TOC load and the segment
// opens; reloading picks up the generation that replaced it.
const openAttempts = 3

// OpenReader opens a snapshot of the current generation. An index with no
// committed generation yields an empty reader. Once every segment is open
// the snapshot is immune to later sweeps; the window before that is
// covered by retrying from the newest generation.
func (ix *Index) OpenReader() (*Reader, error) {
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		cur, err := toc.Load(ix.dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &Reader{ix: ix, multi: segment.NewMulti(nil), log: ix.log.With("component", "reader")}, nil
			}
			return nil, err
		}
		if cur.SchemaHash != ix.schema.Fingerprint() {
			return nil, apperrors.Corruptf("toc schema fingerprint %016x, schema file has %016x",
				cur.SchemaHash, ix.schema.Fingerprint())
		}
		segs, err := openSegments(ix.dir, cur)
		if err != nil {
			if !errors.Is(err, apperrors.ErrMissingSegment) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return &Reader{
			ix:    ix,
			toc:   cur,
			multi: segment.NewMulti(segs),
			log:   ix.log.With("component", "reader", "generation", cur.Generation),
		}, nil
	}
	return nil, lastErr
}

func openSegments(dir string, cur *toc.TOC) ([]*segment.Reader, error) {
	segs := make([]*segment.Reader, 0, len(cur.Segments))
	for _, ref := range cur.Segments {
		r, err := segment.Open(dir, ref.ID, ref.DocCount, ref.DelFile)
		if err != nil {
			for _, s := range segs {
				s.Close()
			}
			return nil, err
		}
		segs = append(segs, r)
	}
	return segs, nil
}

// Generation returns the pinned TOC generation, zero for an empty index.
func (r *Reader) Generation() uint64 {
	if r.toc == nil {
		return 0
	}
	return r.toc.Generation
}

// DocCount returns the snapshot's total document count, deleted included.
func (r *Reader) DocCount() uint32 { return r.multi.DocCount() }

// LiveDocCount returns the snapshot's non-deleted document count.
func (r *Reader) LiveDocCount() uint32 { return r.multi.LiveDocCount() }

// MaxDoc returns the exclusive upper bound of the snapshot's doc-id space.
func (r *Reader) MaxDoc() uint32 { return r.multi.DocCount() }

// StoredFields returns the stored field values of a global doc id.
func (r *Reader) StoredFields(docID uint32) (map[string]string, error) {
	if r.closed {
		return nil, apperrors.ErrReaderClosed
	}
	rec, err := r.multi.StoredDoc(docID)
	if err != nil {
		return nil, err
	}
	return decodeStored(rec)
}

// CachedValue returns the cached value of (field, global doc id).
func (r *Reader) CachedValue(field string, docID uint32) ([]byte, bool, error) {
	if r.closed {
		return nil, false, apperrors.ErrReaderClosed
	}
	return r.multi.CachedValue(field, docID)
}

// DocFreq returns the number of documents containing (field, term),
// deleted documents included until they are merged away.
func (r *Reader) DocFreq(field, term string) (uint32, error) {
	if r.closed {
		return 0, apperrors.ErrReaderClosed
	}
	return r.multi.DocFreq(field, term)
}

// Term builds a leaf matcher for (field, term). Deleted documents are
// skipped. A nil weight uses TFWeight.
func (r *Reader) Term(field, term string, w Weight) (Matcher, error) {
	if r.closed {
		return nil, apperrors.ErrReaderClosed
	}
	f, ok := r.ix.schema.Field(field)
	if !ok {
		return nil, fmt.Errorf("field %q is not in the schema", field)
	}
	if !f.Indexed {
		return nil, fmt.Errorf("field %q is not indexed", field)
	}
	lists, err := r.multi.PostingLists(field, term)
	if err != nil {
		return nil, err
	}
	return matcher.NewTerm(lists, w)
}

// Phrase builds a phrase matcher over the terms in order. The field must
// record positions. Slop is the largest allowed gap between consecutive
// terms; 1 means exact adjacency.
func (r *Reader) Phrase(field string, terms []string, slop uint32, w Weight) (Matcher, error) {
	if r.closed {
		return nil, apperrors.ErrReaderClosed
	}
	f, ok := r.ix.schema.Field(field)
	if !ok {
		return nil, fmt.Errorf("field %q is not in the schema", field)
	}
	if !f.Positions {
		return nil, fmt.Errorf("field %q does not record positions", field)
	}
	leaves := make([]*matcher.Term, 0, len(terms))
	for _, term := range terms {
		lists, err := r.multi.PostingLists(field, term)
		if err != nil {
			return nil, err
		}
		leaf, err := matcher.NewTerm(lists, w)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return matcher.NewPhrase(leaves, slop)
}

// Not builds the complement of m over the snapshot's doc-id space. The
// complement covers deleted ids too; intersect it with a positive matcher
// to confine it.
func (r *Reader) Not(m Matcher) (Matcher, error) {
	return matcher.NewNot(m, r.MaxDoc())
}

// And intersects matchers.
func And(kids ...Matcher) (Matcher, error) { return matcher.NewAnd(kids...) }

// Or unions matchers, summing scores of children agreeing on a doc.
func Or(kids ...Matcher) (Matcher, error) { return matcher.NewOr(kids...) }

// AndNot passes pos through minus the docs neg matches.
func AndNot(pos, neg Matcher) (Matcher, error) { return matcher.NewAndNot(pos, neg) }

// Close releases the snapshot's segment readers. Use after Close fails
// with ErrReaderClosed.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.multi.Close()
}
