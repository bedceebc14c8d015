package tessera

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mchaput/tessera/internal/segment"
	"github.com/mchaput/tessera/internal/sortpool"
	"github.com/mchaput/tessera/internal/toc"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// IndexWriter is one exclusive write session: documents and deletions
// accumulate until Commit makes them all visible in a single new TOC
// generation, or Cancel discards them leaving the index untouched. A
// session ends after Commit or Cancel; further calls fail with
// ErrWriterClosed.
type IndexWriter struct {
	ix   *Index
	lock *toc.Lock
	log  *slog.Logger

	wp     *sortpool.WorkerPool
	stored *segment.StoredSpill
	cache  *sortpool.Pool

	// nextDoc numbers the session's documents within the new segment.
	nextDoc uint32
	deletes []pendingDelete
	done    bool
}

// pendingDelete is one buffered deletion. It applies to every matching doc
// in pre-existing segments and, within the session's own segment, only to
// docs added before it was issued, so an update's add is not eaten by its
// own delete.
type pendingDelete struct {
	field     string
	term      string
	beforeDoc uint32
}

// Writer starts a write session, acquiring the exclusive write lock. With
// LockWait zero a held lock fails fast with ErrLockBusy.
func (ix *Index) Writer(ctx context.Context) (*IndexWriter, error) {
	lock, err := toc.Acquire(ctx, ix.dir, ix.cfg.Index.LockWait, ix.cfg.Index.LockRetryInterval)
	if err != nil {
		return nil, err
	}
	// Another handle may have committed since this one loaded the TOC;
	// sweep and segment numbering must start from the on-disk truth.
	if err := ix.man.Reload(); err != nil {
		lock.Release()
		return nil, err
	}
	ix.sweepObsolete()

	log := ix.log.With("component", "writer")
	stored, err := segment.NewStoredSpill(ix.dir, fmt.Sprintf("w_%d_stored.tmp", os.Getpid()))
	if err != nil {
		lock.Release()
		return nil, err
	}
	w := &IndexWriter{
		ix:     ix,
		lock:   lock,
		log:    log,
		wp:     sortpool.StartWorkers(ctx, ix.cfg.Index.Workers, ix.dir, "idx", ix.cfg.Index.SpillThresholdBytes, log, ix.m),
		stored: stored,
		cache:  sortpool.New(ix.dir, "cch", ix.cfg.Index.SpillThresholdBytes, log, ix.m),
	}
	log.Info("write session started", "dir", ix.dir)
	return w, nil
}

// AddDocument adds one document to the session. Field values must match
// the schema; tokens of positional fields must carry ascending positions.
func (w *IndexWriter) AddDocument(doc *Document) error {
	if w.done {
		return apperrors.ErrWriterClosed
	}
	docID := w.nextDoc
	var batch []sortpool.Tuple
	for _, fv := range doc.Fields {
		f, ok := w.ix.schema.Field(fv.Name)
		if !ok {
			return fmt.Errorf("field %q is not in the schema", fv.Name)
		}
		if f.Indexed {
			tuples, err := fieldTuples(f, fv, docID)
			if err != nil {
				return err
			}
			batch = append(batch, tuples...)
		}
		if f.Cached {
			err := w.cache.Add(sortpool.Tuple{
				Key:     segment.CacheKey(f.Name, docID),
				DocID:   docID,
				Payload: []byte(fv.Value),
			})
			if err != nil {
				return err
			}
		}
	}
	rec, err := encodeStored(w.ix.schema, doc)
	if err != nil {
		return err
	}
	if err := w.stored.Append(rec); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := w.wp.Submit(batch); err != nil {
			return err
		}
	}
	w.nextDoc++
	w.ix.m.DocsIndexedTotal.Inc()
	return nil
}

// fieldTuples turns one field value's tokens into sort-pool tuples, one
// per distinct term with its positions.
func fieldTuples(f Field, fv FieldValue, docID uint32) ([]sortpool.Tuple, error) {
	positions := make(map[string][]uint32)
	var order []string
	last := make(map[string]uint32)
	for _, tok := range fv.Tokens {
		if tok.Term == "" {
			return nil, fmt.Errorf("field %q has an empty term", f.Name)
		}
		if prev, seen := last[tok.Term]; seen && tok.Position <= prev {
			return nil, fmt.Errorf("field %q positions not ascending at term %q", f.Name, tok.Term)
		}
		if _, seen := positions[tok.Term]; !seen {
			order = append(order, tok.Term)
		}
		positions[tok.Term] = append(positions[tok.Term], tok.Position)
		last[tok.Term] = tok.Position
	}
	tuples := make([]sortpool.Tuple, 0, len(order))
	for _, term := range order {
		poss := positions[term]
		freq := uint32(len(poss))
		if !f.Positions {
			poss = nil
		}
		tuples = append(tuples, sortpool.Tuple{
			Key:     segment.TermKey(f.Name, term),
			DocID:   docID,
			Payload: segment.EncodeOccurrence(freq, poss),
		})
	}
	return tuples, nil
}

// DeleteByTerm buffers the deletion of every document containing (field,
// term). It takes effect at Commit, covering pre-existing segments and
// the session's documents added so far.
func (w *IndexWriter) DeleteByTerm(field, term string) error {
	if w.done {
		return apperrors.ErrWriterClosed
	}
	f, ok := w.ix.schema.Field(field)
	if !ok {
		return fmt.Errorf("field %q is not in the schema", field)
	}
	if !f.Indexed {
		return fmt.Errorf("field %q is not indexed", field)
	}
	w.deletes = append(w.deletes, pendingDelete{field: field, term: term, beforeDoc: w.nextDoc})
	return nil
}

// UpdateDocument replaces every document matching the unique field's value
// with doc. Both the delete and the add become visible atomically at
// Commit.
func (w *IndexWriter) UpdateDocument(uniqueField string, doc *Document) error {
	if w.done {
		return apperrors.ErrWriterClosed
	}
	var term string
	for _, fv := range doc.Fields {
		if fv.Name != uniqueField {
			continue
		}
		if len(fv.Tokens) > 0 {
			term = fv.Tokens[0].Term
		} else {
			term = fv.Value
		}
		break
	}
	if term == "" {
		return fmt.Errorf("document has no value for unique field %q", uniqueField)
	}
	if err := w.DeleteByTerm(uniqueField, term); err != nil {
		return err
	}
	return w.AddDocument(doc)
}

// Cancel discards the session: temporary runs and spills are removed, no
// segment is written and the TOC is untouched.
func (w *IndexWriter) Cancel() error {
	if w.done {
		return nil
	}
	w.done = true
	w.wp.Abort()
	w.stored.Discard()
	w.cache.Discard()
	err := w.lock.Release()
	w.ix.m.CommitsTotal.WithLabelValues("cancelled").Inc()
	w.log.Info("write session cancelled", "docs_discarded", w.nextDoc)
	return err
}

// Commit makes the session's additions and deletions durable and visible
// as one new TOC generation. The session ends whether or not the commit
// succeeds; on failure nothing is published and the previous generation
// stays current.
func (w *IndexWriter) Commit(ctx context.Context) error {
	if w.done {
		return apperrors.ErrWriterClosed
	}
	w.done = true
	start := time.Now()
	err := w.commit(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	w.ix.m.CommitsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		w.ix.m.CommitDuration.Observe(time.Since(start).Seconds())
	}
	if rerr := w.lock.Release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func (w *IndexWriter) commit(ctx context.Context) (err error) {
	terms, err := w.wp.Drain()
	if err != nil {
		w.stored.Discard()
		w.cache.Discard()
		return err
	}
	defer terms.Close()

	cur := w.ix.man.Current()
	if w.nextDoc == 0 && len(w.deletes) == 0 {
		w.stored.Discard()
		w.cache.Discard()
		if cur != nil {
			w.log.Info("empty commit, generation unchanged", "generation", cur.Generation)
			return nil
		}
		// First commit of a fresh index: publish an empty generation so
		// readers can open.
		return w.ix.man.Commit(&toc.TOC{
			Generation:    1,
			SchemaHash:    w.ix.schema.Fingerprint(),
			NextSegmentID: 1,
		})
	}

	var next *toc.TOC
	if cur != nil {
		next = cur.Clone()
		next.Generation++
	} else {
		next = &toc.TOC{Generation: 1, NextSegmentID: 1}
	}
	next.SchemaHash = w.ix.schema.Fingerprint()

	// Files created below are removed if the commit fails before the TOC
	// swap publishes them.
	var created []string
	defer func() {
		if err != nil {
			for _, path := range created {
				os.Remove(path)
			}
		}
	}()

	var newRef *toc.SegmentRef
	if w.nextDoc > 0 {
		if err := ctx.Err(); err != nil {
			w.stored.Discard()
			w.cache.Discard()
			return err
		}
		storedStream, err := w.stored.Stream()
		if err != nil {
			w.stored.Discard()
			w.cache.Discard()
			return err
		}
		defer storedStream.Close()
		cacheStream, err := w.cache.Finalize()
		if err != nil {
			w.cache.Discard()
			return err
		}
		defer cacheStream.Close()

		id := next.NextSegmentID
		next.NextSegmentID++
		sw := segment.NewWriter(w.ix.dir, w.ix.cfg.Index.PostingsBlockSize, w.ix.schema.Positional, w.log, w.ix.m)
		info, err := sw.Write(id, w.nextDoc, terms, storedStream, cacheStream)
		if err != nil {
			return err
		}
		for _, name := range segment.Filenames(id) {
			created = append(created, filepath.Join(w.ix.dir, name))
		}
		newRef = &toc.SegmentRef{ID: info.ID, DocCount: info.DocCount}
	} else {
		w.stored.Discard()
		w.cache.Discard()
	}

	if len(w.deletes) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		kept, delFiles, err := w.applyDeletes(next, newRef)
		if err != nil {
			return err
		}
		next.Segments = kept
		created = append(created, delFiles...)
	}
	if newRef != nil {
		next.Segments = append(next.Segments, *newRef)
	}

	if err := w.ix.man.Commit(next); err != nil {
		return err
	}
	w.ix.m.LiveSegments.Set(float64(len(next.Segments)))
	w.log.Info("session committed",
		"generation", next.Generation,
		"docs_added", w.nextDoc,
		"deletes", len(w.deletes),
	)
	return nil
}

// applyDeletes resolves the buffered deletions against the pre-existing
// segments and the session's new segment. It returns the surviving old
// refs with updated deletion files, plus the paths of files it created.
// Segments whose documents are all deleted are dropped entirely.
func (w *IndexWriter) applyDeletes(next *toc.TOC, newRef *toc.SegmentRef) ([]toc.SegmentRef, []string, error) {
	var kept []toc.SegmentRef
	var created []string
	for _, ref := range next.Segments {
		r, err := segment.Open(w.ix.dir, ref.ID, ref.DocCount, ref.DelFile)
		if err != nil {
			return nil, created, err
		}
		bm, changed, err := w.deletedDocs(r, false)
		r.Close()
		if err != nil {
			return nil, created, err
		}
		if !changed {
			kept = append(kept, ref)
			continue
		}
		if uint32(bm.GetCardinality()) == ref.DocCount {
			w.log.Info("segment fully deleted", "segment", ref.ID)
			continue
		}
		name := segment.DelFilename(ref.ID, next.Generation)
		path := filepath.Join(w.ix.dir, name)
		if err := segment.WriteDeletionFile(path, bm); err != nil {
			return nil, created, err
		}
		created = append(created, path)
		ref.DelFile = name
		kept = append(kept, ref)
	}

	if newRef != nil {
		r, err := segment.Open(w.ix.dir, newRef.ID, newRef.DocCount, "")
		if err != nil {
			return nil, created, err
		}
		bm, changed, err := w.deletedDocs(r, true)
		r.Close()
		if err != nil {
			return nil, created, err
		}
		if changed {
			name := segment.DelFilename(newRef.ID, next.Generation)
			path := filepath.Join(w.ix.dir, name)
			if err := segment.WriteDeletionFile(path, bm); err != nil {
				return nil, created, err
			}
			created = append(created, path)
			newRef.DelFile = name
		}
	}
	return kept, created, nil
}

// deletedDocs computes a segment's post-session deletion bitmap. With
// watermark set (the session's own segment) a delete only covers docs
// below its beforeDoc; otherwise every match is deleted.
func (w *IndexWriter) deletedDocs(r *segment.Reader, watermark bool) (*roaring.Bitmap, bool, error) {
	bm := roaring.New()
	if d := r.Deleted(); d != nil {
		bm.Or(d)
	}
	before := bm.GetCardinality()
	for _, pd := range w.deletes {
		if watermark && pd.beforeDoc == 0 {
			continue
		}
		it, ok, err := r.Postings(pd.field, pd.term)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		for it.Next() {
			id := it.DocID()
			if watermark && id >= pd.beforeDoc {
				break
			}
			bm.Add(id)
		}
		if err := it.Err(); err != nil {
			return nil, false, err
		}
	}
	return bm, bm.GetCardinality() != before, nil
}
