package tessera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mchaput/tessera/internal/segment"
	"github.com/mchaput/tessera/internal/toc"
)

// Merge rewrites the named segments (all of them when ids is empty) into
// one replacement segment containing only their live documents, then
// swaps the TOC to reference it and drops the inputs. Deleted documents
// are reclaimed and doc ids repacked densely. Merge takes the exclusive
// write lock itself, so it is strictly sequential with write sessions.
func (ix *Index) Merge(ctx context.Context, ids ...uint64) error {
	lock, err := toc.Acquire(ctx, ix.dir, ix.cfg.Index.LockWait, ix.cfg.Index.LockRetryInterval)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := ix.man.Reload(); err != nil {
		return err
	}
	cur := ix.man.Current()
	if cur == nil || len(cur.Segments) == 0 {
		return nil
	}
	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var inputs []*segment.Reader
	defer func() {
		for _, r := range inputs {
			r.Close()
		}
	}()
	var inputIdx []int
	for i, ref := range cur.Segments {
		if len(ids) > 0 && !want[ref.ID] {
			continue
		}
		delete(want, ref.ID)
		r, err := segment.Open(ix.dir, ref.ID, ref.DocCount, ref.DelFile)
		if err != nil {
			return err
		}
		inputs = append(inputs, r)
		inputIdx = append(inputIdx, i)
	}
	for id := range want {
		return fmt.Errorf("segment %d is not in the current generation", id)
	}
	if len(inputs) < 1 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	terms, liveCount, err := segment.NewMergeStream(inputs)
	if err != nil {
		return err
	}
	stored := segment.NewStoredMergeStream(inputs)
	cache, err := segment.NewCacheMergeStream(inputs)
	if err != nil {
		return err
	}

	next := cur.Clone()
	next.Generation++
	merged := make(map[int]bool, len(inputIdx))
	for _, i := range inputIdx {
		merged[i] = true
	}

	var newRef *segment.Info
	if liveCount > 0 {
		id := next.NextSegmentID
		next.NextSegmentID++
		sw := segment.NewWriter(ix.dir, ix.cfg.Index.PostingsBlockSize, ix.schema.Positional, ix.log.With("component", "merge"), ix.m)
		info, err := sw.Write(id, liveCount, terms, stored, cache)
		if err != nil {
			return err
		}
		newRef = info
	}

	// The replacement takes the first input's slot so unrelated segments
	// keep their relative order.
	var segs []toc.SegmentRef
	for i, ref := range cur.Segments {
		if !merged[i] {
			segs = append(segs, ref)
			continue
		}
		if newRef != nil && i == inputIdx[0] {
			segs = append(segs, toc.SegmentRef{ID: newRef.ID, DocCount: newRef.DocCount})
		}
	}
	next.Segments = segs

	if err := ix.man.Commit(next); err != nil {
		if newRef != nil {
			for _, name := range segment.Filenames(newRef.ID) {
				os.Remove(filepath.Join(ix.dir, name))
			}
		}
		return err
	}
	ix.m.MergesTotal.Inc()
	ix.m.LiveSegments.Set(float64(len(next.Segments)))
	ix.log.Info("segments merged",
		"generation", next.Generation,
		"inputs", len(inputs),
		"live_docs", liveCount,
	)
	ix.sweepObsolete()
	return nil
}
