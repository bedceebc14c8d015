package tessera

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"time"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Hit is one ranked search result.
type Hit struct {
	DocID uint32
	Score float64
}

// cancelCheckInterval is how many matcher advances pass between context
// checks during an evaluation.
const cancelCheckInterval = 1024

// Search drains the matcher tree and returns the limit best hits by
// score, ties broken by ascending doc id. A limit at or below zero uses
// the configured default; limits above the configured maximum are capped.
// Cancellation is cooperative: the context is checked between advances
// and an evaluation stops cleanly without touching reader state.
func (r *Reader) Search(ctx context.Context, m Matcher, limit int) ([]Hit, error) {
	if r.closed {
		return nil, apperrors.ErrReaderClosed
	}
	if limit <= 0 {
		limit = r.ix.cfg.Search.DefaultLimit
	}
	if max := r.ix.cfg.Search.MaxResults; limit > max {
		limit = max
	}
	start := time.Now()
	hits, err := r.collect(ctx, m, limit)
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	r.ix.m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}
	r.ix.m.SearchLatency.Observe(time.Since(start).Seconds())
	return hits, nil
}

func (r *Reader) collect(ctx context.Context, m Matcher, limit int) ([]Hit, error) {
	h := &hitHeap{}
	steps := 0
	for m.IsActive() {
		if steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		steps++
		hit := Hit{DocID: m.DocID(), Score: m.Score()}
		if h.Len() < limit {
			heap.Push(h, hit)
		} else if hitLess((*h)[0], hit) {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
		if err := m.Next(); err != nil {
			return nil, err
		}
	}
	hits := make([]Hit, h.Len())
	copy(hits, *h)
	sort.Slice(hits, func(i, j int) bool { return hitLess(hits[j], hits[i]) })
	return hits, nil
}

// hitLess orders hits worst-first: lower score, then higher doc id.
func hitLess(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.DocID > b.DocID
}

// hitHeap is the top-k min-heap: the worst kept hit sits at the root.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return hitLess(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	hit := old[n-1]
	*h = old[:n-1]
	return hit
}
