package sortpool

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mchaput/tessera/pkg/metrics"
)

// WorkerPool fans tuple batches across N workers, each owning a private
// sort pool and run set. There is no shared mutable state while buffering
// and spilling; the only synchronization point is Drain, which waits for
// every worker and merges all their runs exactly as the single-threaded
// case would.
type WorkerPool struct {
	pools  []*Pool
	jobs   chan []Tuple
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

// StartWorkers launches the workers. Each batch submitted afterwards is
// handled by exactly one worker, so workers see disjoint document subsets.
func StartWorkers(ctx context.Context, workers int, dir, prefix string, threshold int64, log *slog.Logger, m *metrics.Metrics) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	wp := &WorkerPool{
		jobs:   make(chan []Tuple, workers*2),
		g:      g,
		ctx:    gctx,
		cancel: cancel,
		log:    log,
	}
	for i := 0; i < workers; i++ {
		pool := New(dir, fmt.Sprintf("%s_w%d", prefix, i), threshold, log, m)
		wp.pools = append(wp.pools, pool)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case batch, ok := <-wp.jobs:
					if !ok {
						// Intake closed: keep the remainder buffered for
						// the final merge.
						return nil
					}
					for _, t := range batch {
						if err := pool.Add(t); err != nil {
							return err
						}
					}
				}
			}
		})
	}
	return wp
}

// Submit hands one document's tuples to the pool. It fails once any worker
// has failed or the pool was aborted.
func (wp *WorkerPool) Submit(batch []Tuple) error {
	select {
	case wp.jobs <- batch:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool stopped: %w", wp.ctx.Err())
	}
}

// Drain closes intake, waits for every worker, and merges all workers'
// runs and remainders into one sorted stream. Any worker failure aborts
// the whole operation: runs are removed and the aggregate error returned.
func (wp *WorkerPool) Drain() (*Stream, error) {
	close(wp.jobs)
	if err := wp.g.Wait(); err != nil {
		wp.discardAll()
		wp.cancel()
		return nil, fmt.Errorf("indexing workers: %w", err)
	}
	wp.cancel()
	s, err := MergePools(wp.pools)
	if err != nil {
		wp.discardAll()
		return nil, err
	}
	return s, nil
}

// Abort stops the workers and removes every temporary run.
func (wp *WorkerPool) Abort() {
	wp.cancel()
	// Wait returns the cancellation error; runs still need removing.
	_ = wp.g.Wait()
	wp.discardAll()
}

func (wp *WorkerPool) discardAll() {
	for _, p := range wp.pools {
		p.Discard()
	}
}

// RunCount returns the total number of runs spilled across all workers.
func (wp *WorkerPool) RunCount() int {
	n := 0
	for _, p := range wp.pools {
		n += p.RunCount()
	}
	return n
}

// MergePools merges several pools' runs and remainders into one sorted
// stream. Closing the stream removes all their run files.
func MergePools(pools []*Pool) (*Stream, error) {
	var cs []cursor
	var runs []string
	for _, p := range pools {
		pcs, err := p.cursors()
		if err != nil {
			for _, c := range cs {
				c.close()
			}
			return nil, err
		}
		cs = append(cs, pcs...)
		runs = append(runs, p.runs...)
	}
	return newStream(cs, runs), nil
}
