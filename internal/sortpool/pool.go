package sortpool

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mchaput/tessera/internal/fileio"
	"github.com/mchaput/tessera/pkg/metrics"
)

// Pool buffers tuples and spills sorted runs once the configured byte
// threshold is exceeded. Pools are not safe for concurrent use; the worker
// pool gives each worker a private one.
type Pool struct {
	dir       string
	prefix    string
	threshold int64
	buf       []Tuple
	size      int64
	runs      []string
	runSeq    int
	log       *slog.Logger
	m         *metrics.Metrics
}

// New creates a pool spilling run files named prefix_N.run into dir.
func New(dir, prefix string, threshold int64, log *slog.Logger, m *metrics.Metrics) *Pool {
	return &Pool{dir: dir, prefix: prefix, threshold: threshold, log: log, m: m}
}

// Add buffers one tuple, spilling a run first if the buffer is over the
// threshold.
func (p *Pool) Add(t Tuple) error {
	p.buf = append(p.buf, t)
	p.size += t.approxSize()
	if p.size >= p.threshold {
		return p.spill()
	}
	return nil
}

// RunCount returns the number of runs spilled so far.
func (p *Pool) RunCount() int { return len(p.runs) }

// spill sorts the buffer by (key, doc id) and writes it as one run,
// clearing the buffer.
func (p *Pool) spill() error {
	if len(p.buf) == 0 {
		return nil
	}
	sort.Slice(p.buf, func(i, j int) bool { return p.buf[i].Less(p.buf[j]) })

	path := filepath.Join(p.dir, fmt.Sprintf("%s_%d.run", p.prefix, p.runSeq))
	w, err := fileio.Create(path)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(fileio.KindRun); err != nil {
		w.Close()
		return err
	}
	var scratch bytes.Buffer
	for _, t := range p.buf {
		if err := w.WriteRecord(t.encode(&scratch)); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	p.log.Debug("spilled run",
		"run", path,
		"tuples", len(p.buf),
		"bytes", p.size,
	)
	p.m.RunsSpilledTotal.Inc()
	p.runs = append(p.runs, path)
	p.runSeq++
	p.buf = p.buf[:0]
	p.size = 0
	return nil
}

// cursors sorts the in-memory remainder and returns one cursor per run
// plus one over the remainder. The pool must not be used after this.
func (p *Pool) cursors() ([]cursor, error) {
	sort.Slice(p.buf, func(i, j int) bool { return p.buf[i].Less(p.buf[j]) })
	cs := make([]cursor, 0, len(p.runs)+1)
	for _, path := range p.runs {
		rc, err := openRunCursor(path)
		if err != nil {
			for _, c := range cs {
				c.close()
			}
			return nil, err
		}
		cs = append(cs, rc)
	}
	if len(p.buf) > 0 {
		cs = append(cs, &memCursor{tuples: p.buf})
	}
	return cs, nil
}

// Finalize merges all spilled runs and the in-memory remainder into one
// sorted stream. Closing the stream removes the run files.
func (p *Pool) Finalize() (*Stream, error) {
	cs, err := p.cursors()
	if err != nil {
		return nil, err
	}
	return newStream(cs, p.runs), nil
}

// Discard removes all spilled runs and drops the buffer. Safe to call
// after a failed or abandoned session.
func (p *Pool) Discard() {
	for _, path := range p.runs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("removing run file", "run", path, "error", err)
		}
	}
	p.runs = nil
	p.buf = nil
	p.size = 0
}
