package tessera

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchaput/tessera/internal/segment"
	"github.com/mchaput/tessera/internal/toc"
	"github.com/mchaput/tessera/pkg/config"
	apperrors "github.com/mchaput/tessera/pkg/errors"
	"github.com/mchaput/tessera/pkg/logger"
	"github.com/mchaput/tessera/pkg/metrics"
)

// Index is the handle on one index directory. It owns the TOC manager and
// hands out writer sessions and snapshot readers. The handle itself is
// cheap; segments are only opened by readers.
type Index struct {
	dir    string
	schema *Schema
	cfg    *config.Config
	log    *slog.Logger
	m      *metrics.Metrics
	man    *toc.Manager
}

// Option adjusts an Index handle at Create or Open.
type Option func(*Index)

// WithConfig overrides the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(ix *Index) { ix.cfg = cfg }
}

// WithLogger sets the logger. The default drops everything, the right
// behavior for an embedded library.
func WithLogger(log *slog.Logger) Option {
	return func(ix *Index) { ix.log = log }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Index) { ix.m = m }
}

func newIndex(dir string, schema *Schema, opts []Option) *Index {
	ix := &Index{dir: dir, schema: schema}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.cfg == nil {
		ix.cfg = config.Default()
	}
	if ix.log == nil {
		ix.log = logger.Discard()
	}
	if ix.m == nil {
		ix.m = metrics.New(nil)
	}
	return ix
}

// Create initializes a new index in dir, which must not already hold one.
// The directory is created if absent. The first TOC generation appears at
// the first commit; until then readers see an empty index.
func Create(dir string, schema *Schema, opts ...Option) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, SchemaFilename)); err == nil {
		return nil, fmt.Errorf("index already exists in %s", dir)
	}
	ix := newIndex(dir, schema, opts)
	if err := writeSchemaFile(dir, schema); err != nil {
		return nil, err
	}
	man, err := toc.NewManager(dir, ix.log.With("component", "toc"))
	if err != nil {
		return nil, err
	}
	ix.man = man
	return ix, nil
}

// Open opens an existing index. The schema comes from the index directory;
// a TOC carrying a different schema fingerprint is rejected.
func Open(dir string, opts ...Option) (*Index, error) {
	schema, err := loadSchemaFile(dir)
	if err != nil {
		return nil, err
	}
	ix := newIndex(dir, schema, opts)
	man, err := toc.NewManager(dir, ix.log.With("component", "toc"))
	if err != nil {
		return nil, err
	}
	if cur := man.Current(); cur != nil && cur.SchemaHash != schema.Fingerprint() {
		return nil, apperrors.Corruptf("toc schema fingerprint %016x, schema file has %016x",
			cur.SchemaHash, schema.Fingerprint())
	}
	ix.man = man
	if cur := man.Current(); cur != nil {
		ix.m.LiveSegments.Set(float64(len(cur.Segments)))
	}
	return ix, nil
}

// Dir returns the index directory.
func (ix *Index) Dir() string { return ix.dir }

// Schema returns the index schema.
func (ix *Index) Schema() *Schema { return ix.schema }

// DocCount returns the current generation's total document count,
// deletions included.
func (ix *Index) DocCount() uint32 {
	cur := ix.man.Current()
	if cur == nil {
		return 0
	}
	return cur.DocCount()
}

// Close releases the handle. Outstanding readers stay valid; they hold
// their own file handles.
func (ix *Index) Close() error { return nil }

// sweepObsolete removes files no TOC generation references: superseded
// generation files first, then segment and deletion files orphaned by
// merges or failed sessions. Best-effort; the writer lock must be held.
// Readers already open keep their unlinked mappings alive.
func (ix *Index) sweepObsolete() {
	cur := ix.man.Current()
	if cur == nil {
		return
	}
	gens, err := toc.Generations(ix.dir)
	if err != nil {
		return
	}
	for _, g := range gens {
		if g < cur.Generation {
			os.Remove(filepath.Join(ix.dir, toc.Filename(g)))
		}
	}
	live := make(map[string]bool)
	for _, ref := range cur.Segments {
		for _, name := range segment.Filenames(ref.ID) {
			live[name] = true
		}
		if ref.DelFile != "" {
			live[ref.DelFile] = true
		}
	}
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "seg_") || live[name] {
			continue
		}
		if os.Remove(filepath.Join(ix.dir, name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		ix.log.Debug("swept obsolete files", "removed", removed, "generation", cur.Generation)
	}
}
