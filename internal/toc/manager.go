package toc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Manager owns the in-process view of the on-disk TOC: the current
// generation and the commit protocol that advances it.
type Manager struct {
	dir string
	log *slog.Logger

	mu      sync.Mutex
	current *TOC
}

// NewManager loads the current generation from dir. A directory with no
// valid TOC yields a manager with no current generation.
func NewManager(dir string, log *slog.Logger) (*Manager, error) {
	m := &Manager{dir: dir, log: log}
	t, err := Load(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	m.current = t
	return m, nil
}

// Current returns the current TOC, or nil before the first commit. The
// returned value is shared and must be treated as immutable; use Clone to
// derive the next generation.
func (m *Manager) Current() *TOC {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reload refreshes the manager's view from disk. Call it after acquiring
// the write lock: another handle or process on the same directory may
// have committed generations this manager has never seen, and sweeping or
// numbering from a stale view would destroy them.
func (m *Manager) Reload() error {
	t, err := Load(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.mu.Lock()
			m.current = nil
			m.mu.Unlock()
			return nil
		}
		return err
	}
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
	return nil
}

// Commit publishes next as the new current generation. The generation
// number must be exactly one past the current one; the write is atomic and
// the previous generation file is left intact.
func (m *Manager) Commit(next *TOC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := uint64(1)
	if m.current != nil {
		want = m.current.Generation + 1
	}
	if next.Generation != want {
		return fmt.Errorf("commit of generation %d, expected %d", next.Generation, want)
	}
	// A generation at or past next on disk means this manager's view is
	// stale; renaming over it would silently discard committed data.
	if gens, err := Generations(m.dir); err == nil && len(gens) > 0 {
		if top := gens[len(gens)-1]; top >= next.Generation {
			return fmt.Errorf("generation %d already on disk, refusing commit of stale generation %d", top, next.Generation)
		}
	}
	if err := Write(m.dir, next); err != nil {
		return err
	}
	m.current = next
	m.log.Info("toc generation committed",
		"generation", next.Generation,
		"segments", len(next.Segments),
		"docs", next.DocCount(),
	)
	return nil
}

// Dir returns the index directory.
func (m *Manager) Dir() string { return m.dir }
