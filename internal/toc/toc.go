// Package toc manages the index's table of contents: immutable,
// generation-numbered values naming the live segments. A new generation is
// written as a whole file and made discoverable by an atomic rename;
// readers resolve "current" as the highest valid generation on disk.
package toc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mchaput/tessera/internal/fileio"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// TOC is one immutable generation of the table of contents.
type TOC struct {
	Generation    uint64       `json:"generation"`
	SchemaHash    uint64       `json:"schema_hash"`
	Segments      []SegmentRef `json:"segments"`
	NextSegmentID uint64       `json:"next_segment_id"`
}

// SegmentRef names one live segment and its per-generation deletion file.
type SegmentRef struct {
	ID       uint64 `json:"id"`
	DocCount uint32 `json:"doc_count"`
	// DelFile is the deletion-bitmap file for this segment in this
	// generation; empty when the segment has no deletions.
	DelFile string `json:"del_file,omitempty"`
}

// Clone returns a deep copy, the starting point for the next generation.
func (t *TOC) Clone() *TOC {
	c := *t
	c.Segments = append([]SegmentRef(nil), t.Segments...)
	return &c
}

// DocCount returns the total (including deleted) document count.
func (t *TOC) DocCount() uint32 {
	var n uint32
	for _, s := range t.Segments {
		n += s.DocCount
	}
	return n
}

// Filename returns the TOC file name for a generation.
func Filename(gen uint64) string {
	return fmt.Sprintf("toc_%010d.toc", gen)
}

// Write persists t under its generation: full temp-file write, fsync,
// atomic rename. It never overwrites an existing generation in place.
func Write(dir string, t *TOC) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding toc: %w", err)
	}
	final := filepath.Join(dir, Filename(t.Generation))
	tmp := final + ".tmp"
	w, err := fileio.Create(tmp)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(fileio.KindTOC); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.WriteRecord(body); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing toc generation %d: %w", t.Generation, err)
	}
	return nil
}

// LoadGeneration reads and validates one generation file.
func LoadGeneration(dir string, gen uint64) (*TOC, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename(gen)))
	if err != nil {
		return nil, fmt.Errorf("reading toc generation %d: %w", gen, err)
	}
	r := fileio.NewReader(data)
	if err := r.CheckHeader(fileio.KindTOC); err != nil {
		return nil, err
	}
	body, err := r.Record()
	if err != nil {
		return nil, err
	}
	var t TOC
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, apperrors.Corruptf("decoding toc generation %d: %v", gen, err)
	}
	if t.Generation != gen {
		return nil, apperrors.Corruptf("toc file for generation %d claims %d", gen, t.Generation)
	}
	return &t, nil
}

// Generations lists the generation numbers present in dir, ascending.
func Generations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading index directory: %w", err)
	}
	var gens []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "toc_") || !strings.HasSuffix(name, ".toc") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "toc_"), ".toc"), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, n)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// Load resolves the current TOC: the highest generation that parses and
// validates. Corrupt or partial generations are skipped. os.ErrNotExist is
// returned when no valid generation exists.
func Load(dir string) (*TOC, error) {
	gens, err := Generations(dir)
	if err != nil {
		return nil, err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		t, err := LoadGeneration(dir, gens[i])
		if err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no valid toc generation in %s: %w", dir, os.ErrNotExist)
}
