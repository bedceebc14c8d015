package toc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/mchaput/tessera/pkg/errors"
	"github.com/mchaput/tessera/pkg/logger"
)

func TestWriteLoadHighestGeneration(t *testing.T) {
	dir := t.TempDir()
	for gen := uint64(1); gen <= 3; gen++ {
		err := Write(dir, &TOC{
			Generation:    gen,
			SchemaHash:    7,
			Segments:      []SegmentRef{{ID: gen, DocCount: uint32(gen * 10)}},
			NextSegmentID: gen + 1,
		})
		if err != nil {
			t.Fatalf("Write gen %d: %v", gen, err)
		}
	}
	cur, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.Generation != 3 || cur.NextSegmentID != 4 {
		t.Fatalf("Load = gen %d next %d, want 3/4", cur.Generation, cur.NextSegmentID)
	}
}

func TestLoadSkipsCorruptGeneration(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, &TOC{Generation: 1, NextSegmentID: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// A partially written later generation must not shadow the valid one.
	if err := os.WriteFile(filepath.Join(dir, Filename(2)), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	cur, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur.Generation != 1 {
		t.Fatalf("Load picked generation %d, want 1", cur.Generation)
	}
}

func TestLoadEmptyDir(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load = %v, want os.ErrNotExist", err)
	}
}

func TestLoadGenerationChecksums(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, &TOC{Generation: 1, NextSegmentID: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, Filename(1))
	data, _ := os.ReadFile(path)
	data[len(data)-7] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGeneration(dir, 1); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("LoadGeneration = %v, want ErrCorruptData", err)
	}
}

func TestLockFailFast(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l1, err := Acquire(ctx, dir, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := Acquire(ctx, dir, 0, 10*time.Millisecond); !errors.Is(err, apperrors.ErrLockBusy) {
		t.Fatalf("second Acquire = %v, want ErrLockBusy", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l2, err := Acquire(ctx, dir, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	l2.Release()
}

func TestLockBoundedWait(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l1, err := Acquire(ctx, dir, 0, time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		l1.Release()
	}()
	l2, err := Acquire(ctx, dir, 2*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("waiting Acquire: %v", err)
	}
	l2.Release()
}

func TestManagerCommitSequence(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Current() != nil {
		t.Fatal("fresh manager has a current TOC")
	}
	if err := m.Commit(&TOC{Generation: 1, NextSegmentID: 1}); err != nil {
		t.Fatalf("Commit gen 1: %v", err)
	}
	if err := m.Commit(&TOC{Generation: 3, NextSegmentID: 1}); err == nil {
		t.Fatal("Commit accepted a generation gap")
	}
	if err := m.Commit(&TOC{Generation: 2, NextSegmentID: 1}); err != nil {
		t.Fatalf("Commit gen 2: %v", err)
	}

	// A new manager over the same dir resolves the same current state.
	m2, err := NewManager(dir, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager reopen: %v", err)
	}
	if got := m2.Current().Generation; got != 2 {
		t.Fatalf("reopened current generation = %d, want 2", got)
	}
}

func TestManagerReloadAndStaleCommit(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager m1: %v", err)
	}
	m2, err := NewManager(dir, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager m2: %v", err)
	}

	if err := m1.Commit(&TOC{Generation: 1, NextSegmentID: 1}); err != nil {
		t.Fatalf("Commit gen 1: %v", err)
	}
	if err := m1.Commit(&TOC{Generation: 2, NextSegmentID: 1}); err != nil {
		t.Fatalf("Commit gen 2: %v", err)
	}

	// m2 never saw m1's commits; writing generation 1 would rename over
	// a live generation file.
	if err := m2.Commit(&TOC{Generation: 1, NextSegmentID: 1}); err == nil {
		t.Fatal("stale commit over an existing generation succeeded")
	}
	if err := m2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := m2.Current().Generation; got != 2 {
		t.Fatalf("reloaded generation = %d, want 2", got)
	}
	if err := m2.Commit(&TOC{Generation: 3, NextSegmentID: 1}); err != nil {
		t.Fatalf("Commit after Reload: %v", err)
	}
}
