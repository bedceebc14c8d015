package segment

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mchaput/tessera/internal/fileio"
	"github.com/mchaput/tessera/internal/postings"
	"github.com/mchaput/tessera/internal/table"
	"github.com/mchaput/tessera/pkg/metrics"
)

// storedFooterSize is the fixed footer of a stored-fields file: index
// offset, doc count, magic.
const storedFooterSize = 16

// Writer emits immutable segment file-sets. Every component is written to
// a .tmp file, fsynced, then renamed, so a crash mid-write leaves no
// adoptable partial segment.
type Writer struct {
	dir       string
	blockSize int
	// positional reports whether a field carries positions in its
	// postings.
	positional func(field string) bool
	log        *slog.Logger
	m          *metrics.Metrics
}

// NewWriter creates a segment writer for an index directory.
func NewWriter(dir string, blockSize int, positional func(field string) bool, log *slog.Logger, m *metrics.Metrics) *Writer {
	return &Writer{dir: dir, blockSize: blockSize, positional: positional, log: log, m: m}
}

// Write consumes the merged term-sorted stream plus the stored-field and
// cache streams and produces one new segment. It never touches an
// existing segment.
func (w *Writer) Write(id uint64, docCount uint32, terms TupleStream, stored RecordStream, cache TupleStream) (info *Info, err error) {
	paths := make(map[string]string, 4)
	for _, ext := range []string{ExtDict, ExtPost, ExtStored, ExtCache} {
		final := filepath.Join(w.dir, Filename(id, ext))
		paths[ext] = final
	}
	defer func() {
		if err != nil {
			for _, final := range paths {
				os.Remove(final + ".tmp")
				os.Remove(final)
			}
		}
	}()

	if err := w.writePostingsAndDict(id, paths, terms); err != nil {
		return nil, err
	}
	if err := w.writeStored(id, paths, docCount, stored); err != nil {
		return nil, err
	}
	if err := w.writeCache(id, paths, cache); err != nil {
		return nil, err
	}
	// Publish all components. Each rename is atomic; the segment only
	// becomes live when a TOC generation references it.
	for _, final := range paths {
		if err := os.Rename(final+".tmp", final); err != nil {
			return nil, fmt.Errorf("publishing segment %d: %w", id, err)
		}
	}
	w.log.Info("segment written", "segment", id, "docs", docCount)
	w.m.SegmentsWrittenTotal.Inc()
	return &Info{ID: id, DocCount: docCount}, nil
}

// writePostingsAndDict drains the sorted tuple stream, accumulating each
// distinct term's postings through the codec and writing one dictionary
// entry per term.
func (w *Writer) writePostingsAndDict(id uint64, paths map[string]string, terms TupleStream) error {
	pst, err := fileio.Create(paths[ExtPost] + ".tmp")
	if err != nil {
		return err
	}
	defer pst.Close()
	if err := pst.WriteHeader(fileio.KindPost); err != nil {
		return err
	}
	dic, err := table.NewBuilder(paths[ExtDict]+".tmp", fileio.KindDict)
	if err != nil {
		return err
	}
	// Close writes the table footer, so the final path calls it exactly
	// once; error returns before that still need the file handle closed.
	dicOpen := true
	defer func() {
		if dicOpen {
			dic.Close()
		}
	}()

	var (
		curKey []byte
		enc    *postings.Encoder
		ttf    uint64
		nterms int
		valBuf []byte
	)
	flush := func() error {
		if enc == nil {
			return nil
		}
		off := uint64(pst.Offset())
		blob := enc.Finish()
		if err := pst.WriteRaw(blob); err != nil {
			return err
		}
		v := DictValue{
			PostOffset:    off,
			PostLen:       uint64(len(blob)),
			DocFreq:       uint32(enc.Count()),
			TotalTermFreq: ttf,
		}
		valBuf = v.Encode(valBuf[:0])
		if err := dic.Add(curKey, valBuf); err != nil {
			return err
		}
		nterms++
		return nil
	}

	for {
		t, ok, err := terms.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if curKey == nil || !bytes.Equal(t.Key, curKey) {
			if err := flush(); err != nil {
				return err
			}
			curKey = append(curKey[:0], t.Key...)
			field, _, err := SplitKey(curKey)
			if err != nil {
				return err
			}
			enc = postings.NewEncoder(w.blockSize, w.positional(string(field)), false)
			ttf = 0
		}
		freq, poss, err := DecodeOccurrence(t.Payload)
		if err != nil {
			return err
		}
		if err := enc.Add(postings.Posting{DocID: t.DocID, Freq: freq, Positions: poss}); err != nil {
			return err
		}
		ttf += uint64(freq)
	}
	if err := flush(); err != nil {
		return err
	}

	if err := pst.Sync(); err != nil {
		return err
	}
	dicOpen = false
	if err := dic.Close(); err != nil {
		return err
	}
	w.log.Debug("segment dictionary written", "segment", id, "terms", nterms)
	return nil
}

// writeStored copies per-document stored records into the segment in
// doc-id order and appends the offset index.
func (w *Writer) writeStored(id uint64, paths map[string]string, docCount uint32, stored RecordStream) error {
	sto, err := fileio.Create(paths[ExtStored] + ".tmp")
	if err != nil {
		return err
	}
	defer sto.Close()
	if err := sto.WriteHeader(fileio.KindStored); err != nil {
		return err
	}
	offsets := make([]uint64, 0, docCount)
	for {
		rec, ok, err := stored.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		offsets = append(offsets, uint64(sto.Offset()))
		if err := sto.WriteRecord(rec); err != nil {
			return err
		}
	}
	if uint32(len(offsets)) != docCount {
		return fmt.Errorf("segment %d: %d stored records for %d docs", id, len(offsets), docCount)
	}
	indexOff := uint64(sto.Offset())
	for _, off := range offsets {
		if err := sto.WriteUint64(off); err != nil {
			return err
		}
	}
	if err := sto.WriteUint64(indexOff); err != nil {
		return err
	}
	if err := sto.WriteUint32(docCount); err != nil {
		return err
	}
	if err := sto.WriteUint32(fileio.Magic); err != nil {
		return err
	}
	return sto.Sync()
}

// writeCache builds the field-cache table from its sorted tuple stream.
func (w *Writer) writeCache(id uint64, paths map[string]string, cache TupleStream) error {
	cch, err := table.NewBuilder(paths[ExtCache]+".tmp", fileio.KindCache)
	if err != nil {
		return err
	}
	for {
		t, ok, err := cache.Next()
		if err != nil {
			cch.Close()
			return err
		}
		if !ok {
			break
		}
		if err := cch.Add(t.Key, t.Payload); err != nil {
			cch.Close()
			return err
		}
	}
	return cch.Close()
}

// StoredSpill accumulates per-document stored records in arrival (doc-id)
// order, spilled straight to a temp file so stored fields never hold
// memory proportional to the session.
type StoredSpill struct {
	w     *fileio.Writer
	path  string
	count uint32
}

// NewStoredSpill creates the spill file.
func NewStoredSpill(dir, name string) (*StoredSpill, error) {
	path := filepath.Join(dir, name)
	w, err := fileio.Create(path)
	if err != nil {
		return nil, err
	}
	if err := w.WriteHeader(fileio.KindRun); err != nil {
		w.Close()
		os.Remove(path)
		return nil, err
	}
	return &StoredSpill{w: w, path: path}, nil
}

// Append adds the next document's stored record.
func (s *StoredSpill) Append(rec []byte) error {
	if err := s.w.WriteRecord(rec); err != nil {
		return err
	}
	s.count++
	return nil
}

// Count returns the number of records appended.
func (s *StoredSpill) Count() uint32 { return s.count }

// Stream finishes the spill and replays it as a RecordStream. The spill
// file is removed when the stream is closed.
func (s *StoredSpill) Stream() (*StoredSpillStream, error) {
	if err := s.w.Close(); err != nil {
		return nil, err
	}
	r, err := fileio.OpenStream(s.path)
	if err != nil {
		return nil, err
	}
	if err := r.CheckHeader(fileio.KindRun); err != nil {
		r.Close()
		return nil, err
	}
	return &StoredSpillStream{r: r, path: s.path}, nil
}

// Discard closes and removes the spill file.
func (s *StoredSpill) Discard() {
	s.w.Close()
	os.Remove(s.path)
}

// StoredSpillStream replays a stored spill.
type StoredSpillStream struct {
	r    *fileio.StreamReader
	path string
}

// Next returns the next stored record.
func (s *StoredSpillStream) Next() ([]byte, bool, error) {
	rec, err := s.r.Record()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Close closes and removes the spill file.
func (s *StoredSpillStream) Close() error {
	err := s.r.Close()
	os.Remove(s.path)
	return err
}
