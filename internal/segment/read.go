package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/mchaput/tessera/internal/fileio"
	"github.com/mchaput/tessera/internal/postings"
	"github.com/mchaput/tessera/internal/table"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Reader provides random access to one segment: dictionary lookup and
// iteration, postings iterators, stored documents, cached field values and
// the deletion bitmap. Files are mapped read-only for the reader's
// lifetime.
type Reader struct {
	id       uint64
	docCount uint32

	files []*os.File
	maps  []mmap.MMap

	dict *table.Table
	post []byte

	stored      []byte
	storedIndex int64
	storedCount uint32

	cache *table.Table

	deleted *roaring.Bitmap
}

// Open maps the segment's file-set. Absent or corrupt files fail with
// ErrMissingSegment: a TOC pointing at an unreadable segment means the
// index is damaged.
func Open(dir string, id uint64, docCount uint32, delFile string) (_ *Reader, err error) {
	r := &Reader{id: id, docCount: docCount}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	dictData, err := r.mapFile(filepath.Join(dir, Filename(id, ExtDict)))
	if err != nil {
		return nil, missing(id, err)
	}
	if r.dict, err = table.Open(dictData, fileio.KindDict); err != nil {
		return nil, missing(id, err)
	}

	if r.post, err = r.mapFile(filepath.Join(dir, Filename(id, ExtPost))); err != nil {
		return nil, missing(id, err)
	}
	pr := fileio.NewReader(r.post)
	if err = pr.CheckHeader(fileio.KindPost); err != nil {
		return nil, missing(id, err)
	}

	if r.stored, err = r.mapFile(filepath.Join(dir, Filename(id, ExtStored))); err != nil {
		return nil, missing(id, err)
	}
	if err = r.openStored(); err != nil {
		return nil, missing(id, err)
	}

	cacheData, err := r.mapFile(filepath.Join(dir, Filename(id, ExtCache)))
	if err != nil {
		return nil, missing(id, err)
	}
	if r.cache, err = table.Open(cacheData, fileio.KindCache); err != nil {
		return nil, missing(id, err)
	}

	if delFile != "" {
		data, err := os.ReadFile(filepath.Join(dir, delFile))
		if err != nil {
			return nil, missing(id, err)
		}
		if r.deleted, err = LoadDeletionFile(data); err != nil {
			return nil, missing(id, err)
		}
	}
	return r, nil
}

func missing(id uint64, cause error) error {
	return fmt.Errorf("segment %d unreadable (%v): %w", id, cause, apperrors.ErrMissingSegment)
}

func (r *Reader) mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	r.files = append(r.files, f)
	r.maps = append(r.maps, m)
	return m, nil
}

func (r *Reader) openStored() error {
	if int64(len(r.stored)) < storedFooterSize {
		return apperrors.Corruptf("stored-fields file of %d bytes", len(r.stored))
	}
	footer := r.stored[len(r.stored)-storedFooterSize:]
	r.storedIndex = int64(binary.LittleEndian.Uint64(footer[0:8]))
	r.storedCount = binary.LittleEndian.Uint32(footer[8:12])
	if binary.LittleEndian.Uint32(footer[12:16]) != fileio.Magic {
		return apperrors.Corruptf("bad stored-fields footer magic")
	}
	if r.storedCount != r.docCount {
		return apperrors.Corruptf("stored-fields count %d, segment has %d docs", r.storedCount, r.docCount)
	}
	sr := fileio.NewReader(r.stored)
	return sr.CheckHeader(fileio.KindStored)
}

// ID returns the segment id.
func (r *Reader) ID() uint64 { return r.id }

// DocCount returns the total document count, deleted included.
func (r *Reader) DocCount() uint32 { return r.docCount }

// LiveDocCount returns the count of non-deleted documents.
func (r *Reader) LiveDocCount() uint32 {
	if r.deleted == nil {
		return r.docCount
	}
	return r.docCount - uint32(r.deleted.GetCardinality())
}

// Deleted returns the deletion bitmap, or nil when nothing is deleted.
func (r *Reader) Deleted() *roaring.Bitmap { return r.deleted }

// IsDeleted reports whether a local doc id is deleted.
func (r *Reader) IsDeleted(docID uint32) bool {
	return r.deleted != nil && r.deleted.Contains(docID)
}

// DictValue looks up the dictionary entry for (field, term).
func (r *Reader) DictValue(field, term string) (DictValue, bool, error) {
	raw, ok, err := r.dict.Get(TermKey(field, term))
	if err != nil || !ok {
		return DictValue{}, false, err
	}
	v, err := DecodeDictValue(raw)
	if err != nil {
		return DictValue{}, false, err
	}
	return v, true, nil
}

// Postings opens a postings iterator for (field, term). ok is false when
// the term is absent from this segment.
func (r *Reader) Postings(field, term string) (*postings.Iterator, bool, error) {
	v, ok, err := r.DictValue(field, term)
	if err != nil || !ok {
		return nil, false, err
	}
	it, err := r.postingsAt(v)
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

// postingsAt opens an iterator over the postings a dictionary value points
// at.
func (r *Reader) postingsAt(v DictValue) (*postings.Iterator, error) {
	end := v.PostOffset + v.PostLen
	if end > uint64(len(r.post)) || v.PostOffset < fileio.HeaderSize {
		return nil, apperrors.Corruptf("postings pointer %d+%d outside file of %d bytes", v.PostOffset, v.PostLen, len(r.post))
	}
	return postings.NewIterator(r.post[v.PostOffset:end])
}

// Terms returns a cursor over the segment's dictionary entries for one
// field, in term order. The cursor's values decode with DecodeDictValue.
func (r *Reader) Terms(field string) *table.Cursor {
	prefix := make([]byte, 0, len(field)+1)
	prefix = append(prefix, field...)
	prefix = append(prefix, 0)
	return r.dict.Scan(prefix)
}

// AllTerms returns a cursor over every dictionary entry in (field, term)
// order.
func (r *Reader) AllTerms() *table.Cursor {
	return r.dict.Scan(nil)
}

// StoredDoc returns the stored-field record of a local doc id.
func (r *Reader) StoredDoc(docID uint32) ([]byte, error) {
	if docID >= r.storedCount {
		return nil, fmt.Errorf("doc %d outside segment %d of %d docs", docID, r.id, r.storedCount)
	}
	sr := fileio.NewReader(r.stored)
	if err := sr.Seek(r.storedIndex + int64(docID)*8); err != nil {
		return nil, err
	}
	off, err := sr.Uint64()
	if err != nil {
		return nil, err
	}
	if err := sr.Seek(int64(off)); err != nil {
		return nil, err
	}
	return sr.Record()
}

// CachedValue returns the cached value of (field, doc id), avoiding a
// stored-record decode for sort and facet paths.
func (r *Reader) CachedValue(field string, docID uint32) ([]byte, bool, error) {
	return r.cache.Get(CacheKey(field, docID))
}

// Close unmaps and closes every component file.
func (r *Reader) Close() error {
	var first error
	for _, m := range r.maps {
		if err := m.Unmap(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.maps = nil
	r.files = nil
	return first
}
