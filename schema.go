// Package tessera is an embeddable full-text search engine: documents go
// in through a single-writer session that builds immutable on-disk
// segments, and queries run against snapshot readers through a
// composable matcher algebra. The engine consumes already-tokenized
// field values and already-built matcher trees; analysis and query
// parsing belong to the caller.
package tessera

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/mchaput/tessera/internal/fileio"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// SchemaFilename is the schema file inside the index directory.
const SchemaFilename = "schema"

// Field declares how one named field is handled.
type Field struct {
	// Name identifies the field. Names must be unique within a schema and
	// must not contain a NUL byte, which separates field from term in
	// dictionary keys.
	Name string `json:"name"`

	// Indexed fields contribute postings and are searchable.
	Indexed bool `json:"indexed"`

	// Stored fields are kept verbatim and returned by StoredFields.
	Stored bool `json:"stored"`

	// Positions records token positions in the postings, enabling phrase
	// matching on the field.
	Positions bool `json:"positions"`

	// Cached fields keep their value in the per-segment field cache for
	// sorting and faceting without a stored-record decode.
	Cached bool `json:"cached"`
}

// Schema is the immutable field declaration set of an index.
type Schema struct {
	fields []Field
	byName map[string]int
}

// NewSchema validates the field declarations and builds a schema.
func NewSchema(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema needs at least one field")
	}
	s := &Schema{fields: fields, byName: make(map[string]int, len(fields))}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema field %d has no name", i)
		}
		for _, c := range []byte(f.Name) {
			if c == 0 {
				return nil, fmt.Errorf("field name %q contains NUL", f.Name)
			}
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		if f.Positions && !f.Indexed {
			return nil, fmt.Errorf("field %q has positions but is not indexed", f.Name)
		}
		s.byName[f.Name] = i
	}
	return s, nil
}

// Fields returns the declarations in declaration order.
func (s *Schema) Fields() []Field { return s.fields }

// Field looks a declaration up by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Positional reports whether a field records token positions.
func (s *Schema) Positional(name string) bool {
	f, ok := s.Field(name)
	return ok && f.Positions
}

// Fingerprint hashes the schema's canonical form. The TOC records it so an
// index opened with a different schema is rejected instead of misread.
func (s *Schema) Fingerprint() uint64 {
	h := xxhash.New()
	var flags [1]byte
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s.fields)))
	h.Write(n[:])
	for _, f := range s.fields {
		h.WriteString(f.Name)
		h.Write([]byte{0})
		flags[0] = 0
		if f.Indexed {
			flags[0] |= 1
		}
		if f.Stored {
			flags[0] |= 2
		}
		if f.Positions {
			flags[0] |= 4
		}
		if f.Cached {
			flags[0] |= 8
		}
		h.Write(flags[:])
	}
	return h.Sum64()
}

// writeSchemaFile persists the schema beside the TOC: header plus one
// checksummed JSON record, written once at Create.
func writeSchemaFile(dir string, s *Schema) error {
	body, err := json.Marshal(s.fields)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	path := filepath.Join(dir, SchemaFilename)
	tmp := path + ".tmp"
	w, err := fileio.Create(tmp)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(fileio.KindSchema); err != nil {
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
	return os.Rename(tmp, path)
}

// loadSchemaFile reads the schema written by writeSchemaFile.
func loadSchemaFile(dir string) (*Schema, error) {
	data, err := os.ReadFile(filepath.Join(dir, SchemaFilename))
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	r := fileio.NewReader(data)
	if err := r.CheckHeader(fileio.KindSchema); err != nil {
		return nil, err
	}
	body, err := r.Record()
	if err != nil {
		return nil, err
	}
	var fields []Field
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apperrors.Corruptf("decoding schema: %v", err)
	}
	return NewSchema(fields...)
}
