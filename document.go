package tessera

import (
	"encoding/json"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Token is one analyzed term occurrence. Positions must be ascending
// within a field value.
type Token struct {
	Term     string
	Position uint32
}

// FieldValue is one field of a document: the verbatim value for storage
// plus the token stream the caller's analyzer produced.
type FieldValue struct {
	Name   string
	Value  string
	Tokens []Token
}

// Document is an ordered set of field values.
type Document struct {
	Fields []FieldValue
}

// Add appends a field value and returns the document for chaining.
func (d *Document) Add(fv FieldValue) *Document {
	d.Fields = append(d.Fields, fv)
	return d
}

// encodeStored packs a document's stored fields into its per-doc record.
func encodeStored(schema *Schema, doc *Document) ([]byte, error) {
	m := make(map[string]string)
	for _, fv := range doc.Fields {
		f, ok := schema.Field(fv.Name)
		if !ok || !f.Stored {
			continue
		}
		m[fv.Name] = fv.Value
	}
	return json.Marshal(m)
}

// decodeStored unpacks a stored record into field name to value.
func decodeStored(rec []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(rec, &m); err != nil {
		return nil, apperrors.Corruptf("decoding stored record: %v", err)
	}
	return m, nil
}
