// Package document defines Axon's schemaless document model: the closed set
// of field value types, document identifiers, and the shape (field name to
// field type mapping) persisted alongside every document. It is intentionally
// free of any dependency on the rest of the module so that lower layers
// (errors, persister, indexes) can all import it without risking a cycle.
package document

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is a document's externally-visible 128-bit identifier. Two documents
// sharing an ID are the same logical document; writing one replaces the
// other.
type ID uuid.UUID

// NewID generates a new random document ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("document: invalid id %q: %w", s, err)
	}
	return ID(u), nil
}

// String returns the canonical hyphenated UUID representation.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// FieldType enumerates the closed set of value types a document field may hold.
type FieldType uint8

const (
	// FieldTypeString marks a UTF-8 string value.
	FieldTypeString FieldType = iota + 1
	// FieldTypeInteger marks a 32-bit signed integer value.
	FieldTypeInteger
	// FieldTypeVector marks a finite sequence of 32-bit floats.
	FieldTypeVector
	// FieldTypeMatrix marks a rectangular (all rows the same length) sequence of float32 rows.
	FieldTypeMatrix
)

// String renders the field type's canonical name, also used as the
// on-disk directory component of a FieldStore path.
func (ft FieldType) String() string {
	switch ft {
	case FieldTypeString:
		return "string"
	case FieldTypeInteger:
		return "integer"
	case FieldTypeVector:
		return "vector"
	case FieldTypeMatrix:
		return "matrix"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(ft))
	}
}

// Value is the typed payload of a single document field. Exactly one of the
// fields is meaningful, selected by Type.
type Value struct {
	Type   FieldType
	Str    string
	Int    int32
	Vector []float32
	Matrix [][]float32
}

// StringValue constructs a Value carrying a string.
func StringValue(s string) Value { return Value{Type: FieldTypeString, Str: s} }

// IntValue constructs a Value carrying a 32-bit signed integer.
func IntValue(i int32) Value { return Value{Type: FieldTypeInteger, Int: i} }

// VectorValue constructs a Value carrying a dense float vector.
func VectorValue(v []float32) Value { return Value{Type: FieldTypeVector, Vector: v} }

// MatrixValue constructs a Value carrying a rectangular float matrix. It does
// not itself validate rectangularity -- callers writing through the
// persister get that check for free, but a Value can be built by hand (e.g.
// in tests) without it.
func MatrixValue(m [][]float32) Value { return Value{Type: FieldTypeMatrix, Matrix: m} }

// IsRectangular reports whether a Matrix value's rows are all the same
// length. Meaningless for non-Matrix values, which always report true.
func (v Value) IsRectangular() bool {
	if v.Type != FieldTypeMatrix || len(v.Matrix) == 0 {
		return true
	}
	width := len(v.Matrix[0])
	for _, row := range v.Matrix[1:] {
		if len(row) != width {
			return false
		}
	}
	return true
}

// Document is an immutable, schemaless bag of named field values keyed by ID.
type Document struct {
	ID     ID
	Fields map[string]Value
}

// New builds a Document from an id and its field values.
func New(id ID, fields map[string]Value) Document {
	return Document{ID: id, Fields: fields}
}

// Shape is the serialized fieldName -> fieldType mapping stored in the
// dictionary so a document can be fully reconstructed from per-field stores
// without retaining the values themselves in memory.
type Shape map[string]FieldType

// ShapeOf derives the Shape of a Document.
func ShapeOf(doc Document) Shape {
	shape := make(Shape, len(doc.Fields))
	for name, v := range doc.Fields {
		shape[name] = v.Type
	}
	return shape
}

// SanitizeFieldName replaces any character outside [A-Za-z0-9._] with '_',
// matching the FieldStore path convention.
func SanitizeFieldName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
