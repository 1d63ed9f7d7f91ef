package errors

import "github.com/vulcanodb/axon/document"

// TypeMismatchError is raised whenever a DataLog or KVStore entry is read
// back under a type tag different from the one it was written with, e.g.
// calling GetFloatArray on a key that holds a String value.
type TypeMismatchError struct {
	*baseError

	key      string
	offset   int64
	expected document.FieldType
	actual   document.FieldType
}

// NewTypeMismatchError creates a TypeMismatchError for the given key and
// the expected/actual field types observed at decode time.
func NewTypeMismatchError(key string, offset int64, expected, actual document.FieldType) *TypeMismatchError {
	return &TypeMismatchError{
		baseError: NewBaseError(nil, ErrorCodeTypeMismatch, "value type does not match requested type"),
		key:       key,
		offset:    offset,
		expected:  expected,
		actual:    actual,
	}
}

// WithDetail adds contextual information while preserving the TypeMismatchError type.
func (te *TypeMismatchError) WithDetail(key string, value any) *TypeMismatchError {
	te.baseError.WithDetail(key, value)
	return te
}

// Key returns the key whose value was decoded under the wrong tag.
func (te *TypeMismatchError) Key() string { return te.key }

// Offset returns the DataLog offset of the mismatched entry.
func (te *TypeMismatchError) Offset() int64 { return te.offset }

// Expected returns the field type the caller requested.
func (te *TypeMismatchError) Expected() document.FieldType { return te.expected }

// Actual returns the field type the entry was actually written with.
func (te *TypeMismatchError) Actual() document.FieldType { return te.actual }
