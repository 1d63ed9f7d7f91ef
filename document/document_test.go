package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseIDRejectsGarbage(t *testing.T) {
	_, err := ParseID("not-a-uuid")
	assert.Error(t, err)
}

func TestFieldTypeString(t *testing.T) {
	tests := []struct {
		name string
		ft   FieldType
		want string
	}{
		{"string", FieldTypeString, "string"},
		{"integer", FieldTypeInteger, "integer"},
		{"vector", FieldTypeVector, "vector"},
		{"matrix", FieldTypeMatrix, "matrix"},
		{"unknown", FieldType(255), "unknown(255)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ft.String())
		})
	}
}

func TestValueIsRectangular(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"empty matrix", MatrixValue(nil), true},
		{"rectangular", MatrixValue([][]float32{{1, 2}, {3, 4}}), true},
		{"ragged", MatrixValue([][]float32{{1, 2}, {3}}), false},
		{"non-matrix value", IntValue(5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.IsRectangular())
		})
	}
}

func TestShapeOf(t *testing.T) {
	doc := New(NewID(), map[string]Value{
		"title":     StringValue("hello"),
		"embedding": VectorValue([]float32{1, 2, 3}),
	})

	shape := ShapeOf(doc)
	assert.Equal(t, FieldTypeString, shape["title"])
	assert.Equal(t, FieldTypeVector, shape["embedding"])
	assert.Len(t, shape, 2)
}

func TestSanitizeFieldName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "field_name.v1", "field_name.v1"},
		{"spaces and slashes", "my field/name", "my_field_name"},
		{"unicode", "Ünïcode", "_n_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFieldName(tt.in))
		})
	}
}
