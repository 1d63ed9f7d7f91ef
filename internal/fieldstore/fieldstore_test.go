package fieldstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
)

func open(t *testing.T) *FieldStore {
	t.Helper()
	fs, err := Open(Config{
		Directory:        t.TempDir(),
		DataSegmentSize:  4096,
		IndexSegmentSize: 4096,
		BucketCount:      16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := open(t)
	id := document.NewID()
	fields := map[string]document.Value{
		"title": document.StringValue("hello"),
		"rank":  document.IntValue(3),
		"embed": document.VectorValue([]float32{0.1, 0.2}),
	}

	require.NoError(t, fs.Write(id, fields))

	shape := document.Shape{
		"title": document.FieldTypeString,
		"rank":  document.FieldTypeInteger,
		"embed": document.FieldTypeVector,
	}
	got, err := fs.Read(id, shape)
	require.NoError(t, err)

	assert.Equal(t, "hello", got["title"].Str)
	assert.Equal(t, int32(3), got["rank"].Int)
	assert.Equal(t, []float32{0.1, 0.2}, got["embed"].Vector)
}

func TestWriteRejectsNonRectangularMatrix(t *testing.T) {
	fs := open(t)
	id := document.NewID()
	fields := map[string]document.Value{
		"mat": document.MatrixValue([][]float32{{1, 2}, {3}}),
	}

	err := fs.Write(id, fields)
	assert.Error(t, err)
}

func TestWriteReadRoundTripWithBoundedConcurrency(t *testing.T) {
	fs, err := Open(Config{
		Directory:         t.TempDir(),
		DataSegmentSize:   4096,
		IndexSegmentSize:  4096,
		BucketCount:       16,
		WriterConcurrency: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	id := document.NewID()
	fields := map[string]document.Value{
		"title": document.StringValue("hello"),
		"rank":  document.IntValue(3),
	}
	require.NoError(t, fs.Write(id, fields))

	shape := document.Shape{"title": document.FieldTypeString, "rank": document.FieldTypeInteger}
	got, err := fs.Read(id, shape)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["title"].Str)
	assert.Equal(t, int32(3), got["rank"].Int)
}

func TestRemoveDeletesAllFields(t *testing.T) {
	fs := open(t)
	id := document.NewID()
	fields := map[string]document.Value{
		"a": document.StringValue("x"),
		"b": document.IntValue(1),
	}
	require.NoError(t, fs.Write(id, fields))

	shape := document.Shape{
		"a": document.FieldTypeString,
		"b": document.FieldTypeInteger,
	}
	require.NoError(t, fs.Remove(id, shape))

	got, err := fs.Read(id, shape)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDifferentFieldsUseIndependentStores(t *testing.T) {
	fs := open(t)
	id1 := document.NewID()
	id2 := document.NewID()

	require.NoError(t, fs.Write(id1, map[string]document.Value{"name": document.StringValue("a")}))
	require.NoError(t, fs.Write(id2, map[string]document.Value{"name": document.StringValue("b")}))

	shape := document.Shape{"name": document.FieldTypeString}
	got1, err := fs.Read(id1, shape)
	require.NoError(t, err)
	got2, err := fs.Read(id2, shape)
	require.NoError(t, err)

	assert.Equal(t, "a", got1["name"].Str)
	assert.Equal(t, "b", got2["name"].Str)
}
