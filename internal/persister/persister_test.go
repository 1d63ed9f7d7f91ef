package persister

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
)

func open(t *testing.T) *DocumentPersister {
	t.Helper()
	p, err := Open(Config{
		Directory:        t.TempDir(),
		DataSegmentSize:  4096,
		IndexSegmentSize: 4096,
		BucketCount:      16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestWriteReadByDocumentID(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"title": document.StringValue("moby dick"),
		"pages": document.IntValue(600),
	})

	result := p.Write(doc)
	require.True(t, result.OK(), "write failed: %v", result.Err)

	got, ok, err := p.ReadByDocumentID(doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "moby dick", got.Fields["title"].Str)
	assert.Equal(t, int32(600), got.Fields["pages"].Int)
}

func TestReadByInternalID(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"name": document.StringValue("x"),
	})

	result := p.Write(doc)
	require.True(t, result.OK())

	got, err := p.ReadByInternalID(result.InternalID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "x", got.Fields["name"].Str)
}

func TestWriteDoesNotCommitShapeOnFieldFailure(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"bad": document.MatrixValue([][]float32{{1, 2}, {3}}),
	})

	result := p.Write(doc)
	assert.False(t, result.OK())

	_, ok, err := p.ReadByDocumentID(doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveDeletesDocument(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"name": document.StringValue("gone"),
	})
	result := p.Write(doc)
	require.True(t, result.OK())

	require.NoError(t, p.Remove(doc.ID))

	_, ok, err := p.ReadByDocumentID(doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadUnknownDocumentNotFound(t *testing.T) {
	p := open(t)
	_, ok, err := p.ReadByDocumentID(document.NewID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsOnLiveInternalID(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"name": document.StringValue("alive"),
	})
	result := p.Write(doc)
	require.True(t, result.OK())

	exists, err := p.Exists(result.InternalID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExistsFalseAfterRemove(t *testing.T) {
	p := open(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"name": document.StringValue("gone"),
	})
	result := p.Write(doc)
	require.True(t, result.OK())

	require.NoError(t, p.Remove(doc.ID))

	exists, err := p.Exists(result.InternalID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExistsFalseForSupersededInternalID(t *testing.T) {
	p := open(t)
	id := document.NewID()
	first := p.Write(document.New(id, map[string]document.Value{
		"name": document.StringValue("v1"),
	}))
	require.True(t, first.OK())

	second := p.Write(document.New(id, map[string]document.Value{
		"name": document.StringValue("v2"),
	}))
	require.True(t, second.OK())

	stale, err := p.Exists(first.InternalID)
	require.NoError(t, err)
	assert.False(t, stale)

	current, err := p.Exists(second.InternalID)
	require.NoError(t, err)
	assert.True(t, current)
}
