package indexhandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/query"
)

func openHNSWHandler(t *testing.T, dims int) *HNSWHandler {
	t.Helper()
	h, err := OpenHNSWHandler(HNSWConfig{
		Directory:      t.TempDir(),
		FieldName:      "embedding",
		Dimensions:     dims,
		BlockSize:      64,
		EfConstruction: 64,
		EfSearch:       64,
		M:              8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func docWithVector(vec []float32) document.Document {
	return document.New(document.NewID(), map[string]document.Value{
		"embedding": document.VectorValue(vec),
	})
}

func TestHNSWHandlerIndexAndSearch(t *testing.T) {
	h := openHNSWHandler(t, 4)
	require.NoError(t, h.Index(100, docWithVector([]float32{1, 0, 0, 0})))
	require.NoError(t, h.Index(200, docWithVector([]float32{0, 1, 0, 0})))

	leaf, err := query.NewVectorSimilarLeaf("embedding", []float32{1, 0, 0, 0})
	require.NoError(t, err)

	matches, err := h.Search(leaf, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(100), matches[0].InternalID)
}

func TestHNSWHandlerIndexRejectsWrongFieldType(t *testing.T) {
	h := openHNSWHandler(t, 4)
	doc := document.New(document.NewID(), map[string]document.Value{
		"embedding": document.StringValue("not a vector"),
	})
	err := h.Index(1, doc)
	assert.Error(t, err)
}

func TestHNSWHandlerSearchRejectsNonVectorLeaf(t *testing.T) {
	h := openHNSWHandler(t, 4)
	leaf, err := query.NewStringLeaf("embedding", query.Equals, "x")
	require.NoError(t, err)

	_, err = h.Search(leaf, 5)
	assert.Error(t, err)
}

func TestHNSWHandlerRemoveIsNoOp(t *testing.T) {
	h := openHNSWHandler(t, 4)
	require.NoError(t, h.Index(1, docWithVector([]float32{1, 0, 0, 0})))
	assert.NoError(t, h.Remove(1))
}

func openStringHandler(t *testing.T) *StringHandler {
	t.Helper()
	h, err := OpenStringHandler(StringConfig{
		Directory:        t.TempDir(),
		FieldName:        "genre",
		DataSegmentSize:  4096,
		IndexSegmentSize: 4096,
		BucketCount:      16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func docWithGenre(genre string) document.Document {
	return document.New(document.NewID(), map[string]document.Value{
		"genre": document.StringValue(genre),
	})
}

func TestStringHandlerIndexAndEquals(t *testing.T) {
	h := openStringHandler(t)
	require.NoError(t, h.Index(1, docWithGenre("Sci-Fi")))
	require.NoError(t, h.Index(2, docWithGenre("Horror")))
	require.NoError(t, h.Index(3, docWithGenre("Sci-Fi")))

	leaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)

	matches, err := h.Search(leaf, 10)
	require.NoError(t, err)
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.InternalID
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestStringHandlerStartsWith(t *testing.T) {
	h := openStringHandler(t)
	require.NoError(t, h.Index(1, docWithGenre("Sci-Fi")))
	require.NoError(t, h.Index(2, docWithGenre("Science")))
	require.NoError(t, h.Index(3, docWithGenre("Horror")))

	leaf, err := query.NewStringLeaf("genre", query.StartsWith, "Sci")
	require.NoError(t, err)

	matches, err := h.Search(leaf, 10)
	require.NoError(t, err)
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.InternalID
	}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestStringHandlerIndexRejectsWrongFieldType(t *testing.T) {
	h := openStringHandler(t)
	doc := document.New(document.NewID(), map[string]document.Value{
		"genre": document.IntValue(5),
	})
	err := h.Index(1, doc)
	assert.Error(t, err)
}
