package querycompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/indexhandler"
	"github.com/vulcanodb/axon/query"
)

type fakeHandler struct {
	fieldName string
	matches   map[query.Operation][]indexhandler.IndexMatch
}

func (h *fakeHandler) FieldName() string { return h.fieldName }
func (h *fakeHandler) Index(int64, document.Document) error { return nil }
func (h *fakeHandler) Remove(int64) error { return nil }
func (h *fakeHandler) Flush() error { return nil }
func (h *fakeHandler) Close() error { return nil }

func (h *fakeHandler) Search(leaf query.Leaf, maxResults int) ([]indexhandler.IndexMatch, error) {
	matches := h.matches[leaf.Op]
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

type fakeHandlerLookup map[string]indexhandler.Handler

func (l fakeHandlerLookup) Get(fieldName string) (indexhandler.Handler, bool) {
	h, ok := l[fieldName]
	return h, ok
}

func allDocsOf(ids ...int64) AllDocsFunc {
	return func() ([]int64, error) { return ids, nil }
}

func TestIndexCompilerLeafRecordsScores(t *testing.T) {
	genreHandler := &fakeHandler{
		fieldName: "genre",
		matches: map[query.Operation][]indexhandler.IndexMatch{
			query.Equals: {{InternalID: 1, Score: 1.0}, {InternalID: 2, Score: 1.0}},
		},
	}
	lookup := fakeHandlerLookup{"genre": genreHandler}
	compiler := NewIndexCompiler(lookup, allDocsOf(), 0)

	leaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)

	op, err := compiler.Compile(leaf)
	require.NoError(t, err)

	ctx := NewExecutionContext()
	set, err := op(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{1, 2}, set.ToSlice())
	assert.Equal(t, float32(1.0), ctx.AverageScore(1))
}

func TestIndexCompilerLeafUnknownFieldErrors(t *testing.T) {
	compiler := NewIndexCompiler(fakeHandlerLookup{}, allDocsOf(), 0)
	leaf, err := query.NewIntLeaf("year", query.Equals, 1990)
	require.NoError(t, err)

	_, err = compiler.Compile(leaf)
	assert.Error(t, err)
}

func TestIndexCompilerAndIntersects(t *testing.T) {
	vecHandler := &fakeHandler{
		fieldName: "embedding",
		matches: map[query.Operation][]indexhandler.IndexMatch{
			query.VectorSimilar: {{InternalID: 1, Score: 0.9}, {InternalID: 2, Score: 0.8}},
		},
	}
	genreHandler := &fakeHandler{
		fieldName: "genre",
		matches: map[query.Operation][]indexhandler.IndexMatch{
			query.Equals: {{InternalID: 2, Score: 1.0}, {InternalID: 3, Score: 1.0}},
		},
	}
	lookup := fakeHandlerLookup{"embedding": vecHandler, "genre": genreHandler}
	compiler := NewIndexCompiler(lookup, allDocsOf(), 0)

	vecLeaf, err := query.NewVectorSimilarLeaf("embedding", []float32{1, 0})
	require.NoError(t, err)
	genreLeaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)

	op, err := compiler.Compile(query.And{Left: vecLeaf, Right: genreLeaf})
	require.NoError(t, err)

	set, err := op(NewExecutionContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2}, set.ToSlice())
}

func TestIndexCompilerOrUnions(t *testing.T) {
	a := &fakeHandler{fieldName: "a", matches: map[query.Operation][]indexhandler.IndexMatch{
		query.Equals: {{InternalID: 1, Score: 1.0}},
	}}
	b := &fakeHandler{fieldName: "b", matches: map[query.Operation][]indexhandler.IndexMatch{
		query.Equals: {{InternalID: 2, Score: 1.0}},
	}}
	lookup := fakeHandlerLookup{"a": a, "b": b}
	compiler := NewIndexCompiler(lookup, allDocsOf(), 0)

	leafA, _ := query.NewStringLeaf("a", query.Equals, "x")
	leafB, _ := query.NewStringLeaf("b", query.Equals, "y")

	op, err := compiler.Compile(query.Or{Left: leafA, Right: leafB})
	require.NoError(t, err)

	set, err := op(NewExecutionContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, set.ToSlice())
}

func TestIndexCompilerNotComplementsAllDocs(t *testing.T) {
	a := &fakeHandler{fieldName: "genre", matches: map[query.Operation][]indexhandler.IndexMatch{
		query.Equals: {{InternalID: 1, Score: 1.0}},
	}}
	lookup := fakeHandlerLookup{"genre": a}
	compiler := NewIndexCompiler(lookup, allDocsOf(1, 2, 3), 0)

	leaf, _ := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	op, err := compiler.Compile(query.Not{Child: leaf})
	require.NoError(t, err)

	set, err := op(NewExecutionContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, set.ToSlice())
}

func TestIndexCompilerMatchAllAndMatchNone(t *testing.T) {
	compiler := NewIndexCompiler(fakeHandlerLookup{}, allDocsOf(1, 2), 0)

	allOp, err := compiler.Compile(query.MatchAll)
	require.NoError(t, err)
	set, err := allOp(NewExecutionContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, set.ToSlice())

	noneOp, err := compiler.Compile(query.MatchNone)
	require.NoError(t, err)
	set, err = noneOp(NewExecutionContext())
	require.NoError(t, err)
	assert.Empty(t, set.ToSlice())
}
