package querycompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/vectorindex"
	"github.com/vulcanodb/axon/query"
)

type fakeReader map[int64]document.Document

func (r fakeReader) ReadByInternalID(internalID int64) (document.Document, error) {
	doc, ok := r[internalID]
	if !ok {
		return document.Document{}, assert.AnError
	}
	return doc, nil
}

func docWithFields(fields map[string]document.Value) document.Document {
	return document.New(document.NewID(), fields)
}

func TestResidualCompilerLeafEquals(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"year": document.IntValue(1999)}),
	}
	compiler := NewResidualCompiler(nil)
	leaf, err := query.NewIntLeaf("year", query.Equals, 1999)
	require.NoError(t, err)

	matcher, err := compiler.Compile(leaf)
	require.NoError(t, err)

	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
}

func TestResidualCompilerLeafGreaterThan(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"year": document.IntValue(1990)}),
	}
	compiler := NewResidualCompiler(nil)
	leaf, err := query.NewIntLeaf("year", query.GreaterThan, 2000)
	require.NoError(t, err)

	matcher, err := compiler.Compile(leaf)
	require.NoError(t, err)

	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.False(t, result.Matches)
}

func TestResidualCompilerLeafStringOperations(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"title": document.StringValue("Interstellar")}),
	}
	compiler := NewResidualCompiler(nil)

	starts, err := query.NewStringLeaf("title", query.StartsWith, "Inter")
	require.NoError(t, err)
	matcher, err := compiler.Compile(starts)
	require.NoError(t, err)
	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)

	ends, err := query.NewStringLeaf("title", query.EndsWith, "lar")
	require.NoError(t, err)
	matcher, err = compiler.Compile(ends)
	require.NoError(t, err)
	result, err = matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)

	contains, err := query.NewStringLeaf("title", query.Contains, "stell")
	require.NoError(t, err)
	matcher, err = compiler.Compile(contains)
	require.NoError(t, err)
	result, err = matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
}

func TestResidualCompilerLeafMissingFieldDoesNotMatch(t *testing.T) {
	reader := fakeReader{1: docWithFields(map[string]document.Value{})}
	compiler := NewResidualCompiler(nil)
	leaf, err := query.NewIntLeaf("year", query.Equals, 1999)
	require.NoError(t, err)

	matcher, err := compiler.Compile(leaf)
	require.NoError(t, err)
	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.False(t, result.Matches)
}

func TestResidualCompilerLeafVectorSimilarScoresByMetric(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"embedding": document.VectorValue([]float32{1, 0})}),
	}
	compiler := NewResidualCompiler(vectorindex.Cosine)
	leaf, err := query.NewVectorSimilarLeaf("embedding", []float32{1, 0})
	require.NoError(t, err)

	matcher, err := compiler.Compile(leaf)
	require.NoError(t, err)
	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
	assert.InDelta(t, 1.0, result.Score, 0.0001)
}

func TestResidualCompilerAndShortCircuitsAndAveragesScore(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{
			"year":  document.IntValue(1999),
			"genre": document.StringValue("Sci-Fi"),
		}),
		2: docWithFields(map[string]document.Value{
			"year":  document.IntValue(1980),
			"genre": document.StringValue("Sci-Fi"),
		}),
	}
	compiler := NewResidualCompiler(nil)
	yearLeaf, err := query.NewIntLeaf("year", query.GreaterThan, 1990)
	require.NoError(t, err)
	genreLeaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)

	matcher, err := compiler.Compile(query.And{Left: yearLeaf, Right: genreLeaf})
	require.NoError(t, err)

	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
	assert.InDelta(t, 1.0, result.Score, 0.0001)

	result, err = matcher(2, reader)
	require.NoError(t, err)
	assert.False(t, result.Matches)
}

func TestResidualCompilerOrShortCircuitsOnLeftMatch(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"genre": document.StringValue("Sci-Fi")}),
	}
	compiler := NewResidualCompiler(nil)
	a, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)
	b, err := query.NewStringLeaf("genre", query.Equals, "Horror")
	require.NoError(t, err)

	matcher, err := compiler.Compile(query.Or{Left: a, Right: b})
	require.NoError(t, err)

	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
}

func TestResidualCompilerNotInvertsMatch(t *testing.T) {
	reader := fakeReader{
		1: docWithFields(map[string]document.Value{"genre": document.StringValue("Sci-Fi")}),
	}
	compiler := NewResidualCompiler(nil)
	leaf, err := query.NewStringLeaf("genre", query.Equals, "Horror")
	require.NoError(t, err)

	matcher, err := compiler.Compile(query.Not{Child: leaf})
	require.NoError(t, err)

	result, err := matcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)
}

func TestResidualCompilerMatchAllAndMatchNone(t *testing.T) {
	reader := fakeReader{1: docWithFields(map[string]document.Value{})}
	compiler := NewResidualCompiler(nil)

	allMatcher, err := compiler.Compile(query.MatchAll)
	require.NoError(t, err)
	result, err := allMatcher(1, reader)
	require.NoError(t, err)
	assert.True(t, result.Matches)

	noneMatcher, err := compiler.Compile(query.MatchNone)
	require.NoError(t, err)
	result, err = noneMatcher(1, reader)
	require.NoError(t, err)
	assert.False(t, result.Matches)
}
