package querysplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcanodb/axon/query"
)

type fakeRegistry map[string]bool

func (r fakeRegistry) IsIndexed(fieldName string) bool { return r[fieldName] }

func TestSplitIndexedLeafGoesToIndexTree(t *testing.T) {
	reg := fakeRegistry{"genre": true}
	leaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)

	result := Split(leaf, reg)
	assert.Equal(t, leaf, result.IndexTree)
	assert.Equal(t, query.MatchAll, result.ResidualTree)
}

func TestSplitNonIndexedLeafGoesToResidualTree(t *testing.T) {
	reg := fakeRegistry{}
	leaf, err := query.NewIntLeaf("year", query.GreaterThan, 1990)
	require.NoError(t, err)

	result := Split(leaf, reg)
	assert.Equal(t, query.MatchAll, result.IndexTree)
	assert.Equal(t, leaf, result.ResidualTree)
}

func TestSplitAndCombinesBothSides(t *testing.T) {
	reg := fakeRegistry{"embedding": true, "genre": true}
	vecLeaf, err := query.NewVectorSimilarLeaf("embedding", []float32{1, 0})
	require.NoError(t, err)
	genreLeaf, err := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	require.NoError(t, err)
	yearLeaf, err := query.NewIntLeaf("year", query.GreaterThan, 1990)
	require.NoError(t, err)

	tree := query.And{
		Left:  query.And{Left: vecLeaf, Right: genreLeaf},
		Right: yearLeaf,
	}

	result := Split(tree, reg)
	assert.Equal(t, query.And{Left: vecLeaf, Right: genreLeaf}, result.IndexTree)
	assert.Equal(t, yearLeaf, result.ResidualTree)
}

func TestSplitOrStaysWholeOnResidualSide(t *testing.T) {
	reg := fakeRegistry{"genre": true}
	a, _ := query.NewStringLeaf("genre", query.Equals, "Sci-Fi")
	b, _ := query.NewStringLeaf("genre", query.Equals, "Horror")
	tree := query.Or{Left: a, Right: b}

	result := Split(tree, reg)
	assert.Equal(t, query.MatchAll, result.IndexTree)
	assert.Equal(t, tree, result.ResidualTree)
}

func TestSplitNotStaysWholeOnResidualSide(t *testing.T) {
	reg := fakeRegistry{"genre": true}
	leaf, _ := query.NewStringLeaf("genre", query.Equals, "Horror")
	tree := query.Not{Child: leaf}

	result := Split(tree, reg)
	assert.Equal(t, query.MatchAll, result.IndexTree)
	assert.Equal(t, tree, result.ResidualTree)
}

func TestSplitMatchAllAndMatchNone(t *testing.T) {
	reg := fakeRegistry{}

	result := Split(query.MatchAll, reg)
	assert.Equal(t, query.MatchAll, result.IndexTree)
	assert.Equal(t, query.MatchAll, result.ResidualTree)

	result = Split(query.MatchNone, reg)
	assert.Equal(t, query.MatchNone, result.IndexTree)
}
