package hnsw

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, dims int) *Index {
	t.Helper()
	idx, err := Open(Config{
		Directory:      t.TempDir(),
		Dimensions:     dims,
		BlockSize:      64,
		EfConstruction: 64,
		EfSearch:       64,
		M:              8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestInsertSingleVectorBecomesSearchable(t *testing.T) {
	idx := open(t, 4)
	id, err := idx.Insert([]float32{1, 0, 0, 0})
	require.NoError(t, err)

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
}

func TestSearchEmptyIndexReturnsNoMatches(t *testing.T) {
	idx := open(t, 4)
	matches, err := idx.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestInsertRejectsWrongDimensions(t *testing.T) {
	idx := open(t, 4)
	_, err := idx.Insert([]float32{1, 2})
	assert.Error(t, err)
}

func TestSearchFindsNearestAmongManyVectors(t *testing.T) {
	idx := open(t, 8)
	r := rand.New(rand.NewSource(42))

	target := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	targetID, err := idx.Insert(target)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		vec := randomUnitVector(r, 8)
		_, err := idx.Insert(vec)
		require.NoError(t, err)
	}

	matches, err := idx.Search(target, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	found := false
	for _, m := range matches {
		if m.ID == targetID {
			found = true
		}
	}
	assert.True(t, found, "exact match for the query vector should be in the top-5 result")
}

func TestSearchResultsAreSortedByScoreDescending(t *testing.T) {
	idx := open(t, 4)
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		vec := randomUnitVector(r, 4)
		_, err := idx.Insert(vec)
		require.NoError(t, err)
	}

	matches, err := idx.Search([]float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func randomUnitVector(r *rand.Rand, dims int) []float32 {
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		v := r.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
