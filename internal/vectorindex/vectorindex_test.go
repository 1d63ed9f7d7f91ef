package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, dims, blockSize int) *VectorIndex {
	t.Helper()
	vi, err := Open(Config{
		Directory:  t.TempDir(),
		Dimensions: dims,
		BlockSize:  blockSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vi.Close() })
	return vi
}

func TestAddGetVectorRoundTrip(t *testing.T) {
	vi := open(t, 4, 8)
	vec := []float32{1, 2, 3, 4}

	id, err := vi.AddVector(vec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	got, err := vi.GetVector(id)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestAddVectorRejectsWrongDimensions(t *testing.T) {
	vi := open(t, 4, 8)
	_, err := vi.AddVector([]float32{1, 2})
	assert.Error(t, err)
}

func TestGetVectorRejectsOutOfRangeID(t *testing.T) {
	vi := open(t, 4, 8)
	_, err := vi.GetVector(5)
	assert.Error(t, err)
}

func TestVectorsSpanningMultiplePages(t *testing.T) {
	vi := open(t, 3, 4)

	var ids []int64
	for i := 0; i < 20; i++ {
		vec := []float32{float32(i), float32(i) * 2, float32(i) * 3}
		id, err := vi.AddVector(vec)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i, id := range ids {
		got, err := vi.GetVector(id)
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(i), float32(i) * 2, float32(i) * 3}, got)
	}
}

func TestSimilarityToQueryUsesCosine(t *testing.T) {
	vi := open(t, 2, 4)
	id, err := vi.AddVector([]float32{1, 0})
	require.NoError(t, err)

	sim, err := vi.SimilarityToQuery(id, []float32{1, 0}, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)

	sim, err = vi.SimilarityToQuery(id, []float32{0, 1}, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-6)
}

func TestSimilarityBetweenStoredVectors(t *testing.T) {
	vi := open(t, 2, 4)
	id1, err := vi.AddVector([]float32{1, 0})
	require.NoError(t, err)
	id2, err := vi.AddVector([]float32{1, 0})
	require.NoError(t, err)

	sim, err := vi.SimilarityBetween(id1, id2, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}
